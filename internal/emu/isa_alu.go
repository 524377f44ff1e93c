package emu

// aluInstructions covers ADD/ADDI/SUB, AND/ANDI/OR/ORI/XOR/XORI,
// SLL/SLLI/SRL/SRLI/SRA/SRAI, SLT/SLTI/SLTU/SLTIU, and LUI/AUIPC — the
// base-integer ALU subset of spec.md §4.1's instruction list.
func aluInstructions() []Instruction {
	return []Instruction{
		entry(0xfe00707f, 0x00000033, "add", execAdd),
		entry(0xfe00707f, 0x40000033, "sub", execSub),
		entry(0xfe00707f, 0x00004033, "xor", execXor),
		entry(0xfe00707f, 0x00006033, "or", execOr),
		entry(0xfe00707f, 0x00007033, "and", execAnd),
		entry(0xfe00707f, 0x00001033, "sll", execSll),
		entry(0xfe00707f, 0x00005033, "srl", execSrl),
		entry(0xfe00707f, 0x40005033, "sra", execSra),
		entry(0xfe00707f, 0x00002033, "slt", execSlt),
		entry(0xfe00707f, 0x00003033, "sltu", execSltu),

		entry(0x0000707f, 0x00000013, "addi", execAddi),
		entry(0x0000707f, 0x00004013, "xori", execXori),
		entry(0x0000707f, 0x00006013, "ori", execOri),
		entry(0x0000707f, 0x00007013, "andi", execAndi),
		entry(0xfe00707f, 0x00001013, "slli", execSlli),
		entry(0xfe00707f, 0x00005013, "srli", execSrli),
		entry(0xfe00707f, 0x40005013, "srai", execSrai),
		entry(0x0000707f, 0x00002013, "slti", execSlti),
		entry(0x0000707f, 0x00003013, "sltiu", execSltiu),

		entry(0x0000007f, 0x00000037, "lui", execLui),
		entry(0x0000007f, 0x00000017, "auipc", execAuipc),
	}
}

func execAdd(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))+h.ReadX(fieldRs2(w)))
	return nil
}
func execSub(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))-h.ReadX(fieldRs2(w)))
	return nil
}
func execXor(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))^h.ReadX(fieldRs2(w)))
	return nil
}
func execOr(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))|h.ReadX(fieldRs2(w)))
	return nil
}
func execAnd(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))&h.ReadX(fieldRs2(w)))
	return nil
}
func execSll(h *Hart, w, pc uint32) *Trap {
	shamt := h.ReadX(fieldRs2(w)) & 0x1f
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))<<shamt)
	return nil
}
func execSrl(h *Hart, w, pc uint32) *Trap {
	shamt := h.ReadX(fieldRs2(w)) & 0x1f
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))>>shamt)
	return nil
}
func execSra(h *Hart, w, pc uint32) *Trap {
	shamt := h.ReadX(fieldRs2(w)) & 0x1f
	h.WriteX(fieldRd(w), uint32(int32(h.ReadX(fieldRs1(w)))>>shamt))
	return nil
}
func execSlt(h *Hart, w, pc uint32) *Trap {
	v := uint32(0)
	if int32(h.ReadX(fieldRs1(w))) < int32(h.ReadX(fieldRs2(w))) {
		v = 1
	}
	h.WriteX(fieldRd(w), v)
	return nil
}
func execSltu(h *Hart, w, pc uint32) *Trap {
	v := uint32(0)
	if h.ReadX(fieldRs1(w)) < h.ReadX(fieldRs2(w)) {
		v = 1
	}
	h.WriteX(fieldRd(w), v)
	return nil
}

func execAddi(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))+immI(w))
	return nil
}
func execXori(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))^immI(w))
	return nil
}
func execOri(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))|immI(w))
	return nil
}
func execAndi(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))&immI(w))
	return nil
}
func execSlli(h *Hart, w, pc uint32) *Trap {
	shamt := (w >> 20) & 0x1f
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))<<shamt)
	return nil
}
func execSrli(h *Hart, w, pc uint32) *Trap {
	shamt := (w >> 20) & 0x1f
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))>>shamt)
	return nil
}
func execSrai(h *Hart, w, pc uint32) *Trap {
	shamt := (w >> 20) & 0x1f
	h.WriteX(fieldRd(w), uint32(int32(h.ReadX(fieldRs1(w)))>>shamt))
	return nil
}
func execSlti(h *Hart, w, pc uint32) *Trap {
	v := uint32(0)
	if int32(h.ReadX(fieldRs1(w))) < int32(immI(w)) {
		v = 1
	}
	h.WriteX(fieldRd(w), v)
	return nil
}
func execSltiu(h *Hart, w, pc uint32) *Trap {
	v := uint32(0)
	if h.ReadX(fieldRs1(w)) < immI(w) {
		v = 1
	}
	h.WriteX(fieldRd(w), v)
	return nil
}

func execLui(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), immU(w))
	return nil
}
func execAuipc(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), pc+immU(w))
	return nil
}
