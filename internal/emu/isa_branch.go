package emu

// branchInstructions covers BEQ/BNE/BLT/BGE/BLTU/BGEU and JAL/JALR.
//
// By the time execute(h, word, pc) runs, h.PC() already holds the address
// of the next sequential instruction (the fetch/decode step already
// advanced it by 2 or 4); pc is the original, pre-increment address of the
// instruction being executed (spec.md §4.2 step 4: "passing the original
// (pre-increment) PC for branch/JAL base"). So: jump/branch targets are
// computed from pc, and link-register values (the return address) are
// simply h.PC(), the address already sitting there.
func branchInstructions() []Instruction {
	return []Instruction{
		entry(0x0000707f, 0x00000063, "beq", execBeq),
		entry(0x0000707f, 0x00001063, "bne", execBne),
		entry(0x0000707f, 0x00004063, "blt", execBlt),
		entry(0x0000707f, 0x00005063, "bge", execBge),
		entry(0x0000707f, 0x00006063, "bltu", execBltu),
		entry(0x0000707f, 0x00007063, "bgeu", execBgeu),

		entry(0x0000007f, 0x0000006f, "jal", execJal),
		entry(0x0000707f, 0x00000067, "jalr", execJalr),
	}
}

func execBranch(h *Hart, w, pc uint32, taken bool) *Trap {
	if taken {
		h.SetPC(pc + immB(w))
	}
	return nil
}

func execBeq(h *Hart, w, pc uint32) *Trap {
	return execBranch(h, w, pc, h.ReadX(fieldRs1(w)) == h.ReadX(fieldRs2(w)))
}
func execBne(h *Hart, w, pc uint32) *Trap {
	return execBranch(h, w, pc, h.ReadX(fieldRs1(w)) != h.ReadX(fieldRs2(w)))
}
func execBlt(h *Hart, w, pc uint32) *Trap {
	return execBranch(h, w, pc, int32(h.ReadX(fieldRs1(w))) < int32(h.ReadX(fieldRs2(w))))
}
func execBge(h *Hart, w, pc uint32) *Trap {
	return execBranch(h, w, pc, int32(h.ReadX(fieldRs1(w))) >= int32(h.ReadX(fieldRs2(w))))
}
func execBltu(h *Hart, w, pc uint32) *Trap {
	return execBranch(h, w, pc, h.ReadX(fieldRs1(w)) < h.ReadX(fieldRs2(w)))
}
func execBgeu(h *Hart, w, pc uint32) *Trap {
	return execBranch(h, w, pc, h.ReadX(fieldRs1(w)) >= h.ReadX(fieldRs2(w)))
}

func execJal(h *Hart, w, pc uint32) *Trap {
	link := h.PC()
	h.SetPC(pc + immJ(w))
	h.WriteX(fieldRd(w), link)
	return nil
}

func execJalr(h *Hart, w, pc uint32) *Trap {
	link := h.PC()
	target := (h.ReadX(fieldRs1(w)) + immI(w)) &^ 1
	h.SetPC(target)
	h.WriteX(fieldRd(w), link)
	return nil
}
