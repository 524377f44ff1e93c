package emu

// loadStoreInstructions covers LB/LBU/LH/LHU/LW/LWU and SB/SH/SW. LWU has
// no sign-extension distinction from LW in a 32-bit register file, but
// spec.md §4.1 names it explicitly as part of the base load set, so it is
// kept as a distinct decode entry reusing LW's semantics.
func loadStoreInstructions() []Instruction {
	return []Instruction{
		entry(0x0000707f, 0x00000003, "lb", execLb),
		entry(0x0000707f, 0x00001003, "lh", execLh),
		entry(0x0000707f, 0x00002003, "lw", execLw),
		entry(0x0000707f, 0x00004003, "lbu", execLbu),
		entry(0x0000707f, 0x00005003, "lhu", execLhu),
		entry(0x0000707f, 0x00006003, "lwu", execLw),

		entry(0x0000707f, 0x00000023, "sb", execSb),
		entry(0x0000707f, 0x00001023, "sh", execSh),
		entry(0x0000707f, 0x00002023, "sw", execSw),
	}
}

// loadN reads size bytes starting at addr. Per spec.md §4.4/§8: accesses
// wholly within one 4 KiB page translate once (the fast path); accesses
// that straddle a page boundary decompose into per-byte operations, each
// independently translated.
func (h *Hart) loadN(addr uint32, size uint32) (uint32, *Trap) {
	if size > 1 && addr/PageSize == (addr+size-1)/PageSize {
		pa, trap := h.mmu.Translate(addr, AccessRead, h.privilege)
		if trap != nil {
			return 0, trap
		}
		switch size {
		case 2:
			return uint32(h.mem.ReadHalf(pa)), nil
		case 4:
			return h.mem.ReadWord(pa), nil
		}
	}
	if size == 1 {
		pa, trap := h.mmu.Translate(addr, AccessRead, h.privilege)
		if trap != nil {
			return 0, trap
		}
		return uint32(h.mem.ReadByte(pa)), nil
	}

	var v uint32
	for i := uint32(0); i < size; i++ {
		pa, trap := h.mmu.Translate(addr+i, AccessRead, h.privilege)
		if trap != nil {
			return 0, trap
		}
		v |= uint32(h.mem.ReadByte(pa)) << (8 * i)
	}
	return v, nil
}

// storeN is loadN's write counterpart.
func (h *Hart) storeN(addr uint32, size uint32, value uint32) *Trap {
	if size > 1 && addr/PageSize == (addr+size-1)/PageSize {
		pa, trap := h.mmu.Translate(addr, AccessWrite, h.privilege)
		if trap != nil {
			return trap
		}
		switch size {
		case 2:
			h.mem.WriteHalf(pa, uint16(value))
			return nil
		case 4:
			h.mem.WriteWord(pa, value)
			return nil
		}
	}
	if size == 1 {
		pa, trap := h.mmu.Translate(addr, AccessWrite, h.privilege)
		if trap != nil {
			return trap
		}
		h.mem.WriteByte(pa, uint8(value))
		return nil
	}
	for i := uint32(0); i < size; i++ {
		pa, trap := h.mmu.Translate(addr+i, AccessWrite, h.privilege)
		if trap != nil {
			return trap
		}
		h.mem.WriteByte(pa, uint8(value>>(8*i)))
	}
	return nil
}

func loadAddr(h *Hart, w uint32) uint32 { return h.ReadX(fieldRs1(w)) + immI(w) }
func storeAddr(h *Hart, w uint32) uint32 { return h.ReadX(fieldRs1(w)) + immS(w) }

func execLb(h *Hart, w, pc uint32) *Trap {
	v, trap := h.loadN(loadAddr(h, w), 1)
	if trap != nil {
		return trap
	}
	h.WriteX(fieldRd(w), signExtend(v, 8))
	return nil
}
func execLbu(h *Hart, w, pc uint32) *Trap {
	v, trap := h.loadN(loadAddr(h, w), 1)
	if trap != nil {
		return trap
	}
	h.WriteX(fieldRd(w), v)
	return nil
}
func execLh(h *Hart, w, pc uint32) *Trap {
	v, trap := h.loadN(loadAddr(h, w), 2)
	if trap != nil {
		return trap
	}
	h.WriteX(fieldRd(w), signExtend(v, 16))
	return nil
}
func execLhu(h *Hart, w, pc uint32) *Trap {
	v, trap := h.loadN(loadAddr(h, w), 2)
	if trap != nil {
		return trap
	}
	h.WriteX(fieldRd(w), v)
	return nil
}
func execLw(h *Hart, w, pc uint32) *Trap {
	v, trap := h.loadN(loadAddr(h, w), 4)
	if trap != nil {
		return trap
	}
	h.WriteX(fieldRd(w), v)
	return nil
}

func execSb(h *Hart, w, pc uint32) *Trap {
	return h.storeN(storeAddr(h, w), 1, h.ReadX(fieldRs2(w)))
}
func execSh(h *Hart, w, pc uint32) *Trap {
	return h.storeN(storeAddr(h, w), 2, h.ReadX(fieldRs2(w)))
}
func execSw(h *Hart, w, pc uint32) *Trap {
	return h.storeN(storeAddr(h, w), 4, h.ReadX(fieldRs2(w)))
}
