package emu

// systemInstructions covers the CSR family, FENCE/FENCE.I/SFENCE.VMA
// (all no-ops; spec.md §5: this emulator has no weaker-than-sequential
// memory model and no TLB shootdown to model), and ECALL/EBREAK/MRET/
// SRET/WFI.
func systemInstructions() []Instruction {
	return []Instruction{
		entry(0x0000707f, 0x00001073, "csrrw", execCsrrw),
		entry(0x0000707f, 0x00002073, "csrrs", execCsrrs),
		entry(0x0000707f, 0x00003073, "csrrc", execCsrrc),
		entry(0x0000707f, 0x00005073, "csrrwi", execCsrrwi),
		entry(0x0000707f, 0x00006073, "csrrsi", execCsrrsi),
		entry(0x0000707f, 0x00007073, "csrrci", execCsrrci),

		entry(0x0000707f, 0x0000000f, "fence", execNop),
		entry(0x0000707f, 0x0000100f, "fence.i", execNop),
		entry(0xfe007fff, 0x12000073, "sfence.vma", execNop),

		entry(0xffffffff, 0x00000073, "ecall", execEcall),
		entry(0xffffffff, 0x00100073, "ebreak", execEbreak),
		entry(0xffffffff, 0x30200073, "mret", execMret),
		entry(0xffffffff, 0x10200073, "sret", execSret),
		entry(0xffffffff, 0x10500073, "wfi", execWfi),
	}
}

func execNop(h *Hart, w, pc uint32) *Trap { return nil }

// csrExec is the shared read-modify-write shape of the six CSR
// instructions: read (privilege-checked), compute the new value from op,
// write back (privilege- and read-only-checked) unless the write would be
// a no-op per the standard's rs1==x0/uimm==0 elision, write old value to
// rd. Grounded on spec.md §4.1's "reads occur before writes; writes must
// honor privilege gates".
func csrExec(h *Hart, w, pc uint32, writes bool, op func(old uint32) uint32) *Trap {
	addr := w >> 20
	old, trap := h.csrReadChecked(addr, pc+4)
	if trap != nil {
		return trap
	}
	if writes {
		if trap := h.csrWriteChecked(addr, op(old), pc+4); trap != nil {
			return trap
		}
	}
	h.WriteX(fieldRd(w), old)
	return nil
}

func execCsrrw(h *Hart, w, pc uint32) *Trap {
	rs1 := h.ReadX(fieldRs1(w))
	return csrExec(h, w, pc, true, func(uint32) uint32 { return rs1 })
}
func execCsrrs(h *Hart, w, pc uint32) *Trap {
	rs1 := h.ReadX(fieldRs1(w))
	return csrExec(h, w, pc, fieldRs1(w) != 0, func(old uint32) uint32 { return old | rs1 })
}
func execCsrrc(h *Hart, w, pc uint32) *Trap {
	rs1 := h.ReadX(fieldRs1(w))
	return csrExec(h, w, pc, fieldRs1(w) != 0, func(old uint32) uint32 { return old &^ rs1 })
}
func execCsrrwi(h *Hart, w, pc uint32) *Trap {
	uimm := fieldRs1(w)
	return csrExec(h, w, pc, true, func(uint32) uint32 { return uimm })
}
func execCsrrsi(h *Hart, w, pc uint32) *Trap {
	uimm := fieldRs1(w)
	return csrExec(h, w, pc, uimm != 0, func(old uint32) uint32 { return old | uimm })
}
func execCsrrci(h *Hart, w, pc uint32) *Trap {
	uimm := fieldRs1(w)
	return csrExec(h, w, pc, uimm != 0, func(old uint32) uint32 { return old &^ uimm })
}

// execEcall asks the syscall bridge what to do (spec.md §4.3/§4.7): if
// the bridge wants the ordinary trap, raise EnvironmentCallFromX; if it
// exits or pauses the thread, stash that as a pending TickOutcome for
// Tick to return once tickOperate finishes.
func execEcall(h *Hart, w, pc uint32) *Trap {
	if h.bridge == nil {
		return &Trap{Kind: ecallCauseFor(h.privilege), Tval: pc}
	}
	outcome := h.bridge.HandleECALL(h)
	switch {
	case outcome.Exit:
		h.pending = &TickOutcome{Kind: TickExitThread, ExitCode: outcome.ExitCode}
	case outcome.Pause != nil:
		h.pending = &TickOutcome{Kind: TickPauseEmulation, Pause: outcome.Pause}
	case outcome.Continue:
		return &Trap{Kind: ecallCauseFor(h.privilege), Tval: pc}
	}
	return nil
}

func ecallCauseFor(p PrivilegeMode) TrapKind {
	switch p {
	case PrivilegeMachine:
		return EnvironmentCallFromM
	case PrivilegeSupervisor:
		return EnvironmentCallFromS
	default:
		return EnvironmentCallFromU
	}
}

func execEbreak(h *Hart, w, pc uint32) *Trap {
	return &Trap{Kind: Breakpoint, Tval: pc}
}

func execMret(h *Hart, w, pc uint32) *Trap {
	if h.privilege != PrivilegeMachine {
		return &Trap{Kind: IllegalInstruction, Tval: pc}
	}
	h.Mret()
	return nil
}

func execSret(h *Hart, w, pc uint32) *Trap {
	if h.privilege != PrivilegeMachine && h.privilege != PrivilegeSupervisor {
		return &Trap{Kind: IllegalInstruction, Tval: pc}
	}
	h.Sret()
	return nil
}

func execWfi(h *Hart, w, pc uint32) *Trap {
	h.wfi = true
	return nil
}
