package emu

// Mip/Mie bit positions for the six interrupt sources this emulator
// implements (no user-level interrupts; spec.md §9 "Delegated privileges
// for User-mode interrupts").
const (
	mipSSIP = 1 << 1
	mipMSIP = 1 << 3
	mipSTIP = 1 << 5
	mipMTIP = 1 << 7
	mipSEIP = 1 << 9
	mipMEIP = 1 << 11
)

// interruptPriority lists the six interrupt sources in the priority order
// spec.md §4.3 mandates: MEI, MSI, MTI, SEI, SSI, STI. Grounded on
// original_source/.../cpu.rs::handle_interrupt, whose literal if-chain is
// in this same order, and cross-checked against the teacher's
// rv64/csr.go::CheckInterrupt (same ordering).
var interruptPriority = []struct {
	bit  uint32
	kind TrapKind
}{
	{mipMEIP, MachineExternalInterrupt},
	{mipMSIP, MachineSoftwareInterrupt},
	{mipMTIP, MachineTimerInterrupt},
	{mipSEIP, SupervisorExternalInterrupt},
	{mipSSIP, SupervisorSoftwareInterrupt},
	{mipSTIP, SupervisorTimerInterrupt},
}

// handleInterrupt evaluates pending interrupts in priority order and
// delivers the first one whose gating conditions are satisfied, clearing
// its xIP bit. Step (7) of spec.md §4.2.
func (h *Hart) handleInterrupt() {
	pending := h.csr[CSRMip] & h.csr[CSRMie]
	if pending == 0 {
		return
	}
	for _, src := range interruptPriority {
		if pending&src.bit == 0 {
			continue
		}
		if h.handleTrap(Trap{Kind: src.kind, Tval: h.pc}, h.pc, true) {
			h.csr[CSRMip] &^= src.bit
			h.wfi = false
			return
		}
	}
}

func privilegeEncoding(p PrivilegeMode) uint32 {
	switch p {
	case PrivilegeUser:
		return 0
	case PrivilegeSupervisor:
		return 1
	case PrivilegeMachine:
		return 3
	default:
		panic("emu: reserved privilege mode reached")
	}
}

// handleTrap implements spec.md §4.3's three-step delivery algorithm.
// Grounded on original_source/.../cpu.rs::handle_trap. Returns whether the
// trap was actually taken (an interrupt can be declined by gating; an
// exception is always taken).
func (h *Hart) handleTrap(trap Trap, instructionAddress uint32, isInterrupt bool) bool {
	currentEncoding := privilegeEncoding(h.privilege)
	cause := trap.Kind.Code()

	var deleg uint32
	if isInterrupt {
		deleg = h.csr[CSRMideleg]
	} else {
		deleg = h.csr[CSRMedeleg]
	}

	newPrivilege := PrivilegeMachine
	if (deleg>>cause)&1 != 0 {
		// spec.md: "delegated to S if the corresponding bit is set and
		// not further delegated (no U-level implemented for interrupts in
		// this emulator)."
		newPrivilege = PrivilegeSupervisor
	}
	newEncoding := privilegeEncoding(newPrivilege)

	if isInterrupt {
		if newEncoding < currentEncoding {
			return false
		}
		if newEncoding == currentEncoding {
			var ie bool
			switch h.privilege {
			case PrivilegeMachine:
				ie = h.csr[CSRMstatus]&mstatusMIEBit != 0
			case PrivilegeSupervisor:
				ie = h.csr[CSRMstatus]&mstatusSIEBit != 0
			default:
				return false
			}
			if !ie {
				return false
			}
		}
		var ieCSR uint32
		if newPrivilege == PrivilegeMachine {
			ieCSR = h.csr[CSRMie]
		} else {
			ieCSR = h.ReadCSR(CSRSie)
		}
		if ieCSR&sourceEnableBit(trap.Kind) == 0 {
			return false
		}
	}

	// The trap is taken.
	h.privilege = newPrivilege

	if newPrivilege == PrivilegeMachine {
		mstatus := h.csr[CSRMstatus]
		mpie := (mstatus & mstatusMIEBit) != 0
		mstatus &^= mstatusMPIEBit
		if mpie {
			mstatus |= mstatusMPIEBit
		}
		mstatus &^= mstatusMIEBit
		mstatus &^= mstatusMPPMask
		mstatus |= currentEncoding << mstatusMPPShift
		h.csr[CSRMstatus] = mstatus

		h.csr[CSRMepc] = instructionAddress
		h.csr[CSRMcause] = uint32(trap.Kind)
		h.csr[CSRMtval] = trap.Tval
		h.pc = vectoredPC(h.csr[CSRMtvec], cause, isInterrupt)
	} else {
		mstatus := h.csr[CSRMstatus]
		spie := (mstatus & mstatusSIEBit) != 0
		mstatus &^= mstatusSPIEBit
		if spie {
			mstatus |= mstatusSPIEBit
		}
		mstatus &^= mstatusSIEBit
		mstatus &^= mstatusSPPBit
		if h.privilege == PrivilegeSupervisor && currentEncoding == 1 {
			mstatus |= mstatusSPPBit
		}
		h.csr[CSRMstatus] = mstatus

		h.csr[CSRSepc] = instructionAddress
		h.csr[CSRScause] = uint32(trap.Kind)
		h.csr[CSRStval] = trap.Tval
		h.pc = vectoredPC(h.csr[CSRStvec], cause, isInterrupt)
	}

	return true
}

// vectoredPC computes the trap target: base, or base+4*cause if the low
// two bits of the vector CSR indicate vectored mode and this is an
// interrupt (spec.md §4.3).
func vectoredPC(tvec uint32, cause uint32, isInterrupt bool) uint32 {
	base := tvec &^ 0x3
	if isInterrupt && tvec&0x3 != 0 {
		return base + 4*cause
	}
	return base
}

func sourceEnableBit(kind TrapKind) uint32 {
	switch kind {
	case UserSoftwareInterrupt:
		return 1 << 0
	case SupervisorSoftwareInterrupt:
		return 1 << 1
	case MachineSoftwareInterrupt:
		return 1 << 3
	case UserTimerInterrupt:
		return 1 << 4
	case SupervisorTimerInterrupt:
		return 1 << 5
	case MachineTimerInterrupt:
		return 1 << 7
	case UserExternalInterrupt:
		return 1 << 8
	case SupervisorExternalInterrupt:
		return 1 << 9
	case MachineExternalInterrupt:
		return 1 << 11
	default:
		return 0
	}
}

// Mret reverses the M-mode trap stacking: spec.md §4.3.
func (h *Hart) Mret() {
	h.pc = h.csr[CSRMepc]
	mstatus := h.csr[CSRMstatus]
	mpie := mstatus&mstatusMPIEBit != 0
	mstatus &^= mstatusMIEBit
	if mpie {
		mstatus |= mstatusMIEBit
	}
	mstatus |= mstatusMPIEBit
	mpp := PrivilegeMode((mstatus & mstatusMPPMask) >> mstatusMPPShift)
	mstatus &^= mstatusMPPMask
	h.csr[CSRMstatus] = mstatus
	h.privilege = mpp
}

// Sret reverses the S-mode trap stacking: spec.md §4.3.
func (h *Hart) Sret() {
	h.pc = h.csr[CSRSepc]
	mstatus := h.csr[CSRMstatus]
	spie := mstatus&mstatusSPIEBit != 0
	mstatus &^= mstatusSIEBit
	if spie {
		mstatus |= mstatusSIEBit
	}
	mstatus |= mstatusSPIEBit
	spp := PrivilegeUser
	if mstatus&mstatusSPPBit != 0 {
		spp = PrivilegeSupervisor
	}
	mstatus &^= mstatusSPPBit
	h.csr[CSRMstatus] = mstatus
	h.privilege = spp
}
