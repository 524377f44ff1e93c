// Package emu implements the RV32IMAC/SV32 core: registers, CSRs, the
// instruction table, the hart tick loop, the MMU, and the shared physical
// memory store.
package emu

import "fmt"

// TrapKind identifies a guest-visible synchronous exception or
// asynchronous interrupt, numbered per the standard RISC-V cause
// assignments (the low bits of mcause/scause; interrupts additionally set
// the top bit).
type TrapKind uint32

const (
	InstructionAddressMisaligned TrapKind = 0
	InstructionAccessFault       TrapKind = 1
	IllegalInstruction           TrapKind = 2
	Breakpoint                   TrapKind = 3
	LoadAddressMisaligned        TrapKind = 4
	LoadAccessFault              TrapKind = 5
	StoreAddressMisaligned       TrapKind = 6
	StoreAccessFault             TrapKind = 7
	EnvironmentCallFromU         TrapKind = 8
	EnvironmentCallFromS         TrapKind = 9
	EnvironmentCallFromM         TrapKind = 11
	InstructionPageFault         TrapKind = 12
	LoadPageFault                TrapKind = 13
	StorePageFault               TrapKind = 15

	interruptBit = 1 << 31

	UserSoftwareInterrupt       TrapKind = interruptBit | 0
	SupervisorSoftwareInterrupt TrapKind = interruptBit | 1
	MachineSoftwareInterrupt    TrapKind = interruptBit | 3
	UserTimerInterrupt          TrapKind = interruptBit | 4
	SupervisorTimerInterrupt    TrapKind = interruptBit | 5
	MachineTimerInterrupt       TrapKind = interruptBit | 7
	UserExternalInterrupt       TrapKind = interruptBit | 8
	SupervisorExternalInterrupt TrapKind = interruptBit | 9
	MachineExternalInterrupt    TrapKind = interruptBit | 11
)

// IsInterrupt reports whether a trap kind is an asynchronous interrupt
// rather than a synchronous exception.
func (k TrapKind) IsInterrupt() bool { return k&interruptBit != 0 }

// Code returns the cause number without the interrupt bit.
func (k TrapKind) Code() uint32 { return uint32(k &^ interruptBit) }

func (k TrapKind) String() string {
	switch k {
	case InstructionAddressMisaligned:
		return "instruction-address-misaligned"
	case InstructionAccessFault:
		return "instruction-access-fault"
	case IllegalInstruction:
		return "illegal-instruction"
	case Breakpoint:
		return "breakpoint"
	case LoadAddressMisaligned:
		return "load-address-misaligned"
	case LoadAccessFault:
		return "load-access-fault"
	case StoreAddressMisaligned:
		return "store-address-misaligned"
	case StoreAccessFault:
		return "store-access-fault"
	case EnvironmentCallFromU:
		return "ecall-from-u"
	case EnvironmentCallFromS:
		return "ecall-from-s"
	case EnvironmentCallFromM:
		return "ecall-from-m"
	case InstructionPageFault:
		return "instruction-page-fault"
	case LoadPageFault:
		return "load-page-fault"
	case StorePageFault:
		return "store-page-fault"
	case MachineExternalInterrupt:
		return "machine-external-interrupt"
	case MachineSoftwareInterrupt:
		return "machine-software-interrupt"
	case MachineTimerInterrupt:
		return "machine-timer-interrupt"
	case SupervisorExternalInterrupt:
		return "supervisor-external-interrupt"
	case SupervisorSoftwareInterrupt:
		return "supervisor-software-interrupt"
	case SupervisorTimerInterrupt:
		return "supervisor-timer-interrupt"
	default:
		return fmt.Sprintf("trap(%#x)", uint32(k))
	}
}

// Trap is a synchronous exception or asynchronous interrupt taken by a
// hart. It implements error so it can flow through Go's ordinary error
// handling until the tick loop turns it into a TickOutcome.
type Trap struct {
	Kind TrapKind
	Tval uint32
}

func (t Trap) Error() string {
	return fmt.Sprintf("%s (tval=%#08x)", t.Kind, t.Tval)
}

// NewTrap constructs a Trap value; it exists mainly so call sites read
// like the exception constructors in the original emulator.
func NewTrap(kind TrapKind, tval uint32) Trap {
	return Trap{Kind: kind, Tval: tval}
}
