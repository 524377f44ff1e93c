package emu

// exitSentinel is the guest-libc thread-exit signal: an instruction fetch
// at this fixed virtual address is not raised as a trap but converts the
// tick into ExitThread(a0) (spec.md §4.3, §4.2).
const exitSentinel uint32 = 0xff803000

// SyscallOutcome is what a SyscallBridge returns for an ECALL. Grounded on
// original_source/crates/riscv-cpu/src/mmu.rs's SyscallResult enum
// (Ok/Defer/Terminate/JoinThread/Continue).
type SyscallOutcome struct {
	// Continue asks the hart to raise the ordinary EnvironmentCallFromX
	// trap instead (spec.md §4.3: "if the bridge returns Continue, the
	// trap is raised with cause 8/9/11").
	Continue bool

	// Pause, if non-nil, is a one-shot channel the scheduler must await;
	// its value is an 8-word register image plus an optional byte buffer
	// to write back to guest memory before resuming (spec.md §4.7).
	Pause <-chan PauseResult

	// Exit, if true, ends the hart immediately with ExitCode.
	Exit     bool
	ExitCode uint32
}

// PauseResult is delivered on a SyscallOutcome.Pause channel.
type PauseResult struct {
	Regs       [8]uint32
	WriteBack  []byte
	WriteBackVA uint32
	HasWriteBack bool
}

// SyscallBridge dispatches a hart's ECALL to the host syscall layer. The
// machine package implements this; it lives here as an interface so the
// core emu package has no import-cycle dependency on it.
type SyscallBridge interface {
	HandleECALL(h *Hart) SyscallOutcome
}

// TickKind discriminates the four tick outcomes of spec.md §4.2.
type TickKind int

const (
	TickOk TickKind = iota
	TickExitThread
	TickPauseEmulation
	TickCpuTrap
)

// TickOutcome is the result of one Hart.Tick call.
type TickOutcome struct {
	Kind     TickKind
	ExitCode uint32
	Pause    <-chan PauseResult
	Trap     Trap
}

// Hart is one RV32IMAC hardware thread of execution: registers, PC, CSR
// file, privilege mode, an owned MMU, and a reference to the physical
// memory shared with every other hart. Grounded on
// original_source/crates/riscv-cpu/src/cpu.rs's Cpu struct (flat
// x[32]i32/csr[4096]u32 fields), not the teacher's RV64 named-CSR-struct
// design, since spec.md §3 requires "the CSR array" as flat 4096 slots.
type Hart struct {
	ID int

	x  [32]uint32
	pc uint32

	csr       [4096]uint32
	privilege PrivilegeMode

	clock uint32
	wfi   bool

	mmu *MMU
	mem *PhysicalMemory

	bridge SyscallBridge

	// pending carries an ExitThread/PauseEmulation outcome set by the
	// ECALL handler (internal/emu/isa_system.go) out of the normal
	// execute(h, word, pc) *Trap signature, since neither outcome is a
	// Trap. Tick consumes and clears it after each instruction.
	pending *TickOutcome
}

// NewHart creates a hart sharing mem, with its own MMU and register file,
// starting in Machine mode (the state reset, process-entry setup
// overwrites this before the first tick; see internal/machine/elf.go).
func NewHart(id int, mem *PhysicalMemory, bridge SyscallBridge) *Hart {
	h := &Hart{
		ID:        id,
		mem:       mem,
		mmu:       NewMMU(mem),
		privilege: PrivilegeMachine,
		bridge:    bridge,
	}
	h.csr[CSRMhartid] = uint32(id)
	return h
}

// ReadX reads a general-purpose register; x0 always reads as zero
// (spec.md §3 invariant).
func (h *Hart) ReadX(r uint32) uint32 {
	if r == 0 {
		return 0
	}
	return h.x[r&0x1f]
}

// WriteX writes a general-purpose register; writes to x0 are dropped
// (spec.md §3 invariant, restated as a testable property in §8: "after
// write_x(r, v), read_x(r) == (if r==0 then 0 else v)").
func (h *Hart) WriteX(r uint32, v uint32) {
	if r == 0 {
		return
	}
	h.x[r&0x1f] = v
}

// PC returns the program counter.
func (h *Hart) PC() uint32 { return h.pc }

// SetPC sets the program counter, used by the loader to establish entry
// state and by MRET/SRET/branch instructions.
func (h *Hart) SetPC(pc uint32) { h.pc = pc }

// Privilege returns the hart's current privilege mode.
func (h *Hart) Privilege() PrivilegeMode { return h.privilege }

// SetPrivilege sets the hart's privilege. The MMU keeps no copy of it to
// refresh: every Translate call is passed the current privilege.
func (h *Hart) SetPrivilege(p PrivilegeMode) {
	h.privilege = p
}

// MMU exposes the hart's MMU, used by the loader to install the root page
// table and by the syscall bridge to translate guest buffer addresses.
func (h *Hart) MMU() *MMU { return h.mmu }

// Memory exposes the shared physical memory.
func (h *Hart) Memory() *PhysicalMemory { return h.mem }

// Tick runs one fetch/decode/execute cycle plus interrupt delivery,
// following the eight-step sequence of spec.md §4.2.
func (h *Hart) Tick() TickOutcome {
	trap := h.tickOperate()
	if h.pending != nil {
		out := *h.pending
		h.pending = nil
		return out
	}
	if trap != nil {
		if trap.Kind == InstructionPageFault && trap.Tval == exitSentinel {
			return TickOutcome{Kind: TickExitThread, ExitCode: h.ReadX(10)}
		}
		return TickOutcome{Kind: TickCpuTrap, Trap: *trap}
	}

	// (6) Tick the MMU: a reserved no-op placeholder (spec.md §4.2 step
	// 6; original_source/.../mmu.rs::tick is likewise an empty stub).
	_ = h.mmu

	// (7) Drain any pending interrupt.
	h.handleInterrupt()

	// (8) Advance cycle; mirror a scaled value into the cycle CSR. The
	// 1:8 ratio is spec.md §9's documented-temporary arbitrary constant.
	h.clock = h.clock + 1
	h.csr[CSRCycle] = h.clock * 8

	return TickOutcome{Kind: TickOk}
}

// tickOperate performs steps (1)-(5): wfi check, fetch, compressed expand,
// decode, execute, and forcing x0 back to zero. Grounded on
// original_source/.../cpu.rs::tick_operate.
func (h *Hart) tickOperate() *Trap {
	if h.wfi {
		if h.ReadCSR(CSRMie)&h.ReadCSR(CSRMip) != 0 {
			h.wfi = false
		}
		return nil
	}

	instructionAddress := h.pc
	original, trap := h.fetch(instructionAddress)
	if trap != nil {
		return trap
	}

	var word uint32
	if original&0x3 == 0x3 {
		h.pc = h.pc + 4
		word = original
	} else {
		h.pc = h.pc + 2
		word = ExpandCompressed(uint16(original & 0xffff))
	}

	inst, ok := decodeInstruction(word)
	if !ok {
		return &Trap{Kind: IllegalInstruction, Tval: instructionAddress}
	}

	trap = inst.execute(h, word, instructionAddress)
	h.x[0] = 0
	return trap
}

func (h *Hart) fetch(pc uint32) (uint32, *Trap) {
	pa, trap := h.mmu.Translate(pc, AccessExecute, h.privilege)
	if trap != nil {
		return 0, trap
	}
	lo := h.mem.ReadHalf(pa)
	if lo&0x3 != 0x3 {
		return uint32(lo), nil
	}
	// Full 32-bit instruction: translate and read the upper half
	// independently, since it may be on a different physical page.
	paHi, trap := h.mmu.Translate(pc+2, AccessExecute, h.privilege)
	if trap != nil {
		return 0, trap
	}
	hi := h.mem.ReadHalf(paHi)
	return uint32(lo) | uint32(hi)<<16, nil
}
