package emu

import "testing"

// newTestHart builds a hart over a single allocated page of physical
// memory, with no syscall bridge: ECALL therefore traps rather than
// dispatching, which is enough for these instruction-level tests. Default
// privilege is Machine and the MMU starts in AddressingBare mode (no SATP
// write), so every virtual address is its own physical address.
func newTestHart(t *testing.T) (*Hart, uint32) {
	t.Helper()
	mem := NewPhysicalMemory(0, 64*1024)
	base := mem.AllocatePage()
	h := NewHart(0, mem, nil)
	h.SetPC(base)
	return h, base
}

// run writes a program (32-bit words at 4-byte strides) into the hart's
// page, ticking until either a non-Ok outcome or the step budget is
// exhausted.
func run(t *testing.T, h *Hart, code []uint32, steps int) TickOutcome {
	t.Helper()
	base := h.PC()
	for i, insn := range code {
		h.mem.WriteWord(base+uint32(i*4), insn)
	}
	var out TickOutcome
	for i := 0; i < steps; i++ {
		out = h.Tick()
		if out.Kind != TickOk {
			return out
		}
	}
	return out
}

func TestALUOperations(t *testing.T) {
	h, _ := newTestHart(t)

	// li a0, 10; li a1, 3; add a2,a0,a1; sub a3,a0,a1; and a4,a0,a1;
	// or a5,a0,a1; xor a6,a0,a1; ebreak
	code := []uint32{
		0x00a00513, // addi a0, zero, 10
		0x00300593, // addi a1, zero, 3
		0x00b50633, // add a2, a0, a1
		0x40b506b3, // sub a3, a0, a1
		0x00b57733, // and a4, a0, a1
		0x00b567b3, // or a5, a0, a1
		0x00b54833, // xor a6, a0, a1
		0x00100073, // ebreak
	}

	out := run(t, h, code, len(code))
	if out.Kind != TickCpuTrap || out.Trap.Kind != Breakpoint {
		t.Fatalf("expected ebreak trap, got %+v", out)
	}

	if v := h.ReadX(12); v != 13 {
		t.Errorf("a2 (add): expected 13, got %d", v)
	}
	if v := h.ReadX(13); v != 7 {
		t.Errorf("a3 (sub): expected 7, got %d", v)
	}
	if v := h.ReadX(14); v != 2 {
		t.Errorf("a4 (and): expected 2, got %d", v)
	}
	if v := h.ReadX(15); v != 11 {
		t.Errorf("a5 (or): expected 11, got %d", v)
	}
	if v := h.ReadX(16); v != 9 {
		t.Errorf("a6 (xor): expected 9, got %d", v)
	}
}

func TestBranchTaken(t *testing.T) {
	h, _ := newTestHart(t)

	// li a0,5; li a1,5; li a2,0; beq a0,a1,+8; li a2,1 (skipped); addi a2,a2,10; ebreak
	code := []uint32{
		0x00500513, // addi a0, zero, 5
		0x00500593, // addi a1, zero, 5
		0x00000613, // addi a2, zero, 0
		0x00b50463, // beq a0, a1, +8
		0x00100613, // addi a2, zero, 1
		0x00a60613, // addi a2, a2, 10
		0x00100073, // ebreak
	}

	out := run(t, h, code, len(code))
	if out.Kind != TickCpuTrap || out.Trap.Kind != Breakpoint {
		t.Fatalf("expected ebreak trap, got %+v", out)
	}
	if v := h.ReadX(12); v != 10 {
		t.Errorf("a2: expected 10 (branch taken), got %d", v)
	}
}

func TestMultiplyDivide(t *testing.T) {
	h, _ := newTestHart(t)

	code := []uint32{
		0x00700513, // addi a0, zero, 7
		0x00300593, // addi a1, zero, 3
		0x02b50633, // mul a2, a0, a1
		0x02b546b3, // div a3, a0, a1
		0x02b56733, // rem a4, a0, a1
		0x00100073, // ebreak
	}

	out := run(t, h, code, len(code))
	if out.Kind != TickCpuTrap || out.Trap.Kind != Breakpoint {
		t.Fatalf("expected ebreak trap, got %+v", out)
	}
	if v := h.ReadX(12); v != 21 {
		t.Errorf("a2 (mul): expected 21, got %d", v)
	}
	if v := h.ReadX(13); v != 2 {
		t.Errorf("a3 (div): expected 2, got %d", v)
	}
	if v := h.ReadX(14); v != 1 {
		t.Errorf("a4 (rem): expected 1, got %d", v)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	h, base := newTestHart(t)

	// lui+addi a0, <scratch>; li a1, 0x2a; sw a1, 0(a0); lw a2, 0(a0); ebreak
	scratch := base + 256
	hi, lo := splitImm(scratch)
	program := []uint32{
		uLui(10, hi),
		iAddi(10, 10, lo),
		0x02a00593, // addi a1, zero, 0x2a
		0x00b52023, // sw a1, 0(a0)
		0x00052603, // lw a2, 0(a0)
		0x00100073, // ebreak
	}

	out := run(t, h, program, len(program))
	if out.Kind != TickCpuTrap || out.Trap.Kind != Breakpoint {
		t.Fatalf("expected ebreak trap, got %+v", out)
	}
	if v := h.ReadX(12); v != 0x2a {
		t.Errorf("a2 (lw): expected 0x2a, got %#x", v)
	}
}

func TestEcallWithoutBridgeTraps(t *testing.T) {
	h, _ := newTestHart(t)
	code := []uint32{0x00000073} // ecall
	out := run(t, h, code, 1)
	if out.Kind != TickCpuTrap || out.Trap.Kind != EnvironmentCallFromM {
		t.Fatalf("expected ecall-from-m trap, got %+v", out)
	}
}

func TestCompressedExpand(t *testing.T) {
	h, _ := newTestHart(t)
	// c.li a0, 5; c.addi a0, 3; c.mv a1, a0; ebreak
	base := h.PC()
	h.mem.WriteHalf(base+0, 0x4515)
	h.mem.WriteHalf(base+2, 0x050d)
	h.mem.WriteHalf(base+4, 0x85aa)
	h.mem.WriteWord(base+6, 0x00100073)

	var out TickOutcome
	for i := 0; i < 4; i++ {
		out = h.Tick()
		if out.Kind != TickOk {
			break
		}
	}
	if out.Kind != TickCpuTrap || out.Trap.Kind != Breakpoint {
		t.Fatalf("expected ebreak trap, got %+v", out)
	}
	if v := h.ReadX(10); v != 8 {
		t.Errorf("a0: expected 8, got %d", v)
	}
	if v := h.ReadX(11); v != 8 {
		t.Errorf("a1: expected 8, got %d", v)
	}
}

func TestWriteXIgnoresX0(t *testing.T) {
	h, _ := newTestHart(t)
	h.WriteX(0, 0xdeadbeef)
	if v := h.ReadX(0); v != 0 {
		t.Errorf("x0: expected 0, got %#x", v)
	}
}

// --- small encoders used only by TestLoadStoreRoundTrip ---

func splitImm(v uint32) (hi, lo uint32) {
	lo = v & 0xfff
	hi = v - lo
	if lo&0x800 != 0 {
		hi += 0x1000
	}
	return hi, lo
}

func uLui(rd int, imm uint32) uint32 {
	return (imm & 0xfffff000) | uint32(rd)<<7 | 0x37
}

func iAddi(rd, rs1 int, imm uint32) uint32 {
	return (imm&0xfff)<<20 | uint32(rs1)<<15 | 0<<12 | uint32(rd)<<7 | 0x13
}
