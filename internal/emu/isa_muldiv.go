package emu

import "math"

// mulDivInstructions covers the M-extension subset: MUL/MULH/MULHU/MULHSU
// and DIV/DIVU/REM/REMU (spec.md §4.1). All are R-type, opcode 0x33,
// funct7 0x01.
func mulDivInstructions() []Instruction {
	return []Instruction{
		entry(0xfe00707f, 0x02000033, "mul", execMul),
		entry(0xfe00707f, 0x02001033, "mulh", execMulh),
		entry(0xfe00707f, 0x02002033, "mulhsu", execMulhsu),
		entry(0xfe00707f, 0x02003033, "mulhu", execMulhu),
		entry(0xfe00707f, 0x02004033, "div", execDiv),
		entry(0xfe00707f, 0x02005033, "divu", execDivu),
		entry(0xfe00707f, 0x02006033, "rem", execRem),
		entry(0xfe00707f, 0x02007033, "remu", execRemu),
	}
}

func execMul(h *Hart, w, pc uint32) *Trap {
	h.WriteX(fieldRd(w), h.ReadX(fieldRs1(w))*h.ReadX(fieldRs2(w)))
	return nil
}

func execMulh(h *Hart, w, pc uint32) *Trap {
	a := int64(int32(h.ReadX(fieldRs1(w))))
	b := int64(int32(h.ReadX(fieldRs2(w))))
	h.WriteX(fieldRd(w), uint32((a*b)>>32))
	return nil
}

func execMulhu(h *Hart, w, pc uint32) *Trap {
	a := uint64(h.ReadX(fieldRs1(w)))
	b := uint64(h.ReadX(fieldRs2(w)))
	h.WriteX(fieldRd(w), uint32((a*b)>>32))
	return nil
}

func execMulhsu(h *Hart, w, pc uint32) *Trap {
	a := int64(int32(h.ReadX(fieldRs1(w))))
	b := int64(uint64(h.ReadX(fieldRs2(w))))
	h.WriteX(fieldRd(w), uint32((a*b)>>32))
	return nil
}

// execDiv implements RISC-V's specified edge cases (spec.md §4.1/§8):
// divide by zero yields all-ones; INT32_MIN / -1 yields INT32_MIN
// (signed-overflow case, no trap).
func execDiv(h *Hart, w, pc uint32) *Trap {
	a := int32(h.ReadX(fieldRs1(w)))
	b := int32(h.ReadX(fieldRs2(w)))
	var result int32
	switch {
	case b == 0:
		result = -1
	case a == math.MinInt32 && b == -1:
		result = math.MinInt32
	default:
		result = a / b
	}
	h.WriteX(fieldRd(w), uint32(result))
	return nil
}

func execDivu(h *Hart, w, pc uint32) *Trap {
	a := h.ReadX(fieldRs1(w))
	b := h.ReadX(fieldRs2(w))
	if b == 0 {
		h.WriteX(fieldRd(w), 0xFFFFFFFF)
		return nil
	}
	h.WriteX(fieldRd(w), a/b)
	return nil
}

func execRem(h *Hart, w, pc uint32) *Trap {
	a := int32(h.ReadX(fieldRs1(w)))
	b := int32(h.ReadX(fieldRs2(w)))
	var result int32
	switch {
	case b == 0:
		result = a
	case a == math.MinInt32 && b == -1:
		result = 0
	default:
		result = a % b
	}
	h.WriteX(fieldRd(w), uint32(result))
	return nil
}

func execRemu(h *Hart, w, pc uint32) *Trap {
	a := h.ReadX(fieldRs1(w))
	b := h.ReadX(fieldRs2(w))
	if b == 0 {
		h.WriteX(fieldRd(w), a)
		return nil
	}
	h.WriteX(fieldRd(w), a%b)
	return nil
}
