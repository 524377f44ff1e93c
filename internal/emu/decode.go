package emu

// Instruction is one entry of the decode table: a mask/match pair plus the
// semantic function it dispatches to. Grounded on
// original_source/crates/riscv-cpu/src/cpu.rs's Instruction struct and its
// decode_and_get_instruction_index linear scan (spec.md §4.1: "a fixed,
// build-time array of entries {mask, match, name, execute, disasm}...
// Decoding is linear search: the first entry with (word & mask) == match
// wins").
type Instruction struct {
	Mask    uint32
	Match   uint32
	Name    string
	execute func(h *Hart, word, pc uint32) *Trap
}

// decodeInstruction performs the linear-search decode. Decoding itself is
// side-effect free (spec.md §4.1); execution may mutate hart state.
func decodeInstruction(word uint32) (*Instruction, bool) {
	for i := range instructionTable {
		inst := &instructionTable[i]
		if word&inst.Mask == inst.Match {
			return inst, true
		}
	}
	return nil, false
}

// instructionTable is the fixed, build-time RV32IMAC decode table, grouped
// by extension (ALU, branch, load/store, mul/div, atomic, system). No two
// entries' mask/match pairs accept the same word, so the order does not
// change which entry a word decodes to.
var instructionTable = buildInstructionTable()

func buildInstructionTable() []Instruction {
	var t []Instruction
	t = append(t, aluInstructions()...)
	t = append(t, branchInstructions()...)
	t = append(t, loadStoreInstructions()...)
	t = append(t, mulDivInstructions()...)
	t = append(t, atomicInstructions()...)
	t = append(t, systemInstructions()...)
	return t
}

// entry is a small constructor helper shared by the isa_*.go files, used
// so every instruction definition reads as one line: {mask, match, name,
// semantic function}.
func entry(mask, match uint32, name string, fn func(h *Hart, word, pc uint32) *Trap) Instruction {
	return Instruction{Mask: mask, Match: match, Name: name, execute: fn}
}

// Standard RV32 field extraction helpers, shared by every isa_*.go file.
func fieldOpcode(w uint32) uint32 { return w & 0x7f }
func fieldRd(w uint32) uint32     { return (w >> 7) & 0x1f }
func fieldFunct3(w uint32) uint32 { return (w >> 12) & 0x7 }
func fieldRs1(w uint32) uint32    { return (w >> 15) & 0x1f }
func fieldRs2(w uint32) uint32    { return (w >> 20) & 0x1f }
func fieldFunct7(w uint32) uint32 { return (w >> 25) & 0x7f }

func immI(w uint32) uint32 { return signExtend(w>>20, 12) }
func immS(w uint32) uint32 {
	return signExtend(((w>>25)&0x7f)<<5|((w>>7)&0x1f), 12)
}
func immB(w uint32) uint32 {
	v := ((w >> 31) & 0x1 << 12) | ((w >> 7) & 0x1 << 11) | ((w >> 25) & 0x3f << 5) | ((w >> 8) & 0xf << 1)
	return signExtend(v, 13)
}
func immU(w uint32) uint32 { return w & 0xfffff000 }
func immJ(w uint32) uint32 {
	v := ((w >> 31) & 0x1 << 20) | ((w >> 12) & 0xff << 12) | ((w >> 20) & 0x1 << 11) | ((w >> 21) & 0x3ff << 1)
	return signExtend(v, 21)
}
