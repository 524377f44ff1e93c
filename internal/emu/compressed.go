package emu

// reservedWord is the sentinel a reserved compressed encoding expands to.
// spec.md §4.1/§8: "Reserved compressed encodings expand to 0xFFFF_FFFF
// which fails decode" — implemented as the literal two-step process the
// spec describes (return the sentinel, let the ordinary decode table fail
// on it) rather than the teacher's direct-error shortcut, per DESIGN.md
// Resolved Open Question 5.
const reservedWord uint32 = 0xFFFF_FFFF

// compressedReg maps a 3-bit compressed register field to the full x8-x15
// register number.
func compressedReg(bits uint32) uint32 { return bits + 8 }

func signExtend(v uint32, bits uint) uint32 {
	shift := 32 - bits
	return uint32(int32(v<<shift) >> shift)
}

// ExpandCompressed converts a 16-bit RVC encoding to its equivalent 32-bit
// RV32IMAC encoding. Grounded on
// tinyrange-cc/internal/hv/riscv/rv64/compressed.go's quadrant/funct3
// dispatch shape, narrowed to RV32 (no C.LD/C.SD/C.ADDIW/C.SUBW/C.ADDW,
// and the F-extension forms C.FLW/C.FSW/C.FLWSP/C.FSWSP/C.FLD/C.FSD/
// C.FLDSP/C.FSDSP are reserved since this emulator has no floating
// point). Pure and total: every 16-bit input maps to some 32-bit word,
// with reserved encodings mapping to reservedWord.
func ExpandCompressed(insn uint16) uint32 {
	word := uint32(insn)
	quadrant := word & 0x3
	funct3 := (word >> 13) & 0x7

	switch quadrant {
	case 0:
		return expandQuadrant0(word, funct3)
	case 1:
		return expandQuadrant1(word, funct3)
	case 2:
		return expandQuadrant2(word, funct3)
	default:
		return reservedWord
	}
}

func itype(imm uint32, rs1, funct3, rd, opcode uint32) uint32 {
	return (imm<<20)&0xfff00000 | (rs1&0x1f)<<15 | (funct3&0x7)<<12 | (rd&0x1f)<<7 | (opcode & 0x7f)
}

func rtype(funct7, rs2, rs1, funct3, rd, opcode uint32) uint32 {
	return (funct7&0x7f)<<25 | (rs2&0x1f)<<20 | (rs1&0x1f)<<15 | (funct3&0x7)<<12 | (rd&0x1f)<<7 | (opcode & 0x7f)
}

func stype(imm, rs2, rs1, funct3, opcode uint32) uint32 {
	imm11_5 := (imm >> 5) & 0x7f
	imm4_0 := imm & 0x1f
	return imm11_5<<25 | (rs2&0x1f)<<20 | (rs1&0x1f)<<15 | (funct3&0x7)<<12 | imm4_0<<7 | (opcode & 0x7f)
}

func btype(imm, rs2, rs1, funct3, opcode uint32) uint32 {
	b12 := (imm >> 12) & 0x1
	b11 := (imm >> 11) & 0x1
	b10_5 := (imm >> 5) & 0x3f
	b4_1 := (imm >> 1) & 0xf
	return b12<<31 | b10_5<<25 | (rs2&0x1f)<<20 | (rs1&0x1f)<<15 | (funct3&0x7)<<12 | b4_1<<8 | b11<<7 | (opcode & 0x7f)
}

func utype(imm, rd, opcode uint32) uint32 {
	return (imm & 0xfffff000) | (rd&0x1f)<<7 | (opcode & 0x7f)
}

func jtype(imm, rd, opcode uint32) uint32 {
	b20 := (imm >> 20) & 0x1
	b19_12 := (imm >> 12) & 0xff
	b11 := (imm >> 11) & 0x1
	b10_1 := (imm >> 1) & 0x3ff
	return b20<<31 | b10_1<<21 | b11<<20 | b19_12<<12 | (rd&0x1f)<<7 | (opcode & 0x7f)
}

const (
	opLoad   = 0x03
	opStore  = 0x23
	opOpImm  = 0x13
	opOp     = 0x33
	opLui    = 0x37
	opAuipc  = 0x17
	opBranch = 0x63
	opJal    = 0x6f
	opJalr   = 0x67
	opSystem = 0x73
)

func expandQuadrant0(word, funct3 uint32) uint32 {
	rdp := compressedReg((word >> 2) & 0x7)
	rs1p := compressedReg((word >> 7) & 0x7)

	switch funct3 {
	case 0x0: // C.ADDI4SPN
		nzuimm := ((word >> 7) & 0x30) | ((word >> 1) & 0x3c0) | ((word >> 4) & 0x4) | ((word >> 2) & 0x8)
		if nzuimm == 0 {
			return reservedWord
		}
		return itype(nzuimm, 2, 0, rdp, opOpImm)
	case 0x2: // C.LW
		imm := ((word << 1) & 0x40) | ((word >> 7) & 0x38) | ((word >> 4) & 0x4)
		return itype(imm, rs1p, 0x2, rdp, opLoad)
	case 0x6: // C.SW
		imm := ((word << 1) & 0x40) | ((word >> 7) & 0x38) | ((word >> 4) & 0x4)
		return stype(imm, rdp, rs1p, 0x2, opStore)
	default:
		// C.FLD/C.FLW/C.FSD/C.FSW and the reserved funct3=100 slot: no
		// floating point in this emulator.
		return reservedWord
	}
}

func expandQuadrant1(word, funct3 uint32) uint32 {
	rd := (word >> 7) & 0x1f

	switch funct3 {
	case 0x0: // C.ADDI (C.NOP when rd==0 and imm==0)
		imm := signExtend(((word>>7)&0x20)|((word>>2)&0x1f), 6)
		return itype(imm, rd, 0, rd, opOpImm)
	case 0x1: // C.JAL (RV32 only)
		imm := cjImm(word)
		return jtype(imm, 1, opJal)
	case 0x2: // C.LI
		imm := signExtend(((word>>7)&0x20)|((word>>2)&0x1f), 6)
		return itype(imm, 0, 0, rd, opOpImm)
	case 0x3: // C.LUI / C.ADDI16SP
		if rd == 2 {
			imm := signExtend(((word>>3)&0x200)|((word>>2)&0x10)|((word<<1)&0x40)|((word<<4)&0x180)|((word<<3)&0x20), 10)
			if imm == 0 {
				return reservedWord
			}
			return itype(imm, 2, 0, 2, opOpImm)
		}
		nzimm := signExtend(((word<<5)&0x20000)|((word<<10)&0x1f000), 18)
		if nzimm == 0 {
			return reservedWord
		}
		return utype(nzimm, rd, opLui)
	case 0x4:
		return expandQuadrant1Misc(word)
	case 0x5: // C.J
		imm := cjImm(word)
		return jtype(imm, 0, opJal)
	case 0x6: // C.BEQZ
		imm := cbImm(word)
		rs1p := compressedReg((word >> 7) & 0x7)
		return btype(imm, 0, rs1p, 0x0, opBranch)
	case 0x7: // C.BNEZ
		imm := cbImm(word)
		rs1p := compressedReg((word >> 7) & 0x7)
		return btype(imm, 0, rs1p, 0x1, opBranch)
	default:
		return reservedWord
	}
}

// cjImm decodes the 11-bit signed jump-offset encoding shared by C.J and
// C.JAL.
func cjImm(word uint32) uint32 {
	var imm uint32
	imm |= (word >> 1) & 0x800  // imm[11]
	imm |= (word << 2) & 0x400  // imm[10]
	imm |= (word >> 1) & 0x300  // imm[9:8]
	imm |= (word << 1) & 0x80   // imm[7]
	imm |= (word >> 1) & 0x40   // imm[6]
	imm |= (word << 3) & 0x20   // imm[5]
	imm |= (word >> 7) & 0x10   // imm[4]
	imm |= (word >> 2) & 0xe    // imm[3:1]
	return signExtend(imm, 12)
}

// cbImm decodes the 9-bit signed branch-offset encoding shared by
// C.BEQZ/C.BNEZ.
func cbImm(word uint32) uint32 {
	var imm uint32
	imm |= (word >> 4) & 0x100 // imm[8]
	imm |= (word << 1) & 0xc0  // imm[7:6]
	imm |= (word << 3) & 0x20  // imm[5]
	imm |= (word >> 7) & 0x18  // imm[4:3]
	imm |= (word >> 2) & 0x6   // imm[2:1]
	return signExtend(imm, 9)
}

func expandQuadrant1Misc(word uint32) uint32 {
	rdp := compressedReg((word >> 7) & 0x7)
	funct2 := (word >> 10) & 0x3
	bit12 := (word >> 12) & 0x1

	switch funct2 {
	case 0x0: // C.SRLI
		shamt := ((word >> 7) & 0x20) | ((word >> 2) & 0x1f)
		if bit12 == 1 {
			return reservedWord // rv64-only shamt[5]
		}
		return itype(shamt, rdp, 0x5, rdp, opOpImm)
	case 0x1: // C.SRAI
		shamt := ((word >> 7) & 0x20) | ((word >> 2) & 0x1f)
		if bit12 == 1 {
			return reservedWord
		}
		return itype(0x400|shamt, rdp, 0x5, rdp, opOpImm)
	case 0x2: // C.ANDI
		imm := signExtend(((word>>7)&0x20)|((word>>2)&0x1f), 6)
		return itype(imm, rdp, 0x7, rdp, opOpImm)
	case 0x3:
		rs2p := compressedReg((word >> 2) & 0x7)
		if bit12 == 1 {
			// C.SUBW/C.ADDW/RV64-reserved: not applicable to RV32.
			return reservedWord
		}
		switch (word >> 5) & 0x3 {
		case 0x0: // C.SUB
			return rtype(0x20, rs2p, rdp, 0x0, rdp, opOp)
		case 0x1: // C.XOR
			return rtype(0x00, rs2p, rdp, 0x4, rdp, opOp)
		case 0x2: // C.OR
			return rtype(0x00, rs2p, rdp, 0x6, rdp, opOp)
		default: // C.AND
			return rtype(0x00, rs2p, rdp, 0x7, rdp, opOp)
		}
	}
	return reservedWord
}

func expandQuadrant2(word, funct3 uint32) uint32 {
	rd := (word >> 7) & 0x1f
	rs2 := (word >> 2) & 0x1f

	switch funct3 {
	case 0x0: // C.SLLI
		shamt := ((word >> 7) & 0x20) | ((word >> 2) & 0x1f)
		if rd == 0 || (word>>12)&0x1 == 1 {
			return reservedWord
		}
		return itype(shamt, rd, 0x1, rd, opOpImm)
	case 0x2: // C.LWSP
		if rd == 0 {
			return reservedWord
		}
		imm := ((word >> 7) & 0x20) | ((word >> 2) & 0x1c) | ((word << 4) & 0xc0)
		return itype(imm, 2, 0x2, rd, opLoad)
	case 0x4:
		return expandQuadrant2Misc(word, rd, rs2)
	case 0x6: // C.SWSP
		imm := ((word >> 7) & 0x3c) | ((word >> 1) & 0xc0)
		return stype(imm, rs2, 2, 0x2, opStore)
	default:
		// C.FLDSP/C.FLWSP/C.FSDSP/C.FSWSP: no floating point.
		return reservedWord
	}
}

func expandQuadrant2Misc(word, rd, rs2 uint32) uint32 {
	bit12 := (word >> 12) & 0x1

	if bit12 == 0 {
		if rs2 == 0 {
			if rd == 0 {
				return reservedWord
			}
			return itype(0, rd, 0x0, 0, opJalr) // C.JR
		}
		return rtype(0x00, rs2, 0, 0x0, rd, opOp) // C.MV: add rd, x0, rs2
	}

	if rs2 == 0 {
		if rd == 0 {
			return itype(1, 0, 0x0, 0, opSystem) // C.EBREAK
		}
		return itype(0, rd, 0x0, 1, opJalr) // C.JALR
	}
	return rtype(0x00, rs2, rd, 0x0, rd, opOp) // C.ADD
}
