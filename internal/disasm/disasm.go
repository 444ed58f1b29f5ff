// Package disasm decodes SM83 machine code into listing-style mnemonics.
// Decoding walks the opcode bit fields (x, y, z, p, q) instead of a
// 256-entry table, so both opcode pages stay compact.
package disasm

import (
	"fmt"
	"strings"
)

// Reader provides byte access for decoding. The emulator bus satisfies it.
type Reader interface {
	Read(addr uint16) byte
}

// Instruction is one decoded instruction. Bytes holds the raw encoding, so
// len(Bytes) is the instruction length.
type Instruction struct {
	Addr     uint16
	Bytes    []byte
	Mnemonic string
}

// String renders "$ADDR: XX XX XX  MNEMONIC".
func (i Instruction) String() string {
	parts := make([]string, len(i.Bytes))
	for j, b := range i.Bytes {
		parts[j] = fmt.Sprintf("%02X", b)
	}
	return fmt.Sprintf("$%04X: %-8s  %s", i.Addr, strings.Join(parts, " "), i.Mnemonic)
}

var (
	regNames = [8]string{"B", "C", "D", "E", "H", "L", "(HL)", "A"}
	rpNames  = [4]string{"BC", "DE", "HL", "SP"}
	rp2Names = [4]string{"BC", "DE", "HL", "AF"}
	ccNames  = [4]string{"NZ", "Z", "NC", "C"}
	indNames = [4]string{"BC", "DE", "HL+", "HL-"}
	aluNames = [8]string{"ADD A,", "ADC A,", "SUB ", "SBC A,", "AND ", "XOR ", "OR ", "CP "}
	rotNames = [8]string{"RLC", "RRC", "RL", "RR", "SLA", "SRA", "SWAP", "SRL"}
	accNames = [8]string{"RLCA", "RRCA", "RLA", "RRA", "DAA", "CPL", "SCF", "CCF"}
)

type decoder struct {
	mem   Reader
	addr  uint16
	bytes []byte
}

func (d *decoder) next() byte {
	v := d.mem.Read(d.addr + uint16(len(d.bytes)))
	d.bytes = append(d.bytes, v)
	return v
}

func (d *decoder) imm8() byte { return d.next() }

func (d *decoder) imm16() uint16 {
	lo := d.next()
	hi := d.next()
	return uint16(hi)<<8 | uint16(lo)
}

// rel8 reads a signed displacement and resolves it against the address of the
// following instruction, so JR shows its absolute target.
func (d *decoder) rel8() uint16 {
	off := int8(d.next())
	return d.addr + uint16(len(d.bytes)) + uint16(off)
}

// Decode reads one instruction at addr. Illegal opcodes come back as "DB $xx"
// with length 1. STOP decodes as a single byte, matching how the CPU core
// executes it.
func Decode(mem Reader, addr uint16) Instruction {
	d := &decoder{mem: mem, addr: addr}
	op := d.next()
	x := op >> 6
	y := (op >> 3) & 0x07
	z := op & 0x07
	p := y >> 1
	q := y&1 != 0

	var mn string
	switch x {
	case 0:
		switch z {
		case 0:
			switch y {
			case 0:
				mn = "NOP"
			case 1:
				mn = fmt.Sprintf("LD ($%04X),SP", d.imm16())
			case 2:
				mn = "STOP"
			case 3:
				mn = fmt.Sprintf("JR $%04X", d.rel8())
			default:
				mn = fmt.Sprintf("JR %s,$%04X", ccNames[y-4], d.rel8())
			}
		case 1:
			if q {
				mn = "ADD HL," + rpNames[p]
			} else {
				mn = fmt.Sprintf("LD %s,$%04X", rpNames[p], d.imm16())
			}
		case 2:
			if q {
				mn = fmt.Sprintf("LD A,(%s)", indNames[p])
			} else {
				mn = fmt.Sprintf("LD (%s),A", indNames[p])
			}
		case 3:
			if q {
				mn = "DEC " + rpNames[p]
			} else {
				mn = "INC " + rpNames[p]
			}
		case 4:
			mn = "INC " + regNames[y]
		case 5:
			mn = "DEC " + regNames[y]
		case 6:
			mn = fmt.Sprintf("LD %s,$%02X", regNames[y], d.imm8())
		default:
			mn = accNames[y]
		}
	case 1:
		if z == 6 && y == 6 {
			mn = "HALT"
		} else {
			mn = fmt.Sprintf("LD %s,%s", regNames[y], regNames[z])
		}
	case 2:
		mn = aluNames[y] + regNames[z]
	default: // x == 3
		switch z {
		case 0:
			switch y {
			case 0, 1, 2, 3:
				mn = "RET " + ccNames[y]
			case 4:
				mn = fmt.Sprintf("LD ($%04X),A", 0xFF00+uint16(d.imm8()))
			case 5:
				mn = fmt.Sprintf("ADD SP,%d", int8(d.imm8()))
			case 6:
				mn = fmt.Sprintf("LD A,($%04X)", 0xFF00+uint16(d.imm8()))
			default:
				mn = fmt.Sprintf("LD HL,SP%+d", int8(d.imm8()))
			}
		case 1:
			if q {
				mn = [4]string{"RET", "RETI", "JP HL", "LD SP,HL"}[p]
			} else {
				mn = "POP " + rp2Names[p]
			}
		case 2:
			switch y {
			case 0, 1, 2, 3:
				mn = fmt.Sprintf("JP %s,$%04X", ccNames[y], d.imm16())
			case 4:
				mn = "LD ($FF00+C),A"
			case 5:
				mn = fmt.Sprintf("LD ($%04X),A", d.imm16())
			case 6:
				mn = "LD A,($FF00+C)"
			default:
				mn = fmt.Sprintf("LD A,($%04X)", d.imm16())
			}
		case 3:
			switch y {
			case 0:
				mn = fmt.Sprintf("JP $%04X", d.imm16())
			case 1:
				mn = decodeCB(d.next())
			case 6:
				mn = "DI"
			case 7:
				mn = "EI"
			default: // D3, DB, E3, EB
				mn = fmt.Sprintf("DB $%02X", op)
			}
		case 4:
			if y < 4 {
				mn = fmt.Sprintf("CALL %s,$%04X", ccNames[y], d.imm16())
			} else { // E4, EC, F4, FC
				mn = fmt.Sprintf("DB $%02X", op)
			}
		case 5:
			switch {
			case !q:
				mn = "PUSH " + rp2Names[p]
			case p == 0:
				mn = fmt.Sprintf("CALL $%04X", d.imm16())
			default: // DD, ED, FD
				mn = fmt.Sprintf("DB $%02X", op)
			}
		case 6:
			mn = fmt.Sprintf("%s$%02X", aluNames[y], d.imm8())
		default:
			mn = fmt.Sprintf("RST $%02X", y*8)
		}
	}
	return Instruction{Addr: addr, Bytes: d.bytes, Mnemonic: mn}
}

func decodeCB(op byte) string {
	x := op >> 6
	y := (op >> 3) & 0x07
	z := op & 0x07
	switch x {
	case 0:
		return rotNames[y] + " " + regNames[z]
	case 1:
		return fmt.Sprintf("BIT %d,%s", y, regNames[z])
	case 2:
		return fmt.Sprintf("RES %d,%s", y, regNames[z])
	default:
		return fmt.Sprintf("SET %d,%s", y, regNames[z])
	}
}
