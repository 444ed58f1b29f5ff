package cpu

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"log"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/interrupt"
)

// Bus is the memory and interrupt capability the CPU executes against. Word
// accesses are little-endian compositions of two byte accesses.
type Bus interface {
	Read(addr uint16) byte
	Write(addr uint16, value byte)
	ReadWord(addr uint16) uint16
	WriteWord(addr uint16, value uint16)
	InterruptEnable() interrupt.Flag
	InterruptFlag() interrupt.Flag
	InterruptPending() bool
	AckInterrupt(f interrupt.Flag)
}

// CPU models the SM83 core: eight 8-bit registers viewable as AF/BC/DE/HL
// pairs, SP/PC, the interrupt master enable, and the halt state machine.
// It owns no memory; every Step borrows a Bus for the one instruction.
type CPU struct {
	A, F byte
	B, C byte
	D, E byte
	H, L byte

	SP uint16
	PC uint16

	IME    bool
	halted bool
	// haltBug suppresses exactly one PC increment on the next opcode fetch.
	haltBug bool

	// debug controls; no effect on emulated semantics
	breakpoint    uint16
	breakpointSet bool
	softBreak     bool
	paused        bool
}

// New returns a CPU in the pre-boot state (PC=0, SP=0xFFFE), ready to run a
// boot ROM. Call ResetNoBoot to skip the boot sequence instead.
func New() *CPU {
	return &CPU{SP: 0xFFFE}
}

// SetPC allows tests, the boot path or a debugger to set the program counter.
func (c *CPU) SetPC(pc uint16) { c.PC = pc }

// ResetNoBoot sets registers to the DMG post-boot state, for running without
// a boot ROM. The caller is expected to also set PC (usually 0x0100).
func (c *CPU) ResetNoBoot() {
	c.A, c.F = 0x01, 0xB0
	c.B, c.C = 0x00, 0x13
	c.D, c.E = 0x00, 0xD8
	c.H, c.L = 0x01, 0x4D
	c.SP = 0xFFFE
	c.IME = false
	c.halted = false
	c.haltBug = false
}

// Flag bits in F. The low nibble of F always reads as zero.
const (
	flagZ byte = 1 << 7
	flagN byte = 1 << 6
	flagH byte = 1 << 5
	flagC byte = 1 << 4
)

func (c *CPU) setZNHC(z, n, h, carry bool) {
	var f byte
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	if carry {
		f |= flagC
	}
	c.F = f
}

// setZNH updates Z/N/H and preserves C, for INC/DEC.
func (c *CPU) setZNH(z, n, h bool) {
	f := c.F & flagC
	if z {
		f |= flagZ
	}
	if n {
		f |= flagN
	}
	if h {
		f |= flagH
	}
	c.F = f
}

func (c *CPU) getAF() uint16  { return uint16(c.A)<<8 | uint16(c.F&0xF0) }
func (c *CPU) setAF(v uint16) { c.A = byte(v >> 8); c.F = byte(v) & 0xF0 }
func (c *CPU) getBC() uint16  { return uint16(c.B)<<8 | uint16(c.C) }
func (c *CPU) setBC(v uint16) { c.B = byte(v >> 8); c.C = byte(v) }
func (c *CPU) getDE() uint16  { return uint16(c.D)<<8 | uint16(c.E) }
func (c *CPU) setDE(v uint16) { c.D = byte(v >> 8); c.E = byte(v) }
func (c *CPU) getHL() uint16  { return uint16(c.H)<<8 | uint16(c.L) }
func (c *CPU) setHL(v uint16) { c.H = byte(v >> 8); c.L = byte(v) }

// AF/BC/DE/HL expose the pairs for tools and tests.
func (c *CPU) AF() uint16 { return c.getAF() }
func (c *CPU) BC() uint16 { return c.getBC() }
func (c *CPU) DE() uint16 { return c.getDE() }
func (c *CPU) HL() uint16 { return c.getHL() }

func (c *CPU) fetch8(b Bus) byte {
	v := b.Read(c.PC)
	c.PC++
	return v
}

func (c *CPU) fetch16(b Bus) uint16 {
	lo := uint16(c.fetch8(b))
	hi := uint16(c.fetch8(b))
	return lo | hi<<8
}

// push16 pre-decrements SP by 2, then stores low byte at SP and high at SP+1.
func (c *CPU) push16(b Bus, v uint16) {
	c.SP -= 2
	b.WriteWord(c.SP, v)
}

func (c *CPU) pop16(b Bus) uint16 {
	v := b.ReadWord(c.SP)
	c.SP += 2
	return v
}

// --- 8-bit ALU helpers ---

func (c *CPU) add8(v byte) {
	r := uint16(c.A) + uint16(v)
	h := (c.A&0x0F)+(v&0x0F) > 0x0F
	c.A = byte(r)
	c.setZNHC(c.A == 0, false, h, r > 0xFF)
}

func (c *CPU) adc8(v byte) {
	ci := byte(0)
	if c.F&flagC != 0 {
		ci = 1
	}
	r := uint16(c.A) + uint16(v) + uint16(ci)
	h := (c.A&0x0F)+(v&0x0F)+ci > 0x0F
	c.A = byte(r)
	c.setZNHC(c.A == 0, false, h, r > 0xFF)
}

func (c *CPU) sub8(v byte) {
	h := c.A&0x0F < v&0x0F
	cy := c.A < v
	c.A -= v
	c.setZNHC(c.A == 0, true, h, cy)
}

func (c *CPU) sbc8(v byte) {
	ci := byte(0)
	if c.F&flagC != 0 {
		ci = 1
	}
	h := uint16(c.A&0x0F) < uint16(v&0x0F)+uint16(ci)
	cy := uint16(c.A) < uint16(v)+uint16(ci)
	c.A = c.A - v - ci
	c.setZNHC(c.A == 0, true, h, cy)
}

func (c *CPU) and8(v byte) {
	c.A &= v
	c.setZNHC(c.A == 0, false, true, false)
}

func (c *CPU) xor8(v byte) {
	c.A ^= v
	c.setZNHC(c.A == 0, false, false, false)
}

func (c *CPU) or8(v byte) {
	c.A |= v
	c.setZNHC(c.A == 0, false, false, false)
}

func (c *CPU) cp8(v byte) {
	h := c.A&0x0F < v&0x0F
	c.setZNHC(c.A == v, true, h, c.A < v)
}

func (c *CPU) inc8(v byte) byte {
	r := v + 1
	c.setZNH(r == 0, false, v&0x0F == 0x0F)
	return r
}

func (c *CPU) dec8(v byte) byte {
	r := v - 1
	c.setZNH(r == 0, true, v&0x0F == 0)
	return r
}

// addHL implements ADD HL,rr: Z preserved, H from bit 11, C from bit 15.
func (c *CPU) addHL(v uint16) {
	hl := c.getHL()
	r := uint32(hl) + uint32(v)
	f := c.F & flagZ
	if hl&0x0FFF+v&0x0FFF > 0x0FFF {
		f |= flagH
	}
	if r > 0xFFFF {
		f |= flagC
	}
	c.F = f
	c.setHL(uint16(r))
}

// addSPr8 computes SP+r8 with the signed immediate already fetched; flags come
// from the unsigned low-byte addition (Z=0, N=0, H bit 3, C bit 7).
func (c *CPU) addSPr8(off int8) uint16 {
	uo := uint16(int16(off))
	h := c.SP&0x0F+uo&0x0F > 0x0F
	cy := c.SP&0xFF+uo&0xFF > 0xFF
	c.setZNHC(false, false, h, cy)
	return c.SP + uo
}

// daa adjusts A to packed BCD after an add or subtract, using N/H/C and the
// nibbles of A. Z from the result, N preserved, H cleared, C sticky-or-set.
func (c *CPU) daa() {
	a := c.A
	carry := c.F&flagC != 0
	if c.F&flagN == 0 {
		if c.F&flagH != 0 || a&0x0F > 0x09 {
			a += 0x06
		}
		if carry || c.A > 0x99 {
			a += 0x60
			carry = true
		}
	} else {
		if c.F&flagH != 0 {
			a -= 0x06
		}
		if carry {
			a -= 0x60
		}
	}
	n := c.F&flagN != 0
	c.setZNHC(a == 0, n, false, carry)
	c.A = a
}

// --- rotate/shift helpers (CB semantics: Z from result) ---

func (c *CPU) rlc8(v byte) byte {
	cy := v&0x80 != 0
	v = v<<1 | v>>7
	c.setZNHC(v == 0, false, false, cy)
	return v
}

func (c *CPU) rrc8(v byte) byte {
	cy := v&1 != 0
	v = v>>1 | v<<7
	c.setZNHC(v == 0, false, false, cy)
	return v
}

func (c *CPU) rl8(v byte) byte {
	cy := v&0x80 != 0
	v <<= 1
	if c.F&flagC != 0 {
		v |= 1
	}
	c.setZNHC(v == 0, false, false, cy)
	return v
}

func (c *CPU) rr8(v byte) byte {
	cy := v&1 != 0
	v >>= 1
	if c.F&flagC != 0 {
		v |= 0x80
	}
	c.setZNHC(v == 0, false, false, cy)
	return v
}

func (c *CPU) sla8(v byte) byte {
	cy := v&0x80 != 0
	v <<= 1
	c.setZNHC(v == 0, false, false, cy)
	return v
}

func (c *CPU) sra8(v byte) byte {
	cy := v&1 != 0
	v = v>>1 | v&0x80
	c.setZNHC(v == 0, false, false, cy)
	return v
}

func (c *CPU) swap8(v byte) byte {
	v = v<<4 | v>>4
	c.setZNHC(v == 0, false, false, false)
	return v
}

func (c *CPU) srl8(v byte) byte {
	cy := v&1 != 0
	v >>= 1
	c.setZNHC(v == 0, false, false, cy)
	return v
}

// reg8 reads operand index 0..7 (B,C,D,E,H,L,(HL),A).
func (c *CPU) reg8(b Bus, idx byte) byte {
	switch idx {
	case 0:
		return c.B
	case 1:
		return c.C
	case 2:
		return c.D
	case 3:
		return c.E
	case 4:
		return c.H
	case 5:
		return c.L
	case 6:
		return b.Read(c.getHL())
	default:
		return c.A
	}
}

func (c *CPU) setReg8(b Bus, idx, v byte) {
	switch idx {
	case 0:
		c.B = v
	case 1:
		c.C = v
	case 2:
		c.D = v
	case 3:
		c.E = v
	case 4:
		c.H = v
	case 5:
		c.L = v
	case 6:
		b.Write(c.getHL(), v)
	default:
		c.A = v
	}
}

// --- control flow helpers; taken branches pay the higher fixed cost ---

func (c *CPU) jr(b Bus, taken bool) int {
	off := int8(c.fetch8(b))
	if !taken {
		return 8
	}
	c.PC += uint16(int16(off))
	return 12
}

func (c *CPU) jp(b Bus, taken bool) int {
	addr := c.fetch16(b)
	if !taken {
		return 12
	}
	c.PC = addr
	return 16
}

func (c *CPU) call(b Bus, taken bool) int {
	addr := c.fetch16(b)
	if !taken {
		return 12
	}
	c.push16(b, c.PC)
	c.PC = addr
	return 24
}

func (c *CPU) retIf(b Bus, taken bool) int {
	if !taken {
		return 8
	}
	c.PC = c.pop16(b)
	return 20
}

func (c *CPU) rst(b Bus, vector uint16) int {
	c.push16(b, c.PC)
	c.PC = vector
	return 16
}

// Step executes exactly one instruction (or the halted no-op) and returns its
// cost in clock ticks. The caller advances peripherals by that many ticks and
// calls HandleInterrupt after each one.
func (c *CPU) Step(b Bus) int {
	if c.breakpointSet && c.PC == c.breakpoint {
		c.paused = true
	}
	if c.halted {
		return 4
	}

	origPC := c.PC
	op := b.Read(c.PC)
	if c.haltBug {
		// one-shot: the same opcode byte will be fetched again next Step
		c.haltBug = false
	} else {
		c.PC++
	}
	if c.softBreak && op == 0x40 {
		c.paused = true
	}

	switch op {
	case 0x00: // NOP
		return 4

	// --- 16-bit loads ---
	case 0x01: // LD BC,d16
		c.setBC(c.fetch16(b))
		return 12
	case 0x11: // LD DE,d16
		c.setDE(c.fetch16(b))
		return 12
	case 0x21: // LD HL,d16
		c.setHL(c.fetch16(b))
		return 12
	case 0x31: // LD SP,d16
		c.SP = c.fetch16(b)
		return 12
	case 0x08: // LD (a16),SP
		b.WriteWord(c.fetch16(b), c.SP)
		return 20
	case 0xF9: // LD SP,HL
		c.SP = c.getHL()
		return 8
	case 0xF8: // LD HL,SP+r8
		c.setHL(c.addSPr8(int8(c.fetch8(b))))
		return 12

	// --- 8-bit immediate loads ---
	case 0x06:
		c.B = c.fetch8(b)
		return 8
	case 0x0E:
		c.C = c.fetch8(b)
		return 8
	case 0x16:
		c.D = c.fetch8(b)
		return 8
	case 0x1E:
		c.E = c.fetch8(b)
		return 8
	case 0x26:
		c.H = c.fetch8(b)
		return 8
	case 0x2E:
		c.L = c.fetch8(b)
		return 8
	case 0x36: // LD (HL),d8
		b.Write(c.getHL(), c.fetch8(b))
		return 12
	case 0x3E:
		c.A = c.fetch8(b)
		return 8

	// --- loads through register pairs ---
	case 0x02: // LD (BC),A
		b.Write(c.getBC(), c.A)
		return 8
	case 0x12: // LD (DE),A
		b.Write(c.getDE(), c.A)
		return 8
	case 0x0A: // LD A,(BC)
		c.A = b.Read(c.getBC())
		return 8
	case 0x1A: // LD A,(DE)
		c.A = b.Read(c.getDE())
		return 8
	case 0x22: // LD (HL+),A
		b.Write(c.getHL(), c.A)
		c.setHL(c.getHL() + 1)
		return 8
	case 0x32: // LD (HL-),A
		b.Write(c.getHL(), c.A)
		c.setHL(c.getHL() - 1)
		return 8
	case 0x2A: // LD A,(HL+)
		c.A = b.Read(c.getHL())
		c.setHL(c.getHL() + 1)
		return 8
	case 0x3A: // LD A,(HL-)
		c.A = b.Read(c.getHL())
		c.setHL(c.getHL() - 1)
		return 8

	// --- absolute/high loads ---
	case 0xEA: // LD (a16),A
		b.Write(c.fetch16(b), c.A)
		return 16
	case 0xFA: // LD A,(a16)
		c.A = b.Read(c.fetch16(b))
		return 16
	case 0xE0: // LDH (a8),A
		b.Write(0xFF00+uint16(c.fetch8(b)), c.A)
		return 12
	case 0xF0: // LDH A,(a8)
		c.A = b.Read(0xFF00 + uint16(c.fetch8(b)))
		return 12
	case 0xE2: // LD (C),A
		b.Write(0xFF00+uint16(c.C), c.A)
		return 8
	case 0xF2: // LD A,(C)
		c.A = b.Read(0xFF00 + uint16(c.C))
		return 8

	// --- LD r,r' block (0x76 is HALT, handled below) ---
	case 0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47,
		0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F,
		0x50, 0x51, 0x52, 0x53, 0x54, 0x55, 0x56, 0x57,
		0x58, 0x59, 0x5A, 0x5B, 0x5C, 0x5D, 0x5E, 0x5F,
		0x60, 0x61, 0x62, 0x63, 0x64, 0x65, 0x66, 0x67,
		0x68, 0x69, 0x6A, 0x6B, 0x6C, 0x6D, 0x6E, 0x6F,
		0x70, 0x71, 0x72, 0x73, 0x74, 0x75, 0x77,
		0x78, 0x79, 0x7A, 0x7B, 0x7C, 0x7D, 0x7E, 0x7F:
		d := (op >> 3) & 7
		s := op & 7
		c.setReg8(b, d, c.reg8(b, s))
		if d == 6 || s == 6 {
			return 8
		}
		return 4

	case 0x76: // HALT
		if !c.IME && b.InterruptPending() {
			// hardware quirk: do not halt, fetch the next opcode byte twice
			c.haltBug = true
		} else {
			c.halted = true
		}
		return 4

	case 0x10: // STOP, modeled as a plain halt
		c.halted = true
		return 4

	// --- 8-bit ALU on operand block ---
	case 0x80, 0x81, 0x82, 0x83, 0x84, 0x85, 0x86, 0x87: // ADD A,r
		c.add8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0x88, 0x89, 0x8A, 0x8B, 0x8C, 0x8D, 0x8E, 0x8F: // ADC A,r
		c.adc8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0x90, 0x91, 0x92, 0x93, 0x94, 0x95, 0x96, 0x97: // SUB r
		c.sub8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0x98, 0x99, 0x9A, 0x9B, 0x9C, 0x9D, 0x9E, 0x9F: // SBC A,r
		c.sbc8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7: // AND r
		c.and8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF: // XOR r
		c.xor8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0xB0, 0xB1, 0xB2, 0xB3, 0xB4, 0xB5, 0xB6, 0xB7: // OR r
		c.or8(c.reg8(b, op&7))
		return aluCycles(op)
	case 0xB8, 0xB9, 0xBA, 0xBB, 0xBC, 0xBD, 0xBE, 0xBF: // CP r
		c.cp8(c.reg8(b, op&7))
		return aluCycles(op)

	// --- 8-bit ALU with immediate ---
	case 0xC6:
		c.add8(c.fetch8(b))
		return 8
	case 0xCE:
		c.adc8(c.fetch8(b))
		return 8
	case 0xD6:
		c.sub8(c.fetch8(b))
		return 8
	case 0xDE:
		c.sbc8(c.fetch8(b))
		return 8
	case 0xE6:
		c.and8(c.fetch8(b))
		return 8
	case 0xEE:
		c.xor8(c.fetch8(b))
		return 8
	case 0xF6:
		c.or8(c.fetch8(b))
		return 8
	case 0xFE:
		c.cp8(c.fetch8(b))
		return 8

	// --- INC/DEC 8-bit (C flag preserved) ---
	case 0x04:
		c.B = c.inc8(c.B)
		return 4
	case 0x0C:
		c.C = c.inc8(c.C)
		return 4
	case 0x14:
		c.D = c.inc8(c.D)
		return 4
	case 0x1C:
		c.E = c.inc8(c.E)
		return 4
	case 0x24:
		c.H = c.inc8(c.H)
		return 4
	case 0x2C:
		c.L = c.inc8(c.L)
		return 4
	case 0x3C:
		c.A = c.inc8(c.A)
		return 4
	case 0x34: // INC (HL)
		b.Write(c.getHL(), c.inc8(b.Read(c.getHL())))
		return 12
	case 0x05:
		c.B = c.dec8(c.B)
		return 4
	case 0x0D:
		c.C = c.dec8(c.C)
		return 4
	case 0x15:
		c.D = c.dec8(c.D)
		return 4
	case 0x1D:
		c.E = c.dec8(c.E)
		return 4
	case 0x25:
		c.H = c.dec8(c.H)
		return 4
	case 0x2D:
		c.L = c.dec8(c.L)
		return 4
	case 0x3D:
		c.A = c.dec8(c.A)
		return 4
	case 0x35: // DEC (HL)
		b.Write(c.getHL(), c.dec8(b.Read(c.getHL())))
		return 12

	// --- 16-bit arithmetic (flags untouched for INC/DEC rr) ---
	case 0x03:
		c.setBC(c.getBC() + 1)
		return 8
	case 0x13:
		c.setDE(c.getDE() + 1)
		return 8
	case 0x23:
		c.setHL(c.getHL() + 1)
		return 8
	case 0x33:
		c.SP++
		return 8
	case 0x0B:
		c.setBC(c.getBC() - 1)
		return 8
	case 0x1B:
		c.setDE(c.getDE() - 1)
		return 8
	case 0x2B:
		c.setHL(c.getHL() - 1)
		return 8
	case 0x3B:
		c.SP--
		return 8
	case 0x09:
		c.addHL(c.getBC())
		return 8
	case 0x19:
		c.addHL(c.getDE())
		return 8
	case 0x29:
		c.addHL(c.getHL())
		return 8
	case 0x39:
		c.addHL(c.SP)
		return 8
	case 0xE8: // ADD SP,r8
		c.SP = c.addSPr8(int8(c.fetch8(b)))
		return 16

	// --- accumulator rotates (Z always cleared) ---
	case 0x07: // RLCA
		cy := c.A&0x80 != 0
		c.A = c.A<<1 | c.A>>7
		c.setZNHC(false, false, false, cy)
		return 4
	case 0x0F: // RRCA
		cy := c.A&1 != 0
		c.A = c.A>>1 | c.A<<7
		c.setZNHC(false, false, false, cy)
		return 4
	case 0x17: // RLA
		cy := c.A&0x80 != 0
		c.A <<= 1
		if c.F&flagC != 0 {
			c.A |= 1
		}
		c.setZNHC(false, false, false, cy)
		return 4
	case 0x1F: // RRA
		cy := c.A&1 != 0
		c.A >>= 1
		if c.F&flagC != 0 {
			c.A |= 0x80
		}
		c.setZNHC(false, false, false, cy)
		return 4

	// --- misc accumulator/flags ---
	case 0x27: // DAA
		c.daa()
		return 4
	case 0x2F: // CPL
		c.A = ^c.A
		c.F = c.F&(flagZ|flagC) | flagN | flagH
		return 4
	case 0x37: // SCF
		c.F = c.F&flagZ | flagC
		return 4
	case 0x3F: // CCF
		c.F = c.F&flagZ | (c.F&flagC ^ flagC)
		return 4

	// --- jumps ---
	case 0x18:
		return c.jr(b, true)
	case 0x20:
		return c.jr(b, c.F&flagZ == 0)
	case 0x28:
		return c.jr(b, c.F&flagZ != 0)
	case 0x30:
		return c.jr(b, c.F&flagC == 0)
	case 0x38:
		return c.jr(b, c.F&flagC != 0)
	case 0xC3:
		return c.jp(b, true)
	case 0xC2:
		return c.jp(b, c.F&flagZ == 0)
	case 0xCA:
		return c.jp(b, c.F&flagZ != 0)
	case 0xD2:
		return c.jp(b, c.F&flagC == 0)
	case 0xDA:
		return c.jp(b, c.F&flagC != 0)
	case 0xE9: // JP (HL)
		c.PC = c.getHL()
		return 4

	// --- calls/returns ---
	case 0xCD:
		return c.call(b, true)
	case 0xC4:
		return c.call(b, c.F&flagZ == 0)
	case 0xCC:
		return c.call(b, c.F&flagZ != 0)
	case 0xD4:
		return c.call(b, c.F&flagC == 0)
	case 0xDC:
		return c.call(b, c.F&flagC != 0)
	case 0xC9: // RET
		c.PC = c.pop16(b)
		return 16
	case 0xD9: // RETI
		c.PC = c.pop16(b)
		c.IME = true
		return 16
	case 0xC0:
		return c.retIf(b, c.F&flagZ == 0)
	case 0xC8:
		return c.retIf(b, c.F&flagZ != 0)
	case 0xD0:
		return c.retIf(b, c.F&flagC == 0)
	case 0xD8:
		return c.retIf(b, c.F&flagC != 0)
	case 0xC7:
		return c.rst(b, 0x00)
	case 0xCF:
		return c.rst(b, 0x08)
	case 0xD7:
		return c.rst(b, 0x10)
	case 0xDF:
		return c.rst(b, 0x18)
	case 0xE7:
		return c.rst(b, 0x20)
	case 0xEF:
		return c.rst(b, 0x28)
	case 0xF7:
		return c.rst(b, 0x30)
	case 0xFF:
		return c.rst(b, 0x38)

	// --- stack ---
	case 0xC5:
		c.push16(b, c.getBC())
		return 16
	case 0xD5:
		c.push16(b, c.getDE())
		return 16
	case 0xE5:
		c.push16(b, c.getHL())
		return 16
	case 0xF5:
		c.push16(b, c.getAF())
		return 16
	case 0xC1:
		c.setBC(c.pop16(b))
		return 12
	case 0xD1:
		c.setDE(c.pop16(b))
		return 12
	case 0xE1:
		c.setHL(c.pop16(b))
		return 12
	case 0xF1: // POP AF masks the low nibble of F
		c.setAF(c.pop16(b))
		return 12

	// --- interrupt master enable ---
	case 0xF3: // DI
		c.IME = false
		return 4
	case 0xFB: // EI
		c.IME = true
		return 4

	case 0xCB:
		return c.stepCB(b)

	default:
		// 0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD
		log.Printf("cpu: unknown opcode 0x%02X at $%04X, treating as no-op", op, origPC)
		return 0
	}
}

func aluCycles(op byte) int {
	if op&7 == 6 {
		return 8
	}
	return 4
}

// stepCB decodes the 0xCB-prefixed table: bits 7-6 select the family, bits
// 5-3 the rotate kind or bit number, bits 2-0 the operand.
func (c *CPU) stepCB(b Bus) int {
	cb := c.fetch8(b)
	idx := cb & 7
	y := (cb >> 3) & 7

	switch (cb >> 6) & 3 {
	case 0: // rotates and shifts
		v := c.reg8(b, idx)
		switch y {
		case 0:
			v = c.rlc8(v)
		case 1:
			v = c.rrc8(v)
		case 2:
			v = c.rl8(v)
		case 3:
			v = c.rr8(v)
		case 4:
			v = c.sla8(v)
		case 5:
			v = c.sra8(v)
		case 6:
			v = c.swap8(v)
		case 7:
			v = c.srl8(v)
		}
		c.setReg8(b, idx, v)
	case 1: // BIT y,r: Z from the tested bit, C preserved
		v := c.reg8(b, idx)
		f := c.F & flagC
		if v&(1<<y) == 0 {
			f |= flagZ
		}
		f |= flagH
		c.F = f
		if idx == 6 {
			return 12
		}
		return 8
	case 2: // RES y,r
		c.setReg8(b, idx, c.reg8(b, idx)&^(1<<y))
	case 3: // SET y,r
		c.setReg8(b, idx, c.reg8(b, idx)|1<<y)
	}
	if idx == 6 {
		return 16
	}
	return 8
}

// HandleInterrupt is called by the host after every elapsed tick. A pending
// interrupt always wakes a halted CPU; with IME set, the highest-priority
// pending source is serviced: IME cleared, the IF bit acknowledged, PC pushed
// and control transferred to the vector. Returns the ticks to charge (20 on
// service, else 0).
func (c *CPU) HandleInterrupt(b Bus) int {
	if !b.InterruptPending() {
		return 0
	}
	c.halted = false
	if !c.IME {
		return 0
	}
	pending := b.InterruptEnable() & b.InterruptFlag()
	for _, f := range interrupt.Priority {
		if pending&f != 0 {
			c.IME = false
			b.AckInterrupt(f)
			c.push16(b, c.PC)
			c.PC = f.Vector()
			return 20
		}
	}
	return 0
}

// Halted reports whether the CPU is in the low-power halt state.
func (c *CPU) Halted() bool { return c.halted }

// IsPaused reports whether a breakpoint or soft break has fired. Pausing is
// advisory: the driver is expected to stop calling Step until SetPause(false).
func (c *CPU) IsPaused() bool { return c.paused }

// SetPause sets or clears the debug pause flag.
func (c *CPU) SetPause(p bool) { c.paused = p }

// SetBreakpoint pauses execution when PC reaches addr.
func (c *CPU) SetBreakpoint(addr uint16) {
	c.breakpoint = addr
	c.breakpointSet = true
}

// ClearBreakpoint removes the breakpoint.
func (c *CPU) ClearBreakpoint() { c.breakpointSet = false }

// SetSoftBreakpoints toggles pausing on the LD B,B opcode (0x40), which test
// ROMs use as an embedded breakpoint.
func (c *CPU) SetSoftBreakpoints(on bool) { c.softBreak = on }

// DumpCPU returns a one-line human-readable snapshot for debugging.
func (c *CPU) DumpCPU() string {
	return fmt.Sprintf("PC=$%04X SP=$%04X AF=$%04X BC=$%04X DE=$%04X HL=$%04X flags=%s IME=%t halted=%t",
		c.PC, c.SP, c.getAF(), c.getBC(), c.getDE(), c.getHL(), c.flagString(), c.IME, c.halted)
}

func (c *CPU) flagString() string {
	s := []byte{'-', '-', '-', '-'}
	if c.F&flagZ != 0 {
		s[0] = 'Z'
	}
	if c.F&flagN != 0 {
		s[1] = 'N'
	}
	if c.F&flagH != 0 {
		s[2] = 'H'
	}
	if c.F&flagC != 0 {
		s[3] = 'C'
	}
	return string(s)
}

// --- Save/Load state ---

type cpuState struct {
	A, F, B, C, D, E, H, L byte
	SP, PC                 uint16
	IME, Halted, HaltBug   bool
}

func (c *CPU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(cpuState{
		A: c.A, F: c.F, B: c.B, C: c.C, D: c.D, E: c.E, H: c.H, L: c.L,
		SP: c.SP, PC: c.PC,
		IME: c.IME, Halted: c.halted, HaltBug: c.haltBug,
	})
	return buf.Bytes()
}

func (c *CPU) LoadState(data []byte) {
	var s cpuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	c.A, c.F, c.B, c.C, c.D, c.E, c.H, c.L = s.A, s.F, s.B, s.C, s.D, s.E, s.H, s.L
	c.SP, c.PC = s.SP, s.PC
	c.IME, c.halted, c.haltBug = s.IME, s.Halted, s.HaltBug
}
