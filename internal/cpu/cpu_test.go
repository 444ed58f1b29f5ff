package cpu

import (
	"io"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/interrupt"
)

// testBus is a flat 64 KiB RAM with just enough interrupt plumbing for the
// core. Every address is writable, so programs can patch themselves.
type testBus struct {
	mem [0x10000]byte
}

func (t *testBus) Read(addr uint16) byte          { return t.mem[addr] }
func (t *testBus) Write(addr uint16, value byte)  { t.mem[addr] = value }
func (t *testBus) ReadWord(addr uint16) uint16 {
	return uint16(t.mem[addr]) | uint16(t.mem[addr+1])<<8
}
func (t *testBus) WriteWord(addr uint16, value uint16) {
	t.mem[addr] = byte(value)
	t.mem[addr+1] = byte(value >> 8)
}
func (t *testBus) InterruptEnable() interrupt.Flag {
	return interrupt.Flag(t.mem[0xFFFF]) & interrupt.Mask
}
func (t *testBus) InterruptFlag() interrupt.Flag {
	return interrupt.Flag(t.mem[0xFF0F]) & interrupt.Mask
}
func (t *testBus) InterruptPending() bool {
	return t.InterruptEnable()&t.InterruptFlag() != 0
}
func (t *testBus) AckInterrupt(f interrupt.Flag) { t.mem[0xFF0F] &^= byte(f) }

func newTestCPU(code []byte) (*CPU, *testBus) {
	b := &testBus{}
	copy(b.mem[:], code)
	return New(), b
}

func TestCPU_NopAndPC(t *testing.T) {
	c, b := newTestCPU([]byte{0x00}) // NOP
	if cycles := c.Step(b); cycles != 4 {
		t.Fatalf("NOP cycles got %d want 4", cycles)
	}
	if c.PC != 1 {
		t.Fatalf("PC after NOP got %#04x want 0x0001", c.PC)
	}
}

func TestCPU_LD_A_d8_And_XOR_A(t *testing.T) {
	c, b := newTestCPU([]byte{0x3E, 0x12, 0xAF}) // LD A,0x12; XOR A
	c.Step(b)                                    // LD
	if c.A != 0x12 {
		t.Fatalf("A after LD got %02x want 12", c.A)
	}
	c.Step(b) // XOR A
	if c.A != 0x00 {
		t.Fatalf("A after XOR got %02x want 00", c.A)
	}
	if c.F != flagZ {
		t.Fatalf("XOR A should leave only Z set, F=%02X", c.F)
	}
}

func TestCPU_LD_a16_A_and_LD_A_a16(t *testing.T) {
	// LD A,0x77; LD (0xC000),A; LD A,0x00; LD A,(0xC000)
	prog := []byte{0x3E, 0x77, 0xEA, 0x00, 0xC0, 0x3E, 0x00, 0xFA, 0x00, 0xC0}
	c, b := newTestCPU(prog)
	c.Step(b) // LD A,77
	c.Step(b) // LD (C000),A
	if v := b.Read(0xC000); v != 0x77 {
		t.Fatalf("mem at C000 got %02x want 77", v)
	}
	c.Step(b) // LD A,00
	c.Step(b) // LD A,(C000)
	if c.A != 0x77 {
		t.Fatalf("A after LD A,(C000) got %02x want 77", c.A)
	}
}

func TestCPU_JP_and_JR(t *testing.T) {
	c, b := newTestCPU([]byte{0xC3, 0x10, 0x00}) // JP 0x0010
	// at 0x0010: JR -2, which hops back to 0x0010 itself
	b.mem[0x0010] = 0x18
	b.mem[0x0011] = 0xFE
	cycles := c.Step(b) // JP
	if cycles != 16 || c.PC != 0x0010 {
		t.Fatalf("JP cycles=%d PC=%#04x want cycles=16 PC=0x0010", cycles, c.PC)
	}
	pcBefore := c.PC
	c.Step(b) // JR -2
	if c.PC != pcBefore {
		t.Fatalf("JR -2 PC got %#04x want %#04x", c.PC, pcBefore)
	}
}

func TestCPU_INC_B_Flags(t *testing.T) {
	c, b := newTestCPU([]byte{0x04, 0x04}) // INC B twice
	c.B = 0x0F
	c.F = flagC // carry set initially
	c.Step(b)
	if c.B != 0x10 {
		t.Fatalf("INC B result got %02x want 10", c.B)
	}
	if c.F&flagH == 0 {
		t.Fatalf("INC B should set H flag, F=%02X", c.F)
	}
	if c.F&flagC == 0 {
		t.Fatalf("INC B should preserve C flag, F=%02X", c.F)
	}
	c.B = 0xFF
	c.Step(b)
	if c.B != 0x00 || c.F&flagZ == 0 {
		t.Fatalf("INC B to 0 should set Z flag, B=%02x F=%02X", c.B, c.F)
	}
}

func TestCPU_DEC_B_Flags(t *testing.T) {
	c, b := newTestCPU([]byte{0x05, 0x05, 0x05}) // DEC B three times
	c.B = 0x10
	c.F = flagC
	c.Step(b)
	// 0x10 -> 0x0F borrows across bit 4
	if c.B != 0x0F || c.F&flagH == 0 || c.F&flagN == 0 || c.F&flagC == 0 {
		t.Fatalf("DEC B 0x10 got B=%02X F=%02X want 0F with N,H set and C kept", c.B, c.F)
	}
	c.B = 0x01
	c.Step(b)
	if c.B != 0x00 || c.F&flagZ == 0 {
		t.Fatalf("DEC B to 0 should set Z, B=%02X F=%02X", c.B, c.F)
	}
	c.Step(b) // 0x00 -> 0xFF
	if c.B != 0xFF || c.F&flagH == 0 {
		t.Fatalf("DEC B wrap got B=%02X F=%02X want FF with H set", c.B, c.F)
	}
}

func TestCPU_LD_16bit_and_LDH(t *testing.T) {
	prog := []byte{
		0x21, 0x00, 0xC0, // LD HL,C000
		0x36, 0x5A, // LD (HL),5A
		0xF0, 0x00, // LDH A,(FF00+0)
		0xE0, 0x01, // LDH (FF00+1),A
		0xE2, // LD (C),A
		0xF2, // LD A,(C)
	}
	c, b := newTestCPU(prog)
	b.mem[0xFF00] = 0x0F

	c.Step(b)
	c.Step(b)
	if v := b.Read(0xC000); v != 0x5A {
		t.Fatalf("mem C000 got %02x want 5A", v)
	}
	if cyc := c.Step(b); cyc != 12 || c.A != 0x0F {
		t.Fatalf("LDH A,(a8) cyc=%d A=%02X want cyc=12 A=0F", cyc, c.A)
	}
	if cyc := c.Step(b); cyc != 12 || b.Read(0xFF01) != 0x0F {
		t.Fatalf("LDH (a8),A cyc=%d mem=%02X", cyc, b.Read(0xFF01))
	}
	c.C = 0x02
	c.A = 0x99
	if cyc := c.Step(b); cyc != 8 || b.Read(0xFF02) != 0x99 {
		t.Fatalf("LD (C),A cyc=%d mem=%02X", cyc, b.Read(0xFF02))
	}
	c.A = 0x00
	if cyc := c.Step(b); cyc != 8 || c.A != 0x99 {
		t.Fatalf("LD A,(C) cyc=%d A=%02X", cyc, c.A)
	}
}

func TestCPU_CALL_RET(t *testing.T) {
	c, b := newTestCPU(nil)
	b.mem[0x0000] = 0xCD // CALL 0x0005
	b.mem[0x0001] = 0x05
	b.mem[0x0002] = 0x00
	b.mem[0x0005] = 0xC9 // RET
	c.SP = 0xFFFE
	cyc := c.Step(b) // CALL
	if cyc != 24 || c.PC != 0x0005 {
		t.Fatalf("CALL cyc=%d PC=%04x want 24/0005", cyc, c.PC)
	}
	if c.SP != 0xFFFC {
		t.Fatalf("SP after CALL got %04X want FFFC", c.SP)
	}
	retCycles := c.Step(b)
	if c.PC != 0x0003 || retCycles != 16 {
		t.Fatalf("RET did not return to 0003; PC=%04x cyc=%d", c.PC, retCycles)
	}
}

func TestCPU_StackRoundTrip(t *testing.T) {
	// LD BC,0x1234; PUSH BC; POP DE
	c, b := newTestCPU([]byte{0x01, 0x34, 0x12, 0xC5, 0xD1})
	c.SP = 0xFFFE
	c.Step(b) // LD BC
	if cyc := c.Step(b); cyc != 16 {
		t.Fatalf("PUSH BC cycles got %d want 16", cyc)
	}
	if c.SP != 0xFFFC {
		t.Fatalf("SP after PUSH got %04X want FFFC", c.SP)
	}
	if lo, hi := b.Read(0xFFFC), b.Read(0xFFFD); lo != 0x34 || hi != 0x12 {
		t.Fatalf("stack bytes got %02X %02X want 34 12", lo, hi)
	}
	if cyc := c.Step(b); cyc != 12 {
		t.Fatalf("POP DE cycles got %d want 12", cyc)
	}
	if c.getDE() != 0x1234 || c.SP != 0xFFFE {
		t.Fatalf("POP DE got DE=%04X SP=%04X want 1234/FFFE", c.getDE(), c.SP)
	}
}

func TestCPU_InterruptService(t *testing.T) {
	c, b := newTestCPU(nil)
	c.SetPC(0x0100)
	c.SP = 0xFFFE
	c.IME = true
	b.Write(0xFFFF, 0x01) // IE VBlank
	b.Write(0xFF0F, 0x01) // IF VBlank

	cycles := c.HandleInterrupt(b)
	if cycles != 20 {
		t.Fatalf("expected 20 cycles for interrupt service, got %d", cycles)
	}
	if c.PC != 0x0040 {
		t.Fatalf("expected PC at 0x0040 vector, got %04X", c.PC)
	}
	if c.IME {
		t.Fatal("IME should be cleared after interrupt service")
	}
	if b.Read(0xFF0F)&0x01 != 0 {
		t.Fatalf("IF VBlank bit should be acknowledged, IF=%02X", b.Read(0xFF0F))
	}
	// pushed return address on the stack
	if b.ReadWord(c.SP) != 0x0100 {
		t.Fatalf("return address on stack got %04X want 0100", b.ReadWord(c.SP))
	}
	// no further service while IME stays off
	b.Write(0xFF0F, 0x01)
	if cyc := c.HandleInterrupt(b); cyc != 0 {
		t.Fatalf("service with IME=0 should cost 0, got %d", cyc)
	}
}

func TestCPU_InterruptPriority(t *testing.T) {
	c, b := newTestCPU(nil)
	c.SetPC(0x0100)
	c.SP = 0xFFFE
	c.IME = true
	b.Write(0xFFFF, 0x05) // IE VBlank|Timer
	b.Write(0xFF0F, 0x05) // both requested

	if cyc := c.HandleInterrupt(b); cyc != 20 || c.PC != 0x0040 {
		t.Fatalf("first service cyc=%d PC=%04X want 20/0040", cyc, c.PC)
	}
	if b.Read(0xFF0F) != 0x04 {
		t.Fatalf("only the VBlank bit should clear, IF=%02X", b.Read(0xFF0F))
	}
	c.IME = true // as if the handler ran RETI
	if cyc := c.HandleInterrupt(b); cyc != 20 || c.PC != 0x0050 {
		t.Fatalf("second service cyc=%d PC=%04X want 20/0050", cyc, c.PC)
	}
	if b.Read(0xFF0F) != 0x00 {
		t.Fatalf("IF should be empty after both services, IF=%02X", b.Read(0xFF0F))
	}
}

func TestCPU_HALT_WakeAndService(t *testing.T) {
	c, b := newTestCPU([]byte{0x76, 0x00}) // HALT; NOP
	c.SP = 0xFFFE
	c.Step(b) // HALT with nothing pending
	if !c.halted {
		t.Fatal("HALT should halt when nothing is pending")
	}
	if cyc := c.Step(b); cyc != 4 {
		t.Fatalf("halted step should idle at 4 cycles, got %d", cyc)
	}
	if c.PC != 0x0001 {
		t.Fatalf("halted step must not advance PC, got %04X", c.PC)
	}
	// pending interrupt wakes the core even with IME off
	b.Write(0xFFFF, 0x02)
	b.Write(0xFF0F, 0x02)
	if cyc := c.HandleInterrupt(b); cyc != 0 {
		t.Fatalf("wake without IME should cost 0 cycles, got %d", cyc)
	}
	if c.halted {
		t.Fatal("pending interrupt should wake a halted CPU regardless of IME")
	}
	// halt again, now with IME on: wake plus service
	c.halted = true
	c.IME = true
	if cyc := c.HandleInterrupt(b); cyc != 20 || c.PC != 0x0048 {
		t.Fatalf("wake+service cyc=%d PC=%04X want 20/0048", cyc, c.PC)
	}
}

func TestCPU_HALT_Bug_DoubleFetch(t *testing.T) {
	// HALT with IME=0 and a pending interrupt does not halt; the next opcode
	// byte is fetched twice, so INC A runs twice.
	c, b := newTestCPU([]byte{0x76, 0x3C, 0x00}) // HALT; INC A; NOP
	b.Write(0xFFFF, 0x01)
	b.Write(0xFF0F, 0x01)

	cyc := c.Step(b)
	if cyc != 4 || c.halted {
		t.Fatalf("HALT bug: step after HALT got cyc=%d halted=%v", cyc, c.halted)
	}
	c.Step(b) // INC A without the PC increment
	if c.PC != 0x0001 || c.A != 0x01 {
		t.Fatalf("first fetch should stay at 0001, got PC=%04X A=%02X", c.PC, c.A)
	}
	c.Step(b) // INC A again, this time advancing
	if c.PC != 0x0002 || c.A != 0x02 {
		t.Fatalf("second fetch got PC=%04X A=%02X want 0002/02", c.PC, c.A)
	}
}

func TestCPU_DAA_AddAndSub(t *testing.T) {
	// LD A,0x45; ADD A,0x38; DAA -> 0x83 with all flags clear
	c, b := newTestCPU([]byte{0x3E, 0x45, 0xC6, 0x38, 0x27})
	c.Step(b) // LD
	c.Step(b) // ADD
	c.Step(b) // DAA
	if c.A != 0x83 {
		t.Fatalf("DAA after add got A=%02X want 83", c.A)
	}
	if c.F != 0 {
		t.Fatalf("DAA flags unexpected F=%02X", c.F)
	}

	// 0x45 - 0x06 = 0x3F; DAA adjusts to 0x39 with N kept
	b.mem[0x0010] = 0x3E
	b.mem[0x0011] = 0x45
	b.mem[0x0012] = 0xD6
	b.mem[0x0013] = 0x06
	b.mem[0x0014] = 0x27
	c.PC = 0x0010
	c.Step(b)
	c.Step(b)
	c.Step(b)
	if c.A != 0x39 || c.F&flagN == 0 {
		t.Fatalf("DAA after sub got A=%02X F=%02X", c.A, c.F)
	}
}

func TestCPU_EI_DI_Immediate(t *testing.T) {
	c, b := newTestCPU([]byte{0xFB, 0xF3}) // EI; DI
	if cyc := c.Step(b); cyc != 4 || !c.IME {
		t.Fatalf("EI should enable IME immediately, cyc=%d IME=%v", cyc, c.IME)
	}
	if cyc := c.Step(b); cyc != 4 || c.IME {
		t.Fatalf("DI should disable IME immediately, cyc=%d IME=%v", cyc, c.IME)
	}
}

func TestCPU_STOP_HaltsInPlace(t *testing.T) {
	c, b := newTestCPU([]byte{0x10, 0x00}) // STOP with padding after it
	cycles := c.Step(b)
	if cycles != 4 {
		t.Fatalf("STOP cycles got %d want 4", cycles)
	}
	if c.PC != 0x0001 {
		t.Fatalf("STOP must not consume the padding byte, PC=%04X", c.PC)
	}
	if !c.halted {
		t.Fatal("STOP should halt the core")
	}
}

func TestCPU_IllegalOpcodes(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)
	for _, op := range []byte{0xD3, 0xDB, 0xDD, 0xE3, 0xE4, 0xEB, 0xEC, 0xED, 0xF4, 0xFC, 0xFD} {
		c, b := newTestCPU([]byte{op})
		if cyc := c.Step(b); cyc != 0 {
			t.Fatalf("illegal opcode %02X should cost 0 cycles, got %d", op, cyc)
		}
		if c.PC != 0x0001 {
			t.Fatalf("illegal opcode %02X should still advance PC, got %04X", op, c.PC)
		}
	}
}

func TestCPU_CB_Prefix_CyclesAndBehavior(t *testing.T) {
	c, b := newTestCPU(nil)
	i := 0
	emit := func(bts ...byte) { copy(b.mem[i:], bts); i += len(bts) }
	emit(0x21, 0x00, 0xC0) // LD HL,C000
	emit(0x36, 0x80)       // LD (HL),80
	emit(0xCB, 0x7E)       // BIT 7,(HL)
	emit(0xCB, 0xBE)       // RES 7,(HL)
	emit(0xCB, 0xC6)       // SET 0,(HL)
	emit(0xCB, 0x00)       // RLC B

	c.Step(b)
	c.Step(b)
	// BIT 7,(HL): Z=0 because bit7 is 1, 12 cycles
	cyc := c.Step(b)
	if cyc != 12 || c.F&flagZ != 0 {
		t.Fatalf("BIT 7,(HL) cycles/Z got cyc=%d F=%02X", cyc, c.F)
	}
	cyc = c.Step(b)
	if cyc != 16 || b.Read(0xC000) != 0x00 {
		t.Fatalf("RES 7,(HL) got cyc=%d mem=%02X", cyc, b.Read(0xC000))
	}
	cyc = c.Step(b)
	if cyc != 16 || b.Read(0xC000) != 0x01 {
		t.Fatalf("SET 0,(HL) got cyc=%d mem=%02X", cyc, b.Read(0xC000))
	}
	c.B = 0x80
	cyc = c.Step(b)
	if cyc != 8 || c.B != 0x01 || c.F&flagC == 0 {
		t.Fatalf("RLC B got cyc=%d B=%02X F=%02X", cyc, c.B, c.F)
	}
}

func TestCPU_CB_ShiftsAndSwap(t *testing.T) {
	c, b := newTestCPU([]byte{
		0xCB, 0x37, // SWAP A
		0xCB, 0x27, // SLA A
		0xCB, 0x2F, // SRA A
		0xCB, 0x3F, // SRL A
		0xCB, 0x37, // SWAP A (zero case)
	})
	c.A = 0xF1
	c.Step(b) // SWAP -> 0x1F
	if c.A != 0x1F || c.F != 0 {
		t.Fatalf("SWAP A got A=%02X F=%02X want 1F/00", c.A, c.F)
	}
	c.A = 0x81
	c.Step(b) // SLA -> 0x02, C=1
	if c.A != 0x02 || c.F&flagC == 0 {
		t.Fatalf("SLA A got A=%02X F=%02X", c.A, c.F)
	}
	c.A = 0x81
	c.Step(b) // SRA keeps bit7 -> 0xC0, C=1
	if c.A != 0xC0 || c.F&flagC == 0 {
		t.Fatalf("SRA A got A=%02X F=%02X", c.A, c.F)
	}
	c.A = 0x01
	c.Step(b) // SRL -> 0x00, Z=1 C=1
	if c.A != 0x00 || c.F&flagZ == 0 || c.F&flagC == 0 {
		t.Fatalf("SRL A got A=%02X F=%02X", c.A, c.F)
	}
	c.A = 0x00
	c.Step(b) // SWAP of zero sets Z
	if c.F&flagZ == 0 {
		t.Fatalf("SWAP of zero should set Z, F=%02X", c.F)
	}
}

func TestCPU_ADD_HL_FlagsAndCarry(t *testing.T) {
	c, b := newTestCPU(nil)
	i := 0
	emit := func(bts ...byte) { copy(b.mem[i:], bts); i += len(bts) }
	emit(0x21, 0xFF, 0x0F) // LD HL,0x0FFF
	emit(0x01, 0x01, 0x00) // LD BC,0x0001
	emit(0x09)             // ADD HL,BC
	emit(0x21, 0xFF, 0xFF) // LD HL,0xFFFF
	emit(0x01, 0x01, 0x00) // LD BC,0x0001
	emit(0x09)             // ADD HL,BC

	c.Step(b) // LD HL
	c.Step(b) // LD BC
	c.F = flagZ
	c.Step(b) // 0x0FFF + 1 = 0x1000: H=1, C=0, Z preserved
	if c.F != flagZ|flagH {
		t.Fatalf("ADD HL,BC flags #1 F=%02X (expect Z=1 N=0 H=1 C=0)", c.F)
	}
	if c.getHL() != 0x1000 {
		t.Fatalf("ADD HL,BC result got %04X want 1000", c.getHL())
	}
	c.Step(b) // LD HL
	c.Step(b) // LD BC
	c.F = 0x00
	c.Step(b) // 0xFFFF + 1 = 0x0000: H=1, C=1, Z stays cleared
	if c.F != flagH|flagC {
		t.Fatalf("ADD HL,BC flags #2 F=%02X (expect Z=0 N=0 H=1 C=1)", c.F)
	}
}

func TestCPU_16bit_INC_DEC_DoNotAffectFlags(t *testing.T) {
	prog := []byte{0x03, 0x0B, 0x23, 0x2B, 0x13, 0x1B, 0x33, 0x3B}
	c, b := newTestCPU(prog)
	c.F = 0xF0
	for range prog {
		c.Step(b)
		if c.F != 0xF0 {
			t.Fatalf("16-bit INC/DEC should not change flags; F=%02X", c.F)
		}
	}
}

func TestCPU_Conditional_Cycles(t *testing.T) {
	c, b := newTestCPU([]byte{0x20, 0x02, 0x00, 0x00}) // JR NZ,+2
	// taken when Z=0 => 12 cycles
	c.F = 0x00
	cyc := c.Step(b)
	if cyc != 12 || c.PC != 0x0004 {
		t.Fatalf("JR NZ taken cycles/PC: cyc=%d PC=%04X", cyc, c.PC)
	}
	// not taken when Z=1 => 8 cycles
	c.PC = 0x0000
	c.F = flagZ
	cyc = c.Step(b)
	if cyc != 8 || c.PC != 0x0002 {
		t.Fatalf("JR NZ not-taken cycles/PC: cyc=%d PC=%04X", cyc, c.PC)
	}

	// JP NC,a16
	b.mem[0x0010] = 0xD2
	b.mem[0x0011] = 0x34
	b.mem[0x0012] = 0x12
	c.PC = 0x0010
	c.F = 0x00 // C=0, taken => 16
	cyc = c.Step(b)
	if cyc != 16 || c.PC != 0x1234 {
		t.Fatalf("JP NC taken cycles/PC: cyc=%d PC=%04X", cyc, c.PC)
	}
	c.PC = 0x0010
	c.F = flagC
	cyc = c.Step(b)
	if cyc != 12 || c.PC != 0x0013 {
		t.Fatalf("JP NC not-taken cycles/PC: cyc=%d PC=%04X", cyc, c.PC)
	}

	// CALL NZ,a16 and RET C
	b.mem[0x0020] = 0xC4
	b.mem[0x0021] = 0x00
	b.mem[0x0022] = 0x40
	b.mem[0x4000] = 0xD8 // RET C
	c.SP = 0xFFFE
	c.PC = 0x0020
	c.F = 0x00 // Z=0 => taken
	cyc = c.Step(b)
	if cyc != 24 || c.PC != 0x4000 {
		t.Fatalf("CALL NZ taken cycles/PC: cyc=%d PC=%04X", cyc, c.PC)
	}
	c.F = flagC // taken
	cyc = c.Step(b)
	if cyc != 20 || c.PC != 0x0023 {
		t.Fatalf("RET C taken cyc=%d PC=%04X", cyc, c.PC)
	}
	// RET C not taken => 8
	b.mem[0x0023] = 0xD8
	c.F = 0x00
	cyc = c.Step(b)
	if cyc != 8 || c.PC != 0x0024 {
		t.Fatalf("RET C not-taken cyc=%d PC=%04X", cyc, c.PC)
	}
}

func TestCPU_ADC_SBC_HalfCarry(t *testing.T) {
	// ADC: 0x0F + 0x00 + C=1 => 0x10, H=1, C=0
	c, b := newTestCPU([]byte{0x3E, 0x0F, 0xCE, 0x00})
	c.Step(b)
	c.F = flagC
	c.Step(b)
	if c.A != 0x10 || c.F&flagH == 0 || c.F&flagC != 0 {
		t.Fatalf("ADC half-carry failed: A=%02X F=%02X", c.A, c.F)
	}
	// SBC: 0x10 - 0x01 - C=0 => 0x0F, H=1, C=0
	c2, b2 := newTestCPU([]byte{0x3E, 0x10, 0xDE, 0x01})
	c2.Step(b2)
	c2.F = 0x00
	c2.Step(b2)
	if c2.A != 0x0F || c2.F&flagH == 0 || c2.F&flagC != 0 {
		t.Fatalf("SBC half-borrow failed: A=%02X F=%02X", c2.A, c2.F)
	}
	// SBC borrow: 0x00 - 0x01 => 0xFF, H=1, C=1
	c3, b3 := newTestCPU([]byte{0x3E, 0x00, 0xDE, 0x01})
	c3.Step(b3)
	c3.F = 0x00
	c3.Step(b3)
	if c3.A != 0xFF || c3.F&flagH == 0 || c3.F&flagC == 0 {
		t.Fatalf("SBC borrow flags failed: A=%02X F=%02X", c3.A, c3.F)
	}
}

func TestCPU_LD_HL_SP_plus_r8_and_ADD_SP_r8_Flags(t *testing.T) {
	c, b := newTestCPU([]byte{
		0x31, 0x0F, 0xFF, // LD SP,FF0F
		0xF8, 0xFF, // LD HL,SP-1 => FF0E, H=1 C=1
		0xE8, 0x01, // ADD SP,+1 => FF10, H=1 C=0
		0xE8, 0xFE, // ADD SP,-2 => FF0E, H=0 C=1
	})
	c.Step(b) // LD SP
	if cyc := c.Step(b); cyc != 12 {
		t.Fatalf("LD HL,SP+r8 cycles got %d want 12", cyc)
	}
	if c.getHL() != 0xFF0E || c.F != flagH|flagC {
		t.Fatalf("LD HL,SP-1 flags/HL wrong: HL=%04X F=%02X", c.getHL(), c.F)
	}
	if cyc := c.Step(b); cyc != 16 {
		t.Fatalf("ADD SP,r8 cycles got %d want 16", cyc)
	}
	if c.SP != 0xFF10 || c.F != flagH {
		t.Fatalf("ADD SP,+1 flags/SP wrong: SP=%04X F=%02X", c.SP, c.F)
	}
	c.Step(b)
	if c.SP != 0xFF0E || c.F != flagC {
		t.Fatalf("ADD SP,-2 flags/SP wrong: SP=%04X F=%02X", c.SP, c.F)
	}
}

func TestCPU_POP_AF_MasksFlagsLowNibble(t *testing.T) {
	c, b := newTestCPU([]byte{0xF5, 0xF1}) // PUSH AF; POP AF
	c.SP = 0xFFFE
	c.A = 0x12
	c.F = 0xF0
	c.Step(b) // PUSH AF
	// overwrite the stacked F with a value carrying low-nibble garbage
	b.Write(c.SP, 0x34)   // F
	b.Write(c.SP+1, 0x12) // A
	c.Step(b)             // POP AF
	if c.A != 0x12 {
		t.Fatalf("POP AF A got %02X want 12", c.A)
	}
	if c.F != 0x30 {
		t.Fatalf("POP AF should mask the low nibble of F, got F=%02X", c.F)
	}
}

func TestCPU_UnprefixedRotates_ClearZ(t *testing.T) {
	// RLCA, RRCA, RLA, RRA always clear Z, even on a zero result
	c, b := newTestCPU([]byte{0x07, 0x0F, 0x17, 0x1F})
	c.A = 0x00
	c.F = flagZ
	c.Step(b)
	if c.F&flagZ != 0 {
		t.Fatalf("RLCA should clear Z, F=%02X", c.F)
	}
	c.F = flagZ
	c.Step(b)
	if c.F&flagZ != 0 {
		t.Fatalf("RRCA should clear Z, F=%02X", c.F)
	}
	c.F = flagZ | flagC
	c.Step(b)
	if c.F&flagZ != 0 {
		t.Fatalf("RLA should clear Z, F=%02X", c.F)
	}
	c.F = flagC
	c.Step(b)
	if c.F&flagZ != 0 {
		t.Fatalf("RRA should clear Z, F=%02X", c.F)
	}
}

func TestCPU_RotateThroughCarry(t *testing.T) {
	c, b := newTestCPU([]byte{0x17, 0x1F}) // RLA; RRA
	c.A = 0x80
	c.F = flagC
	c.Step(b) // RLA: carry in becomes bit0, old bit7 to carry
	if c.A != 0x01 || c.F&flagC == 0 {
		t.Fatalf("RLA got A=%02X F=%02X want 01 with C", c.A, c.F)
	}
	c.A = 0x01
	c.F = 0x00
	c.Step(b) // RRA: bit0 to carry, no carry in
	if c.A != 0x00 || c.F&flagC == 0 {
		t.Fatalf("RRA got A=%02X F=%02X want 00 with C", c.A, c.F)
	}
}

func TestCPU_CCF_SCF_CPL_Flags(t *testing.T) {
	c, b := newTestCPU([]byte{0x3E, 0x00, 0x37, 0x3F, 0x2F})
	c.Step(b) // LD A,00
	c.F = flagZ
	c.Step(b) // SCF: C=1, Z kept, N=H=0
	if c.F != flagZ|flagC {
		t.Fatalf("SCF flags unexpected F=%02X", c.F)
	}
	c.Step(b) // CCF: toggle C, Z kept, N=H=0
	if c.F != flagZ {
		t.Fatalf("CCF flags unexpected F=%02X", c.F)
	}
	c.Step(b) // CPL: A=~A, N=H=1, Z/C kept
	if c.A != 0xFF {
		t.Fatalf("CPL A got %02X want FF", c.A)
	}
	if c.F != flagZ|flagN|flagH {
		t.Fatalf("CPL flags unexpected F=%02X", c.F)
	}
}

func TestCPU_RETI_EnablesIME_AndReturns(t *testing.T) {
	c, b := newTestCPU(nil)
	b.mem[0x0040] = 0xD9 // RETI at the VBlank vector
	c.SetPC(0x0100)
	c.SP = 0xFFFE
	c.IME = true
	b.Write(0xFFFF, 0x01)
	b.Write(0xFF0F, 0x01)

	if cyc := c.HandleInterrupt(b); cyc != 20 || c.PC != 0x0040 {
		t.Fatalf("interrupt service failed: cyc=%d PC=%04X", cyc, c.PC)
	}
	if c.IME {
		t.Fatalf("IME should be cleared during the handler")
	}
	cyc := c.Step(b) // RETI
	if cyc != 16 {
		t.Fatalf("RETI cycles got %d want 16", cyc)
	}
	if !c.IME || c.PC != 0x0100 {
		t.Fatalf("RETI should restore IME and return, IME=%v PC=%04X", c.IME, c.PC)
	}
}

func TestCPU_LD_r_from_HL(t *testing.T) {
	ops := []struct {
		op  byte
		reg func(*CPU) byte
	}{
		{0x46, func(c *CPU) byte { return c.B }},
		{0x4E, func(c *CPU) byte { return c.C }},
		{0x56, func(c *CPU) byte { return c.D }},
		{0x5E, func(c *CPU) byte { return c.E }},
		{0x66, func(c *CPU) byte { return c.H }},
		{0x6E, func(c *CPU) byte { return c.L }},
		{0x7E, func(c *CPU) byte { return c.A }},
	}
	for _, tc := range ops {
		c, b := newTestCPU([]byte{tc.op})
		b.Write(0xC000, 0x5A)
		c.setHL(0xC000)
		if cyc := c.Step(b); cyc != 8 {
			t.Fatalf("LD r,(HL) op %02X cycles got %d want 8", tc.op, cyc)
		}
		if v := tc.reg(c); v != 0x5A {
			t.Fatalf("LD r,(HL) op %02X loaded %02X want 5A", tc.op, v)
		}
	}
}

func TestCPU_HL_PostIncDecLoads(t *testing.T) {
	c, b := newTestCPU([]byte{
		0x21, 0x00, 0xC0, // LD HL,C000
		0x22, // LD (HL+),A
		0x32, // LD (HL-),A
		0x2A, // LD A,(HL+)
		0x3A, // LD A,(HL-)
	})
	c.A = 0x42
	c.Step(b)
	c.Step(b) // (C000)=42, HL=C001
	if b.Read(0xC000) != 0x42 || c.getHL() != 0xC001 {
		t.Fatalf("LD (HL+),A got mem=%02X HL=%04X", b.Read(0xC000), c.getHL())
	}
	c.Step(b) // (C001)=42, HL=C000
	if b.Read(0xC001) != 0x42 || c.getHL() != 0xC000 {
		t.Fatalf("LD (HL-),A got mem=%02X HL=%04X", b.Read(0xC001), c.getHL())
	}
	c.A = 0x00
	c.Step(b) // A=(C000), HL=C001
	if c.A != 0x42 || c.getHL() != 0xC001 {
		t.Fatalf("LD A,(HL+) got A=%02X HL=%04X", c.A, c.getHL())
	}
	c.A = 0x00
	c.Step(b) // A=(C001), HL=C000
	if c.A != 0x42 || c.getHL() != 0xC000 {
		t.Fatalf("LD A,(HL-) got A=%02X HL=%04X", c.A, c.getHL())
	}
}

func TestCPU_FlagLowNibbleStaysZero(t *testing.T) {
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)
	// every primary opcode, executed once over poisoned register state
	for op := 0; op < 0x100; op++ {
		c, b := newTestCPU(nil)
		for i := range b.mem {
			b.mem[i] = 0xA5
		}
		c.SetPC(0x4000)
		b.mem[0x4000] = byte(op)
		c.A, c.F = 0x5A, 0xF0
		c.B, c.C = 0x0F, 0xFF
		c.setHL(0xC123)
		c.SP = 0xC800
		c.Step(b)
		if c.F&0x0F != 0 {
			t.Fatalf("opcode %02X left garbage in F low nibble: F=%02X", op, c.F)
		}
	}
	// and the whole CB table
	for cb := 0; cb < 0x100; cb++ {
		c, b := newTestCPU(nil)
		c.SetPC(0x4000)
		b.mem[0x4000] = 0xCB
		b.mem[0x4001] = byte(cb)
		c.A, c.F = 0x5A, 0xF0
		c.setHL(0xC123)
		c.Step(b)
		if c.F&0x0F != 0 {
			t.Fatalf("CB opcode %02X left garbage in F low nibble: F=%02X", cb, c.F)
		}
	}
}

func TestCPU_BreakpointPausesButExecutes(t *testing.T) {
	c, b := newTestCPU([]byte{0x00, 0x3C, 0x00}) // NOP; INC A; NOP
	c.SetBreakpoint(0x0001)
	c.Step(b) // NOP, no pause
	if c.IsPaused() {
		t.Fatal("breakpoint should not fire before its address")
	}
	c.Step(b) // INC A at the breakpoint
	if !c.IsPaused() {
		t.Fatal("breakpoint at PC should pause")
	}
	if c.A != 0x01 || c.PC != 0x0002 {
		t.Fatalf("breakpoint must not skip the instruction, A=%02X PC=%04X", c.A, c.PC)
	}
	c.SetPause(false)
	c.ClearBreakpoint()
	c.PC = 0x0001
	c.Step(b)
	if c.IsPaused() {
		t.Fatal("cleared breakpoint should not fire")
	}
}

func TestCPU_SoftBreakpointOnLDBB(t *testing.T) {
	c, b := newTestCPU([]byte{0x40, 0x00}) // LD B,B; NOP
	c.SetSoftBreakpoints(true)
	cyc := c.Step(b)
	if !c.IsPaused() {
		t.Fatal("LD B,B should pause with soft breakpoints on")
	}
	if cyc != 4 || c.PC != 0x0001 {
		t.Fatalf("LD B,B still executes, cyc=%d PC=%04X", cyc, c.PC)
	}
	c.SetPause(false)
	c.SetSoftBreakpoints(false)
	c.PC = 0x0000
	c.Step(b)
	if c.IsPaused() {
		t.Fatal("soft breakpoints off should not pause")
	}
}

func TestCPU_DumpCPU(t *testing.T) {
	c := New()
	c.ResetNoBoot()
	c.SetPC(0x0100)
	got := c.DumpCPU()
	want := "PC=$0100 SP=$FFFE AF=$01B0 BC=$0013 DE=$00D8 HL=$014D flags=Z-HC IME=false halted=false"
	if got != want {
		t.Fatalf("DumpCPU\n got %q\nwant %q", got, want)
	}
	if !strings.Contains(c.DumpCPU(), "flags=Z-HC") {
		t.Fatalf("flag string missing from dump: %q", got)
	}
}

func TestCPU_SaveLoadState(t *testing.T) {
	c := New()
	c.ResetNoBoot()
	c.SetPC(0x1234)
	c.IME = true
	c.halted = true
	c.haltBug = true
	data := c.SaveState()

	c2 := New()
	c2.LoadState(data)
	if c2.PC != 0x1234 || c2.SP != 0xFFFE || c2.A != 0x01 || c2.F != 0xB0 {
		t.Fatalf("state round trip lost registers: %s", c2.DumpCPU())
	}
	if !c2.IME || !c2.halted || !c2.haltBug {
		t.Fatalf("state round trip lost IME/halt bits: IME=%v halted=%v haltBug=%v",
			c2.IME, c2.halted, c2.haltBug)
	}
}
