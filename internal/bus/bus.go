package bus

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/apu"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/cart"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/interrupt"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/ppu"
)

// Joypad button masks for SetJoypadState. The low nibble is the d-pad group,
// the high nibble the button group; both map onto JOYP's active-low lines.
const (
	JoypRight     byte = 0x01
	JoypLeft      byte = 0x02
	JoypUp        byte = 0x04
	JoypDown      byte = 0x08
	JoypA         byte = 0x10
	JoypB         byte = 0x20
	JoypSelectBtn byte = 0x40
	JoypStart     byte = 0x80
)

// Bus wires the CPU to cartridge, WRAM/HRAM, PPU, APU, timers, serial,
// joypad, OAM DMA, and the interrupt registers.
type Bus struct {
	cart cart.Cartridge
	ppu  *ppu.PPU
	apu  *apu.APU

	wram [0x2000]byte // 0xC000-0xDFFF, echoed at 0xE000-0xFDFF
	hram [0x7F]byte   // 0xFF80-0xFFFE

	iflags interrupt.Flag // 0xFF0F, low 5 bits
	ie     byte           // 0xFFFF, stored as written

	// timer. The divider counts every CPU cycle; DIV is its high byte. TIMA
	// increments on falling edges of the TAC-selected divider bit, so DIV and
	// TAC writes can clock it too.
	divInternal   uint16
	tima          byte
	tma           byte
	tac           byte // low 3 bits
	reloadPending bool
	reloadCounter int

	// serial
	sb           byte
	sc           byte
	serialWriter io.Writer

	// joypad
	joypSelect  byte // select bits 4-5 as written
	joypadState byte // pressed buttons, Joyp* masks

	// OAM DMA
	dmaReg    byte
	dmaActive bool
	dmaSource uint16
	dmaIndex  int

	// boot ROM overlay at 0x0000-0x00FF
	bootROM     []byte
	bootEnabled bool
}

func New(rom []byte) *Bus {
	b := &Bus{joypSelect: 0x30}
	b.cart = cart.NewCartridge(rom)
	b.ppu = ppu.New(b.Request)
	b.apu = apu.New()
	return b
}

// Cart returns the cartridge, e.g. for battery save handling.
func (b *Bus) Cart() cart.Cartridge { return b.cart }

// PPU exposes the pixel unit for the frame renderer.
func (b *Bus) PPU() *ppu.PPU { return b.ppu }

func (b *Bus) Read(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && int(addr) < len(b.bootROM) {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.ppu.CPURead(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xE000:
		return b.wram[addr-0xC000]
	case addr < 0xFE00:
		return b.wram[addr-0xE000] // echo RAM
	case addr < 0xFEA0:
		if b.dmaActive {
			return 0xFF
		}
		return b.ppu.CPURead(addr)
	case addr < 0xFF00:
		return 0xFF // unusable region
	case addr < 0xFF80:
		return b.readIO(addr)
	case addr < 0xFFFF:
		return b.hram[addr-0xFF80]
	default:
		return b.ie
	}
}

func (b *Bus) Write(addr uint16, value byte) {
	switch {
	case addr < 0x8000:
		b.cart.Write(addr, value)
	case addr < 0xA000:
		b.ppu.CPUWrite(addr, value)
	case addr < 0xC000:
		b.cart.Write(addr, value)
	case addr < 0xE000:
		b.wram[addr-0xC000] = value
	case addr < 0xFE00:
		b.wram[addr-0xE000] = value
	case addr < 0xFEA0:
		if b.dmaActive {
			return
		}
		b.ppu.CPUWrite(addr, value)
	case addr < 0xFF00:
		// unusable region
	case addr < 0xFF80:
		b.writeIO(addr, value)
	case addr < 0xFFFF:
		b.hram[addr-0xFF80] = value
	default:
		b.ie = value
	}
}

// ReadWord reads a little-endian word. The high byte wraps at 0xFFFF.
func (b *Bus) ReadWord(addr uint16) uint16 {
	lo := uint16(b.Read(addr))
	hi := uint16(b.Read(addr + 1))
	return hi<<8 | lo
}

func (b *Bus) WriteWord(addr uint16, value uint16) {
	b.Write(addr, byte(value))
	b.Write(addr+1, byte(value>>8))
}

func (b *Bus) readIO(addr uint16) byte {
	switch {
	case addr == 0xFF00:
		return b.readJoyp()
	case addr == 0xFF01:
		return b.sb
	case addr == 0xFF02:
		return b.sc | 0x7E
	case addr == 0xFF04:
		return byte(b.divInternal >> 8)
	case addr == 0xFF05:
		return b.tima
	case addr == 0xFF06:
		return b.tma
	case addr == 0xFF07:
		return 0xF8 | b.tac
	case addr == 0xFF0F:
		return 0xE0 | byte(b.iflags&interrupt.Mask)
	case addr >= 0xFF10 && addr <= 0xFF3F:
		return b.apu.CPURead(addr)
	case addr == 0xFF46:
		return b.dmaReg
	case addr >= 0xFF40 && addr <= 0xFF4B:
		return b.ppu.CPURead(addr)
	case addr == 0xFF50:
		if b.bootEnabled {
			return 0xFE
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (b *Bus) writeIO(addr uint16, value byte) {
	switch {
	case addr == 0xFF00:
		b.joypSelect = value & 0x30
	case addr == 0xFF01:
		b.sb = value
	case addr == 0xFF02:
		b.sc = value & 0x81
		if (value & 0x80) != 0 {
			b.serialTransfer()
		}
	case addr == 0xFF04:
		// Resetting the divider can itself be a falling edge
		old := b.timerInput()
		b.divInternal = 0
		if old && !b.timerInput() {
			b.incrementTIMA()
		}
	case addr == 0xFF05:
		// Writing TIMA during the reload delay cancels the pending reload
		b.tima = value
		b.reloadPending = false
	case addr == 0xFF06:
		b.tma = value
	case addr == 0xFF07:
		old := b.timerInput()
		b.tac = value & 0x07
		if old && !b.timerInput() {
			b.incrementTIMA()
		}
	case addr == 0xFF0F:
		b.iflags = interrupt.Flag(value) & interrupt.Mask
	case addr >= 0xFF10 && addr <= 0xFF3F:
		b.apu.CPUWrite(addr, value)
	case addr == 0xFF46:
		b.startDMA(value)
	case addr >= 0xFF40 && addr <= 0xFF4B:
		b.ppu.CPUWrite(addr, value)
	case addr == 0xFF50:
		if value != 0 {
			b.bootEnabled = false
		}
	}
}

// Tick advances timers, OAM DMA, and the PPU by the given CPU cycles.
func (b *Bus) Tick(cycles int) {
	for i := 0; i < cycles; i++ {
		b.tickTimer()
		b.tickDMA()
		b.ppu.Tick(1)
	}
	b.apu.Tick(cycles)
}

// --- timer ---

// timerInput is the TAC enable ANDed with the selected divider bit.
func (b *Bus) timerInput() bool {
	if (b.tac & 0x04) == 0 {
		return false
	}
	var bit uint
	switch b.tac & 0x03 {
	case 0:
		bit = 9
	case 1:
		bit = 3
	case 2:
		bit = 5
	default:
		bit = 7
	}
	return (b.divInternal>>bit)&1 != 0
}

func (b *Bus) incrementTIMA() {
	// Falling edges are ignored while a reload is pending
	if b.reloadPending {
		return
	}
	b.tima++
	if b.tima == 0 {
		b.reloadPending = true
		b.reloadCounter = 4
	}
}

func (b *Bus) tickTimer() {
	if b.reloadPending {
		b.reloadCounter--
		if b.reloadCounter <= 0 {
			b.reloadPending = false
			b.tima = b.tma
			b.Request(interrupt.Timer)
		}
	}
	old := b.timerInput()
	b.divInternal++
	if old && !b.timerInput() {
		b.incrementTIMA()
	}
}

// --- serial ---

// SetSerialWriter connects a sink for serial output (FF01/FF02). Test ROMs
// report their results this way.
func (b *Bus) SetSerialWriter(w io.Writer) { b.serialWriter = w }

// serialTransfer completes a transfer immediately: the written byte goes to
// the sink, 0xFF shifts in (no link partner), SC bit7 clears, IF bit3 sets.
func (b *Bus) serialTransfer() {
	if b.serialWriter != nil {
		_, _ = b.serialWriter.Write([]byte{b.sb})
	}
	b.sb = 0xFF
	b.sc &^= 0x80
	b.Request(interrupt.Serial)
}

// --- joypad ---

func (b *Bus) readJoyp() byte {
	v := 0xC0 | b.joypSelect | 0x0F
	if (b.joypSelect & 0x10) == 0 { // P14: d-pad group selected
		v &= 0xF0 | (^b.joypadState & 0x0F)
	}
	if (b.joypSelect & 0x20) == 0 { // P15: button group selected
		v &= 0xF0 | (^(b.joypadState >> 4) & 0x0F)
	}
	return v
}

// SetJoypadState replaces the pressed-button mask (Joyp* constants) and
// requests a joypad interrupt for new presses in a selected group.
func (b *Bus) SetJoypadState(state byte) {
	pressed := state &^ b.joypadState
	b.joypadState = state
	if pressed == 0 {
		return
	}
	if (b.joypSelect&0x10) == 0 && (pressed&0x0F) != 0 {
		b.Request(interrupt.Joypad)
	}
	if (b.joypSelect&0x20) == 0 && (pressed&0xF0) != 0 {
		b.Request(interrupt.Joypad)
	}
}

// --- OAM DMA ---

func (b *Bus) startDMA(value byte) {
	b.dmaReg = value
	b.dmaSource = uint16(value) << 8
	b.dmaIndex = 0
	b.dmaActive = true
}

// tickDMA copies one byte per cycle; the whole transfer takes 160 cycles,
// during which the CPU sees OAM as 0xFF.
func (b *Bus) tickDMA() {
	if !b.dmaActive {
		return
	}
	b.ppu.DMAWriteOAM(b.dmaIndex, b.dmaRead(b.dmaSource+uint16(b.dmaIndex)))
	b.dmaIndex++
	if b.dmaIndex >= 0xA0 {
		b.dmaActive = false
	}
}

// dmaRead bypasses PPU mode blocking so DMA can copy from VRAM mid-frame.
func (b *Bus) dmaRead(addr uint16) byte {
	switch {
	case addr < 0x8000:
		if b.bootEnabled && int(addr) < len(b.bootROM) {
			return b.bootROM[addr]
		}
		return b.cart.Read(addr)
	case addr < 0xA000:
		return b.ppu.RawVRAM(addr)
	case addr < 0xC000:
		return b.cart.Read(addr)
	case addr < 0xFE00:
		return b.wram[(addr-0xC000)&0x1FFF]
	default:
		return 0xFF
	}
}

// --- interrupts ---

// Request sets an IF bit. Peripherals and the PPU callback come through here.
func (b *Bus) Request(f interrupt.Flag) { b.iflags |= f & interrupt.Mask }

func (b *Bus) InterruptEnable() interrupt.Flag { return interrupt.Flag(b.ie) & interrupt.Mask }

func (b *Bus) InterruptFlag() interrupt.Flag { return b.iflags & interrupt.Mask }

func (b *Bus) InterruptPending() bool { return b.InterruptEnable()&b.InterruptFlag() != 0 }

func (b *Bus) AckInterrupt(f interrupt.Flag) { b.iflags &^= f }

// --- boot ROM ---

// SetBootROM installs the 256-byte DMG boot overlay and enables it. Shorter
// (or nil) data removes the overlay.
func (b *Bus) SetBootROM(data []byte) {
	if len(data) >= 0x100 {
		b.bootROM = append([]byte(nil), data[:0x100]...)
		b.bootEnabled = true
	} else {
		b.bootROM = nil
		b.bootEnabled = false
	}
}

// EnableBoot re-enables or disables the installed overlay without replacing it.
func (b *Bus) EnableBoot(on bool) { b.bootEnabled = on && len(b.bootROM) >= 0x100 }

// BootEnabled reports whether the boot overlay is currently mapped.
func (b *Bus) BootEnabled() bool { return b.bootEnabled }

// --- Save/Load state ---
type busState struct {
	Cart []byte
	PPU  []byte
	APU  []byte

	WRAM [0x2000]byte
	HRAM [0x7F]byte
	IF   byte
	IE   byte

	DivInternal   uint16
	TIMA          byte
	TMA           byte
	TAC           byte
	ReloadPending bool
	ReloadCounter int

	SB byte
	SC byte

	JoypSelect  byte
	JoypadState byte

	DMAReg    byte
	DMAActive bool
	DMASource uint16
	DMAIndex  int

	BootEnabled bool
}

func (b *Bus) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	s := busState{
		Cart: b.cart.SaveState(), PPU: b.ppu.SaveState(), APU: b.apu.SaveState(),
		WRAM: b.wram, HRAM: b.hram, IF: byte(b.iflags), IE: b.ie,
		DivInternal: b.divInternal, TIMA: b.tima, TMA: b.tma, TAC: b.tac,
		ReloadPending: b.reloadPending, ReloadCounter: b.reloadCounter,
		SB: b.sb, SC: b.sc,
		JoypSelect: b.joypSelect, JoypadState: b.joypadState,
		DMAReg: b.dmaReg, DMAActive: b.dmaActive, DMASource: b.dmaSource, DMAIndex: b.dmaIndex,
		BootEnabled: b.bootEnabled,
	}
	_ = enc.Encode(s)
	return buf.Bytes()
}

func (b *Bus) LoadState(data []byte) {
	var s busState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	b.cart.LoadState(s.Cart)
	b.ppu.LoadState(s.PPU)
	b.apu.LoadState(s.APU)
	b.wram = s.WRAM
	b.hram = s.HRAM
	b.iflags = interrupt.Flag(s.IF) & interrupt.Mask
	b.ie = s.IE
	b.divInternal = s.DivInternal
	b.tima, b.tma, b.tac = s.TIMA, s.TMA, s.TAC
	b.reloadPending, b.reloadCounter = s.ReloadPending, s.ReloadCounter
	b.sb, b.sc = s.SB, s.SC
	b.joypSelect, b.joypadState = s.JoypSelect, s.JoypadState
	b.dmaReg, b.dmaActive = s.DMAReg, s.DMAActive
	b.dmaSource, b.dmaIndex = s.DMASource, s.DMAIndex
	b.bootEnabled = s.BootEnabled && len(b.bootROM) >= 0x100
}
