package ppu

import (
	"bytes"
	"encoding/gob"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/interrupt"
)

// Mode numbers as they appear in STAT bits 0-1.
const (
	modeHBlank  = 0
	modeVBlank  = 1
	modeOAMScan = 2
	modeDraw    = 3
)

// STAT register layout. The low three bits are status, the rest enables.
const (
	statModeMask  = 0x03
	statMatch     = 1 << 2 // LY == LYC
	statIRQHBlank = 1 << 3
	statIRQVBlank = 1 << 4
	statIRQOAM    = 1 << 5
	statIRQMatch  = 1 << 6
)

// LCDC bits the mode machine cares about. Renderers test the rest themselves.
const (
	lcdcBGEnable  = 1 << 0
	lcdcWinEnable = 1 << 5
	lcdcEnable    = 1 << 7
)

// Line timing in dots. A line is 456 dots: 80 OAM scan, 172 drawing, the
// rest HBlank. 144 visible lines, then VBlank through line 153.
const (
	oamScanDots  = 80
	drawDots     = 172
	dotsPerLine  = 456
	visibleLines = 144
	lastLine     = 153
)

// InterruptRequester receives the VBlank/LCDStat requests the PPU raises.
type InterruptRequester func(f interrupt.Flag)

// PPU holds VRAM, OAM, and the LCD register file, and walks the DMG mode
// sequence dot by dot. CPURead/CPUWrite enforce the mode access rules; the
// renderer reads through RawVRAM/RawOAM and the per-line snapshots instead.
type PPU struct {
	vram [0x2000]byte // 0x8000-0x9FFF
	oam  [0xA0]byte   // 0xFE00-0xFE9F

	lcdc byte // FF40
	stat byte // FF41
	scy  byte // FF42
	scx  byte // FF43
	ly   byte // FF44
	lyc  byte // FF45
	bgp  byte // FF47
	obp0 byte // FF48
	obp1 byte // FF49
	wy   byte // FF4A
	wx   byte // FF4B

	dot int // position within the current line, 0..455

	irq InterruptRequester

	// latched at every mode-3 entry so the frame renderer sees the
	// register values that were live when the line was drawn
	lineRegs [154]LineRegs

	// window line counter; the window fetches its own line number, which
	// only advances on lines where the window was actually visible
	winLine byte
}

func New(irq InterruptRequester) *PPU {
	return &PPU{irq: irq}
}

// LineRegs is the register snapshot a scanline was drawn with.
type LineRegs struct {
	LCDC    byte
	SCY     byte
	SCX     byte
	BGP     byte
	OBP0    byte
	OBP1    byte
	WY      byte
	WX      byte
	WinLine byte
}

func (p *PPU) mode() byte { return p.stat & statModeMask }

func (p *PPU) request(f interrupt.Flag) {
	if p.irq != nil {
		p.irq(f)
	}
}

// CPURead services a CPU read of VRAM, OAM, or an LCD register. VRAM reads
// 0xFF during mode 3, OAM during modes 2 and 3.
func (p *PPU) CPURead(addr uint16) byte {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.mode() == modeDraw {
			return 0xFF
		}
		return p.vram[addr&0x1FFF]
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.mode(); m == modeOAMScan || m == modeDraw {
			return 0xFF
		}
		return p.oam[addr-0xFE00]
	}
	return p.readReg(addr)
}

func (p *PPU) readReg(addr uint16) byte {
	switch addr {
	case 0xFF40:
		return p.lcdc
	case 0xFF41:
		// bit 7 is wired high on DMG
		return 0x80 | p.stat&0x7F
	case 0xFF42:
		return p.scy
	case 0xFF43:
		return p.scx
	case 0xFF44:
		return p.ly
	case 0xFF45:
		return p.lyc
	case 0xFF47:
		return p.bgp
	case 0xFF48:
		return p.obp0
	case 0xFF49:
		return p.obp1
	case 0xFF4A:
		return p.wy
	case 0xFF4B:
		return p.wx
	}
	return 0xFF
}

// CPUWrite services a CPU write. Writes into blocked VRAM/OAM are dropped.
func (p *PPU) CPUWrite(addr uint16, v byte) {
	switch {
	case addr >= 0x8000 && addr <= 0x9FFF:
		if p.mode() != modeDraw {
			p.vram[addr&0x1FFF] = v
		}
	case addr >= 0xFE00 && addr <= 0xFE9F:
		if m := p.mode(); m != modeOAMScan && m != modeDraw {
			p.oam[addr-0xFE00] = v
		}
	default:
		p.writeReg(addr, v)
	}
}

func (p *PPU) writeReg(addr uint16, v byte) {
	switch addr {
	case 0xFF40:
		p.setLCDC(v)
	case 0xFF41:
		// only the enables are writable; mode and match bits are status
		p.stat = p.stat&0x07 | v&0x78
	case 0xFF42:
		p.scy = v
	case 0xFF43:
		p.scx = v
	case 0xFF44:
		p.restartFrame()
	case 0xFF45:
		p.lyc = v
		p.compareLYC()
	case 0xFF47:
		p.bgp = v
	case 0xFF48:
		p.obp0 = v
	case 0xFF49:
		p.obp1 = v
	case 0xFF4A:
		p.wy = v
	case 0xFF4B:
		p.wx = v
	}
}

func (p *PPU) setLCDC(v byte) {
	was := p.lcdc&lcdcEnable != 0
	p.lcdc = v
	now := p.lcdc&lcdcEnable != 0
	if was == now {
		return
	}
	p.ly = 0
	p.dot = 0
	if now {
		p.winLine = 0
		p.setMode(modeOAMScan)
	} else {
		p.setMode(modeHBlank)
	}
	p.compareLYC()
}

// restartFrame is the LY write behavior: the frame restarts from the top.
func (p *PPU) restartFrame() {
	p.ly = 0
	p.dot = 0
	p.winLine = 0
	p.compareLYC()
	if p.lcdc&lcdcEnable != 0 {
		p.setMode(modeOAMScan)
	}
}

// Tick advances the mode machine by the given number of dots. One CPU cycle
// is one dot. A disabled LCD holds everything still.
func (p *PPU) Tick(cycles int) {
	if p.lcdc&lcdcEnable == 0 {
		return
	}
	for ; cycles > 0; cycles-- {
		p.stepDot()
	}
}

func (p *PPU) stepDot() {
	p.dot++
	if p.ly >= visibleLines {
		p.setMode(modeVBlank)
	} else {
		switch {
		case p.dot < oamScanDots:
			p.setMode(modeOAMScan)
		case p.dot < oamScanDots+drawDots:
			p.setMode(modeDraw)
		default:
			p.setMode(modeHBlank)
		}
	}
	if p.dot >= dotsPerLine {
		p.nextLine()
	}
}

func (p *PPU) nextLine() {
	p.dot = 0
	p.ly++
	if p.ly == visibleLines {
		p.request(interrupt.VBlank)
		if p.stat&statIRQVBlank != 0 {
			p.request(interrupt.LCDStat)
		}
	} else if p.ly > lastLine {
		p.ly = 0
		p.winLine = 0
	}
	p.compareLYC()
	if p.ly >= visibleLines {
		p.setMode(modeVBlank)
		return
	}
	p.setMode(modeOAMScan)
	p.bumpWindowLine()
}

// bumpWindowLine advances the window line counter at the start of a visible
// line. The window counts only on lines it is actually shown: both LCDC.5
// and LCDC.0 set, the line at or past WY, and WX on screen.
func (p *PPU) bumpWindowLine() {
	if p.lcdc&lcdcWinEnable == 0 || p.lcdc&lcdcBGEnable == 0 {
		return
	}
	if p.ly < p.wy || p.wx > 166 {
		return
	}
	if p.ly == p.wy {
		p.winLine = 0
	} else {
		p.winLine++
	}
}

func (p *PPU) setMode(mode byte) {
	if p.mode() == mode {
		return
	}
	p.stat = p.stat&^statModeMask | mode&statModeMask
	switch mode {
	case modeHBlank:
		if p.stat&statIRQHBlank != 0 {
			p.request(interrupt.LCDStat)
		}
	case modeOAMScan:
		if p.stat&statIRQOAM != 0 {
			p.request(interrupt.LCDStat)
		}
	case modeDraw:
		p.latchLineRegs()
	}
}

func (p *PPU) compareLYC() {
	if p.ly != p.lyc {
		p.stat &^= statMatch
		return
	}
	p.stat |= statMatch
	if p.stat&statIRQMatch != 0 {
		p.request(interrupt.LCDStat)
	}
}

func (p *PPU) latchLineRegs() {
	if p.ly >= visibleLines {
		return
	}
	p.lineRegs[p.ly] = LineRegs{
		LCDC:    p.lcdc,
		SCY:     p.scy,
		SCX:     p.scx,
		BGP:     p.bgp,
		OBP0:    p.obp0,
		OBP1:    p.obp1,
		WY:      p.wy,
		WX:      p.wx,
		WinLine: p.winLine,
	}
}

// LineRegs returns the snapshot latched for scanline y.
func (p *PPU) LineRegs(y int) LineRegs {
	if y < 0 || y >= len(p.lineRegs) {
		return LineRegs{}
	}
	return p.lineRegs[y]
}

// RawVRAM bypasses the mode access rules; renderer use only.
func (p *PPU) RawVRAM(addr uint16) byte {
	if addr >= 0x8000 && addr <= 0x9FFF {
		return p.vram[addr&0x1FFF]
	}
	return 0xFF
}

// RawOAM bypasses the mode access rules; renderer use only.
func (p *PPU) RawOAM(addr uint16) byte {
	if addr >= 0xFE00 && addr <= 0xFE9F {
		return p.oam[addr-0xFE00]
	}
	return 0xFF
}

// DMAWriteOAM lands one OAM DMA byte. DMA is not subject to mode blocking.
func (p *PPU) DMAWriteOAM(index int, value byte) {
	if index >= 0 && index < len(p.oam) {
		p.oam[index] = value
	}
}

type ppuState struct {
	VRAM     [0x2000]byte
	OAM      [0xA0]byte
	LCDC     byte
	STAT     byte
	SCY      byte
	SCX      byte
	LY       byte
	LYC      byte
	BGP      byte
	OBP0     byte
	OBP1     byte
	WY       byte
	WX       byte
	DOT      int
	LineRegs [154]LineRegs
	WinLine  byte
}

func (p *PPU) SaveState() []byte {
	var buf bytes.Buffer
	s := ppuState{
		VRAM: p.vram,
		OAM:  p.oam,
		LCDC: p.lcdc, STAT: p.stat,
		SCY: p.scy, SCX: p.scx,
		LY: p.ly, LYC: p.lyc,
		BGP: p.bgp, OBP0: p.obp0, OBP1: p.obp1,
		WY: p.wy, WX: p.wx,
		DOT:      p.dot,
		LineRegs: p.lineRegs,
		WinLine:  p.winLine,
	}
	_ = gob.NewEncoder(&buf).Encode(s)
	return buf.Bytes()
}

func (p *PPU) LoadState(data []byte) {
	var s ppuState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	p.vram = s.VRAM
	p.oam = s.OAM
	p.lcdc, p.stat = s.LCDC, s.STAT
	p.scy, p.scx = s.SCY, s.SCX
	p.ly, p.lyc = s.LY, s.LYC
	p.bgp, p.obp0, p.obp1 = s.BGP, s.OBP0, s.OBP1
	p.wy, p.wx = s.WY, s.WX
	p.dot = s.DOT
	p.lineRegs = s.LineRegs
	p.winLine = s.WinLine
}
