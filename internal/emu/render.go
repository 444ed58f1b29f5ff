package emu

import (
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/ppu"
)

// LCDC bits the frame renderer cares about. Each line is drawn from the
// register snapshot the PPU latched at that line's mode-2 start, so mid-frame
// writes land on the correct lines.
const (
	lcdcBGOn       = 1 << 0
	lcdcOBJOn      = 1 << 1
	lcdcOBJTall    = 1 << 2
	lcdcBGMapHigh  = 1 << 3
	lcdcTile8000   = 1 << 4
	lcdcWinOn      = 1 << 5
	lcdcWinMapHigh = 1 << 6
	lcdcOn         = 1 << 7
)

// dmgShades are the four DMG gray levels, lightest first.
var dmgShades = [4]byte{0xFF, 0xC0, 0x60, 0x00}

// shadeDMG runs a 2-bit color index through a DMG palette register.
func shadeDMG(pal, ci byte) byte { return dmgShades[(pal>>(ci*2))&0x03] }

// liveVRAM exposes raw VRAM and satisfies ppu.VRAMReader for the scanline
// helpers, which must see past the PPU's CPU-side mode blocking.
type liveVRAM struct{ ppu *ppu.PPU }

func (v liveVRAM) Read(addr uint16) byte { return v.ppu.RawVRAM(addr) }

// lineRegs fetches the latched registers for line y. A zero LCDC means the
// line was never latched this frame (LCD just enabled), so fall back to the
// live registers.
func (m *Machine) lineRegs(y int) ppu.LineRegs {
	lr := m.bus.PPU().LineRegs(y)
	if lr.LCDC == 0 {
		lr.LCDC = m.bus.Read(0xFF40)
		lr.SCY = m.bus.Read(0xFF42)
		lr.SCX = m.bus.Read(0xFF43)
		lr.BGP = m.bus.Read(0xFF47)
		lr.OBP0 = m.bus.Read(0xFF48)
		lr.OBP1 = m.bus.Read(0xFF49)
		lr.WY = m.bus.Read(0xFF4A)
		lr.WX = m.bus.Read(0xFF4B)
	}
	return lr
}

// putOBJ writes one gray pixel. putBG additionally records the BG color index
// that sprite priority tests against; sprite pixels must leave it alone.
func (m *Machine) putOBJ(x, y int, shade byte) {
	i := (y*m.w + x) * 4
	m.fb[i], m.fb[i+1], m.fb[i+2], m.fb[i+3] = shade, shade, shade, 0xFF
}

func (m *Machine) putBG(x, y int, shade, ci byte) {
	m.putOBJ(x, y, shade)
	m.bgci[y*m.w+x] = ci
}

// clearLine paints a line white with transparent BG indices, the DMG look of
// a disabled BG layer.
func (m *Machine) clearLine(y int) {
	for x := 0; x < 160; x++ {
		m.putBG(x, y, 0xFF, 0)
	}
}

// mapBase picks one of the two 32x32 tile maps.
func mapBase(high bool) uint16 {
	if high {
		return 0x9C00
	}
	return 0x9800
}

// tileAddr resolves a tile number to its pattern data, using unsigned 0x8000
// or signed 0x9000 addressing depending on LCDC bit 4.
func tileAddr(tile byte, unsigned bool) uint16 {
	if unsigned {
		return 0x8000 + uint16(tile)*16
	}
	return uint16(0x9000 + int(int8(tile))*16)
}

func (m *Machine) renderBG() {
	if m.bus == nil {
		return
	}
	for y := 0; y < 144; y++ {
		lr := m.lineRegs(y)
		if lr.LCDC&lcdcOn == 0 || lr.LCDC&lcdcBGOn == 0 {
			m.clearLine(y)
			continue
		}
		if m.cfg.UseFetcherBG {
			m.fetchBGLine(y, lr)
		} else {
			m.drawBGLine(y, lr)
		}
	}
}

// drawBGLine samples the BG map directly with the line's latched scroll.
func (m *Machine) drawBGLine(y int, lr ppu.LineRegs) {
	mem := liveVRAM{ppu: m.bus.PPU()}
	base := mapBase(lr.LCDC&lcdcBGMapHigh != 0)
	bgy := lr.SCY + byte(y)
	row := uint16(bgy>>3) * 32
	fineY := uint16(bgy&7) * 2
	for x := 0; x < 160; x++ {
		bgx := lr.SCX + byte(x)
		tile := mem.Read(base + row + uint16(bgx>>3))
		addr := tileAddr(tile, lr.LCDC&lcdcTile8000 != 0) + fineY
		lo, hi := mem.Read(addr), mem.Read(addr+1)
		bit := 7 - bgx&7
		ci := ((hi>>bit)&1)<<1 | (lo>>bit)&1
		m.putBG(x, y, shadeDMG(lr.BGP, ci), ci)
	}
}

// fetchBGLine draws the same line through the dot-accurate tile fetcher.
func (m *Machine) fetchBGLine(y int, lr ppu.LineRegs) {
	mem := liveVRAM{ppu: m.bus.PPU()}
	line := ppu.RenderBGScanlineUsingFetcher(mem, mapBase(lr.LCDC&lcdcBGMapHigh != 0),
		lr.LCDC&lcdcTile8000 != 0, lr.SCX, lr.SCY, byte(y))
	for x, ci := range line {
		m.putBG(x, y, shadeDMG(lr.BGP, ci), ci)
	}
}

func (m *Machine) renderWindow() {
	if m.bus == nil {
		return
	}
	const need = lcdcOn | lcdcBGOn | lcdcWinOn
	for y := 0; y < 144; y++ {
		lr := m.lineRegs(y)
		if lr.LCDC&need != need {
			continue
		}
		// The window waits for WY and never shows on lines above it.
		if y < int(lr.WY) || lr.WY >= 144 {
			continue
		}
		startX := int(lr.WX) - 7
		if startX >= 160 {
			continue
		}
		if m.cfg.UseFetcherBG {
			m.fetchWindowLine(y, startX, lr)
		} else {
			m.drawWindowLine(y, startX, lr)
		}
	}
}

// drawWindowLine overlays the window from its own map, indexed by the PPU's
// internal window line counter rather than LY.
func (m *Machine) drawWindowLine(y, startX int, lr ppu.LineRegs) {
	mem := liveVRAM{ppu: m.bus.PPU()}
	base := mapBase(lr.LCDC&lcdcWinMapHigh != 0)
	row := uint16(lr.WinLine>>3) * 32
	fineY := uint16(lr.WinLine&7) * 2
	for x := max(0, startX); x < 160; x++ {
		wx := byte(x - startX)
		tile := mem.Read(base + row + uint16(wx>>3))
		addr := tileAddr(tile, lr.LCDC&lcdcTile8000 != 0) + fineY
		lo, hi := mem.Read(addr), mem.Read(addr+1)
		bit := 7 - wx&7
		ci := ((hi>>bit)&1)<<1 | (lo>>bit)&1
		m.putBG(x, y, shadeDMG(lr.BGP, ci), ci)
	}
}

func (m *Machine) fetchWindowLine(y, startX int, lr ppu.LineRegs) {
	mem := liveVRAM{ppu: m.bus.PPU()}
	line := ppu.RenderWindowScanlineUsingFetcher(mem, mapBase(lr.LCDC&lcdcWinMapHigh != 0),
		lr.LCDC&lcdcTile8000 != 0, startX, lr.WinLine)
	for x := max(0, startX); x < 160; x++ {
		m.putBG(x, y, shadeDMG(lr.BGP, line[x]), line[x])
	}
}

// lineSprites scans OAM in order and keeps the first ten sprites covering
// line y, matching the hardware's per-line limit.
func (m *Machine) lineSprites(y, height int) []ppu.Sprite {
	p := m.bus.PPU()
	sprites := make([]ppu.Sprite, 0, 10)
	for i := 0; i < 40 && len(sprites) < 10; i++ {
		base := uint16(0xFE00 + i*4)
		sy := int(p.RawOAM(base)) - 16
		if y < sy || y >= sy+height {
			continue
		}
		sprites = append(sprites, ppu.Sprite{
			X:        int(p.RawOAM(base+1)) - 8,
			Y:        sy,
			Tile:     p.RawOAM(base + 2),
			Attr:     p.RawOAM(base + 3),
			OAMIndex: i,
		})
	}
	return sprites
}

func (m *Machine) renderSprites() {
	if m.bus == nil {
		return
	}
	for y := 0; y < 144; y++ {
		lr := m.lineRegs(y)
		if lr.LCDC&lcdcOn == 0 || lr.LCDC&lcdcOBJOn == 0 {
			continue
		}
		tall := lr.LCDC&lcdcOBJTall != 0
		height := 8
		if tall {
			height = 16
		}
		sprites := m.lineSprites(y, height)
		if len(sprites) == 0 {
			continue
		}
		var bg [160]byte
		copy(bg[:], m.bgci[y*m.w:])
		line, palSel := ppu.ComposeSpriteLineExt(liveVRAM{ppu: m.bus.PPU()}, sprites, y, bg, tall)
		for x := 0; x < 160; x++ {
			if line[x] == 0 {
				continue
			}
			pal := lr.OBP0
			if palSel[x] == 1 {
				pal = lr.OBP1
			}
			m.putOBJ(x, y, shadeDMG(pal, line[x]))
		}
	}
}
