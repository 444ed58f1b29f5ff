package ppu

import "testing"

// fullLines advances the PPU by n complete scanlines.
func fullLines(p *PPU, n int) { p.Tick(dotsPerLine * n) }

func TestWindowLineCounterTracksVisibleLines(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, lcdcEnable|lcdcWinEnable|lcdcBGEnable)
	p.CPUWrite(0xFF4A, 10) // WY
	p.CPUWrite(0xFF4B, 7)  // WX, window starts at screen x=0

	// Reach line 10 and enter draw mode so the line registers latch.
	fullLines(p, 10)
	if ly := p.CPURead(0xFF44); ly != 10 {
		t.Fatalf("LY = %d, want 10", ly)
	}
	p.Tick(oamScanDots)
	if wl := p.LineRegs(10).WinLine; wl != 0 {
		t.Fatalf("window line at WY = %d, want 0", wl)
	}

	// The counter advances once per line the window is shown on.
	fullLines(p, 1)
	if wl := p.LineRegs(11).WinLine; wl != 1 {
		t.Fatalf("window line at WY+1 = %d, want 1", wl)
	}
}

func TestWindowLineCounterHoldsWhenOffScreen(t *testing.T) {
	p := New(nil)
	p.CPUWrite(0xFF40, lcdcEnable|lcdcWinEnable|lcdcBGEnable)
	p.CPUWrite(0xFF4A, 5)
	p.CPUWrite(0xFF4B, 200) // WX past the visible range

	fullLines(p, 8)
	for y := 5; y <= 7; y++ {
		if wl := p.LineRegs(y).WinLine; wl != 0 {
			t.Fatalf("window line at y=%d = %d, want 0 with WX off screen", y, wl)
		}
	}
}
