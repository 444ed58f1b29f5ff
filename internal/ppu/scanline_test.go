package ppu

import "testing"

// rampTiles fills a map row with tiles 0..31 whose row-0 bytes encode the
// tile number, so every rendered pixel identifies the tile it came from.
func rampTiles(mem testVRAM, mapBase uint16) {
	for tile := 0; tile < 32; tile++ {
		mem[mapBase+uint16(tile)] = byte(tile)
		base := uint16(0x8000 + tile*16)
		mem[base] = byte(tile)
		mem[base+1] = ^byte(tile)
	}
}

func TestRenderBGScanlineSCXFineOffset(t *testing.T) {
	mem := testVRAM{}
	rampTiles(mem, 0x9800)

	out := RenderBGScanlineUsingFetcher(mem, 0x9800, true, 5, 0, 0)

	// SCX=5: the first three pixels are the tail of tile 0, then tile 1.
	t0 := decodeTileRow(0, ^byte(0))
	for i := 0; i < 3; i++ {
		if out[i] != t0[5+i] {
			t.Fatalf("pixel %d = %d, want %d from tile 0", i, out[i], t0[5+i])
		}
	}
	t1 := decodeTileRow(1, ^byte(1))
	for i := 0; i < 8; i++ {
		if out[3+i] != t1[i] {
			t.Fatalf("tile 1 pixel %d = %d, want %d", i, out[3+i], t1[i])
		}
	}
}

func TestRenderBGScanlineWrapsHorizontally(t *testing.T) {
	mem := testVRAM{}
	rampTiles(mem, 0x9800)

	// SCX=248 starts on map column 31; the second on-screen tile must wrap
	// back to column 0.
	out := RenderBGScanlineUsingFetcher(mem, 0x9800, true, 248, 0, 0)
	t31 := decodeTileRow(31, ^byte(31))
	t0 := decodeTileRow(0, ^byte(0))
	for i := 0; i < 8; i++ {
		if out[i] != t31[i] {
			t.Fatalf("pixel %d = %d, want %d from tile 31", i, out[i], t31[i])
		}
		if out[8+i] != t0[i] {
			t.Fatalf("pixel %d = %d, want %d from wrapped tile 0", 8+i, out[8+i], t0[i])
		}
	}
}

func TestRenderBGScanlineVerticalScroll(t *testing.T) {
	mem := testVRAM{}
	// Map row 1 all points at tile 7; row 3 of tile 7 is solid color 3.
	for c := uint16(0); c < 32; c++ {
		mem[0x9800+32+c] = 7
	}
	base := uint16(0x8000 + 7*16 + 3*2)
	mem[base] = 0xFF
	mem[base+1] = 0xFF

	// SCY=9 on LY=2 lands on BG line 11: map row 1, fine y 3.
	out := RenderBGScanlineUsingFetcher(mem, 0x9800, true, 0, 9, 2)
	for x, px := range out {
		if px != 3 {
			t.Fatalf("pixel %d = %d, want 3 from tile 7 row 3", x, px)
		}
	}
}
