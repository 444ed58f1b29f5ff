package ppu

// RenderBGScanlineUsingFetcher renders the 160 BG color indices for line ly.
// mapBase selects the tilemap (0x9800 or 0x9C00), tileData8000 the
// addressing mode, scx/scy the scroll offsets. The map wraps in both axes.
func RenderBGScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, scx, scy, ly byte) [160]byte {
	var out [160]byte

	y := uint16(scy) + uint16(ly)
	f := newTileFetcher(mem, mapBase, tileData8000, byte(y&7))
	f.start((y>>3)&31, uint16(scx)>>3)
	// SCX fine offset: the first scx%8 pixels of the leftmost tile are off
	// screen.
	f.skip(int(scx & 7))

	for x := range out {
		out[x] = f.pop()
	}
	return out
}

// RenderWindowScanlineUsingFetcher renders the window layer for one
// scanline. startX is the leftmost screen column of the window (WX-7, may
// be negative), winLine the window-internal line counter. Pixels left of
// startX stay 0; the caller overlays the result onto the BG layer.
func RenderWindowScanlineUsingFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, startX int, winLine byte) [160]byte {
	var out [160]byte
	if startX >= 160 {
		return out
	}

	// The window is not scrolled: it always walks its map from column 0.
	f := newTileFetcher(mem, mapBase, tileData8000, winLine&7)
	f.start(uint16(winLine)>>3, 0)

	x := startX
	if x < 0 {
		// WX < 7 pushes the window partially off screen to the left.
		f.skip(-x)
		x = 0
	}
	for ; x < 160; x++ {
		out[x] = f.pop()
	}
	return out
}
