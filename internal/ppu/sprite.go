package ppu

// Sprite is one OAM entry selected for a scanline. X and Y hold screen
// coordinates, i.e. the raw OAM values minus 8 and 16.
type Sprite struct {
	X, Y     int
	Tile     byte
	Attr     byte
	OAMIndex int
}

// spritePixel returns the color index sprite s contributes at screen column x
// on line ly, or 0 when transparent or out of range. Attr bit6 flips
// vertically, bit5 horizontally. In 8x16 mode the tile's low bit is ignored.
func spritePixel(mem VRAMReader, s Sprite, x, ly int, tall bool) byte {
	if x < s.X || x >= s.X+8 {
		return 0
	}
	height := 8
	if tall {
		height = 16
	}
	row := ly - s.Y
	if row < 0 || row >= height {
		return 0
	}
	col := x - s.X
	if (s.Attr & (1 << 6)) != 0 {
		row = height - 1 - row
	}
	if (s.Attr & (1 << 5)) != 0 {
		col = 7 - col
	}
	tile := s.Tile
	if tall {
		tile &= 0xFE
		if row >= 8 {
			tile++
		}
	}
	base := 0x8000 + uint16(tile)*16 + uint16(row&7)*2
	lo := mem.Read(base)
	hi := mem.Read(base + 1)
	bit := 7 - byte(col)
	return ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
}

// ComposeSpriteLineExt composes sprite pixels for one scanline. It returns the
// color indices (0 = no sprite pixel) and per pixel which OBJ palette the
// winning sprite selected (0 = OBP0, 1 = OBP1). Between overlapping sprites
// the smaller X wins; ties go to the lower OAM index. Sprites with attr bit7
// set lose against non-zero BG pixels in bgci.
func ComposeSpriteLineExt(mem VRAMReader, sprites []Sprite, ly int, bgci [160]byte, tall bool) (ci, pal [160]byte) {
	for x := 0; x < 160; x++ {
		found := false
		bestX, bestIdx := 0, 0
		for _, s := range sprites {
			px := spritePixel(mem, s, x, ly, tall)
			if px == 0 {
				continue
			}
			if (s.Attr&(1<<7)) != 0 && bgci[x] != 0 {
				continue
			}
			if !found || s.X < bestX || (s.X == bestX && s.OAMIndex < bestIdx) {
				ci[x] = px
				pal[x] = (s.Attr >> 4) & 1
				bestX, bestIdx = s.X, s.OAMIndex
				found = true
			}
		}
	}
	return
}

// ComposeSpriteLine is ComposeSpriteLineExt without the palette plane.
func ComposeSpriteLine(mem VRAMReader, sprites []Sprite, ly int, bgci [160]byte, tall bool) [160]byte {
	ci, _ := ComposeSpriteLineExt(mem, sprites, ly, bgci, tall)
	return ci
}
