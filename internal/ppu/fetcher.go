package ppu

// Tile fetcher for the BG and window scanline renderers.

// VRAMReader is the read-only memory view the pixel pipeline works against.
// The live PPU satisfies it through RawVRAM; tests use flat fakes.
type VRAMReader interface {
	Read(addr uint16) byte
}

// decodeTileRow expands one 2bpp tile line into 8 color indices, leftmost
// pixel first. The high byte carries bit 1 of each index.
func decodeTileRow(lo, hi byte) [8]byte {
	var row [8]byte
	for i := range row {
		bit := 7 - byte(i)
		row[i] = ((hi>>bit)&1)<<1 | (lo>>bit)&1
	}
	return row
}

// tileFetcher walks one row of a tilemap and hands out pixels one at a
// time, decoding the next tile line whenever its buffer runs dry. The
// column wraps at the 32-tile map width, which gives BG scrolling its
// horizontal wraparound for free.
type tileFetcher struct {
	mem     VRAMReader
	mapBase uint16 // 0x9800 or 0x9C00
	signed  bool   // 0x8800 addressing when set
	fineY   byte   // line within the tile, 0..7

	mapRow uint16 // address of the current map row
	col    uint16 // tile column within the row

	buf [8]byte
	n   int // pixels left in buf
}

func newTileFetcher(mem VRAMReader, mapBase uint16, tileData8000 bool, fineY byte) *tileFetcher {
	return &tileFetcher{mem: mem, mapBase: mapBase, signed: !tileData8000, fineY: fineY & 7}
}

// start positions the fetcher on a map row and column and decodes the first
// tile line.
func (f *tileFetcher) start(row, col uint16) {
	f.mapRow = f.mapBase + (row&31)*32
	f.col = col & 31
	f.fill()
}

func (f *tileFetcher) fill() {
	idx := f.mem.Read(f.mapRow + f.col)
	var addr uint16
	if f.signed {
		addr = 0x9000 + uint16(int8(idx))*16
	} else {
		addr = 0x8000 + uint16(idx)*16
	}
	addr += uint16(f.fineY) * 2
	f.buf = decodeTileRow(f.mem.Read(addr), f.mem.Read(addr+1))
	f.n = 8
}

// pop returns the next pixel, stepping to the next tile column when the
// current one is exhausted.
func (f *tileFetcher) pop() byte {
	if f.n == 0 {
		f.col = (f.col + 1) & 31
		f.fill()
	}
	px := f.buf[8-f.n]
	f.n--
	return px
}

// skip discards n pixels; the renderers use it for sub-tile offsets.
func (f *tileFetcher) skip(n int) {
	for ; n > 0; n-- {
		f.pop()
	}
}
