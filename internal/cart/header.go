package cart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// The header occupies 0x0100-0x014F; parsing needs the ROM to reach its end.
const headerEnd = 0x014F

// ErrROMTooSmall is returned when the data cannot even hold a cartridge
// header. Callers use it to distinguish junk files from mapper problems.
var ErrROMTooSmall = errors.New("ROM too small to contain header")

var nintendoLogo = [48]byte{
	0xCE, 0xED, 0x66, 0x66, 0xCC, 0x0D, 0x00, 0x0B, 0x03, 0x73, 0x00, 0x83, 0x00, 0x0C, 0x00, 0x0D,
	0x00, 0x08, 0x11, 0x1F, 0x88, 0x89, 0x00, 0x0E, 0xDC, 0xCC, 0x6E, 0xE6, 0xDD, 0xDD, 0xD9, 0x99,
	0xBB, 0xBB, 0x67, 0x63, 0x6E, 0x0E, 0xEC, 0xCC, 0xDD, 0xDC, 0x99, 0x9F, 0xBB, 0xB9, 0x33, 0x3E,
}

// Header is the parsed cartridge header. The raw code bytes are kept next to
// their decoded forms so logs can show both.
type Header struct {
	Title       string
	CGBFlag     byte
	NewLicensee string // two ASCII chars, meaningful when OldLicensee is 0x33
	SGBFlag     byte
	CartType    byte
	ROMSizeCode byte
	RAMSizeCode byte
	Destination byte
	OldLicensee byte
	ROMVersion  byte

	HeaderChecksum byte   // over 0x0134-0x014C
	GlobalChecksum uint16 // over the whole ROM minus these two bytes

	ROMSizeBytes int
	ROMBanks     int
	RAMSizeBytes int
	CartTypeStr  string
}

func ParseHeader(rom []byte) (*Header, error) {
	if len(rom) <= headerEnd {
		return nil, ErrROMTooSmall
	}

	h := &Header{
		// The title field runs up to 0x0143 and overlaps the CGB flag on
		// newer carts; NUL padding is stripped.
		Title:          strings.TrimRight(string(rom[0x0134:0x0144]), "\x00"),
		CGBFlag:        rom[0x0143],
		NewLicensee:    string(rom[0x0144:0x0146]),
		SGBFlag:        rom[0x0146],
		CartType:       rom[0x0147],
		ROMSizeCode:    rom[0x0148],
		RAMSizeCode:    rom[0x0149],
		Destination:    rom[0x014A],
		OldLicensee:    rom[0x014B],
		ROMVersion:     rom[0x014C],
		HeaderChecksum: rom[0x014D],
		GlobalChecksum: binary.BigEndian.Uint16(rom[0x014E:0x0150]),
	}
	h.ROMSizeBytes, h.ROMBanks = decodeROMSize(h.ROMSizeCode)
	h.RAMSizeBytes = decodeRAMSize(h.RAMSizeCode)
	h.CartTypeStr = cartTypeName(h.CartType)
	return h, nil
}

// String gives a one-line summary for startup logs.
func (h *Header) String() string {
	return fmt.Sprintf("%q type=%s rom=%dKiB ram=%dKiB version=%d",
		h.Title, h.CartTypeStr, h.ROMSizeBytes/1024, h.RAMSizeBytes/1024, h.ROMVersion)
}

// LogoOK reports whether the boot logo bitmap is intact. Real hardware locks
// up without it; homebrew and test ROMs often omit it, so this is advisory.
func LogoOK(rom []byte) bool {
	if len(rom) < 0x0104+len(nintendoLogo) {
		return false
	}
	for i, v := range nintendoLogo {
		if rom[0x0104+i] != v {
			return false
		}
	}
	return true
}

// HeaderChecksumOK recomputes the checksum over 0x0134-0x014C and compares it
// against the stored byte.
func HeaderChecksumOK(rom []byte) bool {
	if len(rom) < 0x014E {
		return false
	}
	var sum byte
	for _, b := range rom[0x0134:0x014D] {
		sum = sum - b - 1
	}
	return sum == rom[0x014D]
}

// decodeROMSize maps the size code to bytes and 16 KiB bank count. Codes
// 0x00-0x08 double from 32 KiB; 0x52-0x54 are the odd multi-cart sizes.
func decodeROMSize(code byte) (size, banks int) {
	if code <= 0x08 {
		return 32 * 1024 << code, 2 << code
	}
	switch code {
	case 0x52:
		return 1152 * 1024, 72
	case 0x53:
		return 1280 * 1024, 80
	case 0x54:
		return 1536 * 1024, 96
	}
	return 0, 0
}

var ramSizes = map[byte]int{
	0x02: 8 * 1024,
	0x03: 32 * 1024,
	0x04: 128 * 1024,
	0x05: 64 * 1024,
}

func decodeRAMSize(code byte) int { return ramSizes[code] }

var cartTypeNames = map[byte]string{
	0x00: "ROM ONLY", 0x08: "ROM ONLY", 0x09: "ROM ONLY",
	0x01: "MBC1", 0x02: "MBC1", 0x03: "MBC1",
	0x05: "MBC2", 0x06: "MBC2",
	0x0F: "MBC3", 0x10: "MBC3", 0x11: "MBC3", 0x12: "MBC3", 0x13: "MBC3",
	0x19: "MBC5", 0x1A: "MBC5", 0x1B: "MBC5", 0x1C: "MBC5", 0x1D: "MBC5", 0x1E: "MBC5",
}

func cartTypeName(code byte) string {
	if name, ok := cartTypeNames[code]; ok {
		return name
	}
	return "unknown"
}
