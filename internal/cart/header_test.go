package cart

import (
	"encoding/binary"
	"testing"
)

// buildROM assembles a blank ROM image with a valid header: logo, title, the
// given type and size codes, and both checksums filled in.
func buildROM(title string, cartType, romSizeCode, ramSizeCode byte, size int) []byte {
	rom := make([]byte, size)
	copy(rom[0x0104:], nintendoLogo[:])
	copy(rom[0x0134:0x0144], title)

	rom[0x0144], rom[0x0145] = '0', '1'
	rom[0x0147] = cartType
	rom[0x0148] = romSizeCode
	rom[0x0149] = ramSizeCode
	rom[0x014B] = 0x33 // marks the new licensee field as the valid one
	rom[0x014C] = 0x01

	var sum byte
	for _, b := range rom[0x0134:0x014D] {
		sum = sum - b - 1
	}
	rom[0x014D] = sum

	var global uint16
	for i, b := range rom {
		if i != 0x014E && i != 0x014F {
			global += uint16(b)
		}
	}
	binary.BigEndian.PutUint16(rom[0x014E:], global)
	return rom
}

func TestParseHeaderDecodesFields(t *testing.T) {
	rom := buildROM("TEST", 0x01, 0x01, 0x02, 64*1024)

	h, err := ParseHeader(rom)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Title != "TEST" {
		t.Fatalf("title = %q, want TEST", h.Title)
	}
	if h.CartType != 0x01 || h.CartTypeStr != "MBC1" {
		t.Fatalf("cart type = %02X %q, want 01 MBC1", h.CartType, h.CartTypeStr)
	}
	if h.ROMSizeBytes != 64*1024 || h.ROMBanks != 4 {
		t.Fatalf("ROM size = %d bytes in %d banks, want 64 KiB in 4", h.ROMSizeBytes, h.ROMBanks)
	}
	if h.RAMSizeBytes != 8*1024 {
		t.Fatalf("RAM size = %d, want 8 KiB", h.RAMSizeBytes)
	}
	if want := binary.BigEndian.Uint16(rom[0x014E:]); h.GlobalChecksum != want {
		t.Fatalf("global checksum = %04X, want %04X", h.GlobalChecksum, want)
	}
	if !HeaderChecksumOK(rom) {
		t.Fatalf("header checksum rejected on a fresh image")
	}
}

func TestHeaderStringSummary(t *testing.T) {
	rom := buildROM("POKEMON RED", 0x13, 0x05, 0x03, 1024*1024)
	h, err := ParseHeader(rom)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	want := `"POKEMON RED" type=MBC3 rom=1024KiB ram=32KiB version=1`
	if got := h.String(); got != want {
		t.Fatalf("summary = %s, want %s", got, want)
	}
}

func TestHeaderChecksumCatchesCorruption(t *testing.T) {
	rom := buildROM("TEST", 0x00, 0x00, 0x00, 32*1024)
	rom[0x0134] ^= 0xFF
	if HeaderChecksumOK(rom) {
		t.Fatalf("checksum accepted a corrupted title byte")
	}
}

func TestLogoCheck(t *testing.T) {
	rom := buildROM("TEST", 0x00, 0x00, 0x00, 32*1024)
	if !LogoOK(rom) {
		t.Fatalf("intact logo rejected")
	}
	rom[0x0104] ^= 0x01
	if LogoOK(rom) {
		t.Fatalf("corrupted logo accepted")
	}
}

func TestParseHeaderRejectsShortData(t *testing.T) {
	if _, err := ParseHeader(make([]byte, 0x140)); err != ErrROMTooSmall {
		t.Fatalf("short data error = %v, want ErrROMTooSmall", err)
	}
}
