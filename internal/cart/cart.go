package cart

// Cartridge is the ROM/RAM banking interface the bus reads and writes through.
// Implementations cover ROM-only carts and the common MBC mappers. Addresses
// are CPU addresses: ROM at 0x0000-0x7FFF, external RAM at 0xA000-0xBFFF.
type Cartridge interface {
	Read(addr uint16) byte
	// Write handles MBC control writes (0x0000-0x7FFF) and external RAM
	// writes (0xA000-0xBFFF).
	Write(addr uint16, value byte)
	// SaveState/LoadState serialize banking registers and external RAM for
	// save states.
	SaveState() []byte
	LoadState(data []byte)
}

// BatteryBacked is implemented by carts whose external RAM (and RTC, for
// MBC3) survives power-off. SaveRAM returns the bytes to persist; LoadRAM
// restores them.
type BatteryBacked interface {
	SaveRAM() []byte
	LoadRAM(data []byte)
}

// NewCartridge picks a mapper implementation from the ROM header. Unknown
// cartridge types fall back to ROM-only so homebrew and test ROMs still run.
func NewCartridge(rom []byte) Cartridge {
	h, err := ParseHeader(rom)
	if err != nil {
		return NewROMOnly(rom)
	}
	switch h.CartType {
	case 0x00, 0x08, 0x09:
		return NewROMOnly(rom)
	case 0x01, 0x02, 0x03:
		return NewMBC1(rom, h.RAMSizeBytes)
	case 0x0F, 0x10, 0x11, 0x12, 0x13:
		return NewMBC3(rom, h.RAMSizeBytes)
	case 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E:
		return NewMBC5(rom, h.RAMSizeBytes)
	default:
		return NewROMOnly(rom)
	}
}

// HasBattery reports whether the cartridge type byte marks battery-backed RAM.
func HasBattery(cartType byte) bool {
	switch cartType {
	case 0x03, 0x06, 0x09, 0x0D, 0x0F, 0x10, 0x13, 0x1B, 0x1E, 0x22, 0xFF:
		return true
	}
	return false
}
