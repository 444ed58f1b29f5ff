package bus

import "testing"

func TestBus_BootOverlayMapsAndUnmaps(t *testing.T) {
	rom := make([]byte, 0x8000)
	rom[0x0000] = 0xAA
	rom[0x0100] = 0xBB
	b := New(rom)

	boot := make([]byte, 0x100)
	boot[0x0000] = 0x31
	boot[0x00FF] = 0xE0
	b.SetBootROM(boot)

	if !b.BootEnabled() {
		t.Fatalf("boot overlay should be enabled after SetBootROM")
	}
	if got := b.Read(0x0000); got != 0x31 {
		t.Fatalf("boot read got %02X want 31", got)
	}
	if got := b.Read(0x00FF); got != 0xE0 {
		t.Fatalf("boot read got %02X want E0", got)
	}
	// Beyond the overlay the cartridge shows through
	if got := b.Read(0x0100); got != 0xBB {
		t.Fatalf("cart read got %02X want BB", got)
	}
	if got := b.Read(0xFF50); got != 0xFE {
		t.Fatalf("FF50 while mapped got %02X want FE", got)
	}

	// Any nonzero FF50 write unmaps the overlay for good
	b.Write(0xFF50, 0x01)
	if b.BootEnabled() {
		t.Fatalf("boot overlay should be disabled after FF50 write")
	}
	if got := b.Read(0x0000); got != 0xAA {
		t.Fatalf("post-boot read got %02X want AA", got)
	}
	if got := b.Read(0xFF50); got != 0xFF {
		t.Fatalf("FF50 after unmap got %02X want FF", got)
	}
}

func TestBus_SetBootROMRejectsShortData(t *testing.T) {
	b := New(make([]byte, 0x8000))
	b.SetBootROM(make([]byte, 0x80))
	if b.BootEnabled() {
		t.Fatalf("short boot image must not map")
	}
}

func TestBus_SaveLoadStateRoundTrip(t *testing.T) {
	b := New(make([]byte, 0x8000))
	b.Write(0xC123, 0x42)
	b.Write(0xFF80, 0x24)
	b.Write(0xFF05, 0x77)
	b.Write(0xFF06, 0x88)
	b.Write(0xFF07, 0x05)
	b.Write(0xFFFF, 0x1F)
	b.Write(0xFF0F, 0x04)
	b.Tick(37)

	snap := b.SaveState()

	b.Write(0xC123, 0x00)
	b.Write(0xFF05, 0x00)
	b.Write(0xFF0F, 0x00)
	b.Tick(400)

	b.LoadState(snap)
	if got := b.Read(0xC123); got != 0x42 {
		t.Fatalf("WRAM got %02X want 42", got)
	}
	if got := b.Read(0xFF80); got != 0x24 {
		t.Fatalf("HRAM got %02X want 24", got)
	}
	// Two falling edges of divider bit 3 during Tick(37) clocked TIMA twice
	if got := b.Read(0xFF05); got != 0x79 {
		t.Fatalf("TIMA got %02X want 79", got)
	}
	if got := b.Read(0xFF07); got != 0xFD {
		t.Fatalf("TAC got %02X want FD", got)
	}
	if got := b.Read(0xFF0F); got != 0xE4 {
		t.Fatalf("IF got %02X want E4", got)
	}
	if b.divInternal != 37 {
		t.Fatalf("divider got %d want 37", b.divInternal)
	}
}
