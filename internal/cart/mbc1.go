package cart

import (
	"bytes"
	"encoding/gob"
)

// MBC1 banks ROM up to 2 MiB and RAM up to 32 KiB. In mode 0 the two high
// bits extend the switchable ROM bank, in mode 1 they select the RAM bank
// (and shift the 0x0000-0x3FFF window on large carts).
type MBC1 struct {
	rom []byte
	ram []byte

	romBankLow5 byte // lower 5 bits of ROM bank, 0 remaps to 1
	bankHigh2   byte // RAM bank (mode 1) or ROM bank bits 5-6 (mode 0)
	ramEnabled  bool
	modeSelect  byte // 0: ROM banking, 1: RAM banking
}

func NewMBC1(rom []byte, ramSize int) *MBC1 {
	m := &MBC1{rom: rom, romBankLow5: 1}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC1) Read(addr uint16) byte {
	switch {
	case addr < 0x4000:
		off := int(addr)
		if m.modeSelect == 1 {
			// mode 1 shifts the fixed window by the high bits
			off += (int(m.bankHigh2&0x03) << 5) * 0x4000
		}
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr < 0x8000:
		off := int(m.romBank())*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if off, ok := m.ramOffset(addr); ok {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC1) Write(addr uint16, value byte) {
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x4000:
		m.romBankLow5 = value & 0x1F
		if m.romBankLow5 == 0 {
			m.romBankLow5 = 1
		}
	case addr < 0x6000:
		m.bankHigh2 = value & 0x03
	case addr < 0x8000:
		m.modeSelect = value & 0x01
	case addr >= 0xA000 && addr <= 0xBFFF:
		if off, ok := m.ramOffset(addr); ok {
			m.ram[off] = value
		}
	}
}

func (m *MBC1) romBank() byte {
	return m.romBankLow5 | (m.bankHigh2&0x03)<<5
}

func (m *MBC1) ramOffset(addr uint16) (int, bool) {
	if !m.ramEnabled || len(m.ram) == 0 {
		return 0, false
	}
	bank := 0
	if m.modeSelect == 1 {
		bank = int(m.bankHigh2 & 0x03)
	}
	off := bank*0x2000 + int(addr-0xA000)
	if off >= len(m.ram) {
		return 0, false
	}
	return off, true
}

func (m *MBC1) SaveRAM() []byte {
	if len(m.ram) == 0 {
		return nil
	}
	return append([]byte(nil), m.ram...)
}

func (m *MBC1) LoadRAM(data []byte) {
	if len(m.ram) == 0 || len(data) == 0 {
		return
	}
	copy(m.ram, data)
}

type mbc1State struct {
	RAM         []byte
	RomBankLow5 byte
	BankHigh2   byte
	RamEnabled  bool
	ModeSelect  byte
}

func (m *MBC1) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc1State{
		RAM:         append([]byte(nil), m.ram...),
		RomBankLow5: m.romBankLow5,
		BankHigh2:   m.bankHigh2,
		RamEnabled:  m.ramEnabled,
		ModeSelect:  m.modeSelect,
	})
	return buf.Bytes()
}

func (m *MBC1) LoadState(data []byte) {
	var s mbc1State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.romBankLow5, m.bankHigh2 = s.RomBankLow5, s.BankHigh2
	m.ramEnabled, m.modeSelect = s.RamEnabled, s.ModeSelect
}
