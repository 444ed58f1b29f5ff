package cart

import (
	"bytes"
	"encoding/gob"
	"time"
)

// nowUnix is swapped out by tests to drive the RTC deterministically.
var nowUnix = func() int64 { return time.Now().Unix() }

// MBC3 banks ROM up to 2 MiB and RAM up to 32 KiB and carries the battery
// backed real-time clock. The RTC advances against wall time whenever the
// cart is touched; games read a latched snapshot taken on a 0->1 write to
// 0x6000-0x7FFF.
//
// Register map:
//   0000-1FFF  RAM/RTC enable (0x0A in the low nibble)
//   2000-3FFF  ROM bank, low 7 bits (0 remaps to 1)
//   4000-5FFF  RAM bank 0-3 or RTC register select 0x08-0x0C
//   6000-7FFF  latch sequence
//   A000-BFFF  external RAM or the selected RTC register
type MBC3 struct {
	rom []byte
	ram []byte

	ramEnabled bool
	romBank    byte
	bankSel    byte // RAM bank or RTC register select

	rtcSec   byte
	rtcMin   byte
	rtcHour  byte
	rtcDay   uint16 // 9 bits, overflow sets the carry
	rtcHalt  bool
	rtcCarry bool

	latchSec   byte
	latchMin   byte
	latchHour  byte
	latchDay   uint16
	latchHalt  bool
	latchCarry bool
	latchPrep  byte

	lastRTCWallSec int64
}

func NewMBC3(rom []byte, ramSize int) *MBC3 {
	m := &MBC3{rom: rom, romBank: 1, lastRTCWallSec: nowUnix()}
	if ramSize > 0 {
		m.ram = make([]byte, ramSize)
	}
	return m
}

func (m *MBC3) Read(addr uint16) byte {
	m.updateRTC()
	switch {
	case addr < 0x4000:
		if int(addr) < len(m.rom) {
			return m.rom[addr]
		}
		return 0xFF
	case addr < 0x8000:
		bank := int(m.romBank & 0x7F)
		if bank == 0 {
			bank = 1
		}
		off := bank*0x4000 + int(addr-0x4000)
		if off < len(m.rom) {
			return m.rom[off]
		}
		return 0xFF
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return 0xFF
		}
		if m.bankSel >= 0x08 {
			return m.readRTC(m.bankSel)
		}
		if off, ok := m.ramOffset(addr); ok {
			return m.ram[off]
		}
		return 0xFF
	default:
		return 0xFF
	}
}

func (m *MBC3) Write(addr uint16, value byte) {
	m.updateRTC()
	switch {
	case addr < 0x2000:
		m.ramEnabled = value&0x0F == 0x0A
	case addr < 0x4000:
		m.romBank = value & 0x7F
		if m.romBank == 0 {
			m.romBank = 1
		}
	case addr < 0x6000:
		m.bankSel = value
	case addr < 0x8000:
		// latch on a 0x00 -> 0x01 sequence
		if m.latchPrep == 0x00 && value == 0x01 {
			m.latchSec, m.latchMin, m.latchHour = m.rtcSec, m.rtcMin, m.rtcHour
			m.latchDay, m.latchHalt, m.latchCarry = m.rtcDay, m.rtcHalt, m.rtcCarry
		}
		m.latchPrep = value
	case addr >= 0xA000 && addr <= 0xBFFF:
		if !m.ramEnabled {
			return
		}
		if m.bankSel >= 0x08 {
			m.writeRTC(m.bankSel, value)
			return
		}
		if off, ok := m.ramOffset(addr); ok {
			m.ram[off] = value
		}
	}
}

func (m *MBC3) ramOffset(addr uint16) (int, bool) {
	if len(m.ram) == 0 {
		return 0, false
	}
	off := int(m.bankSel&0x03)*0x2000 + int(addr-0xA000)
	if off >= len(m.ram) {
		return 0, false
	}
	return off, true
}

func (m *MBC3) readRTC(reg byte) byte {
	switch reg {
	case 0x08:
		return m.latchSec
	case 0x09:
		return m.latchMin
	case 0x0A:
		return m.latchHour
	case 0x0B:
		return byte(m.latchDay)
	case 0x0C:
		v := byte(m.latchDay>>8) & 0x01
		if m.latchHalt {
			v |= 0x40
		}
		if m.latchCarry {
			v |= 0x80
		}
		return v
	}
	return 0xFF
}

func (m *MBC3) writeRTC(reg, value byte) {
	switch reg {
	case 0x08:
		m.rtcSec = value & 0x3F
	case 0x09:
		m.rtcMin = value & 0x3F
	case 0x0A:
		m.rtcHour = value & 0x1F
	case 0x0B:
		m.rtcDay = m.rtcDay&0x100 | uint16(value)
	case 0x0C:
		m.rtcDay = m.rtcDay&0xFF | uint16(value&0x01)<<8
		m.rtcHalt = value&0x40 != 0
		m.rtcCarry = value&0x80 != 0
	}
}

// updateRTC folds elapsed wall time into the clock registers. Halting the
// clock keeps the wall marker fresh so resuming does not jump forward.
func (m *MBC3) updateRTC() {
	now := nowUnix()
	if m.rtcHalt {
		m.lastRTCWallSec = now
		return
	}
	delta := now - m.lastRTCWallSec
	if delta <= 0 {
		return
	}
	m.lastRTCWallSec = now

	s := int64(m.rtcSec) + delta
	m.rtcSec = byte(s % 60)
	mins := int64(m.rtcMin) + s/60
	m.rtcMin = byte(mins % 60)
	hours := int64(m.rtcHour) + mins/60
	m.rtcHour = byte(hours % 24)
	days := int64(m.rtcDay) + hours/24
	if days > 0x1FF {
		m.rtcCarry = true
	}
	m.rtcDay = uint16(days & 0x1FF)
}

type mbc3Battery struct {
	RAM     []byte
	Sec     byte
	Min     byte
	Hour    byte
	Day     uint16
	Halt    bool
	Carry   bool
	WallSec int64
}

// SaveRAM persists external RAM together with the RTC registers, so the
// clock keeps running across sessions.
func (m *MBC3) SaveRAM() []byte {
	m.updateRTC()
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3Battery{
		RAM: append([]byte(nil), m.ram...),
		Sec: m.rtcSec, Min: m.rtcMin, Hour: m.rtcHour, Day: m.rtcDay,
		Halt: m.rtcHalt, Carry: m.rtcCarry,
		WallSec: m.lastRTCWallSec,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadRAM(data []byte) {
	var s mbc3Battery
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		// plain RAM dump from an older save
		if len(m.ram) > 0 && len(data) > 0 {
			copy(m.ram, data)
		}
		return
	}
	if len(m.ram) > 0 && len(s.RAM) > 0 {
		copy(m.ram, s.RAM)
	}
	m.rtcSec, m.rtcMin, m.rtcHour, m.rtcDay = s.Sec, s.Min, s.Hour, s.Day
	m.rtcHalt, m.rtcCarry = s.Halt, s.Carry
	m.lastRTCWallSec = s.WallSec
	m.updateRTC()
}

type mbc3State struct {
	Battery    []byte
	RomBank    byte
	BankSel    byte
	RamEnabled bool
	LatchSec   byte
	LatchMin   byte
	LatchHour  byte
	LatchDay   uint16
	LatchHalt  bool
	LatchCarry bool
}

func (m *MBC3) SaveState() []byte {
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(mbc3State{
		Battery:    m.SaveRAM(),
		RomBank:    m.romBank,
		BankSel:    m.bankSel,
		RamEnabled: m.ramEnabled,
		LatchSec:   m.latchSec,
		LatchMin:   m.latchMin,
		LatchHour:  m.latchHour,
		LatchDay:   m.latchDay,
		LatchHalt:  m.latchHalt,
		LatchCarry: m.latchCarry,
	})
	return buf.Bytes()
}

func (m *MBC3) LoadState(data []byte) {
	var s mbc3State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return
	}
	m.LoadRAM(s.Battery)
	m.romBank, m.bankSel, m.ramEnabled = s.RomBank, s.BankSel, s.RamEnabled
	m.latchSec, m.latchMin, m.latchHour = s.LatchSec, s.LatchMin, s.LatchHour
	m.latchDay, m.latchHalt, m.latchCarry = s.LatchDay, s.LatchHalt, s.LatchCarry
}
