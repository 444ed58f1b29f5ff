package apu

import (
	"bytes"
	"encoding/gob"
)

// The frame sequencer steps at 512 Hz (every 8192 CPU cycles). Length
// counters are clocked on the even steps (256 Hz).
const frameSequencerPeriod = 8192

// APU is the DMG sound register file. It models register storage, read-back
// masks, the NR52 power gate, and length-counter expiry so NR52 channel
// status bits behave as games expect. It produces no samples.
type APU struct {
	enabled bool

	regs [0x17]byte // NR10..NR52 backing store (FF10-FF26)
	wave [16]byte   // FF30-FF3F

	// per-channel length counters and active flags (NR52 bits 0-3)
	length [4]int
	active [4]bool

	fsCounter int
	fsStep    int
}

func New() *APU {
	return &APU{enabled: true, fsCounter: frameSequencerPeriod}
}

// Unused register bits read back as 1. Indexed by addr-0xFF10; NR52 is
// handled separately.
var readMask = [0x17]byte{
	0x80, 0x3F, 0x00, 0xFF, 0xBF, // NR10-NR14
	0xFF, 0x3F, 0x00, 0xFF, 0xBF, // FF15, NR21-NR24
	0x7F, 0xFF, 0x9F, 0xFF, 0xBF, // NR30-NR34
	0xFF, 0xFF, 0x00, 0x00, 0xBF, // FF1F, NR41-NR44
	0x00, 0x00, 0x70, // NR50-NR52
}

// CPURead reads an APU register.
func (a *APU) CPURead(addr uint16) byte {
	switch {
	case addr == 0xFF26: // NR52
		v := byte(0x70)
		if a.enabled {
			v |= 0x80
		}
		for ch := 0; ch < 4; ch++ {
			if a.active[ch] {
				v |= 1 << ch
			}
		}
		return v
	case addr >= 0xFF10 && addr <= 0xFF25:
		i := addr - 0xFF10
		return a.regs[i] | readMask[i]
	case addr >= 0xFF30 && addr <= 0xFF3F:
		return a.wave[addr-0xFF30]
	default:
		return 0xFF
	}
}

// CPUWrite writes an APU register. While powered off only NR52 and wave RAM
// are writable.
func (a *APU) CPUWrite(addr uint16, v byte) {
	if addr == 0xFF26 { // NR52 power gate; status bits are read-only
		on := (v & 0x80) != 0
		if !on && a.enabled {
			// Power off clears every register but leaves length counters intact
			for i := 0; i <= 0xFF25-0xFF10; i++ {
				a.regs[i] = 0
			}
			for ch := range a.active {
				a.active[ch] = false
			}
			a.enabled = false
		} else if on && !a.enabled {
			a.enabled = true
			a.fsStep = 0
			a.fsCounter = frameSequencerPeriod
		}
		return
	}
	if addr >= 0xFF30 && addr <= 0xFF3F {
		a.wave[addr-0xFF30] = v
		return
	}
	if !a.enabled || addr < 0xFF10 || addr > 0xFF25 {
		return
	}
	a.regs[addr-0xFF10] = v
	switch addr {
	case 0xFF11: // NR11 length load (CH1)
		a.length[0] = 64 - int(v&0x3F)
	case 0xFF12: // NR12: DAC off disables the channel
		if (v & 0xF8) == 0 {
			a.active[0] = false
		}
	case 0xFF14: // NR14 trigger
		if (v & 0x80) != 0 {
			a.trigger(0)
		}
	case 0xFF16: // NR21 length load (CH2)
		a.length[1] = 64 - int(v&0x3F)
	case 0xFF17: // NR22
		if (v & 0xF8) == 0 {
			a.active[1] = false
		}
	case 0xFF19: // NR24 trigger
		if (v & 0x80) != 0 {
			a.trigger(1)
		}
	case 0xFF1A: // NR30: wave DAC
		if (v & 0x80) == 0 {
			a.active[2] = false
		}
	case 0xFF1B: // NR31 length load (CH3)
		a.length[2] = 256 - int(v)
	case 0xFF1E: // NR34 trigger
		if (v & 0x80) != 0 {
			a.trigger(2)
		}
	case 0xFF20: // NR41 length load (CH4)
		a.length[3] = 64 - int(v&0x3F)
	case 0xFF21: // NR42
		if (v & 0xF8) == 0 {
			a.active[3] = false
		}
	case 0xFF23: // NR44 trigger
		if (v & 0x80) != 0 {
			a.trigger(3)
		}
	}
}

func (a *APU) trigger(ch int) {
	if a.length[ch] == 0 {
		if ch == 2 {
			a.length[ch] = 256
		} else {
			a.length[ch] = 64
		}
	}
	a.active[ch] = a.dacOn(ch)
}

func (a *APU) dacOn(ch int) bool {
	switch ch {
	case 0:
		return a.regs[0xFF12-0xFF10]&0xF8 != 0
	case 1:
		return a.regs[0xFF17-0xFF10]&0xF8 != 0
	case 2:
		return a.regs[0xFF1A-0xFF10]&0x80 != 0
	default:
		return a.regs[0xFF21-0xFF10]&0xF8 != 0
	}
}

func (a *APU) lengthEnabled(ch int) bool {
	nrx4 := [4]uint16{0xFF14, 0xFF19, 0xFF1E, 0xFF23}[ch]
	return a.regs[nrx4-0xFF10]&(1<<6) != 0
}

// Tick advances the frame sequencer by the given number of CPU cycles.
func (a *APU) Tick(cycles int) {
	if !a.enabled || cycles <= 0 {
		return
	}
	a.fsCounter -= cycles
	for a.fsCounter <= 0 {
		a.fsCounter += frameSequencerPeriod
		if a.fsStep%2 == 0 {
			a.clockLengths()
		}
		a.fsStep = (a.fsStep + 1) & 7
	}
}

func (a *APU) clockLengths() {
	for ch := 0; ch < 4; ch++ {
		if !a.lengthEnabled(ch) || a.length[ch] == 0 {
			continue
		}
		a.length[ch]--
		if a.length[ch] == 0 {
			a.active[ch] = false
		}
	}
}

// --- Save/Load state ---
type apuState struct {
	Enabled   bool
	Regs      [0x17]byte
	Wave      [16]byte
	Length    [4]int
	Active    [4]bool
	FSCounter int
	FSStep    int
}

func (a *APU) SaveState() []byte {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	_ = enc.Encode(apuState{
		Enabled: a.enabled, Regs: a.regs, Wave: a.wave,
		Length: a.length, Active: a.active,
		FSCounter: a.fsCounter, FSStep: a.fsStep,
	})
	return buf.Bytes()
}

func (a *APU) LoadState(data []byte) {
	var s apuState
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return
	}
	a.enabled = s.Enabled
	a.regs = s.Regs
	a.wave = s.Wave
	a.length = s.Length
	a.active = s.Active
	a.fsCounter = s.FSCounter
	a.fsStep = s.FSStep
}
