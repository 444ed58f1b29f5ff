package interrupt

import "strings"

// Flag is a bit set over the five interrupt sources, using the same bit
// positions as the IE (0xFFFF) and IF (0xFF0F) hardware registers.
type Flag byte

const (
	VBlank  Flag = 1 << 0
	LCDStat Flag = 1 << 1
	Timer   Flag = 1 << 2
	Serial  Flag = 1 << 3
	Joypad  Flag = 1 << 4

	// Mask covers the five used bits; the upper three bits of IF read back as 1s.
	Mask Flag = 0x1F
)

// Priority lists the sources in service order (lowest vector address first).
var Priority = [5]Flag{VBlank, LCDStat, Timer, Serial, Joypad}

// Vector returns the handler address for a single-source flag, or 0 when the
// flag does not name exactly one source.
func (f Flag) Vector() uint16 {
	switch f {
	case VBlank:
		return 0x0040
	case LCDStat:
		return 0x0048
	case Timer:
		return 0x0050
	case Serial:
		return 0x0058
	case Joypad:
		return 0x0060
	default:
		return 0
	}
}

var names = []struct {
	f    Flag
	name string
}{
	{VBlank, "VBLANK"},
	{LCDStat, "STAT"},
	{Timer, "TIMER"},
	{Serial, "SERIAL"},
	{Joypad, "JOYPAD"},
}

func (f Flag) String() string {
	if f&Mask == 0 {
		return "NONE"
	}
	var parts []string
	for _, n := range names {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
