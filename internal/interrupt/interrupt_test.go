package interrupt

import "testing"

func TestFlag_Vectors(t *testing.T) {
	cases := []struct {
		f    Flag
		want uint16
	}{
		{VBlank, 0x0040},
		{LCDStat, 0x0048},
		{Timer, 0x0050},
		{Serial, 0x0058},
		{Joypad, 0x0060},
	}
	for _, tc := range cases {
		if got := tc.f.Vector(); got != tc.want {
			t.Fatalf("%s vector got %04X want %04X", tc.f, got, tc.want)
		}
	}
}

func TestPriority_OrderMatchesVectors(t *testing.T) {
	// service order is lowest bit first, 0x40 through 0x60
	var last uint16
	for _, f := range Priority {
		v := f.Vector()
		if v <= last {
			t.Fatalf("priority order broken at %s: vector %04X after %04X", f, v, last)
		}
		last = v
	}
}

func TestFlag_String(t *testing.T) {
	if got := (VBlank | Timer).String(); got != "VBLANK|TIMER" {
		t.Fatalf("String got %q want VBLANK|TIMER", got)
	}
	if got := Flag(0).String(); got != "NONE" {
		t.Fatalf("empty flag String got %q want NONE", got)
	}
}
