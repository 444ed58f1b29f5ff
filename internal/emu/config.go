package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace        bool // log each instruction before it executes
	LimitFPS     bool // pace StepFrame to real hardware speed (~59.7 Hz)
	UseFetcherBG bool // render BG via fetcher/FIFO scanline path
	// Later: fast-forward, debugger flags, etc.
}
