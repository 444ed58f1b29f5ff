package ui

// Config contains window and input related settings.
type Config struct {
	Title        string // window title
	Scale        int    // integer upscaling factor
	ROMsDir      string // directory to browse for ROMs
	UseFetcherBG bool   // render BG via fetcher/FIFO
	// Later: fullscreen, vsync toggle, key mapping, etc.
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gbemu"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
	if c.ROMsDir == "" {
		c.ROMsDir = "roms"
	}
}
