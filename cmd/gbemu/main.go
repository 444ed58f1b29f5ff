package main

import (
	"flag"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/emu"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/ui"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/web"
	"github.com/sqweek/dialog"
)

type options struct {
	romPath   string
	bootROM   string
	scale     int
	title     string
	romsDir   string
	trace     bool
	saveRAM   bool // persist battery RAM next to ROM (.sav)
	fetcherBG bool
	limitFPS  bool
	listen    string // serve frames over websockets when non-empty

	headless bool
	frames   int
	pngOut   string
	expect   string // framebuffer CRC32 hex to assert, e.g. 1a2b3c4d
}

func parseOptions() options {
	var o options
	flag.StringVar(&o.romPath, "rom", "", "path to ROM (.gb, .zip, .7z, .gz)")
	flag.StringVar(&o.bootROM, "bootrom", "", "optional DMG boot ROM")
	flag.IntVar(&o.scale, "scale", 3, "window scale")
	flag.StringVar(&o.title, "title", "gbemu", "window title")
	flag.StringVar(&o.romsDir, "roms", "roms", "directory the ROM picker starts in")
	flag.BoolVar(&o.trace, "trace", false, "CPU trace log")
	flag.BoolVar(&o.saveRAM, "save", true, "persist battery RAM to ROM.sav on exit and load on start")
	flag.BoolVar(&o.fetcherBG, "fetcherbg", false, "render BG through the fetcher/FIFO scanline path")
	flag.BoolVar(&o.limitFPS, "limitfps", false, "pace headless emulation to real hardware speed")
	flag.StringVar(&o.listen, "listen", "", "address for the browser viewer, e.g. :8090")

	flag.BoolVar(&o.headless, "headless", false, "run without a window")
	flag.IntVar(&o.frames, "frames", 300, "frames to run in headless mode")
	flag.StringVar(&o.pngOut, "outpng", "", "write last framebuffer to PNG at path")
	flag.StringVar(&o.expect, "expect", "", "assert framebuffer CRC32 (hex)")
	flag.Parse()
	return o
}

func runHeadless(m *emu.Machine, srv *web.Server, o options) error {
	frames := o.frames
	if frames < 1 {
		frames = 1
	}

	start := time.Now()
	for i := 0; i < frames; i++ {
		if srv != nil {
			m.SetButtons(srv.Buttons())
		}
		m.StepFrame()
		if srv != nil {
			srv.PushFrame(m.Framebuffer())
		}
	}
	elapsed := time.Since(start)

	crc := crc32.ChecksumIEEE(m.Framebuffer())
	log.Printf("headless: frames=%d elapsed=%s fps=%.2f fb_crc32=%08x",
		frames, elapsed.Truncate(time.Millisecond), float64(frames)/elapsed.Seconds(), crc)

	if o.pngOut != "" {
		if err := writePNG(o.pngOut, m.Framebuffer()); err != nil {
			return fmt.Errorf("write PNG: %w", err)
		}
		log.Printf("wrote %s", o.pngOut)
	}
	return checkCRC(crc, o.expect)
}

// checkCRC compares the frame checksum against the -expect hex, tolerating a
// 0x prefix and either case.
func checkCRC(crc uint32, expect string) error {
	if expect == "" {
		return nil
	}
	want := strings.TrimPrefix(strings.ToLower(expect), "0x")
	if got := fmt.Sprintf("%08x", crc); got != want {
		return fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
	}
	return nil
}

// writePNG dumps the 160x144 RGBA framebuffer to path.
func writePNG(path string, pix []byte) error {
	img := image.NewRGBA(image.Rect(0, 0, 160, 144))
	copy(img.Pix, pix)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

// readOptional returns nil for an empty path and dies on a read error.
func readOptional(path string) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("read %s: %v", path, err)
	}
	return data
}

// pickROM opens the native chooser when no ROM was given on the command
// line. Cancelling is fine, the in-game menu can load one later.
func pickROM(dir string) string {
	path, err := dialog.File().SetStartDir(dir).Title("Select ROM").
		Filter("Game Boy ROMs", "gb", "zip", "7z", "gz").Load()
	if err != nil {
		return ""
	}
	return path
}

func savPathFor(romPath string) string {
	return strings.TrimSuffix(romPath, filepath.Ext(romPath)) + ".sav"
}

func loadBatteryFor(m *emu.Machine, enabled bool, romPath string) {
	if !enabled {
		return
	}
	sav := savPathFor(romPath)
	data, err := os.ReadFile(sav)
	if err != nil {
		return
	}
	if m.LoadBattery(data) {
		log.Printf("loaded save RAM: %s (%d bytes)", sav, len(data))
	}
}

func saveBatteryOnExit(m *emu.Machine, enabled bool) {
	if !enabled || m.ROMPath() == "" {
		return
	}
	data, ok := m.SaveBattery()
	if !ok {
		return
	}
	sav := savPathFor(m.ROMPath())
	if err := os.WriteFile(sav, data, 0o644); err != nil {
		log.Printf("write %s: %v", sav, err)
		return
	}
	log.Printf("wrote %s", sav)
}

func main() {
	o := parseOptions()
	boot := readOptional(o.bootROM)

	romPath := o.romPath
	if romPath == "" && !o.headless {
		romPath = pickROM(o.romsDir)
	}
	if romPath == "" && o.headless {
		log.Fatal("headless mode needs -rom")
	}

	m := emu.New(emu.Config{
		Trace:        o.trace,
		LimitFPS:     o.limitFPS && o.headless, // the display loop paces windowed mode
		UseFetcherBG: o.fetcherBG,
	})
	if len(boot) >= 0x100 {
		m.SetBootROM(boot)
	}
	if romPath != "" {
		// Absolute path keeps .sav/.savestate placement stable if the UI
		// changes directories through the ROM picker.
		if abs, err := filepath.Abs(romPath); err == nil {
			romPath = abs
		}
		if err := m.LoadROMFromFile(romPath); err != nil {
			log.Fatalf("load ROM: %v", err)
		}
		loadBatteryFor(m, o.saveRAM, romPath)
	}

	var srv *web.Server
	if o.listen != "" {
		srv = web.NewServer()
		go func() {
			if err := srv.ListenAndServe(o.listen); err != nil {
				log.Printf("[web] server stopped: %v", err)
			}
		}()
	}

	if o.headless {
		if err := runHeadless(m, srv, o); err != nil {
			log.Fatal(err)
		}
		saveBatteryOnExit(m, o.saveRAM)
		return
	}

	app := ui.NewApp(ui.Config{
		Title:        o.title,
		Scale:        o.scale,
		ROMsDir:      o.romsDir,
		UseFetcherBG: o.fetcherBG,
	}, m)
	if srv != nil {
		app.AttachRemote(srv)
	}
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
	// The ROM menu may have switched games, so derive the path from the machine.
	saveBatteryOnExit(m, o.saveRAM)
}
