package ui

import (
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/emu"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/web"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

const (
	lcdW = 160
	lcdH = 144
)

type App struct {
	cfg Config
	m   *emu.Machine
	srv *web.Server // optional remote viewer bridge

	tex     *ebiten.Image
	overlay *ebiten.Image
	paused  bool
	fast    bool

	// overlay/menu
	showMenu    bool
	menuMode    string // "main", "slot", "rom", "keys"
	menuIdx     int
	currentSlot int

	romList []string
	romSel  int
	romOff  int
	keysOff int

	toastMsg   string
	toastUntil time.Time
}

func NewApp(cfg Config, m *emu.Machine) *App {
	cfg.Defaults()
	if cfg.UseFetcherBG {
		m.SetUseFetcherBG(true)
	}
	ebiten.SetWindowTitle(cfg.Title)
	ebiten.SetWindowSize(lcdW*cfg.Scale, lcdH*cfg.Scale)
	a := &App{cfg: cfg, m: m, menuMode: "main"}
	if m.Bus() == nil {
		// Started without a ROM (or the picker was cancelled): open the
		// ROM menu so there is something to interact with.
		a.showMenu = true
		a.openRomMenu()
	}
	return a
}

// AttachRemote wires a web server into the frame loop: its viewers receive
// every rendered frame and their input is merged with the keyboard.
func (a *App) AttachRemote(srv *web.Server) { a.srv = srv }

func (a *App) Run() error { return ebiten.RunGame(a) }

func (a *App) Update() error {
	// Toggle menu (Escape)
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		a.showMenu = !a.showMenu
		a.menuMode = "main"
		a.menuIdx = 0
	}

	if a.showMenu {
		// Menu captures the keyboard; remote viewers keep playing.
		btn := emu.Buttons{}
		if a.srv != nil {
			btn = a.srv.Buttons()
		}
		a.m.SetButtons(btn)

		switch a.menuMode {
		case "slot":
			a.updateSlotMenu()
		case "rom":
			a.updateRomMenu()
		case "keys":
			a.updateKeysMenu()
		default:
			a.updateMainMenu()
		}
	} else {
		a.handleGameInput()
	}

	if a.srv != nil {
		if p, ok := a.srv.TakePauseRequest(); ok {
			a.paused = p
		}
		a.srv.NotifyPaused(a.paused)
	}

	if !a.paused {
		frames := 1
		if a.fast {
			frames = 5
		}
		for i := 0; i < frames; i++ {
			a.m.StepFrame()
		}
		a.pushFrame()
	}
	return nil
}

func (a *App) handleGameInput() {
	// Keyboard → Game Boy buttons
	var btn emu.Buttons
	if ebiten.IsKeyPressed(ebiten.KeyRight) {
		btn.Right = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyLeft) {
		btn.Left = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyUp) {
		btn.Up = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyDown) {
		btn.Down = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyZ) {
		btn.A = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyX) {
		btn.B = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyEnter) {
		btn.Start = true
	}
	if ebiten.IsKeyPressed(ebiten.KeyShiftRight) {
		btn.Select = true
	}
	if a.srv != nil {
		remote := a.srv.Buttons()
		btn.A = btn.A || remote.A
		btn.B = btn.B || remote.B
		btn.Start = btn.Start || remote.Start
		btn.Select = btn.Select || remote.Select
		btn.Up = btn.Up || remote.Up
		btn.Down = btn.Down || remote.Down
		btn.Left = btn.Left || remote.Left
		btn.Right = btn.Right || remote.Right
	}
	a.m.SetButtons(btn)

	// Pause toggle (P)
	if inpututil.IsKeyJustPressed(ebiten.KeyP) {
		a.paused = !a.paused
	}

	// Fast-forward (Tab): while held, run multiple frames per Ebiten update
	a.fast = ebiten.IsKeyPressed(ebiten.KeyTab)

	// Reset shortcuts
	if inpututil.IsKeyJustPressed(ebiten.KeyR) { // post-boot reset
		a.m.ResetPostBoot()
		a.toast("Reset")
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyB) { // boot ROM reset
		a.m.ResetWithBoot()
		a.toast("Reset with boot ROM")
	}

	// Frame-step when paused (N)
	if a.paused && inpututil.IsKeyJustPressed(ebiten.KeyN) {
		a.m.StepFrame()
		a.pushFrame()
	}

	// Quick save/load on the current slot
	if inpututil.IsKeyJustPressed(ebiten.KeyF5) {
		if err := a.saveSlot(a.currentSlot); err == nil {
			a.toast(fmt.Sprintf("Saved slot %d", a.currentSlot+1))
		} else {
			a.toast("Save failed: " + err.Error())
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyF9) {
		if err := a.loadSlot(a.currentSlot); err == nil {
			a.toast(fmt.Sprintf("Loaded slot %d", a.currentSlot+1))
		} else {
			a.toast("Load failed: " + err.Error())
		}
	}
	for i, k := range []ebiten.Key{ebiten.KeyDigit1, ebiten.KeyDigit2, ebiten.KeyDigit3, ebiten.KeyDigit4} {
		if inpututil.IsKeyJustPressed(k) {
			a.currentSlot = i
			a.toast(fmt.Sprintf("Slot set to %d", i+1))
		}
	}

	// Screenshot (F12)
	if inpututil.IsKeyJustPressed(ebiten.KeyF12) {
		if name, err := a.saveScreenshot(); err == nil {
			a.toast("Saved " + name)
		}
	}
}

func (a *App) pushFrame() {
	if a.srv != nil {
		a.srv.PushFrame(a.m.Framebuffer())
	}
}

func (a *App) Draw(screen *ebiten.Image) {
	if a.tex == nil {
		a.tex = ebiten.NewImage(lcdW, lcdH)
	}
	a.tex.WritePixels(a.m.Framebuffer())
	screen.DrawImage(a.tex, nil)

	if a.showMenu {
		a.drawMenuOverlay(screen)
		switch a.menuMode {
		case "slot":
			a.drawSlotMenu(screen)
		case "rom":
			a.drawRomMenu(screen)
		case "keys":
			a.drawKeysMenu(screen)
		default:
			a.drawMainMenu(screen)
		}
	}
	a.drawToast(screen)
}

func (a *App) Layout(outW, outH int) (int, int) { return lcdW, lcdH }

func (a *App) toast(msg string) {
	a.toastMsg = msg
	a.toastUntil = time.Now().Add(2 * time.Second)
}

// statePath places savestates next to the ROM, one file per slot.
func (a *App) statePath(slot int) string {
	base := a.m.ROMPath()
	if base == "" {
		return fmt.Sprintf("slot%d.savestate", slot+1)
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + fmt.Sprintf(".slot%d.savestate", slot+1)
}

func (a *App) saveSlot(slot int) error {
	return a.m.SaveStateToFile(a.statePath(slot))
}

func (a *App) loadSlot(slot int) error {
	return a.m.LoadStateFromFile(a.statePath(slot))
}

// findROMs walks the configured ROMs directory, including archives the
// loader can open directly.
func (a *App) findROMs() []string {
	var roms []string
	root := a.cfg.ROMsDir
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".gb", ".zip", ".7z", ".gz":
			roms = append(roms, path)
		}
		return nil
	})
	sort.Strings(roms)
	return roms
}

func (a *App) saveScreenshot() (string, error) {
	fb := a.m.Framebuffer()
	img := &image.RGBA{
		Pix:    make([]byte, len(fb)),
		Stride: 4 * lcdW,
		Rect:   image.Rect(0, 0, lcdW, lcdH),
	}
	copy(img.Pix, fb)
	ts := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("screenshot_%s.png", ts)
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return "", err
	}
	return name, nil
}
