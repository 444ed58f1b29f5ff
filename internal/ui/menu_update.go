package ui

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/sqweek/dialog"
)

// menuNav moves idx with the arrow keys inside [0, n).
func menuNav(idx *int, n int) {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && *idx > 0 {
		*idx--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && *idx < n-1 {
		*idx++
	}
}

// backPressed reports Escape or Backspace, the two ways out of a submenu.
func backPressed() bool {
	return inpututil.IsKeyJustPressed(ebiten.KeyEscape) ||
		inpututil.IsKeyJustPressed(ebiten.KeyBackspace)
}

func (a *App) toMainMenu() {
	a.menuMode = "main"
	a.menuIdx = 0
}

func (a *App) updateMainMenu() {
	menuNav(&a.menuIdx, 6)
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		switch a.menuIdx {
		case 0:
			a.saveCurrentSlot()
		case 1:
			a.loadCurrentSlot()
		case 2:
			a.menuMode = "slot"
			a.menuIdx = a.currentSlot
		case 3:
			a.openRomMenu()
		case 4:
			a.menuMode = "keys"
			a.keysOff = 0
		case 5:
			a.showMenu = false
		}
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyBackspace) {
		a.showMenu = false
	}
}

func (a *App) saveCurrentSlot() {
	if err := a.saveSlot(a.currentSlot); err != nil {
		a.toast("Save failed: " + err.Error())
		return
	}
	a.toast(fmt.Sprintf("Saved slot %d", a.currentSlot+1))
}

func (a *App) loadCurrentSlot() {
	if _, err := os.Stat(a.statePath(a.currentSlot)); err != nil {
		a.toast("Slot is empty")
		return
	}
	if err := a.loadSlot(a.currentSlot); err != nil {
		a.toast("Load failed: " + err.Error())
		return
	}
	a.toast(fmt.Sprintf("Loaded slot %d", a.currentSlot+1))
}

func (a *App) openRomMenu() {
	a.romList = a.findROMs()
	a.romSel = 0
	a.romOff = 0
	a.menuMode = "rom"
}

func (a *App) updateSlotMenu() {
	menuNav(&a.menuIdx, 4)
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		a.currentSlot = a.menuIdx
		a.toast(fmt.Sprintf("Slot set to %d", a.currentSlot+1))
		a.toMainMenu()
	}
	if backPressed() {
		a.toMainMenu()
	}
}

func (a *App) updateRomMenu() {
	// The list carries a trailing Browse... row that opens a native dialog.
	n := len(a.romList) + 1
	menuNav(&a.romSel, n)

	// Keep the selection inside the visible window.
	rows := visibleRows(romListTop)
	if a.romSel < a.romOff {
		a.romOff = a.romSel
	}
	if a.romSel >= a.romOff+rows {
		a.romOff = a.romSel - rows + 1
	}

	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) {
		if a.romSel == len(a.romList) {
			a.browseROM()
		} else {
			a.loadROM(a.romList[a.romSel])
		}
		a.toMainMenu()
	}
	if backPressed() {
		a.toMainMenu()
	}
}

// browseROM opens the native file picker rooted at the configured ROMs dir.
func (a *App) browseROM() {
	path, err := dialog.File().
		SetStartDir(a.cfg.ROMsDir).
		Title("Select ROM").
		Filter("Game Boy ROMs", "gb", "zip", "7z", "gz").
		Load()
	if err == nil && path != "" {
		a.loadROM(path)
	}
}

func (a *App) updateKeysMenu() {
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && a.keysOff > 0 {
		a.keysOff--
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) {
		a.keysOff++
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnter) || backPressed() {
		a.toMainMenu()
	}
}

// loadROM switches cartridges, carrying battery RAM across the switch: the
// outgoing game's RAM is flushed to its .sav first, the incoming game's is
// picked up if present.
func (a *App) loadROM(path string) {
	a.flushBattery()
	if err := a.m.LoadROMFromFile(path); err != nil {
		a.toast("ROM load failed: " + err.Error())
		return
	}
	a.loadBatteryFor(path)

	title := a.cfg.Title
	if t := a.m.ROMTitle(); t != "" {
		title = a.cfg.Title + " - [" + t + "]"
	}
	ebiten.SetWindowTitle(title)
	a.toast("Loaded ROM: " + filepath.Base(path))
}

func (a *App) flushBattery() {
	path := a.m.ROMPath()
	if path == "" {
		return
	}
	data, ok := a.m.SaveBattery()
	if !ok {
		return
	}
	sav := savPathFor(path)
	if err := os.WriteFile(sav, data, 0o644); err != nil {
		log.Printf("[ui] battery save failed: %v", err)
	}
}

func (a *App) loadBatteryFor(path string) {
	sav := savPathFor(path)
	data, err := os.ReadFile(sav)
	if err != nil {
		return
	}
	if a.m.LoadBattery(data) {
		log.Printf("[ui] loaded save RAM: %s (%d bytes)", sav, len(data))
	}
}

func savPathFor(romPath string) string {
	return strings.TrimSuffix(romPath, filepath.Ext(romPath)) + ".sav"
}
