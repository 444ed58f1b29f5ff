package ui

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
)

// textRow is the line pitch of the 6x13 debug font all menus print with.
const textRow = 14

// romListTop is where the ROM list starts, below the title and dir lines.
const romListTop = 40

func (a *App) drawMenuOverlay(screen *ebiten.Image) {
	if a.overlay == nil {
		a.overlay = ebiten.NewImage(lcdW, lcdH)
		a.overlay.Fill(color.RGBA{0, 0, 0, 128})
	}
	screen.DrawImage(a.overlay, nil)
}

// drawList prints rows top to bottom from (x, baseY), marking the selected
// one with a cursor.
func (a *App) drawList(screen *ebiten.Image, rows []string, sel, x, baseY int) {
	for i, s := range rows {
		prefix := "  "
		if i == sel {
			prefix = "> "
		}
		ebitenutil.DebugPrintAt(screen, prefix+s, x, baseY+i*textRow)
	}
}

// visibleRows is how many text rows fit between baseY and the bottom edge.
func visibleRows(baseY int) int {
	n := (lcdH - baseY) / textRow
	if n < 1 {
		return 1
	}
	return n
}

// scrollWindow clamps off and returns the visible slice bounds [off, end)
// of n rows printed below baseY, plus the row capacity.
func scrollWindow(off, n, baseY int) (int, int, int) {
	rows := visibleRows(baseY)
	if n == 0 {
		return 0, 0, rows
	}
	if off < 0 {
		off = 0
	}
	if off > n-1 {
		off = n - 1
	}
	end := off + rows
	if end > n {
		end = n
	}
	return off, end, rows
}

// scrollMarks draws arrows in the margin when rows are hidden above or below.
func scrollMarks(screen *ebiten.Image, off, end, n, baseY, rows int) {
	if off > 0 {
		ebitenutil.DebugPrintAt(screen, "^", 2, baseY)
	}
	if end < n {
		ebitenutil.DebugPrintAt(screen, "v", 2, baseY+(rows-1)*textRow)
	}
}

func (a *App) drawMainMenu(screen *ebiten.Image) {
	ebitenutil.DebugPrintAt(screen, "Menu:", 10, 10)
	items := []string{
		fmt.Sprintf("Save state (slot %d)", a.currentSlot+1),
		fmt.Sprintf("Load state (slot %d)", a.currentSlot+1),
		"Select Slot",
		"Switch ROM",
		"Keybindings",
		"Close",
	}
	a.drawList(screen, items, a.menuIdx, 10, 10+textRow)

	hint := a.truncateText("F5: Save  F9: Load  1-4: Slot  Backspace: Back", a.maxCharsForText(10))
	ebitenutil.DebugPrintAt(screen, hint, 10, 10+(len(items)+1)*textRow)
}

func (a *App) drawSlotMenu(screen *ebiten.Image) {
	ebitenutil.DebugPrintAt(screen, "Select Slot:", 10, 10)
	items := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		label := fmt.Sprintf("%d [empty]", i+1)
		if _, err := os.Stat(a.statePath(i)); err == nil {
			label = fmt.Sprintf("%d", i+1)
		}
		items = append(items, label)
	}
	a.drawList(screen, items, a.menuIdx, 10, 10+textRow)
}

func (a *App) drawRomMenu(screen *ebiten.Image) {
	ebitenutil.DebugPrintAt(screen, "Select ROM (Enter to load, Backspace/Esc to return)", 10, 10)
	dir := a.truncateText("Dir: "+a.cfg.ROMsDir, a.maxCharsForText(10))
	ebitenutil.DebugPrintAt(screen, dir, 10, 24)

	rows := make([]string, 0, len(a.romList)+1)
	for _, p := range a.romList {
		rows = append(rows, filepath.Base(p))
	}
	rows = append(rows, "Browse...")

	off, end, capRows := scrollWindow(a.romOff, len(rows), romListTop)
	width := a.maxCharsForText(10) - 2 // room for the cursor
	if width < 1 {
		width = 1
	}
	for i := off; i < end; i++ {
		prefix := "  "
		if i == a.romSel {
			prefix = "> "
		}
		name := a.truncateText(rows[i], width)
		ebitenutil.DebugPrintAt(screen, prefix+name, 10, romListTop+(i-off)*textRow)
	}
	scrollMarks(screen, off, end, len(rows), romListTop, capRows)
}

// keyHelp lists the fixed bindings shown on the keybindings screen.
var keyHelp = []string{
	"Z: A",
	"X: B",
	"Enter: Start",
	"RightShift: Select",
	"Arrows: D-Pad",
	"P: Pause",
	"N: Step (when paused)",
	"Tab: Fast-forward",
	"R: Reset",
	"B: Reset with Boot ROM",
	"F5/F9: Save/Load slot",
	"1-4: Select slot",
	"F12: Screenshot",
	"Esc: Open/Close Menu",
}

func (a *App) drawKeysMenu(screen *ebiten.Image) {
	y := 10
	title := "Keybindings (Up/Down to scroll, Backspace/Esc to return)"
	for _, w := range a.wrapText(title, a.maxCharsForText(10)) {
		ebitenutil.DebugPrintAt(screen, w, 10, y)
		y += textRow
	}

	baseY := y + 4
	off, end, capRows := scrollWindow(a.keysOff, len(keyHelp), baseY)
	a.keysOff = off
	width := a.maxCharsForText(10)
	for i := off; i < end; i++ {
		ebitenutil.DebugPrintAt(screen, a.truncateText(keyHelp[i], width), 10, baseY+(i-off)*textRow)
	}
	scrollMarks(screen, off, end, len(keyHelp), baseY, capRows)
}

func (a *App) drawToast(screen *ebiten.Image) {
	if a.toastMsg == "" || time.Now().After(a.toastUntil) {
		return
	}
	msg := a.truncateText(a.toastMsg, a.maxCharsForText(4))
	ebitenutil.DebugPrintAt(screen, msg, 4, lcdH-16)
}

// maxCharsForText fits the 6px debug font between x and the right margin.
func (a *App) maxCharsForText(x int) int { return (lcdW - 2*x) / 6 }

func (a *App) truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// wrapText breaks s on spaces so every line fits in max characters.
func (a *App) wrapText(s string, max int) []string {
	if max < 1 {
		return []string{s}
	}
	var lines []string
	for len(s) > max {
		cut := strings.LastIndex(s[:max], " ")
		if cut <= 0 {
			cut = max
		}
		lines = append(lines, s[:cut])
		s = strings.TrimLeft(s[cut:], " ")
	}
	return append(lines, s)
}
