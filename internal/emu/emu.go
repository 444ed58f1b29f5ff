package emu

import (
	"bytes"
	"encoding/gob"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/bus"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/cart"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/cpu"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/disasm"
)

// frameCycles is one LCD frame: 154 lines of 456 dots each.
const frameCycles = 70224

// frameDuration is one frame of the 4.194304 MHz clock, for LimitFPS pacing.
const frameDuration = time.Second * frameCycles / 4194304

// bootROMSize is the DMG boot overlay length.
const bootROMSize = 0x100

// ErrStateROMMismatch is returned by LoadState when the snapshot was taken
// from a different ROM than the one currently loaded.
var ErrStateROMMismatch = errors.New("save state belongs to a different ROM")

// Buttons is the pressed state of the eight DMG inputs.
type Buttons struct {
	Up, Down, Left, Right bool
	A, B, Select, Start   bool
}

// mask folds the pressed buttons into the joypad bit layout.
func (b Buttons) mask() byte {
	var m byte
	for _, k := range []struct {
		on  bool
		bit byte
	}{
		{b.Right, bus.JoypRight},
		{b.Left, bus.JoypLeft},
		{b.Up, bus.JoypUp},
		{b.Down, bus.JoypDown},
		{b.A, bus.JoypA},
		{b.B, bus.JoypB},
		{b.Select, bus.JoypSelectBtn},
		{b.Start, bus.JoypStart},
	} {
		if k.on {
			m |= k.bit
		}
	}
	return m
}

// Machine owns one emulated DMG: cartridge, bus, CPU and the rendered frame.
type Machine struct {
	cfg Config

	bus *bus.Bus
	cpu *cpu.CPU

	w, h int
	fb   []byte // 160x144 RGBA
	bgci []byte // BG color index per pixel, for sprite priority

	romID    uint64
	romPath  string
	romTitle string
	bootROM  []byte

	lastFrame time.Time
}

func New(cfg Config) *Machine {
	m := &Machine{cfg: cfg, w: 160, h: 144}
	m.fb = make([]byte, m.w*m.h*4)
	m.bgci = make([]byte, m.w*m.h)
	return m
}

// LoadCartridge wires a fresh bus and CPU around the given ROM. With a
// 256-byte boot ROM execution starts at 0x0000 under the boot overlay;
// without one the CPU and IO registers get the DMG post-boot state and
// execution starts at the cartridge entry point 0x0100.
func (m *Machine) LoadCartridge(rom, boot []byte) error {
	h, err := cart.ParseHeader(rom)
	if err != nil {
		return err
	}
	log.Printf("[emu] cartridge: %s", h)
	if !cart.LogoOK(rom) {
		log.Printf("[emu] warning: boot logo missing or damaged (homebrew?)")
	}
	if !cart.HeaderChecksumOK(rom) {
		log.Printf("[emu] warning: header checksum mismatch")
	}

	m.bus = bus.New(rom)
	m.cpu = cpu.New()
	m.romID = cart.ROMID(rom)
	m.romTitle = h.Title
	m.bootROM = nil
	if len(boot) >= bootROMSize {
		m.bootROM = append([]byte(nil), boot[:bootROMSize]...)
		m.bus.SetBootROM(m.bootROM)
		m.bootStart()
	} else {
		m.postBootStart()
	}
	return nil
}

// bootStart points the CPU at the boot vector with the overlay mapped.
func (m *Machine) bootStart() {
	m.cpu.SP = 0xFFFE
	m.cpu.PC = 0x0000
	m.cpu.IME = false
}

// postBootStart puts CPU and IO into the state the boot ROM leaves behind
// and continues at the cartridge entry point.
func (m *Machine) postBootStart() {
	m.cpu.ResetNoBoot()
	m.cpu.SetPC(0x0100)
	m.applyDMGPostBootIO()
}

// SetUseFetcherBG switches BG and window drawing between the direct tile
// sampler and the dot-accurate fetcher path.
func (m *Machine) SetUseFetcherBG(on bool) { m.cfg.UseFetcherBG = on }

// LoadROMFromFile replaces the current cartridge with a ROM from disk,
// preserving the boot ROM setting. Zip/7z/gzip archives are searched for a
// ROM member.
func (m *Machine) LoadROMFromFile(path string) error {
	data, err := cart.LoadFile(path)
	if err != nil {
		return err
	}
	var boot []byte
	if len(m.bootROM) >= bootROMSize {
		boot = m.bootROM
	}
	if err := m.LoadCartridge(data, boot); err != nil {
		return err
	}
	m.romPath = path
	return nil
}

// ROMPath returns the file the current cartridge was loaded from, if any.
func (m *Machine) ROMPath() string { return m.romPath }

// ROMTitle returns the header title of the loaded cartridge.
func (m *Machine) ROMTitle() string { return m.romTitle }

// SetROMPath records the path battery and state files get keyed on. It does
// not reload anything, so call it only after a successful cartridge load.
func (m *Machine) SetROMPath(path string) { m.romPath = path }

// SetBootROM installs the DMG boot ROM used by later loads and boot resets.
// Anything shorter than 256 bytes clears it.
func (m *Machine) SetBootROM(data []byte) {
	m.bootROM = nil
	if len(data) >= bootROMSize {
		m.bootROM = append([]byte(nil), data[:bootROMSize]...)
	}
	if m.bus != nil {
		m.bus.SetBootROM(m.bootROM)
	}
}

// HasBootROM reports whether a boot ROM is installed.
func (m *Machine) HasBootROM() bool { return len(m.bootROM) >= bootROMSize }

// ResetPostBoot restarts the loaded cartridge from the DMG post-boot state,
// skipping the boot ROM even when one is installed.
func (m *Machine) ResetPostBoot() {
	if m.cpu == nil || m.bus == nil {
		return
	}
	m.postBootStart()
	m.bus.EnableBoot(false)
}

// ResetWithBoot restarts execution from 0x0000 under the boot overlay,
// falling back to a post-boot reset when no boot ROM is installed.
func (m *Machine) ResetWithBoot() {
	if m.cpu == nil || m.bus == nil {
		return
	}
	if len(m.bootROM) < bootROMSize {
		m.ResetPostBoot()
		return
	}
	m.bus.SetBootROM(m.bootROM)
	m.bus.EnableBoot(true)
	m.bootStart()
}

// postBootIO is the IO register state the DMG boot ROM leaves behind, applied
// in order. NR52 comes first among the APU registers so the NR50/NR51 writes
// land on a powered APU.
var postBootIO = []struct {
	addr  uint16
	value byte
}{
	{0xFF00, 0xCF}, // P1, no button group selected
	{0xFF05, 0x00}, // TIMA
	{0xFF06, 0x00}, // TMA
	{0xFF07, 0x00}, // TAC
	{0xFF40, 0x91}, // LCDC, LCD+BG on with tile data at 0x8000
	{0xFF42, 0x00}, // SCY
	{0xFF43, 0x00}, // SCX
	{0xFF45, 0x00}, // LYC
	{0xFF47, 0xFC}, // BGP
	{0xFF48, 0xFF}, // OBP0
	{0xFF49, 0xFF}, // OBP1
	{0xFF4A, 0x00}, // WY
	{0xFF4B, 0x00}, // WX
	{0xFF26, 0x80}, // NR52, APU powered
	{0xFF24, 0x77}, // NR50, full volume both sides
	{0xFF25, 0xFF}, // NR51, all channels to both sides
	{0xFFFF, 0x00}, // IE
}

func (m *Machine) applyDMGPostBootIO() {
	if m == nil || m.bus == nil {
		return
	}
	for _, r := range postBootIO {
		m.bus.Write(r.addr, r.value)
	}
}

// SaveBattery returns the cartridge's battery-backed RAM for the caller to
// persist. The actual file IO is managed by the caller (e.g. cmd/gbemu).
func (m *Machine) SaveBattery() ([]byte, bool) {
	if m == nil || m.bus == nil {
		return nil, false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return nil, false
	}
	data := bb.SaveRAM()
	return data, len(data) > 0
}

// LoadBattery restores battery-backed RAM into the cartridge if it has any.
func (m *Machine) LoadBattery(data []byte) bool {
	if m == nil || m.bus == nil {
		return false
	}
	bb, ok := m.bus.Cart().(cart.BatteryBacked)
	if !ok {
		return false
	}
	bb.LoadRAM(data)
	return true
}

// runCycles advances the bus one tick at a time, offering interrupt dispatch
// after every tick so a newly raised interrupt is never deferred past the
// current instruction. Servicing one costs 20 ticks, which join the budget.
// Returns the total ticks elapsed.
func (m *Machine) runCycles(n int) int {
	elapsed := 0
	for ; n > 0; n-- {
		m.bus.Tick(1)
		elapsed++
		n += m.cpu.HandleInterrupt(m.bus)
	}
	return elapsed
}

// StepInstruction executes one instruction and runs the peripherals for the
// cycles it consumed, including any interrupt dispatch triggered along the way.
func (m *Machine) StepInstruction() int {
	if m.cpu == nil || m.bus == nil {
		return 0
	}
	if m.cfg.Trace {
		log.Printf("[trace] %s", disasm.Decode(m.bus, m.cpu.PC))
	}
	return m.runCycles(m.cpu.Step(m.bus))
}

// StepFrame runs roughly one frame worth of cycles (~70224) and renders the
// framebuffer from the PPU's per-line register snapshots.
func (m *Machine) StepFrame() {
	if m.cfg.LimitFPS {
		if !m.lastFrame.IsZero() {
			if d := frameDuration - time.Since(m.lastFrame); d > 0 {
				time.Sleep(d)
			}
		}
		m.lastFrame = time.Now()
	}
	m.StepFrameNoRender()
	m.renderBG()
	m.renderWindow()
	m.renderSprites()
}

// StepFrameNoRender advances one frame without touching the framebuffer, for
// headless harnesses. It stops early when the CPU pauses on a breakpoint.
func (m *Machine) StepFrameNoRender() {
	if m.cpu == nil || m.bus == nil {
		return
	}
	acc := 0
	for acc < frameCycles {
		c := m.StepInstruction()
		if c == 0 {
			// Illegal opcodes take no time but move PC; count one tick so a
			// run of them cannot stall the frame loop.
			c = 1
		}
		acc += c
		if m.cpu.IsPaused() {
			return
		}
	}
}

// Paused reports whether the CPU is stopped on a breakpoint or soft break.
func (m *Machine) Paused() bool { return m.cpu != nil && m.cpu.IsPaused() }

// SetPause sets or clears the debug pause flag.
func (m *Machine) SetPause(p bool) {
	if m.cpu != nil {
		m.cpu.SetPause(p)
	}
}

// SetBreakpoint pauses execution when PC reaches addr.
func (m *Machine) SetBreakpoint(addr uint16) {
	if m.cpu != nil {
		m.cpu.SetBreakpoint(addr)
	}
}

// ClearBreakpoint removes the breakpoint.
func (m *Machine) ClearBreakpoint() {
	if m.cpu != nil {
		m.cpu.ClearBreakpoint()
	}
}

// SetSoftBreakpoints toggles pausing on LD B,B, the test ROM breakpoint idiom.
func (m *Machine) SetSoftBreakpoints(on bool) {
	if m.cpu != nil {
		m.cpu.SetSoftBreakpoints(on)
	}
}

// DumpCPU returns the CPU's one-line state summary.
func (m *Machine) DumpCPU() string {
	if m.cpu == nil {
		return ""
	}
	return m.cpu.DumpCPU()
}

// CPU exposes the core for the debugger and trace tooling.
func (m *Machine) CPU() *cpu.CPU { return m.cpu }

// Bus exposes the memory bus for the debugger and trace tooling.
func (m *Machine) Bus() *bus.Bus { return m.bus }

// Framebuffer returns the RGBA pixels of the last rendered frame.
func (m *Machine) Framebuffer() []byte { return m.fb }

// SetSerialWriter connects a writer that receives every byte sent out the
// serial port, the channel blargg test ROMs report on.
func (m *Machine) SetSerialWriter(w io.Writer) {
	if m != nil && m.bus != nil {
		m.bus.SetSerialWriter(w)
	}
}

type machineState struct {
	ROMID uint64
	Bus   []byte
	CPU   []byte
}

// SaveState snapshots the whole machine. The ROM image itself stays out of
// the snapshot; a hash ties it to the cartridge instead.
func (m *Machine) SaveState() []byte {
	if m == nil || m.bus == nil || m.cpu == nil {
		return nil
	}
	st := machineState{ROMID: m.romID, Bus: m.bus.SaveState(), CPU: m.cpu.SaveState()}
	var buf bytes.Buffer
	_ = gob.NewEncoder(&buf).Encode(st)
	return buf.Bytes()
}

// LoadState restores a SaveState snapshot taken from the same ROM.
func (m *Machine) LoadState(data []byte) error {
	if m == nil || m.bus == nil || m.cpu == nil {
		return nil
	}
	var st machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	if st.ROMID != m.romID {
		return ErrStateROMMismatch
	}
	m.bus.LoadState(st.Bus)
	m.cpu.LoadState(st.CPU)
	return nil
}

func (m *Machine) SaveStateToFile(path string) error {
	data := m.SaveState()
	if len(data) == 0 {
		return nil
	}
	return os.WriteFile(path, data, 0o644)
}

func (m *Machine) LoadStateFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return m.LoadState(data)
}

// SetButtons replaces the joypad state with the given pressed set.
func (m *Machine) SetButtons(b Buttons) {
	if m.bus != nil {
		m.bus.SetJoypadState(b.mask())
	}
}
