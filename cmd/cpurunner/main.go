package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/debug"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/disasm"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/emu"
)

// Serial output of blargg test ROMs carries the verdict, "Passed" or a
// summary like "Failed 2 tests". Stage markers like 11:01 narrow down where
// a run died.
var (
	failRe  = regexp.MustCompile(`(?i)failed\s+(\d+)\s+tests?`)
	stageRe = regexp.MustCompile(`\b(\d{2}:\d{2})\b`)
)

// traceEntry is one executed instruction with the register file after it ran.
type traceEntry struct {
	text                   string
	cyc                    int
	a, f, b, c, d, e, h, l byte
	sp                     uint16
	ime                    bool
	ifreg, ie              byte
}

func (te traceEntry) String() string {
	return fmt.Sprintf("%-30s cyc=%d A=%02X F=%02X B=%02X C=%02X D=%02X E=%02X H=%02X L=%02X SP=%04X IME=%t IF=%02X IE=%02X",
		te.text, te.cyc, te.a, te.f, te.b, te.c, te.d, te.e, te.h, te.l, te.sp, te.ime, te.ifreg, te.ie)
}

// traceRing keeps the most recent instructions for the -traceOnFail dump.
type traceRing struct {
	entries []traceEntry
	head    int
	fill    int
}

func (r *traceRing) add(te traceEntry) {
	if len(r.entries) == 0 {
		return
	}
	r.entries[r.head] = te
	r.head = (r.head + 1) % len(r.entries)
	if r.fill < len(r.entries) {
		r.fill++
	}
}

func (r *traceRing) dump(w io.Writer) {
	first := (r.head - r.fill + len(r.entries)) % len(r.entries)
	for i := 0; i < r.fill; i++ {
		fmt.Fprintln(w, r.entries[(first+i)%len(r.entries)])
	}
}

// byteRing is an io.Writer that retains the last cap bytes written.
type byteRing struct {
	buf  []byte
	head int
	fill int
}

func newByteRing(capacity int) *byteRing { return &byteRing{buf: make([]byte, capacity)} }

func (r *byteRing) Write(p []byte) (int, error) {
	for _, ch := range p {
		r.buf[r.head] = ch
		r.head = (r.head + 1) % len(r.buf)
		if r.fill < len(r.buf) {
			r.fill++
		}
	}
	return len(p), nil
}

func (r *byteRing) Bytes() []byte {
	out := make([]byte, 0, r.fill)
	first := (r.head - r.fill + len(r.buf)) % len(r.buf)
	for i := 0; i < r.fill; i++ {
		out = append(out, r.buf[(first+i)%len(r.buf)])
	}
	return out
}

// runner free-runs the machine and watches serial output for a verdict.
type runner struct {
	m     *emu.Machine
	steps int

	auto  bool
	until string

	trace     bool
	traceFail bool

	ser     bytes.Buffer
	serTail *byteRing
	traces  *traceRing

	deadline  time.Time
	start     time.Time
	cycles    int
	lastStage string
}

func (r *runner) run() int {
	r.start = time.Now()
	for i := 0; i < r.steps; i++ {
		r.step()
		if code, done := r.verdict(i + 1); done {
			return code
		}
		if !r.deadline.IsZero() && time.Now().After(r.deadline) {
			fmt.Printf("\ntimeout after %s\n", time.Since(r.start).Truncate(time.Millisecond))
			r.finish(i + 1)
			return 2
		}
	}
	r.finish(r.steps)
	return 0
}

func (r *runner) step() {
	var text string
	if r.trace || r.traceFail {
		text = disasm.Decode(r.m.Bus(), r.m.CPU().PC).String()
	}
	cyc := r.m.StepInstruction()
	r.cycles += cyc
	if !r.trace && !r.traceFail {
		return
	}
	c := r.m.CPU()
	te := traceEntry{
		text: text,
		cyc:  cyc,
		a:    c.A, f: c.F, b: c.B, c: c.C, d: c.D, e: c.E, h: c.H, l: c.L,
		sp: c.SP, ime: c.IME, ifreg: r.m.Bus().Read(0xFF0F), ie: r.m.Bus().Read(0xFFFF),
	}
	if r.trace {
		fmt.Println(te)
	}
	if r.traceFail {
		r.traces.add(te)
	}
}

// verdict inspects the captured serial stream. In -auto mode it exits 0 on
// "Passed" and 1 on a failure summary; otherwise it stops once the -until
// substring shows up.
func (r *runner) verdict(steps int) (int, bool) {
	if r.auto {
		s := r.ser.String()
		if mm := stageRe.FindAllString(s, -1); len(mm) > 0 {
			r.lastStage = mm[len(mm)-1]
		}
		if strings.Contains(strings.ToLower(s), "passed") {
			fmt.Printf("\nserial output reports PASS\n")
			r.printStage()
			r.finish(steps)
			return 0, true
		}
		if fm := failRe.FindString(s); fm != "" {
			fmt.Printf("\nserial output reports %q\n", fm)
			r.printStage()
			r.dumpDiagnostics()
			r.finish(steps)
			return 1, true
		}
		return 0, false
	}
	if r.until != "" && strings.Contains(strings.ToLower(r.ser.String()), strings.ToLower(r.until)) {
		fmt.Printf("\nserial output matched %q\n", r.until)
		r.finish(steps)
		return 0, true
	}
	return 0, false
}

func (r *runner) printStage() {
	if r.lastStage != "" {
		fmt.Printf("last stage marker: %s\n", r.lastStage)
	}
}

func (r *runner) dumpDiagnostics() {
	if r.traceFail && r.traces.fill > 0 {
		fmt.Printf("\n--- last %d instructions ---\n", r.traces.fill)
		r.traces.dump(os.Stdout)
		fmt.Println("--- end trace ---")
	}
	if r.serTail.fill > 0 {
		fmt.Printf("\n--- last %d serial bytes ---\n", r.serTail.fill)
		os.Stdout.Write(r.serTail.Bytes())
		fmt.Println("\n--- end serial ---")
	}
}

func (r *runner) finish(steps int) {
	fmt.Printf("\ndone: steps=%d cycles=%d elapsed=%s\n", steps, r.cycles, time.Since(r.start).Truncate(time.Millisecond))
}

func main() {
	romPath := flag.String("rom", "", "path to ROM (.gb)")
	bootPath := flag.String("bootrom", "", "optional DMG boot ROM to run from 0x0000 until FF50 disables it")
	steps := flag.Int("steps", 5_000_000, "max CPU steps to run")
	startPC := flag.Int("pc", 0x0100, "initial PC value (ignored with -bootrom)")
	trace := flag.Bool("trace", false, "print each instruction with registers")
	until := flag.String("until", "Passed", "stop when serial output contains this substring (case-insensitive); empty to disable")
	auto := flag.Bool("auto", false, "auto-detect 'Passed' or 'Failed N tests' in serial output and exit with code 0/1")
	timeout := flag.Duration("timeout", 0, "optional wall-clock timeout (e.g. 30s, 2m); 0 disables")
	traceOnFail := flag.Bool("traceOnFail", false, "when -auto detects failure, print a recent trace window (slows down)")
	traceWindow := flag.Int("traceWindow", 200, "number of recent instructions to include in the failure dump")
	serialWindow := flag.Int("serialWindow", 8192, "number of recent serial bytes to retain for the failure dump")
	dbg := flag.Bool("debug", false, "drop into the interactive debugger instead of free-running (ignores -steps/-auto/-until)")
	flag.Parse()

	if *romPath == "" {
		log.Fatal("-rom is required")
	}
	rom, err := os.ReadFile(*romPath)
	if err != nil {
		log.Fatalf("read rom: %v", err)
	}
	var boot []byte
	if *bootPath != "" {
		if boot, err = os.ReadFile(*bootPath); err != nil {
			log.Fatalf("read bootrom: %v", err)
		}
	}

	m := emu.New(emu.Config{})
	if err := m.LoadCartridge(rom, boot); err != nil {
		log.Fatalf("load cart: %v", err)
	}
	if len(boot) < 0x100 && *startPC != 0x0100 {
		m.CPU().SetPC(uint16(*startPC))
	}

	if *dbg {
		m.Bus().SetSerialWriter(os.Stdout)
		debug.New(m, os.Stdin, os.Stdout).Run()
		return
	}

	r := &runner{
		m:         m,
		steps:     *steps,
		auto:      *auto,
		until:     *until,
		trace:     *trace,
		traceFail: *traceOnFail,
		serTail:   newByteRing(max(*serialWindow, 256)),
		traces:    &traceRing{entries: make([]traceEntry, *traceWindow)},
	}
	if *timeout > 0 {
		r.deadline = time.Now().Add(*timeout)
	}

	out := io.Writer(os.Stdout)
	if *until != "" || *auto {
		out = io.MultiWriter(os.Stdout, &r.ser, r.serTail)
	}
	m.Bus().SetSerialWriter(out)

	os.Exit(r.run())
}
