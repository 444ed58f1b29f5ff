// Package debug provides the line-oriented debugger REPL used by the
// headless runner. It reads commands from an io.Reader and writes to an
// io.Writer, which keeps it scriptable and testable; interactive use wires
// stdin/stdout.
package debug

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/disasm"
	"github.com/FabianRolfMatthiasNoll/dmgemu/internal/emu"
)

const prompt = "dmg> "

// REPL drives a Machine one command at a time. The machine is only stepped
// by explicit commands; continue clears the pause flag and free-runs until
// something pauses it again.
type REPL struct {
	m   *emu.Machine
	in  *bufio.Scanner
	out io.Writer
}

func New(m *emu.Machine, in io.Reader, out io.Writer) *REPL {
	return &REPL{m: m, in: bufio.NewScanner(in), out: out}
}

// Run reads and executes commands until quit or EOF on the input.
func (r *REPL) Run() {
	for {
		fmt.Fprint(r.out, prompt)
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			return
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if r.exec(line) {
			return
		}
	}
}

// exec runs a single command line. Returns true when the REPL should exit.
func (r *REPL) exec(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "q":
		return true

	case "next", "n":
		count := 1
		if len(fields) > 1 {
			v, err := strconv.Atoi(fields[1])
			if err != nil || v < 1 {
				fmt.Fprintf(r.out, "next: bad count %q\n", fields[1])
				return false
			}
			count = v
		}
		for i := 0; i < count; i++ {
			ins := disasm.Decode(r.m.Bus(), r.m.CPU().PC)
			fmt.Fprintln(r.out, ins)
			r.m.StepInstruction()
		}
		fmt.Fprintln(r.out, r.m.DumpCPU())

	case "continue", "c":
		r.m.SetPause(false)
		for !r.m.Paused() {
			r.m.StepInstruction()
		}
		fmt.Fprintf(r.out, "paused: %s\n", r.m.DumpCPU())

	case "dump_cpu":
		fmt.Fprintln(r.out, r.m.DumpCPU())

	case "dump_mem":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: dump_mem ADDR [LEN]")
			return false
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			fmt.Fprintf(r.out, "dump_mem: bad address %q\n", fields[1])
			return false
		}
		count := 64
		if len(fields) > 2 {
			v, err := strconv.Atoi(fields[2])
			if err != nil || v < 1 {
				fmt.Fprintf(r.out, "dump_mem: bad length %q\n", fields[2])
				return false
			}
			count = v
		}
		r.hexDump(addr, count)

	case "br":
		if len(fields) < 2 {
			fmt.Fprintln(r.out, "usage: br ADDR")
			return false
		}
		addr, err := parseAddr(fields[1])
		if err != nil {
			fmt.Fprintf(r.out, "br: bad address %q\n", fields[1])
			return false
		}
		r.m.SetBreakpoint(addr)
		fmt.Fprintf(r.out, "breakpoint at $%04X\n", addr)

	case "softbrk":
		if len(fields) < 2 || (fields[1] != "on" && fields[1] != "off") {
			fmt.Fprintln(r.out, "usage: softbrk on|off")
			return false
		}
		r.m.SetSoftBreakpoints(fields[1] == "on")

	case "disasm":
		addr := r.m.CPU().PC
		count := 8
		if len(fields) > 1 {
			v, err := parseAddr(fields[1])
			if err != nil {
				fmt.Fprintf(r.out, "disasm: bad address %q\n", fields[1])
				return false
			}
			addr = v
		}
		if len(fields) > 2 {
			v, err := strconv.Atoi(fields[2])
			if err != nil || v < 1 {
				fmt.Fprintf(r.out, "disasm: bad count %q\n", fields[2])
				return false
			}
			count = v
		}
		for i := 0; i < count; i++ {
			ins := disasm.Decode(r.m.Bus(), addr)
			fmt.Fprintln(r.out, ins)
			addr += uint16(len(ins.Bytes))
		}

	default:
		fmt.Fprintf(r.out, "unknown command %q\n", fields[0])
	}
	return false
}

// parseAddr accepts bare hex with an optional $ or 0x prefix.
func parseAddr(s string) (uint16, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "$"), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	return uint16(v), err
}

func (r *REPL) hexDump(addr uint16, count int) {
	for i := 0; i < count; i += 16 {
		row := addr + uint16(i)
		fmt.Fprintf(r.out, "$%04X:", row)
		for j := 0; j < 16 && i+j < count; j++ {
			fmt.Fprintf(r.out, " %02X", r.m.Bus().Read(row+uint16(j)))
		}
		fmt.Fprintln(r.out)
	}
}
