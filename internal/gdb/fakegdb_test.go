package gdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
)

// fakeGDBEnv switches the test binary into a minimal GDB stand-in. The
// value selects a behaviour:
//
//	ok         every command succeeds
//	noconnect  target remote prints nothing
//	refused    target remote reports a refused connection
//	loaderror  restore reports an error
//	badreg     registers read back off by one
//	wdfail     the watchdog register cannot be read back
//	exit       exits before reading any command
//	batchfail  dump binary memory cannot access memory
const fakeGDBEnv = "RAMDUMP_FAKE_GDB"

// fakeWatchdogAddr is the ck802 watchdog register.
const fakeWatchdogAddr = 0xc012001c

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeGDBEnv); mode != "" {
		os.Exit(fakeGDB(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

func fakeGDBConfig(mode string) (path string, env []string) {
	return os.Args[0], []string{fakeGDBEnv + "=" + mode}
}

type fakeTarget struct {
	mode   string
	memory map[uint32]byte
	regs   map[string]uint32
}

func fakeGDB(mode string, args []string) int {
	if mode == "exit" {
		return 3
	}

	t := &fakeTarget{
		mode:   mode,
		memory: make(map[uint32]byte),
		regs:   make(map[string]uint32),
	}

	for i, arg := range args {
		if arg == "-x" && i+1 < len(args) {
			return t.batch(args[i+1])
		}
	}

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		if done := t.command(strings.TrimSpace(sc.Text())); done {
			return 0
		}
	}
	return 0
}

func (t *fakeTarget) batch(script string) int {
	data, err := os.ReadFile(script)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "echo "):
			fmt.Print(strings.ReplaceAll(strings.TrimPrefix(line, "echo "), `\n`, "\n"))
		case strings.HasPrefix(line, "target remote "):
			if t.mode == "refused" {
				fmt.Fprintf(os.Stderr, "%s: Connection refused.\n", strings.TrimPrefix(line, "target remote "))
				return 1
			}
			fmt.Printf("Remote debugging using %s\n", strings.TrimPrefix(line, "target remote "))
		case strings.HasPrefix(line, "dump binary memory "):
			f := strings.Fields(line)
			if len(f) != 6 {
				fmt.Fprintln(os.Stderr, "Error: bad dump command")
				return 1
			}
			start, end := parseHex(f[4]), parseHex(f[5])
			if t.mode == "batchfail" {
				fmt.Fprintf(os.Stderr, "Cannot access memory at address 0x%x\n", start)
				return 1
			}
			buf := make([]byte, end-start)
			for i := range buf {
				buf[i] = byte(start) + byte(i)
			}
			if err := os.WriteFile(f[3], buf, 0644); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
		}
	}
	return 0
}

// command handles one interactive command and reports whether GDB quits.
func (t *fakeTarget) command(line string) bool {
	switch {
	case line == "quit":
		return true

	case strings.HasPrefix(line, "target remote "):
		addr := strings.TrimPrefix(line, "target remote ")
		switch t.mode {
		case "noconnect":
		case "refused":
			fmt.Fprintf(os.Stderr, "%s: Connection refused.\n", addr)
		default:
			fmt.Printf("Remote debugging using %s\n", addr)
		}

	case strings.HasPrefix(line, "restore "):
		f := strings.Fields(line)
		if t.mode == "loaderror" || len(f) != 4 {
			fmt.Println("Error: cannot restore")
			return false
		}
		data, err := os.ReadFile(f[1])
		if err != nil {
			fmt.Printf("%s: No such file or directory.\n", f[1])
			return false
		}
		base := parseHex(f[3])
		for i, b := range data {
			t.memory[base+uint32(i)] = b
		}
		fmt.Printf("Restoring binary file %s into memory (0x%x to 0x%x)\n", f[1], base, base+uint32(len(data)))

	case strings.HasPrefix(line, "x/1xw "):
		addr := parseHex(strings.TrimPrefix(line, "x/1xw "))
		if t.mode == "wdfail" && addr == fakeWatchdogAddr {
			fmt.Fprintf(os.Stderr, "Cannot access memory at address 0x%x\n", addr)
			return false
		}
		fmt.Printf("0x%x:\t0x%08x\n", addr, t.word(addr))

	case strings.HasPrefix(line, "set *(unsigned int*)"):
		lhs, rhs, _ := strings.Cut(strings.TrimPrefix(line, "set *(unsigned int*)"), "=")
		v, _ := strconv.ParseUint(strings.TrimSpace(rhs), 0, 32)
		t.setWord(parseHex(strings.TrimSpace(lhs)), uint32(v))

	case strings.HasPrefix(line, "set $"):
		name, rhs, _ := strings.Cut(strings.TrimPrefix(line, "set $"), "=")
		v := parseHex(strings.TrimSpace(rhs))
		if t.mode == "badreg" {
			v++
		}
		t.regs[strings.TrimSpace(name)] = v

	case strings.HasPrefix(line, "info registers $"):
		name := strings.TrimPrefix(line, "info registers $")
		v := t.regs[name]
		fmt.Printf("%-15s0x%-18x%d\n", name, v, v)

	case line == "detach":
		fmt.Println("Detaching from program: , Remote target")
		fmt.Println("[Inferior 1 (Remote target) detached]")
	}
	return false
}

func (t *fakeTarget) word(addr uint32) uint32 {
	var b [4]byte
	for i := range b {
		b[i] = t.memory[addr+uint32(i)]
	}
	return binary.LittleEndian.Uint32(b[:])
}

func (t *fakeTarget) setWord(addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	for i := range b {
		t.memory[addr+uint32(i)] = b[i]
	}
}

func parseHex(s string) uint32 {
	v, _ := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	return uint32(v)
}
