package gdb

import (
	"testing"
)

func TestParser_MemoryWord(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		addr    uint32
		line    string
		want    uint32
		wantErr bool
	}{
		{"plain", 0x20000100, "0x20000100:\t0x00000001", 1, false},
		{"with symbol", 0x20000100, "0x20000100 <g_frame+16>:\t0xdeadbeef", 0xdeadbeef, false},
		{"other address", 0x20000100, "0x20000104:\t0x00000001", 0, true},
		{"longer address with same suffix", 0x100, "0x20000100:\t0xdeadbeef", 0, true},
		{"zero padded", 0x100, "0x00000100:\t0x0000002a", 0x2a, false},
		{"after prompt", 0x20000100, "(gdb) 0x20000100:\t0x00000007", 7, false},
		{"error line", 0x20000100, "Cannot access memory at address 0x20000100", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseCapture(p.MemoryWordPattern(tt.addr), tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestParser_Register(t *testing.T) {
	p := NewParser()

	tests := []struct {
		name    string
		reg     string
		line    string
		want    uint32
		wantErr bool
	}{
		{"general", "r1", "r1             0x1001              4097", 0x1001, false},
		{"pc with symbol", "pc", "pc             0x8000124           0x8000124 <main+4>", 0x8000124, false},
		{"prefix does not match longer name", "r1", "r10            0x5                 5", 0, true},
		{"epsr", "epsr", "epsr           0xe0000140          -536870592", 0xe0000140, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.ParseCapture(p.RegisterPattern(tt.reg), tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got 0x%x, want 0x%x", got, tt.want)
			}
		})
	}
}

func TestParser_Patterns(t *testing.T) {
	p := NewParser()

	if !p.connectedPattern.MatchString("Remote debugging using localhost:1025") {
		t.Error("connected pattern does not match target remote banner")
	}
	if !p.restorePattern.MatchString("Restoring binary file /tmp/0x20000000.bin into memory (0x20000000 to 0x20000100)") {
		t.Error("restore pattern does not match restore banner")
	}
	for _, line := range []string{
		"Error: cannot restore",
		"Cannot access memory at address 0x0",
		"Invalid register `r99'",
	} {
		if !p.errorPattern.MatchString(line) {
			t.Errorf("error pattern does not match %q", line)
		}
	}
}
