package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/muurk/ramdump/internal/gdb"
	"github.com/muurk/ramdump/internal/ramdump"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{
			name:     "replay step",
			err:      &gdb.StepError{Step: gdb.StepConnect, Err: &gdb.ConnectionError{Host: "localhost", Port: 1025}},
			wantCode: exitProtocol,
		},
		{
			name:     "snapshot timeout",
			err:      &gdb.TimeoutError{Command: "snapshot"},
			wantCode: exitProtocol,
		},
		{
			name:     "batch failure",
			err:      &gdb.GDBExecutionError{Script: "snapshot", ExitCode: 1},
			wantCode: exitProtocol,
		},
		{
			name: "tampered region",
			err: &gdb.StepError{Step: gdb.StepVerify, Err: &gdb.LoadError{
				Err: fmt.Errorf("region 0x20000000: %w", ramdump.ErrDigestMismatch),
			}},
			wantCode: exitIntegrity,
		},
		{
			name:     "other",
			err:      errors.New("failed to read sidecar"),
			wantCode: exitOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := classify(tt.err); code != tt.wantCode {
				t.Errorf("classify() = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestParseRegionSpecs(t *testing.T) {
	ranges, err := parseRegionSpecs([]string{"0x20000000:0x100", "536936448:64"})
	if err != nil {
		t.Fatalf("parseRegionSpecs failed: %v", err)
	}
	want := []gdb.MemoryRange{
		{Address: 0x20000000, Size: 0x100},
		{Address: 0x20010000, Size: 64},
	}
	if len(ranges) != len(want) {
		t.Fatalf("got %d ranges, want %d", len(ranges), len(want))
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, ranges[i], want[i])
		}
	}

	for _, bad := range []string{"0x20000000", "0x20000000:", "nope:0x10", "0x20000000:0x1ffffffff"} {
		if _, err := parseRegionSpecs([]string{bad}); err == nil {
			t.Errorf("parseRegionSpecs(%q) succeeded, want error", bad)
		}
	}
}

func TestStepNumber(t *testing.T) {
	if got := stepNumber(gdb.StepVerify); got != 1 {
		t.Errorf("stepNumber(verify) = %d, want 1", got)
	}
	if got := stepNumber(gdb.StepDetach); got != 6 {
		t.Errorf("stepNumber(detach) = %d, want 6", got)
	}
	if got := stepNumber(gdb.Step("bogus")); got != 0 {
		t.Errorf("stepNumber(bogus) = %d, want 0", got)
	}
}
