package gdb

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/muurk/ramdump/internal/ramdump"
)

const (
	testRegionAddr = 0x20000000
	testESFAddr    = 0x20000040
)

// writeTestSnapshot writes one region holding a saved register frame at
// testESFAddr where register i holds 0x1000+i.
func writeTestSnapshot(t *testing.T) *ramdump.Sidecar {
	t.Helper()

	data := make([]byte, 0x100)
	for i := 0; i < 18; i++ {
		binary.LittleEndian.PutUint32(data[testESFAddr-testRegionAddr+i*4:], 0x1000+uint32(i))
	}
	img := &ramdump.Image{
		Header: ramdump.Header{
			Magic:      ramdump.Magic,
			Version:    uint32(ramdump.CodecFastLZ),
			ESFAddr:    testESFAddr,
			TargetType: 1,
		},
		Regions: []ramdump.Region{{Address: testRegionAddr, Data: data}},
	}
	sc, err := img.WriteRegions(t.TempDir())
	if err != nil {
		t.Fatalf("WriteRegions failed: %v", err)
	}
	return sc
}

func testReplayConfig(mode string) Config {
	config := DefaultConfig()
	config.GDBPath, config.Env = fakeGDBConfig(mode)
	config.Timeout = 5 * time.Second
	config.ConnectTimeout = 5 * time.Second
	return config
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Host != "localhost" {
		t.Errorf("expected Host to be 'localhost', got %s", config.Host)
	}
	if config.Port != 1025 {
		t.Errorf("expected Port to be 1025, got %d", config.Port)
	}
	if config.Timeout != 2*time.Second {
		t.Errorf("expected Timeout to be 2s, got %s", config.Timeout)
	}
	if !config.Detach {
		t.Error("expected Detach to default to true")
	}
}

func TestReplayer_Run(t *testing.T) {
	sc := writeTestSnapshot(t)

	r := NewReplayer(testReplayConfig("ok"), zap.NewNop())
	var events []StepEvent
	r.OnStep = func(ev StepEvent) { events = append(events, ev) }

	result, err := r.Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if r.State() != StateReady {
		t.Errorf("State() = %s, want %s", r.State(), StateReady)
	}
	if result.Target != "ck802" {
		t.Errorf("Target = %s, want ck802", result.Target)
	}
	if result.Regions != 1 || result.BytesLoaded != 0x100 {
		t.Errorf("loaded %d regions / %d bytes, want 1 / 256", result.Regions, result.BytesLoaded)
	}
	if !result.WatchdogDisabled {
		t.Error("expected watchdog to be disabled")
	}
	if len(result.Registers) != 18 {
		t.Fatalf("restored %d registers, want 18", len(result.Registers))
	}
	for i, reg := range result.Registers {
		if reg.Value != 0x1000+uint32(i) {
			t.Errorf("register %s = 0x%x, want 0x%x", reg.Name, reg.Value, 0x1000+i)
		}
	}
	if last := result.Registers[17]; last.Name != "pc" {
		t.Errorf("last register = %s, want pc", last.Name)
	}

	var done []Step
	for _, ev := range events {
		if ev.Done {
			done = append(done, ev.Step)
		}
	}
	want := []Step{StepVerify, StepConnect, StepWatchdog, StepLoad, StepRegisters, StepDetach}
	if len(done) != len(want) {
		t.Fatalf("completed steps = %v, want %v", done, want)
	}
	for i := range want {
		if done[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, done[i], want[i])
		}
	}
}

func TestReplayer_Run_WatchdogFailure(t *testing.T) {
	sc := writeTestSnapshot(t)

	core, logs := observer.New(zapcore.WarnLevel)
	r := NewReplayer(testReplayConfig("wdfail"), zap.New(core))

	result, err := r.Run(context.Background(), sc)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if r.State() != StateReady {
		t.Errorf("State() = %s, want %s", r.State(), StateReady)
	}
	if result.WatchdogDisabled {
		t.Error("expected WatchdogDisabled to be false")
	}
	if len(result.Registers) != 18 {
		t.Errorf("restored %d registers, want 18", len(result.Registers))
	}
	if logs.FilterMessage("failed to read back watchdog register").Len() != 1 {
		t.Errorf("expected a watchdog warning, got %v", logs.All())
	}
}

func TestReplayer_Run_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mode     string
		wantStep Step
		check    func(t *testing.T, err error)
	}{
		{
			name:     "no connection response",
			mode:     "noconnect",
			wantStep: StepConnect,
			check: func(t *testing.T, err error) {
				var ce *ConnectionError
				if !errors.As(err, &ce) {
					t.Fatalf("expected ConnectionError, got %T: %v", err, err)
				}
				var te *TimeoutError
				if !errors.As(err, &te) {
					t.Errorf("expected TimeoutError inside, got %v", ce.Err)
				}
			},
		},
		{
			name:     "connection refused",
			mode:     "refused",
			wantStep: StepConnect,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrErrorResponse) {
					t.Errorf("expected ErrErrorResponse, got %v", err)
				}
			},
		},
		{
			name:     "gdb exits",
			mode:     "exit",
			wantStep: StepConnect,
			check: func(t *testing.T, err error) {
				var ce *ConnectionError
				if !errors.As(err, &ce) {
					t.Errorf("expected ConnectionError, got %T: %v", err, err)
				}
			},
		},
		{
			name:     "restore error",
			mode:     "loaderror",
			wantStep: StepLoad,
			check: func(t *testing.T, err error) {
				var le *LoadError
				if !errors.As(err, &le) {
					t.Fatalf("expected LoadError, got %T: %v", err, err)
				}
				if le.Address != testRegionAddr {
					t.Errorf("Address = 0x%x, want 0x%x", le.Address, testRegionAddr)
				}
				if le.Line != "Error: cannot restore" {
					t.Errorf("Line = %q", le.Line)
				}
			},
		},
		{
			name:     "register readback mismatch",
			mode:     "badreg",
			wantStep: StepRegisters,
			check: func(t *testing.T, err error) {
				var re *RegisterError
				if !errors.As(err, &re) {
					t.Fatalf("expected RegisterError, got %T: %v", err, err)
				}
				if re.Register != "r0" || re.Want != 0x1000 || re.Got != 0x1001 {
					t.Errorf("got %s want=0x%x got=0x%x", re.Register, re.Want, re.Got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := writeTestSnapshot(t)
			config := testReplayConfig(tt.mode)
			config.ConnectTimeout = 500 * time.Millisecond

			r := NewReplayer(config, zap.NewNop())
			result, err := r.Run(context.Background(), sc)
			if err == nil {
				t.Fatalf("expected error, got result %+v", result)
			}

			var se *StepError
			if !errors.As(err, &se) {
				t.Fatalf("expected StepError, got %T: %v", err, err)
			}
			if se.Step != tt.wantStep {
				t.Errorf("Step = %s, want %s", se.Step, tt.wantStep)
			}
			if r.State() != StateFailed {
				t.Errorf("State() = %s, want %s", r.State(), StateFailed)
			}
			tt.check(t, err)
		})
	}
}

func TestReplayer_Run_TamperedRegion(t *testing.T) {
	sc := writeTestSnapshot(t)
	if err := os.WriteFile(sc.Regions[0].Path, make([]byte, 0x100), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewReplayer(testReplayConfig("ok"), zap.NewNop())
	_, err := r.Run(context.Background(), sc)

	var se *StepError
	if !errors.As(err, &se) || se.Step != StepVerify {
		t.Fatalf("expected verify StepError, got %v", err)
	}
	if !errors.Is(err, ramdump.ErrDigestMismatch) {
		t.Errorf("expected ErrDigestMismatch, got %v", err)
	}
}

func TestReplayer_Run_UnknownTarget(t *testing.T) {
	sc := writeTestSnapshot(t)
	config := testReplayConfig("ok")
	config.Target = "cortex-m99"

	_, err := NewReplayer(config, zap.NewNop()).Run(context.Background(), sc)

	var ute *UnknownTargetError
	if !errors.As(err, &ute) {
		t.Fatalf("expected UnknownTargetError, got %T: %v", err, err)
	}
	if len(ute.Available) == 0 || ute.Available[0] != "ck802" {
		t.Errorf("Available = %v", ute.Available)
	}
}

func TestState_String(t *testing.T) {
	if got := StateRegistersRestored.String(); got != "registers restored" {
		t.Errorf("got %q", got)
	}
	if got := State(42).String(); got != "unknown" {
		t.Errorf("got %q", got)
	}
}
