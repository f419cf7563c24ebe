package gdb

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func startFakeSession(t *testing.T, mode string) *Session {
	t.Helper()
	path, env := fakeGDBConfig(mode)
	s, err := Start(context.Background(), SessionConfig{Path: path, Env: env}, zap.NewNop())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSession_Command(t *testing.T) {
	s := startFakeSession(t, "ok")

	line, err := s.Command("target remote localhost:1025", regexp.MustCompile(`Remote debugging`), nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if line != "Remote debugging using localhost:1025" {
		t.Errorf("line = %q", line)
	}

	if !strings.Contains(s.Output(), "> target remote localhost:1025") {
		t.Errorf("Output() does not record the command:\n%s", s.Output())
	}
}

func TestSession_ErrorResponse(t *testing.T) {
	s := startFakeSession(t, "loaderror")

	line, err := s.Command("restore /tmp/x.bin binary 0x0", regexp.MustCompile(`Restoring`), regexp.MustCompile(`Error`), 5*time.Second)
	if !errors.Is(err, ErrErrorResponse) {
		t.Fatalf("expected ErrErrorResponse, got %v", err)
	}
	if line != "Error: cannot restore" {
		t.Errorf("line = %q", line)
	}
}

func TestSession_Timeout(t *testing.T) {
	s := startFakeSession(t, "noconnect")

	_, err := s.Command("target remote localhost:1025", regexp.MustCompile(`Remote debugging`), nil, 200*time.Millisecond)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}
	if te.Command != "target remote localhost:1025" || te.Pattern != "Remote debugging" {
		t.Errorf("TimeoutError = %+v", te)
	}
}

func TestSession_ProcessExit(t *testing.T) {
	s := startFakeSession(t, "exit")

	_, err := s.Expect(regexp.MustCompile(`never`), nil, 5*time.Second)

	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProcessError, got %T: %v", err, err)
	}
}

func TestSession_CloseTwice(t *testing.T) {
	s := startFakeSession(t, "ok")

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close returned %v", err)
	}
}
