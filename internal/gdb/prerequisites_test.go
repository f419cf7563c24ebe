package gdb

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
)

func TestValidateServerConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if err := ValidateServerConnection(context.Background(), "127.0.0.1", port); err != nil {
		t.Errorf("expected connection to succeed, got %v", err)
	}

	ln.Close()
	err = ValidateServerConnection(context.Background(), "127.0.0.1", port)
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		t.Errorf("expected ConnectionError after close, got %T: %v", err, err)
	}
}

func TestValidateGDBPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		mock string
	}{
		{name: "empty", path: ""},
		{name: "missing", path: "/nonexistent/gdb"},
		{name: "not gdb", mock: "echo \"lldb version 17\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.path
			if tt.mock != "" {
				path, _ = writeMockGDB(t, tt.mock)
			}
			err := ValidateGDBPath(context.Background(), path)
			var pe *PrerequisiteError
			if !errors.As(err, &pe) {
				t.Errorf("expected PrerequisiteError, got %T: %v", err, err)
			}
		})
	}

	mock, _ := writeMockGDB(t, "echo \"GNU gdb (GDB) 14.2\"\n")
	if err := ValidateGDBPath(context.Background(), mock); err != nil {
		t.Errorf("expected GNU gdb to validate, got %v", err)
	}
}

func TestValidatePrerequisites(t *testing.T) {
	mock, _ := writeMockGDB(t, "echo \"GNU gdb (GDB) 14.2\"\n")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	result, err := ValidatePrerequisites(context.Background(), mock, "127.0.0.1", port)
	if err != nil {
		t.Fatal(err)
	}
	if !result.AllAvailable {
		t.Errorf("expected all prerequisites available:\n%s", FormatPrerequisiteReport(result))
	}
	if result.Checks[0].Version != "GNU gdb (GDB) 14.2" {
		t.Errorf("Version = %q", result.Checks[0].Version)
	}

	report := FormatPrerequisiteReport(result)
	if !strings.Contains(report, "All required prerequisites are available.") {
		t.Errorf("unexpected report:\n%s", report)
	}

	result, _ = ValidatePrerequisites(context.Background(), "/nonexistent/gdb", "127.0.0.1", port)
	if result.AllAvailable {
		t.Error("expected missing GDB to fail the check")
	}
	if !strings.Contains(FormatPrerequisiteReport(result), "✗ /nonexistent/gdb") {
		t.Errorf("report does not flag missing GDB:\n%s", FormatPrerequisiteReport(result))
	}
}
