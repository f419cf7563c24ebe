package gdb

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"
)

// PrerequisiteCheck represents the result of checking a single prerequisite.
type PrerequisiteCheck struct {
	// Name is the human-readable name of the prerequisite
	Name string
	// Available indicates whether the prerequisite is available
	Available bool
	// Required is false for checks that only warn
	Required bool
	// Path is the resolved path (for binary checks)
	Path string
	// Version is the detected version (if applicable)
	Version string
	// Message provides additional context (error message or success info)
	Message string
	// Error contains the underlying error if check failed
	Error error
}

// PrerequisiteResult contains the results of all prerequisite checks.
type PrerequisiteResult struct {
	// Checks contains individual check results
	Checks []PrerequisiteCheck
	// AllAvailable is true if all required prerequisites are available
	AllAvailable bool
}

// ValidatePrerequisites checks everything a replay needs and returns a detailed report:
//   - the GDB binary
//   - gdbserver connectivity
//   - the target catalog
func ValidatePrerequisites(ctx context.Context, gdbPath, host string, port int) (*PrerequisiteResult, error) {
	result := &PrerequisiteResult{
		Checks:       make([]PrerequisiteCheck, 0, 3),
		AllAvailable: true,
	}

	for _, check := range []PrerequisiteCheck{
		checkGDBBinary(ctx, gdbPath),
		checkServerConnection(ctx, host, port),
		checkTargetCatalog(),
	} {
		result.Checks = append(result.Checks, check)
		if check.Required && !check.Available {
			result.AllAvailable = false
		}
	}

	return result, nil
}

// checkGDBBinary verifies that the GDB binary is available and is GNU GDB.
func checkGDBBinary(ctx context.Context, gdbPath string) PrerequisiteCheck {
	check := PrerequisiteCheck{
		Name:     gdbPath,
		Required: true,
	}

	path, err := exec.LookPath(gdbPath)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s not found in PATH\n"+
			"Install the toolchain GDB for your core, or pass --gdb-path", gdbPath)
		return check
	}
	check.Path = path

	version, err := gdbVersion(ctx, path)
	if err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("%s found at %s but failed to execute: %v", gdbPath, path, err)
		return check
	}

	check.Version = version
	check.Available = true
	check.Message = fmt.Sprintf("Found at %s", path)
	return check
}

// checkServerConnection attempts to connect to the gdbserver to verify it's running.
func checkServerConnection(ctx context.Context, host string, port int) PrerequisiteCheck {
	check := PrerequisiteCheck{
		Name:     "gdbserver connection",
		Required: true,
	}

	address := net.JoinHostPort(host, fmt.Sprint(port))
	if err := dial(ctx, address); err != nil {
		check.Error = err
		check.Message = fmt.Sprintf("Cannot connect to gdbserver at %s\n"+
			"Ensure the debug probe server is running and the target is attached.", address)
		return check
	}

	check.Available = true
	check.Message = fmt.Sprintf("Connected successfully to %s", address)
	return check
}

func checkTargetCatalog() PrerequisiteCheck {
	check := PrerequisiteCheck{
		Name: "Target catalog",
	}

	db, err := LoadTargets()
	if err != nil {
		check.Error = err
		check.Message = err.Error()
		return check
	}

	check.Available = true
	check.Message = fmt.Sprintf("%d profiles: %s", len(db.Targets), strings.Join(db.Names(), ", "))
	return check
}

func gdbVersion(ctx context.Context, path string) (string, error) {
	versionCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, path, "--version").Output()
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(output), "\n")
	return strings.TrimSpace(first), nil
}

func dial(ctx context.Context, address string) error {
	dialer := net.Dialer{
		Timeout: 2 * time.Second,
	}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ValidateGDBPath checks if a specific GDB binary path is valid and executable.
func ValidateGDBPath(ctx context.Context, gdbPath string) error {
	if gdbPath == "" {
		return &PrerequisiteError{
			Prerequisite: "gdb",
			Details:      "GDB path is empty",
		}
	}

	versionCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	output, err := exec.CommandContext(versionCtx, gdbPath, "--version").Output()
	if err != nil {
		return &PrerequisiteError{
			Prerequisite: gdbPath,
			Details:      fmt.Sprintf("Failed to execute %s --version", gdbPath),
			Err:          err,
		}
	}

	// Verify it's actually GDB (check for "GNU gdb" in output)
	if !strings.Contains(string(output), "GNU gdb") {
		return &PrerequisiteError{
			Prerequisite: gdbPath,
			Details:      fmt.Sprintf("%s does not appear to be GNU GDB", gdbPath),
		}
	}

	return nil
}

// ValidateServerConnection checks if the gdbserver accepts connections.
func ValidateServerConnection(ctx context.Context, host string, port int) error {
	if err := dial(ctx, net.JoinHostPort(host, fmt.Sprint(port))); err != nil {
		return &ConnectionError{
			Host: host,
			Port: port,
			Err:  err,
		}
	}
	return nil
}

// FormatPrerequisiteReport formats a PrerequisiteResult into a human-readable string.
func FormatPrerequisiteReport(result *PrerequisiteResult) string {
	var sb strings.Builder

	sb.WriteString("Replay Prerequisites Check:\n")
	sb.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

	for _, check := range result.Checks {
		if check.Available {
			sb.WriteString(fmt.Sprintf("✓ %s\n", check.Name))
			if check.Version != "" {
				sb.WriteString(fmt.Sprintf("  Version: %s\n", check.Version))
			}
			if check.Path != "" {
				sb.WriteString(fmt.Sprintf("  Path: %s\n", check.Path))
			}
		} else {
			sb.WriteString(fmt.Sprintf("✗ %s\n", check.Name))
		}
		if check.Message != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", check.Message))
		}
		sb.WriteString("\n")
	}

	if result.AllAvailable {
		sb.WriteString("All required prerequisites are available.\n")
	} else {
		sb.WriteString("Some prerequisites are missing. Please install them before proceeding.\n")
	}

	return sb.String()
}
