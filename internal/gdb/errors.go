package gdb

import (
	"fmt"
	"time"
)

// Step names a phase of the replay state machine.
type Step string

const (
	StepConnect   Step = "connect"
	StepWatchdog  Step = "watchdog"
	StepVerify    Step = "verify"
	StepLoad      Step = "load"
	StepRegisters Step = "registers"
	StepDetach    Step = "detach"
)

// StepError wraps every replay failure with the step it occurred in.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("replay failed during %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ConnectionError means GDB did not report a remote connection in time.
type ConnectionError struct {
	Host string
	Port int
	// Output is the GDB output seen while waiting.
	Output string
	Err    error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("agent did not connect at %s:%d", e.Host, e.Port)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Output != "" {
		msg += "\nLast response:\n" + e.Output
	}
	return msg + "\nHint: Ensure the gdbserver is running and the target is attached."
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LoadError means a region could not be restored into target memory.
type LoadError struct {
	Path    string
	Address uint32
	// Line is the GDB output line reporting the failure, if any.
	Line string
	Err  error
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("binary load failed for %s at 0x%08x", e.Path, e.Address)
	if e.Line != "" {
		msg += ": " + e.Line
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// RegisterError means a register could not be read from the saved frame
// or did not hold the written value afterwards.
type RegisterError struct {
	Register string
	Want     uint32
	Got      uint32
	Err      error
}

func (e *RegisterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("register %s: %v", e.Register, e.Err)
	}
	return fmt.Sprintf("register %s mismatch: wrote 0x%08x, read back 0x%08x", e.Register, e.Want, e.Got)
}

func (e *RegisterError) Unwrap() error {
	return e.Err
}

// TimeoutError means no expected response arrived in time.
type TimeoutError struct {
	Command string
	Pattern string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("gdb command %q timed out after %s", e.Command, e.Timeout)
	if e.Pattern != "" {
		msg += fmt.Sprintf(" waiting for %q", e.Pattern)
	}
	return msg + "\nHint: Increase timeout with --timeout flag or check the target connection"
}

// GDBExecutionError represents a failure running a batch GDB script.
type GDBExecutionError struct {
	// Script is the name of the script that failed
	Script string
	// ExitCode is the GDB process exit code (-1 if it never ran)
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *GDBExecutionError) Error() string {
	msg := fmt.Sprintf("gdb script %s failed (exit code %d)", e.Script, e.ExitCode)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *GDBExecutionError) Unwrap() error {
	return e.Err
}

// TemplateError represents a failure rendering a GDB script template.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("failed to render template %s: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

// ProcessError means the GDB process could not be started or exited early.
type ProcessError struct {
	Path string
	// Stderr holds whatever GDB printed to stderr.
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("gdb process %s", e.Path)
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	} else {
		msg += " exited unexpectedly"
	}
	if e.Stderr != "" {
		msg += "\nstderr: " + e.Stderr
	}
	return msg
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// PrerequisiteError represents a missing prerequisite (GDB binary, gdbserver).
type PrerequisiteError struct {
	// Prerequisite is the name of the missing prerequisite
	Prerequisite string
	// Details provides additional context
	Details string
	// Underlying error
	Err error
}

func (e *PrerequisiteError) Error() string {
	msg := fmt.Sprintf("missing prerequisite: %s", e.Prerequisite)
	if e.Details != "" {
		msg += "\n" + e.Details
	}
	if e.Err != nil {
		msg += fmt.Sprintf("\nError: %v", e.Err)
	}
	return msg
}

func (e *PrerequisiteError) Unwrap() error {
	return e.Err
}

// UnknownTargetError means the target catalog has no matching profile.
type UnknownTargetError struct {
	Name      string
	Available []string
}

func (e *UnknownTargetError) Error() string {
	msg := fmt.Sprintf("unknown target %q\n\nKnown targets:\n", e.Name)
	if len(e.Available) == 0 {
		return msg + "  (none)"
	}
	for _, t := range e.Available {
		msg += fmt.Sprintf("  - %s\n", t)
	}
	return msg
}
