package scripts

import (
	"time"
)

// Script is a batch GDB operation rendered from a template and run to
// completion with gdb -batch.
type Script interface {
	// Name returns a short identifier used in logs and temp file names.
	// Example: "snapshot"
	Name() string

	// Template returns the GDB script template in text/template syntax.
	Template() string

	// Params returns the values substituted into the template.
	Params() map[string]interface{}

	// Parse extracts structured results from GDB output (stdout and
	// stderr combined).
	Parse(output string) (*Result, error)
}

// Result is the parsed outcome of one script run.
type Result struct {
	Success   bool
	Duration  time.Duration
	BytesRead int
	Steps     []Step
	// Error explains a failed run; nil when Success is true.
	Error error
	// RawOutput is GDB stdout followed by stderr.
	RawOutput string
}

// StepStatus is the outcome of one scripted step.
type StepStatus string

const (
	StatusSuccess StepStatus = "success"
	StatusFailed  StepStatus = "failed"
)

// Step is one progress marker pair echoed by a script:
//
//	echo [1/3] Dumping 0x20000000 (65536 bytes)...\n
//	echo [1/3] OK\n
type Step struct {
	Name    string
	Status  StepStatus
	Message string
}

// NewResult creates an empty Result.
func NewResult() *Result {
	return &Result{}
}

// AddStep appends a finished step.
func (r *Result) AddStep(name string, status StepStatus, message string) {
	r.Steps = append(r.Steps, Step{
		Name:    name,
		Status:  status,
		Message: message,
	})
}

// FailedSteps returns the count of failed steps.
func (r *Result) FailedSteps() int {
	n := 0
	for _, step := range r.Steps {
		if step.Status == StatusFailed {
			n++
		}
	}
	return n
}
