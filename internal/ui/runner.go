package ui

import (
	"fmt"
	"io"
	"os"
	"time"
)

// StepCallback reports progress of one step.
type StepCallback func(stepNumber int, status StepStatus, message string)

// RunnerConfig describes a multi-step command.
type RunnerConfig struct {
	Title     string  // e.g., "Snapshot Replay"
	Command   string  // e.g., "ramdump-jtag replay"
	Fields    []Field // Parameters shown in the header
	StepNames []string
	// Troubleshooting tips printed with a failure.
	Troubleshooting []string
	Verbose         bool      // Show the debugger transcript after the result
	Output          io.Writer // Default: os.Stdout
}

// Runner prints header, then steps as they finish, then a result box.
type Runner struct {
	config     RunnerConfig
	progress   *Progress
	output     io.Writer
	width      int
	transcript string
}

// NewRunner creates a runner for a multi-step command.
func NewRunner(config RunnerConfig) *Runner {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	width := GetTerminalWidth()
	return &Runner{
		config:   config,
		progress: NewProgress(config.StepNames...).SetWidth(width),
		output:   config.Output,
		width:    width,
	}
}

// SetWidth overrides the terminal width.
func (r *Runner) SetWidth(width int) *Runner {
	r.width = width
	r.progress.SetWidth(width)
	return r
}

// SetTranscript stores debugger output for verbose display.
func (r *Runner) SetTranscript(output string) {
	r.transcript = output
}

// Operation does the work, reporting progress through onStep. The fields
// it returns are shown in the success box.
type Operation func(onStep StepCallback) ([]Field, error)

// Run prints the header, runs op and prints the result.
func (r *Runner) Run(op Operation) error {
	start := time.Now()

	header := NewHeader(r.config.Title, r.config.Command, r.config.Fields...).SetWidth(r.width)
	fmt.Fprintln(r.output, header.Render())
	fmt.Fprintln(r.output)

	fields, err := op(r.onStep)
	duration := time.Since(start).Round(time.Millisecond)

	fmt.Fprintln(r.output)
	if err != nil {
		result := NewFailureResult(r.config.Title+" failed", err, r.config.Troubleshooting)
		fmt.Fprintln(r.output, result.SetWidth(r.width).Render())
	} else {
		fields = append(fields, Field{Key: "Duration", Value: duration.String()})
		result := NewSuccessResult(r.config.Title+" complete", fields...)
		fmt.Fprintln(r.output, result.SetWidth(r.width).Render())
	}

	if r.config.Verbose && r.transcript != "" {
		fmt.Fprintln(r.output)
		fmt.Fprintln(r.output, NewTranscriptBox(r.transcript).SetWidth(r.width).Render())
	}
	return err
}

func (r *Runner) onStep(stepNumber int, status StepStatus, message string) {
	r.progress.Update(stepNumber, status, message)
	if stepNumber < 1 || stepNumber > r.progress.Total() {
		return
	}
	line := r.progress.RenderStep(r.progress.Steps[stepNumber-1])
	if status == StepRunning {
		// Overwritten when the step finishes.
		fmt.Fprint(r.output, line+"\r")
		return
	}
	fmt.Fprintln(r.output, line)
}
