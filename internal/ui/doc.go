// Package ui renders the terminal output of the ramdump commands.
//
// Components are plain renderers built on lipgloss; nothing here is an
// interactive TUI:
//
//   - Header: command banner with its parameters
//   - Progress: bubbles progress bar and step list
//   - Result: success, warning or failure box
//   - TranscriptBox: raw GDB output for --verbose
//   - RenderTable: header and region listings for info
//   - Confirm: typed confirmation before replay overwrites the target
//
// Multi-step hardware commands go through a Runner, which prints the
// header, each step as it finishes, then the result:
//
//	runner := ui.NewRunner(ui.RunnerConfig{
//	    Title:     "Snapshot Replay",
//	    Command:   "ramdump-jtag replay",
//	    StepNames: []string{"Verify region files", "Connect", ...},
//	})
//	err := runner.Run(func(onStep ui.StepCallback) ([]ui.Field, error) {
//	    onStep(1, ui.StepRunning, "")
//	    // ... do work ...
//	    onStep(1, ui.StepComplete, "2 regions")
//	    return fields, nil
//	})
//
// Logging stays silent unless RAMDUMP_LOG_LEVEL is set, so zap output does
// not interleave with these boxes.
package ui
