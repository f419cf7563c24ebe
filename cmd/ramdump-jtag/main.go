// Ramdump-jtag moves RAM snapshots between files and a live target via GDB.
//
// This utility drives the target's toolchain GDB against a gdbserver
// (for example a JTAG probe agent) for operations that need hardware:
//
//   - Replaying an unpacked snapshot into target RAM and registers
//   - Capturing a snapshot from a halted target
//   - Setup verification
//
// Prerequisites:
//
//   - The target GDB (csky-elfabiv2-gdb for CK802) installed and in PATH
//   - A gdbserver connected to the target
//
// See 'ramdump-jtag --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/ramdump/internal/gdb"
	"github.com/muurk/ramdump/internal/logging"
	"github.com/muurk/ramdump/internal/ramdump"
	"github.com/muurk/ramdump/internal/version"
)

// Exit codes by failure class.
const (
	exitOther     = 1
	exitIntegrity = 3
	exitProtocol  = 6
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		code, class := classify(err)
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", class, err)
		os.Exit(code)
	}
}

// classify maps an error to its exit code and failure class.
func classify(err error) (int, string) {
	var (
		step    *gdb.StepError
		timeout *gdb.TimeoutError
		exec    *gdb.GDBExecutionError
	)
	switch {
	case errors.Is(err, ramdump.ErrDigestMismatch):
		return exitIntegrity, "integrity"
	case errors.As(err, &step), errors.As(err, &timeout), errors.As(err, &exec):
		return exitProtocol, "protocol"
	default:
		return exitOther, "error"
	}
}

var rootCmd = &cobra.Command{
	Use:   "ramdump-jtag",
	Short: "Snapshot replay and capture via GDB",
	Long: `Hardware operations on RAM snapshots using the target GDB.

This utility connects GDB to a running gdbserver to:
  - Replay a snapshot: load every region and restore the register file
    from the saved exception frame, then detach so a debugger can attach
  - Capture a snapshot from a halted target into region files
  - Verify the setup

Prerequisites:
  - The target GDB installed and in PATH (or given with --gdb-path)
  - A gdbserver running and connected to the target

Use 'ramdump-jtag verify-setup' to check prerequisites.`,
	Version: version.Version,
	Example: `  # Verify GDB and gdbserver setup
  ramdump-jtag verify-setup

  # Replay an unpacked snapshot
  ramdump-jtag replay --sidecar snap.json

  # Capture two RAM ranges from a halted target
  ramdump-jtag snapshot --region 0x20000000:0x10000 --region 0x20010000:0x8000 --output regions/`,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ramdump-jtag %s\n", version.Full())
	},
}
