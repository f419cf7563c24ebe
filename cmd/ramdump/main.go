// Ramdump recovers crash snapshots from serial transcripts and converts
// them between the compressed container and raw region files.
//
// A device that hits a fatal fault streams its RAM over the console as
// framed hex lines, twice. This utility works offline on those captures:
//
//   - Extract the container from a transcript and cross-check both copies
//   - Unpack a container into region files plus a sidecar for replay
//   - Pack region files back into a container
//   - Inspect a container's header and regions
//
// Replaying a snapshot into hardware is done by ramdump-jtag.
//
// See 'ramdump --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/ramdump/internal/capture"
	"github.com/muurk/ramdump/internal/fastlz"
	"github.com/muurk/ramdump/internal/logging"
	"github.com/muurk/ramdump/internal/ramdump"
	"github.com/muurk/ramdump/internal/version"
)

// Exit codes by failure class.
const (
	exitOther     = 1
	exitFraming   = 2
	exitIntegrity = 3
	exitFormat    = 4
	exitDecode    = 5
)

var logLevel string

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
		framing   *capture.FramingError
		integrity *capture.IntegrityError
		block     *ramdump.BlockError
		decode    *fastlz.DecodeError
		format    *ramdump.FormatError
	)
	// A failed backup pass wraps its FramingError in an IntegrityError.
	switch {
	case errors.As(err, &integrity):
		return exitIntegrity, "integrity"
	case errors.As(err, &framing):
		return exitFraming, "framing"
	case errors.As(err, &block), errors.As(err, &decode):
		return exitDecode, "decode"
	case errors.As(err, &format):
		return exitFormat, "format"
	default:
		return exitOther, "error"
	}
}

var rootCmd = &cobra.Command{
	Use:   "ramdump",
	Short: "Crash snapshot recovery utility",
	Long: `Offline tooling for RAM snapshots captured over a serial console.

A faulting device prints its snapshot as framed, CRC-protected hex lines
and repeats it once so that a damaged copy can be detected. This utility:
  - Extracts the binary container from a transcript (plain, gzip or zstd)
  - Verifies the primary copy against the backup copy
  - Decodes the container into raw region files and a replay sidecar
  - Packs raw region files into a container

Exit status identifies the failure class:
  2 framing, 3 integrity, 4 format, 5 decode, 1 anything else

Set RAMDUMP_LOG_LEVEL=debug (or --log-level debug) for detailed logs.`,
	Version: version.Version,
	Example: `  # Recover the snapshot from a console log
  ramdump extract --input console.log --output snap.bin --backup snap.bak

  # Unpack it for replay
  ramdump unpack --input snap.bin --output regions/ --sidecar snap.json

  # Show what is inside
  ramdump info --input snap.bin`,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from "+logging.LogLevelEnvVar)

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ramdump %s\n", version.Full())
	},
}
