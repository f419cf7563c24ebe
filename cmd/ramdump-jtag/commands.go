package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/ramdump/internal/gdb"
	"github.com/muurk/ramdump/internal/logging"
	"github.com/muurk/ramdump/internal/ramdump"
	"github.com/muurk/ramdump/internal/ui"
)

// Command flags
var (
	logLevel       string
	gdbPath        string
	serverHost     string
	serverPort     int
	gdbVerbose     bool // Show GDB raw output
	targetName     string
	sidecarPath    string
	cmdTimeout     string
	connectTimeout string
	noDetach       bool
	assumeYes      bool
	regionSpecs    []string
	esfAddr        string
	currentThread  string
	targetType     uint8
	outputDir      string
	scriptTimeout  string
)

func init() {
	// Common flags for all commands (persistent on root)
	rootCmd.PersistentFlags().StringVar(&serverHost, "host", "localhost", "gdbserver hostname")
	rootCmd.PersistentFlags().IntVar(&serverPort, "port", 1025, "gdbserver port")
	rootCmd.PersistentFlags().StringVar(&gdbPath, "gdb-path", "", "Path to the target GDB (default: from the target profile)")
	rootCmd.PersistentFlags().StringVar(&targetName, "target", "", "Target profile (default: from the snapshot target type)")
	rootCmd.PersistentFlags().BoolVarP(&gdbVerbose, "verbose", "v", false, "Show detailed GDB output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); default from "+logging.LogLevelEnvVar)

	// Add subcommands
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(verifySetupCmd)
}

// resolveTarget picks the target profile for a snapshot target type.
func resolveTarget(tt uint8) (*gdb.Target, error) {
	db, err := gdb.LoadTargets()
	if err != nil {
		return nil, err
	}
	return db.Resolve(targetName, tt)
}

// resolveGDBPath returns --gdb-path, or the profile's debugger.
func resolveGDBPath(tt uint8) (string, error) {
	if gdbPath != "" {
		return gdbPath, nil
	}
	target, err := resolveTarget(tt)
	if err != nil {
		return "", err
	}
	return target.GDB, nil
}

// signalContext is cancelled on Ctrl-C so that GDB is torn down.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

// replayCmd implements the 'replay' command
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Load a snapshot into target RAM and registers",
	Long: `Replay an unpacked snapshot into a live target through GDB.

This command will:
  1. Verify the region files against the sidecar digests
  2. Connect GDB to the gdbserver
  3. Disable the target watchdog (best effort)
  4. Restore every region into target memory
  5. Restore the register file from the saved exception frame
  6. Detach so an interactive debugger can attach

The target then looks as if the crash had just occurred. Replay
overwrites target RAM and registers and asks for confirmation unless
--yes is given.`,
	Example: `  # Replay the sidecar written by 'ramdump unpack'
  ramdump-jtag replay --sidecar snap.json

  # Remote gdbserver, explicit debugger
  ramdump-jtag replay --sidecar snap.json --host 192.168.1.20 --port 3333 --gdb-path /opt/csky/bin/csky-elfabiv2-gdb

  # Slow link
  ramdump-jtag replay --sidecar snap.json --timeout 5s --connect-timeout 30s`,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&sidecarPath, "sidecar", "", "Sidecar written by 'ramdump unpack'")
	replayCmd.Flags().StringVar(&cmdTimeout, "timeout", "2s", "Timeout per GDB command (e.g., 2s, 500ms)")
	replayCmd.Flags().StringVar(&connectTimeout, "connect-timeout", "10s", "Timeout for the gdbserver connection")
	replayCmd.Flags().BoolVar(&noDetach, "no-detach", false, "Leave GDB attached until it exits")
	replayCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	_ = replayCmd.MarkFlagRequired("sidecar")
}

// replaySteps lists the replay steps in the order the Replayer runs them.
var replaySteps = []gdb.Step{
	gdb.StepVerify,
	gdb.StepConnect,
	gdb.StepWatchdog,
	gdb.StepLoad,
	gdb.StepRegisters,
	gdb.StepDetach,
}

func runReplay(cmd *cobra.Command, args []string) error {
	// Suppress usage on execution errors (we're past argument parsing)
	cmd.SilenceUsage = true

	timeout, err := time.ParseDuration(cmdTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout value: %w", err)
	}
	connTimeout, err := time.ParseDuration(connectTimeout)
	if err != nil {
		return fmt.Errorf("invalid connect timeout value: %w", err)
	}

	sc, err := ramdump.LoadSidecar(sidecarPath)
	if err != nil {
		return err
	}
	target, err := resolveTarget(sc.TargetType)
	if err != nil {
		return err
	}

	config := gdb.DefaultConfig()
	config.GDBPath = gdbPath
	config.Host = serverHost
	config.Port = serverPort
	config.Timeout = timeout
	config.ConnectTimeout = connTimeout
	config.Target = target.Name
	config.Detach = !noDetach

	if !assumeYes {
		ok := ui.Confirm(os.Stdin, cmd.OutOrStdout(), "Target state will be overwritten", []string{
			fmt.Sprintf("%d regions will be written to target RAM", len(sc.Regions)),
			fmt.Sprintf("%d registers will be set from the frame at 0x%08x", len(target.Registers), sc.ESFAddr),
			"The running program on the target will be lost",
		})
		if !ok {
			return nil
		}
	}

	stepNames := []string{
		"Verify region files",
		"Connect to gdbserver",
		"Disable watchdog",
		"Load regions",
		"Restore registers",
		"Detach",
	}
	runner := ui.NewRunner(ui.RunnerConfig{
		Title:   "Snapshot Replay",
		Command: "ramdump-jtag replay",
		Fields: []ui.Field{
			{Key: "Device", Value: fmt.Sprintf("%s:%d", serverHost, serverPort)},
			{Key: "Target", Value: target.String()},
			{Key: "Sidecar", Value: sidecarPath},
		},
		StepNames: stepNames,
		Troubleshooting: []string{
			"Check GDB and gdbserver setup: ramdump-jtag verify-setup",
			"Make sure the target is halted",
			"Run with --verbose and RAMDUMP_LOG_LEVEL=debug for details",
		},
		Verbose: gdbVerbose,
		Output:  cmd.OutOrStdout(),
	})

	ctx, cancel := signalContext()
	defer cancel()

	return runner.Run(func(onStep ui.StepCallback) ([]ui.Field, error) {
		replayer := gdb.NewReplayer(config, logging.GetLogger())
		replayer.OnStep = func(ev gdb.StepEvent) {
			n := stepNumber(ev.Step)
			switch {
			case ev.Err != nil:
				onStep(n, ui.StepFailed, "")
			case ev.Done:
				onStep(n, ui.StepComplete, "")
			default:
				onStep(n, ui.StepRunning, ev.Message)
			}
		}

		result, err := replayer.Run(ctx, sc)
		if err != nil {
			return nil, err
		}
		runner.SetTranscript(result.Transcript)

		watchdog := "not confirmed"
		if result.WatchdogDisabled {
			watchdog = "disabled"
		}
		fields := []ui.Field{
			{Key: "Target", Value: result.Target},
			{Key: "Regions", Value: strconv.Itoa(result.Regions)},
			{Key: "Bytes Loaded", Value: strconv.FormatInt(result.BytesLoaded, 10)},
			{Key: "Registers", Value: strconv.Itoa(len(result.Registers))},
			{Key: "Watchdog", Value: watchdog},
		}
		if n := len(result.Registers); n > 0 {
			pc := result.Registers[n-1]
			fields = append(fields, ui.Field{Key: strings.ToUpper(pc.Name), Value: fmt.Sprintf("0x%08x", pc.Value)})
		}
		return fields, nil
	})
}

func stepNumber(step gdb.Step) int {
	for i, s := range replaySteps {
		if s == step {
			return i + 1
		}
	}
	return 0
}

// snapshotCmd implements the 'snapshot' command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture RAM ranges from a halted target",
	Long: `Dump memory ranges from a halted target into region files.

Each --region is ADDRESS:SIZE (decimal or 0x-prefixed hex). Ranges must
not overlap. The files and the sidecar have the same layout as
'ramdump unpack' produces, so the capture can be packed with
'ramdump pack' or replayed later with 'ramdump-jtag replay'.`,
	Example: `  ramdump-jtag snapshot --region 0x20000000:0x10000 --output regions/

  # Record the exception frame so the capture can be replayed
  ramdump-jtag snapshot --region 0x20000000:0x10000 --esf 0x2000ff80 --output regions/ --sidecar snap.json`,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringArrayVar(&regionSpecs, "region", nil, "Memory range ADDRESS:SIZE (repeatable)")
	snapshotCmd.Flags().StringVar(&esfAddr, "esf", "0", "Register frame address to record")
	snapshotCmd.Flags().StringVar(&currentThread, "current-thread", "0", "Current thread pointer to record")
	snapshotCmd.Flags().Uint8Var(&targetType, "target-type", 1, "Target type byte to record")
	snapshotCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for region files")
	snapshotCmd.Flags().StringVar(&sidecarPath, "sidecar", "", "Sidecar file (default: <output>/sidecar.json)")
	snapshotCmd.Flags().StringVar(&scriptTimeout, "timeout", "5m", "GDB operation timeout (e.g., 30s, 5m, 1h)")
	_ = snapshotCmd.MarkFlagRequired("region")
	_ = snapshotCmd.MarkFlagRequired("output")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	timeout, err := time.ParseDuration(scriptTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout value: %w", err)
	}
	ranges, err := parseRegionSpecs(regionSpecs)
	if err != nil {
		return err
	}
	req := gdb.SnapshotRequest{
		Ranges:     ranges,
		TargetType: targetType,
		OutputDir:  outputDir,
	}
	if req.ESFAddr, err = parseUint32(esfAddr); err != nil {
		return fmt.Errorf("invalid --esf: %w", err)
	}
	if req.CurrentThread, err = parseUint32(currentThread); err != nil {
		return fmt.Errorf("invalid --current-thread: %w", err)
	}
	if sidecarPath == "" {
		sidecarPath = filepath.Join(outputDir, "sidecar.json")
	}

	path, err := resolveGDBPath(targetType)
	if err != nil {
		return err
	}
	config := gdb.DefaultExecutorConfig()
	config.GDBPath = path
	config.Host = serverHost
	config.Port = serverPort
	config.Timeout = timeout
	executor := gdb.NewExecutor(config, logging.GetLogger())

	var total uint64
	for _, r := range ranges {
		total += uint64(r.Size)
	}
	p := ui.NewPrinter(cmd.OutOrStdout())
	p.PrintHeader("Snapshot Capture", "ramdump-jtag snapshot",
		ui.Field{Key: "Device", Value: fmt.Sprintf("%s:%d", serverHost, serverPort)},
		ui.Field{Key: "Ranges", Value: fmt.Sprintf("%d (%d bytes)", len(ranges), total)},
		ui.Field{Key: "Output", Value: outputDir},
	)

	tips := []string{
		"Check GDB and gdbserver setup: ramdump-jtag verify-setup",
		"Make sure every range is mapped on the target",
		"Run with --verbose for full GDB output",
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := executor.ValidateConfig(ctx); err != nil {
		p.PrintResult(ui.NewFailureResult("Snapshot failed", err, tips))
		return err
	}

	sc, result, err := executor.Snapshot(ctx, req)
	if gdbVerbose && result != nil && result.RawOutput != "" {
		p.Println(ui.NewTranscriptBox(result.RawOutput).SetWidth(ui.GetTerminalWidth()).Render())
	}
	if err != nil {
		p.PrintResult(ui.NewFailureResult("Snapshot failed", err, tips))
		return err
	}
	if err := sc.Save(sidecarPath); err != nil {
		return err
	}

	p.PrintResult(ui.NewSuccessResult("Snapshot complete",
		ui.Field{Key: "Regions", Value: strconv.Itoa(len(sc.Regions))},
		ui.Field{Key: "Bytes Read", Value: strconv.Itoa(result.BytesRead)},
		ui.Field{Key: "Sidecar", Value: sidecarPath},
		ui.Field{Key: "Duration", Value: result.Duration.Round(time.Millisecond).String()},
	))
	return nil
}

// parseRegionSpecs parses ADDRESS:SIZE pairs.
func parseRegionSpecs(specs []string) ([]gdb.MemoryRange, error) {
	ranges := make([]gdb.MemoryRange, 0, len(specs))
	for _, spec := range specs {
		addrText, sizeText, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid region %q: want ADDRESS:SIZE", spec)
		}
		addr, err := parseUint32(addrText)
		if err != nil {
			return nil, fmt.Errorf("invalid region address %q: %w", addrText, err)
		}
		size, err := parseUint32(sizeText)
		if err != nil {
			return nil, fmt.Errorf("invalid region size %q: %w", sizeText, err)
		}
		ranges = append(ranges, gdb.MemoryRange{Address: addr, Size: size})
	}
	return ranges, nil
}

// parseUint32 accepts decimal or 0x-prefixed hex.
func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// verifySetupCmd implements the 'verify-setup' command
var verifySetupCmd = &cobra.Command{
	Use:   "verify-setup",
	Short: "Verify GDB and gdbserver setup",
	Long: `Check that everything a replay or capture needs is in place:
  - The target GDB binary is installed and is GNU GDB
  - The gdbserver port accepts connections
  - The embedded target catalog loads`,
	Example: `  ramdump-jtag verify-setup

  ramdump-jtag verify-setup --host 192.168.1.20 --port 3333`,
	RunE: runVerifySetup,
}

func runVerifySetup(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	// Profile of the default target type when no --target is given.
	path, err := resolveGDBPath(1)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := gdb.ValidatePrerequisites(ctx, path, serverHost, serverPort)
	if err != nil {
		return err
	}

	fmt.Fprint(cmd.OutOrStdout(), gdb.FormatPrerequisiteReport(result))
	if !result.AllAvailable {
		return &gdb.PrerequisiteError{
			Prerequisite: "replay setup",
			Details:      "one or more required checks failed",
		}
	}
	return nil
}
