package gdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/ramdump/internal/gdb/scripts"
	"github.com/muurk/ramdump/internal/ramdump"
)

// ExecutorConfig holds the configuration for batch GDB scripts.
type ExecutorConfig struct {
	// GDBPath is the debugger binary.
	// Default: the target profile's gdb
	GDBPath string

	// Env is appended to the GDB process environment.
	Env []string

	// Host is the hostname/IP where the gdbserver is listening.
	// Default: "localhost"
	Host string

	// Port is the gdbserver port.
	// Default: 1025
	Port int

	// Timeout is the maximum time to wait for GDB to complete.
	// Default: 5 minutes
	Timeout time.Duration

	// WorkDir is the working directory for temporary files.
	// Default: os.TempDir()
	WorkDir string
}

// DefaultExecutorConfig returns an ExecutorConfig with sensible defaults.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Host:    "localhost",
		Port:    1025,
		Timeout: 5 * time.Minute,
		WorkDir: os.TempDir(),
	}
}

// Executor executes GDB scripts in batch mode via os/exec.
type Executor struct {
	config ExecutorConfig
	logger *zap.Logger
}

// NewExecutor creates a new GDB executor with the given configuration.
func NewExecutor(config ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		config: config,
		logger: logger,
	}
}

// Execute runs a GDB script and returns the parsed result.
//
// Steps:
//  1. Render script template with parameters
//  2. Write rendered script to temporary file
//  3. Execute GDB with script file
//  4. Parse stdout and stderr using script.Parse()
//  5. Clean up temporary file
func (e *Executor) Execute(ctx context.Context, script scripts.Script) (*scripts.Result, error) {
	startTime := time.Now()

	e.logger.Info("executing GDB script",
		zap.String("script", script.Name()),
		zap.String("gdb_path", e.config.GDBPath),
		zap.String("gdbserver", fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)),
		zap.Duration("timeout", e.config.Timeout),
	)

	rendered, err := e.renderTemplate(script)
	if err != nil {
		return nil, &TemplateError{
			Template: script.Name(),
			Err:      err,
		}
	}

	e.logger.Debug("rendered GDB script template",
		zap.String("script", script.Name()),
		zap.Int("size", len(rendered)),
		zap.String("content", rendered),
	)

	scriptFile, err := e.writeScriptFile(script.Name(), rendered)
	if err != nil {
		return nil, fmt.Errorf("failed to write script file: %w", err)
	}
	defer os.Remove(scriptFile)

	stdout, stderr, exitCode, err := e.executeGDB(ctx, scriptFile)
	duration := time.Since(startTime)

	e.logger.Debug("GDB execution complete",
		zap.String("script", script.Name()),
		zap.Duration("duration", duration),
		zap.Int("exit_code", exitCode),
		zap.String("stdout", stdout),
		zap.String("stderr", stderr),
	)

	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		timeout.Command = script.Name()
		return nil, timeout
	}

	if err != nil && exitCode == -1 {
		return nil, &GDBExecutionError{
			Script:   script.Name(),
			ExitCode: exitCode,
			Stderr:   stderr,
			Stdout:   stdout,
			Err:      err,
		}
	}

	// gdb -batch exits non-zero when a script command fails; let the
	// script explain which step broke before reporting the exit code.
	output := stdout + "\n" + stderr
	result, parseErr := script.Parse(output)
	if parseErr != nil {
		return nil, parseErr
	}
	result.Duration = duration
	result.RawOutput = output

	if err != nil && result.Error == nil {
		return nil, &GDBExecutionError{
			Script:   script.Name(),
			ExitCode: exitCode,
			Stderr:   stderr,
			Stdout:   stdout,
			Err:      err,
		}
	}

	e.logger.Info("GDB script finished",
		zap.String("script", script.Name()),
		zap.Duration("duration", duration),
		zap.Bool("success", result.Success),
		zap.Int("steps", len(result.Steps)),
		zap.Int("bytes_read", result.BytesRead),
	)

	return result, nil
}

// renderTemplate renders the script template with parameters.
func (e *Executor) renderTemplate(script scripts.Script) (string, error) {
	tmpl, err := template.New(script.Name()).Parse(script.Template())
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, script.Params()); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// writeScriptFile writes the rendered script to a temporary file.
func (e *Executor) writeScriptFile(name, content string) (string, error) {
	filename := fmt.Sprintf("ramdump-gdb-%s-*.gdb", name)
	file, err := os.CreateTemp(e.config.WorkDir, filename)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(content); err != nil {
		os.Remove(file.Name())
		return "", fmt.Errorf("failed to write script content: %w", err)
	}

	return file.Name(), nil
}

// executeGDB runs GDB in batch mode on scriptFile and captures its output.
func (e *Executor) executeGDB(ctx context.Context, scriptFile string) (stdout, stderr string, exitCode int, err error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	// -batch: Exit after processing script
	// -nx: Don't execute .gdbinit
	// -x: Execute commands from file
	cmd := exec.CommandContext(timeoutCtx, e.config.GDBPath,
		"-batch",
		"-nx",
		"-x", scriptFile,
	)
	if len(e.config.Env) > 0 {
		cmd.Env = append(os.Environ(), e.config.Env...)
	}
	cmd.WaitDelay = time.Second

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err = cmd.Run()

	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	if timeoutCtx.Err() == context.DeadlineExceeded {
		err = &TimeoutError{
			Command: filepath.Base(scriptFile),
			Timeout: e.config.Timeout,
		}
	}

	return stdout, stderr, exitCode, err
}

// ValidateConfig checks the GDB binary. An unreachable gdbserver is only
// logged since the probe may still be starting.
func (e *Executor) ValidateConfig(ctx context.Context) error {
	if err := ValidateGDBPath(ctx, e.config.GDBPath); err != nil {
		return err
	}

	if err := ValidateServerConnection(ctx, e.config.Host, e.config.Port); err != nil {
		e.logger.Warn("gdbserver connection check failed (this is not fatal)",
			zap.String("host", e.config.Host),
			zap.Int("port", e.config.Port),
			zap.Error(err),
		)
	}

	return nil
}

// MemoryRange is a region of target memory to capture.
type MemoryRange struct {
	Address uint32
	Size    uint32
}

// SnapshotRequest describes a live capture.
type SnapshotRequest struct {
	Ranges        []MemoryRange
	ESFAddr       uint32
	CurrentThread uint32
	TargetType    uint8
	// OutputDir receives one raw file per range.
	OutputDir string
}

// Snapshot dumps the requested ranges from the halted target and writes
// them to OutputDir as region files. The returned sidecar describes them
// and can be handed straight to a Replayer.
func (e *Executor) Snapshot(ctx context.Context, req SnapshotRequest) (*ramdump.Sidecar, *scripts.Result, error) {
	if len(req.Ranges) == 0 {
		return nil, nil, errors.New("no memory ranges requested")
	}
	ranges := append([]MemoryRange(nil), req.Ranges...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Address < ranges[j].Address })
	for i, r := range ranges {
		if r.Size == 0 {
			return nil, nil, fmt.Errorf("range 0x%08x has zero size", r.Address)
		}
		if uint64(r.Address)+uint64(r.Size) > 1<<32 {
			return nil, nil, fmt.Errorf("range 0x%08x+0x%x wraps the address space", r.Address, r.Size)
		}
		if i > 0 && uint64(ranges[i-1].Address)+uint64(ranges[i-1].Size) > uint64(r.Address) {
			return nil, nil, fmt.Errorf("range 0x%08x overlaps 0x%08x", r.Address, ranges[i-1].Address)
		}
	}

	tmpDir, err := os.MkdirTemp(e.config.WorkDir, "ramdump-snapshot-*")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	regions := make([]scripts.SnapshotRegion, len(ranges))
	for i, r := range ranges {
		regions[i] = scripts.SnapshotRegion{
			Address: r.Address,
			Size:    r.Size,
			File:    filepath.Join(tmpDir, fmt.Sprintf("0x%08x.bin", r.Address)),
		}
	}

	result, err := e.Execute(ctx, scripts.NewSnapshotScript(e.config.Host, e.config.Port, regions))
	if err != nil {
		return nil, nil, err
	}
	if !result.Success {
		return nil, result, result.Error
	}

	img := &ramdump.Image{
		Header: ramdump.Header{
			Magic:         ramdump.Magic,
			Version:       uint32(ramdump.CodecFastLZ),
			ESFAddr:       req.ESFAddr,
			CurrentThread: req.CurrentThread,
			TargetType:    req.TargetType,
		},
	}
	for _, r := range regions {
		data, err := os.ReadFile(r.File)
		if err != nil {
			return nil, result, fmt.Errorf("failed to read dump of 0x%08x: %w", r.Address, err)
		}
		if len(data) != int(r.Size) {
			return nil, result, fmt.Errorf("dump of 0x%08x is %d bytes, expected %d", r.Address, len(data), r.Size)
		}
		img.Regions = append(img.Regions, ramdump.Region{Address: r.Address, Data: data})
	}

	sc, err := img.WriteRegions(req.OutputDir)
	if err != nil {
		return nil, result, err
	}

	e.logger.Info("snapshot captured",
		zap.Int("regions", len(sc.Regions)),
		zap.Int("bytes", result.BytesRead),
		zap.String("output_dir", req.OutputDir),
	)
	return sc, result, nil
}
