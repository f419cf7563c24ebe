package gdb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/ramdump/internal/ramdump"
)

// Config holds the configuration for a replay.
type Config struct {
	// GDBPath is the debugger binary.
	// Default: the target profile's gdb
	GDBPath string

	// GDBArgs are passed to GDB on start.
	// Default: -nx -q
	GDBArgs []string

	// Env is appended to the GDB process environment.
	Env []string

	// Host is the hostname/IP where the gdbserver is listening.
	// Default: "localhost"
	Host string

	// Port is the gdbserver port.
	// Default: 1025
	Port int

	// Timeout bounds every command/response exchange.
	// Default: 2 seconds
	Timeout time.Duration

	// ConnectTimeout bounds the wait for the remote connection.
	// Default: 10 seconds
	ConnectTimeout time.Duration

	// Target selects a profile from the catalog. Empty selects by the
	// sidecar target_type.
	Target string

	// Detach releases the target after the registers are restored so that
	// another debugger can attach.
	// Default: true
	Detach bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GDBArgs:        []string{"-nx", "-q"},
		Host:           "localhost",
		Port:           1025,
		Timeout:        2 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Detach:         true,
	}
}

// State is the position of a Replayer in its state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateLoading
	StateRegistersRestored
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLoading:
		return "loading"
	case StateRegistersRestored:
		return "registers restored"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StepEvent reports replay progress.
type StepEvent struct {
	Step    Step
	Done    bool
	Err     error
	Message string
}

// RegisterValue is one restored register.
type RegisterValue struct {
	Name  string
	Value uint32
}

// Result summarizes a finished replay.
type Result struct {
	Target           string
	Regions          int
	BytesLoaded      int64
	Registers        []RegisterValue
	WatchdogDisabled bool
	Duration         time.Duration
	// Transcript is the GDB output of the session.
	Transcript string
}

// Replayer loads a decoded snapshot into a live target through GDB.
type Replayer struct {
	config Config
	logger *zap.Logger
	parser *Parser
	state  State

	// OnStep, when set, is called at the start and end of every step.
	OnStep func(StepEvent)

	// connectErrPattern fails the connect wait early.
	connectErrPattern *regexp.Regexp
}

// NewReplayer creates a replayer with the given configuration.
func NewReplayer(config Config, logger *zap.Logger) *Replayer {
	return &Replayer{
		config:            config,
		logger:            logger,
		parser:            NewParser(),
		state:             StateDisconnected,
		connectErrPattern: regexp.MustCompile(`Connection refused|Connection timed out|Remote communication error|Could not connect`),
	}
}

// State returns the current replay state.
func (r *Replayer) State() State {
	return r.state
}

func (r *Replayer) emit(ev StepEvent) {
	if r.OnStep != nil {
		r.OnStep(ev)
	}
}

func (r *Replayer) fail(step Step, err error) error {
	r.state = StateFailed
	r.emit(StepEvent{Step: step, Done: true, Err: err})
	r.logger.Error("replay step failed",
		zap.String("step", string(step)),
		zap.Error(err),
	)
	return &StepError{Step: step, Err: err}
}

// Run replays the regions and register frame described by sc.
//
// Steps:
//  1. Verify region files against the sidecar digests
//  2. Start GDB and connect to the gdbserver
//  3. Disable the watchdog (best effort)
//  4. Restore every region into target memory
//  5. Restore the register file from the saved frame
//  6. Detach so another debugger can attach
//
// GDB is shut down on every exit path.
func (r *Replayer) Run(ctx context.Context, sc *ramdump.Sidecar) (*Result, error) {
	start := time.Now()

	db, err := LoadTargets()
	if err != nil {
		return nil, err
	}
	target, err := db.Resolve(r.config.Target, sc.TargetType)
	if err != nil {
		return nil, err
	}

	result := &Result{Target: target.Name}

	r.logger.Info("starting replay",
		zap.String("target", target.Name),
		zap.String("gdbserver", fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)),
		zap.Int("regions", len(sc.Regions)),
		zap.String("esf_addr", fmt.Sprintf("0x%08x", sc.ESFAddr)),
	)

	// 1. Verify
	r.emit(StepEvent{Step: StepVerify, Message: fmt.Sprintf("Verifying %d region files", len(sc.Regions))})
	if len(sc.Regions) == 0 {
		return nil, r.fail(StepVerify, &LoadError{Err: errors.New("sidecar lists no regions")})
	}
	for _, region := range sc.Regions {
		if err := region.Verify(); err != nil {
			return nil, r.fail(StepVerify, &LoadError{Path: region.Path, Address: region.Address, Err: err})
		}
	}
	r.emit(StepEvent{Step: StepVerify, Done: true})

	// 2. Connect
	r.state = StateConnecting
	r.emit(StepEvent{Step: StepConnect, Message: fmt.Sprintf("Connecting to %s:%d", r.config.Host, r.config.Port)})

	gdbPath := r.config.GDBPath
	if gdbPath == "" {
		gdbPath = target.GDB
	}
	session, err := Start(ctx, SessionConfig{
		Path: gdbPath,
		Args: r.config.GDBArgs,
		Env:  r.config.Env,
	}, r.logger)
	if err != nil {
		return nil, r.fail(StepConnect, err)
	}
	defer session.Close()

	if err := r.connect(session); err != nil {
		return nil, r.fail(StepConnect, err)
	}
	r.state = StateConnected
	r.emit(StepEvent{Step: StepConnect, Done: true})

	// 3. Watchdog
	if target.Watchdog != nil {
		r.emit(StepEvent{Step: StepWatchdog, Message: fmt.Sprintf("Disabling watchdog at 0x%08x", target.Watchdog.Address)})
		result.WatchdogDisabled = r.disableWatchdog(session, target.Watchdog)
		r.emit(StepEvent{Step: StepWatchdog, Done: true})
	}

	// 4. Load
	r.state = StateLoading
	r.emit(StepEvent{Step: StepLoad, Message: fmt.Sprintf("Loading %d regions", len(sc.Regions))})
	for _, region := range sc.Regions {
		if err := r.loadRegion(session, region); err != nil {
			return nil, r.fail(StepLoad, err)
		}
		result.Regions++
		result.BytesLoaded += int64(region.Size)
	}
	r.emit(StepEvent{Step: StepLoad, Done: true})

	// 5. Registers
	r.emit(StepEvent{Step: StepRegisters, Message: fmt.Sprintf("Restoring %d registers", len(target.Registers))})
	regs, err := r.restoreRegisters(session, sc.ESFAddr, target.Registers)
	if err != nil {
		return nil, r.fail(StepRegisters, err)
	}
	result.Registers = regs
	r.state = StateRegistersRestored
	r.emit(StepEvent{Step: StepRegisters, Done: true})

	// 6. Detach
	if r.config.Detach {
		r.emit(StepEvent{Step: StepDetach, Message: "Detaching"})
		if _, err := session.Command("detach", regexp.MustCompile(`Detaching|Ending remote debugging`), nil, r.config.Timeout); err != nil {
			r.logger.Warn("detach not confirmed", zap.Error(err))
		}
		r.emit(StepEvent{Step: StepDetach, Done: true})
	}

	r.state = StateReady
	result.Duration = time.Since(start)
	result.Transcript = session.Output()

	r.logger.Info("replay complete",
		zap.String("target", target.Name),
		zap.Int("regions", result.Regions),
		zap.Int64("bytes", result.BytesLoaded),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (r *Replayer) connect(s *Session) error {
	commands := []string{
		fmt.Sprintf("target remote %s:%d", r.config.Host, r.config.Port),
		"set confirm off",
		"set pagination off",
	}
	for _, cmd := range commands {
		if err := s.Send(cmd); err != nil {
			return &ConnectionError{Host: r.config.Host, Port: r.config.Port, Err: err}
		}
	}

	_, err := s.Expect(r.parser.connectedPattern, r.connectErrPattern, r.config.ConnectTimeout)
	if err != nil {
		return &ConnectionError{
			Host:   r.config.Host,
			Port:   r.config.Port,
			Output: s.tail(10),
			Err:    err,
		}
	}
	r.logger.Debug("gdbserver connected", zap.String("host", r.config.Host), zap.Int("port", r.config.Port))
	return nil
}

// disableWatchdog writes the watchdog register and reads it back. Failures
// are logged and do not stop the replay.
func (r *Replayer) disableWatchdog(s *Session, wd *Watchdog) bool {
	if err := s.Send(fmt.Sprintf("set *(unsigned int*)0x%x = %d", wd.Address, wd.Value)); err != nil {
		r.logger.Warn("failed to disable watchdog", zap.Error(err))
		return false
	}

	got, err := r.readWord(s, wd.Address)
	if err != nil {
		r.logger.Warn("failed to read back watchdog register",
			zap.String("address", fmt.Sprintf("0x%08x", wd.Address)),
			zap.Error(err),
		)
		return false
	}
	if got != wd.Value {
		r.logger.Warn("watchdog register did not take the written value",
			zap.String("address", fmt.Sprintf("0x%08x", wd.Address)),
			zap.String("want", fmt.Sprintf("0x%x", wd.Value)),
			zap.String("got", fmt.Sprintf("0x%x", got)),
		)
		return false
	}
	return true
}

func (r *Replayer) loadRegion(s *Session, region ramdump.SidecarRegion) error {
	cmd := fmt.Sprintf("restore %s binary 0x%x", region.Path, region.Address)
	line, err := s.Command(cmd, r.parser.restorePattern, r.parser.errorPattern, r.config.Timeout)
	if err != nil {
		le := &LoadError{Path: region.Path, Address: region.Address, Err: err}
		if errors.Is(err, ErrErrorResponse) {
			le.Line = line
			le.Err = nil
		}
		return le
	}
	r.logger.Debug("region loaded",
		zap.String("path", region.Path),
		zap.String("address", fmt.Sprintf("0x%08x", region.Address)),
		zap.String("response", line),
	)
	return nil
}

// readWord reads one 32-bit word of target memory.
func (r *Replayer) readWord(s *Session, addr uint32) (uint32, error) {
	pattern := r.parser.MemoryWordPattern(addr)
	line, err := s.Command(fmt.Sprintf("x/1xw 0x%x", addr), pattern, r.parser.errorPattern, r.config.Timeout)
	if err != nil {
		return 0, err
	}
	return r.parser.ParseCapture(pattern, line)
}

// restoreRegisters reads each register from the saved frame at esf, writes
// it and reads it back.
func (r *Replayer) restoreRegisters(s *Session, esf uint32, names []string) ([]RegisterValue, error) {
	values := make([]RegisterValue, 0, len(names))
	for i, name := range names {
		addr := esf + uint32(i)*4
		value, err := r.readWord(s, addr)
		if err != nil {
			return nil, &RegisterError{Register: name, Err: fmt.Errorf("reading saved frame at 0x%08x: %w", addr, err)}
		}

		if err := s.Send(fmt.Sprintf("set $%s = 0x%x", name, value)); err != nil {
			return nil, &RegisterError{Register: name, Err: err}
		}

		pattern := r.parser.RegisterPattern(name)
		line, err := s.Command("info registers $"+name, pattern, r.parser.errorPattern, r.config.Timeout)
		if err != nil {
			return nil, &RegisterError{Register: name, Err: err}
		}
		got, err := r.parser.ParseCapture(pattern, line)
		if err != nil {
			return nil, &RegisterError{Register: name, Err: err}
		}
		if got != value {
			return nil, &RegisterError{Register: name, Want: value, Got: got}
		}

		r.logger.Debug("register restored",
			zap.String("register", name),
			zap.String("value", fmt.Sprintf("0x%08x", value)),
		)
		values = append(values, RegisterValue{Name: name, Value: value})
	}
	return values, nil
}
