package gdb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrErrorResponse is returned by Expect when an error pattern matched.
// The returned line holds the GDB message.
var ErrErrorResponse = errors.New("gdb reported an error")

// SessionConfig describes how to launch GDB.
type SessionConfig struct {
	// Path is the GDB binary.
	Path string
	// Args are passed to GDB before any command is sent.
	Args []string
	// Env is appended to the current environment.
	Env []string
	// CloseTimeout bounds how long Close waits for GDB to exit before
	// killing it.
	CloseTimeout time.Duration
}

// Session owns one interactive GDB process driven over its stdin and
// stdout. Output lines from stdout and stderr are merged into a single
// stream consumed by Expect.
type Session struct {
	cfg    SessionConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	lines  chan string
	ctx    context.Context
	logger *zap.Logger

	closing   chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu     sync.Mutex
	output []string
}

// Start launches GDB. Cancelling ctx kills the process.
func Start(ctx context.Context, cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 2 * time.Second
	}

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	cmd.WaitDelay = cfg.CloseTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Path: cfg.Path, Err: fmt.Errorf("failed to create stdin pipe: %w", err)}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Path: cfg.Path, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Path: cfg.Path, Err: fmt.Errorf("failed to create stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Path: cfg.Path, Err: err}
	}

	s := &Session{
		cfg:     cfg,
		cmd:     cmd,
		stdin:   stdin,
		lines:   make(chan string, 256),
		ctx:     ctx,
		logger:  logger,
		closing: make(chan struct{}),
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go s.read(stdout, "stdout", &readers)
	go s.read(stderr, "stderr", &readers)
	go func() {
		readers.Wait()
		close(s.lines)
	}()

	logger.Debug("started GDB",
		zap.String("path", cfg.Path),
		zap.Strings("args", cfg.Args),
		zap.Int("pid", cmd.Process.Pid),
	)
	return s, nil
}

func (s *Session) read(r io.Reader, stream string, wg *sync.WaitGroup) {
	defer wg.Done()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		s.mu.Lock()
		s.output = append(s.output, line)
		s.mu.Unlock()

		s.logger.Debug("gdb output", zap.String("stream", stream), zap.String("line", line))

		select {
		case s.lines <- line:
		case <-s.closing:
			// Keep draining so GDB never blocks on a full pipe.
		}
	}
}

// Send writes one command line to GDB.
func (s *Session) Send(command string) error {
	s.logger.Debug("gdb command", zap.String("command", command))

	s.mu.Lock()
	s.output = append(s.output, "> "+command)
	s.mu.Unlock()

	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return &ProcessError{Path: s.cfg.Path, Err: fmt.Errorf("failed to send %q: %w", command, err)}
	}
	return nil
}

// Expect reads output lines until one matches pattern, one matches
// errPattern, GDB exits, or timeout elapses. The matching line is returned.
// A nil errPattern disables error matching.
func (s *Session) Expect(pattern, errPattern *regexp.Regexp, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case line, ok := <-s.lines:
			if !ok {
				return "", &ProcessError{Path: s.cfg.Path, Stderr: s.tail(5)}
			}
			if errPattern != nil && errPattern.MatchString(line) {
				return line, fmt.Errorf("%w: %s", ErrErrorResponse, line)
			}
			if pattern.MatchString(line) {
				return line, nil
			}
		case <-timer.C:
			return "", &TimeoutError{Pattern: pattern.String(), Timeout: timeout}
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
}

// Command discards pending output, sends command and waits for a response
// as Expect does.
func (s *Session) Command(command string, pattern, errPattern *regexp.Regexp, timeout time.Duration) (string, error) {
	s.Drain()
	if err := s.Send(command); err != nil {
		return "", err
	}
	line, err := s.Expect(pattern, errPattern, timeout)
	var te *TimeoutError
	if errors.As(err, &te) {
		te.Command = command
	}
	return line, err
}

// Drain discards output lines already received.
func (s *Session) Drain() {
	for {
		select {
		case _, ok := <-s.lines:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Output returns everything sent to and received from GDB so far.
func (s *Session) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.output, "\n")
}

func (s *Session) tail(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := max(len(s.output)-n, 0)
	return strings.Join(s.output[start:], "\n")
}

// Close asks GDB to quit and waits for it to exit, killing it after the
// close timeout. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		_ = s.Send("quit")
		_ = s.stdin.Close()

		exited := make(chan error, 1)
		go func() {
			exited <- s.cmd.Wait()
		}()

		select {
		case err := <-exited:
			s.closeErr = err
		case <-time.After(s.cfg.CloseTimeout):
			s.logger.Warn("GDB did not exit, killing it", zap.Int("pid", s.cmd.Process.Pid))
			_ = s.cmd.Process.Kill()
			s.closeErr = <-exited
		}

		s.logger.Debug("GDB exited", zap.Error(s.closeErr))
	})
	return s.closeErr
}
