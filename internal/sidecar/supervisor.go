package sidecar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the supervisor's view of the engine daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// outputBufferSize is the read buffer for daemon stdout/stderr capture.
const outputBufferSize = 4096

// Config holds supervisor settings for the engine daemon.
type Config struct {
	// Binary is the path to the engine daemon executable.
	Binary string

	// Args are command-line arguments passed to the daemon.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, the daemon inherits the parent environment.
	Env []string

	// WorkDir is the daemon's working directory. Empty inherits ours.
	WorkDir string

	// RestartOnFailure restarts the daemon when it exits unexpectedly.
	RestartOnFailure bool

	// RestartDelay is the base delay before the first restart attempt.
	// Subsequent attempts back off exponentially. Default 5s.
	RestartDelay time.Duration

	// MaxRestartDelay caps the backoff. Default 5m.
	MaxRestartDelay time.Duration

	// StableThreshold is how long the daemon must stay up before the
	// restart counter resets. Default 2m.
	StableThreshold time.Duration

	// MaxRestartAttempts limits consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	// Default 10s.
	GracefulTimeout time.Duration

	// HealthCheck, when set, is called periodically while the daemon
	// runs. Three consecutive failures kill the process so the restart
	// path can recover a hung daemon.
	HealthCheck func(ctx context.Context) error

	// HealthCheckInterval is the health check period. Default 30s.
	HealthCheckInterval time.Duration

	// OnExit is called whenever the daemon stops; err is nil for a
	// requested stop.
	OnExit func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// Logger is the logging interface the supervisor writes to.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Supervisor launches the engine daemon as a child process and keeps it
// alive: capped exponential backoff on crashes, a health check watchdog
// for hangs, and SIGTERM-then-SIGKILL shutdown of the whole process
// group.
//
// Thread Safety: all methods are safe for concurrent use.
type Supervisor struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool

	done chan struct{}
}

// NewSupervisor creates a supervisor. Zero-value durations take
// defaults; the daemon is not launched until Start.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.MaxRestartDelay == 0 {
		cfg.MaxRestartDelay = 5 * time.Minute
	}
	if cfg.StableThreshold == 0 {
		cfg.StableThreshold = 2 * time.Minute
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 30 * time.Second
	}

	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the supervisor's logger.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the daemon and begins supervising it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("engine daemon is already running")
	}
	s.status = StatusStarting
	s.stopRequested = false
	s.done = make(chan struct{})
	s.mu.Unlock()

	if err := s.spawn(ctx); err != nil {
		s.mu.Lock()
		s.status = StatusFailed
		s.lastError = err
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx)

	return nil
}

// spawn starts one daemon process.
func (s *Supervisor) spawn(ctx context.Context) error {
	s.logger.Info("launching engine daemon",
		"binary", s.config.Binary,
		"args", s.config.Args,
	)

	cmd := exec.CommandContext(ctx, s.config.Binary, s.config.Args...) //nolint:gosec // Binary path comes from validated config

	// Own process group so shutdown signals reach any children too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching engine daemon: %w", err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.status = StatusRunning
	s.startTime = time.Now()
	s.mu.Unlock()

	go s.pipeOutput("stdout", stdout)
	go s.pipeOutput("stderr", stderr)

	s.logger.Info("engine daemon running", "pid", cmd.Process.Pid)

	return nil
}

// pipeOutput relays daemon output into the debug log.
func (s *Supervisor) pipeOutput(stream string, r io.Reader) {
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			s.logger.Debug("engine daemon output",
				"stream", stream,
				"output", string(buf[:n]),
			)
		}
		if err != nil {
			return
		}
	}
}

// awaitExitOrUnhealthy blocks until the daemon exits or the health
// check fails three times in a row, in which case the daemon is killed
// so the restart path treats a hang like a crash.
func (s *Supervisor) awaitExitOrUnhealthy(ctx context.Context, cmd *exec.Cmd) error {
	exitCh := make(chan error, 1)
	go func() {
		exitCh <- cmd.Wait()
	}()

	if s.config.HealthCheck == nil {
		return <-exitCh
	}

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	const maxConsecutiveFailures = 3
	failures := 0

	for {
		select {
		case err := <-exitCh:
			return err

		case <-ctx.Done():
			return ctx.Err()

		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := s.config.HealthCheck(checkCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					s.logger.Info("engine daemon health recovered",
						"previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			s.logger.Warn("engine daemon health check failed",
				"error", err,
				"consecutive_failures", failures,
			)
			if failures < maxConsecutiveFailures {
				continue
			}

			s.logger.Error("engine daemon unresponsive, killing it",
				"failures", failures)
			if cmd.Process != nil {
				//nolint:errcheck // Process may have just exited
				cmd.Process.Kill()
			}

			select {
			case exitErr := <-exitCh:
				if exitErr != nil {
					return fmt.Errorf("killed after failed health checks: %w", exitErr)
				}
				return fmt.Errorf("killed after %d failed health checks", failures)
			case <-time.After(5 * time.Second):
				return fmt.Errorf("engine daemon did not exit after kill")
			}
		}
	}
}

// supervise watches the daemon and restarts it on unexpected exits.
func (s *Supervisor) supervise(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.RLock()
		cmd := s.cmd
		started := s.startTime
		s.mu.RUnlock()

		if cmd == nil {
			return
		}

		err := s.awaitExitOrUnhealthy(ctx, cmd)

		s.mu.Lock()
		stopRequested := s.stopRequested
		// A run that lasted past the stable threshold resets the
		// restart budget.
		if time.Since(started) >= s.config.StableThreshold {
			s.restartCount = 0
		}
		s.mu.Unlock()

		if stopRequested {
			s.logger.Info("engine daemon stopped as requested")
			s.mu.Lock()
			s.status = StatusStopped
			s.mu.Unlock()
			if s.config.OnExit != nil {
				s.config.OnExit(nil)
			}
			return
		}

		s.logger.Warn("engine daemon exited unexpectedly", "error", err)

		s.mu.Lock()
		s.lastError = err
		s.status = StatusFailed
		s.mu.Unlock()

		if s.config.OnExit != nil {
			s.config.OnExit(err)
		}

		if !s.config.RestartOnFailure {
			s.logger.Info("restart disabled, leaving engine daemon down")
			return
		}

		s.mu.Lock()
		s.restartCount++
		attempt := s.restartCount
		s.mu.Unlock()

		if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
			s.logger.Error("engine daemon restart budget exhausted",
				"attempts", attempt)
			return
		}

		delay := s.backoffDelay(attempt)
		s.logger.Info("restarting engine daemon",
			"attempt", attempt,
			"delay", delay,
		)

		if s.config.OnRestart != nil {
			s.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.RLock()
		stopRequested = s.stopRequested
		s.mu.RUnlock()
		if stopRequested {
			return
		}

		if err := s.spawn(ctx); err != nil {
			s.logger.Error("engine daemon restart failed", "error", err)
			// Loop again; the next iteration backs off further
		}
	}
}

// backoffDelay returns the restart delay for the given attempt:
// RestartDelay doubled per attempt, capped at MaxRestartDelay.
func (s *Supervisor) backoffDelay(attempt int) time.Duration {
	delay := s.config.RestartDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.config.MaxRestartDelay {
			return s.config.MaxRestartDelay
		}
	}
	if delay > s.config.MaxRestartDelay {
		return s.config.MaxRestartDelay
	}
	return delay
}

// Stop shuts the daemon down: SIGTERM to the process group, then
// SIGKILL after GracefulTimeout.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.status != StatusRunning && s.status != StatusStarting {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || done == nil {
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping engine daemon", "pid", pid)

	// Negative pid signals the whole process group
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			s.logger.Warn("failed to signal engine daemon", "error", err)
		}
	}

	select {
	case <-done:
		s.logger.Info("engine daemon stopped gracefully")
		return nil
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("engine daemon ignored SIGTERM, sending SIGKILL",
			"timeout", s.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing engine daemon process group: %w", err)
		}
	}

	<-done
	s.logger.Info("engine daemon killed")

	return nil
}

// Status returns the current daemon status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning reports whether the daemon is currently running.
func (s *Supervisor) IsRunning() bool {
	return s.Status() == StatusRunning
}

// LastError returns the error from the most recent unexpected exit.
func (s *Supervisor) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// RestartCount returns the consecutive restart count.
func (s *Supervisor) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}

// Uptime returns how long the current daemon process has been running,
// or zero when it is down.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning {
		return 0
	}
	return time.Since(s.startTime)
}

// PID returns the daemon's process id, or zero when it is down.
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of supervisor state.
type Stats struct {
	Status       Status        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats returns a snapshot of supervisor state.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Status:       s.status,
		RestartCount: s.restartCount,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}
	if s.status == StatusRunning {
		stats.Uptime = time.Since(s.startTime)
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}
