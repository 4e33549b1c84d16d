package supervisor

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/angeloszaimis/syncproxy/internal/metrics"
)

type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var (
	ErrInvalidState = errors.New("invalid supervisor state")
	ErrClosed       = errors.New("supervisor is shut down")
)

// Config describes how the backend is launched.
type Config struct {
	Command    []string
	Host       string
	Port       int
	ContentDir string
	StopGrace  time.Duration
	Stdout     io.Writer
	Stderr     io.Writer
}

// Args returns the full backend argv: the configured command followed by the
// bind address, port, disabled browser launch and the content directory.
func (c Config) Args() []string {
	args := make([]string, 0, len(c.Command)+7)
	args = append(args, c.Command...)
	return append(args,
		"--host", c.Host,
		"--port", strconv.Itoa(c.Port),
		"--open-browser", "false",
		c.ContentDir,
	)
}

type process struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	exitErr   error // valid once done is closed
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Status is a point-in-time view of the supervised backend.
type Status struct {
	State     State     `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Alive     bool      `json:"alive"`
	StartedAt time.Time `json:"started_at"`
	Restarts  int       `json:"restarts"`
	LastExit  string    `json:"last_exit,omitempty"`
}

// Supervisor owns the backend process. The zero value is not usable; create
// one with New.
type Supervisor struct {
	logger    *slog.Logger
	cfg       Config
	collector *metrics.Collector

	mutex        sync.Mutex
	state        State
	proc         *process
	pendingStart bool
	closed       bool
	restarts     int
	lastExit     string

	// published under statusMutex so Status and Alive never wait on a stop
	statusMutex sync.RWMutex
	status      Status
	current     *process
}

func New(logger *slog.Logger, cfg Config, collector *metrics.Collector) *Supervisor {
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	return &Supervisor{
		logger:    logger,
		cfg:       cfg,
		collector: collector,
		state:     StateNotStarted,
	}
}

// Start spawns the backend. It is valid from NotStarted or Stopped.
func (s *Supervisor) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defer s.publish()

	if s.closed {
		return ErrClosed
	}

	return s.startLocked()
}

// Stop terminates a running backend with SIGTERM, escalating to SIGKILL after
// the grace period. It is a no-op unless the backend is running.
func (s *Supervisor) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defer s.publish()

	s.stopLocked()
	return nil
}

// Restart stops the backend (if running) and starts a new one. The previous
// process is reaped before the next is spawned.
func (s *Supervisor) Restart() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defer s.publish()

	if s.closed {
		return ErrClosed
	}

	s.logger.Info("Restarting backend")
	s.stopLocked()
	s.restarts++

	return s.startLocked()
}

// RecoverIfExited restarts the backend when it died without a deliberate
// stop, or when an earlier start attempt failed. It reports whether a start
// was attempted.
func (s *Supervisor) RecoverIfExited() (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defer s.publish()

	if s.closed {
		return false, nil
	}

	switch {
	case s.state == StateRunning && s.proc.exited():
		exit := describeExit(s.proc.exitErr)
		s.logger.Warn("Backend exited unexpectedly, restarting",
			slog.Int("pid", s.proc.pid),
			slog.String("exit", exit))
		s.collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendExited})

		s.lastExit = exit
		s.proc = nil
		s.state = StateStopped

	case s.pendingStart && (s.state == StateNotStarted || s.state == StateStopped):
		s.logger.Warn("Retrying failed backend start")

	default:
		return false, nil
	}

	s.restarts++
	return true, s.startLocked()
}

// Shutdown stops the backend and refuses any further start.
func (s *Supervisor) Shutdown() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	defer s.publish()

	s.stopLocked()
	s.closed = true
	return nil
}

// Alive reports, without blocking, whether a backend process is running.
func (s *Supervisor) Alive() bool {
	s.statusMutex.RLock()
	p := s.current
	s.statusMutex.RUnlock()

	return p != nil && !p.exited()
}

func (s *Supervisor) Status() Status {
	s.statusMutex.RLock()
	status := s.status
	p := s.current
	s.statusMutex.RUnlock()

	status.Alive = p != nil && !p.exited()
	return status
}

func (s *Supervisor) startLocked() error {
	if s.state == StateRunning || s.state == StateStopping {
		return fmt.Errorf("cannot start backend in state %s: %w", s.state, ErrInvalidState)
	}

	args := s.cfg.Args()
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = s.cfg.Stdout
	cmd.Stderr = s.cfg.Stderr
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		s.pendingStart = true
		return fmt.Errorf("failed to start backend: %w", err)
	}

	p := &process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	go func() {
		p.exitErr = cmd.Wait()
		close(p.done)
	}()

	s.proc = p
	s.state = StateRunning
	s.pendingStart = false

	s.logger.Info("Backend started",
		slog.Int("pid", p.pid),
		slog.Any("args", args))
	s.collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendStarted})

	return nil
}

func (s *Supervisor) stopLocked() {
	s.pendingStart = false

	if s.state != StateRunning || s.proc == nil {
		return
	}

	p := s.proc
	s.state = StateStopping
	s.publish()

	if !p.exited() {
		s.logger.Info("Stopping backend", slog.Int("pid", p.pid))

		if err := terminate(p.pid); err != nil {
			s.logger.Warn("Failed to signal backend", slog.Int("pid", p.pid), slog.Any("err", err))
		}

		select {
		case <-p.done:
		case <-time.After(s.cfg.StopGrace):
			s.logger.Warn("Backend did not exit within grace period, killing",
				slog.Int("pid", p.pid),
				slog.Duration("grace", s.cfg.StopGrace))
			if err := kill(p.pid); err != nil {
				s.logger.Error("Failed to kill backend", slog.Int("pid", p.pid), slog.Any("err", err))
			}
			s.collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendKilled})
			<-p.done
		}
	}

	s.lastExit = describeExit(p.exitErr)
	s.proc = nil
	s.state = StateStopped

	s.logger.Info("Backend stopped",
		slog.Int("pid", p.pid),
		slog.String("exit", s.lastExit))
	s.collector.Emit(metrics.MetricEvent{Type: metrics.EventBackendStopped})
}

// publish copies the locked state into the status snapshot. Callers hold mutex.
func (s *Supervisor) publish() {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()

	s.status.State = s.state
	s.status.Restarts = s.restarts
	s.status.LastExit = s.lastExit
	s.current = s.proc
	if s.proc != nil {
		s.status.PID = s.proc.pid
		s.status.StartedAt = s.proc.startedAt
	} else {
		s.status.PID = 0
	}
}

func describeExit(err error) string {
	if err == nil {
		return "exit status 0"
	}
	return err.Error()
}
