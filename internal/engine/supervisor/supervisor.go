// Package supervisor runs the monitoring engine as a child process: it
// spawns it, drains its output, stops it gracefully and restarts it after
// crashes until a crash loop is detected.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/clock"
	"github.com/GPT012/pyoz-orchestrator/internal/metrics"
)

// EngineBinaryName is the engine executable looked up when no binary is
// configured.
const EngineBinaryName = "openzeppelin-monitor"

// binaryCandidates are tried in order before falling back to $PATH.
var binaryCandidates = []string{
	"./target/release/" + EngineBinaryName,
	"./target/debug/" + EngineBinaryName,
	"./" + EngineBinaryName,
}

// Config controls how the engine is run.
type Config struct {
	Binary         string        `yaml:"binary"`
	Args           []string      `yaml:"args"`
	Env            []string      `yaml:"-"`
	Verbose        bool          `yaml:"verbose"`
	GracePeriod    time.Duration `yaml:"grace_period"`
	KillTimeout    time.Duration `yaml:"kill_timeout"`
	DrainTimeout   time.Duration `yaml:"drain_timeout"`
	RestartOnCrash bool          `yaml:"restart_on_crash"`
	Backoff        Backoff       `yaml:"backoff"`
	CrashLoop      CrashLoop     `yaml:"crash_loop"`
}

// Handle owns one engine process. It is done once the process has been
// reaped and both output streams are closed. Liveness only tracks the
// process itself.
type Handle struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	exited    chan struct{}
	done      chan struct{}
	outputs   []*os.File

	stopRequested atomic.Bool
	exitCode      int
	exitErr       error
}

// PID returns the engine's process id.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns the spawn time.
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed when the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// ExitCode returns the exit code once Done is closed. A process killed by a
// signal reports -1.
func (h *Handle) ExitCode() int {
	<-h.done
	return h.exitCode
}

// Supervisor holds at most one live engine handle.
type Supervisor struct {
	cfg    Config
	sink   LineSink
	logger *slog.Logger

	mu      sync.Mutex
	current *Handle
	window  crashWindow
}

// New creates a supervisor. A nil sink logs engine output through logger.
func New(cfg Config, sink LineSink, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 10 * time.Second
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = time.Second
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.CrashLoop.Threshold <= 0 || cfg.CrashLoop.Window <= 0 {
		cfg.CrashLoop = DefaultCrashLoop()
	}
	if sink == nil {
		sink = LogSink(logger.With("component", "engine"), cfg.Verbose)
	}
	return &Supervisor{
		cfg:    cfg,
		sink:   sink,
		logger: logger,
		window: crashWindow{policy: cfg.CrashLoop},
	}
}

// Current returns the live handle, or nil.
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsAlive reports whether h still runs. It never blocks.
func (s *Supervisor) IsAlive(h *Handle) bool {
	if h == nil {
		return false
	}
	select {
	case <-h.exited:
		return false
	default:
		return true
	}
}

// Start spawns the engine reading configDir and writing dataDir.
func (s *Supervisor) Start(ctx context.Context, configDir, dataDir string) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.IsAlive(s.current) {
		return nil, &SupervisorError{Kind: ErrAlreadyRunning, PID: s.current.pid}
	}

	binary, err := s.locate()
	if err != nil {
		return nil, &SupervisorError{Kind: ErrSpawnFailure, Err: err}
	}

	cmd := exec.Command(binary, s.cfg.Args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Env = append(cmd.Env,
		"CONFIG_DIR="+configDir,
		"LOG_DATA_DIR="+dataDir,
		"RUST_LOG="+s.rustLog(),
	)
	// Own process group: signals reach whatever the engine spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain pipes rather than StdoutPipe: Wait then returns when the engine
	// exits, even if a descendant still holds the write ends.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, &SupervisorError{Kind: ErrSpawnFailure, Detail: binary, Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		return nil, &SupervisorError{Kind: ErrSpawnFailure, Detail: binary, Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdoutR, stderrR)
		return nil, &SupervisorError{Kind: ErrSpawnFailure, Detail: binary, Err: err}
	}

	h := &Handle{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
		outputs:   []*os.File{stdoutR, stderrR},
	}
	s.current = h

	var drains sync.WaitGroup
	drains.Add(2)
	go func() {
		defer drains.Done()
		drain(stdoutR, "stdout", s.sink)
	}()
	go func() {
		defer drains.Done()
		drain(stderrR, "stderr", s.sink)
	}()
	go s.wait(h, &drains)

	metrics.EngineUp.Set(1)
	metrics.EngineStartsTotal.Inc()
	s.logger.Info("Engine started",
		"pid", h.pid,
		"binary", binary,
		"config_dir", configDir,
		"data_dir", dataDir,
	)
	return h, nil
}

// wait reaps the process, then gives the output drains DrainTimeout to hit
// EOF. Descendants still holding the pipes after that are killed with the
// process group.
func (s *Supervisor) wait(h *Handle, drains *sync.WaitGroup) {
	err := h.cmd.Wait()
	h.exitErr = err
	h.exitCode = h.cmd.ProcessState.ExitCode()
	close(h.exited)

	drained := make(chan struct{})
	go func() {
		drains.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(s.cfg.DrainTimeout):
		s.logger.Warn("Engine output still open after exit, killing process group", "pid", h.pid)
		_ = syscall.Kill(-h.pid, syscall.SIGKILL)
		closeAll(h.outputs...)
		<-drained
	}
	closeAll(h.outputs...)

	s.mu.Lock()
	if s.current == h {
		s.current = nil
		metrics.EngineUp.Set(0)
	}
	s.mu.Unlock()

	reason := "crash"
	switch {
	case h.stopRequested.Load():
		reason = "requested"
	case h.exitCode == 0:
		reason = "clean"
	}
	metrics.EngineExitsTotal.WithLabelValues(reason).Inc()
	s.logger.Info("Engine exited", "pid", h.pid, "code", h.exitCode, "reason", reason)

	close(h.done)
}

// Stop terminates h: SIGTERM, then SIGKILL after the grace period. It
// returns ErrStopTimeout when the engine had to be killed or outlived the
// kill timeout.
func (s *Supervisor) Stop(ctx context.Context, h *Handle) error {
	if !s.IsAlive(h) {
		return &SupervisorError{Kind: ErrNotRunning}
	}
	h.stopRequested.Store(true)

	s.logger.Info("Stopping engine", "pid", h.pid)
	s.signalGroup(h, syscall.SIGTERM)

	grace := time.NewTimer(s.cfg.GracePeriod)
	defer grace.Stop()

	var cause error
	select {
	case <-h.exited:
		<-h.done
		return nil
	case <-grace.C:
		cause = fmt.Errorf("grace period %s elapsed", s.cfg.GracePeriod)
	case <-ctx.Done():
		cause = ctx.Err()
	}

	s.logger.Warn("Engine did not stop gracefully, killing", "pid", h.pid)
	s.signalGroup(h, syscall.SIGKILL)

	kill := time.NewTimer(s.cfg.KillTimeout)
	defer kill.Stop()
	select {
	case <-h.exited:
		<-h.done
		return &SupervisorError{Kind: ErrStopTimeout, PID: h.pid, Detail: "killed", Err: cause}
	case <-kill.C:
		return &SupervisorError{Kind: ErrStopTimeout, PID: h.pid, Detail: "still running after kill", Err: cause}
	}
}

// signalGroup signals the engine's process group, falling back to the
// engine alone.
func (s *Supervisor) signalGroup(h *Handle, sig syscall.Signal) {
	err := syscall.Kill(-h.pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("Failed to signal engine", "pid", h.pid, "signal", sig, "error", err)
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

// RestartFunc spawns a replacement engine, typically after re-synthesizing
// its configuration.
type RestartFunc func(ctx context.Context) (*Handle, error)

// Supervise watches h until ctx is done or the engine exits for good. A
// requested stop or a zero exit code ends supervision without error.
func (s *Supervisor) Supervise(ctx context.Context, h *Handle, restart RestartFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.Done():
		}

		if h.stopRequested.Load() {
			return nil
		}
		code := h.ExitCode()
		if code == 0 {
			s.logger.Info("Engine finished", "pid", h.pid)
			return nil
		}

		if !s.cfg.RestartOnCrash {
			return &SupervisorError{
				Kind:   ErrUnexpectedExit,
				PID:    h.pid,
				Detail: fmt.Sprintf("exit code %d", code),
				Err:    h.exitErr,
			}
		}

		s.mu.Lock()
		crashes := s.window.record(time.Now())
		tripped := s.window.tripped(crashes)
		s.mu.Unlock()
		if tripped {
			return &SupervisorError{
				Kind:   ErrCrashLoop,
				PID:    h.pid,
				Detail: fmt.Sprintf("%d crashes within %s", crashes, s.cfg.CrashLoop.Window),
			}
		}

		delay := s.cfg.Backoff.Delay(crashes - 1)
		s.logger.Warn("Engine crashed, restarting",
			"pid", h.pid,
			"code", code,
			"crashes", crashes,
			"delay", delay,
		)
		if err := clock.SleepWithContext(ctx, delay); err != nil {
			return nil
		}

		next, err := restart(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		metrics.EngineRestartsTotal.Inc()
		h = next
	}
}

func (s *Supervisor) rustLog() string {
	if s.cfg.Verbose {
		return "info"
	}
	return "warn"
}

// locate resolves the engine binary: the configured path, the build output
// locations, then $PATH.
func (s *Supervisor) locate() (string, error) {
	if s.cfg.Binary != "" {
		if filepath.Base(s.cfg.Binary) == s.cfg.Binary {
			return exec.LookPath(s.cfg.Binary)
		}
		if _, err := os.Stat(s.cfg.Binary); err != nil {
			return "", err
		}
		return s.cfg.Binary, nil
	}
	for _, candidate := range binaryCandidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(EngineBinaryName)
	if err != nil {
		return "", fmt.Errorf("%s not found in ./target/release, ./target/debug, . or $PATH", EngineBinaryName)
	}
	return path, nil
}
