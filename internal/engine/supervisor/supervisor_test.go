package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is the fake engine. It only runs when re-executed by
// helperConfig.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	switch os.Getenv("HELPER_MODE") {
	case "sleep":
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGTERM)
		fmt.Println("ready")
		fmt.Fprintln(os.Stderr, "WARN rpc endpoint slow")
		<-term
		os.Exit(0)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
		time.Sleep(time.Hour)
	case "crash":
		fmt.Fprintln(os.Stderr, "ERROR panicked")
		os.Exit(3)
	case "orphan":
		child := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
		child.Env = append(os.Environ(), "HELPER_MODE=linger")
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		_ = child.Start()
		os.Exit(3)
	case "linger":
		time.Sleep(6 * time.Second)
	case "env":
		fmt.Println("CONFIG_DIR=" + os.Getenv("CONFIG_DIR"))
		fmt.Println("LOG_DATA_DIR=" + os.Getenv("LOG_DATA_DIR"))
		fmt.Println("RUST_LOG=" + os.Getenv("RUST_LOG"))
	}
	os.Exit(0)
}

func helperConfig(mode string) Config {
	return Config{
		Binary:      os.Args[0],
		Args:        []string{"-test.run=TestHelperProcess"},
		Env:         []string{"GO_WANT_HELPER_PROCESS=1", "HELPER_MODE=" + mode},
		GracePeriod: 2 * time.Second,
		KillTimeout: 2 * time.Second,
		Backoff:     Backoff{Initial: time.Millisecond, Max: 5 * time.Millisecond},
		CrashLoop:   CrashLoop{Threshold: 3, Window: time.Minute},
	}
}

type recorder struct {
	mu    sync.Mutex
	lines []string
	ready chan struct{}
	once  sync.Once
}

func newRecorder() *recorder {
	return &recorder{ready: make(chan struct{})}
}

func (r *recorder) sink(stream, line string) {
	r.mu.Lock()
	r.lines = append(r.lines, stream+": "+line)
	r.mu.Unlock()
	if line == "ready" {
		r.once.Do(func() { close(r.ready) })
	}
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func (r *recorder) waitReady(t *testing.T) {
	t.Helper()
	select {
	case <-r.ready:
	case <-time.After(10 * time.Second):
		t.Fatal("helper process never became ready")
	}
}

func TestStart_PassesEnvironment(t *testing.T) {
	rec := newRecorder()
	cfg := helperConfig("env")
	cfg.Verbose = true
	s := New(cfg, rec.sink, nil)

	h, err := s.Start(context.Background(), "/etc/engine", "/var/engine")
	require.NoError(t, err)
	assert.Equal(t, 0, h.ExitCode())

	assert.Equal(t, []string{
		"stdout: CONFIG_DIR=/etc/engine",
		"stdout: LOG_DATA_DIR=/var/engine",
		"stdout: RUST_LOG=info",
	}, rec.all())
	assert.Nil(t, s.Current())
}

func TestStart_AlreadyRunning(t *testing.T) {
	rec := newRecorder()
	s := New(helperConfig("sleep"), rec.sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	rec.waitReady(t)
	assert.True(t, s.IsAlive(h))
	assert.Same(t, h, s.Current())

	_, err = s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, s.Stop(context.Background(), h))
	assert.False(t, s.IsAlive(h))
	assert.Contains(t, rec.all(), "stderr: WARN rpc endpoint slow")
}

func TestStart_SpawnFailure(t *testing.T) {
	cfg := helperConfig("sleep")
	cfg.Binary = "/nonexistent/openzeppelin-monitor"
	s := New(cfg, nil, nil)

	_, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.ErrorIs(t, err, ErrSpawnFailure)
	assert.Nil(t, s.Current())
}

func TestStop_NotRunning(t *testing.T) {
	s := New(helperConfig("env"), newRecorder().sink, nil)

	require.ErrorIs(t, s.Stop(context.Background(), nil), ErrNotRunning)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	<-h.Done()
	require.ErrorIs(t, s.Stop(context.Background(), h), ErrNotRunning)
}

func TestStop_KillsAfterGracePeriod(t *testing.T) {
	rec := newRecorder()
	cfg := helperConfig("ignore-term")
	cfg.GracePeriod = 100 * time.Millisecond
	s := New(cfg, rec.sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	rec.waitReady(t)

	start := time.Now()
	err = s.Stop(context.Background(), h)
	require.ErrorIs(t, err, ErrStopTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, s.IsAlive(h))
	assert.Equal(t, -1, h.ExitCode())
}

func TestHandle_ExitDetectedWhileDescendantHoldsOutput(t *testing.T) {
	cfg := helperConfig("orphan")
	cfg.DrainTimeout = 200 * time.Millisecond
	s := New(cfg, newRecorder().sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return !s.IsAlive(h) }, 2*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.ErrorIs(t, s.Stop(context.Background(), h), ErrNotRunning)
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("handle not done after drain timeout")
	}
	assert.Equal(t, 3, h.ExitCode())
	assert.Nil(t, s.Current())
}

func TestSupervise_RestartsWhileDescendantHoldsOutput(t *testing.T) {
	cfg := helperConfig("orphan")
	cfg.DrainTimeout = 200 * time.Millisecond
	cfg.RestartOnCrash = true
	s := New(cfg, newRecorder().sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)

	errRestarted := errors.New("restarted")
	start := time.Now()
	err = s.Supervise(context.Background(), h, func(context.Context) (*Handle, error) {
		return nil, errRestarted
	})
	require.ErrorIs(t, err, errRestarted)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestSupervise_CrashLoop(t *testing.T) {
	cfg := helperConfig("crash")
	cfg.RestartOnCrash = true
	s := New(cfg, newRecorder().sink, nil)

	var spawns atomic.Int32
	start := func(ctx context.Context) (*Handle, error) {
		spawns.Add(1)
		return s.Start(ctx, os.TempDir(), os.TempDir())
	}

	h, err := start(context.Background())
	require.NoError(t, err)

	err = s.Supervise(context.Background(), h, start)
	require.ErrorIs(t, err, ErrCrashLoop)
	assert.Equal(t, int32(3), spawns.Load())
	assert.Nil(t, s.Current())
}

func TestSupervise_UnexpectedExitWithoutRestart(t *testing.T) {
	s := New(helperConfig("crash"), newRecorder().sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)

	err = s.Supervise(context.Background(), h, func(context.Context) (*Handle, error) {
		t.Fatal("restart must not be called")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrUnexpectedExit)
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestSupervise_CleanExit(t *testing.T) {
	cfg := helperConfig("env")
	cfg.RestartOnCrash = true
	s := New(cfg, newRecorder().sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)

	err = s.Supervise(context.Background(), h, func(context.Context) (*Handle, error) {
		t.Fatal("restart must not be called")
		return nil, nil
	})
	require.NoError(t, err)
}

func TestSupervise_RequestedStop(t *testing.T) {
	rec := newRecorder()
	cfg := helperConfig("sleep")
	cfg.RestartOnCrash = true
	s := New(cfg, rec.sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)
	rec.waitReady(t)

	done := make(chan error, 1)
	go func() {
		done <- s.Supervise(context.Background(), h, func(context.Context) (*Handle, error) {
			return nil, fmt.Errorf("unexpected restart")
		})
	}()

	require.NoError(t, s.Stop(context.Background(), h))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervise did not return after stop")
	}
}

func TestSupervise_BackoffInterruptedByCancel(t *testing.T) {
	cfg := helperConfig("crash")
	cfg.RestartOnCrash = true
	cfg.Backoff = Backoff{Initial: time.Hour, Max: time.Hour}
	s := New(cfg, newRecorder().sink, nil)

	h, err := s.Start(context.Background(), t.TempDir(), t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	err = s.Supervise(ctx, h, func(context.Context) (*Handle, error) {
		t.Fatal("restart must not be called")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDrain_TruncatesLongLines(t *testing.T) {
	long := strings.Repeat("a", 2*MaxLineBytes)
	input := long + "\nnext\n\ntrailing"

	var lines []string
	drain(strings.NewReader(input), "stdout", func(_, line string) {
		lines = append(lines, line)
	})

	require.Len(t, lines, 3)
	assert.Len(t, lines[0], MaxLineBytes)
	assert.Equal(t, "next", lines[1])
	assert.Equal(t, "trailing", lines[2])
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 2 * time.Second, Max: 60 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{4, 32 * time.Second},
		{5, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestCrashWindow_ForgetsOldCrashes(t *testing.T) {
	w := crashWindow{policy: CrashLoop{Threshold: 3, Window: time.Minute}}
	base := time.Now()

	assert.Equal(t, 1, w.record(base))
	assert.Equal(t, 2, w.record(base.Add(10*time.Second)))
	assert.Equal(t, 2, w.record(base.Add(65*time.Second)))
	assert.False(t, w.tripped(2))
	assert.True(t, w.tripped(3))
}
