// Package control composes loading, synthesis, supervision and status
// tracking into one run, and exposes it over HTTP and gRPC.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/supervisor"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/synth"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/tracker"
	redisclient "github.com/GPT012/pyoz-orchestrator/internal/infra/redis"
)

// Config holds orchestrator settings.
type Config struct {
	// Scope keys shared state such as the Redis snapshot: the tenant id in
	// database mode, "files" otherwise.
	Scope   string
	DataDir string
	// RemoveConfigOnStop deletes the synthesized configuration at shutdown.
	RemoveConfigOnStop bool

	PollInterval           time.Duration
	MaxConsecutiveFailures int

	HTTPPort int
	GRPCPort int
}

// Orchestrator owns one engine run.
type Orchestrator struct {
	cfg        Config
	source     Source
	synth      *synth.Synthesizer
	supervisor *supervisor.Supervisor
	tracker    *tracker.Tracker
	redis      *redisclient.Client
	log        *slog.Logger

	runID  string
	cancel context.CancelFunc
	done   chan struct{}
	result error

	mu         sync.Mutex
	started    bool
	slugs      []string
	generation string
	restarts   int
	failures   int

	reporter *reporter
	health   *GRPCHealth
}

// New creates an orchestrator. redis may be nil.
func New(
	cfg Config,
	source Source,
	synthesizer *synth.Synthesizer,
	sup *supervisor.Supervisor,
	trk *tracker.Tracker,
	redis *redisclient.Client,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 10
	}
	return &Orchestrator{
		cfg:        cfg,
		source:     source,
		synth:      synthesizer,
		supervisor: sup,
		tracker:    trk,
		redis:      redis,
		log:        logger,
		runID:      uuid.NewString(),
		done:       make(chan struct{}),
		reporter:   newReporter(logger),
		health:     NewGRPCHealth(),
	}
}

// RunID identifies this orchestrator instance.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Start loads and synthesizes the configuration, then spawns the engine.
// These steps run in order on the caller's goroutine; any failure aborts
// before an engine exists. Supervision, polling and the control servers
// then run in the background until ctx is done, Stop is called or the
// engine exits for good. Start is not reentrant.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return &supervisor.SupervisorError{Kind: supervisor.ErrAlreadyRunning, Detail: "orchestrator already started"}
	}
	o.started = true
	o.mu.Unlock()

	o.log.Info("Starting orchestrator", "run_id", o.runID, "mode", o.source.Mode(), "scope", o.cfg.Scope)

	if o.redis != nil {
		if err := o.redis.AcquireLock(ctx, o.cfg.Scope, o.runID); err != nil {
			if errors.Is(err, redisclient.ErrLockHeld) {
				err = &supervisor.SupervisorError{Kind: supervisor.ErrAlreadyRunning, Err: err}
			}
			o.finish(err)
			return err
		}
	}

	h, err := o.spawn(ctx)
	if err != nil {
		o.releaseLock()
		o.finish(err)
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	group, gctx := errgroup.WithContext(runCtx)

	group.Go(func() error {
		err := o.supervisor.Supervise(gctx, h, o.spawn)
		// Nothing left to supervise: end the run.
		cancel()
		return err
	})
	group.Go(func() error {
		return o.pollLoop(gctx)
	})
	if o.redis != nil {
		group.Go(func() error {
			o.refreshLock(gctx)
			return nil
		})
	}
	if o.cfg.HTTPPort > 0 {
		srv := NewServer(o, o.cfg.HTTPPort)
		group.Go(func() error {
			return serveUntilDone(gctx, srv.Start, srv.Stop)
		})
	}
	if o.cfg.GRPCPort > 0 {
		group.Go(func() error {
			return o.health.Serve(gctx, o.cfg.GRPCPort)
		})
	}

	go func() {
		err := group.Wait()
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		o.finish(errors.Join(err, o.shutdown()))
	}()
	return nil
}

// spawn loads, synthesizes and starts the engine. It is also the restart
// path, so a crashed engine comes back with the current configuration.
func (o *Orchestrator) spawn(ctx context.Context) (*supervisor.Handle, error) {
	set, err := o.source.Load(ctx)
	if err != nil {
		return nil, err
	}
	gen, err := o.synth.Synthesize(ctx, set)
	if err != nil {
		return nil, err
	}
	h, err := o.supervisor.Start(ctx, o.synth.Path(), o.cfg.DataDir)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.generation != "" {
		o.restarts++
	}
	o.slugs = set.NetworkSlugs()
	o.generation = gen.ID
	o.mu.Unlock()

	o.health.SetServing(true)
	return h, nil
}

// pollLoop polls the tracker on a fixed ticker. A tick that arrives while
// a poll runs is dropped by the ticker rather than queued.
func (o *Orchestrator) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := o.pollOnce(ctx); err != nil {
				return err
			}
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) error {
	o.mu.Lock()
	slugs := o.slugs
	o.mu.Unlock()

	// A stop lets the current poll finish.
	statuses, err := o.tracker.Poll(context.WithoutCancel(ctx), slugs)
	if errors.Is(err, tracker.ErrPollInProgress) {
		return nil
	}

	o.health.SetServing(o.supervisor.IsAlive(o.supervisor.Current()))

	o.mu.Lock()
	if err != nil {
		o.failures++
	} else {
		o.failures = 0
	}
	failures := o.failures
	o.mu.Unlock()

	if err != nil {
		o.log.Warn("Status poll failed", "error", err, "consecutive", failures)
		if failures >= o.cfg.MaxConsecutiveFailures {
			return fmt.Errorf("%w after %d cycles: %w", ErrTrackerStalled, failures, err)
		}
	}

	o.reporter.observe(statuses)
	if o.redis != nil {
		if err := o.redis.PublishStatus(ctx, o.cfg.Scope, statuses); err != nil {
			o.log.Warn("Failed to publish status", "error", err)
		}
	}
	return nil
}

func (o *Orchestrator) refreshLock(ctx context.Context) {
	ticker := time.NewTicker(o.redis.TTL() / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.redis.RefreshLock(ctx, o.cfg.Scope, o.runID); err != nil {
				o.log.Warn("Failed to refresh orchestrator lock", "error", err)
			}
		}
	}
}

// shutdown stops the engine and releases run resources.
func (o *Orchestrator) shutdown() error {
	o.log.Info("Stopping orchestrator...", "run_id", o.runID)

	var stopErr error
	if h := o.supervisor.Current(); o.supervisor.IsAlive(h) {
		// The engine gets its full grace period regardless of the caller.
		stopErr = o.supervisor.Stop(context.Background(), h)
	}
	o.health.SetServing(false)

	o.mu.Lock()
	slugs := o.slugs
	o.mu.Unlock()
	if statuses, err := o.tracker.Poll(context.Background(), slugs); err == nil || len(statuses) > 0 {
		o.reporter.observe(statuses)
	}
	o.reporter.final(o.tracker.Snapshot())

	if o.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.redis.PublishStatus(ctx, o.cfg.Scope, o.tracker.Snapshot()); err != nil {
			o.log.Warn("Failed to publish final status", "error", err)
		}
		cancel()
		o.releaseLock()
	}

	if o.cfg.RemoveConfigOnStop {
		if err := o.synth.Remove(); err != nil {
			o.log.Warn("Failed to remove temporary configuration", "path", o.synth.Path(), "error", err)
		}
	}
	return stopErr
}

func (o *Orchestrator) releaseLock() {
	if o.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.redis.ReleaseLock(ctx, o.cfg.Scope, o.runID); err != nil {
		o.log.Warn("Failed to release orchestrator lock", "error", err)
	}
}

func (o *Orchestrator) finish(err error) {
	o.result = err
	close(o.done)
}

// RequestStop begins shutdown without waiting.
func (o *Orchestrator) RequestStop() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stop shuts the run down and waits for it, or for ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.RequestStop()
	select {
	case <-o.done:
		return o.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the run has ended and returns its error, including a
// failed Start.
func (o *Orchestrator) Wait() error {
	<-o.done
	return o.result
}

// Done is closed once the run has ended.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// Snapshot implements Controller.
func (o *Orchestrator) Snapshot() Snapshot {
	h := o.supervisor.Current()
	alive := o.supervisor.IsAlive(h)

	o.mu.Lock()
	snap := Snapshot{
		RunID:       o.runID,
		Mode:        o.source.Mode(),
		EngineAlive: alive,
		Restarts:    o.restarts,
		Generation:  o.generation,
		ConfigDir:   o.synth.Path(),
		DataDir:     o.cfg.DataDir,
		Networks:    o.tracker.Snapshot(),
	}
	failures := o.failures
	o.mu.Unlock()

	if alive {
		snap.PID = h.PID()
		snap.StartedAt = h.StartedAt()
	}
	if snap.Networks == nil {
		snap.Networks = []domain.NetworkStatus{}
	}

	switch {
	case !alive:
		snap.Status = StatusCritical
	case failures > 0:
		snap.Status = StatusDegraded
	default:
		snap.Status = StatusHealthy
	}
	return snap
}

// serveUntilDone runs start until ctx is done, then calls stop.
func serveUntilDone(ctx context.Context, start func() error, stop func(context.Context) error) error {
	errCh := make(chan error, 1)
	go func() { errCh <- start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stop(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
