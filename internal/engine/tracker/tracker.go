// Package tracker derives per-network progress from the files the engine
// writes into its data directory. It never writes there.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/clock"
	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/metrics"
)

// Config controls polling behaviour.
type Config struct {
	DataDir string
	// RetryDelay separates the two reads of a torn marker.
	RetryDelay time.Duration
	// MissedHistory caps the remembered missed blocks per network.
	MissedHistory int
}

type networkState struct {
	first       *uint64
	last        *uint64
	lastModTime time.Time
	missed      []uint64
	gaps        uint64
	duplicates  uint64
}

// Tracker keeps gap-detection memory between polls.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	poll sync.Mutex

	mu       sync.Mutex
	states   map[string]*networkState
	snapshot []domain.NetworkStatus
}

// New creates a tracker over cfg.DataDir.
func New(cfg Config, logger *slog.Logger) *Tracker {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 50 * time.Millisecond
	}
	if cfg.MissedHistory <= 0 {
		cfg.MissedHistory = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*networkState),
	}
}

// Snapshot returns the result of the latest completed poll.
func (t *Tracker) Snapshot() []domain.NetworkStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneStatuses(t.snapshot)
}

// Poll reads the engine files of every slug. Networks whose marker cannot
// be parsed keep their previous state and contribute a *TrackerError to
// the joined error. A Poll issued while another runs returns the latest
// snapshot and ErrPollInProgress.
func (t *Tracker) Poll(ctx context.Context, slugs []string) ([]domain.NetworkStatus, error) {
	if !t.poll.TryLock() {
		return t.Snapshot(), ErrPollInProgress
	}
	defer t.poll.Unlock()

	start := time.Now()
	defer func() {
		metrics.PollDuration.Observe(time.Since(start).Seconds())
	}()

	blocks := scanBlockFiles(t.cfg.DataDir, slugs)
	statuses := make([]domain.NetworkStatus, 0, len(slugs))
	var errs []error

	for _, slug := range slugs {
		if err := ctx.Err(); err != nil {
			return t.Snapshot(), err
		}
		status, err := t.pollNetwork(ctx, slug, blocks[slug])
		if err != nil {
			errs = append(errs, err)
		}
		statuses = append(statuses, status)
	}

	t.mu.Lock()
	t.snapshot = statuses
	t.mu.Unlock()

	err := errors.Join(errs...)
	if err != nil {
		metrics.PollErrorsTotal.Inc()
	}
	return cloneStatuses(statuses), err
}

func (t *Tracker) pollNetwork(ctx context.Context, slug string, bf blockFiles) (domain.NetworkStatus, error) {
	status := domain.NetworkStatus{
		Network:          slug,
		StoredBlockFiles: bf.count,
		LastObserved:     bf.newest,
	}

	var errs []error
	missedLines, missedMod, err := countLines(MissedBlocksFile(t.cfg.DataDir, slug))
	if err != nil {
		errs = append(errs, &TrackerError{Network: slug, Err: err})
	}
	status.EngineMissedBlocks = missedLines
	if missedMod.After(status.LastObserved) {
		status.LastObserved = missedMod
	}

	block, modTime, found, err := t.readMarker(ctx, slug)
	if err != nil {
		errs = append(errs, err)
	}

	t.mu.Lock()
	state := t.state(slug)
	if found && err == nil {
		t.observe(slug, state, block, modTime)
	}
	if state.last != nil {
		last := *state.last
		status.LastProcessedBlock = &last
		status.BlocksProcessed = last - *state.first
	}
	status.MissedBlocks = append([]uint64{}, state.missed...)
	status.GapCount = state.gaps
	status.DuplicateCount = state.duplicates
	if state.lastModTime.After(status.LastObserved) {
		status.LastObserved = state.lastModTime
	}
	t.mu.Unlock()

	if status.LastProcessedBlock != nil {
		metrics.LastProcessedBlock.WithLabelValues(slug).Set(float64(*status.LastProcessedBlock))
	}
	metrics.GapBlocksTotal.WithLabelValues(slug).Set(float64(status.GapCount))
	metrics.DuplicateMarkers.WithLabelValues(slug).Set(float64(status.DuplicateCount))
	metrics.EngineMissedBlocks.WithLabelValues(slug).Set(float64(status.EngineMissedBlocks))

	return status, errors.Join(errs...)
}

func (t *Tracker) state(slug string) *networkState {
	s, ok := t.states[slug]
	if !ok {
		s = &networkState{}
		t.states[slug] = s
	}
	return s
}

// observe applies one marker reading. A reading with the same value and
// the same mtime as the previous one is not a new observation. Any other
// non-increasing reading counts as a duplicate and becomes the last block.
func (t *Tracker) observe(slug string, s *networkState, block uint64, modTime time.Time) {
	defer func() { s.lastModTime = modTime }()

	if s.last == nil {
		s.first = &block
		s.last = &block
		return
	}
	prev := *s.last
	switch {
	case block > prev+1:
		skipped := block - prev - 1
		s.gaps += skipped
		from := prev + 1
		if skipped > uint64(t.cfg.MissedHistory) {
			from = block - uint64(t.cfg.MissedHistory)
		}
		for b := from; b < block; b++ {
			s.missed = append(s.missed, b)
		}
		if over := len(s.missed) - t.cfg.MissedHistory; over > 0 {
			s.missed = append([]uint64(nil), s.missed[over:]...)
		}
		t.logger.Warn("Gap detected",
			"network", slug,
			"from", prev+1,
			"to", block-1,
			"skipped", skipped,
		)
		s.last = &block
	case block == prev+1:
		s.last = &block
	case block == prev && modTime.Equal(s.lastModTime):
		// unchanged since the previous poll
	default:
		// The engine rewound, so its marker is the new baseline.
		s.duplicates++
		t.logger.Debug("Non-increasing marker", "network", slug, "previous", prev, "block", block)
		s.last = &block
		if block < *s.first {
			s.first = &block
		}
	}
}

// readMarker reads <slug>_last_block.txt. An empty or unparsable marker is
// read once more after RetryDelay since the engine may be mid-write.
func (t *Tracker) readMarker(ctx context.Context, slug string) (uint64, time.Time, bool, error) {
	path := LastBlockFile(t.cfg.DataDir, slug)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := clock.SleepWithContext(ctx, t.cfg.RetryDelay); err != nil {
				return 0, time.Time{}, false, err
			}
		}

		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return 0, time.Time{}, false, nil
		}
		if err != nil {
			return 0, time.Time{}, false, &TrackerError{Network: slug, Err: err}
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return 0, time.Time{}, false, nil
		}
		if err != nil {
			return 0, time.Time{}, false, &TrackerError{Network: slug, Err: err}
		}

		text := strings.TrimSpace(string(data))
		block, err := strconv.ParseUint(text, 10, 64)
		if err == nil {
			return block, info.ModTime(), true, nil
		}
		lastErr = fmt.Errorf("%w: %q", ErrCorruptMarker, text)
	}
	return 0, time.Time{}, false, &TrackerError{Network: slug, Err: lastErr}
}

func cloneStatuses(in []domain.NetworkStatus) []domain.NetworkStatus {
	if in == nil {
		return nil
	}
	out := make([]domain.NetworkStatus, len(in))
	for i, s := range in {
		out[i] = s
		out[i].MissedBlocks = append([]uint64{}, s.MissedBlocks...)
		if s.LastProcessedBlock != nil {
			v := *s.LastProcessedBlock
			out[i].LastProcessedBlock = &v
		}
	}
	return out
}
