package control

import (
	"log/slog"
	"sync"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
)

// reporter turns successive status snapshots into progress logs.
type reporter struct {
	log *slog.Logger

	mu   sync.Mutex
	last map[string]domain.NetworkStatus
}

func newReporter(logger *slog.Logger) *reporter {
	return &reporter{
		log:  logger,
		last: make(map[string]domain.NetworkStatus),
	}
}

// observe logs advances and new gaps against the previous snapshot.
func (r *reporter) observe(statuses []domain.NetworkStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range statuses {
		prev, seen := r.last[s.Network]
		r.last[s.Network] = s

		if !s.Started() {
			continue
		}
		var prevBlock uint64
		if seen && prev.Started() {
			prevBlock = *prev.LastProcessedBlock
		}
		if !seen || !prev.Started() || *s.LastProcessedBlock > prevBlock {
			attrs := []any{
				"network", s.Network,
				"block", *s.LastProcessedBlock,
				"total", s.BlocksProcessed,
			}
			if prevBlock > 0 {
				attrs = append(attrs, "delta", *s.LastProcessedBlock-prevBlock)
			}
			r.log.Info("Block processed", attrs...)
		}

		if s.GapCount > prev.GapCount {
			r.log.Warn("Gap detected",
				"network", s.Network,
				"new_missed", s.GapCount-prev.GapCount,
				"total_missed", s.GapCount,
			)
		}
		if s.EngineMissedBlocks > prev.EngineMissedBlocks {
			r.log.Warn("Engine reported missed blocks",
				"network", s.Network,
				"count", s.EngineMissedBlocks,
			)
		}
	}
}

// final logs per-network statistics at shutdown.
func (r *reporter) final(statuses []domain.NetworkStatus) {
	for _, s := range statuses {
		if !s.Started() {
			r.log.Info("Final statistics", "network", s.Network, "blocks_processed", 0)
			continue
		}
		r.log.Info("Final statistics",
			"network", s.Network,
			"blocks_processed", s.BlocksProcessed,
			"last_block", *s.LastProcessedBlock,
			"last_update", s.LastObserved,
			"gaps", s.GapCount,
			"duplicates", s.DuplicateCount,
			"engine_missed", s.EngineMissedBlocks,
		)
	}
}
