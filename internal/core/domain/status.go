package domain

import "time"

// NetworkStatus is a derived view of the engine's progress on one network.
// The engine's files stay authoritative.
type NetworkStatus struct {
	Network            string  `json:"network"`
	LastProcessedBlock *uint64 `json:"last_processed_block"`
	// BlocksProcessed counts blocks since the first observed marker.
	BlocksProcessed    uint64    `json:"blocks_processed"`
	MissedBlocks       []uint64  `json:"missed_blocks"`
	GapCount           uint64    `json:"gap_count"`
	DuplicateCount     uint64    `json:"duplicate_count"`
	EngineMissedBlocks int       `json:"engine_missed_blocks"`
	StoredBlockFiles   int       `json:"stored_block_files"`
	LastObserved       time.Time `json:"last_observed,omitzero"`
}

// Started reports whether the engine has written a marker for the network.
func (s NetworkStatus) Started() bool {
	return s.LastProcessedBlock != nil
}
