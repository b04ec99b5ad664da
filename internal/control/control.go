package control

import (
	"context"
	"errors"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/loader"
)

// ErrTrackerStalled is returned when status polling failed too many
// consecutive cycles.
var ErrTrackerStalled = errors.New("status tracker stalled")

// Source produces the record set a run synthesizes from.
type Source interface {
	// Mode names the source for logs and snapshots.
	Mode() string
	Load(ctx context.Context) (domain.RecordSet, error)
}

// Controller is what the control servers need from a running orchestrator.
type Controller interface {
	// Snapshot returns the latest status without polling.
	Snapshot() Snapshot
	// RequestStop asks the orchestrator to shut down and returns at once.
	RequestStop()
}

// HealthStatus summarises a snapshot.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
)

// Snapshot is the orchestrator state served by GET /status.
type Snapshot struct {
	RunID       string                 `json:"run_id"`
	Mode        string                 `json:"mode"`
	Status      HealthStatus           `json:"status"`
	EngineAlive bool                   `json:"engine_alive"`
	PID         int                    `json:"pid,omitempty"`
	StartedAt   time.Time              `json:"started_at,omitzero"`
	Restarts    int                    `json:"restarts"`
	Generation  string                 `json:"generation,omitempty"`
	ConfigDir   string                 `json:"config_dir"`
	DataDir     string                 `json:"data_dir"`
	Networks    []domain.NetworkStatus `json:"networks"`
}

// DatabaseSource loads one tenant's configuration.
type DatabaseSource struct {
	Loader  *loader.Loader
	Tenant  domain.TenantID
	Options loader.Options
}

func (s DatabaseSource) Mode() string { return "database" }

func (s DatabaseSource) Load(ctx context.Context) (domain.RecordSet, error) {
	return s.Loader.Load(ctx, s.Tenant, s.Options)
}

// FileSource loads static network files.
type FileSource struct {
	Loader  *loader.FileLoader
	Options loader.Options
}

func (s FileSource) Mode() string { return "file" }

func (s FileSource) Load(ctx context.Context) (domain.RecordSet, error) {
	return s.Loader.Load(ctx, s.Options)
}
