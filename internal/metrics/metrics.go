package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngineUp is 1 while an engine process is alive
	EngineUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockwatcher_engine_up",
			Help: "Whether the monitoring engine process is alive",
		},
	)

	// EngineStartsTotal tracks engine spawns, including restarts
	EngineStartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockwatcher_engine_starts_total",
			Help: "Total number of engine process spawns",
		},
	)

	// EngineRestartsTotal tracks crash-triggered restarts
	EngineRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockwatcher_engine_restarts_total",
			Help: "Total number of engine restarts after a crash",
		},
	)

	// EngineExitsTotal tracks engine exits by reason
	EngineExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockwatcher_engine_exits_total",
			Help: "Total number of engine exits",
		},
		[]string{"reason"},
	)

	// LastProcessedBlock tracks the engine's last processed block per network
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockwatcher_last_processed_block",
			Help: "Last block processed by the engine",
		},
		[]string{"network"},
	)

	// GapBlocksTotal tracks blocks skipped between consecutive markers
	GapBlocksTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockwatcher_gap_blocks",
			Help: "Total number of blocks skipped by the engine",
		},
		[]string{"network"},
	)

	// DuplicateMarkers tracks non-increasing marker observations
	DuplicateMarkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockwatcher_duplicate_markers",
			Help: "Number of non-increasing last-block observations",
		},
		[]string{"network"},
	)

	// EngineMissedBlocks tracks lines in the engine's own missed-block log
	EngineMissedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockwatcher_engine_missed_blocks",
			Help: "Missed blocks reported by the engine",
		},
		[]string{"network"},
	)

	// PollDuration tracks status poll latency
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockwatcher_poll_duration_seconds",
			Help:    "Status poll duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PollErrorsTotal tracks failed poll cycles
	PollErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "blockwatcher_poll_errors_total",
			Help: "Total number of status poll cycles with errors",
		},
	)

	// ArtifactsSynthesized tracks artifacts in the latest generation by kind
	ArtifactsSynthesized = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockwatcher_artifacts_synthesized",
			Help: "Artifacts written in the current configuration generation",
		},
		[]string{"kind"},
	)

	// ConfigLoadDuration tracks configuration load latency
	ConfigLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockwatcher_config_load_duration_seconds",
			Help:    "Configuration load duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode", "status"},
	)

	// DBConnectionPoolUsage tracks the DB connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockwatcher_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
