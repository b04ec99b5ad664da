package config

import (
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/engine/supervisor"
	redisclient "github.com/GPT012/pyoz-orchestrator/internal/infra/redis"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage/postgres"
)

// Configuration source modes.
const (
	ModeDatabase = "database"
	ModeFile     = "file"
)

// DefaultConfigDir is used in database mode when no config_dir is set.
// File mode synthesizes into a temporary directory instead.
const DefaultConfigDir = "config"

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Mode     string             `yaml:"mode"` // database, file
	TenantID string             `yaml:"tenant_id"`
	Networks []string           `yaml:"networks"`
	Database postgres.Config    `yaml:"database"`
	Paths    PathsConfig        `yaml:"paths"`
	Engine   EngineConfig       `yaml:"engine"`
	Status   StatusConfig       `yaml:"status"`
	Server   ServerConfig       `yaml:"server"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// PathsConfig holds the directories shared with the engine.
type PathsConfig struct {
	ConfigDir string `yaml:"config_dir"` // synthesized engine config, see DefaultConfigDir
	SourceDir string `yaml:"source_dir"` // file mode network definitions
	DataDir   string `yaml:"data_dir"`   // engine output
}

// EngineConfig holds engine process settings.
type EngineConfig struct {
	supervisor.Config `yaml:",inline"`
	StoreBlocks       bool `yaml:"store_blocks"`
}

// StatusConfig holds status polling settings.
type StatusConfig struct {
	PollInterval           time.Duration `yaml:"poll_interval"`
	RetryDelay             time.Duration `yaml:"retry_delay"`
	MissedHistory          int           `yaml:"missed_history"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
}

// ServerConfig holds control server settings. A zero port disables the
// listener.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
