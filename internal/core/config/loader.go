package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/supervisor"
)

// DefaultPath is read when no --config flag is given. It may be absent.
const DefaultPath = "blockwatcher.yaml"

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	return &AppConfig{
		Mode:     ModeFile,
		TenantID: string(domain.DefaultTenant),
		Database: postgresDefaults(),
		Paths: PathsConfig{
			SourceDir: "config",
			DataDir:   "data",
		},
		Engine: EngineConfig{
			Config: supervisor.Config{
				GracePeriod:    10 * time.Second,
				KillTimeout:    5 * time.Second,
				RestartOnCrash: true,
				Backoff:        supervisor.DefaultBackoff(),
				CrashLoop:      supervisor.DefaultCrashLoop(),
			},
		},
		Status: StatusConfig{
			PollInterval:           time.Second,
			RetryDelay:             50 * time.Millisecond,
			MissedHistory:          1000,
			MaxConsecutiveFailures: 10,
		},
		Server:  ServerConfig{Port: 8090},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file on top of the defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*AppConfig, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// applyDefaults restores defaults for values a file explicitly zeroed.
func (c *AppConfig) applyDefaults() {
	d := Default()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.TenantID == "" {
		c.TenantID = d.TenantID
	}
	if c.Database.QueryTimeout == 0 {
		c.Database.QueryTimeout = d.Database.QueryTimeout
	}
	if c.Paths.SourceDir == "" {
		c.Paths.SourceDir = d.Paths.SourceDir
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = d.Paths.DataDir
	}
	if c.Engine.GracePeriod == 0 {
		c.Engine.GracePeriod = d.Engine.GracePeriod
	}
	if c.Engine.KillTimeout == 0 {
		c.Engine.KillTimeout = d.Engine.KillTimeout
	}
	if c.Engine.Backoff.Initial == 0 {
		c.Engine.Backoff.Initial = d.Engine.Backoff.Initial
	}
	if c.Engine.Backoff.Max == 0 {
		c.Engine.Backoff.Max = d.Engine.Backoff.Max
	}
	if c.Engine.CrashLoop.Threshold == 0 {
		c.Engine.CrashLoop.Threshold = d.Engine.CrashLoop.Threshold
	}
	if c.Engine.CrashLoop.Window == 0 {
		c.Engine.CrashLoop.Window = d.Engine.CrashLoop.Window
	}
	if c.Status.PollInterval == 0 {
		c.Status.PollInterval = d.Status.PollInterval
	}
	if c.Status.RetryDelay == 0 {
		c.Status.RetryDelay = d.Status.RetryDelay
	}
	if c.Status.MissedHistory == 0 {
		c.Status.MissedHistory = d.Status.MissedHistory
	}
	if c.Status.MaxConsecutiveFailures == 0 {
		c.Status.MaxConsecutiveFailures = d.Status.MaxConsecutiveFailures
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

// TemporaryConfigDir reports whether the run synthesizes into a
// throwaway directory: file mode with no configured config_dir.
func (c *AppConfig) TemporaryConfigDir() bool {
	return c.Mode == ModeFile && c.Paths.ConfigDir == ""
}

// Validate checks the settings a run depends on.
func (c *AppConfig) Validate() error {
	switch c.Mode {
	case ModeDatabase:
		if c.Database.URL == "" {
			return errors.New("database mode requires database.url (or --db-url / DATABASE_URL)")
		}
		if _, err := domain.ParseTenantID(c.TenantID); err != nil {
			return err
		}
	case ModeFile:
		if c.Paths.SourceDir == "" {
			return errors.New("file mode requires paths.source_dir")
		}
		if c.Paths.ConfigDir != "" && filepath.Clean(c.Paths.ConfigDir) == filepath.Clean(c.Paths.SourceDir) {
			return errors.New("paths.config_dir must differ from paths.source_dir in file mode")
		}
	default:
		return fmt.Errorf("unknown mode %q (want %s or %s)", c.Mode, ModeDatabase, ModeFile)
	}
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir is required")
	}
	if c.Status.PollInterval <= 0 {
		return errors.New("status.poll_interval must be positive")
	}
	return nil
}
