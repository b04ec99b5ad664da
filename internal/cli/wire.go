package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/GPT012/pyoz-orchestrator/internal/control"
	"github.com/GPT012/pyoz-orchestrator/internal/core/config"
	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/loader"
	redisclient "github.com/GPT012/pyoz-orchestrator/internal/infra/redis"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage/postgres"
)

// fileScope keys shared state of file-mode runs.
const fileScope = "files"

// scope names the run for the Redis snapshot and lock.
func scope(cfg *config.AppConfig) string {
	if cfg.Mode == config.ModeDatabase {
		if t, err := domain.ParseTenantID(cfg.TenantID); err == nil {
			return t.String()
		}
		return cfg.TenantID
	}
	return fileScope
}

func loadOptions(cfg *config.AppConfig) loader.Options {
	return loader.Options{
		Networks:        cfg.Networks,
		IncludeInactive: includeInactive,
		StoreBlocks:     cfg.Engine.StoreBlocks,
	}
}

// openSource builds the configured record source. The returned close
// function releases its connections.
func openSource(ctx context.Context, cfg *config.AppConfig) (control.Source, func(), error) {
	if cfg.Mode != config.ModeDatabase {
		fl := loader.NewFileLoader(cfg.Paths.SourceDir, slog.Default())
		return control.FileSource{Loader: fl, Options: loadOptions(cfg)}, func() {}, nil
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	metricsCtx, cancel := context.WithCancel(ctx)
	db.StartMetricsCollector(metricsCtx)

	src := control.DatabaseSource{
		Loader:  loader.New(postgres.NewConfigRepo(db), slog.Default()),
		Tenant:  domain.TenantID(cfg.TenantID),
		Options: loadOptions(cfg),
	}
	return src, func() {
		cancel()
		_ = db.Close()
	}, nil
}

func openDB(ctx context.Context, cfg *config.AppConfig) (*postgres.DB, error) {
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return nil, &loader.LoadError{Kind: loader.ErrConnectivity, Entity: "database", Err: err}
	}
	return db, nil
}

// openRedis connects when configured. Redis is optional: a failure is
// logged and the run continues without it.
func openRedis(ctx context.Context, cfg *config.AppConfig) *redisclient.Client {
	if cfg.Redis.URL == "" {
		return nil
	}
	client, err := redisclient.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Warn("Failed to connect to Redis, status sharing disabled", "error", err)
		return nil
	}
	return client
}

// resolveConfigDir returns the directory to synthesize into. File mode
// without a configured directory uses a temporary one, removed by the
// returned cleanup.
func resolveConfigDir(cfg *config.AppConfig) (string, func(), error) {
	if !cfg.TemporaryConfigDir() {
		dir := cfg.Paths.ConfigDir
		if dir == "" {
			dir = config.DefaultConfigDir
		}
		return dir, func() {}, nil
	}
	parent, err := os.MkdirTemp("", "blockwatcher-")
	if err != nil {
		return "", nil, err
	}
	return filepath.Join(parent, "config"), func() { _ = os.RemoveAll(parent) }, nil
}
