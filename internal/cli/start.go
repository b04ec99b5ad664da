package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/GPT012/pyoz-orchestrator/internal/control"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/supervisor"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/synth"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/tracker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Synthesize the engine configuration and run the engine",
	Long: `Start loads configuration (from the database with --use-database, otherwise
from <source-dir>/networks/*.json), writes the engine configuration, runs the
engine under supervision and reports its progress until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// A signal cancels ctx at any point, including while Start is still
	// loading or synthesizing, so no engine is spawned after it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	dir, cleanup, err := resolveConfigDir(cfg)
	if err != nil {
		return fmt.Errorf("create temporary config dir: %w", err)
	}
	defer cleanup()

	synthesizer, err := synth.New(dir, slog.Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	redis := openRedis(ctx, cfg)
	if redis != nil {
		defer redis.Close()
	}

	app := control.New(
		control.Config{
			Scope:                  scope(cfg),
			DataDir:                cfg.Paths.DataDir,
			RemoveConfigOnStop:     cfg.TemporaryConfigDir(),
			PollInterval:           cfg.Status.PollInterval,
			MaxConsecutiveFailures: cfg.Status.MaxConsecutiveFailures,
			HTTPPort:               cfg.Server.Port,
			GRPCPort:               cfg.Server.GRPCPort,
		},
		source,
		synthesizer,
		supervisor.New(cfg.Engine.Config, nil, slog.Default()),
		tracker.New(tracker.Config{
			DataDir:       cfg.Paths.DataDir,
			RetryDelay:    cfg.Status.RetryDelay,
			MissedHistory: cfg.Status.MissedHistory,
		}, slog.Default()),
		redis,
		slog.Default(),
	)

	if err := app.Start(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("Interrupted before the engine started", "error", err)
			return nil
		}
		return err
	}
	slog.Info("Orchestrator started",
		"run_id", app.RunID(),
		"mode", cfg.Mode,
		"config_dir", synthesizer.Path(),
		"data_dir", cfg.Paths.DataDir,
		"port", cfg.Server.Port,
	)

	select {
	case <-app.Done():
		return app.Wait()
	case <-ctx.Done():
		slog.Info("Received signal, shutting down...")
	}
	// Restore default handling so a second signal terminates immediately.
	stop()

	timeout := cfg.Engine.GracePeriod + cfg.Engine.KillTimeout + 5*time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Orchestrator stopped gracefully")
	return nil
}
