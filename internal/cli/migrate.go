package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GPT012/pyoz-orchestrator/internal/core/config"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the reference configuration schema to a development database",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	// Migrations only need the database, whatever the configured mode.
	useDatabase = true
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Mode = config.ModeDatabase

	ctx := context.Background()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.Close()
	}()

	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}
	slog.Info("Schema up to date")
	return nil
}
