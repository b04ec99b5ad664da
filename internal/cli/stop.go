package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running orchestrator to shut down",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := requestStop(context.Background(), cfg); err != nil {
		return err
	}
	slog.Info("Stop requested", "port", cfg.Server.Port)
	return nil
}
