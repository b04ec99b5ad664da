package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/GPT012/pyoz-orchestrator/internal/core/config"
	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/engine/tracker"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-network engine progress",
	Long: `Status asks the running orchestrator first, then falls back to the snapshot
shared in Redis, then reads the engine's data directory directly.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the JSON shape of `status --json`.
type statusReport struct {
	Source   string                 `json:"source"`
	Networks []domain.NetworkStatus `json:"networks"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	report, err := collectStatus(context.Background(), cfg)
	if err != nil {
		return err
	}
	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(os.Stdout, report)
	return nil
}

func collectStatus(ctx context.Context, cfg *config.AppConfig) (statusReport, error) {
	snap, err := fetchSnapshot(ctx, cfg)
	if err == nil {
		return statusReport{Source: "orchestrator", Networks: snap.Networks}, nil
	}
	slog.Debug("Orchestrator not reachable", "error", err)

	if client := openRedis(ctx, cfg); client != nil {
		defer client.Close()
		statuses, found, err := client.LoadStatus(ctx, scope(cfg))
		switch {
		case err != nil:
			slog.Warn("Failed to read status from Redis", "error", err)
		case found:
			return statusReport{Source: "redis", Networks: statuses}, nil
		}
	}

	slugs := cfg.Networks
	if len(slugs) == 0 {
		slugs, err = tracker.Discover(cfg.Paths.DataDir)
		if err != nil {
			return statusReport{}, fmt.Errorf("list data dir: %w", err)
		}
	}
	trk := tracker.New(tracker.Config{
		DataDir:       cfg.Paths.DataDir,
		RetryDelay:    cfg.Status.RetryDelay,
		MissedHistory: cfg.Status.MissedHistory,
	}, slog.Default())
	statuses, err := trk.Poll(ctx, slugs)
	if err != nil {
		slog.Warn("Some networks could not be read", "error", err)
	}
	if statuses == nil {
		statuses = []domain.NetworkStatus{}
	}
	return statusReport{Source: "data_dir", Networks: statuses}, nil
}

func printStatus(out io.Writer, report statusReport) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "NETWORK\tLAST BLOCK\tPROCESSED\tGAPS\tDUPLICATES\tENGINE MISSED\tUPDATED")
	for _, s := range report.Networks {
		block := "none"
		if s.Started() {
			block = strconv.FormatUint(*s.LastProcessedBlock, 10)
		}
		updated := "-"
		if !s.LastObserved.IsZero() {
			updated = s.LastObserved.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			s.Network, block, s.BlocksProcessed, s.GapCount, s.DuplicateCount, s.EngineMissedBlocks, updated)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(out, "source: %s\n", report.Source)
}
