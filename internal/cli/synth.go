package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GPT012/pyoz-orchestrator/internal/engine/synth"
)

var (
	synthJSON       bool
	includeInactive bool
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Load and synthesize the engine configuration without running the engine",
	Args:  cobra.NoArgs,
	RunE:  runSynth,
}

func init() {
	synthCmd.Flags().BoolVar(&synthJSON, "json", false, "print the generation as JSON")
	synthCmd.Flags().BoolVar(&includeInactive, "include-inactive", false, "include inactive and paused monitors (database mode)")
	rootCmd.AddCommand(synthCmd)
}

func runSynth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.TemporaryConfigDir() {
		return usageError(errors.New("synth in file mode needs --config-dir"))
	}

	ctx := context.Background()
	source, closeSource, err := openSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	dir, _, err := resolveConfigDir(cfg)
	if err != nil {
		return err
	}
	synthesizer, err := synth.New(dir, slog.Default())
	if err != nil {
		return err
	}

	set, err := source.Load(ctx)
	if err != nil {
		return err
	}
	gen, err := synthesizer.Synthesize(ctx, set)
	if err != nil {
		return err
	}

	if synthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(gen)
	}
	state := "written"
	if gen.Unchanged {
		state = "unchanged"
	}
	fmt.Printf("generation %s %s at %s (%d networks, %d monitors, %d triggers)\n",
		gen.ID, state, gen.Path, gen.Networks, gen.Monitors, gen.Triggers)
	return nil
}
