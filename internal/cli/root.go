// Package cli implements the blockwatcher command line.
package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/GPT012/pyoz-orchestrator/internal/core/config"
)

var (
	cfgPath     string
	isDebug     bool
	verbose     bool
	dbURL       string
	tenantID    string
	networks    []string
	storeBlocks bool
	useDatabase bool
	dataDir     string
	configDir   string
	sourceDir   string
	engineBin   string
)

var rootCmd = &cobra.Command{
	Use:   "blockwatcher",
	Short: "Blockchain monitor orchestrator",
	Long: `Blockwatcher loads monitor, network and trigger definitions from PostgreSQL
or from network files, synthesizes the monitoring engine's configuration,
runs the engine and reports on its block-processing progress.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with the code of its error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgPath, "config", config.DefaultPath, "application config file")
	flags.BoolVar(&isDebug, "debug", false, "enable debug logging")
	flags.BoolVar(&verbose, "verbose", false, "forward engine output and raise its log level")
	flags.StringVar(&dbURL, "db-url", "", "database URL (env DATABASE_URL)")
	flags.StringVar(&tenantID, "tenant-id", "", "tenant whose configuration is loaded (env TENANT_ID)")
	flags.StringSliceVar(&networks, "networks", nil, "comma-separated network slugs to run (default all)")
	flags.BoolVar(&storeBlocks, "store-blocks", false, "force store_blocks on every network")
	flags.BoolVar(&useDatabase, "use-database", false, "load configuration from the database")
	flags.StringVar(&dataDir, "data-dir", "", "engine data directory")
	flags.StringVar(&configDir, "config-dir", "", "synthesized engine configuration directory")
	flags.StringVar(&sourceDir, "source-dir", "", "network definitions directory for file mode")
	flags.StringVar(&engineBin, "engine-bin", "", "engine executable")
}

// loadConfig merges the config file, environment and flags, then sets up
// logging.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	_ = godotenv.Load()

	var (
		cfg *config.AppConfig
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(cfgPath)
	} else {
		cfg, err = config.LoadOrDefault(cfgPath)
	}
	if err != nil {
		stylelog.InitDefault()
		return nil, usageError(err)
	}

	applyOverrides(cmd, cfg)
	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

// applyOverrides layers flags over environment over the file.
func applyOverrides(cmd *cobra.Command, cfg *config.AppConfig) {
	flags := cmd.Flags()

	if useDatabase {
		cfg.Mode = config.ModeDatabase
	}
	switch {
	case flags.Changed("db-url"):
		cfg.Database.URL = dbURL
	case os.Getenv("DATABASE_URL") != "":
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	case cfg.Database.URL == "":
		cfg.Database.URL = config.DefaultDatabaseURL
	}
	switch {
	case flags.Changed("tenant-id"):
		cfg.TenantID = tenantID
	case os.Getenv("TENANT_ID") != "":
		cfg.TenantID = os.Getenv("TENANT_ID")
	}
	if flags.Changed("networks") {
		cfg.Networks = networks
	}
	if storeBlocks {
		cfg.Engine.StoreBlocks = true
	}
	if verbose {
		cfg.Engine.Verbose = true
	}
	if dataDir != "" {
		cfg.Paths.DataDir = dataDir
	}
	if configDir != "" {
		cfg.Paths.ConfigDir = configDir
	}
	if sourceDir != "" {
		cfg.Paths.SourceDir = sourceDir
	}
	if engineBin != "" {
		cfg.Engine.Binary = engineBin
	}
}

func setupLogging(cfg *config.AppConfig) {
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
}
