package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/metrics"
)

// Placeholder addresses of the file-mode monitors. They never match a real
// contract, so the engine only walks blocks.
const (
	BlockwatcherEVMAddress     = "0x0000000000000000000000000000000000000000"
	BlockwatcherStellarAddress = "GAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAWHF"
)

// FileLoader reads engine-format network files from <SourceDir>/networks.
type FileLoader struct {
	SourceDir string
	logger    *slog.Logger
}

// NewFileLoader creates a loader for file mode.
func NewFileLoader(sourceDir string, logger *slog.Logger) *FileLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLoader{SourceDir: sourceDir, logger: logger}
}

type networkFile struct {
	Name               string          `json:"name"`
	Slug               string          `json:"slug"`
	NetworkType        string          `json:"network_type"`
	ChainID            *int64          `json:"chain_id"`
	NetworkPassphrase  *string         `json:"network_passphrase"`
	RPCURLs            json.RawMessage `json:"rpc_urls"`
	BlockTimeMs        *int64          `json:"block_time_ms"`
	ConfirmationBlocks uint64          `json:"confirmation_blocks"`
	CronSchedule       string          `json:"cron_schedule"`
	MaxPastBlocks      *uint64         `json:"max_past_blocks"`
	StoreBlocks        bool            `json:"store_blocks"`
}

// Load reads the network files and pairs them with one block-walking monitor
// per chain kind. File mode has no triggers.
func (l *FileLoader) Load(ctx context.Context, opts Options) (domain.RecordSet, error) {
	start := time.Now()
	set, err := l.load(ctx, opts)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ConfigLoadDuration.WithLabelValues("file", status).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.RecordSet{}, err
	}

	l.logger.Info("Loaded configuration from files",
		"dir", l.SourceDir,
		"networks", len(set.Networks),
		"monitors", len(set.Monitors),
	)
	return set, nil
}

func (l *FileLoader) load(ctx context.Context, opts Options) (domain.RecordSet, error) {
	dir := filepath.Join(l.SourceDir, "networks")
	if _, err := os.Stat(dir); err != nil {
		return domain.RecordSet{}, newLoadError(ErrNoNetworks, "directory", dir, err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return domain.RecordSet{}, newLoadError(ErrNoNetworks, "directory", dir, err)
	}
	sort.Strings(paths)

	var all []domain.NetworkConfig
	known := make(map[string]bool, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return domain.RecordSet{}, err
		}
		n, err := readNetworkFile(path)
		if err != nil {
			l.logger.Warn("Skipping network file", "path", path, "error", err)
			continue
		}
		if known[n.Slug] {
			return domain.RecordSet{}, invalidf("network", n.Slug, "duplicate slug in %s", path)
		}
		known[n.Slug] = true
		all = append(all, n)
	}

	selected := make(map[string]bool, len(opts.Networks))
	for _, slug := range opts.Networks {
		if !known[slug] {
			return domain.RecordSet{}, newLoadError(ErrUnknownNetwork, "network", slug, nil)
		}
		selected[slug] = true
	}

	var set domain.RecordSet
	for _, n := range all {
		if len(selected) > 0 && !selected[n.Slug] {
			continue
		}
		if opts.StoreBlocks {
			n.StoreBlocks = true
		}
		set.Networks = append(set.Networks, n)
	}
	if len(set.Networks) == 0 {
		return domain.RecordSet{}, newLoadError(ErrNoNetworks, "directory", dir, nil)
	}

	set.Monitors = blockwatcherMonitors(set.Networks)
	return set, nil
}

func readNetworkFile(path string) (domain.NetworkConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.NetworkConfig{}, err
	}
	var f networkFile
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.NetworkConfig{}, err
	}
	if f.Slug == "" {
		f.Slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	n := domain.NetworkConfig{
		Name:               f.Name,
		Slug:               f.Slug,
		Kind:               domain.ChainKind(f.NetworkType),
		ChainID:            f.ChainID,
		BlockTimeMs:        f.BlockTimeMs,
		ConfirmationBlocks: f.ConfirmationBlocks,
		CronSchedule:       f.CronSchedule,
		MaxPastBlocks:      f.MaxPastBlocks,
		StoreBlocks:        f.StoreBlocks,
	}
	if f.NetworkPassphrase != nil {
		n.NetworkPassphrase = *f.NetworkPassphrase
	}
	if !n.Kind.Valid() {
		return n, fmt.Errorf("unsupported network_type %q", f.NetworkType)
	}
	n.RPCURLs, err = parseRPCURLs(f.RPCURLs)
	if err != nil {
		return n, err
	}
	return n, nil
}

func blockwatcherMonitors(networks []domain.NetworkConfig) []domain.MonitorConfig {
	var evm, stellar []string
	for _, n := range networks {
		switch n.Kind {
		case domain.ChainKindEVM:
			evm = append(evm, n.Slug)
		case domain.ChainKindStellar:
			stellar = append(stellar, n.Slug)
		}
	}

	var out []domain.MonitorConfig
	if len(evm) > 0 {
		out = append(out, blockwatcherMonitor("blockwatcher_evm", evm, BlockwatcherEVMAddress))
	}
	if len(stellar) > 0 {
		out = append(out, blockwatcherMonitor("blockwatcher_stellar", stellar, BlockwatcherStellarAddress))
	}
	return out
}

func blockwatcherMonitor(name string, networks []string, address string) domain.MonitorConfig {
	addresses, _ := json.Marshal([]map[string]string{{"address": address}})
	return domain.MonitorConfig{
		Name:      name,
		Networks:  networks,
		Addresses: addresses,
		MatchConditions: domain.MatchConditions{
			Functions:    json.RawMessage(`[]`),
			Events:       json.RawMessage(`[]`),
			Transactions: json.RawMessage(`[{"status":"Success","expression":null}]`),
		},
		TriggerConditions: json.RawMessage(`[]`),
		Triggers:          []string{},
	}
}
