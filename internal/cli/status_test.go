package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GPT012/pyoz-orchestrator/internal/core/config"
)

func TestCollectStatusFallsBackToDataDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ethereum_mainnet_last_block.txt"), []byte("100\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stellar_mainnet_missed_blocks.txt"), []byte("7\n8\n"), 0o644))

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Paths.DataDir = dir
	cfg.Networks = []string{"ethereum_mainnet", "stellar_mainnet"}

	report, err := collectStatus(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "data_dir", report.Source)
	require.Len(t, report.Networks, 2)
	require.NotNil(t, report.Networks[0].LastProcessedBlock)
	assert.EqualValues(t, 100, *report.Networks[0].LastProcessedBlock)
	assert.Nil(t, report.Networks[1].LastProcessedBlock)
	assert.Equal(t, 2, report.Networks[1].EngineMissedBlocks)

	var out bytes.Buffer
	printStatus(&out, report)
	assert.Contains(t, out.String(), "ethereum_mainnet")
	assert.Contains(t, out.String(), "100")
	assert.Contains(t, out.String(), "none")
	assert.Contains(t, out.String(), "source: data_dir")
}

func TestCollectStatusDiscoversNetworks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polygon_mainnet_last_block.txt"), []byte("5"), 0o644))

	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Paths.DataDir = dir

	report, err := collectStatus(context.Background(), cfg)
	require.NoError(t, err)
	require.Len(t, report.Networks, 1)
	assert.Equal(t, "polygon_mainnet", report.Networks[0].Network)
}

func TestScope(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, fileScope, scope(cfg))

	cfg.Mode = config.ModeDatabase
	cfg.TenantID = "A0EEBC99-9C0B-4EF8-BB6D-6BB9BD380A11"
	assert.Equal(t, "a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11", scope(cfg))
}
