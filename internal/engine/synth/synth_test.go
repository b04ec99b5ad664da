package synth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
)

func sampleSet() domain.RecordSet {
	chainID := int64(1)
	blockTime := int64(12000)
	return domain.RecordSet{
		Networks: []domain.NetworkConfig{{
			Name:               "Ethereum Mainnet",
			Slug:               "ethereum_mainnet",
			Kind:               domain.ChainKindEVM,
			ChainID:            &chainID,
			RPCURLs:            []domain.RPCEndpoint{{URL: "https://eth.example", Weight: 100}},
			BlockTimeMs:        &blockTime,
			ConfirmationBlocks: 12,
			CronSchedule:       "0 */1 * * * *",
		}},
		Monitors: []domain.MonitorConfig{{
			Name:      "usdc_transfers",
			Networks:  []string{"ethereum_mainnet"},
			Addresses: json.RawMessage(`[{"address":"0xa0b8"}]`),
			MatchConditions: domain.MatchConditions{
				Events: json.RawMessage(`[{"signature":"Transfer(address,address,uint256)"}]`),
			},
			Triggers: []string{"ops_hook"},
		}},
		Triggers: []domain.TriggerConfig{{
			ID:      "t1",
			Slug:    "ops_hook",
			Name:    "Ops hook",
			Kind:    domain.TriggerKindWebhook,
			Payload: json.RawMessage(`{"url":{"type":"plain","value":"https://hooks.example"},"method":"POST"}`),
		}},
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	files := map[string]string{}
	err = filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		data, err := os.ReadFile(p)
		files[filepath.ToSlash(rel)] = string(data)
		return err
	})
	require.NoError(t, err)
	return files
}

func TestRender_NetworkFormat(t *testing.T) {
	artifacts, err := Render(sampleSet())
	require.NoError(t, err)
	require.Len(t, artifacts, 3)

	assert.Equal(t, "monitors/usdc_transfers.json", artifacts[0].Path)
	assert.Equal(t, "networks/ethereum_mainnet.json", artifacts[1].Path)
	assert.Equal(t, "triggers/ops_hook.json", artifacts[2].Path)

	want := `{
  "name": "Ethereum Mainnet",
  "slug": "ethereum_mainnet",
  "network_type": "EVM",
  "chain_id": 1,
  "rpc_urls": [
    {
      "type_": "rpc",
      "url": {
        "type": "plain",
        "value": "https://eth.example"
      },
      "weight": 100
    }
  ],
  "block_time_ms": 12000,
  "confirmation_blocks": 12,
  "cron_schedule": "0 */1 * * * *",
  "store_blocks": false
}
`
	assert.Equal(t, want, string(artifacts[1].Data))
}

func TestRender_MonitorDefaultsAndTriggerWrapper(t *testing.T) {
	artifacts, err := Render(sampleSet())
	require.NoError(t, err)

	var monitor map[string]any
	require.NoError(t, json.Unmarshal(artifacts[0].Data, &monitor))
	assert.Equal(t, []any{}, monitor["trigger_conditions"])
	conds := monitor["match_conditions"].(map[string]any)
	assert.Equal(t, []any{}, conds["functions"])
	assert.Equal(t, []any{}, conds["transactions"])
	assert.Equal(t, []any{"ops_hook"}, monitor["triggers"])

	var trigger map[string]map[string]any
	require.NoError(t, json.Unmarshal(artifacts[2].Data, &trigger))
	require.Contains(t, trigger, "ops_hook")
	assert.Equal(t, "webhook", trigger["ops_hook"]["trigger_type"])
	assert.Equal(t, "Ops hook", trigger["ops_hook"]["name"])
}

func TestRender_KeepsExpressionOperators(t *testing.T) {
	set := sampleSet()
	set.Monitors[0].MatchConditions.Transactions = json.RawMessage(`[{"status":"Success","expression":"value > 100 && to != from"}]`)
	set.Triggers[0].Payload = json.RawMessage(`{"message":{"title":"<b>Alert</b>","body":"${transaction.hash} & more"}}`)

	artifacts, err := Render(set)
	require.NoError(t, err)

	monitor := string(artifacts[0].Data)
	assert.Contains(t, monitor, `"expression": "value > 100 && to != from"`)
	trigger := string(artifacts[2].Data)
	assert.Contains(t, trigger, `"title": "<b>Alert</b>"`)
	assert.Contains(t, trigger, `"body": "${transaction.hash} & more"`)
	for _, a := range artifacts {
		assert.NotContains(t, string(a.Data), `\u00`, a.Path)
		assert.True(t, strings.HasSuffix(string(a.Data), "}\n"), a.Path)
		assert.False(t, strings.HasSuffix(string(a.Data), "\n\n"), a.Path)
	}
}

func TestRender_DuplicateArtifact(t *testing.T) {
	set := sampleSet()
	set.Monitors = append(set.Monitors, domain.MonitorConfig{Name: "usdc/transfers", Networks: []string{"ethereum_mainnet"}})
	set.Monitors = append(set.Monitors, domain.MonitorConfig{Name: "usdc_transfers", Networks: []string{"ethereum_mainnet"}})

	_, err := Render(set)
	require.ErrorIs(t, err, ErrDuplicateArtifact)
}

func TestSynthesize_ByteIdentical(t *testing.T) {
	dirA := filepath.Join(t.TempDir(), "config")
	dirB := filepath.Join(t.TempDir(), "config")

	sa, err := New(dirA, nil)
	require.NoError(t, err)
	sb, err := New(dirB, nil)
	require.NoError(t, err)

	genA, err := sa.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)
	genB, err := sb.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)

	assert.Equal(t, genA.ID, genB.ID)
	assert.Equal(t, readTree(t, dirA), readTree(t, dirB))

	again, err := sa.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)
	assert.True(t, again.Unchanged)
	assert.Equal(t, genA.ID, again.ID)
}

func TestSynthesize_SwapsGenerations(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config")
	s, err := New(dir, nil)
	require.NoError(t, err)

	first, err := s.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)

	set := sampleSet()
	set.Triggers = nil
	set.Monitors[0].Triggers = nil
	second, err := s.Synthesize(context.Background(), set)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	info, err := os.Lstat(dir)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)

	files := readTree(t, dir)
	assert.Len(t, files, 2)
	assert.NotContains(t, files, "triggers/ops_hook.json")

	entries, err := os.ReadDir(filepath.Join(dir, "triggers"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(first.Path)
	assert.True(t, os.IsNotExist(err), "superseded generation should be removed")
}

func TestSynthesize_MovesRealDirectoryAside(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "config")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "networks"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "networks", "old.json"), []byte("{}"), 0o644))

	s, err := New(dir, nil)
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "config.bak-") {
			backups++
			_, err := os.Stat(filepath.Join(parent, e.Name(), "networks", "old.json"))
			assert.NoError(t, err)
		}
	}
	assert.Equal(t, 1, backups)
	assert.Contains(t, readTree(t, dir), "networks/ethereum_mainnet.json")
}

func TestSynthesize_CancelledLeavesPreviousGeneration(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config")
	s, err := New(dir, nil)
	require.NoError(t, err)

	first, err := s.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	set := sampleSet()
	set.Networks[0].StoreBlocks = true
	_, err = s.Synthesize(ctx, set)
	require.ErrorIs(t, err, context.Canceled)

	target, err := os.Readlink(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(first.Path), filepath.Base(target))

	entries, err := os.ReadDir(s.generationsDir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSynthesize_WriteFailure(t *testing.T) {
	parent := t.TempDir()
	// A file where the generations directory should go.
	require.NoError(t, os.WriteFile(filepath.Join(parent, ".config.generations"), nil, 0o644))

	s, err := New(filepath.Join(parent, "config"), nil)
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), sampleSet())
	require.ErrorIs(t, err, ErrWriteFailure)

	var synthErr *SynthesisError
	require.ErrorAs(t, err, &synthErr)
}

func TestSynthesizer_Remove(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "config")
	s, err := New(dir, nil)
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), sampleSet())
	require.NoError(t, err)

	require.NoError(t, s.Remove())
	_, err = os.Lstat(dir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.generationsDir())
	assert.True(t, os.IsNotExist(err))
}
