package synth

import (
	"bytes"
	"encoding/json"
	"path"
	"sort"
	"strings"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
)

// Artifact is one rendered engine configuration file.
type Artifact struct {
	// Path is slash-separated and relative to the configuration root.
	Path string
	Data []byte
}

type rpcURLJSON struct {
	Type   string             `json:"type_"`
	URL    domain.SecretValue `json:"url"`
	Weight int                `json:"weight"`
}

type networkJSON struct {
	Name               string       `json:"name"`
	Slug               string       `json:"slug"`
	NetworkType        string       `json:"network_type"`
	ChainID            *int64       `json:"chain_id,omitempty"`
	NetworkPassphrase  string       `json:"network_passphrase,omitempty"`
	RPCURLs            []rpcURLJSON `json:"rpc_urls"`
	BlockTimeMs        *int64       `json:"block_time_ms,omitempty"`
	ConfirmationBlocks uint64       `json:"confirmation_blocks"`
	CronSchedule       string       `json:"cron_schedule"`
	MaxPastBlocks      *uint64      `json:"max_past_blocks,omitempty"`
	StoreBlocks        bool         `json:"store_blocks"`
}

type matchConditionsJSON struct {
	Functions    json.RawMessage `json:"functions"`
	Events       json.RawMessage `json:"events"`
	Transactions json.RawMessage `json:"transactions"`
}

type monitorJSON struct {
	Name              string              `json:"name"`
	Paused            bool                `json:"paused"`
	Networks          []string            `json:"networks"`
	Addresses         json.RawMessage     `json:"addresses"`
	MatchConditions   matchConditionsJSON `json:"match_conditions"`
	TriggerConditions json.RawMessage     `json:"trigger_conditions"`
	Triggers          []string            `json:"triggers"`
}

type triggerJSON struct {
	Name        string          `json:"name"`
	TriggerType string          `json:"trigger_type"`
	Config      json.RawMessage `json:"config"`
}

// encodeJSON indents v and ends it with a newline. Expressions and message
// templates keep their <, > and & unescaped.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render converts a record set into engine artifacts sorted by path. It
// touches no files, so equal sets always render to equal bytes.
func Render(set domain.RecordSet) ([]Artifact, error) {
	var out []Artifact
	seen := make(map[string]bool)

	add := func(dir, name string, v any) error {
		p := path.Join(dir, fileName(name)+".json")
		if seen[p] {
			return &SynthesisError{Kind: ErrDuplicateArtifact, Path: p}
		}
		seen[p] = true

		data, err := encodeJSON(v)
		if err != nil {
			return writeFailure(p, err)
		}
		out = append(out, Artifact{Path: p, Data: data})
		return nil
	}

	for _, n := range set.Networks {
		if err := add("networks", n.Slug, renderNetwork(n)); err != nil {
			return nil, err
		}
	}
	for _, m := range set.Monitors {
		if err := add("monitors", m.Name, renderMonitor(m)); err != nil {
			return nil, err
		}
	}
	for _, t := range set.Triggers {
		doc := map[string]triggerJSON{
			t.Slug: {
				Name:        t.Name,
				TriggerType: string(t.Kind),
				Config:      orEmptyObject(t.Payload),
			},
		}
		if err := add("triggers", t.Slug, doc); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func renderNetwork(n domain.NetworkConfig) networkJSON {
	urls := make([]rpcURLJSON, 0, len(n.RPCURLs))
	for _, ep := range n.RPCURLs {
		weight := ep.Weight
		if weight == 0 {
			weight = domain.DefaultRPCWeight
		}
		urls = append(urls, rpcURLJSON{
			Type:   "rpc",
			URL:    domain.PlainSecret(ep.URL),
			Weight: weight,
		})
	}
	return networkJSON{
		Name:               n.Name,
		Slug:               n.Slug,
		NetworkType:        string(n.Kind),
		ChainID:            n.ChainID,
		NetworkPassphrase:  n.NetworkPassphrase,
		RPCURLs:            urls,
		BlockTimeMs:        n.BlockTimeMs,
		ConfirmationBlocks: n.ConfirmationBlocks,
		CronSchedule:       n.CronSchedule,
		MaxPastBlocks:      n.MaxPastBlocks,
		StoreBlocks:        n.StoreBlocks,
	}
}

func renderMonitor(m domain.MonitorConfig) monitorJSON {
	triggers := m.Triggers
	if triggers == nil {
		triggers = []string{}
	}
	networks := m.Networks
	if networks == nil {
		networks = []string{}
	}
	return monitorJSON{
		Name:      m.Name,
		Paused:    m.Paused,
		Networks:  networks,
		Addresses: orEmptyArray(m.Addresses),
		MatchConditions: matchConditionsJSON{
			Functions:    orEmptyArray(m.MatchConditions.Functions),
			Events:       orEmptyArray(m.MatchConditions.Events),
			Transactions: orEmptyArray(m.MatchConditions.Transactions),
		},
		TriggerConditions: orEmptyArray(m.TriggerConditions),
		Triggers:          triggers,
	}
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return json.RawMessage(`[]`)
	}
	return raw
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if isNull(raw) {
		return json.RawMessage(`{}`)
	}
	return raw
}

func isNull(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// fileName maps an identifier onto a safe file name. Anything outside
// [A-Za-z0-9._-] becomes an underscore.
func fileName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '_', r == '-':
			return r
		}
		return '_'
	}, id)
	if name == "" || strings.Trim(name, ".") == "" {
		return "_" + name
	}
	return name
}
