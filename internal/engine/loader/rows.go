package loader

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage"
)

func networkFromRow(row storage.NetworkRow) (domain.NetworkConfig, error) {
	n := domain.NetworkConfig{
		Name:              row.Name,
		Slug:              row.Slug,
		Kind:              domain.ChainKind(row.NetworkType),
		NetworkPassphrase: row.NetworkPassphrase.String,
		CronSchedule:      row.CronSchedule,
		StoreBlocks:       row.StoreBlocks.Valid && row.StoreBlocks.Bool,
	}
	if n.Slug == "" {
		return n, invalidf("network", row.ID, "empty slug")
	}
	if !n.Kind.Valid() {
		return n, invalidf("network", n.Slug, "unsupported network_type %q", row.NetworkType)
	}
	if row.ConfirmationBlocks < 0 {
		return n, invalidf("network", n.Slug, "negative confirmation_blocks")
	}
	n.ConfirmationBlocks = uint64(row.ConfirmationBlocks)
	if row.ChainID.Valid {
		id := row.ChainID.Int64
		n.ChainID = &id
	}
	if row.BlockTimeMs.Valid {
		ms := row.BlockTimeMs.Int64
		n.BlockTimeMs = &ms
	}
	if row.MaxPastBlocks.Valid {
		if row.MaxPastBlocks.Int64 < 0 {
			return n, invalidf("network", n.Slug, "negative max_past_blocks")
		}
		past := uint64(row.MaxPastBlocks.Int64)
		n.MaxPastBlocks = &past
	}

	endpoints, err := parseRPCURLs(row.RPCURLs.Raw())
	if err != nil {
		return n, newLoadError(ErrInvalidRecord, "network", n.Slug, err)
	}
	n.RPCURLs = endpoints
	return n, nil
}

// parseRPCURLs accepts the three shapes found in stored rpc_urls: a plain
// string, {"url": "..."} and the engine's own {"url": {"value": ...}}.
func parseRPCURLs(raw json.RawMessage) ([]domain.RPCEndpoint, error) {
	if isNull(raw) {
		return nil, errors.New("no rpc urls")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("rpc_urls: %w", err)
	}

	endpoints := make([]domain.RPCEndpoint, 0, len(items))
	for i, item := range items {
		ep, err := parseRPCURL(item)
		if err != nil {
			return nil, fmt.Errorf("rpc_urls[%d]: %w", i, err)
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, errors.New("no rpc urls")
	}
	return endpoints, nil
}

func parseRPCURL(item json.RawMessage) (domain.RPCEndpoint, error) {
	ep := domain.RPCEndpoint{Weight: domain.DefaultRPCWeight}

	var plain string
	if err := json.Unmarshal(item, &plain); err == nil {
		ep.URL = strings.TrimSpace(plain)
	} else {
		var obj struct {
			URL    json.RawMessage `json:"url"`
			Weight *int            `json:"weight"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			return ep, err
		}
		if obj.Weight != nil {
			ep.Weight = *obj.Weight
		}
		if err := json.Unmarshal(obj.URL, &plain); err == nil {
			ep.URL = strings.TrimSpace(plain)
		} else {
			var secret domain.SecretValue
			if err := json.Unmarshal(obj.URL, &secret); err != nil {
				return ep, fmt.Errorf("url: %w", err)
			}
			ep.URL = strings.TrimSpace(secret.Value)
		}
	}
	if ep.URL == "" {
		return ep, errors.New("empty url")
	}
	return ep, nil
}

// triggerRef is one entry of monitors.triggers.
type triggerRef struct {
	slugOrID string
	byID     bool
}

func parseTriggerRefs(raw json.RawMessage) ([]triggerRef, error) {
	if isNull(raw) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("triggers: %w", err)
	}
	refs := make([]triggerRef, 0, len(items))
	for i, item := range items {
		var slug string
		if err := json.Unmarshal(item, &slug); err == nil {
			refs = append(refs, triggerRef{slugOrID: slug})
			continue
		}
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item, &obj); err != nil || obj.ID == "" {
			return nil, fmt.Errorf("triggers[%d]: expected slug or {\"id\": ...}", i)
		}
		refs = append(refs, triggerRef{slugOrID: obj.ID, byID: true})
	}
	return refs, nil
}

func monitorFromRow(row storage.MonitorRow) (domain.MonitorConfig, []triggerRef, error) {
	name := row.Slug
	if name == "" {
		name = row.Name
	}
	m := domain.MonitorConfig{
		Name:              name,
		Paused:            row.Paused,
		Networks:          []string(row.Networks),
		Addresses:         row.Addresses.Raw(),
		TriggerConditions: row.TriggerConditions.Raw(),
		MatchConditions: domain.MatchConditions{
			Functions:    row.MatchFunctions.Raw(),
			Events:       row.MatchEvents.Raw(),
			Transactions: row.MatchTransactions.Raw(),
		},
	}
	if m.Name == "" {
		return m, nil, invalidf("monitor", row.ID, "empty name")
	}
	if len(m.Networks) == 0 {
		return m, nil, invalidf("monitor", m.Name, "no networks")
	}

	opaque := []struct {
		col string
		raw json.RawMessage
	}{
		{"addresses", m.Addresses},
		{"match_functions", m.MatchConditions.Functions},
		{"match_events", m.MatchConditions.Events},
		{"match_transactions", m.MatchConditions.Transactions},
		{"trigger_conditions", m.TriggerConditions},
	}
	for _, o := range opaque {
		if o.raw != nil && !json.Valid(o.raw) {
			return m, nil, invalidf("monitor", m.Name, "malformed %s", o.col)
		}
	}

	refs, err := parseTriggerRefs(row.Triggers.Raw())
	if err != nil {
		return m, nil, newLoadError(ErrInvalidRecord, "monitor", m.Name, err)
	}
	return m, refs, nil
}

func emailPayload(row storage.EmailTriggerRow) (json.RawMessage, error) {
	p := domain.EmailPayload{
		Host:       row.Host,
		Username:   domain.PlainSecret(row.UsernameValue),
		Password:   domain.PlainSecret(row.PasswordValue),
		Sender:     row.Sender,
		Recipients: []string(row.Recipients),
		Message: domain.NotificationMessage{
			Title: row.MessageTitle,
			Body:  row.MessageBody,
		},
	}
	if row.Port.Valid {
		port := int(row.Port.Int64)
		p.Port = &port
	}
	if p.Recipients == nil {
		p.Recipients = []string{}
	}
	return json.Marshal(p)
}

func webhookPayload(row storage.WebhookTriggerRow) (json.RawMessage, error) {
	p := domain.WebhookPayload{
		URL:     domain.PlainSecret(row.URLValue),
		Method:  row.Method,
		Headers: map[string]string{},
		Message: domain.NotificationMessage{
			Title: row.MessageTitle,
			Body:  row.MessageBody,
		},
	}
	if !isNull(row.Headers.Raw()) {
		if err := json.Unmarshal(row.Headers, &p.Headers); err != nil {
			return nil, fmt.Errorf("headers: %w", err)
		}
	}
	if row.SecretValue.Valid && row.SecretValue.String != "" {
		secret := domain.PlainSecret(row.SecretValue.String)
		p.Secret = &secret
	}
	return json.Marshal(p)
}

// checkPayloadKeys verifies that a stored config object carries the
// top-level keys its kind requires.
func checkPayloadKeys(kind domain.TriggerKind, raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("config is not an object: %w", err)
	}
	var missing []string
	for _, key := range domain.RequiredPayloadKeys[kind] {
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("config missing keys %s", strings.Join(missing, ", "))
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
