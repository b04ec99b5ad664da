// Package loader turns tenant configuration rows, or static network files,
// into the record set the synthesizer renders for the engine.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage"
	"github.com/GPT012/pyoz-orchestrator/internal/metrics"
)

// Options narrows what Load returns.
type Options struct {
	// Networks restricts the result to these slugs. Empty means all.
	Networks []string
	// IncludeInactive also returns inactive and paused monitors.
	IncludeInactive bool
	// StoreBlocks forces store_blocks on every returned network.
	StoreBlocks bool
}

// Loader reads tenant configuration from a ConfigStore.
type Loader struct {
	store  storage.ConfigStore
	logger *slog.Logger
}

// New creates a database-backed loader.
func New(store storage.ConfigStore, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: store, logger: logger}
}

// Load reads one tenant's networks, monitors and the triggers they fire.
func (l *Loader) Load(
	ctx context.Context,
	tenant domain.TenantID,
	opts Options,
) (domain.RecordSet, error) {
	start := time.Now()
	set, err := l.load(ctx, tenant, opts)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ConfigLoadDuration.WithLabelValues("database", status).
		Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.RecordSet{}, err
	}

	l.logger.Info("Loaded configuration from database",
		"tenant", tenant,
		"networks", len(set.Networks),
		"monitors", len(set.Monitors),
		"triggers", len(set.Triggers),
	)
	return set, nil
}

func (l *Loader) load(
	ctx context.Context,
	tenant domain.TenantID,
	opts Options,
) (domain.RecordSet, error) {
	normalized, err := domain.ParseTenantID(tenant.String())
	if err != nil {
		return domain.RecordSet{}, newLoadError(ErrInvalidTenant, "tenant", tenant.String(), err)
	}
	tenant = normalized

	var set domain.RecordSet
	err = l.store.View(ctx, func(r storage.ConfigReader) error {
		var err error
		set, err = readTenant(ctx, r, tenant, opts)
		return err
	})
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return domain.RecordSet{}, err
		}
		return domain.RecordSet{}, newLoadError(ErrConnectivity, "", "", err)
	}
	if len(set.Monitors) == 0 {
		l.logger.Warn("No active monitors, falling back to block watchers",
			"tenant", tenant,
			"networks", len(set.Networks),
		)
		set.Monitors = blockwatcherMonitors(set.Networks)
	}
	return set, nil
}

type tenantReader struct {
	r      storage.ConfigReader
	tenant domain.TenantID
}

func (t tenantReader) check(entity, id, rowTenant string) error {
	if !strings.EqualFold(rowTenant, t.tenant.String()) {
		return newLoadError(ErrTenantMismatch, entity, id, nil)
	}
	return nil
}

func readTenant(
	ctx context.Context,
	r storage.ConfigReader,
	tenant domain.TenantID,
	opts Options,
) (domain.RecordSet, error) {
	tr := tenantReader{r: r, tenant: tenant}

	networks, err := tr.networks(ctx)
	if err != nil {
		return domain.RecordSet{}, err
	}
	known := make(map[string]bool, len(networks))
	for _, n := range networks {
		known[n.Slug] = true
	}

	selected := make(map[string]bool, len(networks))
	for _, slug := range opts.Networks {
		if !known[slug] {
			return domain.RecordSet{}, newLoadError(ErrUnknownNetwork, "network", slug, nil)
		}
		selected[slug] = true
	}

	var set domain.RecordSet
	for _, n := range networks {
		if len(selected) > 0 && !selected[n.Slug] {
			continue
		}
		if opts.StoreBlocks {
			n.StoreBlocks = true
		}
		set.Networks = append(set.Networks, n)
	}
	if len(set.Networks) == 0 {
		return domain.RecordSet{}, newLoadError(ErrNoNetworks, "tenant", tenant.String(), nil)
	}
	surviving := make(map[string]bool, len(set.Networks))
	for _, n := range set.Networks {
		surviving[n.Slug] = true
	}

	monitors, refs, err := tr.monitors(ctx, known, opts.IncludeInactive)
	if err != nil {
		return domain.RecordSet{}, err
	}

	triggers, err := tr.triggers(ctx)
	if err != nil {
		return domain.RecordSet{}, err
	}
	bySlug := make(map[string]*trigger, len(triggers))
	byID := make(map[string]*trigger, len(triggers))
	for _, t := range triggers {
		bySlug[t.row.Slug] = t
		byID[t.row.ID] = t
	}

	for i := range monitors {
		m := &monitors[i]
		resolved := make([]*trigger, 0, len(refs[i]))
		for _, ref := range refs[i] {
			t := byID[ref.slugOrID]
			if !ref.byID {
				if s, ok := bySlug[ref.slugOrID]; ok {
					t = s
				}
			}
			if t == nil {
				return domain.RecordSet{}, newLoadError(ErrUnknownTrigger, "trigger", ref.slugOrID,
					errors.New("referenced by monitor "+m.Name))
			}
			resolved = append(resolved, t)
		}

		m.Networks = slices.DeleteFunc(m.Networks, func(slug string) bool {
			return !surviving[slug]
		})
		if len(m.Networks) == 0 {
			continue
		}
		m.Triggers = make([]string, 0, len(resolved))
		for _, t := range resolved {
			m.Triggers = append(m.Triggers, t.row.Slug)
			t.referenced = true
		}
		set.Monitors = append(set.Monitors, *m)
	}

	set.Triggers, err = tr.payloads(ctx, triggers)
	if err != nil {
		return domain.RecordSet{}, err
	}
	return set, nil
}

func (t tenantReader) networks(ctx context.Context) ([]domain.NetworkConfig, error) {
	rows, err := t.r.ListNetworks(ctx, t.tenant)
	if err != nil {
		return nil, newLoadError(ErrConnectivity, "", "", err)
	}
	out := make([]domain.NetworkConfig, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if err := t.check("network", row.Slug, row.TenantID); err != nil {
			return nil, err
		}
		n, err := networkFromRow(row)
		if err != nil {
			return nil, err
		}
		if seen[n.Slug] {
			return nil, invalidf("network", n.Slug, "duplicate slug")
		}
		seen[n.Slug] = true
		out = append(out, n)
	}
	return out, nil
}

// monitors returns the tenant's monitors with their unresolved trigger
// references, index-aligned. Network references are checked against the
// full network set so that a filter never hides a dangling reference.
func (t tenantReader) monitors(
	ctx context.Context,
	known map[string]bool,
	includeInactive bool,
) ([]domain.MonitorConfig, [][]triggerRef, error) {
	rows, err := t.r.ListMonitors(ctx, t.tenant, includeInactive)
	if err != nil {
		return nil, nil, newLoadError(ErrConnectivity, "", "", err)
	}
	monitors := make([]domain.MonitorConfig, 0, len(rows))
	refs := make([][]triggerRef, 0, len(rows))
	for _, row := range rows {
		if err := t.check("monitor", row.Slug, row.TenantID); err != nil {
			return nil, nil, err
		}
		m, r, err := monitorFromRow(row)
		if err != nil {
			return nil, nil, err
		}
		for _, slug := range m.Networks {
			if !known[slug] {
				return nil, nil, newLoadError(ErrUnknownNetwork, "network", slug,
					errors.New("referenced by monitor "+m.Name))
			}
		}
		monitors = append(monitors, m)
		refs = append(refs, r)
	}
	return monitors, refs, nil
}

type trigger struct {
	row        storage.TriggerRow
	referenced bool
}

func (t tenantReader) triggers(ctx context.Context) ([]*trigger, error) {
	rows, err := t.r.ListTriggers(ctx, t.tenant)
	if err != nil {
		return nil, newLoadError(ErrConnectivity, "", "", err)
	}
	out := make([]*trigger, 0, len(rows))
	for _, row := range rows {
		if err := t.check("trigger", row.Slug, row.TenantID); err != nil {
			return nil, err
		}
		if row.Slug == "" {
			return nil, invalidf("trigger", row.ID, "empty slug")
		}
		if !domain.TriggerKind(row.TriggerType).Valid() {
			return nil, invalidf("trigger", row.Slug, "unsupported trigger_type %q", row.TriggerType)
		}
		out = append(out, &trigger{row: row})
	}
	return out, nil
}

// payloads builds the engine config of every referenced trigger. Email and
// webhook payloads come from their sub-tables, the rest from triggers.config.
func (t tenantReader) payloads(ctx context.Context, triggers []*trigger) ([]domain.TriggerConfig, error) {
	var emailIDs, webhookIDs []string
	for _, tr := range triggers {
		if !tr.referenced {
			continue
		}
		switch domain.TriggerKind(tr.row.TriggerType) {
		case domain.TriggerKindEmail:
			emailIDs = append(emailIDs, tr.row.ID)
		case domain.TriggerKindWebhook:
			webhookIDs = append(webhookIDs, tr.row.ID)
		}
	}

	emails := make(map[string]storage.EmailTriggerRow, len(emailIDs))
	if len(emailIDs) > 0 {
		rows, err := t.r.ListEmailTriggers(ctx, t.tenant, emailIDs)
		if err != nil {
			return nil, newLoadError(ErrConnectivity, "", "", err)
		}
		for _, row := range rows {
			if err := t.check("email trigger", row.TriggerID, row.TenantID); err != nil {
				return nil, err
			}
			emails[row.TriggerID] = row
		}
	}
	webhooks := make(map[string]storage.WebhookTriggerRow, len(webhookIDs))
	if len(webhookIDs) > 0 {
		rows, err := t.r.ListWebhookTriggers(ctx, t.tenant, webhookIDs)
		if err != nil {
			return nil, newLoadError(ErrConnectivity, "", "", err)
		}
		for _, row := range rows {
			if err := t.check("webhook trigger", row.TriggerID, row.TenantID); err != nil {
				return nil, err
			}
			webhooks[row.TriggerID] = row
		}
	}

	var out []domain.TriggerConfig
	for _, tr := range triggers {
		if !tr.referenced {
			continue
		}
		row := tr.row
		cfg := domain.TriggerConfig{
			ID:   row.ID,
			Slug: row.Slug,
			Name: row.Name,
			Kind: domain.TriggerKind(row.TriggerType),
		}

		switch cfg.Kind {
		case domain.TriggerKindEmail:
			sub, ok := emails[row.ID]
			if !ok {
				return nil, newLoadError(ErrIncompleteTrigger, "trigger", row.Slug,
					errors.New("no email_triggers row"))
			}
			payload, err := emailPayload(sub)
			if err != nil {
				return nil, newLoadError(ErrInvalidRecord, "trigger", row.Slug, err)
			}
			cfg.Payload = payload
		case domain.TriggerKindWebhook:
			sub, ok := webhooks[row.ID]
			if !ok {
				return nil, newLoadError(ErrIncompleteTrigger, "trigger", row.Slug,
					errors.New("no webhook_triggers row"))
			}
			payload, err := webhookPayload(sub)
			if err != nil {
				return nil, newLoadError(ErrInvalidRecord, "trigger", row.Slug, err)
			}
			cfg.Payload = payload
		default:
			if isNull(row.Config.Raw()) {
				return nil, newLoadError(ErrIncompleteTrigger, "trigger", row.Slug,
					errors.New("no config payload"))
			}
			if err := checkPayloadKeys(cfg.Kind, row.Config.Raw()); err != nil {
				return nil, newLoadError(ErrInvalidRecord, "trigger", row.Slug, err)
			}
			cfg.Payload = row.Config.Raw()
		}
		out = append(out, cfg)
	}
	return out, nil
}
