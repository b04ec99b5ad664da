// Package memory is an in-process ConfigStore used by file-less setups and
// tests. It holds live rows only: soft-deleted or inactive networks and
// triggers are simply not added.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage"
)

type MemoryStorage struct {
	networks []storage.NetworkRow
	monitors []storage.MonitorRow
	triggers []storage.TriggerRow
	emails   []storage.EmailTriggerRow
	webhooks []storage.WebhookTriggerRow
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (s *MemoryStorage) AddNetwork(rows ...storage.NetworkRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networks = append(s.networks, rows...)
}

func (s *MemoryStorage) AddMonitor(rows ...storage.MonitorRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitors = append(s.monitors, rows...)
}

func (s *MemoryStorage) AddTrigger(rows ...storage.TriggerRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, rows...)
}

func (s *MemoryStorage) AddEmailTrigger(rows ...storage.EmailTriggerRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emails = append(s.emails, rows...)
}

func (s *MemoryStorage) AddWebhookTrigger(rows ...storage.WebhookTriggerRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhooks = append(s.webhooks, rows...)
}

// View runs fn under a read lock, giving it a consistent snapshot.
func (s *MemoryStorage) View(ctx context.Context, fn func(r storage.ConfigReader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(reader{s})
}

// reader is only handed out while View holds the read lock.
type reader struct {
	s *MemoryStorage
}

func (r reader) ListNetworks(ctx context.Context, tenant domain.TenantID) ([]storage.NetworkRow, error) {
	var out []storage.NetworkRow
	for _, n := range r.s.networks {
		if n.TenantID == string(tenant) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r reader) ListMonitors(
	ctx context.Context,
	tenant domain.TenantID,
	includeInactive bool,
) ([]storage.MonitorRow, error) {
	var out []storage.MonitorRow
	for _, m := range r.s.monitors {
		if m.TenantID != string(tenant) {
			continue
		}
		if !includeInactive && (!m.Active || m.Paused) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (r reader) ListTriggers(ctx context.Context, tenant domain.TenantID) ([]storage.TriggerRow, error) {
	var out []storage.TriggerRow
	for _, t := range r.s.triggers {
		if t.TenantID == string(tenant) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r reader) ListEmailTriggers(
	ctx context.Context,
	tenant domain.TenantID,
	triggerIDs []string,
) ([]storage.EmailTriggerRow, error) {
	var out []storage.EmailTriggerRow
	for _, e := range r.s.emails {
		if e.TenantID == string(tenant) && slices.Contains(triggerIDs, e.TriggerID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r reader) ListWebhookTriggers(
	ctx context.Context,
	tenant domain.TenantID,
	triggerIDs []string,
) ([]storage.WebhookTriggerRow, error) {
	var out []storage.WebhookTriggerRow
	for _, w := range r.s.webhooks {
		if w.TenantID == string(tenant) && slices.Contains(triggerIDs, w.TriggerID) {
			out = append(out, w)
		}
	}
	return out, nil
}
