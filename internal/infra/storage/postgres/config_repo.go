package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
	"github.com/GPT012/pyoz-orchestrator/internal/infra/storage"
)

const (
	listNetworksQuery = `
SELECT id, tenant_id, name, slug, network_type, chain_id, network_passphrase,
       rpc_urls, block_time_ms, confirmation_blocks, cron_schedule,
       max_past_blocks, store_blocks
FROM networks
WHERE tenant_id = $1 AND active = TRUE AND deleted_at IS NULL
ORDER BY slug`

	listMonitorsQuery = `
SELECT id, tenant_id, name, slug, paused, active, networks, addresses,
       match_functions, match_events, match_transactions,
       trigger_conditions, triggers
FROM monitors
WHERE tenant_id = $1 AND deleted_at IS NULL
  AND ($2 OR (active = TRUE AND paused = FALSE))
ORDER BY name`

	listTriggersQuery = `
SELECT id, tenant_id, name, slug, trigger_type, config
FROM triggers
WHERE tenant_id = $1 AND active = TRUE AND deleted_at IS NULL
ORDER BY slug`

	listEmailTriggersQuery = `
SELECT trigger_id, tenant_id, host, port, username_value, password_value,
       sender, recipients, message_title, message_body
FROM email_triggers
WHERE tenant_id = $1 AND trigger_id::text = ANY($2)`

	listWebhookTriggersQuery = `
SELECT trigger_id, tenant_id, url_value, method, headers, secret_value,
       message_title, message_body
FROM webhook_triggers
WHERE tenant_id = $1 AND trigger_id::text = ANY($2)`
)

// ConfigRepo implements storage.ConfigStore using PostgreSQL.
type ConfigRepo struct {
	db *DB
}

// NewConfigRepo creates a new PostgreSQL configuration repository.
func NewConfigRepo(db *DB) *ConfigRepo {
	return &ConfigRepo{db: db}
}

var _ storage.ConfigStore = (*ConfigRepo)(nil)

type configReader struct {
	q       sqlx.QueryerContext
	timeout time.Duration
}

func (r *configReader) selectRows(ctx context.Context, dest any, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return sqlx.SelectContext(ctx, r.q, dest, query, args...)
}

func (r *configReader) ListNetworks(
	ctx context.Context,
	tenant domain.TenantID,
) ([]storage.NetworkRow, error) {
	var rows []storage.NetworkRow
	if err := r.selectRows(ctx, &rows, listNetworksQuery, tenant.String()); err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	return rows, nil
}

func (r *configReader) ListMonitors(
	ctx context.Context,
	tenant domain.TenantID,
	includeInactive bool,
) ([]storage.MonitorRow, error) {
	var rows []storage.MonitorRow
	err := r.selectRows(ctx, &rows, listMonitorsQuery, tenant.String(), includeInactive)
	if err != nil {
		return nil, fmt.Errorf("failed to list monitors: %w", err)
	}
	return rows, nil
}

func (r *configReader) ListTriggers(
	ctx context.Context,
	tenant domain.TenantID,
) ([]storage.TriggerRow, error) {
	var rows []storage.TriggerRow
	if err := r.selectRows(ctx, &rows, listTriggersQuery, tenant.String()); err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	return rows, nil
}

func (r *configReader) ListEmailTriggers(
	ctx context.Context,
	tenant domain.TenantID,
	triggerIDs []string,
) ([]storage.EmailTriggerRow, error) {
	if len(triggerIDs) == 0 {
		return nil, nil
	}
	var rows []storage.EmailTriggerRow
	err := r.selectRows(ctx, &rows, listEmailTriggersQuery, tenant.String(), pq.Array(triggerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list email triggers: %w", err)
	}
	return rows, nil
}

func (r *configReader) ListWebhookTriggers(
	ctx context.Context,
	tenant domain.TenantID,
	triggerIDs []string,
) ([]storage.WebhookTriggerRow, error) {
	if len(triggerIDs) == 0 {
		return nil, nil
	}
	var rows []storage.WebhookTriggerRow
	err := r.selectRows(ctx, &rows, listWebhookTriggersQuery, tenant.String(), pq.Array(triggerIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook triggers: %w", err)
	}
	return rows, nil
}
