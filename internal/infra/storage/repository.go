package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
)

// ConfigStore opens consistent read views over the tenant configuration
// tables. Every reader method takes the tenant explicitly.
type ConfigStore interface {
	View(ctx context.Context, fn func(r ConfigReader) error) error
}

// ConfigReader reads tenant-scoped configuration rows.
type ConfigReader interface {
	// ListNetworks returns active, non-deleted networks of the tenant.
	ListNetworks(ctx context.Context, tenant domain.TenantID) ([]NetworkRow, error)

	// ListMonitors returns non-deleted monitors. Unless includeInactive is
	// set, only active and unpaused monitors are returned.
	ListMonitors(ctx context.Context, tenant domain.TenantID, includeInactive bool) ([]MonitorRow, error)

	// ListTriggers returns active, non-deleted triggers of the tenant.
	ListTriggers(ctx context.Context, tenant domain.TenantID) ([]TriggerRow, error)

	// ListEmailTriggers returns email sub-rows for the given trigger ids.
	ListEmailTriggers(ctx context.Context, tenant domain.TenantID, triggerIDs []string) ([]EmailTriggerRow, error)

	// ListWebhookTriggers returns webhook sub-rows for the given trigger ids.
	ListWebhookTriggers(ctx context.Context, tenant domain.TenantID, triggerIDs []string) ([]WebhookTriggerRow, error)
}

// JSONB holds a raw json/jsonb column. NULL scans to nil.
type JSONB []byte

// Scan implements sql.Scanner for drivers returning either text or bytes.
func (j *JSONB) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONB(v)
	default:
		return fmt.Errorf("unsupported jsonb source %T", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// Raw returns the column as json.RawMessage.
func (j JSONB) Raw() json.RawMessage {
	return json.RawMessage(j)
}

// NetworkRow is one row of the networks table.
type NetworkRow struct {
	ID                 string         `db:"id"`
	TenantID           string         `db:"tenant_id"`
	Name               string         `db:"name"`
	Slug               string         `db:"slug"`
	NetworkType        string         `db:"network_type"`
	ChainID            sql.NullInt64  `db:"chain_id"`
	NetworkPassphrase  sql.NullString `db:"network_passphrase"`
	RPCURLs            JSONB          `db:"rpc_urls"`
	BlockTimeMs        sql.NullInt64  `db:"block_time_ms"`
	ConfirmationBlocks int64          `db:"confirmation_blocks"`
	CronSchedule       string         `db:"cron_schedule"`
	MaxPastBlocks      sql.NullInt64  `db:"max_past_blocks"`
	StoreBlocks        sql.NullBool   `db:"store_blocks"`
}

// MonitorRow is one row of the monitors table.
type MonitorRow struct {
	ID                string         `db:"id"`
	TenantID          string         `db:"tenant_id"`
	Name              string         `db:"name"`
	Slug              string         `db:"slug"`
	Paused            bool           `db:"paused"`
	Active            bool           `db:"active"`
	Networks          pq.StringArray `db:"networks"`
	Addresses         JSONB          `db:"addresses"`
	MatchFunctions    JSONB          `db:"match_functions"`
	MatchEvents       JSONB          `db:"match_events"`
	MatchTransactions JSONB          `db:"match_transactions"`
	TriggerConditions JSONB          `db:"trigger_conditions"`
	// Triggers is a JSON array of slugs or {"id": ...} objects.
	Triggers JSONB `db:"triggers"`
}

// TriggerRow is one row of the triggers table.
type TriggerRow struct {
	ID          string `db:"id"`
	TenantID    string `db:"tenant_id"`
	Name        string `db:"name"`
	Slug        string `db:"slug"`
	TriggerType string `db:"trigger_type"`
	// Config carries the payload of kinds without a dedicated sub-table.
	Config JSONB `db:"config"`
}

// EmailTriggerRow is one row of the email_triggers table.
type EmailTriggerRow struct {
	TriggerID     string         `db:"trigger_id"`
	TenantID      string         `db:"tenant_id"`
	Host          string         `db:"host"`
	Port          sql.NullInt64  `db:"port"`
	UsernameValue string         `db:"username_value"`
	PasswordValue string         `db:"password_value"`
	Sender        string         `db:"sender"`
	Recipients    pq.StringArray `db:"recipients"`
	MessageTitle  string         `db:"message_title"`
	MessageBody   string         `db:"message_body"`
}

// WebhookTriggerRow is one row of the webhook_triggers table.
type WebhookTriggerRow struct {
	TriggerID    string         `db:"trigger_id"`
	TenantID     string         `db:"tenant_id"`
	URLValue     string         `db:"url_value"`
	Method       string         `db:"method"`
	Headers      JSONB          `db:"headers"`
	SecretValue  sql.NullString `db:"secret_value"`
	MessageTitle string         `db:"message_title"`
	MessageBody  string         `db:"message_body"`
}
