package domain

import "encoding/json"

// TriggerKind is the engine's trigger_type.
type TriggerKind string

const (
	TriggerKindEmail    TriggerKind = "email"
	TriggerKindWebhook  TriggerKind = "webhook"
	TriggerKindSlack    TriggerKind = "slack"
	TriggerKindDiscord  TriggerKind = "discord"
	TriggerKindTelegram TriggerKind = "telegram"
	TriggerKindScript   TriggerKind = "script"
)

// RequiredPayloadKeys lists the top-level config keys each trigger kind must
// carry. Values are not interpreted.
var RequiredPayloadKeys = map[TriggerKind][]string{
	TriggerKindEmail:    {"host", "username", "password", "sender", "recipients", "message"},
	TriggerKindWebhook:  {"url", "method", "message"},
	TriggerKindSlack:    {"slack_url", "message"},
	TriggerKindDiscord:  {"discord_url", "message"},
	TriggerKindTelegram: {"token", "chat_id", "message"},
	TriggerKindScript:   {"language", "script_path"},
}

// Valid reports whether the engine understands the trigger kind.
func (k TriggerKind) Valid() bool {
	_, ok := RequiredPayloadKeys[k]
	return ok
}

// TriggerConfig describes one notification trigger.
type TriggerConfig struct {
	ID      string
	Slug    string
	Name    string
	Kind    TriggerKind
	Payload json.RawMessage
}

// SecretValue is the engine's {"type": "plain", "value": ...} wrapper.
type SecretValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PlainSecret wraps a literal value.
func PlainSecret(v string) SecretValue {
	return SecretValue{Type: "plain", Value: v}
}

// NotificationMessage is the title/body pair shared by all trigger kinds.
type NotificationMessage struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// EmailPayload is the engine config of an email trigger.
type EmailPayload struct {
	Host       string              `json:"host"`
	Port       *int                `json:"port,omitempty"`
	Username   SecretValue         `json:"username"`
	Password   SecretValue         `json:"password"`
	Sender     string              `json:"sender"`
	Recipients []string            `json:"recipients"`
	Message    NotificationMessage `json:"message"`
}

// WebhookPayload is the engine config of a webhook trigger.
type WebhookPayload struct {
	URL     SecretValue         `json:"url"`
	Method  string              `json:"method"`
	Headers map[string]string   `json:"headers"`
	Secret  *SecretValue        `json:"secret,omitempty"`
	Message NotificationMessage `json:"message"`
}
