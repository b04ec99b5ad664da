package domain

import "encoding/json"

// MatchConditions are passed to the engine untouched.
type MatchConditions struct {
	Functions    json.RawMessage
	Events       json.RawMessage
	Transactions json.RawMessage
}

// MonitorConfig describes one engine monitor.
//
// Addresses, MatchConditions and TriggerConditions are opaque JSON: this
// layer only checks that they are well-formed and round-trips them.
type MonitorConfig struct {
	Name              string
	Paused            bool
	Networks          []string
	Addresses         json.RawMessage
	MatchConditions   MatchConditions
	TriggerConditions json.RawMessage
	// Triggers holds trigger slugs, the identifiers the engine resolves.
	Triggers []string
}
