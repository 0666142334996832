// Package events provides the process-wide event substrate: typed event
// records, ID assignment at emission, and JSONL fan-out to the global and
// per-project logs.
package events

import (
	"strconv"
	"strings"
	"time"
)

// Scope identifies which subsystem an event belongs to.
type Scope string

const (
	ScopeProject    Scope = "project"
	ScopeJob        Scope = "job"
	ScopeSchedule   Scope = "schedule"
	ScopeTool       Scope = "tool"
	ScopePolicy     Scope = "policy"
	ScopeChatRouter Scope = "chat.router"
)

// Risk grades the blast radius of acting on an event.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// Event is an immutable record produced by any component. EventID and TS
// are assigned at emission and never mutated afterwards.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	Scope     Scope          `json:"scope,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Risk      Risk           `json:"risk,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	TS        time.Time      `json:"ts"`
}

// New creates an event with type, scope, and payload set. The emitter fills
// EventID and TS.
func New(eventType string, scope Scope, payload map[string]any) *Event {
	return &Event{Type: eventType, Scope: scope, Payload: payload}
}

// Lookup resolves a dotted path against the event. The leading "event."
// prefix is optional. Top-level fields resolve by their JSON names; anything
// else descends into the payload, so "payload.path" and "type" both work.
func (e *Event) Lookup(path string) (any, bool) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "event.")
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")

	var current any
	switch parts[0] {
	case "event_id":
		current = e.EventID
	case "type":
		current = e.Type
	case "scope":
		current = string(e.Scope)
	case "actor":
		current = e.Actor
	case "payload":
		current = e.Payload
	case "risk":
		current = string(e.Risk)
	case "project_id":
		current = e.ProjectID
	case "run_id":
		current = e.RunID
	case "node_id":
		current = e.NodeID
	case "tool":
		current = e.Tool
	case "ts":
		current = e.TS.Format(time.RFC3339)
	default:
		return nil, false
	}

	for _, part := range parts[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// PayloadString returns a string payload field, or "" when absent.
func (e *Event) PayloadString(key string) string {
	v, ok := e.Payload[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// PayloadNumber coerces a payload field to float64. Strings are parsed;
// non-numeric values report false.
func (e *Event) PayloadNumber(key string) (float64, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
