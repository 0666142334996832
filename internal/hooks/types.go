// Package hooks implements the declarative event-hook system: YAML hook
// definitions, event matching with filters, dedupe and cooldown, and the
// dispatch of matched actions onto the asynchronous action queue.
package hooks

import (
	"fmt"
	"strings"

	"github.com/amonhq/amon/internal/events"
)

// ActionType identifies what a matched hook executes.
type ActionType string

const (
	// ActionToolCall invokes a registered tool.
	ActionToolCall ActionType = "tool.call"

	// ActionGraphRun starts a task graph run.
	ActionGraphRun ActionType = "graph.run"
)

// Filter narrows which events a hook matches. Every set field must pass.
type Filter struct {
	// PathGlob matches payload.path with shell glob semantics
	// (doublestar, so "**/*.txt" works).
	PathGlob string `yaml:"path_glob,omitempty" json:"path_glob,omitempty"`

	// MinSize requires payload.size to be at least this value.
	MinSize *float64 `yaml:"min_size,omitempty" json:"min_size,omitempty"`

	// MIME matches payload.mime exactly, or by prefix with a "/*" tail
	// ("text/*" matches "text/plain" but not "application/text").
	MIME string `yaml:"mime,omitempty" json:"mime,omitempty"`

	// IgnoreActors skips events produced by these actors.
	IgnoreActors []string `yaml:"ignore_actors,omitempty" json:"ignore_actors,omitempty"`
}

// Action describes what to execute when a hook matches. String values in
// Args may carry "{{ event.<dotted.path> }}" templates.
type Action struct {
	Type ActionType     `yaml:"type" json:"type"`
	Tool string         `yaml:"tool,omitempty" json:"tool,omitempty"`
	Args map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

// Policy holds the hook-level policy knobs.
type Policy struct {
	// RequireConfirm parks matched actions in pending_actions.jsonl for
	// UI approval instead of enqueueing them.
	RequireConfirm bool `yaml:"require_confirm,omitempty" json:"require_confirm,omitempty"`
}

// Hook is one declarative matching rule loaded from the hooks directory.
type Hook struct {
	// HookID is derived from the file stem, not the YAML body.
	HookID string `yaml:"-" json:"hook_id"`

	EventTypes      []string `yaml:"event_types" json:"event_types"`
	Filter          *Filter  `yaml:"filter,omitempty" json:"filter,omitempty"`
	Action          Action   `yaml:"action" json:"action"`
	Policy          Policy   `yaml:"policy,omitempty" json:"policy,omitempty"`
	DedupeKey       string   `yaml:"dedupe_key,omitempty" json:"dedupe_key,omitempty"`
	CooldownSeconds float64  `yaml:"cooldown_seconds,omitempty" json:"cooldown_seconds,omitempty"`
	MaxConcurrency  int      `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
	Enabled         *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the hook participates in matching. Hooks are
// enabled unless the file says otherwise.
func (h *Hook) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Validate checks the hook invariants.
func (h *Hook) Validate() error {
	if len(h.EventTypes) == 0 {
		return fmt.Errorf("event_types must be non-empty")
	}
	for _, et := range h.EventTypes {
		if strings.TrimSpace(et) == "" {
			return fmt.Errorf("event_types contains empty entry")
		}
	}
	switch h.Action.Type {
	case ActionToolCall:
		if strings.TrimSpace(h.Action.Tool) == "" {
			return fmt.Errorf("action.type=tool.call requires a tool name")
		}
	case ActionGraphRun:
	default:
		return fmt.Errorf("unsupported action.type %q", h.Action.Type)
	}
	if h.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must be >= 0")
	}
	if h.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must be >= 1 when set")
	}
	if h.DedupeKey != "" {
		if _, err := ParseTemplate(h.DedupeKey); err != nil {
			return fmt.Errorf("dedupe_key: %w", err)
		}
	}
	return nil
}

// MatchesEventType reports whether the event type is listed.
func (h *Hook) MatchesEventType(eventType string) bool {
	for _, et := range h.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// QueuedAction is the payload handed to the action queue for one matched
// hook. Args are fully rendered against the triggering event.
type QueuedAction struct {
	ActionID string         `json:"action_id"`
	HookID   string         `json:"hook_id"`
	Type     ActionType     `json:"action_type"`
	Tool     string         `json:"tool,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Event    *events.Event  `json:"event,omitempty"`

	// AllowLLM gates whether a graph run started by this action may call
	// LLMs. The daemon's dispatcher disables it.
	AllowLLM bool `json:"allow_llm"`
}

// ActionSink accepts queued actions. The action queue implements this; the
// dispatcher stays decoupled from worker mechanics.
type ActionSink interface {
	Enqueue(action *QueuedAction) string
}
