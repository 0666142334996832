package hooks

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/store"
)

// DispatchStatus reports how a matched hook was handled.
type DispatchStatus string

const (
	StatusEnqueued DispatchStatus = "enqueued"
	StatusPending  DispatchStatus = "pending"
	StatusFailed   DispatchStatus = "failed"
)

// DispatchResult is the per-hook outcome of one event dispatch.
type DispatchResult struct {
	HookID   string         `json:"hook_id"`
	Status   DispatchStatus `json:"status"`
	ActionID string         `json:"action_id,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// PendingAction is the durable record for actions awaiting UI approval.
type PendingAction struct {
	PendingID string         `json:"pending_id"`
	HookID    string         `json:"hook_id"`
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Action    Action         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Status    string         `json:"status"`
}

// Dispatcher matches events against the loaded hooks and hands matched
// actions to the queue. Matching runs synchronously on the emitter's
// goroutine but never executes user code: it only validates, renders,
// records state, and enqueues.
type Dispatcher struct {
	state       *StateStore
	sink        ActionSink
	pendingPath string
	logger      *slog.Logger
	now         func() time.Time
	allowLLM    bool

	mu    sync.RWMutex
	hooks []*Hook
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the slog logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger.With("component", "hooks")
		}
	}
}

// WithDispatcherNow overrides the clock for tests.
func WithDispatcherNow(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithAllowLLM controls whether graph runs triggered through this
// dispatcher may call LLMs. The daemon dispatches with this disabled;
// LLM nodes in such runs fail with a policy block instead of calling out.
func WithAllowLLM(allow bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.allowLLM = allow
	}
}

// NewDispatcher creates a dispatcher over a hook set.
func NewDispatcher(hooks []*Hook, state *StateStore, sink ActionSink, pendingPath string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		state:       state,
		sink:        sink,
		pendingPath: pendingPath,
		logger:      slog.Default().With("component", "hooks"),
		now:         time.Now,
		allowLLM:    true,
		hooks:       hooks,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reload replaces the hook set. Safe to call while dispatching.
func (d *Dispatcher) Reload(hooks []*Hook) {
	d.mu.Lock()
	d.hooks = hooks
	d.mu.Unlock()
}

// Hooks returns the current hook set.
func (d *Dispatcher) Hooks() []*Hook {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Hook, len(d.hooks))
	copy(out, d.hooks)
	return out
}

// Dispatch implements events.Dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, event *events.Event) {
	d.DispatchEvent(ctx, event)
}

// DispatchEvent matches an event and enqueues (or parks) each matched
// hook's action, returning the per-hook results in match order.
func (d *Dispatcher) DispatchEvent(_ context.Context, event *events.Event) []DispatchResult {
	if event == nil {
		return nil
	}
	now := d.now()

	d.mu.RLock()
	hooks := d.hooks
	d.mu.RUnlock()

	matches := MatchHooks(hooks, event, now, d.state)
	results := make([]DispatchResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, d.dispatchMatch(match, event, now))
	}
	return results
}

func (d *Dispatcher) dispatchMatch(match Match, event *events.Event, now time.Time) DispatchResult {
	hook := match.Hook
	args := RenderArgs(hook.Action.Args, event)

	if hook.Policy.RequireConfirm {
		pending := PendingAction{
			PendingID: uuid.NewString(),
			HookID:    hook.HookID,
			EventID:   event.EventID,
			EventType: event.Type,
			Action:    hook.Action,
			Args:      args,
			CreatedAt: now,
			Status:    "pending",
		}
		if err := store.AppendJSONL(d.pendingPath, pending); err != nil {
			d.logger.Warn("pending action append failed", "hook_id", hook.HookID, "error", err)
			return DispatchResult{HookID: hook.HookID, Status: StatusFailed, Error: err.Error()}
		}
		d.logger.Info("hook action pending confirmation",
			"hook_id", hook.HookID, "event_type", event.Type)
		return DispatchResult{HookID: hook.HookID, Status: StatusPending, ActionID: pending.PendingID}
	}

	if err := d.state.MarkTriggered(hook.HookID, match.DedupeKey, now); err != nil {
		d.logger.Warn("hook state update failed", "hook_id", hook.HookID, "error", err)
		return DispatchResult{HookID: hook.HookID, Status: StatusFailed, Error: err.Error()}
	}

	action := &QueuedAction{
		HookID:   hook.HookID,
		Type:     hook.Action.Type,
		Tool:     hook.Action.Tool,
		Args:     args,
		Event:    event,
		AllowLLM: d.allowLLM,
	}
	actionID := d.sink.Enqueue(action)
	d.logger.Debug("hook action enqueued",
		"hook_id", hook.HookID, "action_id", actionID, "event_type", event.Type)
	return DispatchResult{HookID: hook.HookID, Status: StatusEnqueued, ActionID: actionID}
}
