package events

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/store"
)

// Dispatcher receives emitted events for hook matching. Dispatch must not
// block on user code; the action queue makes hook actions asynchronous.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *Event)
}

// DispatcherFunc adapts a function to a Dispatcher.
type DispatcherFunc func(ctx context.Context, event *Event)

// Dispatch invokes the function.
func (f DispatcherFunc) Dispatch(ctx context.Context, event *Event) {
	f(ctx, event)
}

// Log appends events to the global JSONL log and fans out to per-project
// logs. Log-write failures never propagate to emitters: they degrade to a
// warning line plus a secondary error event.
type Log struct {
	path       string
	projectDir func(projectID string) string
	dispatcher Dispatcher
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	mu    sync.Mutex
	queue []*Event
}

// Option configures the event log.
type Option func(*Log)

// WithDispatcher sets the hook dispatcher invoked on emission.
func WithDispatcher(d Dispatcher) Option {
	return func(l *Log) {
		l.dispatcher = d
	}
}

// WithProjectDirResolver sets the resolver used for per-project fan-out.
// The resolver returns the project root directory, or "" to skip fan-out.
func WithProjectDirResolver(resolve func(projectID string) string) Option {
	return func(l *Log) {
		if resolve != nil {
			l.projectDir = resolve
		}
	}
}

// WithMetrics sets the metrics collector counting emitted events.
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Log) {
		l.metrics = m
	}
}

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) {
		if logger != nil {
			l.logger = logger.With("component", "events")
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithIDFunc overrides event ID generation for tests.
func WithIDFunc(newID func() string) Option {
	return func(l *Log) {
		if newID != nil {
			l.newID = newID
		}
	}
}

// NewLog creates an event log writing to the given JSONL path.
func NewLog(path string, opts ...Option) *Log {
	l := &Log{
		path:   path,
		logger: slog.Default().With("component", "events"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetDispatcher installs the dispatcher after construction. The daemon
// wires the matcher in once the action queue exists.
func (l *Log) SetDispatcher(d Dispatcher) {
	l.mu.Lock()
	l.dispatcher = d
	l.mu.Unlock()
}

// Emit assigns the event ID and timestamp, appends the event to the global
// log (and the owning project's log when resolvable), and either dispatches
// hooks synchronously or parks the event for a later Drain. The returned
// event is the same pointer with identity fields filled.
func (l *Log) Emit(ctx context.Context, event *Event, dispatch bool) *Event {
	if event == nil {
		return nil
	}
	if event.EventID == "" {
		event.EventID = l.newID()
	}
	if event.TS.IsZero() {
		event.TS = l.now().UTC()
	}

	if l.metrics != nil {
		l.metrics.EventsEmitted.WithLabelValues(event.Type).Inc()
	}
	l.append(event)

	if dispatch {
		l.dispatch(ctx, event)
		return event
	}

	l.mu.Lock()
	l.queue = append(l.queue, event)
	l.mu.Unlock()
	return event
}

// Drain dispatches every queued event in emission order and returns how
// many were dispatched. Emit(e, false) followed by Drain is equivalent to
// Emit(e, true).
func (l *Log) Drain(ctx context.Context) int {
	l.mu.Lock()
	queued := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, event := range queued {
		l.dispatch(ctx, event)
	}
	return len(queued)
}

func (l *Log) dispatch(ctx context.Context, event *Event) {
	l.mu.Lock()
	d := l.dispatcher
	l.mu.Unlock()
	if d != nil {
		d.Dispatch(ctx, event)
	}
}

func (l *Log) append(event *Event) {
	if err := store.AppendJSONL(l.path, event); err != nil {
		l.logger.Warn("event log append failed", "type", event.Type, "error", err)
		l.recordWriteFailure(event, err)
		return
	}

	if l.projectDir != nil && event.ProjectID != "" {
		dir := l.projectDir(event.ProjectID)
		if dir != "" {
			projectLog := filepath.Join(dir, ".amon", "events.jsonl")
			if err := store.AppendJSONL(projectLog, event); err != nil {
				l.logger.Warn("project event log append failed",
					"project_id", event.ProjectID, "error", err)
			}
		}
	}
}

// recordWriteFailure emits a secondary error event describing the append
// failure. Best-effort: a failure here is only logged.
func (l *Log) recordWriteFailure(event *Event, cause error) {
	secondary := &Event{
		EventID: l.newID(),
		Type:    "log.write_error",
		Scope:   event.Scope,
		Payload: map[string]any{
			"failed_event_type": event.Type,
			"error":             cause.Error(),
		},
		Risk: RiskLow,
		TS:   l.now().UTC(),
	}
	if err := store.AppendJSONL(l.path, secondary); err != nil {
		l.logger.Error("event log unavailable", "error", err)
	}
}

// Path returns the global log path.
func (l *Log) Path() string {
	return l.path
}
