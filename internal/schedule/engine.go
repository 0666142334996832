package schedule

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/store"
)

// Engine fires due schedules on every tick and persists mutations
// atomically. One engine owns one schedules.json file.
type Engine struct {
	path    string
	emitter *events.Log
	metrics *observability.Metrics
	logger  *slog.Logger
	jitter  func(maxSeconds int) time.Duration
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEngineMetrics sets the metrics collector.
func WithEngineMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithJitterFunc overrides jitter sampling, for tests.
func WithJitterFunc(jitter func(maxSeconds int) time.Duration) EngineOption {
	return func(e *Engine) { e.jitter = jitter }
}

// NewEngine creates an engine over the schedules file at path, emitting
// schedule.fired events into emitter.
func NewEngine(path string, emitter *events.Log, opts ...EngineOption) *Engine {
	e := &Engine{
		path:    path,
		emitter: emitter,
		logger:  slog.Default(),
		jitter: func(maxSeconds int) time.Duration {
			if maxSeconds <= 0 {
				return 0
			}
			return time.Duration(rand.Intn(maxSeconds+1)) * time.Second
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "scheduler")
	return e
}

// scheduleFile is the on-disk document shape.
type scheduleFile struct {
	Schedules []*Schedule `json:"schedules"`
}

// Load reads the schedule list; a missing file yields an empty list.
func (e *Engine) Load() ([]*Schedule, error) {
	var doc scheduleFile
	if err := store.ReadJSON(e.path, &doc); err != nil {
		if store.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return doc.Schedules, nil
}

// Save persists the full schedule list atomically.
func (e *Engine) Save(schedules []*Schedule) error {
	return store.WriteJSONAtomic(e.path, scheduleFile{Schedules: schedules})
}

// Tick evaluates every enabled schedule against now, fires the due ones,
// and persists the list when any record mutated. Returns the number of
// schedules fired.
func (e *Engine) Tick(ctx context.Context, now time.Time) (int, error) {
	schedules, err := e.Load()
	if err != nil {
		return 0, err
	}

	fired := 0
	mutated := false
	for _, s := range schedules {
		if !s.Enabled || s.Status == StatusInvalid {
			continue
		}
		typ := s.EffectiveType()
		if typ == TypeOneShot && (s.Status == StatusCompleted || s.Status == StatusMisfired) {
			continue
		}

		var expr *cronExpr
		if typ == TypeCron {
			expr, err = parseCron(s.Cron)
			if err != nil {
				e.logger.Warn("invalid cron expression", "schedule_id", s.ScheduleID, "cron", s.Cron, "error", err)
				s.Status = StatusInvalid
				mutated = true
				continue
			}
		}

		dueAt, ok := e.dueAt(s, typ, expr, now)
		if !ok || now.Before(dueAt) {
			continue
		}

		grace := time.Duration(s.MisfireGraceSeconds) * time.Second
		misfired := grace > 0 && now.Sub(dueAt) > grace
		if misfired {
			ts := now.UTC()
			s.LastMisfireAt = &ts
			e.logger.Warn("schedule misfired", "schedule_id", s.ScheduleID, "due_at", dueAt, "grace_s", s.MisfireGraceSeconds)
			e.countFire(typ, "misfired")
		} else {
			e.fire(ctx, s, dueAt, now)
			ts := now.UTC()
			s.LastFireAt = &ts
			fired++
			e.countFire(typ, "fired")
		}

		e.advance(s, typ, expr, dueAt, now, misfired)
		ts := now.UTC()
		s.UpdatedAt = &ts
		mutated = true
	}

	if mutated {
		if err := e.Save(schedules); err != nil {
			return fired, err
		}
	}
	return fired, nil
}

// dueAt resolves when the schedule should next fire, falling back through
// the documented chain per type.
func (e *Engine) dueAt(s *Schedule, typ Type, expr *cronExpr, now time.Time) (time.Time, bool) {
	switch typ {
	case TypeInterval:
		interval := time.Duration(s.IntervalSeconds) * time.Second
		if interval <= 0 {
			return time.Time{}, false
		}
		switch {
		case s.NextFireAt != nil:
			return *s.NextFireAt, true
		case s.LastFireAt != nil:
			return s.LastFireAt.Add(interval), true
		case s.CreatedAt != nil:
			return s.CreatedAt.Add(interval), true
		default:
			return now, true
		}
	case TypeOneShot:
		switch {
		case s.RunAt != nil:
			return *s.RunAt, true
		case s.NextFireAt != nil:
			return *s.NextFireAt, true
		case s.CreatedAt != nil:
			return *s.CreatedAt, true
		default:
			return now, true
		}
	case TypeCron:
		if s.NextFireAt != nil {
			return *s.NextFireAt, true
		}
		// First minute-aligned match at or after now-1min. next is
		// strictly-after, so back off one extra second to admit an
		// aligned match exactly one minute old.
		due, ok := expr.next(now.Add(-time.Minute - time.Second))
		return due, ok
	default:
		return time.Time{}, false
	}
}

// advance moves the schedule strictly beyond now so a record never fires
// twice in one tick. Misfires advance too.
func (e *Engine) advance(s *Schedule, typ Type, expr *cronExpr, dueAt, now time.Time, misfired bool) {
	switch typ {
	case TypeInterval:
		interval := time.Duration(s.IntervalSeconds) * time.Second
		next := dueAt
		for !next.After(now) {
			next = next.Add(interval)
		}
		next = next.Add(e.jitter(s.JitterSeconds))
		nextUTC := next.UTC()
		s.NextFireAt = &nextUTC
	case TypeOneShot:
		s.Enabled = false
		if misfired {
			s.Status = StatusMisfired
		} else {
			s.Status = StatusCompleted
		}
		s.NextFireAt = nil
	case TypeCron:
		if next, ok := expr.next(now); ok {
			nextUTC := next.UTC()
			s.NextFireAt = &nextUTC
		} else {
			s.NextFireAt = nil
		}
	}
}

func (e *Engine) fire(ctx context.Context, s *Schedule, dueAt, now time.Time) {
	e.emitter.Emit(ctx, &events.Event{
		Type:  "schedule.fired",
		Scope: events.ScopeSchedule,
		Actor: "scheduler",
		Payload: map[string]any{
			"schedule_id":   s.ScheduleID,
			"template_id":   s.TemplateID,
			"vars":          s.Vars,
			"scheduled_for": dueAt.UTC().Format(time.RFC3339),
			"fired_at":      now.UTC().Format(time.RFC3339),
		},
	}, false)
}

func (e *Engine) countFire(typ Type, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.ScheduleFires.WithLabelValues(string(typ), outcome).Inc()
}
