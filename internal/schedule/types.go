// Package schedule implements the tick-driven scheduler: interval,
// one-shot, and cron records persisted as a single JSON document and
// fired as schedule.fired events.
package schedule

import "time"

// Type discriminates schedule kinds.
type Type string

const (
	TypeInterval Type = "interval"
	TypeOneShot  Type = "one_shot"
	TypeCron     Type = "cron"
)

// One-shot terminal statuses, plus "invalid" for unparseable cron
// expressions.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusMisfired  = "misfired"
	StatusInvalid   = "invalid"
)

// Schedule is one persisted record in schedules.json.
type Schedule struct {
	ScheduleID          string         `json:"schedule_id"`
	Type                Type           `json:"type,omitempty"`
	Enabled             bool           `json:"enabled"`
	CreatedAt           *time.Time     `json:"created_at,omitempty"`
	UpdatedAt           *time.Time     `json:"updated_at,omitempty"`
	NextFireAt          *time.Time     `json:"next_fire_at,omitempty"`
	LastFireAt          *time.Time     `json:"last_fire_at,omitempty"`
	LastMisfireAt       *time.Time     `json:"last_misfire_at,omitempty"`
	MisfireGraceSeconds int            `json:"misfire_grace_seconds,omitempty"`
	JitterSeconds       int            `json:"jitter_seconds,omitempty"`
	TemplateID          string         `json:"template_id,omitempty"`
	Vars                map[string]any `json:"vars,omitempty"`

	// Interval schedules.
	IntervalSeconds int `json:"interval_seconds,omitempty"`

	// One-shot schedules.
	RunAt  *time.Time `json:"run_at,omitempty"`
	Status string     `json:"status,omitempty"`

	// Cron schedules.
	Cron string `json:"cron,omitempty"`
}

// EffectiveType infers the type for legacy records that omit it.
func (s *Schedule) EffectiveType() Type {
	if s.Type != "" {
		return s.Type
	}
	switch {
	case s.IntervalSeconds > 0:
		return TypeInterval
	case s.RunAt != nil:
		return TypeOneShot
	case s.Cron != "":
		return TypeCron
	default:
		return TypeInterval
	}
}
