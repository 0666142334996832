// Package observability provides the runtime's metrics and trace
// correlation helpers.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the runtime. Register once
// at startup; the daemon serves them through the default registry.
type Metrics struct {
	// EventsEmitted counts emitted events by type.
	EventsEmitted *prometheus.CounterVec

	// ActionsExecuted counts completed queue actions by action type and
	// status (success|error).
	ActionsExecuted *prometheus.CounterVec

	// QueueDepth tracks the number of actions waiting in the queue.
	QueueDepth prometheus.Gauge

	// ScheduleFires counts schedule firings by schedule type and outcome
	// (fired|misfired).
	ScheduleFires *prometheus.CounterVec

	// ToolCalls counts tool invocations by tool and policy decision.
	ToolCalls *prometheus.CounterVec

	// ToolCallDuration measures tool handler latency in seconds.
	ToolCallDuration *prometheus.HistogramVec

	// NodeExecutions counts task graph node completions by status.
	NodeExecutions *prometheus.CounterVec
}

// NewMetrics creates and registers all instruments with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers against a private registry; tests use
// this to avoid duplicate-registration panics.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amon_events_total",
				Help: "Total events emitted by type",
			},
			[]string{"type"},
		),
		ActionsExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amon_actions_total",
				Help: "Total hook actions executed by type and status",
			},
			[]string{"action_type", "status"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "amon_action_queue_depth",
				Help: "Actions currently waiting in the queue",
			},
		),
		ScheduleFires: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amon_schedule_fires_total",
				Help: "Schedule firings by type and outcome",
			},
			[]string{"schedule_type", "outcome"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amon_tool_calls_total",
				Help: "Tool invocations by tool and policy decision",
			},
			[]string{"tool", "decision"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "amon_tool_call_duration_seconds",
				Help:    "Tool handler latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		NodeExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "amon_node_executions_total",
				Help: "Task graph node completions by status",
			},
			[]string{"status"},
		),
	}
}
