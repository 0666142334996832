// Package daemon wires the runtime together: event log, hook
// dispatcher, action queue, scheduler, resident jobs, tool registry,
// and the optional metrics endpoint, driven by a single tick loop.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/amonhq/amon/internal/actions"
	"github.com/amonhq/amon/internal/config"
	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/hooks"
	"github.com/amonhq/amon/internal/jobs"
	"github.com/amonhq/amon/internal/llm"
	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/project"
	"github.com/amonhq/amon/internal/schedule"
	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/tools"
	"github.com/amonhq/amon/internal/tools/files"
	"github.com/amonhq/amon/internal/tools/policy"
	"github.com/amonhq/amon/internal/tools/sandbox"
	"github.com/amonhq/amon/internal/tools/workspace"
)

// Daemon is the assembled runtime.
type Daemon struct {
	home   string
	cfg    *config.Config
	logger *slog.Logger

	eventLog   *events.Log
	dispatcher *hooks.Dispatcher
	queue      *actions.Queue
	scheduler  *schedule.Engine
	registry   *tools.Registry
	state      *hooks.StateStore
	metrics    *observability.Metrics
	llmClient  llm.Client

	jobs          []*jobs.Job
	metricsServer *http.Server
}

// Option customizes daemon assembly.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithMetrics overrides the metrics collector; tests use a private
// registry to avoid duplicate registration.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Daemon) { d.metrics = m }
}

// WithLLMClient sets the model client for hook-triggered graph runs.
// Note that daemon-dispatched runs block LLM nodes regardless; the
// client only serves interactively started runs sharing the assembly.
func WithLLMClient(client llm.Client) Option {
	return func(d *Daemon) { d.llmClient = client }
}

// New assembles a daemon from the home directory layout: hooks, hook
// state, schedules, jobs, logs, and the builtin tool set.
func New(home string, cfg *config.Config, opts ...Option) (*Daemon, error) {
	d := &Daemon{
		home:   home,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "daemon")

	for _, dir := range []string{
		config.HooksDir(home),
		config.JobsDir(home),
		config.LogsDir(home),
		config.ProjectsDir(home),
	} {
		if err := store.EnsureDir(dir); err != nil {
			return nil, err
		}
	}

	if d.metrics == nil {
		d.metrics = observability.NewMetrics()
	}

	resolver := project.NewResolver(config.ProjectsDir(home))
	d.eventLog = events.NewLog(config.EventsPath(home),
		events.WithLogger(d.logger),
		events.WithProjectDirResolver(resolver.Dir),
		events.WithMetrics(d.metrics),
	)

	d.registry = tools.NewRegistry(
		tools.WithPolicy(&policy.Policy{
			Deny:  cfg.Policy.Deny,
			Ask:   cfg.Policy.Ask,
			Allow: cfg.Policy.Allow,
		}),
		tools.WithGuard(workspace.NewGuard(cfg.WorkspaceDir)),
		tools.WithAudit(tools.NewAuditSink(config.AuditPath(home), d.logger)),
		tools.WithMetrics(d.metrics),
		tools.WithRegistryLogger(d.logger),
	)
	files.Register(d.registry, files.Config{})
	if cfg.SandboxURL != "" {
		sandbox.Register(d.registry, sandbox.NewClient(cfg.SandboxURL))
	}

	state, err := hooks.NewStateStore(config.HookStatePath(home))
	if err != nil {
		return nil, err
	}
	d.state = state
	// Recover inflight counters orphaned by a previous crash.
	if err := state.ResetInflight(); err != nil {
		d.logger.Warn("inflight reset failed", "error", err)
	}

	d.queue = actions.NewQueue(d.registry, state,
		actions.WithWorkers(cfg.Workers),
		actions.WithLLMClient(d.llmClient),
		actions.WithEmitter(d.eventLog),
		actions.WithQueueMetrics(d.metrics),
		actions.WithQueueLogger(d.logger),
		actions.WithProjectDirResolver(resolver.Dir),
	)

	loaded := hooks.LoadDir(config.HooksDir(home), d.logger)
	d.dispatcher = hooks.NewDispatcher(loaded, state, d.queue, config.PendingActionsPath(home),
		hooks.WithDispatcherLogger(d.logger),
		hooks.WithAllowLLM(false),
	)
	d.eventLog.SetDispatcher(d.dispatcher)

	d.scheduler = schedule.NewEngine(config.SchedulesPath(home), d.eventLog,
		schedule.WithEngineLogger(d.logger),
		schedule.WithEngineMetrics(d.metrics),
	)

	return d, nil
}

// EventLog exposes the daemon's event emitter.
func (d *Daemon) EventLog() *events.Log {
	return d.eventLog
}

// Registry exposes the daemon's tool registry.
func (d *Daemon) Registry() *tools.Registry {
	return d.registry
}

// Run starts jobs and workers, then ticks until the context is
// canceled: scheduler first, then a full event-queue drain.
func (d *Daemon) Run(ctx context.Context) error {
	d.queue.Start()
	d.startJobs()
	d.startMetrics()
	d.logger.Info("daemon started",
		"home", d.home,
		"tick_interval_s", d.cfg.TickIntervalSeconds,
		"workers", d.cfg.Workers,
		"hooks", len(d.dispatcher.Hooks()),
		"jobs", len(d.jobs),
	)

	ticker := time.NewTicker(time.Duration(d.cfg.TickIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case now := <-ticker.C:
			d.tick(ctx, now)
		}
	}
}

func (d *Daemon) tick(ctx context.Context, now time.Time) {
	if _, err := d.scheduler.Tick(ctx, now); err != nil {
		d.logger.Error("scheduler tick failed", "error", err)
	}
	if n := d.eventLog.Drain(ctx); n > 0 {
		d.logger.Debug("drained events", "count", n)
	}
}

func (d *Daemon) startJobs() {
	descriptors, err := jobs.LoadDir(config.JobsDir(d.home), d.logger)
	if err != nil {
		d.logger.Error("job discovery failed", "error", err)
		return
	}
	stateDir := config.JobStateDir(d.home)
	if err := store.EnsureDir(stateDir); err != nil {
		d.logger.Error("job state dir", "error", err)
		return
	}
	for _, desc := range descriptors {
		d.jobs = append(d.jobs, jobs.Start(desc, d.eventLog, stateDir, d.logger))
	}
}

func (d *Daemon) startMetrics() {
	if d.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	d.metricsServer = &http.Server{Addr: d.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := d.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("metrics server failed", "error", err)
		}
	}()
}

func (d *Daemon) shutdown() {
	d.logger.Info("daemon stopping")
	for _, job := range d.jobs {
		job.Stop()
	}
	d.eventLog.Drain(context.Background())
	d.queue.WaitForIdle(10 * time.Second)
	d.queue.Stop()
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = d.metricsServer.Shutdown(shutdownCtx)
	}
}
