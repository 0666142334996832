// Package actions implements the asynchronous action queue: an unbounded
// FIFO of matched hook actions served by a configurable number of
// workers. Workers execute tool calls through the registry and graph
// runs through a per-action runtime, and always release the originating
// hook's inflight slot.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/hooks"
	"github.com/amonhq/amon/internal/llm"
	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/taskgraph"
	"github.com/amonhq/amon/internal/taskgraph/runtime"
	"github.com/amonhq/amon/internal/tools"
)

const (
	defaultActionTimeout = 30 * time.Second
	minActionTimeout     = time.Second
	stopJoinTimeout      = 5 * time.Second
)

// Queue is the action FIFO plus its worker pool. It satisfies
// hooks.ActionSink.
type Queue struct {
	registry   *tools.Registry
	state      *hooks.StateStore
	llmClient  llm.Client
	emitter    *events.Log
	metrics    *observability.Metrics
	logger     *slog.Logger
	workers    int
	timeout    time.Duration
	projectDir func(projectID string) string
	newID      func() string

	mu         sync.Mutex
	cond       *sync.Cond
	items      []*hooks.QueuedAction
	unfinished int
	stopped    bool

	wg sync.WaitGroup
}

// QueueOption customizes a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the worker count (default 1).
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithActionTimeout sets the deadline applied to tool.call actions.
// Values below one second are clamped up. Graph runs enforce their own
// per-node timeouts instead.
func WithActionTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d < minActionTimeout {
			d = minActionTimeout
		}
		q.timeout = d
	}
}

// WithLLMClient sets the model client handed to graph runs.
func WithLLMClient(client llm.Client) QueueOption {
	return func(q *Queue) { q.llmClient = client }
}

// WithEmitter sets the event log graph runs emit into.
func WithEmitter(l *events.Log) QueueOption {
	return func(q *Queue) { q.emitter = l }
}

// WithQueueMetrics sets the metrics collector.
func WithQueueMetrics(m *observability.Metrics) QueueOption {
	return func(q *Queue) { q.metrics = m }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(l *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = l }
}

// WithProjectDirResolver maps event project IDs to project directories
// for graph.run actions.
func WithProjectDirResolver(resolve func(projectID string) string) QueueOption {
	return func(q *Queue) { q.projectDir = resolve }
}

// WithIDFunc overrides action ID generation, for tests.
func WithIDFunc(newID func() string) QueueOption {
	return func(q *Queue) { q.newID = newID }
}

// NewQueue creates a stopped queue; call Start to spawn workers.
func NewQueue(registry *tools.Registry, state *hooks.StateStore, opts ...QueueOption) *Queue {
	q := &Queue{
		registry:   registry,
		state:      state,
		logger:     slog.Default(),
		workers:    1,
		timeout:    defaultActionTimeout,
		projectDir: func(string) string { return "." },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "action_queue")
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends an action and returns its stable ID. Never blocks.
func (q *Queue) Enqueue(action *hooks.QueuedAction) string {
	if action.ActionID == "" {
		action.ActionID = q.newID()
	}

	q.mu.Lock()
	q.items = append(q.items, action)
	q.unfinished++
	q.mu.Unlock()
	q.cond.Signal()

	if q.metrics != nil {
		q.metrics.QueueDepth.Inc()
	}
	return action.ActionID
}

// Start spawns the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.stopped {
			q.mu.Unlock()
			return
		}
		action := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if q.metrics != nil {
			q.metrics.QueueDepth.Dec()
		}
		q.run(action)

		q.mu.Lock()
		q.unfinished--
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// run executes one action. Panics and errors are logged; the worker
// never exits due to user-code failure.
func (q *Queue) run(action *hooks.QueuedAction) {
	status := "success"
	defer func() {
		if rec := recover(); rec != nil {
			status = "error"
			q.logger.Error("action panicked", "action_id", action.ActionID, "hook_id", action.HookID, "panic", rec)
		}
		q.release(action)
		if q.metrics != nil {
			q.metrics.ActionsExecuted.WithLabelValues(string(action.Type), status).Inc()
		}
	}()

	var err error
	switch action.Type {
	case hooks.ActionToolCall:
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		err = q.runToolCall(ctx, action)
		cancel()
	case hooks.ActionGraphRun:
		// Graph runs are bounded per node by the runtime's hard timeout
		// and the cancel marker, not by the tool-call deadline.
		ctx, cancel := context.WithCancel(context.Background())
		err = q.runGraph(ctx, action)
		cancel()
	default:
		err = fmt.Errorf("unknown action type %q", action.Type)
	}
	if err != nil {
		status = "error"
		q.logger.Error("action failed", "action_id", action.ActionID, "hook_id", action.HookID, "type", action.Type, "error", err)
	}
}

func (q *Queue) runToolCall(ctx context.Context, action *hooks.QueuedAction) error {
	call := &tools.Call{
		Tool:   action.Tool,
		Args:   action.Args,
		Caller: "hook:" + action.HookID,
	}
	if action.Event != nil {
		call.ProjectID = action.Event.ProjectID
		call.EventID = action.Event.EventID
	}

	result := q.registry.Call(ctx, call, false)
	if result.IsError {
		return fmt.Errorf("tool %s: %s: %s", action.Tool, result.Status(), result.Text())
	}
	return nil
}

// runGraph materializes a run directory with a trigger record carrying
// hook and event lineage, then constructs a runtime and executes the
// graph.
func (q *Queue) runGraph(ctx context.Context, action *hooks.QueuedAction) error {
	graphPath, _ := action.Args["graph_path"].(string)
	if graphPath == "" {
		return fmt.Errorf("graph.run requires args.graph_path")
	}
	raw, err := os.ReadFile(graphPath)
	if err != nil {
		return fmt.Errorf("read graph: %w", err)
	}
	g, err := taskgraph.Loads(string(raw))
	if err != nil {
		return err
	}

	projectID := ""
	if action.Event != nil {
		projectID = action.Event.ProjectID
	}
	projectDir := q.projectDir(projectID)
	runID := runtime.NewRunID()

	trigger := map[string]any{
		"action_id": action.ActionID,
		"hook_id":   action.HookID,
	}
	if action.Event != nil {
		trigger["event_id"] = action.Event.EventID
		trigger["event_type"] = action.Event.Type
	}
	runDir := runtime.RunDir(projectDir, runID)
	if err := store.WriteJSONAtomic(filepath.Join(runDir, "trigger.json"), trigger); err != nil {
		return fmt.Errorf("write trigger: %w", err)
	}

	variables, _ := action.Args["variables"].(map[string]any)
	runner := runtime.NewRunner(q.registry,
		runtime.WithLLM(q.llmClient),
		runtime.WithEmitter(q.emitter),
		runtime.WithRunnerMetrics(q.metrics),
		runtime.WithRunnerLogger(q.logger),
		runtime.WithAllowLLM(action.AllowLLM),
	)
	return runner.Run(ctx, projectDir, g, runID, variables)
}

// release returns the originating hook's inflight slot.
func (q *Queue) release(action *hooks.QueuedAction) {
	if q.state == nil || action.HookID == "" {
		return
	}
	if err := q.state.Release(action.HookID); err != nil {
		q.logger.Warn("inflight release failed", "hook_id", action.HookID, "error", err)
	}
}

// WaitForIdle blocks until every enqueued action has finished or the
// timeout elapses. Returns true when idle.
func (q *Queue) WaitForIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.unfinished > 0 {
			q.cond.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		// Wake the waiter goroutine so it can exit eventually.
		q.cond.Broadcast()
		return false
	}
}

// Stop flags shutdown and joins workers, bounded by a timeout.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.cond.Broadcast()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		q.logger.Warn("workers did not stop before timeout")
	}
}
