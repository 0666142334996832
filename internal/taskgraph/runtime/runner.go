// Package runtime executes task graphs: topological node scheduling,
// durable run state, cancellation, and per-node retry.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/events"
	"github.com/amonhq/amon/internal/llm"
	"github.com/amonhq/amon/internal/observability"
	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/taskgraph"
	"github.com/amonhq/amon/internal/tools"
)

const (
	defaultHardTimeout = 10 * time.Minute
	cancelPollInterval = 100 * time.Millisecond
)

// ToolDispatcher dispatches tool calls issued by tool nodes. Satisfied
// by tools.Registry.
type ToolDispatcher interface {
	Call(ctx context.Context, call *tools.Call, requireApproval bool) *tools.Result
}

// Runner executes one graph per Run call. Safe for concurrent runs.
type Runner struct {
	dispatcher ToolDispatcher
	llm        llm.Client
	executor   *Executor
	emitter    *events.Log
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
	allowLLM   bool
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLLM sets the model client used by LLM nodes.
func WithLLM(client llm.Client) RunnerOption {
	return func(r *Runner) { r.llm = client }
}

// WithExecutor sets the node executor.
func WithExecutor(e *Executor) RunnerOption {
	return func(r *Runner) { r.executor = e }
}

// WithEmitter sets the event log for operational events such as
// policy.llm_blocked.
func WithEmitter(l *events.Log) RunnerOption {
	return func(r *Runner) { r.emitter = l }
}

// WithRunnerMetrics sets the metrics collector counting node executions.
func WithRunnerMetrics(m *observability.Metrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithRunnerNow overrides the clock, for tests.
func WithRunnerNow(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithAllowLLM controls whether LLM nodes may execute. Daemon-triggered
// runs pass false; LLM nodes then fail policy-blocked.
func WithAllowLLM(allow bool) RunnerOption {
	return func(r *Runner) { r.allowLLM = allow }
}

// NewRunner creates a runner dispatching tool steps through d.
func NewRunner(d ToolDispatcher, opts ...RunnerOption) *Runner {
	r := &Runner{
		dispatcher: d,
		executor:   NewExecutor(),
		logger:     slog.Default(),
		now:        time.Now,
		allowLLM:   true,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "graph_runner")
	return r
}

// RunDir computes the run directory for a project and run ID.
func RunDir(projectDir, runID string) string {
	return filepath.Join(projectDir, ".amon", "runs", runID)
}

// Run executes the graph to completion, cancellation, or first failure.
// State is persisted on every transition; on node failure the error is
// returned after the failed state has been written.
func (r *Runner) Run(ctx context.Context, projectDir string, g *taskgraph.Graph, runID string, variables map[string]any) error {
	if err := taskgraph.Validate(g); err != nil {
		return err
	}

	runDir := RunDir(projectDir, runID)
	if err := store.EnsureDir(filepath.Join(runDir, stepsDirName)); err != nil {
		return err
	}
	resolved, err := taskgraph.Dumps(g)
	if err != nil {
		return err
	}
	if err := store.WriteTextAtomic(filepath.Join(runDir, graphFile), string(resolved)); err != nil {
		return err
	}

	state := NewRunState(runID, g, variables, r.now())
	if err := SaveState(runDir, state); err != nil {
		return err
	}
	r.appendRunEvent(runDir, "run_start", map[string]any{"run_id": runID})

	nodesByID := make(map[string]*taskgraph.Node, len(g.Nodes))
	inDegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		nodesByID[node.ID] = node
		inDegree[node.ID] = 0
	}
	for _, edge := range g.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		inDegree[edge.To]++
	}
	var ready []string
	for _, node := range g.Nodes {
		if inDegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	for len(ready) > 0 {
		if r.cancelRequested(ctx, runDir) {
			return r.finishCanceled(runDir, state, "")
		}

		id := ready[0]
		ready = ready[1:]
		node := nodesByID[id]
		ns := state.Nodes[id]

		startedAt := r.now().UTC()
		ns.Status = NodeRunning
		ns.StartedAt = &startedAt
		if err := SaveState(runDir, state); err != nil {
			return err
		}
		r.appendRunEvent(runDir, "node_start", map[string]any{"node_id": id})

		var nodeErr error
		if node.IsToolNode() {
			nodeErr = r.runToolNode(ctx, runDir, state, node, runID)
		} else {
			nodeErr = r.runLLMNode(ctx, runDir, state, node, runID)
		}

		endedAt := r.now().UTC()
		ns.EndedAt = &endedAt

		if nodeErr != nil {
			if errs.Is(nodeErr, errs.KindCanceled) {
				return r.finishCanceled(runDir, state, id)
			}
			ns.Status = NodeFailed
			ns.Error = nodeErr.Error()
			state.Status = RunFailed
			state.EndedAt = &endedAt
			if err := SaveState(runDir, state); err != nil {
				r.logger.Error("persist failed state", "error", err, "run_id", runID)
			}
			r.countNode(NodeFailed)
			r.appendRunEvent(runDir, "node_failed", map[string]any{"node_id": id, "error": nodeErr.Error()})
			r.appendRunEvent(runDir, "run_failed", map[string]any{"node_id": id, "error": nodeErr.Error()})
			return nodeErr
		}

		ns.Status = NodeCompleted
		if err := SaveState(runDir, state); err != nil {
			return err
		}
		r.countNode(NodeCompleted)
		r.appendRunEvent(runDir, "node_complete", map[string]any{"node_id": id})

		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}

	endedAt := r.now().UTC()
	state.Status = RunCompleted
	state.EndedAt = &endedAt
	if err := SaveState(runDir, state); err != nil {
		return err
	}
	r.appendRunEvent(runDir, "run_complete", nil)
	return nil
}

// runToolNode executes each tool step in order, storing result text in
// the session.
func (r *Runner) runToolNode(ctx context.Context, runDir string, state *RunState, node *taskgraph.Node, runID string) error {
	steps := node.Steps
	if len(steps) == 0 {
		// Tooling node declared through node.tools: one implicit step per
		// declared tool.
		for _, ref := range node.Tools {
			steps = append(steps, taskgraph.Step{Type: "tool", ToolName: ref.Name})
		}
	}

	for i, step := range steps {
		if r.cancelRequested(ctx, runDir) {
			return errs.New(errs.KindCanceled, "cancel requested")
		}
		r.appendRunEvent(runDir, "tool_request", map[string]any{
			"node_id": node.ID,
			"tool":    step.ToolName,
			"step":    i,
		})

		result := r.dispatcher.Call(ctx, &tools.Call{
			Tool:   step.ToolName,
			Args:   step.Args,
			Caller: "graph_runner",
			RunID:  runID,
			NodeID: node.ID,
		}, false)

		r.appendRunEvent(runDir, "tool_result", map[string]any{
			"node_id":  node.ID,
			"tool":     step.ToolName,
			"step":     i,
			"is_error": result.IsError,
			"status":   result.Status(),
		})
		if result.IsError {
			return errs.New(errs.KindExecutionFailed, "tool %s failed: %s", step.ToolName, result.Text())
		}

		key := sessionKey(step, node)
		if key != "" {
			state.SetSession(key, result.Text())
		}
	}
	return nil
}

// sessionKey picks where a step result lands: store_as, then tool name,
// then the node's sole writes key.
func sessionKey(step taskgraph.Step, node *taskgraph.Node) string {
	if step.StoreAs != "" {
		return step.StoreAs
	}
	if step.ToolName != "" {
		return step.ToolName
	}
	if len(node.Writes) == 1 {
		for key := range node.Writes {
			return key
		}
	}
	return ""
}

// runLLMNode builds messages from the node's role, description, and read
// session keys, streams the model call, extracts output, and writes the
// raw text under docs/steps.
func (r *Runner) runLLMNode(ctx context.Context, runDir string, state *RunState, node *taskgraph.Node, runID string) error {
	if !r.allowLLM {
		r.emit(ctx, &events.Event{
			Type:   "policy.llm_blocked",
			Scope:  events.ScopePolicy,
			Actor:  "graph_runner",
			RunID:  runID,
			NodeID: node.ID,
			Payload: map[string]any{
				"reason": "llm disabled for daemon-triggered runs",
			},
		})
		return errs.New(errs.KindPolicyDenied, "llm calls are blocked in this context")
	}
	if r.llm == nil {
		return errs.New(errs.KindExecutionFailed, "no llm client configured")
	}

	messages := buildMessages(node, state)
	producer := func(ctx context.Context, messages []llm.Message) (string, error) {
		return r.streamCall(ctx, runDir, node, messages)
	}

	raw, value, err := r.executor.Execute(ctx, producer, messages, node.Output, node.Retry,
		func(attempt int, cause error) {
			r.appendRunEvent(runDir, "node_retry", map[string]any{
				"node_id": node.ID,
				"attempt": attempt,
				"error":   cause.Error(),
			})
		})
	if err != nil {
		return err
	}

	outputPath, err := r.writeStepDoc(runDir, node.ID, raw)
	if err != nil {
		return err
	}
	state.Nodes[node.ID].OutputPath = outputPath

	storeOutput(state, node, value)
	return nil
}

// buildMessages assembles the node prompt: system from role, user from
// description plus each read session key.
func buildMessages(node *taskgraph.Node, state *RunState) []llm.Message {
	var messages []llm.Message
	if strings.TrimSpace(node.Role) != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: node.Role})
	}
	var user strings.Builder
	user.WriteString(node.Description)
	for _, key := range node.Reads {
		value, ok := state.Session[key]
		if !ok {
			continue
		}
		fmt.Fprintf(&user, "\n\n[session:%s]\n%v", key, value)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user.String()})
	return messages
}

// storeOutput places the extracted value into the session per the node's
// writes declaration.
func storeOutput(state *RunState, node *taskgraph.Node, value any) {
	switch len(node.Writes) {
	case 0:
	case 1:
		for key := range node.Writes {
			state.SetSession(key, value)
		}
	default:
		obj, ok := value.(map[string]any)
		if !ok {
			return
		}
		for key := range node.Writes {
			if v, present := obj[key]; present {
				state.SetSession(key, v)
			}
		}
	}
}

// streamCall runs one streaming model call, polling for cancellation
// every 100ms and enforcing the node's hard timeout.
func (r *Runner) streamCall(ctx context.Context, runDir string, node *taskgraph.Node, messages []llm.Message) (string, error) {
	hard := defaultHardTimeout
	if node.Timeout != nil && node.Timeout.HardS > 0 {
		hard = time.Duration(node.Timeout.HardS * float64(time.Second))
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	system, rest := llm.SplitSystem(messages)
	req := llm.Request{System: system, Messages: rest}
	if node.LLM != nil {
		req.Model = node.LLM.Model
		req.MaxTokens = node.LLM.MaxTokens
		req.Temperature = node.LLM.Temperature
	}

	chunks, err := r.llm.Stream(callCtx, req)
	if err != nil {
		return "", err
	}

	deadline := time.NewTimer(hard)
	defer deadline.Stop()
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	var text strings.Builder
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return text.String(), nil
			}
			if chunk.Err != nil {
				return "", errs.Wrap(errs.KindExecutionFailed, chunk.Err, "llm stream")
			}
			text.WriteString(chunk.Text)
		case <-ticker.C:
			if r.cancelRequested(ctx, runDir) {
				return "", errs.New(errs.KindCanceled, "cancel requested")
			}
		case <-deadline.C:
			return "", errs.New(errs.KindTimeout, "node hard timeout")
		case <-ctx.Done():
			return "", errs.Wrap(errs.KindCanceled, ctx.Err(), "llm call")
		}
	}
}

// writeStepDoc persists the raw node text under docs/steps. The relative
// path must resolve under docs or audits.
func (r *Runner) writeStepDoc(runDir, nodeID, text string) (string, error) {
	rel := filepath.Join("docs", "steps", nodeID+".md")
	if err := store.ValidateRelativePath(rel); err != nil {
		return "", err
	}
	top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if top != "docs" && top != "audits" {
		return "", errs.New(errs.KindWorkspaceViolation, "step output must live under docs or audits")
	}
	path := filepath.Join(runDir, rel)
	if err := store.WriteTextAtomic(path, text); err != nil {
		return "", err
	}
	return rel, nil
}

// cancelRequested reports whether the context is done or a cancel marker
// has appeared in the run directory.
func (r *Runner) cancelRequested(ctx context.Context, runDir string) bool {
	if ctx.Err() != nil {
		return true
	}
	_, err := os.Stat(CancelPath(runDir))
	return err == nil
}

// finishCanceled marks the run and the named in-flight node canceled.
func (r *Runner) finishCanceled(runDir string, state *RunState, nodeID string) error {
	endedAt := r.now().UTC()
	if nodeID != "" {
		if ns := state.Nodes[nodeID]; ns != nil {
			ns.Status = NodeCanceled
			ns.EndedAt = &endedAt
		}
	}
	state.Status = RunCanceled
	state.EndedAt = &endedAt
	if err := SaveState(runDir, state); err != nil {
		r.logger.Error("persist canceled state", "error", err, "run_id", state.RunID)
	}
	if nodeID != "" {
		r.countNode(NodeCanceled)
		r.appendRunEvent(runDir, "node_canceled", map[string]any{"node_id": nodeID})
	}
	r.appendRunEvent(runDir, "run_canceled", map[string]any{"node_id": nodeID})
	return nil
}

// appendRunEvent writes one record to the run-local event log. Failures
// are logged and swallowed.
func (r *Runner) appendRunEvent(runDir, name string, fields map[string]any) {
	record := map[string]any{
		"event":     name,
		"timestamp": r.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range fields {
		record[k] = v
	}
	if err := store.AppendJSONL(filepath.Join(runDir, eventsFile), record); err != nil {
		r.logger.Warn("run event write failed", "error", err, "event", name)
	}
}

func (r *Runner) countNode(status NodeStatus) {
	if r.metrics == nil {
		return
	}
	r.metrics.NodeExecutions.WithLabelValues(string(status)).Inc()
}

func (r *Runner) emit(ctx context.Context, event *events.Event) {
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(ctx, event, true)
}
