package actions

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/amonhq/amon/internal/hooks"
	"github.com/amonhq/amon/internal/taskgraph"
	"github.com/amonhq/amon/internal/taskgraph/runtime"
	"github.com/amonhq/amon/internal/tools"
	"github.com/amonhq/amon/internal/tools/policy"
)

type callRecorder struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (c *callRecorder) record(args map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, args)
}

func (c *callRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newTestQueue(t *testing.T, opts ...QueueOption) (*Queue, *hooks.StateStore, *callRecorder) {
	t.Helper()
	rec := &callRecorder{}
	registry := tools.NewRegistry(tools.WithPolicy(&policy.Policy{Allow: []string{"**"}}))
	registry.Register(tools.Spec{Name: "recorder"}, func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		rec.record(call.Args)
		return tools.TextResult("ok"), nil
	})
	registry.Register(tools.Spec{Name: "panicker"}, func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		panic("handler exploded")
	})

	state, err := hooks.NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueue(registry, state, opts...)
	q.Start()
	t.Cleanup(q.Stop)
	return q, state, rec
}

func TestQueue_ToolCallExecutesAndReleases(t *testing.T) {
	q, state, rec := newTestQueue(t)

	if err := state.MarkTriggered("h1", "", time.Now()); err != nil {
		t.Fatal(err)
	}
	if got := state.Get("h1").Inflight; got != 1 {
		t.Fatalf("inflight before: %d", got)
	}

	id := q.Enqueue(&hooks.QueuedAction{
		HookID: "h1",
		Type:   hooks.ActionToolCall,
		Tool:   "recorder",
		Args:   map[string]any{"path": "docs/readme.txt"},
	})
	if id == "" {
		t.Fatal("empty action id")
	}
	if !q.WaitForIdle(5 * time.Second) {
		t.Fatal("queue never idled")
	}

	if rec.count() != 1 {
		t.Errorf("tool calls: %d", rec.count())
	}
	if got := state.Get("h1").Inflight; got != 0 {
		t.Errorf("inflight after: %d", got)
	}
}

func TestQueue_FailureReleasesAndWorkerSurvives(t *testing.T) {
	q, state, rec := newTestQueue(t)

	if err := state.MarkTriggered("h1", "", time.Now()); err != nil {
		t.Fatal(err)
	}
	q.Enqueue(&hooks.QueuedAction{HookID: "h1", Type: hooks.ActionToolCall, Tool: "panicker"})
	if !q.WaitForIdle(5 * time.Second) {
		t.Fatal("queue never idled")
	}
	if got := state.Get("h1").Inflight; got != 0 {
		t.Errorf("inflight after failure: %d", got)
	}

	// The worker must keep serving.
	if err := state.MarkTriggered("h1", "", time.Now()); err != nil {
		t.Fatal(err)
	}
	q.Enqueue(&hooks.QueuedAction{HookID: "h1", Type: hooks.ActionToolCall, Tool: "recorder"})
	if !q.WaitForIdle(5 * time.Second) {
		t.Fatal("queue never idled after failure")
	}
	if rec.count() != 1 {
		t.Errorf("follow-up call not executed: %d", rec.count())
	}
}

func TestQueue_UnknownActionType(t *testing.T) {
	q, state, _ := newTestQueue(t)
	if err := state.MarkTriggered("h1", "", time.Now()); err != nil {
		t.Fatal(err)
	}
	q.Enqueue(&hooks.QueuedAction{HookID: "h1", Type: hooks.ActionType("bogus")})
	if !q.WaitForIdle(5 * time.Second) {
		t.Fatal("queue never idled")
	}
	if got := state.Get("h1").Inflight; got != 0 {
		t.Errorf("inflight: %d", got)
	}
}

func TestQueue_GraphRun(t *testing.T) {
	projectDir := t.TempDir()
	q, _, rec := newTestQueue(t, WithProjectDirResolver(func(string) string { return projectDir }))

	g := &taskgraph.Graph{
		Objective: "exercise a tool",
		Nodes: []taskgraph.Node{{
			ID:    "only",
			Steps: []taskgraph.Step{{Type: "tool", ToolName: "recorder", Args: map[string]any{"from": "graph"}}},
		}},
	}
	data, err := taskgraph.Dumps(g)
	if err != nil {
		t.Fatal(err)
	}
	graphPath := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(graphPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	q.Enqueue(&hooks.QueuedAction{
		HookID: "h1",
		Type:   hooks.ActionGraphRun,
		Args:   map[string]any{"graph_path": graphPath},
	})
	if !q.WaitForIdle(10 * time.Second) {
		t.Fatal("queue never idled")
	}
	if rec.count() != 1 {
		t.Fatalf("graph tool step not executed: %d", rec.count())
	}

	// Exactly one run dir with a trigger record carrying the lineage.
	runsDir := filepath.Join(projectDir, ".amon", "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("runs dir: %v, %v", entries, err)
	}
	if _, err := os.Stat(filepath.Join(runsDir, entries[0].Name(), "trigger.json")); err != nil {
		t.Errorf("trigger.json missing: %v", err)
	}
	state, err := runtime.LoadState(filepath.Join(runsDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if state.Status != runtime.RunCompleted {
		t.Errorf("run status: %s", state.Status)
	}
}

func TestQueue_GraphRunOutlivesToolCallDeadline(t *testing.T) {
	projectDir := t.TempDir()
	registry := tools.NewRegistry(tools.WithPolicy(&policy.Policy{Allow: []string{"**"}}))
	registry.Register(tools.Spec{Name: "slow"}, func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		select {
		case <-time.After(1500 * time.Millisecond):
			return tools.TextResult("done"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	state, err := hooks.NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueue(registry, state,
		WithActionTimeout(time.Second),
		WithProjectDirResolver(func(string) string { return projectDir }),
	)
	q.Start()
	t.Cleanup(q.Stop)

	g := &taskgraph.Graph{
		Objective: "long-running tool step",
		Nodes: []taskgraph.Node{{
			ID:      "only",
			Steps:   []taskgraph.Step{{Type: "tool", ToolName: "slow"}},
			Timeout: &taskgraph.Timeout{InactivityS: 30, HardS: 60},
		}},
	}
	data, err := taskgraph.Dumps(g)
	if err != nil {
		t.Fatal(err)
	}
	graphPath := filepath.Join(t.TempDir(), "graph.json")
	if err := os.WriteFile(graphPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	q.Enqueue(&hooks.QueuedAction{
		HookID: "h1",
		Type:   hooks.ActionGraphRun,
		Args:   map[string]any{"graph_path": graphPath},
	})
	if !q.WaitForIdle(10 * time.Second) {
		t.Fatal("queue never idled")
	}

	runsDir := filepath.Join(projectDir, ".amon", "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("runs dir: %v, %v", entries, err)
	}
	runState, err := runtime.LoadState(filepath.Join(runsDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if runState.Status != runtime.RunCompleted {
		t.Errorf("run status: %s", runState.Status)
	}
}

func TestQueue_WaitForIdleTimeout(t *testing.T) {
	rec := &callRecorder{}
	registry := tools.NewRegistry(tools.WithPolicy(&policy.Policy{Allow: []string{"**"}}))
	blocker := make(chan struct{})
	registry.Register(tools.Spec{Name: "slow"}, func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		<-blocker
		rec.record(call.Args)
		return tools.TextResult("ok"), nil
	})
	state, err := hooks.NewStateStore(filepath.Join(t.TempDir(), "state.json"))
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueue(registry, state)
	q.Start()
	defer q.Stop()

	q.Enqueue(&hooks.QueuedAction{Type: hooks.ActionToolCall, Tool: "slow"})
	if q.WaitForIdle(100 * time.Millisecond) {
		t.Error("expected timeout while action is blocked")
	}
	close(blocker)
	if !q.WaitForIdle(5 * time.Second) {
		t.Error("queue never idled after unblock")
	}
}
