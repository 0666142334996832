package runtime

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/amonhq/amon/internal/errs"
	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/taskgraph"
)

// Manager is the run API surface: start, status, and cancel over the
// run directory contract.
type Manager struct {
	runner *Runner
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewManager creates a manager executing runs through runner.
func NewManager(runner *Runner, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		runner: runner,
		logger: logger.With("component", "run_api"),
	}
}

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	return strings.ToLower(ulid.Make().String())
}

// StartRun loads and validates the graph, then executes it in the
// background, returning the run ID immediately. Run failures surface
// through state.json and the run event log.
func (m *Manager) StartRun(ctx context.Context, projectDir, graphPath string, variables map[string]any) (string, error) {
	raw, err := os.ReadFile(graphPath)
	if err != nil {
		return "", errs.Wrap(errs.KindNotFound, err, "read graph %s", graphPath)
	}
	g, err := taskgraph.Loads(string(raw))
	if err != nil {
		return "", err
	}

	runID := NewRunID()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.runner.Run(ctx, projectDir, g, runID, variables); err != nil {
			m.logger.Error("run failed", "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

// RunGraph executes an already-loaded graph synchronously under a fresh
// run ID. Used by the action queue for graph.run actions.
func (m *Manager) RunGraph(ctx context.Context, projectDir string, g *taskgraph.Graph, variables map[string]any) (string, error) {
	runID := NewRunID()
	return runID, m.runner.Run(ctx, projectDir, g, runID, variables)
}

// StatusRun reads the durable run state.
func (m *Manager) StatusRun(projectDir, runID string) (*RunState, error) {
	state, err := LoadState(RunDir(projectDir, runID))
	if err != nil {
		return nil, errs.Wrap(errs.KindNotFound, err, "run %s", runID)
	}
	return state, nil
}

// CancelRun drops a cancel marker in the run directory. The runner
// observes it at its next poll; already-finished runs are unaffected.
func (m *Manager) CancelRun(projectDir, runID string) error {
	runDir := RunDir(projectDir, runID)
	if _, err := os.Stat(runDir); err != nil {
		return errs.Wrap(errs.KindNotFound, err, "run %s", runID)
	}
	return store.WriteJSONAtomic(CancelPath(runDir), map[string]any{
		"cancelled_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// Wait blocks until all background runs finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}
