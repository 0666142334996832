package runtime

import (
	"path/filepath"
	"time"

	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/taskgraph"
)

// RunStatus is the run-level lifecycle state.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// NodeStatus is the per-node lifecycle state. Transitions are monotonic:
// pending, running, then exactly one terminal state.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeCanceled  NodeStatus = "canceled"
	NodeSkipped   NodeStatus = "skipped"
)

// NodeState records one node's progress inside a run.
type NodeState struct {
	Status     NodeStatus `json:"status"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	OutputPath string     `json:"output_path,omitempty"`
}

// RunState is the durable run record, rewritten atomically on every
// transition.
type RunState struct {
	RunID     string                `json:"run_id"`
	Status    RunStatus             `json:"status"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   *time.Time            `json:"ended_at,omitempty"`
	Session   map[string]any        `json:"session"`
	Variables map[string]any        `json:"variables"`
	Nodes     map[string]*NodeState `json:"nodes"`
}

// NewRunState initializes a run with every node pending and the session
// seeded from graph defaults plus caller variables.
func NewRunState(runID string, g *taskgraph.Graph, variables map[string]any, now time.Time) *RunState {
	session := make(map[string]any, len(g.SessionDefaults)+len(variables))
	for k, v := range g.SessionDefaults {
		session[k] = v
	}
	for k, v := range variables {
		session[k] = v
	}
	mirror := make(map[string]any, len(session))
	for k, v := range session {
		mirror[k] = v
	}

	nodes := make(map[string]*NodeState, len(g.Nodes))
	for _, node := range g.Nodes {
		nodes[node.ID] = &NodeState{Status: NodePending}
	}
	return &RunState{
		RunID:     runID,
		Status:    RunRunning,
		StartedAt: now.UTC(),
		Session:   session,
		Variables: mirror,
		Nodes:     nodes,
	}
}

// SetSession stores a node output under a session key, mirrored into
// variables for compatibility.
func (s *RunState) SetSession(key string, value any) {
	s.Session[key] = value
	s.Variables[key] = value
}

// RunDir paths.
const (
	stateFile    = "state.json"
	graphFile    = "graph.resolved.json"
	eventsFile   = "events.jsonl"
	cancelFile   = "cancel.json"
	stepsDirName = "docs/steps"
)

// StatePath returns the state file path inside a run directory.
func StatePath(runDir string) string {
	return filepath.Join(runDir, stateFile)
}

// CancelPath returns the cancel marker path inside a run directory.
func CancelPath(runDir string) string {
	return filepath.Join(runDir, cancelFile)
}

// SaveState persists the run state atomically.
func SaveState(runDir string, s *RunState) error {
	return store.WriteJSONAtomic(StatePath(runDir), s)
}

// LoadState reads a run state from disk.
func LoadState(runDir string) (*RunState, error) {
	var s RunState
	if err := store.ReadJSON(StatePath(runDir), &s); err != nil {
		return nil, err
	}
	return &s, nil
}
