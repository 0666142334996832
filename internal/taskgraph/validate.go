package taskgraph

import (
	"sort"
	"strings"

	"github.com/amonhq/amon/internal/errs"
)

// Validate checks the structural invariants of a graph: non-empty
// objective and nodes, unique node IDs, edges between existing nodes,
// acyclicity, and well-formed per-node settings.
func Validate(g *Graph) error {
	if g == nil {
		return errs.New(errs.KindValidationFailed, "graph is nil")
	}
	if strings.TrimSpace(g.Objective) == "" {
		return errs.New(errs.KindValidationFailed, "objective must be non-empty")
	}
	if len(g.Nodes) == 0 {
		return errs.New(errs.KindValidationFailed, "graph has no nodes")
	}

	ids := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if strings.TrimSpace(node.ID) == "" {
			return errs.New(errs.KindValidationFailed, "node %d has empty id", i)
		}
		if ids[node.ID] {
			return errs.New(errs.KindValidationFailed, "duplicate node id %q", node.ID)
		}
		ids[node.ID] = true

		for j, step := range node.Steps {
			if step.Type == "tool" && strings.TrimSpace(step.ToolName) == "" {
				return errs.New(errs.KindValidationFailed, "node %q step %d: tool step requires tool_name", node.ID, j)
			}
		}
		if node.Retry != nil {
			if node.Retry.MaxAttempts < 1 {
				return errs.New(errs.KindValidationFailed, "node %q: retry.max_attempts must be >= 1", node.ID)
			}
			if node.Retry.BackoffS <= 0 {
				return errs.New(errs.KindValidationFailed, "node %q: retry.backoff_s must be > 0", node.ID)
			}
			if node.Retry.JitterS < 0 {
				return errs.New(errs.KindValidationFailed, "node %q: retry.jitter_s must be >= 0", node.ID)
			}
		}
		if node.Timeout != nil {
			if node.Timeout.InactivityS <= 0 || node.Timeout.HardS <= 0 {
				return errs.New(errs.KindValidationFailed, "node %q: timeout values must be > 0", node.ID)
			}
		}
	}

	for i, edge := range g.Edges {
		if !ids[edge.From] {
			return errs.New(errs.KindValidationFailed, "edge %d: unknown from node %q", i, edge.From)
		}
		if !ids[edge.To] {
			return errs.New(errs.KindValidationFailed, "edge %d: unknown to node %q", i, edge.To)
		}
	}

	if err := checkAcyclic(g); err != nil {
		return err
	}
	return nil
}

// checkAcyclic runs Kahn's algorithm; nodes left with positive in-degree
// after the queue drains sit on a cycle.
func checkAcyclic(g *Graph) error {
	inDegree := make(map[string]int, len(g.Nodes))
	adjacency := make(map[string][]string, len(g.Nodes))
	for _, node := range g.Nodes {
		inDegree[node.ID] = 0
	}
	for _, edge := range g.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		inDegree[edge.To]++
	}

	queue := make([]string, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		if inDegree[node.ID] == 0 {
			queue = append(queue, node.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range adjacency[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(g.Nodes) {
		var cyclic []string
		for id, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return errs.New(errs.KindValidationFailed, "graph contains a cycle involving %s", strings.Join(cyclic, ", "))
	}
	return nil
}
