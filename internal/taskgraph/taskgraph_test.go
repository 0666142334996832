package taskgraph

import (
	"bytes"
	"strings"
	"testing"

	"github.com/amonhq/amon/internal/errs"
)

func validGraph() *Graph {
	return &Graph{
		SchemaVersion: SchemaVersion,
		Objective:     "summarize the docs",
		Nodes: []Node{
			{ID: "gather", Steps: []Step{{Type: "tool", ToolName: "filesystem.list", Args: map[string]any{"path": "docs"}}}},
			{ID: "summarize", Description: "write a summary", Writes: map[string]string{"summary": "string"}},
		},
		Edges: []Edge{{From: "gather", To: "summarize"}},
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validGraph()); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Graph)
	}{
		{"empty objective", func(g *Graph) { g.Objective = "  " }},
		{"no nodes", func(g *Graph) { g.Nodes = nil }},
		{"duplicate id", func(g *Graph) { g.Nodes[1].ID = "gather" }},
		{"empty node id", func(g *Graph) { g.Nodes[0].ID = "" }},
		{"edge to unknown node", func(g *Graph) { g.Edges[0].To = "missing" }},
		{"edge from unknown node", func(g *Graph) { g.Edges[0].From = "missing" }},
		{"tool step without tool_name", func(g *Graph) { g.Nodes[0].Steps[0].ToolName = "" }},
		{"bad retry attempts", func(g *Graph) { g.Nodes[1].Retry = &Retry{MaxAttempts: 0, BackoffS: 1} }},
		{"bad backoff", func(g *Graph) { g.Nodes[1].Retry = &Retry{MaxAttempts: 2, BackoffS: 0} }},
		{"bad timeout", func(g *Graph) { g.Nodes[1].Timeout = &Timeout{InactivityS: 0, HardS: 10} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := validGraph()
			tt.mutate(g)
			if err := Validate(g); !errs.Is(err, errs.KindValidationFailed) {
				t.Errorf("expected validation failure, got %v", err)
			}
		})
	}
}

func TestValidate_Cycle(t *testing.T) {
	g := validGraph()
	g.Edges = append(g.Edges, Edge{From: "summarize", To: "gather"})
	err := Validate(g)
	if !errs.Is(err, errs.KindValidationFailed) {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error should mention cycle: %v", err)
	}
}

func TestDumps_Deterministic(t *testing.T) {
	a, err := Dumps(validGraph())
	if err != nil {
		t.Fatal(err)
	}
	b, err := Dumps(validGraph())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("dumps not byte-equal:\n%s\n%s", a, b)
	}
	if bytes.Contains(a, []byte("\n")) {
		t.Errorf("expected compact output: %s", a)
	}
}

func TestLoads_RoundTrip(t *testing.T) {
	data, err := Dumps(validGraph())
	if err != nil {
		t.Fatal(err)
	}
	g, err := Loads(string(data))
	if err != nil {
		t.Fatalf("loads: %v", err)
	}
	if len(g.Nodes) != 2 || g.Nodes[0].ID != "gather" {
		t.Errorf("round trip lost data: %+v", g)
	}
}

func TestLoads_CodeFence(t *testing.T) {
	data, _ := Dumps(validGraph())
	wrapped := "```json\n" + string(data) + "\n```"
	if _, err := Loads(wrapped); err != nil {
		t.Fatalf("fenced graph rejected: %v", err)
	}
}

func TestLoads_SurroundingChatter(t *testing.T) {
	data, _ := Dumps(validGraph())
	chatter := "Sure! Here is the plan you asked for:\n" + string(data) + "\nLet me know if you want changes."
	g, err := Loads(chatter)
	if err != nil {
		t.Fatalf("chatter-wrapped graph rejected: %v", err)
	}
	if g.Objective != "summarize the docs" {
		t.Errorf("objective: %q", g.Objective)
	}
}

func TestLoads_BracesInsideStrings(t *testing.T) {
	text := `noise {"schema_version":"2.0","objective":"braces { in } strings","nodes":[{"id":"n1"}]} trailing`
	g, err := Loads(text)
	if err != nil {
		t.Fatalf("loads: %v", err)
	}
	if g.Objective != "braces { in } strings" {
		t.Errorf("objective: %q", g.Objective)
	}
}

func TestLoads_NoObject(t *testing.T) {
	if _, err := Loads("there is no json here"); !errs.Is(err, errs.KindExtractionFailed) {
		t.Errorf("expected extraction failure, got %v", err)
	}
}

func TestIsToolNode(t *testing.T) {
	n := &Node{ID: "a", Steps: []Step{{Type: "tool", ToolName: "x"}}}
	if !n.IsToolNode() {
		t.Error("steps node should be a tool node")
	}
	n = &Node{ID: "b", Kind: "tooling", Tools: []ToolRef{{Name: "x"}}}
	if !n.IsToolNode() {
		t.Error("tooling node with tools should be a tool node")
	}
	n = &Node{ID: "c", Description: "think"}
	if n.IsToolNode() {
		t.Error("bare node should be an LLM node")
	}
}
