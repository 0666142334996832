// Package taskgraph defines the workflow graph schema, its validation,
// and a serializer tolerant of LLM-produced JSON.
package taskgraph

// SchemaVersion is the graph schema this runtime produces and accepts.
const SchemaVersion = "2.0"

// Graph is a workflow definition: nodes wired by edges into a DAG, plus
// session defaults seeding the run's key/value session.
type Graph struct {
	SchemaVersion   string         `json:"schema_version"`
	Objective       string         `json:"objective"`
	SessionDefaults map[string]any `json:"session_defaults,omitempty"`
	Nodes           []Node         `json:"nodes"`
	Edges           []Edge         `json:"edges,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Node is one unit of work. A node with steps (or kind "tooling" with
// tools) dispatches tool calls; any other node performs an LLM call.
type Node struct {
	ID          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Description string            `json:"description,omitempty"`
	Role        string            `json:"role,omitempty"`
	Reads       []string          `json:"reads,omitempty"`
	Writes      map[string]string `json:"writes,omitempty"`
	LLM         *LLMSettings      `json:"llm,omitempty"`
	Tools       []ToolRef         `json:"tools,omitempty"`
	Steps       []Step            `json:"steps,omitempty"`
	Output      *Output           `json:"output,omitempty"`
	Guardrails  []string          `json:"guardrails,omitempty"`
	Retry       *Retry            `json:"retry,omitempty"`
	Timeout     *Timeout          `json:"timeout,omitempty"`
}

// IsToolNode reports whether the node dispatches tool steps rather than
// an LLM call.
func (n *Node) IsToolNode() bool {
	if len(n.Steps) > 0 {
		return true
	}
	return n.Kind == "tooling" && len(n.Tools) > 0
}

// LLMSettings tunes the model call for an LLM node.
type LLMSettings struct {
	Model       string   `json:"model,omitempty"`
	Mode        string   `json:"mode,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	ToolChoice  string   `json:"tool_choice,omitempty"`
	EnableTools bool     `json:"enable_tools,omitempty"`
}

// ToolRef declares a tool available to a node.
type ToolRef struct {
	Name           string `json:"name"`
	WhenToUse      string `json:"when_to_use,omitempty"`
	Required       bool   `json:"required,omitempty"`
	ArgsSchemaHint string `json:"args_schema_hint,omitempty"`
}

// Step is one ordered action inside a tool node.
type Step struct {
	Type     string         `json:"type"`
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	StoreAs  string         `json:"store_as,omitempty"`
}

// Output declares how a node's raw text is extracted and validated.
type Output struct {
	Type         string            `json:"type,omitempty"`
	Extract      string            `json:"extract,omitempty"`
	RequiredKeys []string          `json:"required_keys,omitempty"`
	Types        map[string]string `json:"types,omitempty"`
}

// Retry configures node-level retry with backoff and repair prompts.
type Retry struct {
	MaxAttempts int     `json:"max_attempts,omitempty"`
	BackoffS    float64 `json:"backoff_s,omitempty"`
	JitterS     float64 `json:"jitter_s,omitempty"`
}

// Timeout bounds node execution.
type Timeout struct {
	InactivityS float64 `json:"inactivity_s,omitempty"`
	HardS       float64 `json:"hard_s,omitempty"`
}

// Edge connects two nodes, optionally guarded by a condition expression.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	When string `json:"when,omitempty"`
}
