// Package tools implements the typed tool registry: named handlers with
// JSON-schema validated arguments, policy enforcement, workspace
// confinement, and a redacted audit trail.
package tools

import "context"

// Part is one typed chunk of tool output.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// Call is a single tool invocation with its provenance.
type Call struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args,omitempty"`
	Caller    string         `json:"caller,omitempty"`
	ProjectID string         `json:"project_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	EventID   string         `json:"event_id,omitempty"`
}

// Result is the outcome of a tool call. Meta carries a "status"
// discriminator alongside any handler-specific fields.
type Result struct {
	Content []Part         `json:"content"`
	IsError bool           `json:"is_error"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Status returns the meta status discriminator, or "".
func (r *Result) Status() string {
	if r == nil || r.Meta == nil {
		return ""
	}
	s, _ := r.Meta["status"].(string)
	return s
}

// Text concatenates the text parts of the result.
func (r *Result) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, p := range r.Content {
		out += p.Text
	}
	return out
}

// TextResult builds a successful single-part result.
func TextResult(text string) *Result {
	return &Result{
		Content: []Part{TextPart(text)},
		Meta:    map[string]any{"status": "ok"},
	}
}

// ErrorResult builds an error result with a status discriminator and one
// human-readable content part.
func ErrorResult(status, message string) *Result {
	return &Result{
		Content: []Part{TextPart(message)},
		IsError: true,
		Meta:    map[string]any{"status": status},
	}
}

// Source identifies where a tool implementation comes from.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceNative  Source = "native"
	SourceUnknown Source = "unknown"
)

// Spec describes a registered tool. InputSchema is an object-typed JSON
// schema subset; unknown argument fields are ignored at validation time.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Source      Source         `json:"source,omitempty"`
}

// Handler executes a tool call. Handlers return an error only for
// infrastructure failures; tool-level failures are expressed as an error
// Result.
type Handler func(ctx context.Context, call *Call) (*Result, error)
