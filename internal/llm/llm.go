// Package llm defines the model client interface the graph runtime calls.
// Transport lives in adapter subpackages; the runtime only sees streamed
// text chunks.
package llm

import "context"

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request describes one model call.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Chunk is one streamed piece of model output. A non-nil Err terminates
// the stream.
type Chunk struct {
	Text string
	Err  error
}

// Client streams completions. The returned channel is closed when the
// stream ends; callers select over it alongside cancellation.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// SplitSystem separates a leading system message from the rest, for
// transports that carry the system prompt out of band.
func SplitSystem(messages []Message) (string, []Message) {
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}
