// Package completion is the chat-completion boundary. Whatever comes back
// is untrusted text; callers validate it before acting on it.
package completion

import "context"

// Role names a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a single completion call.
type Options struct {
	Temperature *float64
	// JSONMode asks the backend for a JSON object. It is a hint only.
	JSONMode  bool
	MaxTokens int
}

// Response is the raw generator output.
type Response struct {
	Content      string
	Model        string
	FinishReason string
}

// Client sends messages to a text-generation backend. Every failure it
// returns is classified as a GenerationError.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts Options) (Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, messages []Message, opts Options) (Response, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, messages []Message, opts Options) (Response, error) {
	return f(ctx, messages, opts)
}
