// Package brain is the LLM call boundary. The model itself is opaque: a
// Brain turns a prompt and history into text, and Parse lifts that text into
// a tagged variant without ever failing on malformed model output.
package brain

import "context"

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall names a tool the model wants invoked, with raw JSON arguments.
type ToolCall struct {
	Name string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// Response is the tagged variant of a model reply: a thought plus either a
// tool call or a final message. When the model produced no actionable JSON,
// ToolCall is nil and FinalMessage carries the raw text.
type Response struct {
	Thought      string
	ToolCall     *ToolCall
	FinalMessage string
	Raw          string
}

// Brain generates a model response. Implementations may fail or time out;
// callers retry or degrade and never surface raw provider errors to the user.
type Brain interface {
	Generate(ctx context.Context, systemPrompt string, history []Message) (*Response, error)
}

// Func adapts a plain function to the Brain interface.
type Func func(ctx context.Context, systemPrompt string, history []Message) (*Response, error)

func (f Func) Generate(ctx context.Context, systemPrompt string, history []Message) (*Response, error) {
	return f(ctx, systemPrompt, history)
}
