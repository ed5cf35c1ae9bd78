// Package llm provides completion provider implementations.
package llm

import "time"

// Message represents a chat message for the completion provider.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
}

// ToolCall represents a tool call emitted by the model.
type ToolCall struct {
	// ID is the provider-assigned call id, used to correlate the
	// eventual tool result back to this request. Providers that do not
	// assign ids leave it empty; the loop fills one in before the
	// message enters history.
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// ChatResponse is the unified response from any completion provider.
// Wire format conversion happens at the provider boundaries
// (ollama.go, openai.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
