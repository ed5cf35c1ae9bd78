package llm

import "context"

// Client is the interface that all completion providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools carries the JSON-schema tool definitions the model may call;
	// nil means plain text completion.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatStream sends a streaming chat request. If callback is non-nil,
	// content tokens are delivered to it as they arrive.
	ChatStream(ctx context.Context, model string, messages []Message, tools []map[string]any, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// StreamCallback is called for each streamed content token.
type StreamCallback func(token string)
