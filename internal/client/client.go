// Package client is a thin JSON-RPC client for the parley server,
// used by the ask subcommand for manual testing.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/parley-agent/parley/internal/httpkit"
)

// Client issues JSON-RPC requests against a running server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: httpkit.NewClient(
			httpkit.WithTimeout(5 * time.Minute),
		),
	}
}

// Part mirrors the wire part shape.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// Message mirrors the wire message shape.
type Message struct {
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
}

// Task is the server's task object.
type Task struct {
	ID        string `json:"id"`
	ContextID string `json:"contextId"`
	Status    struct {
		State   string   `json:"state"`
		Message *Message `json:"message,omitempty"`
	} `json:"status"`
	Artifacts []struct {
		Name  string `json:"name"`
		Parts []Part `json:"parts"`
	} `json:"artifacts,omitempty"`
	History []Message `json:"history,omitempty"`
}

// Text returns the task's primary textual output: the first text part
// of the result artifact, or the status message for tasks that ended
// without one.
func (t *Task) Text() string {
	for _, a := range t.Artifacts {
		for _, p := range a.Parts {
			if p.Kind == "text" {
				return p.Text
			}
		}
	}
	if t.Status.Message != nil {
		for _, p := range t.Status.Message.Parts {
			if p.Kind == "text" {
				return p.Text
			}
		}
	}
	return ""
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// Send submits a message and blocks until the task settles. An empty
// contextID starts a new conversation; reuse the returned task's
// ContextID for follow-up turns.
func (c *Client) Send(ctx context.Context, contextID, text string) (*Task, error) {
	params := map[string]any{
		"message": map[string]any{
			"role":      "user",
			"parts":     []map[string]any{{"kind": "text", "text": text}},
			"messageId": uuid.New().String(),
		},
	}
	if contextID != "" {
		params["contextId"] = contextID
	}

	var t Task
	if err := c.call(ctx, "message/send", params, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTask fetches a task snapshot.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.call(ctx, "tasks/get", map[string]any{"id": taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CancelTask requests cancellation of a running task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var t Task
	if err := c.call(ctx, "tasks/cancel", map[string]any{"id": taskID}, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Health checks server liveness.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      uuid.New().String(),
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
