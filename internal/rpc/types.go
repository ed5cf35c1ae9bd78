// Package rpc is the protocol adapter: JSON-RPC 2.0 over HTTP with
// SSE streaming, an agent card for discovery, and a WebSocket feed of
// the operational event bus.
package rpc

import (
	"encoding/json"
	"time"

	"github.com/parley-agent/parley/internal/task"
)

// JSON-RPC error codes. The -320xx range is server-defined.
const (
	codeParseError      = -32700
	codeInvalidRequest  = -32600
	codeMethodNotFound  = -32601
	codeInvalidParams   = -32602
	codeTaskNotFound    = -32001
	codeContextNotFound = -32002
	codeNotCancelable   = -32003
	codeInternalError   = -32603
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Part is one piece of a message or artifact. Kind is "text" or
// "html".
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	HTML string `json:"html,omitempty"`
}

// wireMessage is the protocol message shape.
type wireMessage struct {
	Role      string `json:"role"`
	Parts     []Part `json:"parts"`
	MessageID string `json:"messageId"`
}

type sendParams struct {
	Message   wireMessage `json:"message"`
	ContextID string      `json:"contextId,omitempty"`
}

type taskParams struct {
	ID            string `json:"id"`
	HistoryLength int    `json:"historyLength,omitempty"`
}

type wireStatus struct {
	State     string       `json:"state"`
	Message   *wireMessage `json:"message,omitempty"`
	Timestamp string       `json:"timestamp"`
}

type wireArtifact struct {
	ArtifactID string `json:"artifactId"`
	Name       string `json:"name"`
	Parts      []Part `json:"parts"`
}

type wireTask struct {
	ID        string         `json:"id"`
	ContextID string         `json:"contextId"`
	Status    wireStatus     `json:"status"`
	Artifacts []wireArtifact `json:"artifacts,omitempty"`
	History   []wireMessage  `json:"history,omitempty"`
	Kind      string         `json:"kind"`
}

// statusUpdate is one streamed lifecycle event.
type statusUpdate struct {
	TaskID    string     `json:"taskId"`
	ContextID string     `json:"contextId"`
	Status    wireStatus `json:"status"`
	Final     bool       `json:"final"`
	Kind      string     `json:"kind"`
}

// artifactUpdate streams the final answer artifact.
type artifactUpdate struct {
	TaskID    string       `json:"taskId"`
	ContextID string       `json:"contextId"`
	Artifact  wireArtifact `json:"artifact"`
	Kind      string       `json:"kind"`
}

// agentCard is the discovery document served at
// /.well-known/agent.json.
type agentCard struct {
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	URL                string            `json:"url"`
	Version            string            `json:"version"`
	Capabilities       agentCapabilities `json:"capabilities"`
	DefaultInputModes  []string          `json:"defaultInputModes"`
	DefaultOutputModes []string          `json:"defaultOutputModes"`
	Skills             []agentSkill      `json:"skills"`
}

type agentCapabilities struct {
	Streaming bool `json:"streaming"`
}

type agentSkill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// wireHistory converts stored history to protocol messages. Tool
// results surface with the capability-result role; internal tool-call
// plumbing fields stay off the wire.
func wireHistory(msgs []task.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		role := m.Role
		switch role {
		case "assistant":
			role = "agent"
		case "tool":
			role = "capability-result"
		}
		out = append(out, wireMessage{
			Role:      role,
			Parts:     []Part{{Kind: "text", Text: m.Content}},
			MessageID: m.ID,
		})
	}
	return out
}

// wireSnapshot converts a task snapshot to its protocol shape.
func wireSnapshot(s task.Snapshot, includeHistory bool) wireTask {
	wt := wireTask{
		ID:        s.ID,
		ContextID: s.ContextID,
		Kind:      "task",
		Status: wireStatus{
			State:     string(s.State),
			Timestamp: s.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}

	switch s.State {
	case task.StateCompleted:
		wt.Artifacts = []wireArtifact{renderArtifact(s.ID, s.Answer)}
	case task.StateInputRequired, task.StateFailed:
		if s.Answer != "" || s.Reason != "" {
			text := s.Answer
			if text == "" {
				text = s.Reason
			}
			wt.Status.Message = &wireMessage{
				Role:      "agent",
				Parts:     []Part{{Kind: "text", Text: text}},
				MessageID: s.ID + "-status",
			}
		}
	}

	if includeHistory {
		wt.History = wireHistory(s.History)
	}
	return wt
}
