package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newStubServer answers every JSON-RPC call with the given result and
// records the methods it saw.
func newStubServer(t *testing.T, result map[string]any, methods *[]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		*methods = append(*methods, req.Method)
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "1",
			"result":  result,
		})
	}))
}

func taskResult(state, answer string) map[string]any {
	return map[string]any{
		"id":        "task-1",
		"contextId": "ctx-1",
		"status":    map[string]any{"state": state},
		"artifacts": []map[string]any{{
			"name":  "result",
			"parts": []map[string]any{{"kind": "text", "text": answer}},
		}},
	}
}

func TestGetTask(t *testing.T) {
	var methods []string
	ts := newStubServer(t, taskResult("completed", "Rice blast."), &methods)
	defer ts.Close()

	task, err := New(ts.URL).GetTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if len(methods) != 1 || methods[0] != "tasks/get" {
		t.Errorf("methods = %v, want [tasks/get]", methods)
	}
	if task.Status.State != "completed" {
		t.Errorf("state = %q, want completed", task.Status.State)
	}
	if task.Text() != "Rice blast." {
		t.Errorf("Text() = %q", task.Text())
	}
}

func TestCancelTask(t *testing.T) {
	var methods []string
	ts := newStubServer(t, taskResult("canceled", ""), &methods)
	defer ts.Close()

	task, err := New(ts.URL).CancelTask(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("CancelTask failed: %v", err)
	}
	if len(methods) != 1 || methods[0] != "tasks/cancel" {
		t.Errorf("methods = %v, want [tasks/cancel]", methods)
	}
	if task.Status.State != "canceled" {
		t.Errorf("state = %q, want canceled", task.Status.State)
	}
}

func TestCallSurfacesRPCError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "1",
			"error":   map[string]any{"code": -32001, "message": "task not found"},
		})
	}))
	defer ts.Close()

	_, err := New(ts.URL).GetTask(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected rpc error")
	}
	var rpcErr *rpcError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32001 {
		t.Errorf("err = %v, want code -32001", err)
	}
}

func TestTaskTextFallsBackToStatusMessage(t *testing.T) {
	task := &Task{}
	task.Status.State = "input-required"
	task.Status.Message = &Message{
		Role:  "agent",
		Parts: []Part{{Kind: "text", Text: "Which crop do you mean?"}},
	}
	if got := task.Text(); got != "Which crop do you mean?" {
		t.Errorf("Text() = %q", got)
	}
}
