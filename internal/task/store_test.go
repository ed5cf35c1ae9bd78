package task

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parley-agent/parley/internal/llm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreTaskRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	task := &Task{
		ID:         "task-1",
		ContextID:  "ctx-1",
		State:      StateWorking,
		CreatedAt:  now,
		UpdatedAt:  now,
		Iterations: 0,
	}
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	// Update in place: the upsert keeps one row per id.
	task.State = StateCompleted
	task.Answer = "rice blast"
	task.Reason = "HELPFUL"
	task.Iterations = 3
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("SaveTask update failed: %v", err)
	}

	got, err := s.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.State != StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if got.Answer != "rice blast" || got.Reason != "HELPFUL" || got.Iterations != 3 {
		t.Errorf("task fields = %q/%q/%d", got.Answer, got.Reason, got.Iterations)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, now)
	}
}

func TestStoreGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("missing")
	if !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestStoreContextHistory(t *testing.T) {
	s := newTestStore(t)

	msgs := []llm.Message{
		{Role: "user", Content: "what causes lesions?"},
		{Role: "assistant", Content: "", ToolCalls: []llm.ToolCall{
			{ID: "call-1", Function: struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			}{Name: "web_search", Arguments: map[string]any{"query": "lesions"}}},
		}},
		{Role: "tool", Content: "results here", ToolCallID: "call-1"},
		{Role: "assistant", Content: "Rice blast."},
	}
	for i, lm := range msgs {
		if err := s.AppendMessage("ctx-1", "task-1", i, NewMessage(lm)); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	exists, err := s.ContextExists("ctx-1")
	if err != nil || !exists {
		t.Fatalf("ContextExists = %v, %v", exists, err)
	}
	if exists, _ := s.ContextExists("other"); exists {
		t.Error("unknown context reported as existing")
	}

	loaded, err := s.LoadContext("ctx-1")
	if err != nil {
		t.Fatalf("LoadContext failed: %v", err)
	}
	if len(loaded) != len(msgs) {
		t.Fatalf("loaded %d messages, want %d", len(loaded), len(msgs))
	}
	for i, m := range loaded {
		if m.Role != msgs[i].Role || m.Content != msgs[i].Content {
			t.Errorf("message %d = %s %q, want %s %q", i, m.Role, m.Content, msgs[i].Role, msgs[i].Content)
		}
	}

	// Tool call structure survives the JSON column.
	if loaded[1].ToolCalls == nil || len(loaded[1].ToolCalls) != 1 {
		t.Fatalf("tool calls not restored: %+v", loaded[1].ToolCalls)
	}
	tc := loaded[1].ToolCalls[0]
	if tc.ID != "call-1" || tc.Function.Name != "web_search" {
		t.Errorf("tool call = %+v", tc)
	}
	if q, _ := tc.Function.Arguments["query"].(string); q != "lesions" {
		t.Errorf("arguments = %+v", tc.Function.Arguments)
	}
	if loaded[2].ToolCallID != "call-1" {
		t.Errorf("tool_call_id = %q", loaded[2].ToolCallID)
	}
}

func TestStoreRehydratesManagerContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")

	s1, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := s1.AppendMessage("ctx-1", "task-1", 0, NewMessage(llm.Message{Role: "user", Content: "hello"})); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	s1.Close()

	// A fresh store over the same file sees the context.
	s2, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()

	exists, err := s2.ContextExists("ctx-1")
	if err != nil || !exists {
		t.Fatalf("ContextExists after reopen = %v, %v", exists, err)
	}
	loaded, err := s2.LoadContext("ctx-1")
	if err != nil || len(loaded) != 1 || loaded[0].Content != "hello" {
		t.Fatalf("LoadContext after reopen = %+v, %v", loaded, err)
	}
}
