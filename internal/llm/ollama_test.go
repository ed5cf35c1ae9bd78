package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantLen  int
		wantName string
	}{
		{
			name:     "single object",
			content:  `{"name": "web_search", "arguments": {"query": "rice blast"}}`,
			wantLen:  1,
			wantName: "web_search",
		},
		{
			name:     "array",
			content:  `[{"name": "a", "arguments": {}}, {"name": "b", "arguments": {}}]`,
			wantLen:  2,
			wantName: "a",
		},
		{
			name:     "tagged",
			content:  `<tool_call>{"name": "fetch_page", "arguments": {"url": "x"}}</tool_call>`,
			wantLen:  1,
			wantName: "fetch_page",
		},
		{
			name:     "tagged without closing",
			content:  `<tool_call>{"name": "fetch_page", "arguments": {}}`,
			wantLen:  1,
			wantName: "fetch_page",
		},
		{
			name:    "plain prose",
			content: "The answer is rice blast.",
			wantLen: 0,
		},
		{
			name:    "json without name",
			content: `{"arguments": {"query": "x"}}`,
			wantLen: 0,
		},
		{
			name:    "empty",
			content: "   ",
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content)
			if len(got) != tt.wantLen {
				t.Fatalf("got %d calls, want %d: %+v", len(got), tt.wantLen, got)
			}
			if tt.wantLen > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("name = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestPromoteTextToolCalls(t *testing.T) {
	m := Message{Role: "assistant", Content: `{"name": "web_search", "arguments": {"query": "q"}}`}
	promoteTextToolCalls(&m)

	if len(m.ToolCalls) != 1 || m.ToolCalls[0].Function.Name != "web_search" {
		t.Fatalf("tool calls = %+v", m.ToolCalls)
	}
	if m.Content != "" {
		t.Errorf("content should be cleared, got %q", m.Content)
	}

	// Native tool calls are left alone.
	var native ToolCall
	native.Function.Name = "existing"
	m2 := Message{Role: "assistant", Content: "ignored", ToolCalls: []ToolCall{native}}
	promoteTextToolCalls(&m2)
	if m2.Content != "ignored" || m2.ToolCalls[0].Function.Name != "existing" {
		t.Errorf("message mutated: %+v", m2)
	}
}

func TestOllamaChat(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
			Stream   bool      `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "qwen3:4b" || req.Stream {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model":             "qwen3:4b",
			"message":           map[string]any{"role": "assistant", "content": "Rice blast."},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        4,
		})
	}))
	defer ts.Close()

	c := NewOllamaClient(ts.URL, 0)
	resp, err := c.Chat(context.Background(), "qwen3:4b", []Message{{Role: "user", Content: "q"}}, nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "Rice blast." {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 4 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaChatStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{
			`{"message":{"role":"assistant","content":"Rice "},"done":false}`,
			`{"message":{"role":"assistant","content":"blast."},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"eval_count":2}`,
		}
		for _, c := range chunks {
			fmt.Fprintln(w, c)
		}
	}))
	defer ts.Close()

	c := NewOllamaClient(ts.URL, 0)
	var tokens []string
	resp, err := c.ChatStream(context.Background(), "m", []Message{{Role: "user", Content: "q"}}, nil,
		func(token string) { tokens = append(tokens, token) })
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}
	if resp.Message.Content != "Rice blast." {
		t.Errorf("assembled content = %q", resp.Message.Content)
	}
	if len(tokens) != 2 || tokens[0] != "Rice " {
		t.Errorf("tokens = %v", tokens)
	}
	if !resp.Done {
		t.Error("final response should be done")
	}
}

func TestOllamaChatAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not loaded"}`, http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewOllamaClient(ts.URL, 0)
	_, err := c.Chat(context.Background(), "m", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("err = %v, want API error 500", err)
	}
}
