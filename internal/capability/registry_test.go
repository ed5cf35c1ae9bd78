package capability

import (
	"context"
	"strings"
	"testing"
	"time"
)

func testCapability(name string, handler Handler) *Capability {
	return &Capability{
		Name:        name,
		Description: "test capability " + name,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: handler,
	}
}

func TestRegistryExecute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testCapability("echo", func(ctx context.Context, args map[string]any) (string, error) {
		s, _ := args["text"].(string)
		return s, nil
	}))

	out, err := reg.Execute(context.Background(), "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if out != "hello" {
		t.Errorf("got %q, want %q", out, "hello")
	}
}

func TestRegistryExecuteUnknown(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Execute(context.Background(), "nope", nil)
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
	if !strings.Contains(err.Error(), "unknown capability") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegistryExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	slow := testCapability("slow", func(ctx context.Context, args map[string]any) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	slow.Timeout = 20 * time.Millisecond
	reg.Register(slow)

	_, err := reg.Execute(context.Background(), "slow", nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(testCapability(name, nil))
	}

	names := reg.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("got %d names, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testCapability("echo", nil))

	defs := reg.List()
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want 1", len(defs))
	}
	fn, ok := defs[0]["function"].(map[string]any)
	if !ok {
		t.Fatalf("definition missing function object: %#v", defs[0])
	}
	if fn["name"] != "echo" {
		t.Errorf("function name = %v, want echo", fn["name"])
	}
}
