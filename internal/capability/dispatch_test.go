package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
)

func testDispatcher(reg *Registry) *Dispatcher {
	return NewDispatcher(reg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func TestDispatchResultsInRequestOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testCapability("upper", func(ctx context.Context, args map[string]any) (string, error) {
		s, _ := args["text"].(string)
		return strings.ToUpper(s), nil
	}))

	batch := []Invocation{
		{CallID: "a", Name: "upper", Args: map[string]any{"text": "one"}},
		{CallID: "b", Name: "upper", Args: map[string]any{"text": "two"}},
		{CallID: "c", Name: "upper", Args: map[string]any{"text": "three"}},
	}

	results := testDispatcher(reg).Dispatch(context.Background(), "task-1", batch)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, want := range []string{"ONE", "TWO", "THREE"} {
		if results[i].Output != want {
			t.Errorf("results[%d].Output = %q, want %q", i, results[i].Output, want)
		}
		if results[i].CallID != batch[i].CallID {
			t.Errorf("results[%d].CallID = %q, want %q", i, results[i].CallID, batch[i].CallID)
		}
		if !results[i].OK {
			t.Errorf("results[%d].OK = false, want true", i)
		}
	}
}

func TestDispatchFailureIsResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testCapability("ok", func(ctx context.Context, args map[string]any) (string, error) {
		return "fine", nil
	}))
	reg.Register(testCapability("broken", func(ctx context.Context, args map[string]any) (string, error) {
		return "", errors.New("backend unavailable")
	}))

	batch := []Invocation{
		{CallID: "1", Name: "broken"},
		{CallID: "2", Name: "ok"},
		{CallID: "3", Name: "no_such_capability"},
	}

	results := testDispatcher(reg).Dispatch(context.Background(), "task-1", batch)

	if results[0].OK {
		t.Error("failed handler should produce OK=false")
	}
	if !strings.HasPrefix(results[0].Output, "Error: ") {
		t.Errorf("failure output = %q, want Error: prefix", results[0].Output)
	}
	if !results[1].OK || results[1].Output != "fine" {
		t.Errorf("healthy invocation affected by sibling failure: %+v", results[1])
	}
	if results[2].OK || !strings.Contains(results[2].Output, "unknown capability") {
		t.Errorf("unknown name should fail only its own invocation: %+v", results[2])
	}
}

func TestDispatchFillsMissingCallID(t *testing.T) {
	reg := NewRegistry()
	reg.Register(testCapability("noop", func(ctx context.Context, args map[string]any) (string, error) {
		return "", nil
	}))

	results := testDispatcher(reg).Dispatch(context.Background(), "task-1", []Invocation{{Name: "noop"}})
	if results[0].CallID == "" {
		t.Error("dispatcher should assign a call id when the request lacks one")
	}
}

func TestDispatchRunsBatchConcurrently(t *testing.T) {
	var inflight, peak atomic.Int32

	reg := NewRegistry()
	gate := make(chan struct{})
	reg.Register(testCapability("wait", func(ctx context.Context, args map[string]any) (string, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-gate
		inflight.Add(-1)
		return "done", nil
	}))

	done := make(chan []Result)
	go func() {
		done <- testDispatcher(reg).Dispatch(context.Background(), "task-1", []Invocation{
			{CallID: "1", Name: "wait"},
			{CallID: "2", Name: "wait"},
		})
	}()

	// Both handlers must be in flight before either is released.
	for peak.Load() < 2 {
		runtime.Gosched()
	}
	close(gate)

	results := <-done
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if peak.Load() < 2 {
		t.Errorf("peak concurrency = %d, want 2", peak.Load())
	}
}
