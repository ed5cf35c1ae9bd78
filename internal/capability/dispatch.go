package capability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parley-agent/parley/internal/events"
)

// Invocation is one capability call requested by a reasoning step.
type Invocation struct {
	// CallID correlates the eventual result to this request. Callers
	// assign it; the dispatcher fills in a fresh id only as a fallback
	// for direct use, so results are never left without one.
	CallID string         `json:"call_id"`
	Name   string         `json:"name"`
	Args   map[string]any `json:"args"`
}

// Result is the outcome of one invocation. Failures are results too:
// the reasoning step sees the error text and adapts on its next turn.
type Result struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`
	Output string `json:"output"`
	OK     bool   `json:"ok"`
}

// Dispatcher executes one reasoning step's batch of invocations.
// Invocations within a batch are independent and run concurrently;
// the batch is a join point: Dispatch returns only when every
// invocation has completed or failed.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	bus      *events.Bus
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(registry *Registry, logger *slog.Logger, bus *events.Bus) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, logger: logger, bus: bus}
}

// Dispatch runs all invocations and returns their results in request
// order. A single failure (unknown name, timeout, handler error) is
// converted into a Result with OK=false; it never aborts the batch.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID string, batch []Invocation) []Result {
	results := make([]Result, len(batch))

	var wg sync.WaitGroup
	for i, inv := range batch {
		if inv.CallID == "" {
			inv.CallID = uuid.New().String()
		}

		wg.Add(1)
		go func(i int, inv Invocation) {
			defer wg.Done()
			results[i] = d.run(ctx, taskID, inv)
		}(i, inv)
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) run(ctx context.Context, taskID string, inv Invocation) Result {
	start := time.Now()

	d.logger.Info("capability invoked",
		"task_id", taskID,
		"capability", inv.Name,
		"call_id", inv.CallID,
	)
	d.bus.Publish(events.Event{
		Timestamp: start,
		TaskID:    taskID,
		Source:    events.SourceDispatch,
		Kind:      events.KindCapabilityInvoked,
		Data:      map[string]any{"capability": inv.Name, "call_id": inv.CallID},
	})

	out, err := d.registry.Execute(ctx, inv.Name, inv.Args)
	res := Result{CallID: inv.CallID, Name: inv.Name, Output: out, OK: err == nil}
	if err != nil {
		res.Output = "Error: " + err.Error()
		d.logger.Warn("capability failed",
			"task_id", taskID,
			"capability", inv.Name,
			"call_id", inv.CallID,
			"error", err,
		)
	} else {
		d.logger.Debug("capability done",
			"task_id", taskID,
			"capability", inv.Name,
			"call_id", inv.CallID,
			"result_len", len(out),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
	}

	d.bus.Publish(events.Event{
		Timestamp: time.Now(),
		TaskID:    taskID,
		Source:    events.SourceDispatch,
		Kind:      events.KindCapabilityResult,
		Data: map[string]any{
			"capability":  inv.Name,
			"call_id":     inv.CallID,
			"ok":          res.OK,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})

	return res
}
