package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parley-agent/parley/internal/agent"
	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/llm"
)

// contextState is the accumulated conversation for one context id.
// History is append-only; awaiting names a task suspended in
// input-required that the next submit should resume.
type contextState struct {
	history  []Message
	seq      int
	awaiting string
}

// Manager owns all tasks and their histories. One submit maps to one
// loop run; independent tasks run concurrently and share nothing but
// the registry and provider connections inside the loop.
type Manager struct {
	loop   *agent.Loop
	store  *Store
	logger *slog.Logger
	bus    *events.Bus

	mu       sync.RWMutex
	tasks    map[string]*Task
	contexts map[string]*contextState
	cancels  map[string]context.CancelFunc

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a task manager. store may be nil for purely
// in-memory operation.
func NewManager(loop *agent.Loop, store *Store, logger *slog.Logger, bus *events.Bus) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Manager{
		loop:     loop,
		store:    store,
		logger:   logger,
		bus:      bus,
		tasks:    make(map[string]*Task),
		contexts: make(map[string]*contextState),
		cancels:  make(map[string]context.CancelFunc),
		baseCtx:  baseCtx,
		stop:     stop,
	}
}

// Close cancels all running tasks and waits for their loops to stop.
func (m *Manager) Close() {
	m.stop()
	m.wg.Wait()
}

// Submit starts a task for the given message. An empty contextID
// creates a fresh context; a known contextID reattaches its history.
// If the context has a task waiting in input-required, that task is
// resumed instead of creating a new one.
func (m *Manager) Submit(contextID, text string) (Snapshot, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Snapshot{}, fmt.Errorf("message text is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cs, err := m.resolveContextLocked(&contextID)
	if err != nil {
		return Snapshot{}, err
	}

	var t *Task
	if cs.awaiting != "" {
		t = m.tasks[cs.awaiting]
		cs.awaiting = ""
		if err := m.setStateLocked(t, StateWorking, ""); err != nil {
			return Snapshot{}, err
		}
	} else {
		id, _ := uuid.NewV7()
		now := time.Now().UTC()
		t = &Task{
			ID:        id.String(),
			ContextID: contextID,
			State:     StateSubmitted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		m.tasks[t.ID] = t
		m.publishStateLocked(t, "")
		if err := m.setStateLocked(t, StateWorking, ""); err != nil {
			return Snapshot{}, err
		}
	}

	userMsg := NewMessage(llm.Message{Role: "user", Content: text})
	m.appendLocked(cs, t, userMsg)

	history := make([]llm.Message, len(cs.history))
	for i, msg := range cs.history {
		history[i] = msg.Message
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	m.cancels[t.ID] = cancel

	m.wg.Add(1)
	go m.run(runCtx, t.ID, contextID, text, history)

	m.logger.Info("task submitted",
		"task_id", t.ID,
		"context_id", contextID,
		"history_len", len(history),
	)
	return t.snapshot(), nil
}

// resolveContextLocked finds or creates the context for a submit. A
// non-empty unknown context id is a caller error unless the store can
// rehydrate it.
func (m *Manager) resolveContextLocked(contextID *string) (*contextState, error) {
	if *contextID == "" {
		id, _ := uuid.NewV7()
		*contextID = id.String()
		cs := &contextState{}
		m.contexts[*contextID] = cs
		return cs, nil
	}

	if cs, ok := m.contexts[*contextID]; ok {
		return cs, nil
	}

	if m.store != nil {
		exists, err := m.store.ContextExists(*contextID)
		if err != nil {
			return nil, fmt.Errorf("resolve context: %w", err)
		}
		if exists {
			history, err := m.store.LoadContext(*contextID)
			if err != nil {
				return nil, fmt.Errorf("resolve context: %w", err)
			}
			cs := &contextState{history: history, seq: len(history)}
			m.contexts[*contextID] = cs
			return cs, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrContextNotFound, *contextID)
}

// run executes the loop for one task and applies its outcome. It is
// the only writer of a task's terminal state.
func (m *Manager) run(ctx context.Context, taskID, contextID, request string, history []llm.Message) {
	defer m.wg.Done()

	outcome, appended, err := m.loop.Run(ctx, taskID, request, history)

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.tasks[taskID]
	cs := m.contexts[contextID]
	delete(m.cancels, taskID)

	for _, lm := range appended {
		m.appendLocked(cs, t, NewMessage(lm))
	}

	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			m.setStateLocked(t, StateCanceled, "canceled by client")
			return
		}
		m.logger.Error("task failed", "task_id", taskID, "error", err)
		m.setStateLocked(t, StateFailed, err.Error())
		return
	}

	t.Answer = outcome.Answer
	t.Iterations = outcome.Iterations
	t.Reason = string(outcome.Reason)

	// An input-required answer is a question back to the user, carried
	// on the status message only. It must not stream as a final-answer
	// artifact.
	if outcome.InputRequired {
		cs.awaiting = taskID
		m.setStateLocked(t, StateInputRequired, string(outcome.Reason))
		return
	}

	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		TaskID:    taskID,
		Source:    events.SourceTask,
		Kind:      events.KindFinalAnswer,
		Data: map[string]any{
			"answer":     outcome.Answer,
			"reason":     string(outcome.Reason),
			"iterations": outcome.Iterations,
		},
	})
	m.setStateLocked(t, StateCompleted, string(outcome.Reason))
}

// Get returns a snapshot of the task. Snapshots of terminal tasks are
// identical across calls.
func (m *Manager) Get(taskID string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return t.snapshot(), nil
}

// Cancel requests cooperative cancellation. A running loop stops at
// its next suspension point; a task waiting for input cancels
// immediately. Terminal tasks cannot be canceled.
func (m *Manager) Cancel(taskID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if t.State.Terminal() {
		return Snapshot{}, fmt.Errorf("%w: %s is %s", ErrNotCancelable, taskID, t.State)
	}

	if cancel, ok := m.cancels[taskID]; ok {
		cancel()
		m.logger.Info("task cancellation requested", "task_id", taskID)
		return t.snapshot(), nil
	}

	// No loop running: the task is suspended in input-required.
	if cs, ok := m.contexts[t.ContextID]; ok && cs.awaiting == taskID {
		cs.awaiting = ""
	}
	m.setStateLocked(t, StateCanceled, "canceled by client")
	return t.snapshot(), nil
}

// Stream returns a finite sequence of the task's lifecycle events. The
// channel closes once a terminal state event has been delivered or ctx
// is done. Subscribing after the task finished yields only the
// terminal event.
func (m *Manager) Stream(ctx context.Context, taskID string) (<-chan events.Event, error) {
	m.mu.Lock()
	t, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	if t.State.Terminal() {
		out := make(chan events.Event, 1)
		out <- terminalEvent(t)
		close(out)
		m.mu.Unlock()
		return out, nil
	}

	src := m.bus.Subscribe(128)
	m.mu.Unlock()

	out := make(chan events.Event, 128)
	go func() {
		defer close(out)
		defer m.bus.Unsubscribe(src)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-src:
				if !ok {
					return
				}
				if e.TaskID != taskID {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if isTerminalEvent(e) {
					return
				}
			}
		}
	}()
	return out, nil
}

// appendLocked adds a message to the context history and the owning
// task, and persists it when a store is configured.
func (m *Manager) appendLocked(cs *contextState, t *Task, msg Message) {
	cs.history = append(cs.history, msg)
	t.History = append(t.History, msg)
	seq := cs.seq
	cs.seq++

	if m.store != nil {
		if err := m.store.AppendMessage(t.ContextID, t.ID, seq, msg); err != nil {
			m.logger.Error("persist message failed", "task_id", t.ID, "error", err)
		}
	}
}

// setStateLocked applies a state transition, persists it, and emits a
// state-changed event.
func (m *Manager) setStateLocked(t *Task, next State, reason string) error {
	if !t.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrBadTransition, t.State, next)
	}
	t.State = next
	if reason != "" {
		t.Reason = reason
	}
	t.UpdatedAt = time.Now().UTC()

	if m.store != nil {
		if err := m.store.SaveTask(t); err != nil {
			m.logger.Error("persist task failed", "task_id", t.ID, "error", err)
		}
	}
	m.publishStateLocked(t, reason)
	return nil
}

func (m *Manager) publishStateLocked(t *Task, reason string) {
	data := map[string]any{"state": string(t.State)}
	if reason != "" {
		data["reason"] = reason
	}
	m.bus.Publish(events.Event{
		Timestamp: time.Now(),
		TaskID:    t.ID,
		Source:    events.SourceTask,
		Kind:      events.KindStateChanged,
		Data:      data,
	})
}

func terminalEvent(t *Task) events.Event {
	data := map[string]any{"state": string(t.State)}
	if t.Reason != "" {
		data["reason"] = t.Reason
	}
	if t.Answer != "" {
		data["answer"] = t.Answer
	}
	return events.Event{
		Timestamp: t.UpdatedAt,
		TaskID:    t.ID,
		Source:    events.SourceTask,
		Kind:      events.KindStateChanged,
		Data:      data,
	}
}

func isTerminalEvent(e events.Event) bool {
	if e.Kind != events.KindStateChanged {
		return false
	}
	s, _ := e.Data["state"].(string)
	return State(s).Terminal()
}
