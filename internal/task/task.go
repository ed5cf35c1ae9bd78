// Package task manages the lifecycle of conversational tasks: identity,
// state transitions, history ownership, streaming of progress events,
// and multi-turn context continuity.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/parley-agent/parley/internal/llm"
)

// State is a task's lifecycle state.
type State string

const (
	StateSubmitted     State = "submitted"
	StateWorking       State = "working"
	StateInputRequired State = "input-required"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCanceled      State = "canceled"
)

// Terminal reports whether s is a final state. Terminal states are
// immutable once reached.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// transitions enumerates the legal state graph.
var transitions = map[State][]State{
	StateSubmitted:     {StateWorking, StateCanceled, StateFailed},
	StateWorking:       {StateInputRequired, StateCompleted, StateFailed, StateCanceled},
	StateInputRequired: {StateWorking, StateCanceled},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrContextNotFound = errors.New("context not found")
	ErrNotCancelable   = errors.New("task is in a terminal state")
	ErrBadTransition   = errors.New("illegal state transition")
)

// Message is one entry in a task's conversation history. The embedded
// llm.Message carries role and content; ID makes every message
// individually addressable on the wire.
type Message struct {
	llm.Message
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage wraps an llm.Message with a fresh id.
func NewMessage(m llm.Message) Message {
	id, _ := uuid.NewV7()
	return Message{
		Message:   m,
		ID:        id.String(),
		CreatedAt: time.Now().UTC(),
	}
}

// Task is one unit of work: a submitted message and its reasoning run.
// All fields are guarded by the Manager's lock; callers outside the
// package only ever see Snapshot copies.
type Task struct {
	ID        string
	ContextID string
	State     State
	// Reason explains a terminal state: the loop's terminal reason for
	// completed tasks, the failure message for failed ones.
	Reason     string
	Answer     string
	Iterations int
	History    []Message
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Snapshot is an immutable copy of a task's externally visible state.
type Snapshot struct {
	ID         string    `json:"id"`
	ContextID  string    `json:"context_id"`
	State      State     `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Iterations int       `json:"iterations,omitempty"`
	History    []Message `json:"history,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t *Task) snapshot() Snapshot {
	history := make([]Message, len(t.History))
	copy(history, t.History)
	return Snapshot{
		ID:         t.ID,
		ContextID:  t.ContextID,
		State:      t.State,
		Reason:     t.Reason,
		Answer:     t.Answer,
		Iterations: t.Iterations,
		History:    history,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}
