// Package events provides a publish/subscribe event bus for task
// lifecycle and operational observability. Events flow from components
// (loop controller, dispatcher, task manager) to subscribers (the SSE
// stream handler, the WebSocket feed). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceTask identifies events from the task lifecycle manager.
	SourceTask = "task"
	// SourceLoop identifies events from the loop controller.
	SourceLoop = "loop"
	// SourceDispatch identifies events from the capability dispatcher.
	SourceDispatch = "dispatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindStateChanged signals a task state transition.
	// Data: state, reason.
	KindStateChanged = "state_changed"
	// KindChunk carries a partial answer fragment streamed from the
	// reasoning model. Data: text.
	KindChunk = "chunk"
	// KindCapabilityInvoked signals the start of a capability call.
	// Data: capability, call_id.
	KindCapabilityInvoked = "capability_invoked"
	// KindCapabilityResult signals completion of a capability call.
	// Data: capability, call_id, ok, duration_ms.
	KindCapabilityResult = "capability_result"
	// KindFinalAnswer carries the terminal answer for a task.
	// Data: answer, reason, iterations.
	KindFinalAnswer = "final_answer"
)

// Event represents a single event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// TaskID scopes the event to one task. Empty for process-level events.
	TaskID string `json:"task_id,omitempty"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
