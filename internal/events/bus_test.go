package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	sub := b.Subscribe(4)
	defer b.Unsubscribe(sub)

	b.Publish(Event{
		TaskID: "t1",
		Source: SourceLoop,
		Kind:   KindChunk,
		Data:   map[string]any{"text": "hello"},
	})

	select {
	case e := <-sub:
		if e.TaskID != "t1" || e.Kind != KindChunk {
			t.Errorf("event = %+v", e)
		}
		if text, _ := e.Data["text"].(string); text != "hello" {
			t.Errorf("data = %+v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}
}

func TestBroadcastToAllSubscribers(t *testing.T) {
	b := New()
	a := b.Subscribe(1)
	c := b.Subscribe(1)
	defer b.Unsubscribe(a)
	defer b.Unsubscribe(c)

	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	b.Publish(Event{Kind: KindStateChanged})
	for _, sub := range []<-chan Event{a, c} {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatal("subscriber missed broadcast")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)
	defer b.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// The buffer holds one event; the rest must be dropped without
		// blocking the publisher.
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: KindChunk})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(sub) != 1 {
		t.Errorf("buffered %d events, want 1", len(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe(1)

	b.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}

	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Publish(Event{Kind: KindFinalAnswer})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount on nil bus = %d", got)
	}
}
