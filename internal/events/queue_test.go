package events

import (
	"context"
	"testing"
	"time"
)

func TestMemoryQueueFanOut(t *testing.T) {
	queue := NewMemoryQueue(4)
	first := queue.Subscribe()
	defer first.Close()
	second := queue.Subscribe()
	defer second.Close()

	event := Event{Type: TypeStreamStarted, SessionID: "sess-1", OwnerID: "usr-1"}
	if err := queue.Publish(context.Background(), event); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, sub := range []Subscription{first, second} {
		select {
		case got := <-sub.Events():
			if got.SessionID != "sess-1" || got.Type != TypeStreamStarted {
				t.Fatalf("unexpected event %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestMemoryQueueRejectsUntypedEvents(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Publish(context.Background(), Event{SessionID: "sess-1"}); err == nil {
		t.Fatal("expected error for event without a type")
	}
}

func TestMemoryQueueDropsOnFullSubscriber(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	defer sub.Close()

	for i := 0; i < 3; i++ {
		if err := queue.Publish(context.Background(), Event{Type: TypeStats, SessionID: "sess-1"}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	received := 0
	for {
		select {
		case <-sub.Events():
			received++
		default:
			if received != 1 {
				t.Fatalf("expected exactly 1 buffered event, got %d", received)
			}
			return
		}
	}
}

func TestMemoryQueueCloseIsIdempotent(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	sub.Close()
	sub.Close()

	if err := queue.Publish(context.Background(), Event{Type: TypeStreamEnded}); err != nil {
		t.Fatalf("Publish after close: %v", err)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed event channel")
	}
}
