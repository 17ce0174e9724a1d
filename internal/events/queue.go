package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Queue fans engine events out to interested subscribers. The in-memory
// implementation serves single-process deployments and tests; the Redis
// implementation spans processes.
type Queue interface {
	Publish(ctx context.Context, event Event) error
	Subscribe() Subscription
}

// Subscription represents an active event stream.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// NewMemoryQueue initialises an in-memory fan-out queue.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 32
	}
	return &memoryQueue{
		subs:   make(map[uint64]chan Event),
		buffer: buffer,
	}
}

type memoryQueue struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan Event
	buffer int
}

// Publish never blocks: a subscriber whose buffer is full loses the event.
// The publisher is the stream supervisor and must not stall behind a slow
// browser.
func (q *memoryQueue) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (q *memoryQueue) Subscribe() Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	ch := make(chan Event, q.buffer)
	q.subs[id] = ch
	return &memorySubscription{queue: q, id: id, ch: ch}
}

// release unregisters the subscription and closes its channel. Both happen
// under the queue lock, so a concurrent Publish can never hit a closed
// channel. The map lookup makes release idempotent.
func (q *memoryQueue) release(id uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.subs[id]; ok {
		delete(q.subs, id)
		close(ch)
	}
}

type memorySubscription struct {
	queue *memoryQueue
	id    uint64
	ch    chan Event
}

func (s *memorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.queue.release(s.id)
}
