// Package msgqueue holds pending conversational messages per conversation
// key. Each conversation drains its queue in one batch when its worker is
// ready, so messages that arrive while a run is in flight coalesce into a
// single follow-up prompt.
package msgqueue

import (
	"context"
	"sync"
	"time"

	"github.com/harun/tessa/internal/observability"
)

// Message is one queued inbound message.
type Message struct {
	Text        string
	AuthorID    string
	AuthorName  string
	EnqueuedAt  time.Time
	Passthrough bool
}

// Queue is an in-memory FIFO per conversation key with a wakeup channel
// workers can wait on.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]Message
	wakeups map[string]chan struct{}
}

// New creates an empty queue.
func New() *Queue {
	observability.EnsureRegistered()
	return &Queue{
		pending: make(map[string][]Message),
		wakeups: make(map[string]chan struct{}),
	}
}

// Enqueue appends msg to the conversation's queue and returns the new
// depth. The conversation's worker is woken if it is waiting.
func (q *Queue) Enqueue(key string, msg Message) int {
	q.mu.Lock()

	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	q.pending[key] = append(q.pending[key], msg)
	depth := len(q.pending[key])
	wake := q.wakeupLocked(key)

	q.mu.Unlock()

	observability.RecordEnqueue(key, depth)
	notify(wake)
	return depth
}

// DrainAll removes and returns all pending messages for the conversation,
// in arrival order.
func (q *Queue) DrainAll(key string) []Message {
	q.mu.Lock()
	batch := q.pending[key]
	delete(q.pending, key)
	q.mu.Unlock()

	observability.SetQueueDepth(key, 0)
	return batch
}

// Peek returns the number of pending messages without removing them.
func (q *Queue) Peek(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[key])
}

// List returns a copy of the pending messages for the conversation.
func (q *Queue) List(key string) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, len(q.pending[key]))
	copy(out, q.pending[key])
	return out
}

// Clear discards all pending messages for the conversation and returns
// how many were dropped.
func (q *Queue) Clear(key string) int {
	q.mu.Lock()
	dropped := len(q.pending[key])
	delete(q.pending, key)
	q.mu.Unlock()

	observability.SetQueueDepth(key, 0)
	return dropped
}

// Wake nudges the conversation's worker without enqueuing anything.
// Used when state outside the queue changes, such as leaving human-only
// mode with messages still pending.
func (q *Queue) Wake(key string) {
	q.mu.Lock()
	wake := q.wakeupLocked(key)
	q.mu.Unlock()

	notify(wake)
}

// Wait blocks until the conversation is woken or ctx is done.
func (q *Queue) Wait(ctx context.Context, key string) error {
	q.mu.Lock()
	wake := q.wakeupLocked(key)
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
		return nil
	}
}

// wakeupLocked returns the conversation's wakeup channel, creating it on
// first use. Buffered with one slot so a notify before Wait is not lost.
func (q *Queue) wakeupLocked(key string) chan struct{} {
	wake, ok := q.wakeups[key]
	if !ok {
		wake = make(chan struct{}, 1)
		q.wakeups[key] = wake
	}
	return wake
}

func notify(wake chan struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
