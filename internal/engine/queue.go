package engine

import (
	"sync"

	"github.com/parley-proto/parley/internal/wire"
)

// Inbound is one delivered envelope plus the transport address it arrived
// from. The address is recorded on every accepted transition so directed
// replies know where to go.
type Inbound struct {
	Env  wire.Envelope
	Addr string
}

// inboundQueue is a thread-safe FIFO queue of deliveries.
//
// The queue is unbounded: handshake envelopes are tiny and a slow sweep must
// not block transport readers. Thread-safety covers external enqueuing
// (transport goroutines) while the Run loop dequeues.
//
// A buffered signal channel enables context-aware waiting in the Run loop.
type inboundQueue struct {
	mu     sync.Mutex
	items  []Inbound
	closed bool
	signal chan struct{}
}

func newInboundQueue() *inboundQueue {
	return &inboundQueue{
		items:  make([]Inbound, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a delivery to the back of the queue.
// Returns false if the queue is closed.
func (q *inboundQueue) Enqueue(in Inbound) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, in)

	// Non-blocking: buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
func (q *inboundQueue) TryDequeue() (Inbound, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Inbound{}, false
	}

	in := q.items[0]
	q.items[0] = Inbound{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return in, true
}

// Wait returns a channel that signals when deliveries may be available.
func (q *inboundQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *inboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more deliveries will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *inboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
