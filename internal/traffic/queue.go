package traffic

import (
	"sync"
	"sync/atomic"
)

// Queue is a bounded, channel-backed Sink. Push blocks while the queue is
// full, which gives producers backpressure instead of unbounded memory
// growth. After Close, further pushes are dropped so that in-flight crawl
// sessions can finish without blocking forever.
type Queue struct {
	records chan Record
	done    chan struct{}

	mu      sync.Mutex
	pushers sync.WaitGroup
	closed  bool
}

// NewQueue creates a Queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{
		records: make(chan Record, capacity),
		done:    make(chan struct{}),
	}
}

// Push delivers a record to the queue, blocking while it is full. A Close
// while Push is blocked unblocks it and drops the record.
func (q *Queue) Push(rec Record) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	// Registering under mu means Close either sees this pusher and waits for
	// it, or this pusher sees closed and never touches the channel.
	q.pushers.Add(1)
	q.mu.Unlock()
	defer q.pushers.Done()

	select {
	case q.records <- rec:
	case <-q.done:
	}
}

// Records exposes the receive side of the queue for the consumer.
func (q *Queue) Records() <-chan Record {
	return q.records
}

// Len returns the number of records waiting to be consumed.
func (q *Queue) Len() int {
	return len(q.records)
}

// Close marks the queue closed, unblocks any pending pushes, and closes the
// records channel once the last pusher is out. Consumers should drain
// Records() until it is closed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.pushers.Wait()
	close(q.records)
}

// CountingSink wraps a Sink and counts how many records passed through it.
// One instance is bound per crawl session so the session can log how much
// traffic it produced.
type CountingSink struct {
	inner Sink
	count atomic.Int64
}

// NewCountingSink wraps inner.
func NewCountingSink(inner Sink) *CountingSink {
	return &CountingSink{inner: inner}
}

// Push forwards to the wrapped sink and increments the counter.
func (c *CountingSink) Push(rec Record) {
	c.count.Add(1)
	c.inner.Push(rec)
}

// Count returns how many records were pushed so far.
func (c *CountingSink) Count() int64 {
	return c.count.Load()
}
