package taskqueue

import "sync"

// Queue is the unbounded priority ingress queue between HTTP callers
// and the worker. Many producers, one consumer.
//
// Submission never blocks and capacity is unbounded, trading memory
// growth under sustained overload for availability. High
// priority envelopes present at a poll are delivered before Normal
// ones, FIFO within each tier. Closing the queue is the worker's sole
// shutdown signal: TakeNext drains remaining envelopes first, then
// reports end-of-stream.
//
// Thread Safety: all methods are safe for concurrent use.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	high   []*Envelope
	normal []*Envelope
	closed bool
}

// NewQueue creates an open, empty queue.
func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Submit hands an envelope to the queue. Never blocks. Returns
// ErrQueueClosed after Close.
func (q *Queue) Submit(env *Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if env.Priority == PriorityHigh {
		q.high = append(q.high, env)
	} else {
		q.normal = append(q.normal, env)
	}
	q.cond.Signal()
	return nil
}

// TakeNext blocks until an envelope is available or the queue is closed
// and drained. The second return is false only at end-of-stream.
func (q *Queue) TakeNext() (*Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.high) == 0 && len(q.normal) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}

	if len(q.high) > 0 {
		env := q.high[0]
		q.high = q.high[1:]
		return env, true
	}
	env := q.normal[0]
	q.normal = q.normal[1:]
	return env, true
}

// Depth returns the current number of queued envelopes per tier.
func (q *Queue) Depth() (high, normal int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.high), len(q.normal)
}

// Close stops accepting submissions. Queued envelopes are still
// delivered; once drained, TakeNext reports end-of-stream. Safe to call
// multiple times.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}
