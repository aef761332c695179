package taskqueue

import (
	"context"
	"sync"
	"sync/atomic"
)

// Reply is the receiving half of a one-shot reply channel. Exactly zero
// or one Result is ever delivered.
type Reply struct {
	ch chan Result

	// abandoned is set when the caller stops waiting, so the worker can
	// log the skipped delivery.
	abandoned atomic.Bool

	once sync.Once
}

func newReply() *Reply {
	// Buffered so the worker's send never blocks on a slow caller.
	return &Reply{ch: make(chan Result, 1)}
}

// Wait blocks until the result arrives, the channel is dropped, or ctx
// is done.
//
// A dropped channel yields ErrReplyClosed. Abandoning the wait (ctx
// done) does not cancel the underlying operation; the worker runs it to
// completion regardless.
func (r *Reply) Wait(ctx context.Context) (Result, error) {
	select {
	case res, ok := <-r.ch:
		if !ok {
			return Result{}, ErrReplyClosed
		}
		return res, nil
	case <-ctx.Done():
		r.abandoned.Store(true)
		return Result{}, ctx.Err()
	}
}

// resolve delivers the result. Returns false when the caller already
// abandoned the wait. Subsequent calls are no-ops.
func (r *Reply) resolve(res Result) bool {
	delivered := false
	r.once.Do(func() {
		if r.abandoned.Load() {
			close(r.ch)
			return
		}
		r.ch <- res
		close(r.ch)
		delivered = true
	})
	return delivered
}

// drop closes the channel without a result.
func (r *Reply) drop() {
	r.once.Do(func() { close(r.ch) })
}
