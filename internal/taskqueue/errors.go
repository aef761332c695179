package taskqueue

import "errors"

var (
	// ErrQueueClosed is returned by Submit after Close. Submission
	// fails fast rather than hanging.
	ErrQueueClosed = errors.New("task queue closed")

	// ErrReplyClosed is observed by a synchronous caller whose reply
	// channel was dropped without a result.
	ErrReplyClosed = errors.New("reply channel closed")
)
