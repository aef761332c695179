package taskqueue

import (
	"sync/atomic"
	"time"
)

// Priority is an envelope's scheduling tier.
type Priority int

const (
	// PriorityNormal is the default tier for long-running jobs.
	PriorityNormal Priority = iota

	// PriorityHigh is the tier for cheap, near-instant operations.
	PriorityHigh
)

// String returns the lowercase name used in history records and logs.
func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "normal"
}

// Mode is an envelope's execution mode.
type Mode int

const (
	// ModeAsynchronous callers receive a task id immediately and follow
	// progress over the event stream.
	ModeAsynchronous Mode = iota

	// ModeSynchronous callers block on the reply channel for the result.
	ModeSynchronous
)

// String returns the lowercase name used in history records and logs.
func (m Mode) String() string {
	if m == ModeSynchronous {
		return "synchronous"
	}
	return "asynchronous"
}

// taskCounter allocates task ids. Ids are never zero and never reused
// within a process lifetime (wrap-around at 2^32 tasks skips zero).
var taskCounter atomic.Uint32

// NextTaskID returns a fresh task id.
func NextTaskID() uint32 {
	for {
		if id := taskCounter.Add(1); id != 0 {
			return id
		}
	}
}

// Envelope is one unit of work. It is immutable after creation and
// consumed exactly once: ownership passes from the submitter to the
// queue to the worker.
type Envelope struct {
	// ID is the task identity, unique for the process lifetime.
	ID uint32

	// Operation is the engine operation name.
	Operation string

	// Parameters are the operation's arguments, passed through to the
	// engine untouched.
	Parameters map[string]any

	// Priority is the scheduling tier, assigned by Classify.
	Priority Priority

	// Mode is the execution mode, assigned by Classify.
	Mode Mode

	// CreatedAt is when the envelope was submitted (UTC).
	CreatedAt time.Time

	// reply is the sending half of the one-shot reply channel. Nil in
	// asynchronous mode.
	reply *Reply
}

// Result is the outcome of one task. Exactly zero or one Result is
// delivered per synchronous envelope.
type Result struct {
	TaskID          uint32         `json:"task_id"`
	Success         bool           `json:"success"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	CompletedAt     time.Time      `json:"completed_at"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// NewEnvelope builds an envelope for the given operation, classifying
// its mode and priority and allocating a task id. The returned Reply is
// non-nil only for synchronous-mode operations; the submitter blocks on
// it for the result.
func NewEnvelope(operation string, parameters map[string]any) (*Envelope, *Reply) {
	mode, priority := Classify(operation)

	env := &Envelope{
		ID:         NextTaskID(),
		Operation:  operation,
		Parameters: parameters,
		Priority:   priority,
		Mode:       mode,
		CreatedAt:  time.Now().UTC(),
	}

	var reply *Reply
	if mode == ModeSynchronous {
		reply = newReply()
		env.reply = reply
	}
	return env, reply
}

// Resolve delivers the task result to the synchronous caller. Returns
// false when the caller abandoned the reply before delivery; that is
// not an error for the worker. No-op for asynchronous envelopes.
func (e *Envelope) Resolve(res Result) bool {
	if e.reply == nil {
		return true
	}
	return e.reply.resolve(res)
}

// Discard closes the reply channel without a result. The caller
// observes a distinct reply-closed failure instead of hanging. No-op
// for asynchronous envelopes or after Resolve.
func (e *Envelope) Discard() {
	if e.reply != nil {
		e.reply.drop()
	}
}
