// Package taskqueue implements the task model, priority ingress queue,
// and the single worker goroutine that owns the engine session.
//
// The engine is not safe to touch from more than one goroutine, and its
// internal state (not just memory) is undefined under concurrent
// access. Stagehand therefore never shares it behind a lock: exactly
// one worker goroutine holds the session and consumes envelopes from a
// single-consumer queue, so every engine call is serialized by
// construction.
//
// # Submission
//
// Many HTTP callers submit concurrently. Classify assigns each
// operation a mode and priority: cheap near-instant operations run
// synchronously at high priority (the caller blocks on a one-shot reply
// channel), long jobs run asynchronously at normal priority (the caller
// gets the task id immediately and follows progress on the event bus).
// Submission never blocks; the queue is unbounded.
//
//	env, reply := taskqueue.NewEnvelope("screenshot", nil)
//	if err := queue.Submit(env); err != nil {
//	    // queue closed, daemon shutting down
//	}
//	if reply != nil {
//	    res, err := reply.Wait(ctx)
//	    ...
//	}
//
// # Lifecycle
//
// For every envelope the worker publishes started, then the engine
// call runs to completion, then completed or failed, then the reply is
// resolved (synchronous mode only). Events are published for both
// modes, so observers and blocking callers see the same history. A
// caller that stopped waiting does not cancel the in-flight engine
// call; the operation completes so the engine is never left
// mid-operation.
//
// Closing the queue is the only shutdown signal: the worker drains
// remaining envelopes, closes the session, and exits.
package taskqueue
