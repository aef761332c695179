package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReplyDeliversOnce(t *testing.T) {
	env, reply := NewEnvelope("status", nil)

	if !env.Resolve(Result{TaskID: env.ID, Success: true}) {
		t.Error("Resolve() = false, want true for waiting caller")
	}

	res, err := reply.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !res.Success || res.TaskID != env.ID {
		t.Errorf("Wait() = %+v, want success for task %d", res, env.ID)
	}

	// Second resolve is a no-op; channel is closed.
	env.Resolve(Result{TaskID: env.ID})
	if _, err := reply.Wait(context.Background()); !errors.Is(err, ErrReplyClosed) {
		t.Errorf("second Wait() error = %v, want ErrReplyClosed", err)
	}
}

func TestReplyDiscard(t *testing.T) {
	env, reply := NewEnvelope("status", nil)
	env.Discard()

	_, err := reply.Wait(context.Background())
	if !errors.Is(err, ErrReplyClosed) {
		t.Errorf("Wait() after Discard error = %v, want ErrReplyClosed", err)
	}
}

func TestReplyAbandoned(t *testing.T) {
	env, reply := NewEnvelope("status", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := reply.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want context.DeadlineExceeded", err)
	}

	// Resolving after abandonment is not an error, just undelivered.
	if env.Resolve(Result{TaskID: env.ID, Success: true}) {
		t.Error("Resolve() = true after caller abandoned, want false")
	}
}

func TestAsyncEnvelopeResolveNoop(t *testing.T) {
	env, reply := NewEnvelope("long_job", nil)
	if reply != nil {
		t.Fatal("asynchronous envelope must not carry a reply")
	}

	// Both are safe no-ops without a reply channel.
	if !env.Resolve(Result{TaskID: env.ID}) {
		t.Error("Resolve() = false for asynchronous envelope, want true")
	}
	env.Discard()
}
