// Package engine provides the control session to the automation engine daemon.
//
// The engine runs as a separate daemon process reached over a Unix or
// TCP socket. Frames are length-prefixed: a 2-byte size field, a 2-byte
// message type, and a JSON payload. The session performs the hello
// handshake on connect, submits operations with Execute, and receives
// acknowledgments and out-of-band job events on a receive loop.
//
// # Execution model
//
// Near-instant operations (status, screenshot, start, stop) complete
// inline: Execute returns an Ack with Completed=true and the final
// result. Long-running jobs are acknowledged with an engine-assigned
// job id; their progress and terminal outcome arrive as events. Use
// AwaitCompletion to block until a job's terminal event.
//
// The engine handle is not safe for concurrent operations; exactly one
// owner (the task worker) should call Execute at a time. The session
// itself is safe for concurrent use so that Stats and HealthCheck can
// be served from other goroutines.
//
// # Resilience
//
//   - Auto-reconnect with exponential backoff when the connection drops.
//   - Requests and jobs outstanding at disconnect fail with
//     ErrConnectionLost instead of hanging.
//   - Oversized or malformed frames that would desync the stream close
//     the socket and force a clean reconnect.
//   - Observer event callbacks run in a bounded worker pool; events are
//     dropped (and counted) rather than blocking the receive loop.
//
// # Usage
//
//	session, err := engine.Connect(ctx, engine.Config{
//	    Connection: "tcp://localhost:17720",
//	})
//	if err != nil {
//	    return err
//	}
//	defer session.Close()
//
//	ack, err := session.Execute(ctx, "screenshot", nil)
//	if err != nil {
//	    return err
//	}
//	if !ack.Completed {
//	    result, err := session.AwaitCompletion(ctx, ack.JobID)
//	    ...
//	}
package engine
