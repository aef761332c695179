package engine

import "errors"

// Domain errors for the engine session package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the session is not connected to the engine daemon.
	ErrNotConnected = errors.New("engine: not connected to daemon")

	// ErrConnectionFailed is returned when the connection to the daemon fails.
	ErrConnectionFailed = errors.New("engine: connection to daemon failed")

	// ErrExecuteFailed is returned when submitting an operation to the
	// daemon fails at the transport level.
	ErrExecuteFailed = errors.New("engine: execute failed")

	// ErrConnectionLost is returned to waiters when the connection drops
	// while a request or job is outstanding.
	ErrConnectionLost = errors.New("engine: connection lost")

	// ErrInvalidFrame is returned when a frame is malformed.
	ErrInvalidFrame = errors.New("engine: invalid frame")

	// ErrFrameTooLarge is returned when a payload does not fit the
	// 2-byte frame size field.
	ErrFrameTooLarge = errors.New("engine: frame too large")

	// ErrProtocolDesync is returned when the byte stream can no longer be
	// framed safely. The connection must be closed and re-established.
	ErrProtocolDesync = errors.New("engine: protocol desync")

	// ErrUnknownJob is returned when awaiting a job id the session has
	// never seen.
	ErrUnknownJob = errors.New("engine: unknown job id")
)
