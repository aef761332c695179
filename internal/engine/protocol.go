package engine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Engine daemon message types.
//
// The engine daemon speaks a length-prefixed binary framing over its
// control socket: a 2-byte big-endian size field (covering type and
// payload, not the size field itself), a 2-byte message type, and a
// JSON payload.
const (
	// MsgHello opens a control session. The daemon echoes the type back
	// with its protocol version.
	MsgHello uint16 = 0x0001

	// MsgExecute submits an operation for execution.
	MsgExecute uint16 = 0x0002

	// MsgAck acknowledges an execute request. Near-instant operations
	// carry their result inline; long-running jobs carry only the
	// engine-assigned job id.
	MsgAck uint16 = 0x0003

	// MsgEvent is an out-of-band job lifecycle event (progress,
	// completed, failed).
	MsgEvent uint16 = 0x0004
)

// frameHeaderSize is the size field (2) plus the type field (2).
const frameHeaderSize = 4

// maxFramePayload is the largest payload the 2-byte size field can
// describe: 65535 minus the type field it also covers.
const maxFramePayload = math.MaxUint16 - 2

// protocolVersion is the control protocol version this client speaks.
const protocolVersion = 1

// helloRequest is the payload of a MsgHello frame.
type helloRequest struct {
	Client  string `json:"client"`
	Version int    `json:"version"`
}

// helloResponse is the daemon's reply to MsgHello.
type helloResponse struct {
	ProtocolVersion int    `json:"protocol_version"`
	Engine          string `json:"engine,omitempty"`
}

// executeRequest is the payload of a MsgExecute frame.
type executeRequest struct {
	RequestID  string         `json:"request_id"`
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ackPayload is the payload of a MsgAck frame.
type ackPayload struct {
	RequestID string         `json:"request_id"`
	JobID     string         `json:"job_id"`
	Completed bool           `json:"completed"`
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Event is an out-of-band job lifecycle event from the engine daemon.
type Event struct {
	// JobID is the engine-assigned job identifier.
	JobID string `json:"job_id"`

	// Type is the event type: "progress", "completed", or "failed".
	Type string `json:"type"`

	// Message is an optional human-readable progress description.
	Message string `json:"message,omitempty"`

	// Data carries event-specific values (e.g. percent complete).
	Data map[string]any `json:"data,omitempty"`
}

// Terminal reports whether the event ends its job.
func (e Event) Terminal() bool {
	return e.Type == "completed" || e.Type == "failed"
}

// Ack is the engine's acknowledgment of an execute request.
type Ack struct {
	// JobID is the engine-assigned job identifier.
	JobID string

	// Completed indicates the operation finished inline; Result and
	// Error are final. When false, the caller must await the job's
	// terminal event.
	Completed bool

	// Success is only meaningful when Completed is true.
	Success bool

	// Result is the operation's result value, if any.
	Result map[string]any

	// Error describes the failure when Completed && !Success.
	Error string
}

// Result is the terminal outcome of an engine job.
type Result struct {
	JobID    string
	Success  bool
	Result   map[string]any
	Error    string
	Finished time.Time
}

// EncodeFrame encodes a message type and JSON-marshalled payload into
// the engine wire format.
//
// Frame layout:
//   - size: 2 bytes, big-endian, = type(2) + payload length
//   - type: 2 bytes, big-endian
//   - payload: JSON bytes
//
// Payloads larger than maxFramePayload are rejected: the size field
// would wrap and desync the daemon's stream.
func EncodeFrame(msgType uint16, v any) ([]byte, error) {
	var payload []byte
	if v != nil {
		var err error
		payload, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal payload: %w", ErrInvalidFrame, err)
		}
	}

	if len(payload) > maxFramePayload {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit %d",
			ErrFrameTooLarge, len(payload), maxFramePayload)
	}

	buf := make([]byte, frameHeaderSize+len(payload))

	// Size field = type(2) + payload length (does NOT include size field itself)
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload)))

	binary.BigEndian.PutUint16(buf[2:4], msgType)

	if len(payload) > 0 {
		copy(buf[4:], payload)
	}

	return buf, nil
}

// ParseFrame parses a raw frame read from the engine socket.
//
// Parameters:
//   - data: Raw bytes including the size field
//
// Returns:
//   - msgType: The engine message type
//   - payload: The JSON payload (may be empty)
//   - error: If the frame is malformed
func ParseFrame(data []byte) (msgType uint16, payload []byte, err error) {
	if len(data) < frameHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidFrame, len(data))
	}

	// Validate size field (size = type(2) + payload, does NOT include size field itself)
	declaredSize := binary.BigEndian.Uint16(data[0:2])
	expectedSize := len(data) - 2 // total bytes minus the 2-byte size field
	if int(declaredSize) != expectedSize {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, expected %d)",
			ErrInvalidFrame, declaredSize, expectedSize)
	}

	msgType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > frameHeaderSize {
		payload = data[frameHeaderSize:]
	}

	return msgType, payload, nil
}
