package mqtt

import "errors"

// Sentinel errors, matched with errors.Is.
var (
	// ErrConnectionFailed means the initial broker connection did not
	// come up within the timeout.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrNotConnected means the client is currently offline. The paho
	// layer reconnects in the background; publishes fail fast in the
	// meantime.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrPublishFailed wraps broker-side or timeout publish failures.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS rejects QoS levels outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic rejects empty topics.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
