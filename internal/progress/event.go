package progress

import "time"

// EventType identifies a task lifecycle event.
type EventType string

const (
	// EventStarted is published when the worker begins executing a task.
	EventStarted EventType = "started"

	// EventProgress carries incremental progress from the engine.
	EventProgress EventType = "progress"

	// EventCompleted is the terminal event for a successful task.
	EventCompleted EventType = "completed"

	// EventFailed is the terminal event for a failed task.
	EventFailed EventType = "failed"

	// EventHeartbeat is synthesised on a fixed interval for all-tasks
	// subscribers so transport keep-alives work. It carries no task id.
	EventHeartbeat EventType = "heartbeat"

	// EventConnected is synthesised as the first event on a single-task
	// subscription to confirm the stream is live.
	EventConnected EventType = "connected"
)

// Event is a task lifecycle notification.
type Event struct {
	// TaskID is the task this event belongs to. Zero for heartbeats.
	TaskID uint32 `json:"task_id,omitempty"`

	// Operation is the task's operation name, when known.
	Operation string `json:"operation,omitempty"`

	// Type is the event type.
	Type EventType `json:"event_type"`

	// Message is an optional human-readable description.
	Message string `json:"message,omitempty"`

	// Data carries event-specific values (results, percent complete).
	Data map[string]any `json:"data,omitempty"`

	// Timestamp is when the event was published (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends its task's lifecycle.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}
