package mqtt

import "fmt"

// Topic prefixes for the Stagehand MQTT namespace.
//
// Task lifecycle events use the flat scheme:
// stagehand/events/{event_type}/{task_id}
const (
	// TopicPrefixEvents is the base for task lifecycle event topics.
	TopicPrefixEvents = "stagehand/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "stagehand/system"
)

// Topics provides builders for Stagehand MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.TaskEvent("completed", 42)
//	// Returns: "stagehand/events/completed/42"
type Topics struct{}

// TaskEvent returns the topic for a task lifecycle event.
//
// Example: stagehand/events/completed/42
func (Topics) TaskEvent(eventType string, taskID uint32) string {
	return fmt.Sprintf("%s/%s/%d", TopicPrefixEvents, eventType, taskID)
}

// SystemStatus returns the system status topic.
//
// Example: stagehand/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTaskEvents returns a pattern matching every task lifecycle event.
//
// Pattern: stagehand/events/+/+
func (Topics) AllTaskEvents() string {
	return fmt.Sprintf("%s/+/+", TopicPrefixEvents)
}

// EventsForTask returns a pattern matching all events for a single task.
//
// Pattern: stagehand/events/+/42
func (Topics) EventsForTask(taskID uint32) string {
	return fmt.Sprintf("%s/+/%d", TopicPrefixEvents, taskID)
}

// AllTopics returns a pattern matching all Stagehand topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: stagehand/#
func (Topics) AllTopics() string {
	return "stagehand/#"
}
