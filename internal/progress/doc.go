// Package progress implements the task lifecycle event bus.
//
// The task worker publishes started, progress, completed and failed
// events as it executes tasks. Any number of observers subscribe:
// WebSocket streams, the MQTT mirror, and tests. Publishing never
// blocks; each subscriber has its own bounded buffer with drop-oldest
// overflow, so one slow consumer cannot stall the worker or starve
// other consumers.
//
// # Views
//
//   - SubscribeAll: every event, plus a synthetic heartbeat on a fixed
//     interval (default 30s) so transport keep-alives work.
//   - SubscribeTask: a synthetic connected event first, then only that
//     task's events; the stream closes itself after the task's terminal
//     event. Subscribing after the task finished yields connected
//     followed by close; events are never replayed.
//
// # Usage
//
//	bus := progress.NewBus(progress.Config{})
//	defer bus.Close()
//
//	events, cancel := bus.SubscribeAll()
//	defer cancel()
//
//	bus.Publish(progress.Event{TaskID: 42, Type: progress.EventStarted})
package progress
