package mqtt

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/veldt-labs/stagehand/internal/progress"
)

// Publisher is the broker-side surface the mirror needs. *Client
// satisfies it; tests substitute a fake.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger is the optional logging interface for the mirror.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MirrorStats holds mirror observability counters.
type MirrorStats struct {
	EventsPublished uint64
	PublishErrors   uint64
}

// Mirror republishes task lifecycle events from the progress bus to the
// MQTT broker, one message per event on
// stagehand/events/{event_type}/{task_id}.
//
// Publishing is fire and forget: a broker outage or publish error is
// counted and logged but never stalls event consumption, so the mirror
// can never back-pressure the task worker. Heartbeat and connected
// events are stream plumbing, not task lifecycle, and are not mirrored.
type Mirror struct {
	pub    Publisher
	qos    byte
	logger Logger

	events <-chan progress.Event
	cancel func()

	published atomic.Uint64
	errors    atomic.Uint64

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// StartMirror consumes events until the channel closes or Stop is
// called. The cancel function should unsubscribe events from the bus;
// Stop invokes it. logger may be nil.
func StartMirror(pub Publisher, events <-chan progress.Event, cancel func(), qos byte, logger Logger) *Mirror {
	m := &Mirror{
		pub:    pub,
		qos:    qos,
		logger: logger,
		events: events,
		cancel: cancel,
	}

	m.wg.Add(1)
	go m.run()

	return m
}

func (m *Mirror) run() {
	defer m.wg.Done()

	for ev := range m.events {
		switch ev.Type {
		case progress.EventHeartbeat, progress.EventConnected:
			continue
		}
		m.mirror(ev)
	}
}

func (m *Mirror) mirror(ev progress.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		m.errors.Add(1)
		if m.logger != nil {
			m.logger.Warn("Failed to encode event for MQTT mirror", "task_id", ev.TaskID, "error", err)
		}
		return
	}

	topic := Topics{}.TaskEvent(string(ev.Type), ev.TaskID)
	if err := m.pub.Publish(topic, payload, m.qos, false); err != nil {
		m.errors.Add(1)
		if m.logger != nil {
			m.logger.Warn("Failed to mirror event to MQTT", "topic", topic, "error", err)
		}
		return
	}

	m.published.Add(1)
	if m.logger != nil {
		m.logger.Debug("Mirrored event to MQTT", "topic", topic)
	}
}

// Stats returns current mirror counters.
func (m *Mirror) Stats() MirrorStats {
	return MirrorStats{
		EventsPublished: m.published.Load(),
		PublishErrors:   m.errors.Load(),
	}
}

// Stop unsubscribes from the bus and waits for in-flight publishing to
// finish. Safe to call multiple times.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
	})
	m.wg.Wait()
}
