package progress

import (
	"sync"
	"sync/atomic"
	"time"
)

// Bus defaults.
const (
	// DefaultBufferSize is the per-subscriber event buffer size.
	DefaultBufferSize = 1024

	// DefaultHeartbeatInterval is how often all-tasks subscribers
	// receive a synthetic heartbeat event.
	DefaultHeartbeatInterval = 30 * time.Second
)

// Config holds bus tuning options. The zero value uses defaults.
type Config struct {
	// BufferSize is the per-subscriber buffer. Default 1024.
	BufferSize int

	// HeartbeatInterval is the synthetic heartbeat period for all-tasks
	// subscribers. Default 30s. Negative disables heartbeats.
	HeartbeatInterval time.Duration
}

// BusStats holds bus observability counters.
type BusStats struct {
	Subscribers   int
	EventsDropped uint64
}

// subscriber is one registered event consumer.
type subscriber struct {
	ch chan Event

	// taskID restricts delivery to a single task. Zero means all tasks
	// (task ids are never zero).
	taskID uint32
}

// Bus broadcasts task lifecycle events to any number of subscribers.
//
// Each subscriber has its own bounded buffer. Publishing never blocks:
// when a subscriber's buffer is full, its oldest buffered event is
// dropped to make room, so a slow consumer affects nobody else and
// always converges on the newest events. Delivery order is preserved
// per subscriber (what remains after drops is a subsequence of the
// publish order).
//
// Two subscription views exist:
//   - SubscribeAll: every event plus synthetic heartbeats.
//   - SubscribeTask: a synthetic connected event, then only that task's
//     events; the channel closes after the task's terminal event. No
//     replay: subscribing after the task finished yields connected
//     followed by close.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	// finished remembers task ids whose terminal event has been
	// published, so late single-task subscribers terminate immediately.
	// Entries are a few bytes each and task ids are never reused, so
	// this grows with completed task count for the process lifetime.
	finished map[uint32]struct{}

	bufferSize        int
	heartbeatInterval time.Duration

	dropped atomic.Uint64

	stopHeartbeat chan struct{}
	heartbeatOnce sync.Once
	wg            sync.WaitGroup
}

// NewBus creates a bus and starts its heartbeat ticker.
func NewBus(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	b := &Bus{
		subs:              make(map[uint64]*subscriber),
		finished:          make(map[uint32]struct{}),
		bufferSize:        cfg.BufferSize,
		heartbeatInterval: cfg.HeartbeatInterval,
		stopHeartbeat:     make(chan struct{}),
	}

	if cfg.HeartbeatInterval > 0 {
		b.wg.Add(1)
		go b.heartbeatLoop()
	}

	return b
}

// Publish broadcasts an event to all matching subscribers.
//
// Never blocks. All-tasks subscribers receive every event; single-task
// subscribers receive only their task's events and are closed after the
// terminal event is delivered to them. Non-terminal events for a task
// that already finished are discarded.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	// Progress events can arrive concurrently with the terminal event
	// and lose the race. Once a task is finished, stale non-terminal
	// events are dropped so every subscriber sees the terminal event
	// last.
	if _, done := b.finished[ev.TaskID]; done && !ev.Terminal() {
		return
	}

	for id, sub := range b.subs {
		if sub.taskID != 0 && sub.taskID != ev.TaskID {
			continue
		}
		b.deliver(sub, ev)
		if sub.taskID != 0 && ev.Terminal() {
			close(sub.ch)
			delete(b.subs, id)
		}
	}

	if ev.Terminal() && ev.TaskID != 0 {
		b.finished[ev.TaskID] = struct{}{}
	}
}

// deliver places an event in a subscriber's buffer, dropping the oldest
// buffered event on overflow. Caller holds b.mu.
func (b *Bus) deliver(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}

	// Buffer full: make room by discarding the oldest event.
	select {
	case <-sub.ch:
		b.dropped.Add(1)
	default:
	}

	select {
	case sub.ch <- ev:
	default:
		// Lost the race with the consumer draining concurrently; the
		// buffer can only have gained room, so this is unreachable in
		// practice. Count it as a drop rather than block.
		b.dropped.Add(1)
	}
}

// SubscribeAll registers an all-tasks subscriber.
//
// The returned channel receives every published event plus synthetic
// heartbeats. Call the cancel function to unsubscribe; the channel is
// closed on cancel or bus Close.
func (b *Bus) SubscribeAll() (<-chan Event, func()) {
	return b.subscribe(0)
}

// SubscribeTask registers a single-task subscriber.
//
// The channel immediately receives a synthetic connected event, then
// only the given task's events. It closes after the task's terminal
// event. If the task already finished, the channel closes right after
// the connected event; events are not replayed.
func (b *Bus) SubscribeTask(taskID uint32) (<-chan Event, func()) {
	return b.subscribe(taskID)
}

func (b *Bus) subscribe(taskID uint32) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	sub := &subscriber{ch: ch, taskID: taskID}

	if taskID != 0 {
		b.deliver(sub, Event{
			TaskID:    taskID,
			Type:      EventConnected,
			Timestamp: time.Now().UTC(),
		})
		if _, done := b.finished[taskID]; done {
			close(ch)
			return ch, func() {}
		}
	}

	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			close(s.ch)
			delete(b.subs, id)
		}
	}
	return ch, cancel
}

// heartbeatLoop publishes synthetic heartbeats to all-tasks subscribers.
func (b *Bus) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopHeartbeat:
			return
		case <-ticker.C:
			b.publishHeartbeat()
		}
	}
}

func (b *Bus) publishHeartbeat() {
	ev := Event{
		Type:      EventHeartbeat,
		Timestamp: time.Now().UTC(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.taskID != 0 {
			continue
		}
		b.deliver(sub, ev)
	}
}

// Stats returns current bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.Lock()
	subs := len(b.subs)
	b.mu.Unlock()

	return BusStats{
		Subscribers:   subs,
		EventsDropped: b.dropped.Load(),
	}
}

// Close shuts the bus down: stops the heartbeat ticker and closes every
// subscriber channel. Publish after Close is a no-op. Safe to call
// multiple times.
func (b *Bus) Close() {
	b.heartbeatOnce.Do(func() { close(b.stopHeartbeat) })
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
