package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and intervals for engine daemon communication.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the timeout for individual read operations.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultReconnectInterval is the initial delay between reconnection attempts.
	defaultReconnectInterval = 5 * time.Second

	// maxReconnectInterval is the maximum delay between reconnection attempts.
	maxReconnectInterval = 2 * time.Minute

	// readBufferSize is the size of the read buffer for incoming frames.
	// Engine results are JSON and can carry screenshots metadata, so this
	// is generous compared to the frame sizes seen in practice.
	readBufferSize = 64 * 1024

	// eventQueueSize is the buffer size for the event callback queue.
	eventQueueSize = 100

	// eventWorkerCount is the number of concurrent event callback workers.
	eventWorkerCount = 4
)

// Config holds engine daemon connection configuration.
type Config struct {
	// Connection is the engine daemon socket URL.
	// Supported formats:
	//   - "unix:///run/stagehand/engine.sock" (Unix socket)
	//   - "tcp://localhost:17720" (TCP)
	Connection string

	// ConnectTimeout is the maximum time to wait for connection.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the timeout for read operations.
	// Default: 30 seconds.
	ReadTimeout time.Duration

	// ReconnectInterval is the initial delay between reconnection attempts.
	// Default: 5 seconds.
	ReconnectInterval time.Duration
}

// Stats holds operational statistics for a session.
type Stats struct {
	RequestsTx      uint64
	EventsRx        uint64
	EventsDropped   uint64 // Events dropped due to full callback queue
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	Connected       bool
	Reconnecting    bool // True if currently attempting to reconnect
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Connector abstracts the engine session for the task worker.
// This allows mocking the engine in tests.
type Connector interface {
	Execute(ctx context.Context, operation string, params map[string]any) (*Ack, error)
	AwaitCompletion(ctx context.Context, jobID string) (*Result, error)
	SetOnEvent(callback func(Event))
	IsConnected() bool
	Stats() Stats
	HealthCheck(ctx context.Context) error
	Close() error
}

// Ensure Session implements Connector.
var _ Connector = (*Session)(nil)

// Session provides a control connection to the engine daemon.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event callbacks are invoked from a bounded worker pool.
//
// Auto-Reconnection:
//   - When the connection is lost, the session automatically attempts to reconnect.
//   - Uses exponential backoff starting at ReconnectInterval (default 5s) up to maxReconnectInterval (2min).
//   - Reconnection stops only when Close() is called.
//   - Requests and jobs outstanding at disconnect fail with ErrConnectionLost.
type Session struct {
	cfg  Config
	conn net.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// Reconnection state
	reconnecting   atomic.Bool  // True while reconnection is in progress
	reconnectCount atomic.Int32 // Number of consecutive reconnection attempts

	// In-flight execute requests, keyed by request id.
	pendingReqs map[string]chan ackPayload

	// Jobs awaiting their terminal event, keyed by engine job id.
	// completedJobs buffers results that arrived before AwaitCompletion,
	// so the ack/event race resolves cleanly.
	pendingJobs   map[string]chan Result
	completedJobs map[string]Result
	pendingMu     sync.Mutex

	// Event handler callback
	onEvent    func(Event)
	callbackMu sync.RWMutex

	// Event callback worker pool (bounded goroutine spawning)
	eventQueue chan Event

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	requestsTx      atomic.Uint64
	eventsRx        atomic.Uint64
	eventsDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// Connect establishes a control session with the engine daemon.
//
// The connection URL determines the transport:
//   - "unix:///run/stagehand/engine.sock" → Unix socket
//   - "tcp://localhost:17720" → TCP socket
//
// After connecting, it performs the hello handshake and starts a
// goroutine to receive acknowledgments and job events.
//
// Parameters:
//   - ctx: Context for cancellation (used for initial connection)
//   - cfg: Connection configuration
//
// Returns:
//   - *Session: Connected session ready for use
//   - error: If connection or handshake fails
func Connect(ctx context.Context, cfg Config) (*Session, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}

	// Parse connection URL
	network, address, err := parseConnectionURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Create connection with timeout
	connectCtx := ctx
	if connectCtx == nil {
		connectCtx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(connectCtx, cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(connectCtx, network, address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial failed: %w", ErrConnectionFailed, err)
	}

	s := &Session{
		cfg:           cfg,
		conn:          conn,
		done:          newCloseOnce(),
		pendingReqs:   make(map[string]chan ackPayload),
		pendingJobs:   make(map[string]chan Result),
		completedJobs: make(map[string]Result),
		eventQueue:    make(chan Event, eventQueueSize),
	}
	s.lastActivity.Store(time.Now().Unix())

	// Perform hello handshake (respects context deadline)
	if err := s.hello(connectCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake failed: %w", ErrConnectionFailed, err)
	}

	// Mark as connected
	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	// Start event callback worker pool (bounded goroutine count)
	for i := 0; i < eventWorkerCount; i++ {
		s.wg.Add(1)
		go s.eventWorker()
	}

	// Start receive loop
	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// parseConnectionURL parses an engine connection URL into network and address.
func parseConnectionURL(connURL string) (network, address string, err error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "unix":
		return "unix", u.Path, nil
	case "tcp":
		host := u.Host
		if host == "" {
			host = "localhost:17720"
		}
		return "tcp", host, nil
	default:
		return "", "", fmt.Errorf("unsupported scheme %q (use unix or tcp)", u.Scheme)
	}
}

// hello performs the opening handshake on a fresh connection.
// It respects the context deadline to ensure the overall connect timeout is honoured.
func (s *Session) hello(ctx context.Context) error {
	msg, err := EncodeFrame(MsgHello, helloRequest{
		Client:  "stagehand",
		Version: protocolVersion,
	})
	if err != nil {
		return err
	}

	// Calculate deadline: use context deadline if set and sooner than default
	writeDeadline := time.Now().Add(defaultWriteTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(writeDeadline) {
		writeDeadline = deadline
	}

	if err := s.conn.SetWriteDeadline(writeDeadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	// Read response - respect context deadline
	readDeadline := time.Now().Add(s.cfg.ReadTimeout)
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(readDeadline) {
		readDeadline = deadline
	}

	if err := s.conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	// Read response using proper frame framing
	sizeBytes := make([]byte, 2)
	if _, err := io.ReadFull(s.conn, sizeBytes); err != nil {
		return fmt.Errorf("read response size: %w", err)
	}

	// Parse size (size = type(2) + payload, does NOT include size field)
	msgSize := binary.BigEndian.Uint16(sizeBytes)
	if msgSize < 2 {
		return fmt.Errorf("invalid response size: %d", msgSize)
	}

	resp := make([]byte, 2+int(msgSize))
	copy(resp[:2], sizeBytes)
	if _, err := io.ReadFull(s.conn, resp[2:]); err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	msgType, payload, err := ParseFrame(resp)
	if err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	if msgType != MsgHello {
		return fmt.Errorf("unexpected response type: 0x%04X", msgType)
	}

	var hr helloResponse
	if err := json.Unmarshal(payload, &hr); err != nil {
		return fmt.Errorf("decode hello response: %w", err)
	}
	if hr.ProtocolVersion != protocolVersion {
		return fmt.Errorf("protocol version mismatch: daemon speaks %d, client speaks %d",
			hr.ProtocolVersion, protocolVersion)
	}

	return nil
}

// Execute submits an operation to the engine daemon and waits for its
// acknowledgment.
//
// Near-instant operations complete inline: the returned Ack has
// Completed=true with the final result. Long-running jobs return an
// engine job id; use AwaitCompletion to wait for the terminal event.
//
// Parameters:
//   - ctx: Context bounding the wait for the acknowledgment
//   - operation: Operation name (validated by the engine)
//   - params: Operation parameters
//
// Returns:
//   - *Ack: The engine's acknowledgment
//   - error: If sending fails, the session is disconnected, or ctx expires
func (s *Session) Execute(ctx context.Context, operation string, params map[string]any) (*Ack, error) {
	if !s.IsConnected() {
		return nil, ErrNotConnected
	}

	requestID := uuid.NewString()

	ackCh := make(chan ackPayload, 1)
	s.pendingMu.Lock()
	s.pendingReqs[requestID] = ackCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pendingReqs, requestID)
		s.pendingMu.Unlock()
	}()

	msg, err := EncodeFrame(MsgExecute, executeRequest{
		RequestID:  requestID,
		Operation:  operation,
		Parameters: params,
	})
	if err != nil {
		return nil, err
	}

	if err := s.send(ctx, msg); err != nil {
		return nil, err
	}

	s.requestsTx.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	select {
	case ack, ok := <-ackCh:
		if !ok {
			return nil, ErrConnectionLost
		}
		result := &Ack{
			JobID:     ack.JobID,
			Completed: ack.Completed,
			Success:   ack.Success,
			Result:    ack.Result,
			Error:     ack.Error,
		}
		// Register the job before returning so a terminal event arriving
		// between ack and AwaitCompletion is buffered, not lost.
		if !ack.Completed && ack.JobID != "" {
			s.registerJob(ack.JobID)
		}
		return result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrExecuteFailed, ctx.Err())
	case <-s.done.Done():
		return nil, ErrConnectionLost
	}
}

// registerJob creates a waiter slot for a job's terminal event.
func (s *Session) registerJob(jobID string) {
	s.pendingMu.Lock()
	if _, exists := s.pendingJobs[jobID]; !exists {
		s.pendingJobs[jobID] = make(chan Result, 1)
	}
	s.pendingMu.Unlock()
}

// AwaitCompletion blocks until the job's terminal event arrives.
//
// The job must have been returned by Execute on this session. If the
// terminal event already arrived, the buffered result is returned
// immediately.
//
// Parameters:
//   - ctx: Context bounding the wait
//   - jobID: Engine-assigned job id from Execute
//
// Returns:
//   - *Result: The job's terminal outcome
//   - error: ErrUnknownJob, ErrConnectionLost, or ctx expiry
func (s *Session) AwaitCompletion(ctx context.Context, jobID string) (*Result, error) {
	s.pendingMu.Lock()
	if result, ok := s.completedJobs[jobID]; ok {
		delete(s.completedJobs, jobID)
		s.pendingMu.Unlock()
		return &result, nil
	}
	ch, ok := s.pendingJobs[jobID]
	s.pendingMu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	select {
	case result, open := <-ch:
		if !open {
			return nil, ErrConnectionLost
		}
		s.pendingMu.Lock()
		delete(s.pendingJobs, jobID)
		s.pendingMu.Unlock()
		return &result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await completion: %w", ctx.Err())
	case <-s.done.Done():
		return nil, ErrConnectionLost
	}
}

// send writes a frame to the daemon with a write deadline.
func (s *Session) send(ctx context.Context, msg []byte) error {
	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrExecuteFailed, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrExecuteFailed, ctx.Err())
	default:
	}

	if _, err := conn.Write(msg); err != nil {
		s.errorsTotal.Add(1)
		return fmt.Errorf("%w: write: %w", ErrExecuteFailed, err)
	}

	return nil
}

// receiveLoop continuously reads frames from the daemon.
// On connection loss, it automatically attempts reconnection with exponential backoff.
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-s.done.Done():
			return
		default:
		}

		msgType, payload, err := s.readFrame(buf)
		if err != nil {
			if s.handleReadError(err) {
				// Fatal error - attempt reconnection
				if s.isClosed() {
					return // Shutdown requested, exit cleanly
				}

				// Try to reconnect
				if !s.reconnect() {
					return // Shutdown during reconnection, exit cleanly
				}

				// Reconnection successful, continue receive loop
				continue
			}
			continue // Recoverable error, retry
		}

		switch msgType {
		case MsgAck:
			s.handleAck(payload)
		case MsgEvent:
			s.handleEvent(payload)
		}
	}
}

// readFrame reads a single frame from the connection.
// Returns the message type, payload, and any error.
// If the frame is oversized, returns ErrProtocolDesync which is fatal.
func (s *Session) readFrame(buf []byte) (uint16, []byte, error) {
	// Set read deadline
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
		s.logError("set read deadline failed", err)
		return 0, nil, fmt.Errorf("set deadline: %w", err)
	}

	// Read frame size (2 bytes)
	if _, err := io.ReadFull(s.conn, buf[:2]); err != nil {
		return 0, nil, fmt.Errorf("read size: %w", err)
	}

	// Parse frame size (size field = type(2) + payload, NOT including size field itself)
	msgSize := binary.BigEndian.Uint16(buf[:2])
	if msgSize < 2 {
		s.errorsTotal.Add(1)
		return 0, nil, fmt.Errorf("invalid frame size: %d (minimum 2 for type field)",
			msgSize)
	}

	// Total frame length = size field(2) + msgSize (type + payload)
	totalLen := 2 + int(msgSize)

	// Oversized frame detection - FATAL error to prevent protocol desync.
	// We cannot safely skip the frame because we'd need to read and discard
	// an unknown number of bytes, risking incorrect framing.
	// Closing the connection forces a clean reconnect.
	if totalLen > len(buf) {
		s.errorsTotal.Add(1)
		s.logError("oversized frame, closing connection to prevent desync",
			fmt.Errorf("size %d exceeds buffer %d", totalLen, len(buf)))
		return 0, nil, ErrProtocolDesync
	}

	// Read rest of frame (type + payload = msgSize bytes)
	if _, err := io.ReadFull(s.conn, buf[2:totalLen]); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}

	msgType, payload, err := ParseFrame(buf[:totalLen])
	if err != nil {
		s.logError("parse frame failed", err)
		s.errorsTotal.Add(1)
		return 0, nil, nil // Recoverable
	}

	return msgType, payload, nil
}

// handleReadError processes a read error and returns true if the loop should stop.
func (s *Session) handleReadError(err error) bool {
	if err == nil {
		return false // No error, continue
	}

	if s.isClosed() {
		return true // Clean shutdown
	}

	// Protocol desync is always fatal - stream is corrupted
	// Must close socket immediately to stop corrupted data flow
	if errors.Is(err, ErrProtocolDesync) {
		s.logError("protocol desync detected, closing socket", err)
		if s.conn != nil {
			s.conn.Close() // Force immediate close to prevent further corruption
		}
		s.handleDisconnect()
		return true // Fatal, must reconnect
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false // Timeout is normal, continue
	}

	s.logError("read failed", err)
	s.errorsTotal.Add(1)
	s.handleDisconnect()
	return true // Fatal error, stop
}

// handleAck routes an acknowledgment to the waiting Execute call.
func (s *Session) handleAck(payload []byte) {
	var ack ackPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		s.logError("decode ack failed", err)
		s.errorsTotal.Add(1)
		return
	}

	s.lastActivity.Store(time.Now().Unix())

	// Send under the lock so failPending cannot close the channel
	// between lookup and send. The channel is buffered, so this never
	// blocks the receive loop.
	s.pendingMu.Lock()
	ch, ok := s.pendingReqs[ack.RequestID]
	if ok {
		ch <- ack
	}
	s.pendingMu.Unlock()

	if !ok {
		// Waiter gave up (context expired). Not an error.
		s.logInfo("ack for abandoned request", "request_id", ack.RequestID)
	}
}

// handleEvent processes an out-of-band job event.
//
// Terminal events resolve the waiting AwaitCompletion call directly,
// bypassing the droppable callback queue so completions are never lost.
// All events are additionally queued to the observer callback.
func (s *Session) handleEvent(payload []byte) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.logError("decode event failed", err)
		s.errorsTotal.Add(1)
		return
	}

	s.eventsRx.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	if ev.Terminal() {
		result := Result{
			JobID:    ev.JobID,
			Success:  ev.Type == "completed",
			Result:   ev.Data,
			Finished: time.Now().UTC(),
		}
		if !result.Success {
			result.Error = ev.Message
			if result.Error == "" {
				result.Error = "job failed"
			}
		}

		s.pendingMu.Lock()
		if ch, ok := s.pendingJobs[ev.JobID]; ok {
			// Non-blocking: a duplicate terminal event must not wedge
			// the receive loop while holding the lock.
			select {
			case ch <- result:
			default:
			}
		} else {
			// Terminal event raced ahead of AwaitCompletion; buffer it.
			s.completedJobs[ev.JobID] = result
		}
		s.pendingMu.Unlock()
	}

	// Check if callback is set before queueing
	s.callbackMu.RLock()
	hasCallback := s.onEvent != nil
	s.callbackMu.RUnlock()

	if hasCallback {
		// Queue event for bounded worker pool (non-blocking with drop on overflow)
		select {
		case s.eventQueue <- ev:
			// Queued successfully
		default:
			// Queue full, drop event to prevent memory exhaustion
			s.logError("event queue full, dropping event", nil)
			s.eventsDropped.Add(1)
			s.errorsTotal.Add(1)
		}
	}
}

// eventWorker processes events from the callback queue.
// Runs in a bounded worker pool to prevent goroutine explosion.
func (s *Session) eventWorker() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done.Done():
			// Drain any remaining items (best-effort, non-blocking)
			s.drainEventQueue()
			return
		case ev := <-s.eventQueue:
			s.callbackMu.RLock()
			callback := s.onEvent
			s.callbackMu.RUnlock()

			if callback != nil {
				func() {
					defer func() {
						if r := recover(); r != nil {
							s.logError("event callback panic", fmt.Errorf("%v", r))
						}
					}()
					callback(ev)
				}()
			}
		}
	}
}

// handleDisconnect handles connection loss and fails outstanding waiters.
func (s *Session) handleDisconnect() {
	s.connMu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.connMu.Unlock()

	s.failPending()

	if wasConnected {
		s.logInfo("connection lost, will attempt reconnection")
	}
}

// failPending closes all outstanding request and job channels so waiters
// observe ErrConnectionLost instead of hanging across a reconnect.
func (s *Session) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for id, ch := range s.pendingReqs {
		close(ch)
		delete(s.pendingReqs, id)
	}
	for id, ch := range s.pendingJobs {
		close(ch)
		delete(s.pendingJobs, id)
	}
}

// reconnect attempts to re-establish the daemon connection with exponential backoff.
// Returns true if reconnection succeeded, false if shutdown was signalled.
func (s *Session) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !s.reconnecting.CompareAndSwap(false, true) {
		return s.waitForReconnection()
	}
	defer s.reconnecting.Store(false)

	// Parse connection URL once
	network, address, err := parseConnectionURL(s.cfg.Connection)
	if err != nil {
		s.logError("reconnect: invalid connection URL", err)
		return false
	}

	backoff := s.cfg.ReconnectInterval
	if backoff == 0 {
		backoff = defaultReconnectInterval
	}

	for {
		if s.isClosed() {
			return false
		}

		attempt := s.reconnectCount.Add(1)
		s.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		s.closeOldConnection()

		conn, err := s.dialWithTimeout(network, address)
		if err != nil {
			backoff = s.handleReconnectFailure("dial failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		if err := s.establishConnection(conn); err != nil {
			backoff = s.handleReconnectFailure("handshake failed", err, backoff)
			if backoff == 0 {
				return false // Shutdown signalled
			}
			continue
		}

		s.finalizeReconnection()
		return true
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (s *Session) waitForReconnection() bool {
	for s.reconnecting.Load() && !s.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !s.isClosed() && s.IsConnected()
}

// closeOldConnection closes the existing connection if any.
func (s *Session) closeOldConnection() {
	s.connMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connMu.Unlock()
}

// dialWithTimeout attempts to dial the network address with timeout.
func (s *Session) dialWithTimeout(network, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s://%s: %w", network, address, err)
	}
	return conn, nil
}

// establishConnection sets up the connection and performs the handshake.
func (s *Session) establishConnection(conn net.Conn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	if err := s.hello(ctx); err != nil {
		conn.Close()
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		return err
	}
	return nil
}

// handleReconnectFailure handles a failed reconnection attempt.
// Returns the new backoff duration, or 0 if shutdown was signalled.
func (s *Session) handleReconnectFailure(reason string, err error, backoff time.Duration) time.Duration {
	s.logError("reconnect: "+reason, err)
	s.errorsTotal.Add(1)

	select {
	case <-s.done.Done():
		return 0 // Signal shutdown
	case <-time.After(backoff):
	}

	// Exponential backoff with cap
	newBackoff := time.Duration(float64(backoff) * 1.5)
	if newBackoff > maxReconnectInterval {
		newBackoff = maxReconnectInterval
	}
	return newBackoff
}

// finalizeReconnection marks the connection as established and updates stats.
func (s *Session) finalizeReconnection() {
	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	s.reconnectCount.Store(0)
	s.reconnectsTotal.Add(1)
	s.lastActivity.Store(time.Now().Unix())

	s.logInfo("reconnection successful", "total_reconnects", s.reconnectsTotal.Load())
}

// drainEventQueue removes and discards any remaining items from the event queue.
// Called during shutdown to prevent goroutines from blocking on send.
func (s *Session) drainEventQueue() {
	for {
		select {
		case <-s.eventQueue:
			// Discard item
		default:
			return // Queue is empty
		}
	}
}

// isClosed returns true if the session has been closed.
func (s *Session) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Close gracefully closes the session.
//
// It signals the receive loop to stop, fails outstanding waiters, and
// closes the underlying network connection. Safe to call multiple times
// (uses sync.Once).
//
// Returns:
//   - error: nil (closing is best-effort)
func (s *Session) Close() error {
	// Signal shutdown (safe to call multiple times via sync.Once)
	s.done.Close()

	// Mark disconnected and take the conn pointer under the lock; the
	// reconnect path swaps it concurrently.
	s.connMu.Lock()
	s.connected = false
	conn := s.conn
	s.connMu.Unlock()

	s.failPending()

	// Close connection (this will unblock any pending reads)
	if conn != nil {
		conn.Close()
	}

	// Wait for all goroutines to finish
	s.wg.Wait()

	s.logInfo("session closed")
	return nil
}

// SetOnEvent sets the observer callback for job events.
//
// The callback is invoked from a bounded worker pool. Panics in the
// callback are recovered and logged. Events may be dropped if the
// observer cannot keep up; drops are counted in Stats.
//
// Parameters:
//   - callback: Function to call for each job event
func (s *Session) SetOnEvent(callback func(Event)) {
	s.callbackMu.Lock()
	s.onEvent = callback
	s.callbackMu.Unlock()
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// IsConnected returns true if connected to the engine daemon.
func (s *Session) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected
}

// Stats returns current operational statistics.
func (s *Session) Stats() Stats {
	return Stats{
		RequestsTx:      s.requestsTx.Load(),
		EventsRx:        s.eventsRx.Load(),
		EventsDropped:   s.eventsDropped.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(s.lastActivity.Load(), 0),
		Connected:       s.IsConnected(),
		Reconnecting:    s.reconnecting.Load(),
	}
}

// HealthCheck verifies the session is alive.
//
// Note: This only checks connection state. For active verification,
// execute a "status" operation and inspect the result.
func (s *Session) HealthCheck(_ context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// logInfo logs an info message if logger is set.
func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (s *Session) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
