package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veldt-labs/stagehand/internal/infrastructure/config"
	"github.com/veldt-labs/stagehand/internal/infrastructure/logging"
	"github.com/veldt-labs/stagehand/internal/progress"
)

// wsSendBufferSize is the per-client outbound message buffer size.
// A client that cannot keep up has messages dropped, never queued
// without bound; the bus already guarantees the worker is unaffected.
const wsSendBufferSize = 256

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// streamClient is one WebSocket connection relaying a bus view.
type streamClient struct {
	conn   *websocket.Conn
	send   chan []byte
	cancel func() // unsubscribes the bus view
	logger *logging.Logger
}

// streamRegistry tracks open stream connections for metrics and
// shutdown.
type streamRegistry struct {
	mu      sync.Mutex
	clients map[*streamClient]struct{}
}

func newStreamRegistry() *streamRegistry {
	return &streamRegistry{clients: make(map[*streamClient]struct{})}
}

func (r *streamRegistry) add(c *streamClient) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
}

// remove deregisters a client. Only the goroutine that wins the removal
// closes the send channel, preventing double-close panics.
func (r *streamRegistry) remove(c *streamClient) {
	r.mu.Lock()
	_, existed := r.clients[c]
	delete(r.clients, c)
	r.mu.Unlock()

	if existed {
		c.cancel()
		close(c.send)
	}
}

func (r *streamRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// closeAll disconnects every client during server shutdown.
func (r *streamRegistry) closeAll() {
	r.mu.Lock()
	clients := make([]*streamClient, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		r.remove(c)
		c.conn.Close()
	}
}

// handleAllTasksStream upgrades to a WebSocket carrying every task's
// lifecycle events plus periodic heartbeats.
func (s *Server) handleAllTasksStream(w http.ResponseWriter, r *http.Request) {
	events, cancel := s.bus.SubscribeAll()
	s.serveStream(w, r, events, cancel)
}

// handleTaskStream upgrades to a WebSocket carrying one task's events:
// a connected event first, then the task's events, closing after the
// terminal event. Subscribing after the task finished yields connected
// followed by a close.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	events, cancel := s.bus.SubscribeTask(taskID)
	s.serveStream(w, r, events, cancel)
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, events <-chan progress.Event, cancel func()) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		cancel()
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		cancel: cancel,
		logger: s.logger,
	}
	s.streams.add(client)
	s.logger.Debug("websocket client connected", "clients", s.streams.count())

	go client.relay(events, s.streams)
	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg, s.streams)
}

// relay forwards bus events to the client's send buffer. It exits when
// the bus view ends: view cancelled, bus closed, or the task stream
// reached its terminal event. The end of a view ends the connection.
func (c *streamClient) relay(events <-chan progress.Event, streams *streamRegistry) {
	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			c.logger.Error("failed to marshal stream event", "error", err)
			continue
		}
		c.trySend(data)
	}
	streams.remove(c)
}

// readPump consumes client messages. Clients have nothing to say on
// these streams; reads exist to detect disconnects and honour pongs.
func (c *streamClient) readPump(cfg config.WebSocketConfig, streams *streamRegistry) {
	defer func() {
		streams.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
}

// writePump writes buffered events and protocol pings to the
// connection. A closed send channel ends the connection with a close
// frame.
func (c *streamClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend attempts to queue data for the client. It silently handles
// closed channels (client disconnected mid-relay) and full buffers
// (slow client).
func (c *streamClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}
