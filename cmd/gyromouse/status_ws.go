package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Status WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// Presentation clients (a UI rendering connection state, pointer delta and
// raw sensor readings) subscribe here. The feed is read-only; control goes
// through the IPC socket.
//
//   - The initial message on connect is "state_init", with a snapshot
//     obtained through the daemon loop.
//   - Later messages are daemon-emitted StatusBroadcasts.
//   - sensor_reading arrives at sensor rate and is coalesced (latest wins).
//   - Slow clients are disconnected when their send buffer fills.
//
// Messages are JSON text frames: {type, ts, data}.
//
// ============================================================================

type wsConnStateData struct {
	State    ConnState `json:"state"`
	Attempts int       `json:"reconnect_attempts"`
}

type wsPointerDeltaData struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type wsSensorReadingData struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type wsConnectErrorData struct {
	URL   string `json:"url"`
	Error string `json:"error"`
}

// wsOutboundEvent is a typed status event ready for marshaling.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means now
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalEnvelope(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size (default 32).
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size (default 128).
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled, then disconnects all clients.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Debug("status hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("status hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("status client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after unlocking.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				if !c.trySend(msg) {
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("status client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized frame. It never blocks; if the
// hub queue is full the message is dropped.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("status hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn *websocket.Conn
	send chan []byte

	// sendMu guards sends against the close of send.
	sendMu sync.Mutex
	closed bool

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// trySend queues msg without blocking. It reports false when the client is
// already closed or its buffer is full.
func (c *Client) trySend(msg []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// sensorCoalesceWindow is the minimum spacing of sensor_reading frames.
const sensorCoalesceWindow = 100 * time.Millisecond

// closeStatus extracts a websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Debug("status "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Debug("status "+pump+" exiting", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes queued messages and pings. It exits on write error or
// when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", err)
				return
			}
		}
	}
}

// readPump discards inbound messages so control frames are processed, and
// unregisters the client on read error.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler
// ============================================================================

type StatusServer struct {
	logger *slog.Logger
	hub    *Hub

	// Snapshot requests go through the daemon loop.
	events chan<- Event
}

func NewStatusServer(logger *slog.Logger, events chan<- Event, cfg HubConfig) *StatusServer {
	return &StatusServer{
		logger: logger,
		hub:    NewHub(logger, cfg),
		events: events,
	}
}

func (s *StatusServer) Hub() *Hub { return s.hub }

// Register installs the WebSocket feed at path and a JSON snapshot endpoint
// at path+"/snapshot".
func (s *StatusServer) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStatusWS)
	mux.HandleFunc(path+"/snapshot", s.handleSnapshot)
}

var upgrader = websocket.Upgrader{
	// The feed binds to loopback by default.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func snapshotPayload(snap StatusSnapshot) wsOutboundEvent {
	return wsOutboundEvent{Type: "state_init", Data: snap}
}

func (s *StatusServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := requestStatus(r.Context(), s.events, time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// handleStatusWS upgrades and registers a client, then sends state_init.
func (s *StatusServer) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("status ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register first so broadcasts can reach it.
	s.hub.register <- client

	// The pumps must outlive the request context, which net/http cancels
	// when this handler returns.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	snap, err := requestStatus(r.Context(), s.events, time.Second)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("status snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalEnvelope(snapshotPayload(snap))
	if err != nil {
		s.logger.Warn("status snapshot marshal failed", "error", err)
		return
	}

	// The client may have gone away while the snapshot was in flight.
	if !client.trySend(initMsg) {
		select {
		case s.hub.unregister <- client:
		case <-r.Context().Done():
		}
	}
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster marshals daemon StatusBroadcasts and fans them out through
// the hub. sensor_reading frames are rate-limited to one per
// sensorCoalesceWindow (latest wins); everything else is sent immediately,
// after flushing any pending sensor reading so ordering is kept.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan StatusBroadcast, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	var pending *wsOutboundEvent
	var timer *time.Timer
	var timerC <-chan time.Time

	emit := func(ev wsOutboundEvent) {
		msg, err := marshalEnvelope(ev)
		if err != nil {
			logger.Warn("status broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPending := func() {
		if pending == nil {
			return
		}
		emit(*pending)
		pending = nil
	}

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = nil
		timerC = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPending()
			stopTimer()
			return

		case <-timerC:
			flushPending()
			stopTimer()

		case b, ok := <-src:
			if !ok {
				flushPending()
				stopTimer()
				logger.Debug("status broadcaster stopping (source ended)")
				return
			}

			ev, ok := convertBroadcast(b)
			if !ok {
				continue
			}

			if ev.Type == "sensor_reading" {
				evCopy := ev
				pending = &evCopy
				if timer == nil {
					timer = time.NewTimer(sensorCoalesceWindow)
					timerC = timer.C
				}
				continue
			}

			flushPending()
			stopTimer()
			emit(ev)
		}
	}
}

func convertBroadcast(b StatusBroadcast) (wsOutboundEvent, bool) {
	switch ev := b.(type) {
	case BroadcastConnState:
		return wsOutboundEvent{
			Type: "connection_state",
			Data: wsConnStateData{State: ev.State, Attempts: ev.Attempts},
			At:   ev.At,
		}, true

	case BroadcastPointerDelta:
		return wsOutboundEvent{
			Type: "pointer_delta",
			Data: wsPointerDeltaData{X: ev.Delta.X, Y: ev.Delta.Y},
			At:   ev.At,
		}, true

	case BroadcastSensorReading:
		return wsOutboundEvent{
			Type: "sensor_reading",
			Data: wsSensorReadingData{X: ev.Sample.X, Y: ev.Sample.Y, Z: ev.Sample.Z},
			At:   ev.At,
		}, true

	case BroadcastConnectError:
		return wsOutboundEvent{
			Type: "connect_error",
			Data: wsConnectErrorData{URL: ev.URL, Error: ev.Error},
			At:   ev.At,
		}, true

	case BroadcastSettings:
		return wsOutboundEvent{
			Type: "settings",
			Data: ev.Settings,
			At:   ev.At,
		}, true

	default:
		return wsOutboundEvent{}, false
	}
}
