// Package websocket accepts client connections and pairs each one with a
// relay session.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/M7mdRef3t/dawayir-live-agent/internal/audio"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/protocol"
	"github.com/M7mdRef3t/dawayir-live-agent/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Camera frames are the largest.
	maxMessageSize = 4 * 1024 * 1024

	// Outbound frames buffered per client.
	sendBuffer = 256
)

// ErrSendBufferFull is returned when a client cannot keep up.
var ErrSendBufferFull = errors.New("client send buffer full")

// ErrClientClosed is returned for sends after the connection is gone.
var ErrClientClosed = errors.New("client connection closed")

// SessionFactory builds the relay session for a new connection.
type SessionFactory func(id, remoteAddr string, sink relay.ClientSink) *relay.Session

// Hub maintains the set of active clients.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	// Closed when Run returns.
	done chan struct{}

	newSession SessionFactory
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewHub creates a new WebSocket hub. allowedOrigins restricts browser
// origins; empty or "*" accepts any.
func NewHub(newSession SessionFactory, allowedOrigins []string, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		newSession: newSession,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin.
			return true
		}
		if set[origin] {
			return true
		}
		u, err := url.Parse(origin)
		return err == nil && set[u.Host]
	}
}

// Run starts the hub's main loop. When ctx ends every client is told the
// server is going away.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client registered", zap.String("sessionID", client.id), zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("sessionID", client.id), zap.Int("clients", n))

		case <-ctx.Done():
			h.mu.RLock()
			for _, client := range h.clients {
				client.Close(websocket.CloseGoingAway, "server shutting down")
			}
			h.mu.RUnlock()
			h.logger.Info("Hub stopped")
			return
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Sessions returns the status of every connected session.
func (h *Hub) Sessions() []relay.Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]relay.Status, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c.session.Status())
	}
	return out
}

// Session returns the status of one connected session.
func (h *Hub) Session(id string) (relay.Status, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[id]
	if !ok {
		return relay.Status{}, false
	}
	return c.session.Status(), true
}

type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.CloseMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and its relay
// session. It implements relay.ClientSink.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	sendMu sync.Mutex
	closed bool

	id      string
	session *relay.Session
	logger  *zap.Logger
}

var _ relay.ClientSink = (*Client)(nil)

// HandleWebSocket upgrades the request and starts a relay session for it.
// subject is the authenticated caller, or empty.
func HandleWebSocket(hub *Hub, c echo.Context, subject string) error {
	conn, err := hub.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	id := uuid.NewString()
	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan WriteData, sendBuffer),
		id:     id,
		logger: hub.logger.With(zap.String("sessionID", id)),
	}
	client.session = hub.newSession(id, c.RealIP(), client)
	if subject != "" {
		client.session.SetSubject(subject)
	}

	select {
	case client.hub.register <- client:
	case <-hub.done:
		conn.Close()
		return errors.New("hub stopped")
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	go client.session.Run()

	return nil
}

// Send implements relay.ClientSink.
func (c *Client) Send(data []byte) error {
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: data})
}

// Close implements relay.ClientSink. The close frame follows any frames
// already queued.
func (c *Client) Close(code int, reason string) {
	if err := c.enqueue(WriteData{Type: websocket.CloseMessage, Payload: websocket.FormatCloseMessage(code, reason)}); err != nil {
		c.conn.Close()
	}
}

func (c *Client) enqueue(w WriteData) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- w:
		return nil
	default:
		return ErrSendBufferFull
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

// readPump pumps messages from the websocket connection to the relay session.
func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage:
			err = c.session.HandleFrame(message)
		case websocket.BinaryMessage:
			// Raw PCM16 microphone audio at the input rate.
			err = c.handleBinaryAudio(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
		if errors.Is(err, relay.ErrSessionClosed) {
			break
		}
	}
}

func (c *Client) handleBinaryAudio(data []byte) error {
	frame, err := protocol.Encode(protocol.NewAudioInput(data, audio.InputSampleRate))
	if err != nil {
		c.logger.Error("Failed to wrap binary audio", zap.Error(err))
		return nil
	}
	return c.session.HandleFrame(frame)
}

// writePump pumps messages from the relay session to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}
			if message.Type == websocket.CloseMessage {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
