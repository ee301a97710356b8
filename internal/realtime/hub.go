// Package realtime relays payment change notifications to connected
// dashboards over WebSockets.
package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
	"github.com/bissquit/payments-admin/internal/pkg/httputil"
	"github.com/bissquit/payments-admin/internal/pkg/metrics"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

const msgUnavailable = "Servicio no disponible"

// Config contains hub configuration.
type Config struct {
	// SendBuffer is the per-client queue length; messages beyond it are dropped.
	SendBuffer int
	// AllowedOrigins lists browser origins allowed to connect. "*" allows any.
	// Requests without an Origin header are always allowed.
	AllowedOrigins []string
	// Role is the role required to connect.
	Role domain.Role
}

// DefaultConfig returns default hub configuration.
func DefaultConfig() Config {
	return Config{
		SendBuffer: 16,
		Role:       domain.RoleAdmin,
	}
}

// Message is the frame exchanged with clients.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks connected clients and fans messages out to them.
// Delivery is at most once: a client whose buffer is full misses the message.
type Hub struct {
	config    Config
	validator httputil.TokenValidator
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub that authenticates connections with validator.
func NewHub(config Config, validator httputil.TokenValidator) *Hub {
	if config.SendBuffer < 1 {
		config.SendBuffer = 1
	}
	h := &Hub{
		config:    config,
		validator: validator,
		clients:   make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
	logger *slog.Logger
}

// ServeHTTP authenticates the request and upgrades it to a WebSocket.
// Browsers cannot set headers on the upgrade request, so the token may also
// be passed as the "token" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.BearerToken(r)
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		httputil.Error(w, http.StatusUnauthorized, httputil.MsgInvalidToken)
		return
	}

	userID, role, err := h.validator.ValidateToken(r.Context(), token)
	if err != nil {
		ctxlog.FromContext(r.Context()).Debug("realtime token rejected", "error", err)
		httputil.Error(w, http.StatusUnauthorized, httputil.MsgInvalidToken)
		return
	}
	if h.config.Role != "" && role != h.config.Role {
		httputil.Error(w, http.StatusForbidden, httputil.MsgForbidden)
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		httputil.Error(w, http.StatusServiceUnavailable, msgUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		ctxlog.FromContext(r.Context()).Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.config.SendBuffer),
		userID: userID,
		logger: ctxlog.FromContext(r.Context()).With("user_id", userID),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// Publish sends event with data to every connected client.
func (h *Hub) Publish(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("realtime: encode payload", "event", event, "error", err)
		return
	}
	h.broadcast(Message{Event: event, Data: raw}, nil)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Stop disconnects every client and waits for their goroutines to exit.
// Later connection attempts are refused.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	h.wg.Wait()
	slog.Info("realtime hub stopped")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	metrics.RealtimeConnections.Inc()
	c.logger.Debug("realtime client connected", "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	metrics.RealtimeConnections.Dec()
	c.logger.Debug("realtime client disconnected", "clients", len(h.clients))
}

// broadcast queues msg for every client except origin.
func (h *Hub) broadcast(msg Message, origin *client) {
	raw, err := json.Marshal(msg)
	if err != nil {
		slog.Error("realtime: encode message", "event", msg.Event, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c == origin {
			continue
		}
		select {
		case c.send <- raw:
			metrics.RealtimeMessages.WithLabelValues("out").Inc()
		default:
			metrics.RealtimeMessages.WithLabelValues("dropped").Inc()
			c.logger.Warn("realtime send buffer full, message dropped", "event", msg.Event)
		}
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	// Same-host pages are always allowed.
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// readPump handles frames from the client until the connection fails.
func (c *client) readPump() {
	defer c.hub.wg.Done()
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("realtime read failed", "error", err)
			}
			return
		}
		metrics.RealtimeMessages.WithLabelValues("in").Inc()

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Debug("realtime: malformed frame ignored", "error", err)
			continue
		}

		switch msg.Event {
		case domain.EventNewPayment:
			c.hub.broadcast(Message{Event: domain.EventUpdatePayments, Data: msg.Data}, c)
		default:
			c.logger.Debug("realtime: unknown event ignored", "event", msg.Event)
		}
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump() {
	defer c.hub.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
