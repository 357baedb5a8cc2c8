package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goclaw/sagaflow/pkg/eventbus"
	"github.com/goclaw/sagaflow/pkg/logger"
	"github.com/goclaw/sagaflow/pkg/saga"
)

const (
	defaultWSMaxConnections = 100
	defaultPingInterval     = 30 * time.Second
	defaultPongTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 64
	maxIncomingMessageBytes = 4 << 10
)

// ClientGauge receives the number of connected websocket clients.
type ClientGauge interface {
	SetWebSocketClients(n int)
}

// WebSocketConfig configures websocket handler behavior.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	Gauge          ClientGauge
}

// EventMessage is one committed event as sent to websocket clients.
type EventMessage struct {
	Type      string          `json:"type"`
	EventID   string          `json:"event_id,omitempty"`
	StreamID  string          `json:"stream_id,omitempty"`
	Version   int64           `json:"version,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// incomingMessage subscribes a client to one instance, either by stream id or
// by process and instance id.
type incomingMessage struct {
	Type       string `json:"type"`
	Process    string `json:"process,omitempty"`
	InstanceID string `json:"instance_id,omitempty"`
	StreamID   string `json:"stream_id,omitempty"`
}

func (m incomingMessage) streamKey() string {
	if id := strings.TrimSpace(m.StreamID); id != "" {
		return id
	}
	process := strings.TrimSpace(m.Process)
	instance := strings.TrimSpace(m.InstanceID)
	if process == "" || instance == "" {
		return ""
	}
	return process + saga.StreamSeparator + instance
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu            sync.Mutex
	subscriptions map[string]struct{}
	closed        bool
	closeConnOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:          conn,
		send:          make(chan []byte, defaultSendBuffer),
		subscriptions: make(map[string]struct{}),
	}
}

// enqueue queues msg without blocking. It reports false when the buffer is full.
func (c *wsClient) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *wsClient) closeConn() {
	c.closeConnOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *wsClient) subscribe(streamID string) {
	if streamID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[streamID] = struct{}{}
}

func (c *wsClient) unsubscribe(streamID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if streamID == "" {
		clear(c.subscriptions)
		return
	}
	delete(c.subscriptions, streamID)
}

// shouldReceive reports whether the client wants events of streamID. A client
// without subscriptions receives everything.
func (c *wsClient) shouldReceive(streamID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	_, ok := c.subscriptions[streamID]
	return ok
}

// ConnectionManager manages active websocket clients.
type ConnectionManager struct {
	mu             sync.RWMutex
	clients        map[*wsClient]struct{}
	maxConnections int
	gauge          ClientGauge
}

// NewConnectionManager creates a manager with max connection limit.
func NewConnectionManager(maxConnections int, gauge ClientGauge) *ConnectionManager {
	if maxConnections <= 0 {
		maxConnections = defaultWSMaxConnections
	}
	return &ConnectionManager{
		clients:        make(map[*wsClient]struct{}),
		maxConnections: maxConnections,
		gauge:          gauge,
	}
}

// Register registers a websocket client.
func (m *ConnectionManager) Register(client *wsClient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) >= m.maxConnections {
		return errors.New("websocket connection limit reached")
	}
	m.clients[client] = struct{}{}
	m.report()
	return nil
}

// Unregister removes a client and closes its send queue.
func (m *ConnectionManager) Unregister(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client]; !ok {
		return
	}
	delete(m.clients, client)
	client.close()
	m.report()
}

// Count returns active connection count.
func (m *ConnectionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// CanAccept reports whether there is capacity for one more connection.
func (m *ConnectionManager) CanAccept() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients) < m.maxConnections
}

// Broadcast sends event to every client subscribed to its stream. Clients
// that cannot keep up are disconnected.
func (m *ConnectionManager) Broadcast(event EventMessage) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	m.mu.RLock()
	clients := make([]*wsClient, 0, len(m.clients))
	for client := range m.clients {
		clients = append(clients, client)
	}
	m.mu.RUnlock()

	for _, client := range clients {
		if !client.shouldReceive(event.StreamID) {
			continue
		}
		if !client.enqueue(payload) {
			m.Unregister(client)
		}
	}
	return nil
}

// Close closes all active websocket connections.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for client := range m.clients {
		client.close()
		delete(m.clients, client)
	}
	m.report()
}

// report must be called with m.mu held.
func (m *ConnectionManager) report() {
	if m.gauge != nil {
		m.gauge.SetWebSocketClients(len(m.clients))
	}
}

// WebSocketHandler serves /ws/events and relays committed events from the bus.
type WebSocketHandler struct {
	log          logger.Logger
	manager      *ConnectionManager
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// NewWebSocketHandler creates a websocket handler.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	handler := &WebSocketHandler{
		log:          log,
		manager:      NewConnectionManager(cfg.MaxConnections, cfg.Gauge),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		writeTimeout: cfg.WriteTimeout,
	}

	allowedOrigins := append([]string(nil), cfg.AllowedOrigins...)
	handler.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return isWebSocketOriginAllowed(r, allowedOrigins)
		},
	}
	return handler
}

// ServeHTTP upgrades HTTP to websocket and starts client loops.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.manager.CanAccept() {
		http.Error(w, "websocket connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn)
	if err := h.manager.Register(client); err != nil {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(h.writeTimeout),
		)
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	h.readPump(client)
}

// Bridge relays envelopes from sub to clients until ctx ends or sub closes.
// Envelopes are validated and deduplicated by consumer.
func (h *WebSocketHandler) Bridge(ctx context.Context, sub *eventbus.Subscription, consumer *eventbus.EnvelopeConsumer) {
	if consumer == nil {
		consumer = eventbus.NewEnvelopeConsumer(nil)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			env, _, duplicate, err := consumer.DecodeAndValidate(msg.Payload)
			if err != nil {
				h.log.Warn("websocket bridge dropped envelope", "subject", msg.Subject, "error", err)
				continue
			}
			if duplicate {
				continue
			}
			if err := h.Broadcast(EventMessage{
				Type:      env.EventType,
				EventID:   env.EventID,
				StreamID:  env.StreamID,
				Version:   env.Sequence,
				Timestamp: env.Timestamp,
				Payload:   env.Payload,
			}); err != nil {
				h.log.Warn("websocket broadcast failed", "event_id", env.EventID, "error", err)
			}
		}
	}
}

func (h *WebSocketHandler) readPump(client *wsClient) {
	defer func() {
		h.manager.Unregister(client)
		client.closeConn()
	}()

	readDeadline := h.pingInterval + h.pongTimeout
	client.conn.SetReadLimit(maxIncomingMessageBytes)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(_ string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("websocket read error", "error", err)
			}
			return
		}
		h.handleIncomingMessage(client, data)
	}
}

func (h *WebSocketHandler) writePump(client *wsClient) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.manager.Unregister(client)
		client.closeConn()
	}()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.writeTimeout),
				)
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleIncomingMessage(client *wsClient, raw []byte) {
	var message incomingMessage
	if err := json.Unmarshal(raw, &message); err != nil {
		return
	}

	switch strings.ToLower(strings.TrimSpace(message.Type)) {
	case "subscribe":
		client.subscribe(message.streamKey())
	case "unsubscribe":
		client.unsubscribe(message.streamKey())
	}
}

// Broadcast sends an event to matching websocket clients.
func (h *WebSocketHandler) Broadcast(event EventMessage) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return h.manager.Broadcast(event)
}

// Count returns the number of connected clients.
func (h *WebSocketHandler) Count() int {
	return h.manager.Count()
}

// Close closes all websocket clients.
func (h *WebSocketHandler) Close() {
	h.manager.Close()
}

func isWebSocketOriginAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(originURL.Host, r.Host)
}
