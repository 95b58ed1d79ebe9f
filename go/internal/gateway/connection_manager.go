package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/cylink/go/internal/events"
	"github.com/mcdev12/cylink/go/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Forwarder hands locally published frames to other instances.
type Forwarder interface {
	Forward(sessionID string, event events.Name, frame []byte)
}

// ConnectionManager manages WebSocket connections and their session rooms
type ConnectionManager struct {
	// Rooms by session id; the value marks admin connections
	rooms map[string]map[*Connection]bool
	conns map[*Connection]struct{}
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  metrics.Collector
	relay    Forwarder

	// Every frame, room-wide or direct, goes through one queue so a
	// connection sees frames in the order they were published.
	broadcastCh chan BroadcastMessage
}

// Connection is one client socket and the session it joined
type Connection struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager
	ConnectedAt time.Time

	limiter   *rate.Limiter
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID string
	admin     bool
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	// MessageRate and MessageBurst bound inbound commands per connection
	MessageRate  rate.Limit
	MessageBurst int
	CheckOrigin  func(r *http.Request) bool
}

// BroadcastMessage is a frame queued for delivery. A non-nil Target
// restricts delivery to that connection.
type BroadcastMessage struct {
	SessionID string
	Event     events.Name
	Frame     []byte
	Target    *Connection
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // programs ride on sync-state only, commands stay small
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		MessageRate:     20,
		MessageBurst:    40,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Option customizes a ConnectionManager
type Option func(*ConnectionManager)

// WithRelay forwards every local publish to other instances
func WithRelay(f Forwarder) Option {
	return func(cm *ConnectionManager) { cm.relay = f }
}

// WithMetrics sets the metrics collector
func WithMetrics(c metrics.Collector) Option {
	return func(cm *ConnectionManager) { cm.metrics = c }
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, opts ...Option) *ConnectionManager {
	cm := &ConnectionManager{
		rooms: make(map[string]map[*Connection]bool),
		conns: make(map[*Connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     metrics.NoOp{},
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
	for _, opt := range opts {
		opt(cm)
	}
	return cm
}

// Start processes queued frames until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade upgrades an HTTP connection to WebSocket and registers it.
// The caller starts the pumps.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          uuid.New().String(),
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		Manager:     cm,
		ConnectedAt: time.Now(),
		limiter:     rate.NewLimiter(cm.config.MessageRate, cm.config.MessageBurst),
		ctx:         ctx,
		cancel:      cancel,
	}

	cm.mu.Lock()
	cm.conns[connection] = struct{}{}
	total := len(cm.conns)
	cm.mu.Unlock()
	cm.metrics.ConnectionOpened()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Int("total_connections", total).
		Msg("WebSocket connection established")

	return connection, nil
}

// Subscribe moves conn into sessionID's room
func (cm *ConnectionManager) Subscribe(conn *Connection, sessionID string, admin bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.removeFromRoomLocked(conn)
	if cm.rooms[sessionID] == nil {
		cm.rooms[sessionID] = make(map[*Connection]bool)
	}
	cm.rooms[sessionID][conn] = admin

	conn.mu.Lock()
	conn.sessionID = sessionID
	conn.admin = admin
	conn.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", sessionID).
		Bool("admin", admin).
		Int("room_size", len(cm.rooms[sessionID])).
		Msg("connection subscribed")
}

// Unsubscribe removes conn from its room. It returns the session it left
// and whether it was subscribed at all; calling it twice is harmless.
func (cm *ConnectionManager) Unsubscribe(conn *Connection) (sessionID string, admin bool, ok bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.removeFromRoomLocked(conn)
}

func (cm *ConnectionManager) removeFromRoomLocked(conn *Connection) (string, bool, bool) {
	conn.mu.Lock()
	sessionID, admin := conn.sessionID, conn.admin
	conn.sessionID, conn.admin = "", false
	conn.mu.Unlock()

	if sessionID == "" {
		return "", false, false
	}
	if room, exists := cm.rooms[sessionID]; exists {
		delete(room, conn)
		if len(room) == 0 {
			delete(cm.rooms, sessionID)
		}
	}
	return sessionID, admin, true
}

// unregister forgets the connection entirely
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	_, known := cm.conns[conn]
	delete(cm.conns, conn)
	cm.mu.Unlock()

	if known {
		cm.metrics.ConnectionClosed()
		log.Info().
			Str("connection_id", conn.ID).
			Dur("connected_for", time.Since(conn.ConnectedAt)).
			Msg("connection unregistered")
	}
}

// Publish delivers an event to every subscriber of a session on this
// instance and, when a relay is attached, on every other instance.
func (cm *ConnectionManager) Publish(sessionID string, event events.Name, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal event for broadcast")
		return
	}
	cm.enqueue(BroadcastMessage{SessionID: sessionID, Event: event, Frame: frame})
	if cm.relay != nil {
		cm.relay.Forward(sessionID, event, frame)
	}
}

// PublishFrame delivers an already encoded frame to local subscribers only.
func (cm *ConnectionManager) PublishFrame(sessionID string, event events.Name, frame []byte) {
	cm.enqueue(BroadcastMessage{SessionID: sessionID, Event: event, Frame: frame})
}

// SendTo delivers an event to a single connection
func (cm *ConnectionManager) SendTo(conn *Connection, event events.Name, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal direct event")
		return
	}
	message := BroadcastMessage{Event: event, Frame: frame, Target: conn}
	select {
	case cm.broadcastCh <- message:
	default:
		// A direct frame answers this connection only and must not be lost
		// to room traffic, so it skips the full queue.
		log.Warn().
			Str("connection_id", conn.ID).
			Str("event", string(event)).
			Msg("broadcast channel full, delivering direct frame immediately")
		if cm.deliver(conn, message) {
			cm.metrics.BroadcastSent(string(event), 1)
		}
	}
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		cm.metrics.BroadcastDropped("queue_full")
		log.Warn().
			Str("session_id", message.SessionID).
			Str("event", string(message.Event)).
			Msg("broadcast channel full, dropping message")
	}
}

// deliver hands a frame to one connection, closing it if its buffer is full.
func (cm *ConnectionManager) deliver(conn *Connection, message BroadcastMessage) bool {
	select {
	case conn.Send <- message.Frame:
		return true
	default:
		// Connection is slow or dead, close it
		cm.metrics.BroadcastDropped("slow_consumer")
		log.Warn().
			Str("connection_id", conn.ID).
			Str("session_id", message.SessionID).
			Msg("connection send buffer full, closing connection")
		conn.Close()
		return false
	}
}

func marshalFrame(event events.Name, payload any) ([]byte, error) {
	env, err := events.NewEnvelope(event, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	var targets []*Connection
	if message.Target != nil {
		targets = []*Connection{message.Target}
	} else {
		cm.mu.RLock()
		room, exists := cm.rooms[message.SessionID]
		if !exists {
			cm.mu.RUnlock()
			return
		}
		targets = make([]*Connection, 0, len(room))
		for conn := range room {
			targets = append(targets, conn)
		}
		cm.mu.RUnlock()
	}

	delivered := 0
	for _, conn := range targets {
		if cm.deliver(conn, message) {
			delivered++
		}
	}
	cm.metrics.BroadcastSent(string(message.Event), delivered)

	log.Debug().
		Str("event", string(message.Event)).
		Str("session_id", message.SessionID).
		Int("connections", delivered).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.conns))
	for conn := range cm.conns {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// RoomStats counts one session's subscribers
type RoomStats struct {
	SessionID   string `json:"session_id"`
	Subscribers int    `json:"subscribers"`
	Admins      int    `json:"admins"`
}

// ConnectionStats summarizes active connections
type ConnectionStats struct {
	TotalConnections int         `json:"total_connections"`
	ActiveSessions   int         `json:"active_sessions"`
	Sessions         []RoomStats `json:"sessions"`
}

// Stats returns statistics about active connections
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.conns),
		ActiveSessions:   len(cm.rooms),
		Sessions:         make([]RoomStats, 0, len(cm.rooms)),
	}
	for sessionID, room := range cm.rooms {
		rs := RoomStats{SessionID: sessionID}
		for _, admin := range room {
			if admin {
				rs.Admins++
			} else {
				rs.Subscribers++
			}
		}
		stats.Sessions = append(stats.Sessions, rs)
	}
	sort.Slice(stats.Sessions, func(i, j int) bool {
		return stats.Sessions[i].SessionID < stats.Sessions[j].SessionID
	})
	return stats
}

// Session returns the session the connection joined and whether it joined as admin
func (c *Connection) Session() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.admin
}

// Close tears down the socket. The read pump notices and runs the disconnect path.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.Conn.Close()
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// MessageHandler processes inbound frames and the end of a connection
type MessageHandler interface {
	HandleMessage(c *Connection, message []byte)
	HandleClose(c *Connection)
}

// readPump reads frames until the socket fails, then runs the disconnect path
func (c *Connection) readPump(handler MessageHandler) {
	defer func() {
		c.Close()
		handler.HandleClose(c)
		c.Manager.unregister(c)
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		handler.HandleMessage(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// Serve runs both pumps and blocks until the connection ends
func (c *Connection) Serve(handler MessageHandler) {
	go c.writePump()
	c.readPump(handler)
}
