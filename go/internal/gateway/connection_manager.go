package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/showdown/go/internal/broadcast"
	"github.com/mcdev12/showdown/go/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ConnectionManager fans tournament events out to websocket clients by topic and
// tracks which users currently hold at least one connection.
type ConnectionManager struct {
	// Connections subscribed to each topic
	topics map[broadcast.Topic]map[*Connection]bool
	// Open connection count per user
	users map[string]int
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan *broadcast.Envelope

	onDisconnect func(userID string)
	// carries client relays such as media changes; defaults to local delivery.
	// guarded by mu
	relay broadcast.Publisher
	// set by closeAll; connections closed during shutdown are not reported
	stopping bool
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	UserID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// guarded by Manager.mu
	subscriptions map[broadcast.Topic]bool
	closed        bool

	limiter *rate.Limiter

	ConnectedAt time.Time
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
	CommandRate     rate.Limit
	CommandBurst    int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		CommandRate:     rate.Limit(5),
		CommandBurst:    10,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		topics: make(map[broadcast.Topic]map[*Connection]bool),
		users:  make(map[string]int),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan *broadcast.Envelope, 1000),
	}
}

// OnDisconnect registers fn to run when a user's last connection closes.
// Must be called before Start.
func (cm *ConnectionManager) OnDisconnect(fn func(userID string)) {
	cm.onDisconnect = fn
}

// SetRelay routes events raised by clients through p, e.g. a NATS publisher so other
// instances see them.
func (cm *ConnectionManager) SetRelay(p broadcast.Publisher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.relay = p
}

func (cm *ConnectionManager) relayPublisher() broadcast.Publisher {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if cm.relay == nil {
		return cm
	}
	return cm.relay
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case env := <-cm.broadcastCh:
			cm.handleBroadcast(env)
		}
	}
}

// Publish queues an event for local subscribers of topic.
func (cm *ConnectionManager) Publish(_ context.Context, topic broadcast.Topic, event string, payload any) {
	env, err := broadcast.NewEnvelope(topic, event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("failed to build envelope")
		return
	}
	cm.Deliver(env)
}

// Deliver queues an already built envelope, e.g. one read from NATS.
func (cm *ConnectionManager) Deliver(env *broadcast.Envelope) {
	select {
	case cm.broadcastCh <- env:
	default:
		metrics.MessageDropped("queue_full")
		log.Warn().
			Str("topic", string(env.Topic)).
			Str("event", env.Event).
			Msg("broadcast channel full, dropping message")
	}
}

// IsConnected reports whether the user holds at least one open connection.
func (cm *ConnectionManager) IsConnected(userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.users[userID] > 0
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		UserID:        userID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBufferSize),
		Manager:       cm,
		subscriptions: make(map[broadcast.Topic]bool),
		limiter:       rate.NewLimiter(cm.config.CommandRate, cm.config.CommandBurst),
		ConnectedAt:   time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection and subscribes it to its user topic and the
// global topic.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.users[conn.UserID]++
	cm.subscribeLocked(conn, broadcast.UserTopic(conn.UserID))
	cm.subscribeLocked(conn, broadcast.GlobalTopic)
	metrics.ConnectionOpened()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Int("user_connections", cm.users[conn.UserID]).
		Msg("connection registered")
}

// unregisterConnection removes a connection from the manager. It is safe to call more
// than once.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if conn.closed {
		cm.mu.Unlock()
		return
	}
	conn.closed = true
	for topic := range conn.subscriptions {
		cm.unsubscribeLocked(conn, topic)
	}
	close(conn.Send)

	cm.users[conn.UserID]--
	last := cm.users[conn.UserID] <= 0
	if last {
		delete(cm.users, conn.UserID)
	}
	notify := last && !cm.stopping
	cm.mu.Unlock()

	metrics.ConnectionClosed()
	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Bool("last_connection", last).
		Msg("connection unregistered")

	if notify && cm.onDisconnect != nil {
		go cm.onDisconnect(conn.UserID)
	}
}

func (cm *ConnectionManager) subscribeLocked(conn *Connection, topic broadcast.Topic) {
	if cm.topics[topic] == nil {
		cm.topics[topic] = make(map[*Connection]bool)
	}
	cm.topics[topic][conn] = true
	conn.subscriptions[topic] = true
}

func (cm *ConnectionManager) unsubscribeLocked(conn *Connection, topic broadcast.Topic) {
	delete(conn.subscriptions, topic)
	if conns, ok := cm.topics[topic]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(cm.topics, topic)
		}
	}
}

// Subscribe adds conn to topic. Returns false once the connection has closed.
func (cm *ConnectionManager) Subscribe(conn *Connection, topic broadcast.Topic) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conn.closed {
		return false
	}
	cm.subscribeLocked(conn, topic)
	return true
}

// Subscribed reports whether conn is subscribed to topic.
func (cm *ConnectionManager) Subscribed(conn *Connection, topic broadcast.Topic) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return !conn.closed && conn.subscriptions[topic]
}

func (cm *ConnectionManager) Unsubscribe(conn *Connection, topic broadcast.Topic) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !conn.closed {
		cm.unsubscribeLocked(conn, topic)
	}
}

// handleBroadcast delivers one envelope to every subscriber of its topic. Slow
// connections are dropped.
func (cm *ConnectionManager) handleBroadcast(env *broadcast.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("failed to marshal event for broadcast")
		return
	}

	var slow []*Connection
	cm.mu.RLock()
	conns := cm.topics[env.Topic]
	for conn := range conns {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	delivered := len(conns) - len(slow)
	cm.mu.RUnlock()

	for _, conn := range slow {
		metrics.MessageDropped("slow_client")
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event", env.Event).
		Str("topic", string(env.Topic)).
		Int("connections", delivered).
		Msg("event broadcasted")
}

// send queues data for a single connection unless it has closed.
func (cm *ConnectionManager) send(conn *Connection, data []byte) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if conn.closed {
		return
	}
	select {
	case conn.Send <- data:
	default:
		metrics.MessageDropped("slow_client")
	}
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	cm.stopping = true
	var all []*Connection
	seen := make(map[*Connection]bool)
	for _, conns := range cm.topics {
		for conn := range conns {
			if !seen[conn] {
				seen[conn] = true
				all = append(all, conn)
			}
		}
	}
	cm.mu.Unlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// ConnectionStats summarises the open connections.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ConnectedUsers   int            `json:"connected_users"`
	Topics           map[string]int `json:"topics"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ConnectedUsers: len(cm.users),
		Topics:         make(map[string]int, len(cm.topics)),
	}
	for _, n := range cm.users {
		stats.TotalConnections += n
	}
	for topic, conns := range cm.topics {
		stats.Topics[string(topic)] = len(conns)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
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
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
