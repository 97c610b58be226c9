package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks are left to the CORS middleware in front of the feed
		return true
	},
}

// Client is a middleman between the websocket connection and the hub
type Client struct {
	// Unique client identifier
	ID string

	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	hub    *Hub
	logger *logrus.Logger

	UserAgent   string    `json:"user_agent"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`

	mu     sync.RWMutex
	filter Subscription
}

// Subscription narrows the alert events a client receives. The zero value
// receives everything.
type Subscription struct {
	RuleIDs     map[int64]bool
	MinSeverity models.Severity
}

// Matches reports whether e passes the subscription
func (s Subscription) Matches(e alerting.Event) bool {
	if len(s.RuleIDs) > 0 && !s.RuleIDs[e.RuleID] {
		return false
	}
	if s.MinSeverity != "" && e.Severity.Rank() > s.MinSeverity.Rank() {
		return false
	}
	return true
}

// HandleWebSocket handles websocket requests from clients
func HandleWebSocket(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, 256),
		closed:      make(chan struct{}),
		hub:         hub,
		logger:      hub.logger,
		UserAgent:   r.Header.Get("User-Agent"),
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HandleWebSocketGin is a Gin-compatible wrapper for HandleWebSocket
func HandleWebSocketGin(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleWebSocket(hub, c.Writer, c.Request)
	}
}

// Wants reports whether the client's subscription covers e
func (c *Client) Wants(e alerting.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter.Matches(e)
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket connection error")
			}
			break
		}

		c.hub.countReceived()
		c.handleMessage(message)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

// handleMessage processes subscription requests and pings
func (c *Client) handleMessage(message []byte) {
	var msg Message
	if err := msg.UnmarshalJSON(message); err != nil {
		c.logger.WithError(err).Warn("Failed to unmarshal WebSocket message")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.setFilter(parseSubscription(msg.Data))
	case MessageTypeUnsubscribe:
		c.setFilter(Subscription{})
	case MessageTypePing:
		c.trySend(Message{
			Type: MessageTypePong,
			Data: map[string]interface{}{"timestamp": time.Now().UTC()},
		}.ToJSON())
	default:
		c.logger.WithField("message_type", msg.Type).Warn("Unknown WebSocket message type")
	}
}

func (c *Client) setFilter(s Subscription) {
	c.mu.Lock()
	c.filter = s
	c.mu.Unlock()

	ruleIDs := make([]int64, 0, len(s.RuleIDs))
	for id := range s.RuleIDs {
		ruleIDs = append(ruleIDs, id)
	}
	c.logger.WithFields(logrus.Fields{
		"client_id":    c.ID,
		"rule_ids":     ruleIDs,
		"min_severity": s.MinSeverity,
	}).Debug("Client subscription updated")

	c.trySend(Message{
		Type: MessageTypeSubscription,
		Data: map[string]interface{}{
			"rule_ids":     ruleIDs,
			"min_severity": string(s.MinSeverity),
		},
	}.ToJSON())
}

// trySend drops the message when the client's buffer is full. It reports
// whether the message was queued.
func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func parseSubscription(data map[string]interface{}) Subscription {
	var s Subscription
	if ids, ok := data["rule_ids"].([]interface{}); ok && len(ids) > 0 {
		s.RuleIDs = make(map[int64]bool, len(ids))
		for _, id := range ids {
			if f, ok := id.(float64); ok {
				s.RuleIDs[int64(f)] = true
			}
		}
	}
	if sev, ok := data["min_severity"].(string); ok && models.Severity(sev).Valid() {
		s.MinSeverity = models.Severity(sev)
	}
	return s
}
