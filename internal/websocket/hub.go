package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/core/metrics"
	"github.com/sirupsen/logrus"
)

const heartbeatInterval = 30 * time.Second

// Hub maintains the set of active clients and fans alert events out to the
// clients whose subscription matches
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound messages, filtered per client when event is set
	broadcast chan outbound

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	logger    *logrus.Logger
	collector *metrics.PrometheusCollector

	// Mutex for thread-safe operations
	mu sync.RWMutex

	// Statistics
	stats *HubStats
}

type outbound struct {
	data  []byte
	event *alerting.Event
}

// HubStats contains hub statistics
type HubStats struct {
	ConnectedClients int       `json:"connected_clients"`
	TotalConnections int64     `json:"total_connections"`
	MessagesSent     int64     `json:"messages_sent"`
	MessagesReceived int64     `json:"messages_received"`
	MessagesDropped  int64     `json:"messages_dropped"`
	LastActivity     time.Time `json:"last_activity"`
}

// NewHub creates a new WebSocket hub. collector may be nil.
func NewHub(logger *logrus.Logger, collector *metrics.PrometheusCollector) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
		collector:  collector,
		stats: &HubStats{
			LastActivity: time.Now(),
		},
	}
}

// Run handles client registration and broadcasting until ctx is cancelled,
// then disconnects every client
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer close(h.done)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			h.logger.Info("WebSocket hub stopped")
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.broadcastMessage(msg)

		case <-ticker.C:
			h.sendHeartbeat()
		}
	}
}

// Publish queues an alert event for subscribed clients. It never blocks the
// caller; events are dropped when the queue is full.
func (h *Hub) Publish(event alerting.Event) {
	data := EventMessage(event).ToJSON()
	select {
	case h.broadcast <- outbound{data: data, event: &event}:
	default:
		h.countDropped()
		h.logger.WithField("event", event.Type).Warn("Broadcast channel is full, alert event dropped")
	}
}

// BroadcastToAll broadcasts a message to all connected clients
func (h *Hub) BroadcastToAll(message Message) {
	select {
	case h.broadcast <- outbound{data: message.ToJSON()}:
	default:
		h.countDropped()
		h.logger.Warn("Broadcast channel is full, message dropped")
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ConnectedClients = len(h.clients)
	h.stats.LastActivity = time.Now()
	connected := len(h.clients)
	h.mu.Unlock()

	h.collector.RecordWebSocketConnection("connect")
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"remote_addr":       client.RemoteAddr,
		"connected_clients": connected,
	}).Info("WebSocket client connected")

	welcome := Message{
		Type: MessageTypeConnection,
		Data: map[string]interface{}{
			"status":    "connected",
			"client_id": client.ID,
		},
	}
	client.trySend(welcome.ToJSON())
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.closed)
		h.stats.ConnectedClients = len(h.clients)
		h.stats.LastActivity = time.Now()
	}
	connected := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	h.collector.RecordWebSocketConnection("disconnect")
	h.logger.WithFields(logrus.Fields{
		"client_id":         client.ID,
		"connected_clients": connected,
	}).Info("WebSocket client disconnected")
}

// leave is called by a client's read loop when its connection ends
func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) broadcastMessage(msg outbound) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if msg.event == nil || client.Wants(*msg.event) {
			clients = append(clients, client)
		}
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		if !client.trySend(msg.data) {
			slow = append(slow, client)
		}
	}
	// A full send buffer means the client stopped reading
	for _, client := range slow {
		h.unregisterClient(client)
	}

	h.mu.Lock()
	h.stats.MessagesSent += int64(len(clients) - len(slow))
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"message_size": len(msg.data),
		"clients_sent": len(clients) - len(slow),
	}).Debug("Message broadcasted to WebSocket clients")
}

func (h *Hub) sendHeartbeat() {
	heartbeat := Message{
		Type: MessageTypeHeartbeat,
		Data: map[string]interface{}{
			"clients": h.GetClientCount(),
		},
	}
	h.broadcastMessage(outbound{data: heartbeat.ToJSON()})
}

func (h *Hub) shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		h.unregisterClient(client)
	}
}

func (h *Hub) countReceived() {
	h.mu.Lock()
	h.stats.MessagesReceived++
	h.stats.LastActivity = time.Now()
	h.mu.Unlock()
}

func (h *Hub) countDropped() {
	h.mu.Lock()
	h.stats.MessagesDropped++
	h.mu.Unlock()
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() *HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statsCopy := *h.stats
	statsCopy.ConnectedClients = len(h.clients)
	return &statsCopy
}

// GetClientCount returns the current number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
