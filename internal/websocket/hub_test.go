package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	"github.com/frostdev-ops/pma-alerting/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(logger.NewDiscard(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r)
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubDeliversSubscribedEvents(t *testing.T) {
	hub, url, _ := startHub(t)
	conn := dial(t, url)

	welcome := readMessage(t, conn)
	assert.Equal(t, MessageTypeConnection, welcome.Type)
	assert.NotEmpty(t, welcome.Data["client_id"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": MessageTypeSubscribe,
		"data": map[string]interface{}{"rule_ids": []int{2}},
	}))
	ack := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscription, ack.Type)

	now := time.Now()
	hub.Publish(alerting.Event{Type: alerting.EventOpened, RuleID: 1, RuleName: "other", Severity: models.SeverityCritical, Timestamp: now})
	hub.Publish(alerting.Event{Type: alerting.EventOpened, RuleID: 2, RuleName: "disk-usage", Severity: models.SeverityLow, Timestamp: now})

	event := readMessage(t, conn)
	assert.Equal(t, "alert.opened", event.Type)
	assert.Equal(t, float64(2), event.Data["rule_id"])

	stats := hub.GetStats()
	assert.Equal(t, 1, stats.ConnectedClients)
	assert.Equal(t, int64(1), stats.TotalConnections)
	assert.Equal(t, int64(1), stats.MessagesReceived)
}

func TestHubPing(t *testing.T) {
	_, url, _ := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": MessageTypePing, "data": map[string]interface{}{}}))
	assert.Equal(t, MessageTypePong, readMessage(t, conn).Type)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub, url, cancel := startHub(t)
	conn := dial(t, url)
	readMessage(t, conn)

	cancel()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub(logger.NewDiscard(), nil)
	for i := 0; i < 300; i++ {
		hub.Publish(alerting.Event{Type: alerting.EventUpdated, RuleID: 1})
	}
	assert.Equal(t, int64(300-256), hub.GetStats().MessagesDropped)
}
