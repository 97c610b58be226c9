package websocket

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/core/alerting"
)

// Message types for WebSocket communication
const (
	MessageTypeConnection   = "connection"
	MessageTypeHeartbeat    = "heartbeat"
	MessageTypeSubscription = "subscription_update"
	MessageTypePong         = "pong"

	// Client requests
	MessageTypeSubscribe   = "subscribe"
	MessageTypeUnsubscribe = "unsubscribe"
	MessageTypePing        = "ping"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	data, _ := json.Marshal(m)
	return data
}

// UnmarshalJSON accepts timestamps from browsers as RFC3339 strings or as
// Unix seconds/milliseconds, quoted or not
func (m *Message) UnmarshalJSON(b []byte) error {
	var raw struct {
		Type      string                 `json:"type"`
		Data      map[string]interface{} `json:"data"`
		Timestamp interface{}            `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	m.Type = raw.Type
	m.Data = raw.Data
	m.Timestamp = parseTimestamp(raw.Timestamp)
	return nil
}

// parseTimestamp falls back to the current time for missing or unreadable values
func parseTimestamp(v interface{}) time.Time {
	switch ts := v.(type) {
	case string:
		if n, err := strconv.ParseInt(ts, 10, 64); err == nil {
			return unixTime(n)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	case float64:
		return unixTime(int64(ts))
	case int64:
		return unixTime(ts)
	case int:
		return unixTime(int64(ts))
	}
	return time.Now().UTC()
}

// unixTime treats values past year 2286 in seconds as milliseconds
func unixTime(n int64) time.Time {
	if n > 1e10 {
		return time.Unix(0, n*int64(time.Millisecond))
	}
	return time.Unix(n, 0)
}

// EventMessage wraps an alert transition for live subscribers. The message
// type is the event type, e.g. "alert.opened".
func EventMessage(e alerting.Event) Message {
	data := map[string]interface{}{
		"rule_id":   e.RuleID,
		"rule_name": e.RuleName,
		"severity":  string(e.Severity),
	}
	if e.Instance != nil {
		data["instance"] = e.Instance
	}
	return Message{
		Type:      string(e.Type),
		Data:      data,
		Timestamp: e.Timestamp.UTC(),
	}
}
