package models

import "encoding/json"

// Realtime topics a subscriber can follow.
const (
	TopicEvents = "events"
	TopicAlerts = "alerts"
)

// WebSocketMessage is a client-to-server message on the realtime channel.
type WebSocketMessage struct {
	Type      string            `json:"type"`
	Channels  []string          `json:"channels,omitempty"`
	Filters   *SubscriberFilter `json:"filters,omitempty"`
	QueryID   string            `json:"queryId,omitempty"`
	Query     json.RawMessage   `json:"query,omitempty"`
	Timestamp json.RawMessage   `json:"timestamp,omitempty"`
}
