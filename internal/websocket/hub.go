package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/monitoring"
)

// Hub tracks connected subscribers and fans out events and alerts to them.
// Delivery is best effort: a subscriber whose buffer is full misses the
// message, and nothing is kept for disconnected clients.
type Hub struct {
	// Registered clients keyed by connection id
	clients map[string]*Client
	stopped bool
	done    chan struct{}

	metrics *monitoring.Metrics
	mu      sync.RWMutex
}

func NewHub(metrics *monitoring.Metrics) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		done:    make(chan struct{}),
		metrics: metrics,
	}
}

// Run blocks until ctx is cancelled, then disconnects every client and
// refuses new ones.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	h.stopped = true
	for id, client := range h.clients {
		delete(h.clients, id)
		client.close()
		h.metrics.ConnectionClosed()
	}
	h.mu.Unlock()

	log.Info().Msg("Realtime hub stopped")
	close(h.done)
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) add(client *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	h.clients[client.id] = client
	h.metrics.ConnectionOpened()
	h.mu.Unlock()

	log.Info().Str("client_id", client.id).Msg("Client connected")
	return true
}

// remove drops all state for the client immediately.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	if ok {
		delete(h.clients, client.id)
		h.metrics.ConnectionClosed()
	}
	h.mu.Unlock()

	if ok {
		client.close()
		log.Info().Str("client_id", client.id).Msg("Client disconnected")
	}
}

type eventMessage struct {
	Type string        `json:"type"`
	Data *models.Event `json:"data"`
}

// BroadcastEvent sends a stored event to every client subscribed to the
// events topic whose filter accepts it.
func (h *Hub) BroadcastEvent(e *models.Event) {
	msg, err := json.Marshal(eventMessage{Type: "event", Data: e})
	if err != nil {
		log.Error().Err(err).Int64("event_id", e.ID).Msg("Failed to encode event broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.wants(models.TopicEvents, e) || client.hold(e.ID, msg) {
			continue
		}
		h.deliver(client, msg)
	}
}

type alertMessage struct {
	Type      string        `json:"type"`
	Rule      string        `json:"rule"`
	Condition string        `json:"condition"`
	Severity  string        `json:"severity"`
	Observed  float64       `json:"observed"`
	Threshold float64       `json:"threshold"`
	Alert     *models.Alert `json:"alert"`
	Event     *models.Event `json:"event"`
	Timestamp time.Time     `json:"timestamp"`
}

// OnAlert sends a triggered alert to every client subscribed to the alerts topic.
func (h *Hub) OnAlert(n *monitoring.AlertNotification) {
	msg, err := json.Marshal(alertMessage{
		Type:      "alert",
		Rule:      n.Rule.Name,
		Condition: string(n.Rule.Condition),
		Severity:  n.Severity,
		Observed:  n.Observed,
		Threshold: n.Rule.Threshold,
		Alert:     n.Alert,
		Event:     n.Event,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		log.Error().Err(err).Str("rule", n.Rule.Name).Msg("Failed to encode alert broadcast")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.subscribed(models.TopicAlerts) || client.hold(0, msg) {
			continue
		}
		h.deliver(client, msg)
	}
}

func (h *Hub) deliver(client *Client, msg []byte) {
	if client.enqueue(msg) {
		h.metrics.RecordMessageSent()
		return
	}
	h.metrics.RecordMessageDropped()
	log.Warn().Str("client_id", client.id).Msg("Client send buffer full")
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
