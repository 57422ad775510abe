package websocket

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
	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
	"github.com/your-username/agent-observability/backend/internal/querybuilder"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
	initEventCount = 50
	queryTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventSource supplies the recent events sent on connect.
type EventSource interface {
	RecentEvents(ctx context.Context, n int) ([]models.Event, error)
}

// Snapshotter supplies the stats and per-app performance sent on connect.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*models.Stats, []models.AppPerformance, error)
}

// QueryExecutor runs a realtime read request.
type QueryExecutor interface {
	Execute(ctx context.Context, raw json.RawMessage) ([]map[string]interface{}, error)
}

// Backend is what a connection reads from. Any field may be nil.
type Backend struct {
	Events    EventSource
	Analytics Snapshotter
	Queries   QueryExecutor
}

// ProtocolError is a client message the server refuses. It is answered with
// an error message and the connection stays open.
type ProtocolError struct {
	QueryID string
	Reason  string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

type Client struct {
	id      string
	hub     *Hub
	conn    *websocket.Conn
	backend Backend

	mu      sync.RWMutex
	send    chan []byte
	closed  bool
	topics  map[string]bool
	filters *models.SubscriberFilter

	// Broadcasts are held until init has been queued.
	ready   bool
	pending []heldMessage
}

type heldMessage struct {
	eventID int64
	msg     []byte
}

func newClient(hub *Hub, conn *websocket.Conn, backend Backend) *Client {
	return &Client{
		id:      uuid.New().String(),
		hub:     hub,
		conn:    conn,
		backend: backend,
		send:    make(chan []byte, sendBufferSize),
		topics: map[string]bool{
			models.TopicEvents: true,
			models.TopicAlerts: true,
		},
	}
}

// HandleWebSocket upgrades the request and serves the realtime channel.
func HandleWebSocket(hub *Hub, backend Backend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to upgrade connection")
			return
		}

		client := newClient(hub, conn, backend)
		if !hub.add(client) {
			conn.Close()
			return
		}
		client.sendInit(r.Context())

		go client.writePump()
		go client.readPump()
	}
}

type initMessage struct {
	Type        string                  `json:"type"`
	ClientID    string                  `json:"clientId"`
	Events      []models.Event          `json:"events"`
	Stats       *models.Stats           `json:"stats,omitempty"`
	Performance []models.AppPerformance `json:"performance"`
	Channels    []string                `json:"channels"`
	Timestamp   time.Time               `json:"timestamp"`
}

func (c *Client) sendInit(ctx context.Context) {
	msg := initMessage{
		Type:        "init",
		ClientID:    c.id,
		Events:      []models.Event{},
		Performance: []models.AppPerformance{},
		Channels:    c.channels(),
		Timestamp:   time.Now().UTC(),
	}

	if c.backend.Events != nil {
		events, err := c.backend.Events.RecentEvents(ctx, initEventCount)
		if err != nil {
			log.Warn().Err(err).Str("client_id", c.id).Msg("Failed to load recent events for init")
		} else {
			msg.Events = events
		}
	}
	if c.backend.Analytics != nil {
		stats, perf, err := c.backend.Analytics.Snapshot(ctx)
		if err != nil {
			log.Warn().Err(err).Str("client_id", c.id).Msg("Failed to load stats for init")
		} else {
			msg.Stats = stats
			if perf != nil {
				msg.Performance = perf
			}
		}
	}

	c.sendJSON(msg)

	var newest int64
	for _, e := range msg.Events {
		if e.ID > newest {
			newest = e.ID
		}
	}
	c.flushPending(newest)
}

// hold keeps a broadcast back while init is being prepared. It reports
// false once the client is ready for direct delivery.
func (c *Client) hold(eventID int64, msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return false
	}
	if len(c.pending) >= sendBufferSize {
		c.hub.metrics.RecordMessageDropped()
		return true
	}
	c.pending = append(c.pending, heldMessage{eventID: eventID, msg: msg})
	return true
}

// flushPending delivers held broadcasts in arrival order, skipping events
// with an id at or below after, then switches the client to direct delivery.
// Broadcasts arriving during the flush are held and picked up by the next pass.
func (c *Client) flushPending(after int64) {
	for {
		c.mu.Lock()
		held := c.pending
		c.pending = nil
		if len(held) == 0 {
			c.ready = true
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for _, h := range held {
			if h.eventID != 0 && h.eventID <= after {
				continue
			}
			c.hub.deliver(c, h.msg)
		}
	}
}

// readPump handles incoming messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("WebSocket error")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if err := c.handleMessage(message); err != nil {
			c.sendError(err)
		}
	}
}

// writePump handles outgoing messages to the WebSocket connection.
// Every message is written as its own text frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

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

func (c *Client) handleMessage(raw []byte) error {
	var msg models.WebSocketMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return &ProtocolError{Reason: "malformed message"}
	}

	switch msg.Type {
	case "ping":
		c.sendPong(msg.Timestamp)
		return nil
	case "subscribe":
		return c.updateTopics(msg.Channels, true)
	case "unsubscribe":
		return c.updateTopics(msg.Channels, false)
	case "set_filters":
		c.setFilters(msg.Filters)
		return nil
	case "query":
		return c.runQuery(msg.QueryID, msg.Query)
	case "":
		return &ProtocolError{Reason: "message type is required"}
	default:
		return &ProtocolError{Reason: fmt.Sprintf("unknown message type: %s", msg.Type)}
	}
}

type pongMessage struct {
	Type       string          `json:"type"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	ServerTime time.Time       `json:"serverTime"`
}

func (c *Client) sendPong(echo json.RawMessage) {
	c.sendJSON(pongMessage{
		Type:       "pong",
		Timestamp:  echo,
		ServerTime: time.Now().UTC(),
	})
}

type subscriptionMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

func (c *Client) updateTopics(channels []string, on bool) error {
	if len(channels) == 0 {
		return &ProtocolError{Reason: "channels are required"}
	}
	for _, ch := range channels {
		if ch != models.TopicEvents && ch != models.TopicAlerts {
			return &ProtocolError{Reason: fmt.Sprintf("unknown channel: %s", ch)}
		}
	}

	c.mu.Lock()
	for _, ch := range channels {
		c.topics[ch] = on
	}
	c.mu.Unlock()

	kind := "subscribed"
	if !on {
		kind = "unsubscribed"
	}
	c.sendJSON(subscriptionMessage{Type: kind, Channels: c.channels()})
	return nil
}

type filtersMessage struct {
	Type    string                   `json:"type"`
	Filters *models.SubscriberFilter `json:"filters"`
}

// setFilters replaces the filter. A missing filter clears it.
func (c *Client) setFilters(f *models.SubscriberFilter) {
	c.mu.Lock()
	c.filters = f
	c.mu.Unlock()

	log.Debug().Str("client_id", c.id).Interface("filters", f).Msg("Client filters updated")
	c.sendJSON(filtersMessage{Type: "filters_updated", Filters: f})
}

type queryResultMessage struct {
	Type    string                   `json:"type"`
	QueryID string                   `json:"queryId"`
	Result  []map[string]interface{} `json:"result"`
}

func (c *Client) runQuery(queryID string, query json.RawMessage) error {
	if c.backend.Queries == nil {
		return &ProtocolError{QueryID: queryID, Reason: "queries are not available"}
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := c.backend.Queries.Execute(ctx, query)
	if err != nil {
		return &ProtocolError{QueryID: queryID, Reason: queryErrorReason(err)}
	}

	c.sendJSON(queryResultMessage{Type: "query_result", QueryID: queryID, Result: rows})
	return nil
}

// queryErrorReason hides store failures from the client.
func queryErrorReason(err error) string {
	if querybuilder.IsRejected(err) {
		return err.Error()
	}
	return "query failed"
}

type errorMessage struct {
	Type    string `json:"type"`
	QueryID string `json:"queryId,omitempty"`
	Message string `json:"message"`
}

func (c *Client) sendError(err error) {
	msg := errorMessage{Type: "error", Message: err.Error()}
	if pe, ok := err.(*ProtocolError); ok {
		msg.QueryID = pe.QueryID
	}
	log.Debug().Err(err).Str("client_id", c.id).Msg("Rejected client message")
	c.sendJSON(msg)
}

func (c *Client) sendJSON(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.id).Msg("Failed to encode message")
		return
	}
	if !c.enqueue(msg) {
		log.Warn().Str("client_id", c.id).Msg("Client send buffer full")
	}
}

// enqueue never blocks. It reports false when the buffer is full or the
// client is gone.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *Client) wants(topic string, e *models.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic] && c.filters.Matches(e)
}

func (c *Client) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for topic, on := range c.topics {
		if on {
			out = append(out, topic)
		}
	}
	sort.Strings(out)
	return out
}
