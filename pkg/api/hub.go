package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/services"
)

// defaultWriteTimeout bounds a single WebSocket send; a stalled client must
// not hold up a broadcast indefinitely.
const defaultWriteTimeout = 5 * time.Second

// StreamEvent is the wire shape of one stream chunk pushed to WS and SSE
// clients.
type StreamEvent struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	Source    string         `json:"source"`
	Content   string         `json:"content,omitempty"`
	IsFinal   bool           `json:"is_final,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// wsClientMessage is what clients send: subscribe/unsubscribe/ping with a
// session ID as the channel.
type wsClientMessage struct {
	Action  string `json:"action"`
	Channel string `json:"channel,omitempty"`
}

// wsConn is one connected WebSocket client.
type wsConn struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// StreamHub fans stream responses out to WebSocket clients. Clients
// subscribe per session; a subscribe is answered with a confirmation and a
// session snapshot so late joiners see where the pipeline stands.
type StreamHub struct {
	pipeline *services.PipelineService // nil: no snapshots
	origins  []string
	logger   *slog.Logger

	mu          sync.RWMutex
	connections map[string]*wsConn

	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	writeTimeout time.Duration
}

// NewStreamHub builds the hub. Extra allowed WebSocket origins extend the
// default same-host check.
func NewStreamHub(pipeline *services.PipelineService, origins []string) *StreamHub {
	return &StreamHub{
		pipeline:     pipeline,
		origins:      origins,
		logger:       slog.Default().With("component", "stream-hub"),
		connections:  make(map[string]*wsConn),
		channels:     make(map[string]map[string]bool),
		writeTimeout: defaultWriteTimeout,
	}
}

// Start subscribes the hub to the stream response topic.
func (h *StreamHub) Start(b *bus.Bus) error {
	if b == nil {
		return nil
	}
	return b.Subscribe(models.TopicStreamResponse, "ws-hub", h.onStreamResponse)
}

// onStreamResponse converts a bus stream response into a broadcast to the
// session's subscribers.
func (h *StreamHub) onStreamResponse(ctx context.Context, msg *models.Message) error {
	resp, ok := msg.Payload.(*models.StreamResponse)
	if !ok {
		return nil
	}
	event := StreamEvent{
		Type:      "stream.response",
		SessionID: msg.Context.SessionID,
		Source:    string(resp.Source),
		Content:   resp.Content,
		IsFinal:   resp.IsFinal,
		Result:    resp.Result,
		Error:     resp.Error,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(msg.Context.SessionID, data)
	return nil
}

// Handle upgrades GET /ws and serves the connection until it closes.
func (h *StreamHub) Handle(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		h.logger.Warn("WebSocket accept failed", "error", err)
		return
	}
	h.handleConnection(c.Request.Context(), conn)
}

// handleConnection runs one client's read loop. Blocks until the connection
// closes.
func (h *StreamHub) handleConnection(parentCtx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsConn{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn("Invalid WebSocket message", "connection_id", c.id, "error", err)
			continue
		}
		h.handleClientMessage(ctx, c, &msg)
	}
}

// handleClientMessage dispatches subscribe/unsubscribe/ping.
func (h *StreamHub) handleClientMessage(ctx context.Context, c *wsConn, msg *wsClientMessage) {
	switch msg.Action {
	case "subscribe":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for subscribe"})
			return
		}
		h.subscribe(c, msg.Channel)
		h.sendJSON(c, map[string]string{
			"type":    "subscription.confirmed",
			"channel": msg.Channel,
		})
		h.sendSnapshot(ctx, c, msg.Channel)

	case "unsubscribe":
		if msg.Channel == "" {
			h.sendJSON(c, map[string]string{"type": "error", "message": "channel is required for unsubscribe"})
			return
		}
		h.unsubscribe(c, msg.Channel)

	case "ping":
		h.sendJSON(c, map[string]string{"type": "pong"})
	}
}

// sendSnapshot delivers the current session state so a late subscriber knows
// where the pipeline stands before live chunks arrive.
func (h *StreamHub) sendSnapshot(ctx context.Context, c *wsConn, sessionID string) {
	if h.pipeline == nil {
		return
	}
	sess, err := h.pipeline.Status(ctx, sessionID)
	if err != nil {
		return
	}
	h.sendJSON(c, map[string]any{
		"type":    "session.snapshot",
		"session": sess,
	})
}

// Broadcast sends an event to every connection subscribed to the channel.
// Connection pointers are snapshotted before sending so a slow client never
// stalls register/unregister.
func (h *StreamHub) Broadcast(channel string, event []byte) {
	h.channelMu.RLock()
	ids := make([]string, 0, len(h.channels[channel]))
	for id := range h.channels[channel] {
		ids = append(ids, id)
	}
	h.channelMu.RUnlock()
	if len(ids) == 0 {
		return
	}

	h.mu.RLock()
	conns := make([]*wsConn, 0, len(ids))
	for _, id := range ids {
		if conn, ok := h.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := h.sendRaw(conn, event); err != nil {
			h.logger.Warn("Failed to send to WebSocket client",
				"connection_id", conn.id, "error", err)
		}
	}
}

// ActiveConnections returns the number of connected clients.
func (h *StreamHub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// subscriberCount is used by tests to poll instead of sleeping.
func (h *StreamHub) subscriberCount(channel string) int {
	h.channelMu.RLock()
	defer h.channelMu.RUnlock()
	return len(h.channels[channel])
}

// Close disconnects every client. Idempotent.
func (h *StreamHub) Close() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		h.unregister(c)
	}
}

func (h *StreamHub) subscribe(c *wsConn, channel string) {
	h.channelMu.Lock()
	if _, exists := h.channels[channel]; !exists {
		h.channels[channel] = make(map[string]bool)
	}
	h.channels[channel][c.id] = true
	h.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (h *StreamHub) unsubscribe(c *wsConn, channel string) {
	h.channelMu.Lock()
	if subs, exists := h.channels[channel]; exists {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	h.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

func (h *StreamHub) register(c *wsConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c.id] = c
}

func (h *StreamHub) unregister(c *wsConn) {
	for ch := range c.subscriptions {
		h.unsubscribe(c, ch)
	}

	h.mu.Lock()
	delete(h.connections, c.id)
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *StreamHub) sendJSON(c *wsConn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to marshal WebSocket message", "connection_id", c.id, "error", err)
		return
	}
	if err := h.sendRaw(c, data); err != nil {
		h.logger.Warn("Failed to send WebSocket message", "connection_id", c.id, "error", err)
	}
}

func (h *StreamHub) sendRaw(c *wsConn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
