package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/r3labs/sse/v2"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
)

// allStream receives every stream response regardless of session, for
// dashboard-style consumers.
const allStream = "all"

// SSEHub republishes stream responses over Server-Sent Events for clients
// that cannot hold a WebSocket. Streams are keyed by session ID; connect
// with GET /events?stream=<session-id> (or stream=all).
type SSEHub struct {
	server *sse.Server
	logger *slog.Logger
}

// NewSSEHub builds the hub with auto-created streams so clients can connect
// before the first event for their session arrives.
func NewSSEHub() *SSEHub {
	server := sse.New()
	server.AutoStream = true
	server.AutoReplay = false
	return &SSEHub{
		server: server,
		logger: slog.Default().With("component", "sse-hub"),
	}
}

// Start subscribes the hub to the stream response topic.
func (h *SSEHub) Start(b *bus.Bus) error {
	if b == nil {
		return nil
	}
	return b.Subscribe(models.TopicStreamResponse, "sse-hub", h.onStreamResponse)
}

// Handler returns the HTTP handler serving the event stream.
func (h *SSEHub) Handler() http.Handler {
	return h.server
}

// Close disconnects all SSE clients.
func (h *SSEHub) Close() {
	h.server.Close()
}

func (h *SSEHub) onStreamResponse(ctx context.Context, msg *models.Message) error {
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
	h.server.Publish(msg.Context.SessionID, &sse.Event{
		Event: []byte(event.Type),
		Data:  data,
	})
	h.server.Publish(allStream, &sse.Event{
		Event: []byte(event.Type),
		Data:  data,
	})
	return nil
}
