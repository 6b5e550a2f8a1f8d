package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
)

func setupTestHub(t *testing.T) (*StreamHub, *bus.Bus, *httptest.Server) {
	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)

	hub := NewStreamHub(nil, nil)
	require.NoError(t, hub.Start(b))
	t.Cleanup(hub.Close)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", hub.Handle)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return hub, b, server
}

func connectWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func waitForSubscribers(t *testing.T, hub *StreamHub, channel string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.subscriberCount(channel) == want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStreamHub_ConnectionEstablished(t *testing.T) {
	_, _, server := setupTestHub(t)
	conn := connectWS(t, server)

	msg := readJSON(t, conn)
	assert.Equal(t, "connection.established", msg["type"])
	assert.NotEmpty(t, msg["connection_id"])
}

func TestStreamHub_SubscribeConfirmed(t *testing.T) {
	hub, _, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn) // connection.established

	writeJSON(t, conn, wsClientMessage{Action: "subscribe", Channel: "sess-1"})

	msg := readJSON(t, conn)
	assert.Equal(t, "subscription.confirmed", msg["type"])
	assert.Equal(t, "sess-1", msg["channel"])

	waitForSubscribers(t, hub, "sess-1", 1)
	assert.Equal(t, 1, hub.ActiveConnections())
}

func TestStreamHub_SubscribeRequiresChannel(t *testing.T) {
	_, _, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, wsClientMessage{Action: "subscribe"})

	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
}

func TestStreamHub_Ping(t *testing.T) {
	_, _, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, wsClientMessage{Action: "ping"})

	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"])
}

func TestStreamHub_BroadcastFromBus(t *testing.T) {
	hub, b, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, wsClientMessage{Action: "subscribe", Channel: "sess-42"})
	readJSON(t, conn) // subscription.confirmed
	waitForSubscribers(t, hub, "sess-42", 1)

	err := b.Publish(context.Background(), models.NewMessage(
		models.TopicStreamResponse,
		models.MessageContext{SessionID: "sess-42"},
		&models.StreamResponse{
			Source:  models.AgentDocParser,
			Content: "parsing 3 endpoints",
		},
	))
	require.NoError(t, err)

	msg := readJSON(t, conn)
	assert.Equal(t, "stream.response", msg["type"])
	assert.Equal(t, "sess-42", msg["session_id"])
	assert.Equal(t, "parsing 3 endpoints", msg["content"])
}

func TestStreamHub_BroadcastScopedToSession(t *testing.T) {
	hub, b, server := setupTestHub(t)

	conn := connectWS(t, server)
	readJSON(t, conn)
	writeJSON(t, conn, wsClientMessage{Action: "subscribe", Channel: "sess-a"})
	readJSON(t, conn)
	waitForSubscribers(t, hub, "sess-a", 1)

	for _, sessionID := range []string{"sess-other", "sess-a"} {
		err := b.Publish(context.Background(), models.NewMessage(
			models.TopicStreamResponse,
			models.MessageContext{SessionID: sessionID},
			&models.StreamResponse{Source: models.AgentAnalyzer, Content: sessionID},
		))
		require.NoError(t, err)
	}

	// Only the subscribed session's event arrives.
	msg := readJSON(t, conn)
	assert.Equal(t, "sess-a", msg["session_id"])
}

func TestStreamHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub, b, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	writeJSON(t, conn, wsClientMessage{Action: "subscribe", Channel: "sess-x"})
	readJSON(t, conn)
	waitForSubscribers(t, hub, "sess-x", 1)

	writeJSON(t, conn, wsClientMessage{Action: "unsubscribe", Channel: "sess-x"})
	waitForSubscribers(t, hub, "sess-x", 0)

	err := b.Publish(context.Background(), models.NewMessage(
		models.TopicStreamResponse,
		models.MessageContext{SessionID: "sess-x"},
		&models.StreamResponse{Source: models.AgentAnalyzer, Content: "dropped"},
	))
	require.NoError(t, err)

	writeJSON(t, conn, wsClientMessage{Action: "ping"})
	msg := readJSON(t, conn)
	assert.Equal(t, "pong", msg["type"], "next frame is the pong, not the dropped broadcast")
}

func TestStreamHub_CloseDisconnectsClients(t *testing.T) {
	hub, _, server := setupTestHub(t)
	conn := connectWS(t, server)
	readJSON(t, conn)

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, hub.ActiveConnections())
}

func TestSSEHub_DeliversStreamEvents(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)

	hub := NewSSEHub()
	require.NoError(t, hub.Start(b))
	t.Cleanup(hub.Close)

	server := httptest.NewServer(hub.Handler())
	t.Cleanup(server.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"?stream=sess-9", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	err = b.Publish(context.Background(), models.NewMessage(
		models.TopicStreamResponse,
		models.MessageContext{SessionID: "sess-9"},
		&models.StreamResponse{Source: models.AgentTestCaseGenerator, Content: "generated 4 cases", IsFinal: true},
	))
	require.NoError(t, err)

	buf := make([]byte, 4096)
	var received string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		n, readErr := resp.Body.Read(buf)
		received += string(buf[:n])
		if readErr != nil {
			break
		}
		if n > 0 && containsEvent(received) {
			break
		}
	}
	assert.Contains(t, received, "generated 4 cases")
	assert.Contains(t, received, "sess-9")
}

func containsEvent(s string) bool {
	for i := 0; i+5 <= len(s); i++ {
		if s[i:i+5] == "data:" {
			return true
		}
	}
	return false
}
