package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/services"
	"github.com/testrig-ai/testrig/pkg/session"
)

// newTestServer wires a server over an in-memory bus with no database. The
// pipeline service is live; history endpoints degrade to 503.
func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()

	b := bus.New()
	t.Cleanup(b.Close)
	tracker := session.NewTracker()
	pipeline := services.NewPipelineService(b, tracker, nil)

	s := NewServer(Deps{
		Bus:      b,
		Pipeline: pipeline,
	})
	return s, s.Router()
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHealth_NoDatabase(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestSubmitParse_Accepted(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodPost, "/api/v1/parse", map[string]any{
		"title":   "Users API",
		"content": "GET /users returns the user list",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "running", body["status"])
}

func TestSubmitParse_ValidationError(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodPost, "/api/v1/parse", map[string]any{"title": "empty"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode(t, w)["error"])
}

func TestSubmitParse_MalformedJSON(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitExecution_Accepted(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodPost, "/api/v1/executions", map[string]any{
		"kind": "api",
		"scripts": []map[string]any{
			{"script_id": "s-1", "name": "test_users.py", "content": "def test_users(): pass"},
		},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.NotEmpty(t, decode(t, w)["execution_id"])
}

func TestGetSession_RoundTrip(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodPost, "/api/v1/parse", map[string]any{"content": "GET /x"})
	require.Equal(t, http.StatusAccepted, w.Code)
	sessionID := decode(t, w)["session_id"].(string)

	w = do(t, router, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, sessionID, decode(t, w)["session_id"])

	w = do(t, router, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sessions := decode(t, w)["sessions"].([]any)
	assert.Len(t, sessions, 1)
}

func TestGetSession_NotFound(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodGet, "/api/v1/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelSession_NothingToCancel(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodPost, "/api/v1/sessions/missing/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHistoryEndpoints_UnavailableWithoutStore(t *testing.T) {
	_, router := newTestServer(t)

	for _, path := range []string{
		"/api/v1/sessions?history=true",
		"/api/v1/sessions/s-1/executions",
		"/api/v1/executions/e-1",
		"/api/v1/executions/e-1/report",
		"/api/v1/executions/e-1/logs",
		"/api/v1/documents/d-1/endpoints",
		"/api/v1/documents/d-1/analysis",
		"/api/v1/documents/d-1/scripts",
		"/api/v1/scripts/search?q=login",
	} {
		w := do(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestSystemInfo(t *testing.T) {
	_, router := newTestServer(t)

	w := do(t, router, http.MethodGet, "/api/v1/system", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "testrig", body["name"])
	assert.Equal(t, float64(0), body["stream_clients"])
}

func TestCORS_Preflight(t *testing.T) {
	_, router := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/parse", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
