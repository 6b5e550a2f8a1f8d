package sandbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(data any) []byte {
	out, _ := json.Marshal(map[string]any{"code": 0, "msg": "success", "data": data})
	return out
}

func TestClient_ListGroups(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/group/list", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write(envelope(map[string]any{
			"list": []map[string]string{{"group_id": "g1", "group_name": "batch-a"}},
		}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 0)
	groups, err := client.ListGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "g1", groups[0].ID)
	assert.Equal(t, "batch-a", groups[0].Name)
}

func TestClient_ControllerErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": -1, "msg": "too many requests"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	_, err := client.ListGroups(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many requests")
}

func TestClient_GetRetriesOn5xx(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(envelope(nil))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	require.NoError(t, client.Status(context.Background()))
	assert.Equal(t, int64(3), calls.Load())
}

func TestClient_CreateProfile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/user/create", r.URL.Path)

		var req CreateProfileRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "g1", req.GroupID)
		require.NotNil(t, req.FingerprintConfig)
		assert.Equal(t, "0", req.FingerprintConfig.WebDriver)
		assert.NotEmpty(t, req.FingerprintConfig.UserAgent)

		_, _ = w.Write(envelope(map[string]string{"id": "profile-7"}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	id, err := client.CreateProfile(context.Background(), &CreateProfileRequest{
		Name:              "testrig-exec-1",
		GroupID:           "g1",
		FingerprintConfig: NewFingerprint("", nil),
	})
	require.NoError(t, err)
	assert.Equal(t, "profile-7", id)
}

func TestClient_StartBrowserRequiresEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/browser/start", r.URL.Path)
		assert.Equal(t, "p1", r.URL.Query().Get("user_id"))
		_, _ = w.Write(envelope(map[string]any{"ws": map[string]string{"puppeteer": ""}}))
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 0)
	_, err := client.StartBrowser(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no websocket endpoint")
}
