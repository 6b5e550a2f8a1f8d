package docfetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/config"
)

func newTestService(cfg *config.DocsConfig) *Service {
	if cfg == nil {
		cfg = &config.DocsConfig{
			CacheTTL:     time.Minute,
			MaxSizeBytes: 1 << 20,
		}
	}
	return NewService(cfg)
}

func TestService_Fetch(t *testing.T) {
	t.Run("fetches content", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"openapi": "3.0.0"}`))
		}))
		defer server.Close()

		svc := newTestService(nil)
		content, err := svc.Fetch(context.Background(), server.URL+"/openapi.json")
		require.NoError(t, err)
		assert.Equal(t, `{"openapi": "3.0.0"}`, content)
	})

	t.Run("server error returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		svc := newTestService(nil)
		_, err := svc.Fetch(context.Background(), server.URL+"/openapi.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500")
	})

	t.Run("disallowed domain returns error", func(t *testing.T) {
		svc := newTestService(&config.DocsConfig{
			CacheTTL:       time.Minute,
			AllowedDomains: []string{"github.com"},
			MaxSizeBytes:   1 << 20,
		})

		_, err := svc.Fetch(context.Background(), "https://evil.com/openapi.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed list")
	})

	t.Run("invalid scheme returns error", func(t *testing.T) {
		svc := newTestService(nil)
		_, err := svc.Fetch(context.Background(), "ftp://example.com/openapi.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only http and https allowed")
	})

	t.Run("oversized document returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("a", 200)))
		}))
		defer server.Close()

		svc := newTestService(&config.DocsConfig{
			CacheTTL:     time.Minute,
			MaxSizeBytes: 100,
		})
		_, err := svc.Fetch(context.Background(), server.URL+"/big.json")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "size limit")
	})

	t.Run("caches fetched content", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callCount++
			_, _ = w.Write([]byte("spec body"))
		}))
		defer server.Close()

		svc := newTestService(nil)

		// First call fetches
		content1, err := svc.Fetch(context.Background(), server.URL+"/spec.yaml")
		require.NoError(t, err)
		assert.Equal(t, "spec body", content1)
		assert.Equal(t, 1, callCount)

		// Second call is a cache hit
		content2, err := svc.Fetch(context.Background(), server.URL+"/spec.yaml")
		require.NoError(t, err)
		assert.Equal(t, "spec body", content2)
		assert.Equal(t, 1, callCount) // Not incremented
	})
}

func TestConvertToRawURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "blob URL converted",
			input:    "https://github.com/org/repo/blob/main/docs/openapi.json",
			expected: "https://raw.githubusercontent.com/org/repo/refs/heads/main/docs/openapi.json",
		},
		{
			name:     "raw URL passes through",
			input:    "https://raw.githubusercontent.com/org/repo/main/openapi.json",
			expected: "https://raw.githubusercontent.com/org/repo/main/openapi.json",
		},
		{
			name:     "non-github URL passes through",
			input:    "https://example.com/openapi.json",
			expected: "https://example.com/openapi.json",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ConvertToRawURL(tt.input))
		})
	}
}

func TestCache_TTLExpiry(t *testing.T) {
	cache := NewCache(50 * time.Millisecond)

	cache.Set("https://example.com/spec.json", "content")

	content, ok := cache.Get("https://example.com/spec.json")
	assert.True(t, ok)
	assert.Equal(t, "content", content)

	time.Sleep(60 * time.Millisecond)

	content, ok = cache.Get("https://example.com/spec.json")
	assert.False(t, ok)
	assert.Equal(t, "", content)
}
