package docfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/testrig-ai/testrig/pkg/config"
)

// Service fetches API documents referenced by URL, with validation, a size
// cap and TTL caching. It implements the doc parser's DocumentFetcher
// contract.
type Service struct {
	httpClient *http.Client
	cache      *Cache
	cfg        *config.DocsConfig
	logger     *slog.Logger
}

// NewService creates a document fetch service from configuration.
func NewService(cfg *config.DocsConfig) *Service {
	if cfg == nil {
		cfg = config.DefaultDocsConfig()
	}
	cacheTTL := 1 * time.Minute
	if cfg.CacheTTL > 0 {
		cacheTTL = cfg.CacheTTL
	}

	return &Service{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      NewCache(cacheTTL),
		cfg:        cfg,
		logger:     slog.Default().With("component", "docfetch"),
	}
}

// Fetch returns the document content at rawURL. The URL is validated against
// the allowed-domain list, GitHub blob URLs are converted to raw content
// URLs, and results are cached under the normalized URL.
func (s *Service) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateDocumentURL(rawURL, s.cfg.AllowedDomains); err != nil {
		return "", err
	}

	normalizedURL := ConvertToRawURL(rawURL)
	if content, ok := s.cache.Get(normalizedURL); ok {
		return content, nil
	}

	content, err := s.download(ctx, normalizedURL)
	if err != nil {
		return "", err
	}

	s.cache.Set(normalizedURL, content)
	return content, nil
}

func (s *Service) download(ctx context.Context, downloadURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch document from %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("document fetch returned HTTP %d for %s", resp.StatusCode, downloadURL)
	}

	// Read one byte past the cap so oversized documents are detected
	// without buffering the whole body.
	limit := s.cfg.MaxSizeBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if int64(len(body)) > limit {
		return "", fmt.Errorf("document exceeds size limit of %d bytes", limit)
	}

	return string(body), nil
}

// OverrideHTTPClientForTest replaces the internal HTTP client.
// For testing only.
func (s *Service) OverrideHTTPClientForTest(httpClient *http.Client) {
	s.httpClient = httpClient
}
