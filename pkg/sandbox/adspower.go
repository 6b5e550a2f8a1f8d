package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Controller is the slice of the AdsPower-style local API the manager uses.
// Tests substitute a fake.
type Controller interface {
	Status(ctx context.Context) error
	ListGroups(ctx context.Context) ([]Group, error)
	CreateGroup(ctx context.Context, name string) (Group, error)
	CreateProfile(ctx context.Context, req *CreateProfileRequest) (string, error)
	DeleteProfile(ctx context.Context, profileID string) error
	StartBrowser(ctx context.Context, profileID string) (*BrowserHandle, error)
	StopBrowser(ctx context.Context, profileID string) error
}

// Group is one controller profile group.
type Group struct {
	ID   string `json:"group_id"`
	Name string `json:"group_name"`
}

// CreateProfileRequest configures a new browser profile.
type CreateProfileRequest struct {
	Name              string             `json:"name"`
	GroupID           string             `json:"group_id"`
	ProxyConfig       *ProxyConfig       `json:"user_proxy_config,omitempty"`
	FingerprintConfig *FingerprintConfig `json:"fingerprint_config"`
}

// ProxyConfig routes a profile's traffic through a proxy.
type ProxyConfig struct {
	Type     string `json:"proxy_soft"`
	Host     string `json:"proxy_host,omitempty"`
	Port     string `json:"proxy_port,omitempty"`
	User     string `json:"proxy_user,omitempty"`
	Password string `json:"proxy_password,omitempty"`
}

// BrowserHandle is a started browser's control endpoints.
type BrowserHandle struct {
	WSEndpoint   string `json:"puppeteer"`
	SeleniumAddr string `json:"selenium,omitempty"`
	DebugPort    string `json:"debug_port,omitempty"`
}

// apiEnvelope is the controller's uniform response wrapper.
type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client talks to an AdsPower-compatible controller over its local HTTP API.
// Calls are spaced by a minimum inter-call delay (the controller rate-limits
// aggressively) and idempotent GETs retry with exponential backoff.
type Client struct {
	baseURL    string
	httpClient *http.Client

	rateMu    sync.Mutex
	rateDelay time.Duration
	lastCall  time.Time
}

// NewClient creates a controller client. token may be empty for unsecured
// local controllers.
func NewClient(baseURL, token string, rateDelay time.Duration) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if token != "" {
		transport = &bearerTokenTransport{base: transport, token: token}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		rateDelay:  rateDelay,
	}
}

// bearerTokenTransport wraps an http.RoundTripper to add Authorization headers.
type bearerTokenTransport struct {
	base  http.RoundTripper
	token string
}

func (t *bearerTokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(req)
}

// throttle enforces the minimum inter-call delay across all goroutines.
func (c *Client) throttle(ctx context.Context) error {
	if c.rateDelay <= 0 {
		return nil
	}
	c.rateMu.Lock()
	wait := c.rateDelay - time.Since(c.lastCall)
	if wait < 0 {
		wait = 0
	}
	c.lastCall = time.Now().Add(wait)
	c.rateMu.Unlock()

	if wait == 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// get performs an idempotent GET with retries: controller hiccups and 5xx
// responses back off exponentially for a few seconds before giving up.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	op := func() error {
		if err := c.throttle(ctx); err != nil {
			return backoff.Permanent(err)
		}
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("controller returned HTTP %d for %s", resp.StatusCode, path)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("controller returned HTTP %d for %s", resp.StatusCode, path))
		}
		return decodeEnvelope(resp.Body, path, out)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

// post performs a non-idempotent POST. Never retried: a timed-out profile
// create may still have created the profile.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("controller returned HTTP %d for %s", resp.StatusCode, path)
	}
	return decodeEnvelope(resp.Body, path, out)
}

func decodeEnvelope(r io.Reader, path string, out any) error {
	var env apiEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return fmt.Errorf("decode controller response for %s: %w", path, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("controller error for %s: code=%d msg=%q", path, env.Code, env.Msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode controller data for %s: %w", path, err)
		}
	}
	return nil
}

// Status probes controller reachability.
func (c *Client) Status(ctx context.Context) error {
	return c.get(ctx, "/status", nil, nil)
}

// ListGroups returns every profile group.
func (c *Client) ListGroups(ctx context.Context) ([]Group, error) {
	var data struct {
		List []Group `json:"list"`
	}
	if err := c.get(ctx, "/api/v1/group/list", nil, &data); err != nil {
		return nil, err
	}
	return data.List, nil
}

// CreateGroup creates a profile group.
func (c *Client) CreateGroup(ctx context.Context, name string) (Group, error) {
	var group Group
	err := c.post(ctx, "/api/v1/group/create", map[string]string{"group_name": name}, &group)
	if err != nil {
		return Group{}, err
	}
	if group.Name == "" {
		group.Name = name
	}
	return group, nil
}

// CreateProfile creates a fingerprint profile and returns its ID.
func (c *Client) CreateProfile(ctx context.Context, req *CreateProfileRequest) (string, error) {
	var data struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, "/api/v1/user/create", req, &data); err != nil {
		return "", err
	}
	if data.ID == "" {
		return "", fmt.Errorf("controller returned empty profile id")
	}
	return data.ID, nil
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(ctx context.Context, profileID string) error {
	return c.post(ctx, "/api/v1/user/delete", map[string][]string{"user_ids": {profileID}}, nil)
}

// StartBrowser launches a profile's browser and returns its endpoints.
func (c *Client) StartBrowser(ctx context.Context, profileID string) (*BrowserHandle, error) {
	query := url.Values{}
	query.Set("user_id", profileID)
	// Cache, storage and cookies are cleared on start so every execution
	// begins from a fresh identity.
	query.Set("clear_cache_after_closing", "1")
	var data struct {
		WS        BrowserHandle `json:"ws"`
		DebugPort string        `json:"debug_port"`
	}
	if err := c.get(ctx, "/api/v1/browser/start", query, &data); err != nil {
		return nil, err
	}
	handle := data.WS
	if handle.DebugPort == "" {
		handle.DebugPort = data.DebugPort
	}
	if handle.WSEndpoint == "" {
		return nil, fmt.Errorf("controller returned no websocket endpoint for profile %s", profileID)
	}
	return &handle, nil
}

// StopBrowser stops a profile's browser.
func (c *Client) StopBrowser(ctx context.Context, profileID string) error {
	query := url.Values{}
	query.Set("user_id", profileID)
	return c.get(ctx, "/api/v1/browser/stop", query, nil)
}
