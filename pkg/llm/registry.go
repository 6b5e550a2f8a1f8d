package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Provider names understood by the registry. Each maps to an
// OpenAI-compatible endpoint.
const (
	ProviderQwen     = "qwen"
	ProviderQwenVL   = "qwen_vl"
	ProviderGLM      = "glm"
	ProviderDeepSeek = "deepseek"
	ProviderUITARS   = "ui_tars"
	ProviderOpenAI   = "openai"
)

// KnownProviders is the lookup order used when no default is configured.
var KnownProviders = []string{
	ProviderQwen,
	ProviderQwenVL,
	ProviderGLM,
	ProviderDeepSeek,
	ProviderUITARS,
	ProviderOpenAI,
}

var defaultBaseURLs = map[string]string{
	ProviderQwen:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	ProviderQwenVL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
	ProviderGLM:      "https://open.bigmodel.cn/api/paas/v4",
	ProviderDeepSeek: "https://api.deepseek.com/v1",
	ProviderUITARS:   "https://ark.cn-beijing.volces.com/api/v3",
	ProviderOpenAI:   "", // library default
}

var defaultModels = map[string]string{
	ProviderQwen:     "qwen-max",
	ProviderQwenVL:   "qwen-vl-max",
	ProviderGLM:      "glm-4",
	ProviderDeepSeek: "deepseek-chat",
	ProviderUITARS:   "ui-tars-72b",
	ProviderOpenAI:   "gpt-4o-mini",
}

// ProviderSpec configures one provider. Zero BaseURL/Model fall back to the
// provider defaults above.
type ProviderSpec struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// RegistryConfig configures the registry.
type RegistryConfig struct {
	MockMode        bool
	DefaultProvider string
	Providers       []ProviderSpec
}

// Registry owns one client per configured provider and hands them out by
// name. Agents ask for a provider and silently fall back to the default when
// it is absent, so a partially configured key matrix still runs.
type Registry struct {
	clients     map[string]Client
	defaultName string
	logger      *slog.Logger
}

// NewRegistry builds clients for every configured provider. In mock mode a
// scripted mock backs every known provider name.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{
		clients: make(map[string]Client),
		logger:  slog.Default().With("component", "llm-registry"),
	}

	if cfg.MockMode {
		mock := NewMockClient()
		for _, name := range KnownProviders {
			r.clients[name] = mock
		}
		r.defaultName = firstConfigured(cfg.DefaultProvider, KnownProviders, r.clients)
		r.logger.Warn("Model mock mode enabled; no provider will be called")
		return r, nil
	}

	for _, spec := range cfg.Providers {
		if spec.APIKey == "" {
			continue
		}
		if spec.BaseURL == "" {
			spec.BaseURL = defaultBaseURLs[spec.Name]
		}
		if spec.Model == "" {
			spec.Model = defaultModels[spec.Name]
		}
		r.clients[spec.Name] = NewOpenAIClient(spec.Name, spec.APIKey, spec.BaseURL, spec.Model)
		r.logger.Info("Model provider configured", "provider", spec.Name, "model", spec.Model)
	}

	if len(r.clients) == 0 {
		return nil, errors.New("llm: no provider configured (set an API key or enable mock mode)")
	}
	r.defaultName = firstConfigured(cfg.DefaultProvider, KnownProviders, r.clients)
	return r, nil
}

func firstConfigured(preferred string, order []string, clients map[string]Client) string {
	if preferred != "" {
		if _, ok := clients[preferred]; ok {
			return preferred
		}
	}
	for _, name := range order {
		if _, ok := clients[name]; ok {
			return name
		}
	}
	return ""
}

// NewMockRegistry wires one client behind every known provider name. Tests
// use it to script responses; production mock mode goes through NewRegistry.
func NewMockRegistry(client Client) *Registry {
	r := &Registry{
		clients: make(map[string]Client, len(KnownProviders)),
		logger:  slog.Default().With("component", "llm-registry"),
	}
	for _, name := range KnownProviders {
		r.clients[name] = client
	}
	r.defaultName = KnownProviders[0]
	return r
}

// ClientFor returns the client for a provider name, falling back to the
// default for empty or unknown names.
func (r *Registry) ClientFor(name string) Client {
	if name == "" {
		return r.clients[r.defaultName]
	}
	if c, ok := r.clients[name]; ok {
		return c
	}
	r.logger.Warn("Unknown model provider, using default", "provider", name, "default", r.defaultName)
	return r.clients[r.defaultName]
}

// Default returns the default provider client.
func (r *Registry) Default() Client { return r.clients[r.defaultName] }

// DefaultName returns the default provider name.
func (r *Registry) DefaultName() string { return r.defaultName }

// Providers lists configured provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every client.
func (r *Registry) Close() error {
	var errs []error
	closed := make(map[Client]bool)
	for name, c := range r.clients {
		if closed[c] {
			continue
		}
		closed[c] = true
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
