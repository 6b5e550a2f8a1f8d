package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
)

// ProviderConfig defines one model provider. API keys are referenced by
// environment variable name, never stored in YAML.
type ProviderConfig struct {
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Model     string `yaml:"model,omitempty"`
}

// LLMConfig holds model client settings.
type LLMConfig struct {
	// MockMode swaps every provider for a scripted mock. Auto-enabled with
	// a warning when no provider key resolves.
	MockMode bool `yaml:"mock_mode"`

	// DefaultProvider is used by agents without an explicit assignment.
	DefaultProvider string `yaml:"default_provider"`

	// Providers merges over the built-in provider set; partial entries
	// inherit the built-in fields they omit.
	Providers map[string]ProviderConfig `yaml:"providers"`

	// AgentProviders assigns a provider per agent type, e.g.
	// doc_parser: deepseek.
	AgentProviders map[string]string `yaml:"agent_providers"`
}

// builtinProviders is the provider set known out of the box. BaseURL and
// Model fall back to the client layer's per-provider defaults when empty.
func builtinProviders() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"qwen":     {APIKeyEnv: "QWEN_API_KEY"},
		"qwen_vl":  {APIKeyEnv: "QWEN_VL_API_KEY"},
		"glm":      {APIKeyEnv: "GLM_API_KEY"},
		"deepseek": {APIKeyEnv: "DEEPSEEK_API_KEY"},
		"ui_tars":  {APIKeyEnv: "UI_TARS_API_KEY"},
		"openai":   {APIKeyEnv: "OPENAI_API_KEY"},
	}
}

// DefaultLLMConfig returns the built-in model defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		DefaultProvider: "qwen",
		Providers:       builtinProviders(),
	}
}

// mergeProviders folds user-defined providers over the built-in set. A
// partial user entry inherits the built-in fields it leaves empty.
func mergeProviders(user map[string]ProviderConfig) (map[string]ProviderConfig, error) {
	result := builtinProviders()
	for name, spec := range user {
		if base, ok := result[name]; ok {
			if err := mergo.Merge(&spec, base); err != nil {
				return nil, fmt.Errorf("merge provider %s: %w", name, err)
			}
		}
		result[name] = spec
	}
	return result, nil
}

// ResolvedProvider is a provider with its API key read from the environment.
type ResolvedProvider struct {
	Name    string
	APIKey  string
	BaseURL string
	Model   string
}

// ResolveProviders reads every provider's key from its environment variable.
// Providers without a key are returned with APIKey empty; the client layer
// skips them.
func (l *LLMConfig) ResolveProviders() []ResolvedProvider {
	out := make([]ResolvedProvider, 0, len(l.Providers))
	for name, spec := range l.Providers {
		key := ""
		if spec.APIKeyEnv != "" {
			key = os.Getenv(spec.APIKeyEnv)
		}
		out = append(out, ResolvedProvider{
			Name:    name,
			APIKey:  key,
			BaseURL: spec.BaseURL,
			Model:   spec.Model,
		})
	}
	return out
}

// HasAnyKey reports whether at least one provider key resolves.
func (l *LLMConfig) HasAnyKey() bool {
	for _, p := range l.ResolveProviders() {
		if p.APIKey != "" {
			return true
		}
	}
	return false
}
