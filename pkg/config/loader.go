package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Initialize loads, merges and validates configuration. The primary entry
// point: defaults first, then the YAML file (optional), then the environment
// contract on top.
//
// Steps performed:
//  1. Start from built-in defaults
//  2. Load testrig.yaml when a path is given
//  3. Expand {{.VAR}} environment templates in the file
//  4. Fold user-defined providers over the built-in set
//  5. Apply environment variable overrides
//  6. Auto-enable mock mode when no provider key resolves
//  7. Validate everything
func Initialize(ctx context.Context, path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if !cfg.LLM.MockMode && !cfg.LLM.HasAnyKey() {
		cfg.LLM.MockMode = true
		log.Warn("No model provider key resolved; enabling mock mode")
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"providers", stats.Providers,
		"agent_providers", stats.AgentProviders,
		"mock_mode", stats.MockMode,
		"sandbox", stats.SandboxEnabled,
		"database", stats.DBEnabled)
	return cfg, nil
}

func load(_ context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.configPath = path

	if path != "" {
		// Clear the provider map so only user entries land in it; they are
		// folded over the built-in set below.
		cfg.LLM.Providers = nil

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, NewLoadError(path, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
			}
			return nil, NewLoadError(path, err)
		}
		data = ExpandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}

		merged, err := mergeProviders(cfg.LLM.Providers)
		if err != nil {
			return nil, NewLoadError(path, err)
		}
		cfg.LLM.Providers = merged
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// applyEnvOverrides maps the environment contract onto the configuration.
// Environment values win over YAML.
func applyEnvOverrides(cfg *Config) {
	envStr("PLAYWRIGHT_WORKSPACE", func(v string) { cfg.Executor.WorkspaceDir = v })

	// EXECUTION_BATCH_ID wins over the legacy BATCH_ID name.
	envStr("BATCH_ID", func(v string) { cfg.Sandbox.BatchID = v })
	envStr("EXECUTION_BATCH_ID", func(v string) { cfg.Sandbox.BatchID = v })

	envBool("FORCE_ADSPOWER_ONLY", func(v bool) { cfg.Sandbox.ForceSandboxOnly = v })
	envStr("ADSP_BASE_URL", func(v string) { cfg.Sandbox.BaseURL = v })
	envStr("ADSP_TOKEN", func(v string) { cfg.Sandbox.Token = v })
	envInt("ADSP_MAX_CONCURRENCY", func(v int) { cfg.Sandbox.MaxConcurrency = v })
	envBool("ADSP_DELETE_PROFILE_ON_EXIT", func(v bool) { cfg.Sandbox.DeleteProfileOnExit = v })
	envInt("ADSP_GRID_COLS", func(v int) { cfg.Sandbox.GridCols = v })
	envInt("ADSP_GRID_ROWS", func(v int) { cfg.Sandbox.GridRows = v })
	envInt("ADSP_TILE_INDEX", func(v int) { cfg.Sandbox.TileIndex = v })
	envStr("ADSP_SCREEN_RES", func(v string) { cfg.Sandbox.ScreenRes = v })
	envInt("ADSP_RATE_LIMIT_DELAY_MS", func(v int) {
		cfg.Sandbox.RateLimitDelay = time.Duration(v) * time.Millisecond
	})

	envBool("AI_MOCK_MODE", func(v bool) { cfg.LLM.MockMode = v })

	envStr("DATABASE_URL", func(v string) {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	})
	envInt("PORT", func(v int) { cfg.Server.Port = v })
}

func envStr(key string, apply func(string)) {
	if v := os.Getenv(key); v != "" {
		apply(v)
	}
}

func envInt(key string, apply func(int)) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer environment value", "key", key, "value", v)
		return
	}
	apply(n)
}

func envBool(key string, apply func(bool)) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("Ignoring non-boolean environment value", "key", key, "value", v)
		return
	}
	apply(b)
}
