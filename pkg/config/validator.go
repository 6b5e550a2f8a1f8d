package config

import (
	"errors"
	"fmt"
)

// Validator checks a loaded configuration for internal consistency.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every section check and returns the joined failures.
func (v *Validator) ValidateAll() error {
	return errors.Join(
		v.validateServer(),
		v.validateDatabase(),
		v.validatePipeline(),
		v.validateExecutor(),
		v.validateSandbox(),
		v.validateLLM(),
		v.validateRetention(),
		v.validateDocs(),
	)
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "port",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.Port))
	}
	return nil
}

func (v *Validator) validateDatabase() error {
	d := v.cfg.Database
	if !d.Enabled || d.URL != "" {
		return nil
	}
	var errs []error
	if d.Host == "" {
		errs = append(errs, NewValidationError("database", "host", ErrMissingRequiredField))
	}
	if d.User == "" {
		errs = append(errs, NewValidationError("database", "user", ErrMissingRequiredField))
	}
	if d.Name == "" {
		errs = append(errs, NewValidationError("database", "name", ErrMissingRequiredField))
	}
	return errors.Join(errs...)
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	var errs []error
	if p.MailboxSize < 1 {
		errs = append(errs, NewValidationError("pipeline", "mailbox_size",
			fmt.Errorf("%w: %d", ErrInvalidValue, p.MailboxSize)))
	}
	if p.FlushInterval <= 0 {
		errs = append(errs, NewValidationError("pipeline", "flush_interval",
			fmt.Errorf("%w: %s", ErrInvalidValue, p.FlushInterval)))
	}
	if p.LLMTimeout <= 0 {
		errs = append(errs, NewValidationError("pipeline", "llm_timeout",
			fmt.Errorf("%w: %s", ErrInvalidValue, p.LLMTimeout)))
	}
	if p.RAGTimeout <= 0 {
		errs = append(errs, NewValidationError("pipeline", "rag_timeout",
			fmt.Errorf("%w: %s", ErrInvalidValue, p.RAGTimeout)))
	}
	return errors.Join(errs...)
}

func (v *Validator) validateExecutor() error {
	e := v.cfg.Executor
	var errs []error
	if e.TimeoutSeconds < 1 {
		errs = append(errs, NewValidationError("executor", "timeout_seconds",
			fmt.Errorf("%w: %d", ErrInvalidValue, e.TimeoutSeconds)))
	}
	if len(e.Runner) == 0 {
		errs = append(errs, NewValidationError("executor", "runner", ErrMissingRequiredField))
	}
	return errors.Join(errs...)
}

func (v *Validator) validateSandbox() error {
	s := v.cfg.Sandbox
	var errs []error
	if s.MaxConcurrency < 1 {
		errs = append(errs, NewValidationError("sandbox", "max_concurrency",
			fmt.Errorf("%w: %d", ErrInvalidValue, s.MaxConcurrency)))
	}
	if s.GridCols < 1 || s.GridRows < 1 {
		errs = append(errs, NewValidationError("sandbox", "grid",
			fmt.Errorf("%w: %dx%d", ErrInvalidValue, s.GridCols, s.GridRows)))
	}
	if s.TileIndex < -1 || s.TileIndex >= s.GridCols*s.GridRows {
		errs = append(errs, NewValidationError("sandbox", "tile_index",
			fmt.Errorf("%w: %d (grid holds %d tiles)", ErrInvalidValue, s.TileIndex, s.GridCols*s.GridRows)))
	}
	return errors.Join(errs...)
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	var errs []error
	if l.DefaultProvider == "" {
		errs = append(errs, NewValidationError("llm", "default_provider", ErrMissingRequiredField))
	} else if _, ok := l.Providers[l.DefaultProvider]; !ok {
		errs = append(errs, NewValidationError("llm", "default_provider",
			fmt.Errorf("%w: %s", ErrProviderNotFound, l.DefaultProvider)))
	}
	for agentType, provider := range l.AgentProviders {
		if _, ok := l.Providers[provider]; !ok {
			errs = append(errs, NewValidationError("llm", "agent_providers."+agentType,
				fmt.Errorf("%w: %s", ErrProviderNotFound, provider)))
		}
	}
	return errors.Join(errs...)
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	var errs []error
	if r.SessionRetentionDays < 1 {
		errs = append(errs, NewValidationError("retention", "session_retention_days",
			fmt.Errorf("%w: %d", ErrInvalidValue, r.SessionRetentionDays)))
	}
	if r.ReportRetentionDays < 1 {
		errs = append(errs, NewValidationError("retention", "report_retention_days",
			fmt.Errorf("%w: %d", ErrInvalidValue, r.ReportRetentionDays)))
	}
	if r.CleanupInterval <= 0 {
		errs = append(errs, NewValidationError("retention", "cleanup_interval",
			fmt.Errorf("%w: %s", ErrInvalidValue, r.CleanupInterval)))
	}
	return errors.Join(errs...)
}

func (v *Validator) validateDocs() error {
	d := v.cfg.Docs
	var errs []error
	if d.CacheTTL <= 0 {
		errs = append(errs, NewValidationError("docs", "cache_ttl",
			fmt.Errorf("%w: %s", ErrInvalidValue, d.CacheTTL)))
	}
	if d.MaxSizeBytes < 1 {
		errs = append(errs, NewValidationError("docs", "max_size_bytes",
			fmt.Errorf("%w: %d", ErrInvalidValue, d.MaxSizeBytes)))
	}
	return errors.Join(errs...)
}
