package config

import "time"

// DocsConfig controls fetching of documents referenced by URL.
type DocsConfig struct {
	// CacheTTL bounds how long a fetched document is reused.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// AllowedDomains restricts which hosts documents may be fetched from.
	AllowedDomains []string `yaml:"allowed_domains"`

	// MaxSizeBytes caps a fetched document's size.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// DefaultDocsConfig returns the built-in document fetch defaults.
func DefaultDocsConfig() *DocsConfig {
	return &DocsConfig{
		CacheTTL:       time.Minute,
		AllowedDomains: []string{"github.com", "raw.githubusercontent.com"},
		MaxSizeBytes:   10 << 20,
	}
}
