package config

import "time"

// RetentionConfig controls data retention and cleanup behavior.
type RetentionConfig struct {
	// SessionRetentionDays is how many days terminal pipeline sessions and
	// their execution records are kept.
	SessionRetentionDays int `yaml:"session_retention_days"`

	// ReportRetentionDays is how many days report directories stay on disk.
	ReportRetentionDays int `yaml:"report_retention_days"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionRetentionDays: 90,
		ReportRetentionDays:  30,
		CleanupInterval:      12 * time.Hour,
	}
}
