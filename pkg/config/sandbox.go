package config

import "time"

// SandboxConfig holds browser sandbox controller settings. An empty BaseURL
// disables the controller; UI executions then run a plain headless browser
// unless ForceSandboxOnly demands the controller.
type SandboxConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	// MaxConcurrency caps concurrently held browser slots process-wide.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Grid tiling: windows are placed on a GridCols x GridRows grid.
	GridCols int `yaml:"grid_cols"`
	GridRows int `yaml:"grid_rows"`

	// TileIndex pins every window of this process to one tile. -1 leaves
	// tile assignment to the manager.
	TileIndex int `yaml:"tile_index"`

	// ScreenRes overrides the detected screen size, "1920x1080" or
	// "1920x1080@1.5" with a scale factor.
	ScreenRes string `yaml:"screen_res"`

	// RateLimitDelay spaces successive controller API calls.
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`

	// DeleteProfileOnExit removes the browser profile on teardown.
	DeleteProfileOnExit bool `yaml:"delete_profile_on_exit"`

	// ForceSandboxOnly fails UI executions when the controller is not
	// reachable instead of falling back to a local headless browser.
	ForceSandboxOnly bool `yaml:"force_sandbox_only"`

	// BatchID correlates profiles created by this process. Auto-generated
	// when empty.
	BatchID string `yaml:"batch_id"`
}

// DefaultSandboxConfig returns the built-in sandbox defaults.
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		MaxConcurrency:      15,
		GridCols:            5,
		GridRows:            2,
		TileIndex:           -1,
		RateLimitDelay:      300 * time.Millisecond,
		DeleteProfileOnExit: true,
	}
}
