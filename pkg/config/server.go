package config

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AllowedWSOrigins extends the default same-host WebSocket origin check.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`

	// DashboardURL is the UI base URL used in notification links.
	DashboardURL string `yaml:"dashboard_url"`
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8000,
		DashboardURL: "http://localhost:5173",
	}
}
