// Package config loads, merges and validates the testrig.yaml configuration
// plus the environment contract the pipelines consume.
package config

// Config is the umbrella configuration returned by Initialize and threaded
// through the application.
type Config struct {
	configPath string // for reference in logs

	Server    *ServerConfig    `yaml:"server"`
	Database  *DatabaseConfig  `yaml:"database"`
	Pipeline  *PipelineConfig  `yaml:"pipeline"`
	Executor  *ExecutorConfig  `yaml:"executor"`
	Sandbox   *SandboxConfig   `yaml:"sandbox"`
	LLM       *LLMConfig       `yaml:"llm"`
	Slack     *SlackConfig     `yaml:"slack"`
	Retention *RetentionConfig `yaml:"retention"`
	Docs      *DocsConfig      `yaml:"docs"`
}

// DefaultConfig returns a fully populated configuration. Loading YAML on top
// of it overrides only the fields the file names.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Database:  DefaultDatabaseConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Executor:  DefaultExecutorConfig(),
		Sandbox:   DefaultSandboxConfig(),
		LLM:       DefaultLLMConfig(),
		Slack:     DefaultSlackConfig(),
		Retention: DefaultRetentionConfig(),
		Docs:      DefaultDocsConfig(),
	}
}

// ConfigPath returns the path the configuration was loaded from, or empty
// when running on pure defaults.
func (c *Config) ConfigPath() string { return c.configPath }

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	Providers      int
	AgentProviders int
	MockMode       bool
	SandboxEnabled bool
	DBEnabled      bool
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() Stats {
	return Stats{
		Providers:      len(c.LLM.Providers),
		AgentProviders: len(c.LLM.AgentProviders),
		MockMode:       c.LLM.MockMode,
		SandboxEnabled: c.Sandbox.BaseURL != "",
		DBEnabled:      c.Database.Enabled,
	}
}
