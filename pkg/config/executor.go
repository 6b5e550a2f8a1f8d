package config

// ExecutorConfig holds script execution settings.
type ExecutorConfig struct {
	// WorkspaceDir is where scripts are materialized and reports written.
	// PLAYWRIGHT_WORKSPACE overrides it; when both are empty the executor
	// probes ./examples and falls back to a temp directory.
	WorkspaceDir string `yaml:"workspace_dir"`

	// TimeoutSeconds is the wall-clock budget for one script run.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Runner is the command prefix invoking the test runner, e.g.
	// ["python", "-m", "pytest"]. The script path and report flags are
	// appended per run.
	Runner []string `yaml:"runner"`

	// InstallDeps enables the best-effort dependency install before a run.
	InstallDeps bool `yaml:"install_deps"`

	// RunnerArgs are extra arguments appended to every runner invocation.
	RunnerArgs []string `yaml:"runner_args"`
}

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		TimeoutSeconds: 300,
		Runner:         []string{"python", "-m", "pytest"},
	}
}
