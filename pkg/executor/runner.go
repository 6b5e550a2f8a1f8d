package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/config"
	"github.com/testrig-ai/testrig/pkg/models"
)

// DefaultTimeout bounds one script run when neither config nor request set
// a budget.
const DefaultTimeout = 300 * time.Second

// RunError reports a failed script run with enough detail for the owning
// agent to fill its execution record.
type RunError struct {
	ReturnCode int
	Timeout    bool
	Err        error
}

func (e *RunError) Error() string {
	if e.Timeout {
		return "execution timeout"
	}
	return fmt.Sprintf("execution failed with return code %d: %v", e.ReturnCode, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner executes generated API test scripts as subprocesses. It implements
// the agent ScriptRunner contract; one Runner serves every execution.
type Runner struct {
	cfg       *config.ExecutorConfig
	workspace string
	logger    *slog.Logger

	pluginMu    sync.Mutex
	pluginKnown bool
	jsonPlugin  bool
}

// NewRunner resolves the workspace and returns a runner.
func NewRunner(cfg *config.ExecutorConfig) (*Runner, error) {
	if cfg == nil {
		cfg = config.DefaultExecutorConfig()
	}
	workspace, err := ResolveWorkspace(cfg.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:       cfg,
		workspace: workspace,
		logger:    slog.Default().With("component", "script-executor"),
	}
	r.logger.Info("Script executor ready", "workspace", workspace)
	return r, nil
}

// Workspace returns the resolved workspace root.
func (r *Runner) Workspace() string { return r.workspace }

// Run materializes and executes the request's scripts. A report is always
// returned, including on error, so callers never have to distinguish "no
// report" from "bad run" (timeouts and non-zero exits return both the report
// and a *RunError).
func (r *Runner) Run(ctx context.Context, req *agent.RunRequest) (*models.TestReport, error) {
	reportDir, err := ReportDir(r.workspace, req.SessionID)
	if err != nil {
		return emptyReport(req), err
	}

	paths, err := MaterializeScripts(r.workspace, models.ExecutionKindAPI, req.Scripts)
	if err != nil {
		return emptyReport(req), err
	}

	r.installDeps(ctx, req.Scripts, req.OnLine)

	args := r.buildCommand(ctx, paths, reportDir, req.Config)
	r.logger.Info("Launching test runner",
		"session_id", req.SessionID,
		"execution_id", req.ExecutionID,
		"command", strings.Join(args, " "))

	output, runErr := r.execute(ctx, args, reportDir, req)

	report := ParseResults(reportDir, output)
	report.SessionID = req.SessionID
	report.ExecutionID = req.ExecutionID
	report.Artifacts = HarvestArtifacts(reportDir)
	if _, err := os.Stat(filepath.Join(reportDir, junitFileName)); err == nil {
		report.ReportPath = filepath.Join(reportDir, junitFileName)
	}
	report.Finalize()

	return report, runErr
}

// buildCommand assembles the runner invocation: the configured runner, a
// verbose flag, each script path, the JUnit XML report (always), the JSON
// report only when its plugin is importable, and any extra args.
func (r *Runner) buildCommand(ctx context.Context, scriptPaths []string, reportDir string, cfg models.ExecutionConfig) []string {
	runner := cfg.Runner
	if len(runner) == 0 {
		runner = r.cfg.Runner
	}
	if len(runner) == 0 {
		runner = []string{"python", "-m", "pytest"}
	}

	args := make([]string, 0, len(runner)+len(scriptPaths)+6)
	args = append(args, runner...)
	args = append(args, "-v")
	args = append(args, scriptPaths...)
	args = append(args, "--junitxml="+filepath.Join(reportDir, junitFileName))
	if r.hasJSONReportPlugin(ctx, runner) {
		args = append(args,
			"--json-report",
			"--json-report-file="+filepath.Join(reportDir, jsonReportFileName))
	}
	args = append(args, r.cfg.RunnerArgs...)
	return args
}

// hasJSONReportPlugin probes once whether pytest-json-report is importable
// by the runner's interpreter. A missing plugin must never fail execution;
// its flags are simply omitted.
func (r *Runner) hasJSONReportPlugin(ctx context.Context, runner []string) bool {
	r.pluginMu.Lock()
	defer r.pluginMu.Unlock()
	if r.pluginKnown {
		return r.jsonPlugin
	}
	r.pluginKnown = true

	// Only python-based runners can carry pytest plugins.
	if len(runner) == 0 || !strings.Contains(filepath.Base(runner[0]), "python") {
		return false
	}
	probe := exec.CommandContext(ctx, runner[0], "-c", "import pytest_jsonreport")
	probe.Dir = r.workspace
	r.jsonPlugin = probe.Run() == nil
	r.logger.Debug("JSON report plugin probe", "available", r.jsonPlugin)
	return r.jsonPlugin
}

// installDeps folds the scripts' declared runtime dependencies into the
// workspace requirements file and installs it. Best-effort: failures are
// logged and streamed but never abort the run.
func (r *Runner) installDeps(ctx context.Context, scripts []models.TestScript, onLine func(stream, line string)) {
	if !r.cfg.InstallDeps {
		return
	}
	present, err := MaterializeRequirements(r.workspace, scripts)
	if err != nil {
		r.logger.Warn("Requirements materialization failed; continuing", "error", err)
		if onLine != nil {
			onLine("stderr", fmt.Sprintf("requirements materialization failed: %v", err))
		}
	}
	if !present {
		return
	}
	reqFile := filepath.Join(r.workspace, "requirements.txt")

	cmd := exec.CommandContext(ctx, "python", "-m", "pip", "install", "-r", reqFile)
	cmd.Dir = r.workspace
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.logger.Warn("Dependency install failed; continuing", "error", err)
		if onLine != nil {
			onLine("stderr", fmt.Sprintf("dependency install failed: %v", err))
		}
		return
	}
	r.logger.Debug("Dependencies installed", "output_bytes", len(out))
}

// execute launches the runner subprocess, pumps stdout/stderr line by line,
// and enforces the wall-clock timeout by killing the process tree.
func (r *Runner) execute(ctx context.Context, args []string, reportDir string, req *agent.RunRequest) (string, error) {
	timeout := DefaultTimeout
	if r.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(r.cfg.TimeoutSeconds) * time.Second
	}
	if req.Config.TimeoutSeconds > 0 {
		timeout = time.Duration(req.Config.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Dir = r.workspace
	cmd.Env = buildEnv(req)
	cmd.WaitDelay = 5 * time.Second
	setProcAttrs(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start runner: %w", err)
	}

	var captured strings.Builder
	var capturedMu sync.Mutex
	pump := func(stream string, pipe io.Reader) error {
		scanner := bufio.NewScanner(pipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			// Undecodable bytes are replaced, never dropped or fatal.
			line := strings.ToValidUTF8(scanner.Text(), "�")
			if strings.TrimSpace(line) == "" {
				continue
			}
			capturedMu.Lock()
			captured.WriteString(line)
			captured.WriteByte('\n')
			capturedMu.Unlock()
			if req.OnLine != nil {
				req.OnLine(stream, line)
			}
		}
		return scanner.Err()
	}

	var g errgroup.Group
	g.Go(func() error { return pump("stdout", stdout) })
	g.Go(func() error { return pump("stderr", stderr) })
	if pumpErr := g.Wait(); pumpErr != nil {
		r.logger.Warn("Output pump error", "error", pumpErr)
	}

	waitErr := cmd.Wait()
	output := captured.String()

	if waitErr == nil {
		return output, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return output, &RunError{ReturnCode: -1, Timeout: true, Err: waitErr}
	}
	if errors.Is(runCtx.Err(), context.Canceled) {
		return output, runCtx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return output, &RunError{ReturnCode: exitErr.ExitCode(), Err: waitErr}
	}
	return output, &RunError{ReturnCode: -1, Err: waitErr}
}

// buildEnv merges the parent environment with execution-config vars, forced
// UTF-8 I/O, the target base URL and the batch correlation id.
func buildEnv(req *agent.RunRequest) []string {
	env := os.Environ()
	env = append(env, "PYTHONIOENCODING=utf-8", "PYTHONUNBUFFERED=1")
	if req.Config.BaseURL != "" {
		env = append(env, "BASE_URL="+req.Config.BaseURL)
	}
	if req.Config.BatchID != "" {
		env = append(env, "EXECUTION_BATCH_ID="+req.Config.BatchID)
	}
	for k, v := range req.Config.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

func emptyReport(req *agent.RunRequest) *models.TestReport {
	report := &models.TestReport{
		SessionID:   req.SessionID,
		ExecutionID: req.ExecutionID,
		ParsedFrom:  "none",
	}
	report.Finalize()
	return report
}
