package uirunner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/executor"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/sandbox"
)

const (
	defaultRunTimeout = 300 * time.Second
	reportFileName    = "ui_report.json"

	// Headless fallback viewport when no tiled window provides a size.
	fallbackViewportWidth  = 1280
	fallbackViewportHeight = 720
)

// pageSession is one open browser page plus its teardown. Production sessions
// come from Playwright; tests inject fakes.
type pageSession interface {
	driver() pageDriver
	close()
}

func (s *browserSession) driver() pageDriver { return &playwrightPage{page: s.page} }

// Runner executes UI scripts in sandboxed browsers. It acquires a browser
// lease per execution, drives the script step by step, and writes a per-step
// report under the session's report directory.
type Runner struct {
	sandbox   *sandbox.Manager
	workspace string
	timeout   time.Duration
	logger    *slog.Logger

	// open is swapped out in tests to avoid a real browser.
	open func(wsEndpoint string, width, height int) (pageSession, error)
}

// NewRunner builds a UI runner on top of a sandbox manager. timeoutSeconds
// zero uses the built-in default.
func NewRunner(manager *sandbox.Manager, workspace string, timeoutSeconds int) *Runner {
	timeout := defaultRunTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &Runner{
		sandbox:   manager,
		workspace: workspace,
		timeout:   timeout,
		logger:    slog.Default().With("component", "ui-runner"),
		open: func(wsEndpoint string, width, height int) (pageSession, error) {
			return openSession(wsEndpoint, width, height)
		},
	}
}

// Run executes one UI script. A report is returned on every path that got as
// far as running steps, including timeouts; the error then carries why the
// run ended early. Failed steps are test results, not errors.
func (r *Runner) Run(ctx context.Context, req *agent.BrowserRunRequest) (*models.TestReport, error) {
	if err := ValidateScript(&req.Script); err != nil {
		return nil, agent.NewError(agent.ClassInputMalformed, err)
	}

	reportDir, err := executor.ReportDir(r.workspace, req.SessionID)
	if err != nil {
		return nil, err
	}

	timeout := r.timeout
	if req.Config.TimeoutSeconds > 0 {
		timeout = time.Duration(req.Config.TimeoutSeconds) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lease, err := r.sandbox.Acquire(runCtx, req.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("acquire browser: %w", err)
	}
	defer lease.Release(ctx)

	width, height := viewportFor(&lease.Profile)
	sess, err := r.open(lease.Profile.WSEndpoint, width, height)
	if err != nil {
		return nil, agent.NewError(agent.ClassTransient, fmt.Errorf("open browser session: %w", err))
	}
	defer sess.close()

	script := req.Script
	if script.BaseURL == "" {
		script.BaseURL = req.Config.BaseURL
	}

	r.logger.Info("UI execution starting",
		"execution_id", req.ExecutionID,
		"script", script.Name,
		"steps", len(script.Steps),
		"headless", lease.Profile.Headless)

	start := time.Now()
	results := runSteps(runCtx, sess.driver(), &script, reportDir, req.OnLine)

	report := &models.TestReport{
		ExecutionID: req.ExecutionID,
		SessionID:   req.SessionID,
		Total:       len(results),
		Cases:       results,
		Duration:    time.Since(start).Seconds(),
		ParsedFrom:  "steps",
		ReportPath:  filepath.Join(reportDir, reportFileName),
	}
	for _, c := range results {
		switch c.Outcome {
		case "passed":
			report.Passed++
		case "failed":
			report.Failed++
		}
	}
	report.Finalize()

	r.writeReport(report)
	report.Artifacts = executor.HarvestArtifacts(reportDir)

	if err := runCtx.Err(); errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return report, agent.Errorf(agent.ClassTransient, "execution timeout after %s", timeout)
	}
	return report, ctx.Err()
}

// writeReport persists the step report next to the screenshots. Failing to
// write it is logged, not fatal: the in-memory report is authoritative.
func (r *Runner) writeReport(report *models.TestReport) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = os.WriteFile(report.ReportPath, data, 0o644)
	}
	if err != nil {
		r.logger.Warn("UI report write failed", "path", report.ReportPath, "error", err)
		report.ReportPath = ""
	}
}

// viewportFor derives the page viewport from the lease's tile bounds.
func viewportFor(profile *models.BrowserProfile) (int, int) {
	if profile.Bounds.Width > 0 && profile.Bounds.Height > 0 {
		return profile.Bounds.Width, profile.Bounds.Height
	}
	return fallbackViewportWidth, fallbackViewportHeight
}
