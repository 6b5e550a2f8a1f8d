package uirunner

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/testrig-ai/testrig/pkg/models"
)

// pageDriver is the slice of a browser page the step executor needs.
// Production wraps a Playwright page; tests substitute a fake.
type pageDriver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	WaitFor(ctx context.Context, selector string) error
	TextContent(ctx context.Context, selector string) (string, error)
	Screenshot(ctx context.Context, path string) error
}

// runSteps executes every script step in order, recording one CaseResult
// per step. A failing step stops execution: later steps usually depend on
// the page state the failed step was meant to produce.
func runSteps(ctx context.Context, page pageDriver, script *models.UIScript, reportDir string, onLine func(stream, line string)) []models.CaseResult {
	results := make([]models.CaseResult, 0, len(script.Steps))
	emit := func(line string) {
		if onLine != nil {
			onLine("stdout", line)
		}
	}

	for i := range script.Steps {
		step := &script.Steps[i]
		name := stepName(step, i)
		emit(fmt.Sprintf("step %d/%d: %s", i+1, len(script.Steps), name))

		start := time.Now()
		err := runStep(ctx, page, step, script, reportDir)
		result := models.CaseResult{
			Name:       name,
			DurationMS: float64(time.Since(start).Microseconds()) / 1000,
			Outcome:    "passed",
		}
		if err != nil {
			result.Outcome = "failed"
			result.Message = err.Error()
			emit(fmt.Sprintf("step %s failed: %v", name, err))
			results = append(results, result)
			break
		}
		results = append(results, result)
	}
	return results
}

func runStep(ctx context.Context, page pageDriver, step *models.UIStep, script *models.UIScript, reportDir string) error {
	switch {
	case step.Navigate != "":
		return page.Navigate(ctx, resolveURL(script.BaseURL, step.Navigate))
	case step.Click != "":
		return page.Click(ctx, step.Click)
	case step.Fill != "":
		return page.Fill(ctx, step.Fill, step.Value)
	case step.WaitFor != "":
		return page.WaitFor(ctx, step.WaitFor)
	case step.AssertText != "":
		text, err := page.TextContent(ctx, step.Selector)
		if err != nil {
			return err
		}
		if !strings.Contains(text, step.AssertText) {
			return fmt.Errorf("text assertion failed: %q not found in %q", step.AssertText, truncate(text, 200))
		}
		return nil
	case step.Screenshot != "":
		return page.Screenshot(ctx, filepath.Join(reportDir, filepath.Base(step.Screenshot)))
	case step.SleepMS > 0:
		timer := time.NewTimer(time.Duration(step.SleepMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("step has no action")
}

// resolveURL joins a relative navigation target with the script base URL.
func resolveURL(baseURL, target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") || baseURL == "" {
		return target
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(target, "/")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
