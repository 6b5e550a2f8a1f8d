package uirunner

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/config"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/sandbox"
)

type fakeSession struct {
	page   *fakePage
	closed bool
}

func (s *fakeSession) driver() pageDriver { return s.page }
func (s *fakeSession) close()             { s.closed = true }

// newTestRunner wires a Runner over a headless sandbox (no controller) with
// the browser session stubbed out.
func newTestRunner(t *testing.T, page *fakePage) (*Runner, *fakeSession) {
	t.Helper()
	manager, err := sandbox.NewManager(config.DefaultSandboxConfig(), nil, t.TempDir())
	require.NoError(t, err)

	sess := &fakeSession{page: page}
	r := NewRunner(manager, t.TempDir(), 0)
	r.open = func(wsEndpoint string, width, height int) (pageSession, error) {
		assert.Empty(t, wsEndpoint, "headless fallback has no CDP endpoint")
		return sess, nil
	}
	return r, sess
}

func TestRunner_Run(t *testing.T) {
	page := &fakePage{text: map[string]string{"h1": "Dashboard"}}
	r, sess := newTestRunner(t, page)

	report, err := r.Run(context.Background(), &agent.BrowserRunRequest{
		SessionID:   "sess-1",
		ExecutionID: "exec-1",
		Script: models.UIScript{
			Name: "smoke",
			Steps: []models.UIStep{
				{Navigate: "https://example.com"},
				{AssertText: "Dashboard", Selector: "h1"},
			},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Passed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 1.0, report.SuccessRate)
	assert.Equal(t, "steps", report.ParsedFrom)
	assert.True(t, sess.closed, "browser session must be closed")

	// The report file was written and harvested as an artifact.
	require.NotEmpty(t, report.ReportPath)
	data, err := os.ReadFile(report.ReportPath)
	require.NoError(t, err)
	var onDisk models.TestReport
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "exec-1", onDisk.ExecutionID)
	assert.Contains(t, report.Artifacts, report.ReportPath)
}

func TestRunner_Run_StepFailureIsNotAnError(t *testing.T) {
	page := &fakePage{failOn: "click"}
	r, _ := newTestRunner(t, page)

	report, err := r.Run(context.Background(), &agent.BrowserRunRequest{
		SessionID:   "sess-1",
		ExecutionID: "exec-2",
		Script: models.UIScript{
			Name: "failing",
			Steps: []models.UIStep{
				{Navigate: "https://example.com"},
				{Click: "#broken"},
				{Click: "#unreached"},
			},
		},
	})
	require.NoError(t, err, "a failing step is a test result, not a run error")
	require.NotNil(t, report)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.InDelta(t, 0.5, report.SuccessRate, 1e-9)
}

func TestRunner_Run_InvalidScript(t *testing.T) {
	r, _ := newTestRunner(t, &fakePage{})

	_, err := r.Run(context.Background(), &agent.BrowserRunRequest{
		SessionID:   "sess-1",
		ExecutionID: "exec-3",
		Script:      models.UIScript{Name: "no-steps"},
	})
	require.Error(t, err)
	assert.True(t, agent.IsClass(err, agent.ClassInputMalformed))
}

func TestRunner_Run_Timeout(t *testing.T) {
	r, _ := newTestRunner(t, &fakePage{})

	report, err := r.Run(context.Background(), &agent.BrowserRunRequest{
		SessionID:   "sess-1",
		ExecutionID: "exec-4",
		Script: models.UIScript{
			Name:  "slow",
			Steps: []models.UIStep{{SleepMS: 10_000}},
		},
		Config: models.ExecutionConfig{TimeoutSeconds: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution timeout")
	require.NotNil(t, report, "timeout still yields a report of what ran")
	assert.Equal(t, 1, report.Failed)
}

func TestRunner_Run_BaseURLFromConfig(t *testing.T) {
	page := &fakePage{}
	r, _ := newTestRunner(t, page)

	_, err := r.Run(context.Background(), &agent.BrowserRunRequest{
		SessionID:   "sess-1",
		ExecutionID: "exec-5",
		Script: models.UIScript{
			Name:  "relative",
			Steps: []models.UIStep{{Navigate: "/login"}},
		},
		Config: models.ExecutionConfig{BaseURL: "https://staging.example.com"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, page.actions)
	assert.Equal(t, "navigate https://staging.example.com/login", page.actions[0])
}

func TestRunner_Run_ReleasesLease(t *testing.T) {
	manager, err := sandbox.NewManager(config.DefaultSandboxConfig(), nil, t.TempDir())
	require.NoError(t, err)

	r := NewRunner(manager, t.TempDir(), 0)
	r.open = func(wsEndpoint string, width, height int) (pageSession, error) {
		return &fakeSession{page: &fakePage{}}, nil
	}

	for i := 0; i < 3; i++ {
		_, err := r.Run(context.Background(), &agent.BrowserRunRequest{
			SessionID:   "sess-1",
			ExecutionID: "exec-loop",
			Script: models.UIScript{
				Name:  "noop",
				Steps: []models.UIStep{{SleepMS: 1}},
			},
		})
		require.NoError(t, err)
	}

	deadline := time.Now().Add(time.Second)
	for manager.Stats().InFlight != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	stats := manager.Stats()
	assert.Equal(t, stats.Acquired, stats.Released)
	assert.Equal(t, int64(0), stats.InFlight)
}
