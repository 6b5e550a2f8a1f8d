package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/executor"
	"github.com/testrig-ai/testrig/pkg/models"
)

// fakeRunner is a ScriptRunner double that emits canned lines and a canned
// report.
type fakeRunner struct {
	requests []*agent.RunRequest
	lines    []string
	report   *models.TestReport
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, run *agent.RunRequest) (*models.TestReport, error) {
	f.requests = append(f.requests, run)
	for _, line := range f.lines {
		if run.OnLine != nil {
			run.OnLine("stdout", line)
		}
	}
	report := f.report
	if report == nil {
		report = &models.TestReport{ExecutionID: run.ExecutionID, Total: 2, Passed: 2}
		report.Finalize()
	}
	return report, f.err
}

func TestExecutor_RunsScriptsAndFinishes(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicPersistence, models.TopicLogRecording, models.TopicStreamCollection)
	runner := &fakeRunner{lines: []string{"collected 2 items", "2 passed in 0.41s"}}
	r.deps.Runner = runner

	a := NewExecutor(r.deps)
	mc := r.mc()
	err := a.Handle(context.Background(), msgFor(models.TopicScriptExecution, mc, &models.ExecutionInput{
		ExecutionID: "exec-1",
		Kind:        models.ExecutionKindAPI,
		Scripts:     []models.TestScript{{ScriptID: "s1", Name: "test_users.py", Content: "def test_x(): pass"}},
		Config:      models.ExecutionConfig{BaseURL: "https://api.example.com"},
	}))
	require.NoError(t, err)

	// Record went pending -> running -> completed and is persisted.
	record := r.store.execution("exec-1")
	require.NotNil(t, record)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.NotNil(t, record.StartedAt)
	assert.NotNil(t, record.FinishedAt)

	// Output lines became log records.
	logMsg := r.waitMsg(models.TopicLogRecording).Payload.(*models.LogRecord)
	assert.Equal(t, "collected 2 items", logMsg.Line)
	assert.Equal(t, "exec-1", logMsg.ExecutionID)

	out := r.waitMsg(models.TopicPersistence).Payload.(*models.ExecutionOutput)
	assert.Equal(t, models.ExecutionStatusCompleted, out.Status)
	require.NotNil(t, out.Report)

	final := r.waitFinal()
	assert.Empty(t, final.Error)
	assert.EqualValues(t, 2, final.Result["passed"])

	s, _ := r.tracker.Get(mc.SessionID)
	assert.Equal(t, models.SessionStatusCompleted, s.Status)
	assert.Equal(t, "exec-1", s.ExecutionID)
}

func TestExecutor_LoadsScriptsFromStore(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicPersistence, models.TopicStreamCollection)
	runner := &fakeRunner{}
	r.deps.Runner = runner
	r.store.scripts["s1"] = models.TestScript{ScriptID: "s1", Name: "test_users.py", Content: "def test_x(): pass"}

	a := NewExecutor(r.deps)
	err := a.Handle(context.Background(), msgFor(models.TopicScriptExecution, r.mc(), &models.ExecutionInput{
		ExecutionID: "exec-2",
		ScriptIDs:   []string{"s1"},
	}))
	require.NoError(t, err)
	require.Len(t, runner.requests, 1)
	require.Len(t, runner.requests[0].Scripts, 1)
	assert.Equal(t, "test_users.py", runner.requests[0].Scripts[0].Name)
}

func TestExecutor_RunFailureRecordsReturnCode(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicPersistence, models.TopicStreamCollection)
	failedReport := &models.TestReport{ExecutionID: "exec-3", Total: 2, Passed: 1, Failed: 1}
	failedReport.Finalize()
	r.deps.Runner = &fakeRunner{
		report: failedReport,
		err:    &executor.RunError{ReturnCode: 2, Err: assert.AnError},
	}

	a := NewExecutor(r.deps)
	mc := r.mc()
	err := a.Handle(context.Background(), msgFor(models.TopicScriptExecution, mc, &models.ExecutionInput{
		ExecutionID: "exec-3",
		Scripts:     []models.TestScript{{ScriptID: "s1", Name: "t.py", Content: "x"}},
	}))
	require.Error(t, err)

	record := r.store.execution("exec-3")
	require.NotNil(t, record)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	require.NotNil(t, record.ReturnCode)
	assert.Equal(t, 2, *record.ReturnCode)

	// The report is persisted even for the failed run.
	r.store.mu.Lock()
	saved := r.store.reports["exec-3"]
	r.store.mu.Unlock()
	require.NotNil(t, saved)

	final := r.waitFinal()
	assert.NotEmpty(t, final.Error)
	s, _ := r.tracker.Get(mc.SessionID)
	assert.Equal(t, models.SessionStatusFailed, s.Status)
}

func TestExecutor_NoScripts(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicStreamCollection)
	r.deps.Runner = &fakeRunner{}

	a := NewExecutor(r.deps)
	err := a.Handle(context.Background(), msgFor(models.TopicScriptExecution, r.mc(), &models.ExecutionInput{
		ExecutionID: "exec-4",
	}))
	require.Error(t, err)
	assert.True(t, agent.IsClass(err, agent.ClassInputMalformed))
}

func TestExecutor_MintsExecutionID(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicPersistence, models.TopicStreamCollection)
	runner := &fakeRunner{}
	r.deps.Runner = runner

	a := NewExecutor(r.deps)
	err := a.Handle(context.Background(), msgFor(models.TopicScriptExecution, r.mc(), &models.ExecutionInput{
		Scripts: []models.TestScript{{ScriptID: "s1", Name: "t.py", Content: "x"}},
	}))
	require.NoError(t, err)
	require.Len(t, runner.requests, 1)
	assert.NotEmpty(t, runner.requests[0].ExecutionID)
}
