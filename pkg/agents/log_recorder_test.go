package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/models"
)

func logMsg(mc models.MessageContext, level models.LogLevel, line string) *models.Message {
	return msgFor(models.TopicLogRecording, mc, &models.LogRecord{
		Source: models.AgentExecutor,
		Level:  level,
		Line:   line,
		Stream: "stdout",
	})
}

func (s *memStore) executionLogs(executionID string) []models.LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LogRecord, len(s.logs[executionID]))
	copy(out, s.logs[executionID])
	return out
}

func TestLogRecorder_ErrorTriggersWindowAnalysis(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicStreamCollection)

	a := NewLogRecorder(r.deps)
	mc := r.mc()
	mc.ExecutionID = "exec-an1"

	require.NoError(t, a.Handle(context.Background(), logMsg(mc, models.LogLevelInfo, "GET /users -> 200 in 120 ms")))
	require.NoError(t, a.Handle(context.Background(), logMsg(mc, models.LogLevelInfo, "GET /users/1 -> 200 in 80 ms")))
	require.NoError(t, a.Handle(context.Background(), logMsg(mc, models.LogLevelError, "GET /users/2 -> 500 in 6200 ms")))

	chunk := r.waitMsg(models.TopicStreamCollection).Payload.(*models.StreamResponse)
	assert.Equal(t, models.AgentLogRecorder, chunk.Source)
	assert.Contains(t, chunk.Content, "Log analysis for exec-an1")
	assert.Contains(t, chunk.Content, "3 line(s), 1 error(s)")
	assert.Contains(t, chunk.Content, "p95")
	assert.Contains(t, chunk.Content, "slow_responses")

	logs := r.store.executionLogs("exec-an1")
	require.Len(t, logs, 4, "three lines plus the analysis record")
	analysis := logs[3]
	assert.Equal(t, "analysis", analysis.Stream)
	assert.Equal(t, models.LogLevelWarn, analysis.Level, "a matched alert raises the record level")
	assert.Contains(t, analysis.Line, `"error_rate"`)
	assert.Contains(t, analysis.Line, "slow_responses")

	assert.Empty(t, r.mock.Requests(), "no narrative without a provider assignment")
}

func TestLogRecorder_WindowThresholdTriggersAnalysis(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicStreamCollection)

	a := NewLogRecorder(r.deps)
	mc := r.mc()
	mc.ExecutionID = "exec-an2"

	for i := 0; i < logWindowSize; i++ {
		require.NoError(t, a.Handle(context.Background(),
			logMsg(mc, models.LogLevelInfo, fmt.Sprintf("PASSED test_users.py::test_case_%d", i))))
	}

	chunk := r.waitMsg(models.TopicStreamCollection).Payload.(*models.StreamResponse)
	assert.Contains(t, chunk.Content, fmt.Sprintf("%d line(s), 0 error(s)", logWindowSize))

	logs := r.store.executionLogs("exec-an2")
	require.Len(t, logs, logWindowSize+1)
	assert.Equal(t, models.LogLevelInfo, logs[logWindowSize].Level, "a clean window raises no alert")
}

func TestAnalyzeWindow_GroupsSimilarErrors(t *testing.T) {
	// Same failure, three retries, differing only in volatile numbers.
	window := []*models.LogRecord{
		{ExecutionID: "exec-an3", Level: models.LogLevelError, Line: "ConnectionError on attempt 1 port 49152"},
		{ExecutionID: "exec-an3", Level: models.LogLevelError, Line: "ConnectionError on attempt 2 port 49153"},
		{ExecutionID: "exec-an3", Level: models.LogLevelError, Line: "ConnectionError on attempt 3 port 49154"},
		{ExecutionID: "exec-an3", Level: models.LogLevelError, Line: "TimeoutError waiting 30 s"},
	}
	analysis := analyzeWindow("exec-an3", window)

	assert.Equal(t, 4, analysis.ErrorCount)
	assert.InDelta(t, 1.0, analysis.ErrorRate, 1e-9)
	require.Len(t, analysis.Groups, 2, "retries of one failure collapse into a group")
	assert.Equal(t, "ConnectionError on attempt # port #", analysis.Groups[0].Pattern)
	assert.Equal(t, 3, analysis.Groups[0].Count)
	assert.Contains(t, analysis.Alerts, "repeated_error")
}

func TestLogRecorder_NarrativeNeedsProviderOptIn(t *testing.T) {
	r := newRig(t)
	r.capture(models.TopicStreamCollection)
	r.mock.SetFallback("The auth token expired, so every request failed with 401.")
	r.deps.ProviderByAgent = map[models.AgentType]string{
		models.AgentLogRecorder: "openai",
	}

	a := NewLogRecorder(r.deps)
	mc := r.mc()
	mc.ExecutionID = "exec-an4"

	require.NoError(t, a.Handle(context.Background(),
		logMsg(mc, models.LogLevelError, "GET /users -> 401 in 40 ms")))

	chunk := r.waitMsg(models.TopicStreamCollection).Payload.(*models.StreamResponse)
	assert.Contains(t, chunk.Content, "auth token expired")

	reqs := r.mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, `"error_rate"`,
		"the narrative prompt carries the computed analysis")
	assert.Contains(t, reqs[0].Prompt, "GET /users -> 401 in 40 ms",
		"the narrative prompt carries the offending lines")
}
