package agents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
)

// logWindowSize is the buffered record count that triggers a window
// analysis when no error-level record arrived first.
const logWindowSize = 50

const logNarrativeSystem = `You summarize test execution logs for an engineer.
Given a log analysis and sample lines, explain in at most three sentences what
went wrong and what to look at first. Plain text only.`

// LogRecorder persists execution log lines and analyzes them in windows.
// Records buffer per execution; a full window or any error-level record
// flushes the buffer through analysis: error rate, response time
// percentiles, grouped similar errors and alert rules, plus a model
// narrative when the recorder has a provider assigned. Like the persistence
// agent it is a sink: a missing store drops nothing but the persistence,
// and a failing store never terminates the session.
type LogRecorder struct {
	*agent.BaseAgent

	mu      sync.Mutex
	windows map[string][]*models.LogRecord
}

// NewLogRecorder builds the log recording agent.
func NewLogRecorder(deps *agent.Deps) *LogRecorder {
	return &LogRecorder{
		BaseAgent: agent.NewBase(deps, models.AgentLogRecorder),
		windows:   make(map[string][]*models.LogRecord),
	}
}

// Handle implements agent.Agent.
func (a *LogRecorder) Handle(ctx context.Context, msg *models.Message) error {
	record, ok := msg.Payload.(*models.LogRecord)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	if record.ExecutionID == "" {
		record.ExecutionID = msg.Context.ExecutionID
	}

	if err := a.persist(ctx, record); err != nil {
		return err
	}

	if window := a.buffer(record); window != nil {
		a.analyze(ctx, msg.Context, record.ExecutionID, window)
	}
	return nil
}

func (a *LogRecorder) persist(ctx context.Context, record *models.LogRecord) error {
	store, err := a.EnsureStore(ctx)
	if errors.Is(err, agent.ErrNoStore) {
		return nil
	}
	if err != nil {
		return err
	}
	return store.AppendExecutionLog(ctx, record.ExecutionID, record)
}

// buffer appends the record to its execution's window and returns the window
// when it is due for analysis, clearing the buffer.
func (a *LogRecorder) buffer(record *models.LogRecord) []*models.LogRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := record.ExecutionID
	a.windows[key] = append(a.windows[key], record)
	if record.Level != models.LogLevelError && len(a.windows[key]) < logWindowSize {
		return nil
	}
	window := a.windows[key]
	delete(a.windows, key)
	return window
}

// logAnalysis is one analyzed window of execution output.
type logAnalysis struct {
	ExecutionID string       `json:"execution_id"`
	Total       int          `json:"total"`
	ErrorCount  int          `json:"error_count"`
	ErrorRate   float64      `json:"error_rate"`
	P50Millis   float64      `json:"p50_ms,omitempty"`
	P95Millis   float64      `json:"p95_ms,omitempty"`
	Groups      []errorGroup `json:"error_groups,omitempty"`
	Alerts      []string     `json:"alerts,omitempty"`
	Narrative   string       `json:"narrative,omitempty"`
}

// errorGroup counts error lines that normalize to the same pattern.
type errorGroup struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// alertRule names a condition worth surfacing on an analyzed window.
type alertRule struct {
	name    string
	matches func(a *logAnalysis) bool
}

var logAlertRules = []alertRule{
	{"high_error_rate", func(a *logAnalysis) bool { return a.Total >= 10 && a.ErrorRate >= 0.5 }},
	{"repeated_error", func(a *logAnalysis) bool {
		for _, g := range a.Groups {
			if g.Count >= 3 {
				return true
			}
		}
		return false
	}},
	{"slow_responses", func(a *logAnalysis) bool { return a.P95Millis >= 5000 }},
}

func (a *LogRecorder) analyze(ctx context.Context, mc models.MessageContext, executionID string, window []*models.LogRecord) {
	analysis := analyzeWindow(executionID, window)

	// The narrative costs a model call, so it needs an explicit opt-in: a
	// provider assigned to this agent. Windows without errors skip it.
	if analysis.ErrorCount > 0 && a.Deps().ProviderFor(a.Type()) != "" {
		analysis.Narrative = a.narrative(ctx, mc, analysis, window)
	}

	if err := a.SendStream(ctx, mc, formatAnalysis(analysis)); err != nil {
		a.Logger().Warn("Analysis publish failed", "execution_id", executionID, "error", err)
	}
	for _, alert := range analysis.Alerts {
		a.Logger().Warn("Execution log alert",
			"execution_id", executionID,
			"alert", alert,
			"error_rate", analysis.ErrorRate)
	}

	record := &models.LogRecord{
		ExecutionID: executionID,
		Source:      a.Type(),
		Level:       models.LogLevelInfo,
		Stream:      "analysis",
		Line:        "log analysis: " + marshalCompact(analysis),
	}
	if len(analysis.Alerts) > 0 {
		record.Level = models.LogLevelWarn
	}
	if err := a.persist(ctx, record); err != nil {
		a.Logger().Warn("Analysis persistence failed", "execution_id", executionID, "error", err)
	}
}

var durationRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|s)\b`)

// analyzeWindow computes the window's error rate, response time percentiles
// from durations mentioned in the lines, grouped errors and matched alerts.
func analyzeWindow(executionID string, window []*models.LogRecord) *logAnalysis {
	analysis := &logAnalysis{
		ExecutionID: executionID,
		Total:       len(window),
	}

	var durations []float64
	groupCounts := make(map[string]int)
	var groupOrder []string
	for _, rec := range window {
		if rec.Level == models.LogLevelError {
			analysis.ErrorCount++
			pattern := normalizeErrorLine(rec.Line)
			if groupCounts[pattern] == 0 {
				groupOrder = append(groupOrder, pattern)
			}
			groupCounts[pattern]++
		}
		for _, m := range durationRe.FindAllStringSubmatch(rec.Line, -1) {
			var v float64
			if _, err := fmt.Sscanf(m[1], "%f", &v); err != nil {
				continue
			}
			if m[2] == "s" {
				v *= 1000
			}
			durations = append(durations, v)
		}
	}
	if analysis.Total > 0 {
		analysis.ErrorRate = float64(analysis.ErrorCount) / float64(analysis.Total)
	}
	if len(durations) > 0 {
		sort.Float64s(durations)
		analysis.P50Millis = percentile(durations, 0.50)
		analysis.P95Millis = percentile(durations, 0.95)
	}
	for _, pattern := range groupOrder {
		analysis.Groups = append(analysis.Groups, errorGroup{Pattern: pattern, Count: groupCounts[pattern]})
	}
	sort.SliceStable(analysis.Groups, func(i, j int) bool {
		return analysis.Groups[i].Count > analysis.Groups[j].Count
	})
	for _, rule := range logAlertRules {
		if rule.matches(analysis) {
			analysis.Alerts = append(analysis.Alerts, rule.name)
		}
	}
	return analysis
}

var digitsRe = regexp.MustCompile(`\d+`)

// normalizeErrorLine collapses volatile parts of an error line so retries of
// the same failure group together.
func normalizeErrorLine(line string) string {
	pattern := digitsRe.ReplaceAllString(strings.TrimSpace(line), "#")
	if len(pattern) > 120 {
		pattern = pattern[:120]
	}
	return pattern
}

// percentile reads the p-th percentile from sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func formatAnalysis(a *logAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Log analysis for %s: %d line(s), %d error(s) (%.0f%%)",
		a.ExecutionID, a.Total, a.ErrorCount, a.ErrorRate*100)
	if a.P95Millis > 0 {
		fmt.Fprintf(&sb, ", p50 %.0fms, p95 %.0fms", a.P50Millis, a.P95Millis)
	}
	if len(a.Alerts) > 0 {
		fmt.Fprintf(&sb, "; alerts: %s", strings.Join(a.Alerts, ", "))
	}
	if a.Narrative != "" {
		fmt.Fprintf(&sb, "\n%s", a.Narrative)
	}
	sb.WriteByte('\n')
	return sb.String()
}

// narrative asks the assigned model to explain the window. Best-effort.
func (a *LogRecorder) narrative(ctx context.Context, mc models.MessageContext, analysis *logAnalysis, window []*models.LogRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Analysis:\n%s\n\nError lines:\n", marshalCompact(analysis))
	shown := 0
	for _, rec := range window {
		if rec.Level != models.LogLevelError {
			continue
		}
		sb.WriteString(rec.Line)
		sb.WriteByte('\n')
		if shown++; shown >= 10 {
			break
		}
	}
	text, _, err := a.RunLLM(ctx, mc, &llm.Request{System: logNarrativeSystem, Prompt: sb.String()})
	if err != nil {
		a.Logger().Warn("Log narrative failed; continuing without", "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}
