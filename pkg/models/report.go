package models

import "time"

// CaseResult is the outcome of one executed test case.
type CaseResult struct {
	Name       string  `json:"name"`
	ClassName  string  `json:"class_name,omitempty"`
	Outcome    string  `json:"outcome"` // passed, failed, skipped, error
	DurationMS float64 `json:"duration_ms,omitempty"`
	Message    string  `json:"message,omitempty"`
}

// TestReport summarizes one execution. A report is produced for every run,
// including failed and timed-out ones, so downstream consumers never have to
// distinguish "no report" from "bad run".
type TestReport struct {
	ExecutionID string       `json:"execution_id"`
	SessionID   string       `json:"session_id,omitempty"`
	Total       int          `json:"total"`
	Passed      int          `json:"passed"`
	Failed      int          `json:"failed"`
	Skipped     int          `json:"skipped"`
	Errors      int          `json:"errors"`
	SuccessRate float64      `json:"success_rate"`
	Duration    float64      `json:"duration_seconds"`
	Cases       []CaseResult `json:"cases,omitempty"`
	ReportPath  string       `json:"report_path,omitempty"`
	Artifacts   []string     `json:"artifacts,omitempty"`
	ParsedFrom  string       `json:"parsed_from,omitempty"` // json, junit, regex, none
	GeneratedAt time.Time    `json:"generated_at"`
}

// Finalize recomputes the success rate from the counts. With zero results
// the rate is 0.0, never NaN.
func (r *TestReport) Finalize() {
	if r.Total > 0 {
		r.SuccessRate = float64(r.Passed) / float64(r.Total)
	} else {
		r.SuccessRate = 0.0
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
}

// AsResult renders the report as a generic result map for terminal stream
// responses.
func (r *TestReport) AsResult() map[string]any {
	return map[string]any{
		"execution_id": r.ExecutionID,
		"total":        r.Total,
		"passed":       r.Passed,
		"failed":       r.Failed,
		"skipped":      r.Skipped,
		"errors":       r.Errors,
		"success_rate": r.SuccessRate,
		"report_path":  r.ReportPath,
	}
}
