package models

import "time"

// SessionStatus is the lifecycle state of a pipeline session.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether the session status admits no further work.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// PipelineKind distinguishes the two pipelines a session can run.
type PipelineKind string

const (
	PipelineAPI PipelineKind = "api"
	PipelineUI  PipelineKind = "ui"
)

// PipelineSession ties together everything one submission produces: the
// document, the generated artifacts and the executions.
type PipelineSession struct {
	SessionID   string        `json:"session_id"`
	Kind        PipelineKind  `json:"kind"`
	Status      SessionStatus `json:"status"`
	Stage       string        `json:"stage,omitempty"` // last stage that reported progress
	DocumentID  string        `json:"document_id,omitempty"`
	ExecutionID string        `json:"execution_id,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
