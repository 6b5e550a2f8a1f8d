package models

import "time"

// ExecutionStatus is the lifecycle state of one execution record.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
// Records in a terminal status are write-once: late updates are rejected.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// ExecutionConfig is the caller-supplied shape of one run.
type ExecutionConfig struct {
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Runner         []string          `json:"runner,omitempty"`
	BaseURL        string            `json:"base_url,omitempty"`
	Environment    map[string]string `json:"environment,omitempty"`
	BatchID        string            `json:"batch_id,omitempty"`
}

// ExecutionRecord is the persistent account of one script run.
type ExecutionRecord struct {
	ExecutionID string            `json:"execution_id"`
	SessionID   string            `json:"session_id"`
	ScriptID    string            `json:"script_id,omitempty"`
	Kind        ExecutionKind     `json:"kind"`
	Status      ExecutionStatus   `json:"status"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	ReturnCode  *int              `json:"return_code,omitempty"`
	Config      ExecutionConfig   `json:"config"`
	Environment map[string]string `json:"environment,omitempty"`
	Artifacts   []string          `json:"artifacts,omitempty"`
	ReportPath  string            `json:"report_path,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
