package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/testrig-ai/testrig/pkg/models"
)

// builder is the dialect-aware SQL builder the read queries go through.
var builder = entsql.Dialect(dialect.Postgres)

// UpsertSession writes a session snapshot. The in-memory tracker remains the
// live source; the table is the history the API can serve after restart.
func (s *Store) UpsertSession(ctx context.Context, sess models.PipelineSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_sessions (session_id, kind, status, stage, document_id,
		                                execution_id, error, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE
		 SET status       = EXCLUDED.status,
		     stage        = EXCLUDED.stage,
		     document_id  = EXCLUDED.document_id,
		     execution_id = EXCLUDED.execution_id,
		     error        = EXCLUDED.error,
		     updated_at   = EXCLUDED.updated_at,
		     completed_at = EXCLUDED.completed_at`,
		sess.SessionID, sess.Kind, sess.Status, sess.Stage, sess.DocumentID,
		sess.ExecutionID, sess.Error, sess.CreatedAt, sess.UpdatedAt, sess.CompletedAt)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", sess.SessionID, err)
	}
	return nil
}

// GetSession loads one persisted session.
func (s *Store) GetSession(ctx context.Context, sessionID string) (models.PipelineSession, error) {
	query, args := builder.
		Select("session_id", "kind", "status", "stage", "document_id",
			"execution_id", "error", "created_at", "updated_at", "completed_at").
		From(entsql.Table("pipeline_sessions")).
		Where(entsql.EQ("session_id", sessionID)).
		Query()

	var (
		sess        models.PipelineSession
		completedAt stdsql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&sess.SessionID, &sess.Kind, &sess.Status, &sess.Stage, &sess.DocumentID,
		&sess.ExecutionID, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt, &completedAt)
	if errors.Is(err, stdsql.ErrNoRows) {
		return models.PipelineSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return models.PipelineSession{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return sess, nil
}

// ListSessions returns persisted sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]models.PipelineSession, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := builder.
		Select("session_id", "kind", "status", "stage", "document_id",
			"execution_id", "error", "created_at", "updated_at", "completed_at").
		From(entsql.Table("pipeline_sessions")).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.PipelineSession
	for rows.Next() {
		var (
			sess        models.PipelineSession
			completedAt stdsql.NullTime
		)
		if err := rows.Scan(
			&sess.SessionID, &sess.Kind, &sess.Status, &sess.Stage, &sess.DocumentID,
			&sess.ExecutionID, &sess.Error, &sess.CreatedAt, &sess.UpdatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if completedAt.Valid {
			sess.CompletedAt = &completedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// executionColumns is the scan order shared by the execution queries.
var executionColumns = []string{
	"execution_id", "session_id", "script_id", "kind", "status",
	"started_at", "finished_at", "return_code", "config", "environment",
	"artifacts", "report_path", "error", "created_at", "updated_at",
}

func scanExecution(scan func(...any) error) (*models.ExecutionRecord, error) {
	var (
		record      models.ExecutionRecord
		startedAt   stdsql.NullTime
		finishedAt  stdsql.NullTime
		returnCode  stdsql.NullInt64
		config      []byte
		environment []byte
		artifacts   []byte
	)
	err := scan(
		&record.ExecutionID, &record.SessionID, &record.ScriptID, &record.Kind, &record.Status,
		&startedAt, &finishedAt, &returnCode, &config, &environment,
		&artifacts, &record.ReportPath, &record.Error, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		record.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		record.FinishedAt = &finishedAt.Time
	}
	if returnCode.Valid {
		rc := int(returnCode.Int64)
		record.ReturnCode = &rc
	}
	if err := json.Unmarshal(config, &record.Config); err != nil {
		return nil, fmt.Errorf("unmarshal execution config: %w", err)
	}
	if err := json.Unmarshal(environment, &record.Environment); err != nil {
		return nil, fmt.Errorf("unmarshal execution environment: %w", err)
	}
	if err := json.Unmarshal(artifacts, &record.Artifacts); err != nil {
		return nil, fmt.Errorf("unmarshal execution artifacts: %w", err)
	}
	return &record, nil
}

// GetExecution loads one execution record.
func (s *Store) GetExecution(ctx context.Context, executionID string) (*models.ExecutionRecord, error) {
	query, args := builder.
		Select(executionColumns...).
		From(entsql.Table("executions")).
		Where(entsql.EQ("execution_id", executionID)).
		Query()

	record, err := scanExecution(s.db.QueryRowContext(ctx, query, args...).Scan)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	return record, nil
}

// ListExecutions returns a session's executions, newest first.
func (s *Store) ListExecutions(ctx context.Context, sessionID string, limit int) ([]*models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args := builder.
		Select(executionColumns...).
		From(entsql.Table("executions")).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("created_at")).
		Limit(limit).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var records []*models.ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetReport loads the report of one execution.
func (s *Store) GetReport(ctx context.Context, executionID string) (*models.TestReport, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM test_reports WHERE execution_id = $1`, executionID).Scan(&payload)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("report for execution %s: %w", executionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load report for execution %s: %w", executionID, err)
	}
	var report models.TestReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("unmarshal report for execution %s: %w", executionID, err)
	}
	return &report, nil
}

// ExecutionLogEntry is one persisted output line with its cursor position.
type ExecutionLogEntry struct {
	ID          int64            `json:"id"`
	ExecutionID string           `json:"execution_id"`
	Source      models.AgentType `json:"source"`
	Level       models.LogLevel  `json:"level"`
	Stream      string           `json:"stream,omitempty"`
	Line        string           `json:"line"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ListExecutionLogs pages through an execution's captured output. afterID is
// an exclusive cursor; pass 0 to start from the beginning.
func (s *Store) ListExecutionLogs(ctx context.Context, executionID string, afterID int64, limit int) ([]ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = 500
	}
	query, args := builder.
		Select("id", "execution_id", "source", "level", "stream", "line", "created_at").
		From(entsql.Table("execution_logs")).
		Where(entsql.And(entsql.EQ("execution_id", executionID), entsql.GT("id", afterID))).
		OrderBy(entsql.Asc("id")).
		Limit(limit).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs for execution %s: %w", executionID, err)
	}
	defer rows.Close()

	var entries []ExecutionLogEntry
	for rows.Next() {
		var e ExecutionLogEntry
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.Source, &e.Level, &e.Stream, &e.Line, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetAnalysis loads the stored analyzer result of a document.
func (s *Store) GetAnalysis(ctx context.Context, documentID string) (*models.AnalysisOutput, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM analyses WHERE document_id = $1`, documentID).Scan(&payload)
	if errors.Is(err, stdsql.ErrNoRows) {
		return nil, fmt.Errorf("analysis for document %s: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load analysis for document %s: %w", documentID, err)
	}
	var analysis models.AnalysisOutput
	if err := json.Unmarshal(payload, &analysis); err != nil {
		return nil, fmt.Errorf("unmarshal analysis for document %s: %w", documentID, err)
	}
	return &analysis, nil
}

// ListScripts returns the generated scripts of a document.
func (s *Store) ListScripts(ctx context.Context, documentID string) ([]models.TestScript, error) {
	query, args := builder.
		Select("script_id", "name", "path", "language", "framework", "content", "dependencies", "case_ids").
		From(entsql.Table("test_scripts")).
		Where(entsql.EQ("document_id", documentID)).
		OrderBy(entsql.Asc("name")).
		Query()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scripts for document %s: %w", documentID, err)
	}
	defer rows.Close()
	return scanScripts(rows)
}

// SearchScripts runs a full-text search over generated script content through
// the GIN index.
func (s *Store) SearchScripts(ctx context.Context, terms string, limit int) ([]models.TestScript, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT script_id, name, path, language, framework, content, dependencies, case_ids
		 FROM test_scripts
		 WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		 ORDER BY name
		 LIMIT $2`, terms, limit)
	if err != nil {
		return nil, fmt.Errorf("search scripts: %w", err)
	}
	defer rows.Close()
	return scanScripts(rows)
}

// scanScripts reads full script rows, decoding the JSONB columns.
func scanScripts(rows *stdsql.Rows) ([]models.TestScript, error) {
	var scripts []models.TestScript
	for rows.Next() {
		var (
			sc           models.TestScript
			dependencies []byte
			caseIDs      []byte
		)
		if err := rows.Scan(&sc.ScriptID, &sc.Name, &sc.Path, &sc.Language, &sc.Framework,
			&sc.Content, &dependencies, &caseIDs); err != nil {
			return nil, fmt.Errorf("scan script: %w", err)
		}
		if err := json.Unmarshal(dependencies, &sc.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies: %w", err)
		}
		if err := json.Unmarshal(caseIDs, &sc.CaseIDs); err != nil {
			return nil, fmt.Errorf("unmarshal case ids: %w", err)
		}
		scripts = append(scripts, sc)
	}
	return scripts, rows.Err()
}
