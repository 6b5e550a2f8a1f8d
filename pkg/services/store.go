// Package services implements the persistence and submission layer: the
// PostgreSQL store behind the persistence agents and the pipeline service
// the API hands submissions to.
package services

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/database"
	"github.com/testrig-ai/testrig/pkg/masking"
	"github.com/testrig-ai/testrig/pkg/models"
)

// Store is the PostgreSQL persistence layer. It implements agent.Store for
// the pipeline agents and adds the read queries the API serves from.
// Captured output and recorded environments are masked before they hit disk.
type Store struct {
	db     *stdsql.DB
	masker *masking.Masker
	logger *slog.Logger
}

var _ agent.Store = (*Store)(nil)

// NewStore builds a store over the database client. A nil masker disables
// masking.
func NewStore(client *database.Client, masker *masking.Masker) *Store {
	return &Store{
		db:     client.DB(),
		masker: masker,
		logger: slog.Default().With("component", "store"),
	}
}

// SaveEndpoints replaces the endpoint catalog of a document. Re-parsing a
// document is idempotent: the old catalog goes away with it.
func (s *Store) SaveEndpoints(ctx context.Context, sessionID, documentID string, endpoints []models.APIEndpoint) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM endpoints WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear endpoints for document %s: %w", documentID, err)
	}

	for _, ep := range endpoints {
		payload, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("marshal endpoint %s: %w", ep.EndpointID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO endpoints (endpoint_id, document_id, session_id, method, path, summary, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ep.EndpointID, documentID, sessionID, ep.Method, ep.Path, ep.Summary, payload)
		if err != nil {
			return fmt.Errorf("insert endpoint %s: %w", ep.EndpointID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit endpoints: %w", err)
	}
	return nil
}

// SaveAnalysis upserts the analyzer result for a document.
func (s *Store) SaveAnalysis(ctx context.Context, sessionID, documentID string, analysis *models.AnalysisOutput) error {
	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis for document %s: %w", documentID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (document_id, session_id, summary, payload)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (document_id) DO UPDATE
		 SET session_id = EXCLUDED.session_id,
		     summary    = EXCLUDED.summary,
		     payload    = EXCLUDED.payload`,
		documentID, sessionID, analysis.Summary, payload)
	if err != nil {
		return fmt.Errorf("save analysis for document %s: %w", documentID, err)
	}
	return nil
}

// SaveTestCases upserts generated cases by case ID.
func (s *Store) SaveTestCases(ctx context.Context, sessionID, documentID string, cases []models.TestCase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, tc := range cases {
		payload, err := json.Marshal(tc)
		if err != nil {
			return fmt.Errorf("marshal test case %s: %w", tc.CaseID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_cases (case_id, document_id, session_id, name, payload)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (case_id) DO UPDATE
			 SET document_id = EXCLUDED.document_id,
			     session_id  = EXCLUDED.session_id,
			     name        = EXCLUDED.name,
			     payload     = EXCLUDED.payload`,
			tc.CaseID, documentID, sessionID, tc.Name, payload)
		if err != nil {
			return fmt.Errorf("save test case %s: %w", tc.CaseID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit test cases: %w", err)
	}
	return nil
}

// SaveScripts upserts generated scripts by script ID.
func (s *Store) SaveScripts(ctx context.Context, sessionID, documentID string, scripts []models.TestScript) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, sc := range scripts {
		caseIDs, err := json.Marshal(sc.CaseIDs)
		if err != nil {
			return fmt.Errorf("marshal case ids for script %s: %w", sc.ScriptID, err)
		}
		dependencies, err := json.Marshal(sc.Dependencies)
		if err != nil {
			return fmt.Errorf("marshal dependencies for script %s: %w", sc.ScriptID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_scripts (script_id, document_id, session_id, name, path, language, framework, content, dependencies, case_ids)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (script_id) DO UPDATE
			 SET document_id  = EXCLUDED.document_id,
			     session_id   = EXCLUDED.session_id,
			     name         = EXCLUDED.name,
			     path         = EXCLUDED.path,
			     language     = EXCLUDED.language,
			     framework    = EXCLUDED.framework,
			     content      = EXCLUDED.content,
			     dependencies = EXCLUDED.dependencies,
			     case_ids     = EXCLUDED.case_ids`,
			sc.ScriptID, documentID, sessionID, sc.Name, sc.Path, sc.Language, sc.Framework, sc.Content, dependencies, caseIDs)
		if err != nil {
			return fmt.Errorf("save script %s: %w", sc.ScriptID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scripts: %w", err)
	}
	return nil
}

// GetEndpoints returns the stored catalog of a document in insertion order.
func (s *Store) GetEndpoints(ctx context.Context, documentID string) ([]models.APIEndpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM endpoints WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query endpoints for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var endpoints []models.APIEndpoint
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		var ep models.APIEndpoint
		if err := json.Unmarshal(payload, &ep); err != nil {
			return nil, fmt.Errorf("unmarshal endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

// GetScripts loads scripts by ID, preserving request order. Missing IDs are
// logged and skipped; callers decide whether an empty result is an error.
func (s *Store) GetScripts(ctx context.Context, scriptIDs []string) ([]models.TestScript, error) {
	scripts := make([]models.TestScript, 0, len(scriptIDs))
	for _, id := range scriptIDs {
		var (
			sc           models.TestScript
			caseIDs      []byte
			dependencies []byte
		)
		err := s.db.QueryRowContext(ctx,
			`SELECT script_id, name, path, language, framework, content, dependencies, case_ids
			 FROM test_scripts WHERE script_id = $1`, id).
			Scan(&sc.ScriptID, &sc.Name, &sc.Path, &sc.Language, &sc.Framework, &sc.Content, &dependencies, &caseIDs)
		if errors.Is(err, stdsql.ErrNoRows) {
			s.logger.Warn("Script not found", "script_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load script %s: %w", id, err)
		}
		if err := json.Unmarshal(dependencies, &sc.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies for script %s: %w", id, err)
		}
		if err := json.Unmarshal(caseIDs, &sc.CaseIDs); err != nil {
			return nil, fmt.Errorf("unmarshal case ids for script %s: %w", id, err)
		}
		scripts = append(scripts, sc)
	}
	return scripts, nil
}

// CreateExecution inserts a fresh execution record. The recorded environment
// is masked; the raw values stay in memory only.
func (s *Store) CreateExecution(ctx context.Context, record *models.ExecutionRecord) error {
	cfg := record.Config
	cfg.Environment = s.masker.MaskEnv(cfg.Environment)
	config, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal execution config: %w", err)
	}
	environment, err := json.Marshal(s.masker.MaskEnv(record.Environment))
	if err != nil {
		return fmt.Errorf("marshal execution environment: %w", err)
	}
	artifacts, err := json.Marshal(record.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal execution artifacts: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO executions (execution_id, session_id, script_id, kind, status,
		                         started_at, return_code, config, environment, artifacts,
		                         report_path, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		record.ExecutionID, record.SessionID, record.ScriptID, record.Kind, record.Status,
		record.StartedAt, record.ReturnCode, config, environment, artifacts,
		record.ReportPath, record.Error)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("execution %s: %w", record.ExecutionID, ErrAlreadyExists)
		}
		return fmt.Errorf("create execution %s: %w", record.ExecutionID, err)
	}
	return nil
}

// MarkExecutionRunning transitions a pending execution to running. Terminal
// records are left alone.
func (s *Store) MarkExecutionRunning(ctx context.Context, executionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions
		 SET status = $2, started_at = COALESCE(started_at, now()), updated_at = now()
		 WHERE execution_id = $1
		   AND status NOT IN ('completed', 'failed', 'cancelled')`,
		executionID, models.ExecutionStatusRunning)
	if err != nil {
		return fmt.Errorf("mark execution %s running: %w", executionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution %s: %w", executionID, ErrNotFound)
	}
	return nil
}

// CompleteExecution writes the terminal state of an execution. The first
// terminal write wins; later attempts return ErrAlreadyTerminal.
func (s *Store) CompleteExecution(ctx context.Context, record *models.ExecutionRecord) error {
	if !record.Status.IsTerminal() {
		return fmt.Errorf("complete execution %s: status %s is not terminal", record.ExecutionID, record.Status)
	}
	artifacts, err := json.Marshal(record.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal execution artifacts: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE executions
		 SET status = $2, finished_at = $3, return_code = $4, artifacts = $5,
		     report_path = $6, error = $7, updated_at = now()
		 WHERE execution_id = $1
		   AND status NOT IN ('completed', 'failed', 'cancelled')`,
		record.ExecutionID, record.Status, record.FinishedAt, record.ReturnCode,
		artifacts, record.ReportPath, s.masker.Mask(record.Error))
	if err != nil {
		return fmt.Errorf("complete execution %s: %w", record.ExecutionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM executions WHERE execution_id = $1)`,
			record.ExecutionID).Scan(&exists); err != nil {
			return fmt.Errorf("check execution %s: %w", record.ExecutionID, err)
		}
		if exists {
			return fmt.Errorf("execution %s: %w", record.ExecutionID, ErrAlreadyTerminal)
		}
		return fmt.Errorf("execution %s: %w", record.ExecutionID, ErrNotFound)
	}
	return nil
}

// SaveReport upserts the report of an execution. Both the executor agents and
// the persistence agent write reports, so the write must be idempotent.
func (s *Store) SaveReport(ctx context.Context, report *models.TestReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report for execution %s: %w", report.ExecutionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO test_reports (execution_id, session_id, payload, generated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (execution_id) DO UPDATE
		 SET session_id   = EXCLUDED.session_id,
		     payload      = EXCLUDED.payload,
		     generated_at = EXCLUDED.generated_at`,
		report.ExecutionID, report.SessionID, payload, report.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save report for execution %s: %w", report.ExecutionID, err)
	}
	return nil
}

// AppendExecutionLog appends one captured output line, masked.
func (s *Store) AppendExecutionLog(ctx context.Context, executionID string, record *models.LogRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs (execution_id, source, level, stream, line)
		 VALUES ($1, $2, $3, $4, $5)`,
		executionID, record.Source, record.Level, record.Stream, s.masker.Mask(record.Line))
	if err != nil {
		return fmt.Errorf("append log for execution %s: %w", executionID, err)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
