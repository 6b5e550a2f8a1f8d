package services

import (
	"context"
	"fmt"
	"time"
)

// PruneSessions deletes terminal sessions that completed before the cutoff,
// together with their executions, execution logs and reports. Returns how
// many sessions were removed. Safe to run concurrently from multiple
// replicas: every statement is scoped to the same expired-session set.
func (s *Store) PruneSessions(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const expired = `SELECT session_id FROM pipeline_sessions
		WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1`

	statements := []string{
		`DELETE FROM execution_logs WHERE execution_id IN
			(SELECT execution_id FROM executions WHERE session_id IN (` + expired + `))`,
		`DELETE FROM test_reports WHERE session_id IN (` + expired + `)`,
		`DELETE FROM executions WHERE session_id IN (` + expired + `)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, cutoff); err != nil {
			return 0, fmt.Errorf("prune session children: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_sessions
		 WHERE status IN ('completed', 'failed', 'cancelled') AND completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return removed, nil
}
