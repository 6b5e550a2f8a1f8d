package agents

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/models"
)

// openStoreOrNil resolves the store for execution bookkeeping. A missing
// store is tolerated: executions still run, they just leave no record.
func openStoreOrNil(ctx context.Context, a *agent.BaseAgent) (agent.Store, error) {
	store, err := a.EnsureStore(ctx)
	if errors.Is(err, agent.ErrNoStore) {
		a.Logger().Warn("No store configured; execution will not be recorded")
		return nil, nil
	}
	return store, err
}

// beginRecord persists the pending record and its transition to running.
// Persistence failures are logged, never fatal: the run proceeds.
func beginRecord(ctx context.Context, store agent.Store, logger *slog.Logger, record *models.ExecutionRecord) {
	now := time.Now().UTC()
	record.Status = models.ExecutionStatusPending
	record.CreatedAt = now
	record.UpdatedAt = now
	if store != nil {
		if err := store.CreateExecution(ctx, record); err != nil {
			logger.Warn("Execution record create failed", "execution_id", record.ExecutionID, "error", err)
		}
	}

	started := time.Now().UTC()
	record.Status = models.ExecutionStatusRunning
	record.StartedAt = &started
	record.UpdatedAt = started
	if store != nil {
		if err := store.MarkExecutionRunning(ctx, record.ExecutionID); err != nil {
			logger.Warn("Execution record update failed", "execution_id", record.ExecutionID, "error", err)
		}
	}
}

// finishRecord folds the run outcome into the record and persists record and
// report before any terminal response goes out. The persistence context is
// detached from cancellation so a timed-out run still lands on disk.
func finishRecord(ctx context.Context, store agent.Store, logger *slog.Logger, record *models.ExecutionRecord, report *models.TestReport, runErr error) {
	finished := time.Now().UTC()
	record.FinishedAt = &finished
	record.UpdatedAt = finished
	if runErr != nil {
		record.Status = models.ExecutionStatusFailed
		record.Error = runErr.Error()
	} else {
		record.Status = models.ExecutionStatusCompleted
	}
	if report != nil {
		record.ReportPath = report.ReportPath
		record.Artifacts = report.Artifacts
	}

	if store == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := store.CompleteExecution(saveCtx, record); err != nil {
		logger.Warn("Execution record completion failed", "execution_id", record.ExecutionID, "error", err)
	}
	if report != nil {
		if err := store.SaveReport(saveCtx, report); err != nil {
			logger.Warn("Report persistence failed", "execution_id", record.ExecutionID, "error", err)
		}
	}
}
