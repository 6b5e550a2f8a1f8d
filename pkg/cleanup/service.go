// Package cleanup enforces data retention: expired tracker entries, old
// persisted sessions and stale report directories.
package cleanup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/testrig-ai/testrig/pkg/config"
	"github.com/testrig-ai/testrig/pkg/services"
	"github.com/testrig-ai/testrig/pkg/session"
)

// Service periodically enforces retention policies:
//   - Drops terminal sessions from the in-memory tracker
//   - Deletes persisted sessions (and their executions, logs, reports)
//     past the retention window
//   - Removes report directories older than the report retention window
//
// All operations are idempotent and safe to run from multiple replicas.
type Service struct {
	config    *config.RetentionConfig
	tracker   *session.Tracker
	store     *services.Store // nil: no database pruning
	workspace string          // "": no report dir sweep
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates the cleanup service. Store and workspace are optional.
func NewService(cfg *config.RetentionConfig, tracker *session.Tracker, store *services.Store, workspace string) *Service {
	if cfg == nil {
		cfg = config.DefaultRetentionConfig()
	}
	return &Service{
		config:    cfg,
		tracker:   tracker,
		store:     store,
		workspace: workspace,
		logger:    slog.Default().With("component", "cleanup"),
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Cleanup service started",
		"session_retention_days", s.config.SessionRetentionDays,
		"report_retention_days", s.config.ReportRetentionDays,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll executes one retention pass. Exported so operators can trigger a
// sweep without waiting for the ticker.
func (s *Service) RunAll(ctx context.Context) {
	s.pruneTracker()
	s.pruneStore(ctx)
	s.sweepReportDirs()
}

func (s *Service) pruneTracker() {
	if s.tracker == nil {
		return
	}
	// Tracker entries only back live streaming; a day after completion the
	// persisted record is the source of truth.
	if count := s.tracker.Prune(24 * time.Hour); count > 0 {
		s.logger.Info("Retention: dropped tracker sessions", "count", count)
	}
}

func (s *Service) pruneStore(ctx context.Context) {
	if s.store == nil {
		return
	}
	retention := time.Duration(s.config.SessionRetentionDays) * 24 * time.Hour
	count, err := s.store.PruneSessions(ctx, retention)
	if err != nil {
		s.logger.Error("Retention: session prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: deleted old sessions", "count", count)
	}
}

func (s *Service) sweepReportDirs() {
	if s.workspace == "" {
		return
	}
	reportsRoot := filepath.Join(s.workspace, "reports")
	entries, err := os.ReadDir(reportsRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("Retention: report sweep failed", "error", err)
		}
		return
	}

	cutoff := time.Now().Add(-time.Duration(s.config.ReportRetentionDays) * 24 * time.Hour)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(reportsRoot, entry.Name())); err != nil {
			s.logger.Error("Retention: remove report dir failed",
				"dir", entry.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Retention: removed report directories", "count", removed)
	}
}
