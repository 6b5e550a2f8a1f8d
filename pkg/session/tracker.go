// Package session tracks in-flight pipeline sessions in memory: status,
// stage progression, cancellation hooks, and the once-only terminal guard.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/testrig-ai/testrig/pkg/models"
)

type entry struct {
	mu           sync.Mutex
	session      models.PipelineSession
	cancel       context.CancelFunc
	terminalSent bool
}

// Tracker is the process-local registry of pipeline sessions.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	logger   *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*entry),
		logger:   slog.Default().With("component", "session-tracker"),
	}
}

// Begin registers a new session. An empty sessionID mints one.
func (t *Tracker) Begin(kind models.PipelineKind, sessionID string) models.PipelineSession {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	now := time.Now().UTC()
	s := models.PipelineSession{
		SessionID: sessionID,
		Kind:      kind,
		Status:    models.SessionStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.sessions[sessionID] = &entry{session: s}
	t.mu.Unlock()

	t.logger.Info("Session started", "session_id", sessionID, "kind", kind)
	return s
}

func (t *Tracker) get(sessionID string) (*entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[sessionID]
	return e, ok
}

// Get returns a copy of the session.
func (t *Tracker) Get(sessionID string) (models.PipelineSession, bool) {
	e, ok := t.get(sessionID)
	if !ok {
		return models.PipelineSession{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session, true
}

// List returns copies of all tracked sessions, newest first.
func (t *Tracker) List() []models.PipelineSession {
	t.mu.RLock()
	out := make([]models.PipelineSession, 0, len(t.sessions))
	for _, e := range t.sessions {
		e.mu.Lock()
		out = append(out, e.session)
		e.mu.Unlock()
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// UpdateStage records pipeline progress. Unknown sessions are ignored.
func (t *Tracker) UpdateStage(sessionID, stage string) {
	e, ok := t.get(sessionID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.Status.IsTerminal() {
		return
	}
	e.session.Stage = stage
	e.session.UpdatedAt = time.Now().UTC()
}

// AttachIDs records the document and/or execution IDs a session produced.
func (t *Tracker) AttachIDs(sessionID, documentID, executionID string) {
	e, ok := t.get(sessionID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if documentID != "" {
		e.session.DocumentID = documentID
	}
	if executionID != "" {
		e.session.ExecutionID = executionID
	}
	e.session.UpdatedAt = time.Now().UTC()
}

// BindCancel attaches the cancel function for the session's long-running
// work. Replaces any previous binding.
func (t *Tracker) BindCancel(sessionID string, cancel context.CancelFunc) {
	e, ok := t.get(sessionID)
	if !ok {
		return
	}
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
}

// Cancel invokes the session's cancel hook, if any. It does not mark the
// session terminal: the cancelled work reports its own terminal state.
func (t *Tracker) Cancel(sessionID string) bool {
	e, ok := t.get(sessionID)
	if !ok {
		return false
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	t.logger.Info("Session cancel requested", "session_id", sessionID)
	return true
}

// MarkTerminal transitions the session to a terminal status. Only the first
// call wins and returns true; every later call is a no-op returning false.
// This is the guard that keeps one terminal stream response per session.
func (t *Tracker) MarkTerminal(sessionID string, status models.SessionStatus, errMsg string) bool {
	e, ok := t.get(sessionID)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminalSent {
		return false
	}
	e.terminalSent = true
	now := time.Now().UTC()
	e.session.Status = status
	e.session.Error = errMsg
	e.session.UpdatedAt = now
	e.session.CompletedAt = &now
	return true
}

// Prune drops terminal sessions older than the retention window and returns
// how many were removed.
func (t *Tracker) Prune(olderThan time.Duration) int {
	cutoff := time.Now().UTC().Add(-olderThan)

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, e := range t.sessions {
		e.mu.Lock()
		expired := e.session.Status.IsTerminal() &&
			e.session.CompletedAt != nil &&
			e.session.CompletedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(t.sessions, id)
			removed++
		}
	}
	return removed
}
