package slack

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/services"
	"github.com/testrig-ai/testrig/pkg/session"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// Service posts run notifications. Wired to the bus it announces a run on
// its first stream chunk and threads the terminal summary under that
// message.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *Client
	dashboardURL string
	tracker      *session.Tracker
	store        *services.Store // nil: no report stats in summaries
	logger       *slog.Logger

	mu      sync.Mutex
	threads map[string]string // session ID -> thread ts
}

// NewService creates a new Slack notification service.
// Returns nil if Token or Channel is empty.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return NewServiceWithClient(NewClient(cfg.Token, cfg.Channel), cfg.DashboardURL)
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "slack-service"),
		threads:      make(map[string]string),
	}
}

// Start subscribes the service to the stream response topic. Tracker and
// store supply the session record and report stats for summaries; both are
// optional.
func (s *Service) Start(b *bus.Bus, tracker *session.Tracker, store *services.Store) error {
	if s == nil || b == nil {
		return nil
	}
	s.tracker = tracker
	s.store = store
	return b.Subscribe(models.TopicStreamResponse, "slack-notifier", s.onStreamResponse)
}

func (s *Service) onStreamResponse(ctx context.Context, msg *models.Message) error {
	resp, ok := msg.Payload.(*models.StreamResponse)
	if !ok {
		return nil
	}
	sessionID := msg.Context.SessionID

	if !resp.IsFinal {
		s.notifyStartedOnce(ctx, sessionID)
		return nil
	}

	sess := s.lookupSession(ctx, sessionID, resp)
	var report *models.TestReport
	if s.store != nil && sess.ExecutionID != "" {
		report, _ = s.store.GetReport(ctx, sess.ExecutionID)
	}
	s.NotifyRunFinished(ctx, sess, report)
	return nil
}

// notifyStartedOnce posts the run-started message the first time a session
// shows up on the stream and remembers its thread for the summary.
func (s *Service) notifyStartedOnce(ctx context.Context, sessionID string) {
	s.mu.Lock()
	if _, seen := s.threads[sessionID]; seen {
		s.mu.Unlock()
		return
	}
	s.threads[sessionID] = ""
	s.mu.Unlock()

	ts := s.NotifyRunStarted(ctx, s.lookupSession(ctx, sessionID, nil))

	s.mu.Lock()
	s.threads[sessionID] = ts
	s.mu.Unlock()
}

// NotifyRunStarted posts the run announcement and returns its timestamp for
// threading. Fail-open: errors are logged, never returned.
func (s *Service) NotifyRunStarted(ctx context.Context, sess models.PipelineSession) string {
	if s == nil {
		return ""
	}
	blocks := BuildRunStartedMessage(sess, s.dashboardURL)
	ts, err := s.client.PostMessage(ctx, blocks, "", 5*time.Second)
	if err != nil {
		s.logger.Error("Failed to send Slack run-started notification",
			"session_id", sess.SessionID, "error", err)
		return ""
	}
	return ts
}

// NotifyRunFinished posts the terminal summary, threaded under the started
// message when one was sent. Fail-open: errors are logged, never returned.
func (s *Service) NotifyRunFinished(ctx context.Context, sess models.PipelineSession, report *models.TestReport) {
	if s == nil {
		return
	}
	s.mu.Lock()
	threadTS := s.threads[sess.SessionID]
	delete(s.threads, sess.SessionID)
	s.mu.Unlock()

	blocks := BuildRunFinishedMessage(sess, report, s.dashboardURL)
	if _, err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("Failed to send Slack run summary",
			"session_id", sess.SessionID, "status", sess.Status, "error", err)
	}
}

// lookupSession resolves the freshest view of a session: tracker first, then
// the store, then a minimal record derived from the stream chunk.
func (s *Service) lookupSession(ctx context.Context, sessionID string, resp *models.StreamResponse) models.PipelineSession {
	if s.tracker != nil {
		if sess, ok := s.tracker.Get(sessionID); ok {
			return sess
		}
	}
	if s.store != nil {
		if sess, err := s.store.GetSession(ctx, sessionID); err == nil {
			return sess
		}
	}
	sess := models.PipelineSession{SessionID: sessionID, Status: models.SessionStatusRunning}
	if resp != nil && resp.IsFinal {
		sess.Status = models.SessionStatusCompleted
		if resp.Error != "" {
			sess.Status = models.SessionStatusFailed
			sess.Error = resp.Error
		}
	}
	return sess
}
