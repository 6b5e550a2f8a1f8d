package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/session"
)

// PipelineService turns API submissions into pipeline sessions: it registers
// the session with the tracker, mirrors it to the store, and publishes the
// first message of the pipeline.
type PipelineService struct {
	bus     *bus.Bus
	tracker *session.Tracker
	store   *Store // nil: sessions live in memory only
	logger  *slog.Logger
}

// NewPipelineService builds the submission service.
func NewPipelineService(b *bus.Bus, tracker *session.Tracker, store *Store) *PipelineService {
	return &PipelineService{
		bus:     b,
		tracker: tracker,
		store:   store,
		logger:  slog.Default().With("component", "pipeline-service"),
	}
}

// Start subscribes the session recorder so terminal stream responses get
// mirrored to the store. No-op without a store.
func (p *PipelineService) Start() error {
	if p.store == nil {
		return nil
	}
	return p.bus.Subscribe(models.TopicStreamResponse, "session-recorder", p.recordTerminal)
}

// recordTerminal mirrors the tracker's terminal snapshot to the store when a
// session finishes. Non-final chunks are ignored; write failures are logged,
// never propagated into the stream path.
func (p *PipelineService) recordTerminal(ctx context.Context, msg *models.Message) error {
	resp, ok := msg.Payload.(*models.StreamResponse)
	if !ok || !resp.IsFinal {
		return nil
	}
	sess, tracked := p.tracker.Get(msg.Context.SessionID)
	if !tracked {
		return nil
	}
	if err := p.store.UpsertSession(ctx, sess); err != nil {
		p.logger.Warn("Session snapshot write failed",
			"session_id", sess.SessionID, "error", err)
	}
	return nil
}

// ParseRequest submits an API document to the parsing pipeline.
type ParseRequest struct {
	Title   string                 `json:"title,omitempty"`
	Content string                 `json:"content,omitempty"`
	URL     string                 `json:"url,omitempty"`
	Format  string                 `json:"format,omitempty"`
	Options models.PipelineOptions `json:"options"`
}

// SubmitParse starts the API pipeline for one document.
func (p *PipelineService) SubmitParse(ctx context.Context, req *ParseRequest) (models.PipelineSession, error) {
	if strings.TrimSpace(req.Content) == "" && strings.TrimSpace(req.URL) == "" {
		return models.PipelineSession{}, NewValidationError("content", "either content or url is required")
	}

	sess := p.tracker.Begin(models.PipelineAPI, "")
	documentID := mintID("doc")
	p.tracker.AttachIDs(sess.SessionID, documentID, "")
	p.snapshot(ctx, sess.SessionID)

	mc := models.MessageContext{SessionID: sess.SessionID, DocumentID: documentID}
	msg := models.NewMessage(models.TopicDocumentParsing, mc, &models.ParseInput{
		DocumentID: documentID,
		Title:      req.Title,
		Content:    req.Content,
		URL:        req.URL,
		Format:     req.Format,
		Options:    req.Options,
	})
	if err := p.bus.Publish(ctx, msg); err != nil {
		p.tracker.MarkTerminal(sess.SessionID, models.SessionStatusFailed, err.Error())
		return models.PipelineSession{}, fmt.Errorf("publish parse input: %w", err)
	}

	p.logger.Info("Parse submitted",
		"session_id", sess.SessionID, "document_id", documentID, "auto_execute", req.Options.AutoExecute)
	sess, _ = p.tracker.Get(sess.SessionID)
	return sess, nil
}

// UIRequest submits a page analysis to the UI script pipeline.
type UIRequest struct {
	PageURL   string                 `json:"page_url"`
	PageTitle string                 `json:"page_title,omitempty"`
	Elements  []models.UIElement     `json:"elements,omitempty"`
	Flows     []string               `json:"flows,omitempty"`
	Options   models.PipelineOptions `json:"options"`
}

// SubmitUI starts the UI pipeline from a page analysis.
func (p *PipelineService) SubmitUI(ctx context.Context, req *UIRequest) (models.PipelineSession, error) {
	if strings.TrimSpace(req.PageURL) == "" {
		return models.PipelineSession{}, NewValidationError("page_url", "required")
	}

	sess := p.tracker.Begin(models.PipelineUI, "")
	documentID := mintID("page")
	p.tracker.AttachIDs(sess.SessionID, documentID, "")
	p.snapshot(ctx, sess.SessionID)

	mc := models.MessageContext{SessionID: sess.SessionID, DocumentID: documentID}
	msg := models.NewMessage(models.TopicYAMLGeneration, mc, &models.AnalysisOutput{
		DocumentID: documentID,
		UI: &models.UIAnalysis{
			PageURL:   req.PageURL,
			PageTitle: req.PageTitle,
			Elements:  req.Elements,
			Flows:     req.Flows,
		},
		Options: req.Options,
	})
	if err := p.bus.Publish(ctx, msg); err != nil {
		p.tracker.MarkTerminal(sess.SessionID, models.SessionStatusFailed, err.Error())
		return models.PipelineSession{}, fmt.Errorf("publish ui analysis: %w", err)
	}

	p.logger.Info("UI generation submitted",
		"session_id", sess.SessionID, "document_id", documentID, "page_url", req.PageURL)
	sess, _ = p.tracker.Get(sess.SessionID)
	return sess, nil
}

// ExecutionRequest submits a standalone script run.
type ExecutionRequest struct {
	Kind      models.ExecutionKind   `json:"kind"`
	Scripts   []models.TestScript    `json:"scripts,omitempty"`
	ScriptIDs []string               `json:"script_ids,omitempty"`
	Config    models.ExecutionConfig `json:"config"`
}

// SubmitExecution starts an execution-only session for already generated
// scripts, inline or by ID.
func (p *PipelineService) SubmitExecution(ctx context.Context, req *ExecutionRequest) (models.PipelineSession, error) {
	if len(req.Scripts) == 0 && len(req.ScriptIDs) == 0 {
		return models.PipelineSession{}, NewValidationError("scripts", "either scripts or script_ids is required")
	}

	var (
		kind  models.PipelineKind
		topic models.TopicType
	)
	switch req.Kind {
	case models.ExecutionKindAPI, "":
		kind, topic = models.PipelineAPI, models.TopicScriptExecution
	case models.ExecutionKindUI:
		kind, topic = models.PipelineUI, models.TopicUIExecution
	default:
		return models.PipelineSession{}, NewValidationError("kind", fmt.Sprintf("unknown execution kind %q", req.Kind))
	}

	sess := p.tracker.Begin(kind, "")
	executionID := mintID("exec")
	p.tracker.AttachIDs(sess.SessionID, "", executionID)
	p.snapshot(ctx, sess.SessionID)

	mc := models.MessageContext{SessionID: sess.SessionID, ExecutionID: executionID}
	msg := models.NewMessage(topic, mc, &models.ExecutionInput{
		ExecutionID: executionID,
		Kind:        req.Kind,
		Scripts:     req.Scripts,
		ScriptIDs:   req.ScriptIDs,
		Config:      req.Config,
	})
	if err := p.bus.Publish(ctx, msg); err != nil {
		p.tracker.MarkTerminal(sess.SessionID, models.SessionStatusFailed, err.Error())
		return models.PipelineSession{}, fmt.Errorf("publish execution input: %w", err)
	}

	p.logger.Info("Execution submitted",
		"session_id", sess.SessionID, "execution_id", executionID, "kind", kind)
	sess, _ = p.tracker.Get(sess.SessionID)
	return sess, nil
}

// Cancel requests cancellation of a session's in-flight work. Returns false
// when the session is unknown or has no cancellable work bound.
func (p *PipelineService) Cancel(sessionID string) bool {
	return p.tracker.Cancel(sessionID)
}

// Status returns a session, preferring the live tracker over the store.
func (p *PipelineService) Status(ctx context.Context, sessionID string) (models.PipelineSession, error) {
	if sess, ok := p.tracker.Get(sessionID); ok {
		return sess, nil
	}
	if p.store == nil {
		return models.PipelineSession{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return p.store.GetSession(ctx, sessionID)
}

// List returns the live sessions the tracker knows, newest first.
func (p *PipelineService) List() []models.PipelineSession {
	return p.tracker.List()
}

// snapshot mirrors the current tracker state of a session to the store,
// best-effort.
func (p *PipelineService) snapshot(ctx context.Context, sessionID string) {
	if p.store == nil {
		return
	}
	sess, ok := p.tracker.Get(sessionID)
	if !ok {
		return
	}
	if err := p.store.UpsertSession(ctx, sess); err != nil {
		p.logger.Warn("Session snapshot write failed", "session_id", sessionID, "error", err)
	}
}

// mintID builds a short prefixed identifier.
func mintID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
