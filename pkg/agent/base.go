package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
)

// BaseAgent is the substrate domain agents embed: model calls under a budget,
// stream publishing, the terminal-response guard, failure classification and
// per-agent counters. Embedders implement Handle and may override Start/Stop.
type BaseAgent struct {
	deps      *Deps
	agentType models.AgentType
	logger    *slog.Logger

	llmCalls         atomic.Int64
	llmFailures      atomic.Int64
	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	streamsSent      atomic.Int64
	finalsSent       atomic.Int64
	exceptions       atomic.Int64

	mu         sync.Mutex
	lastError  string
	lastActive time.Time
}

// NewBase builds the embedded substrate for one agent type.
func NewBase(deps *Deps, agentType models.AgentType) *BaseAgent {
	return &BaseAgent{
		deps:      deps,
		agentType: agentType,
		logger:    slog.Default().With("component", "agent", "agent_type", string(agentType)),
	}
}

// Type returns the agent type this base was built for.
func (a *BaseAgent) Type() models.AgentType { return a.agentType }

// Start is a no-op default; agents with setup work override it.
func (a *BaseAgent) Start(ctx context.Context) error { return nil }

// Stop is a no-op default; agents with teardown work override it.
func (a *BaseAgent) Stop(ctx context.Context) error { return nil }

// Deps exposes the shared dependency bundle to embedders.
func (a *BaseAgent) Deps() *Deps { return a.deps }

// Logger exposes the agent-scoped logger to embedders.
func (a *BaseAgent) Logger() *slog.Logger { return a.logger }

// RunLLM invokes this agent's configured model under the LLM budget. With
// req.Stream set, every text delta is forwarded as a non-final StreamResponse
// while the full text accumulates. The accumulated text is returned even on
// error so callers can log partial output. RunLLM never retries.
func (a *BaseAgent) RunLLM(ctx context.Context, mc models.MessageContext, req *llm.Request) (string, *llm.UsageChunk, error) {
	if a.deps.Models == nil {
		return "", nil, Errorf(ClassConfiguration, "agent %s: no model registry configured", a.agentType)
	}
	client := a.deps.Models.ClientFor(a.deps.ProviderFor(a.agentType))

	// Bounded, cancellable call. The derived cancel also tears down the
	// producer goroutine inside Generate on every return path.
	llmCtx, cancel := context.WithTimeout(ctx, a.deps.LLMBudget())
	defer cancel()

	a.llmCalls.Add(1)
	a.touch()

	stream, err := client.Generate(llmCtx, req)
	if err != nil {
		a.llmFailures.Add(1)
		a.noteFailure(err)
		return "", nil, NewError(ClassTransient, fmt.Errorf("model generate: %w", err))
	}

	var onText func(delta string)
	if req.Stream {
		onText = func(delta string) {
			// Publish on the parent context so an expiring LLM budget
			// does not abort delivery of chunks already received.
			if sendErr := a.SendStream(ctx, mc, delta); sendErr != nil {
				a.logger.Warn("Stream chunk publish failed",
					"session_id", mc.SessionID, "error", sendErr)
			}
		}
	}

	text, usage, err := llm.CollectWithCallback(stream, onText)
	if usage != nil {
		a.promptTokens.Add(int64(usage.PromptTokens))
		a.completionTokens.Add(int64(usage.CompletionTokens))
	}
	// Some clients end the stream silently when the context expires.
	if err == nil && llmCtx.Err() != nil {
		err = llmCtx.Err()
	}
	if err != nil {
		a.llmFailures.Add(1)
		a.noteFailure(err)
		return text, usage, NewError(ClassOf(err), fmt.Errorf("model stream: %w", err))
	}
	return text, usage, nil
}

// SendStream publishes a non-final StreamResponse chunk for this agent's
// source. Empty content is skipped.
func (a *BaseAgent) SendStream(ctx context.Context, mc models.MessageContext, content string) error {
	if content == "" {
		return nil
	}
	a.streamsSent.Add(1)
	a.touch()
	return a.publish(ctx, mc, &models.StreamResponse{
		Source:  a.agentType,
		Content: content,
	})
}

// SendFinal publishes the session's terminal StreamResponse with an optional
// structured result. Tracked sessions emit exactly one terminal response:
// later attempts are suppressed and logged.
func (a *BaseAgent) SendFinal(ctx context.Context, mc models.MessageContext, content string, result map[string]any) error {
	if !a.claimTerminal(mc, models.SessionStatusCompleted, "") {
		a.logger.Warn("Duplicate terminal response suppressed",
			"session_id", mc.SessionID)
		return nil
	}
	a.finalsSent.Add(1)
	a.touch()
	return a.publish(ctx, mc, &models.StreamResponse{
		Source:  a.agentType,
		Content: content,
		IsFinal: true,
		Result:  result,
	})
}

// HandleException is the uniform failure exit: classify, log, count, then
// emit the terminal StreamResponse carrying the error so the session never
// hangs. Safe to call from any handler path; duplicate terminals for a
// tracked session are suppressed.
func (a *BaseAgent) HandleException(ctx context.Context, mc models.MessageContext, operation string, err error) {
	class := ClassOf(err)
	a.exceptions.Add(1)
	a.noteFailure(err)
	a.logger.Error("Agent operation failed",
		"operation", operation,
		"class", string(class),
		"session_id", mc.SessionID,
		"error", err)

	content := fmt.Sprintf("%s failed: %v", operation, err)
	if !a.claimTerminal(mc, models.SessionStatusFailed, content) {
		return
	}
	a.finalsSent.Add(1)
	resp := &models.StreamResponse{
		Source:  a.agentType,
		Content: content,
		IsFinal: true,
		Error:   err.Error(),
	}
	if pubErr := a.publish(ctx, mc, resp); pubErr != nil {
		a.logger.Error("Terminal response publish failed",
			"session_id", mc.SessionID, "error", pubErr)
	}
}

// IgnoreUnexpected logs and drops a payload the agent has no handler for.
// Unexpected payloads are never errors: the pipeline keeps moving.
func (a *BaseAgent) IgnoreUnexpected(msg *models.Message) error {
	a.logger.Warn("Ignoring unexpected payload",
		"topic", string(msg.Topic),
		"payload_type", string(models.PayloadTypeOf(msg.Payload)),
		"session_id", msg.Context.SessionID)
	return nil
}

// EnsureStore opens the shared persistence layer on first use.
func (a *BaseAgent) EnsureStore(ctx context.Context) (Store, error) {
	return a.deps.EnsureStore(ctx)
}

// claimTerminal reports whether this agent may emit the session's terminal
// response. Tracked sessions transition through the tracker exactly once;
// sessions the tracker does not know are not guarded.
func (a *BaseAgent) claimTerminal(mc models.MessageContext, status models.SessionStatus, errMsg string) bool {
	if a.deps.Sessions == nil {
		return true
	}
	if _, tracked := a.deps.Sessions.Get(mc.SessionID); !tracked {
		return true
	}
	return a.deps.Sessions.MarkTerminal(mc.SessionID, status, errMsg)
}

func (a *BaseAgent) publish(ctx context.Context, mc models.MessageContext, resp *models.StreamResponse) error {
	msg := models.NewMessage(models.TopicStreamCollection, mc.WithSender(a.agentType), resp)
	return a.deps.Bus.Publish(ctx, msg)
}

func (a *BaseAgent) touch() {
	a.mu.Lock()
	a.lastActive = time.Now().UTC()
	a.mu.Unlock()
}

func (a *BaseAgent) noteFailure(err error) {
	a.mu.Lock()
	a.lastError = err.Error()
	a.lastActive = time.Now().UTC()
	a.mu.Unlock()
}

// BaseMetrics is a point-in-time snapshot of an agent's own counters. Handler
// level processed/error/panic counts live with the runtime.
type BaseMetrics struct {
	LLMCalls         int64     `json:"llm_calls"`
	LLMFailures      int64     `json:"llm_failures"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	StreamsSent      int64     `json:"streams_sent"`
	FinalsSent       int64     `json:"finals_sent"`
	Exceptions       int64     `json:"exceptions"`
	LastError        string    `json:"last_error,omitempty"`
	LastActive       time.Time `json:"last_active"`
}

// Metrics returns this agent's counter snapshot.
func (a *BaseAgent) Metrics() BaseMetrics {
	a.mu.Lock()
	lastError, lastActive := a.lastError, a.lastActive
	a.mu.Unlock()
	return BaseMetrics{
		LLMCalls:         a.llmCalls.Load(),
		LLMFailures:      a.llmFailures.Load(),
		PromptTokens:     a.promptTokens.Load(),
		CompletionTokens: a.completionTokens.Load(),
		StreamsSent:      a.streamsSent.Load(),
		FinalsSent:       a.finalsSent.Load(),
		Exceptions:       a.exceptions.Load(),
		LastError:        lastError,
		LastActive:       lastActive,
	}
}
