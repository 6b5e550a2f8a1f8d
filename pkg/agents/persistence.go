package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/models"
)

// Persistence writes pipeline artifacts through the store. It is a sink:
// write failures are returned for accounting but never terminate the
// session, and without a configured store every request is dropped with a
// warning.
type Persistence struct {
	*agent.BaseAgent
}

// NewPersistence builds the persistence agent.
func NewPersistence(deps *agent.Deps) *Persistence {
	return &Persistence{BaseAgent: agent.NewBase(deps, models.AgentPersistence)}
}

// Handle implements agent.Agent.
func (a *Persistence) Handle(ctx context.Context, msg *models.Message) error {
	store, err := a.EnsureStore(ctx)
	if errors.Is(err, agent.ErrNoStore) {
		a.Logger().Warn("Persistence request dropped; no store configured",
			"payload_type", string(models.PayloadTypeOf(msg.Payload)),
			"session_id", msg.Context.SessionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	mc := msg.Context
	switch p := msg.Payload.(type) {
	case *models.ParseOutput:
		return store.SaveEndpoints(ctx, mc.SessionID, p.DocumentID, p.Endpoints)
	case *models.AnalysisOutput:
		return store.SaveAnalysis(ctx, mc.SessionID, p.DocumentID, p)
	case *models.TestCaseGenerationOutput:
		return store.SaveTestCases(ctx, mc.SessionID, p.DocumentID, p.Cases)
	case *models.ScriptGenerationOutput:
		return store.SaveScripts(ctx, mc.SessionID, p.DocumentID, p.Scripts)
	case *models.ExecutionOutput:
		if p.Report == nil {
			return nil
		}
		return store.SaveReport(ctx, p.Report)
	default:
		return a.IgnoreUnexpected(msg)
	}
}
