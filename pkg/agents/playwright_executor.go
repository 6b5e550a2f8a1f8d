package agents

import (
	"context"
	"fmt"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/uirunner"
)

// PlaywrightExecutor runs YAML UI scripts through the browser runner. The
// runner owns the sandbox lease; this agent owns the execution record
// lifecycle and the terminal response, mirroring the API executor.
type PlaywrightExecutor struct {
	*agent.BaseAgent
}

// NewPlaywrightExecutor builds the UI execution agent.
func NewPlaywrightExecutor(deps *agent.Deps) *PlaywrightExecutor {
	return &PlaywrightExecutor{BaseAgent: agent.NewBase(deps, models.AgentPlaywrightExecutor)}
}

// Handle implements agent.Agent.
func (a *PlaywrightExecutor) Handle(ctx context.Context, msg *models.Message) error {
	input, ok := msg.Payload.(*models.ExecutionInput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.execute(ctx, msg.Context, input)
}

func (a *PlaywrightExecutor) execute(ctx context.Context, mc models.MessageContext, input *models.ExecutionInput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "ui_execution")
	}
	if deps.Browser == nil {
		err := agent.Errorf(agent.ClassConfiguration, "no browser runner configured")
		a.HandleException(ctx, mc, "ui execution", err)
		return err
	}

	executionID := input.ExecutionID
	if executionID == "" {
		executionID = newID("exec")
	}
	mc.ExecutionID = executionID
	if deps.Sessions != nil {
		deps.Sessions.AttachIDs(mc.SessionID, "", executionID)
	}

	store, err := openStoreOrNil(ctx, a.BaseAgent)
	if err != nil {
		a.HandleException(ctx, mc, "ui execution", err)
		return err
	}

	script, scriptID, err := a.resolveScript(ctx, store, input)
	if err != nil {
		a.HandleException(ctx, mc, "ui script lookup", err)
		return err
	}

	record := &models.ExecutionRecord{
		ExecutionID: executionID,
		SessionID:   mc.SessionID,
		ScriptID:    scriptID,
		Kind:        models.ExecutionKindUI,
		Config:      input.Config,
		Environment: input.Config.Environment,
	}
	beginRecord(ctx, store, a.Logger(), record)

	if err := a.SendStream(ctx, mc, fmt.Sprintf("Running UI script %s (%d step(s))\n", script.Name, len(script.Steps))); err != nil {
		a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
	}

	// Bind the run to the session's cancel hook so an API cancel tears the
	// browser run down instead of waiting it out.
	runCtx := ctx
	if deps.Sessions != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		deps.Sessions.BindCancel(mc.SessionID, cancel)
	}

	report, runErr := deps.Browser.Run(runCtx, &agent.BrowserRunRequest{
		SessionID:   mc.SessionID,
		ExecutionID: executionID,
		Script:      *script,
		Config:      input.Config,
		OnLine:      a.lineSink(ctx, mc),
	})
	finishRecord(ctx, store, a.Logger(), record, report, runErr)

	output := &models.ExecutionOutput{
		ExecutionID: executionID,
		Status:      record.Status,
		Report:      report,
		Error:       record.Error,
	}
	if report != nil {
		output.ReportPath = report.ReportPath
	}
	if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
		a.Logger().Warn("Execution output publish failed", "execution_id", executionID, "error", err)
	}

	if runErr != nil {
		a.HandleException(ctx, mc, "ui execution", runErr)
		return runErr
	}
	return a.SendFinal(ctx, mc, executionSummary(report), report.AsResult())
}

// resolveScript finds the single YAML script of this execution, inline or
// through the store, and parses it strictly.
func (a *PlaywrightExecutor) resolveScript(ctx context.Context, store agent.Store, input *models.ExecutionInput) (*models.UIScript, string, error) {
	raw := input.Scripts
	if len(raw) == 0 && len(input.ScriptIDs) > 0 {
		if store == nil {
			return nil, "", agent.ErrNoStore
		}
		loaded, err := store.GetScripts(ctx, input.ScriptIDs)
		if err != nil {
			return nil, "", err
		}
		raw = loaded
	}
	if len(raw) == 0 {
		return nil, "", agent.Errorf(agent.ClassInputMalformed, "execution %s carries no UI script", input.ExecutionID)
	}

	script, err := uirunner.ParseScript(raw[0].Content)
	if err != nil {
		return nil, "", err
	}
	return script, raw[0].ScriptID, nil
}

// lineSink mirrors the API executor's: runner output becomes log records and
// stream chunks.
func (a *PlaywrightExecutor) lineSink(ctx context.Context, mc models.MessageContext) func(stream, line string) {
	return func(stream, line string) {
		record := &models.LogRecord{
			ExecutionID: mc.ExecutionID,
			Source:      a.Type(),
			Level:       models.LogLevelInfo,
			Line:        line,
			Stream:      stream,
		}
		if err := forward(ctx, a.Deps(), models.TopicLogRecording, mc, a.Type(), record); err != nil {
			a.Logger().Warn("Log record publish failed", "execution_id", mc.ExecutionID, "error", err)
		}
		if err := a.SendStream(ctx, mc, line+"\n"); err != nil {
			a.Logger().Warn("Output stream publish failed", "execution_id", mc.ExecutionID, "error", err)
		}
	}
}
