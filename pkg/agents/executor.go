package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/executor"
	"github.com/testrig-ai/testrig/pkg/models"
)

// Executor runs generated API test scripts through the script runner. It
// owns the execution record lifecycle: pending, running, then exactly one
// terminal transition persisted before the terminal stream response.
type Executor struct {
	*agent.BaseAgent
}

// NewExecutor builds the script execution agent.
func NewExecutor(deps *agent.Deps) *Executor {
	return &Executor{BaseAgent: agent.NewBase(deps, models.AgentExecutor)}
}

// Handle implements agent.Agent.
func (a *Executor) Handle(ctx context.Context, msg *models.Message) error {
	input, ok := msg.Payload.(*models.ExecutionInput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.execute(ctx, msg.Context, input)
}

func (a *Executor) execute(ctx context.Context, mc models.MessageContext, input *models.ExecutionInput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "script_execution")
	}
	if deps.Runner == nil {
		err := agent.Errorf(agent.ClassConfiguration, "no script runner configured")
		a.HandleException(ctx, mc, "script execution", err)
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
		a.HandleException(ctx, mc, "script execution", err)
		return err
	}

	scripts, err := a.resolveScripts(ctx, store, input)
	if err != nil {
		a.HandleException(ctx, mc, "script lookup", err)
		return err
	}

	record := &models.ExecutionRecord{
		ExecutionID: executionID,
		SessionID:   mc.SessionID,
		Kind:        models.ExecutionKindAPI,
		Config:      input.Config,
		Environment: input.Config.Environment,
	}
	beginRecord(ctx, store, a.Logger(), record)

	if err := a.SendStream(ctx, mc, fmt.Sprintf("Executing %d script(s)\n", len(scripts))); err != nil {
		a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
	}

	// Bind the run to the session's cancel hook so an API cancel interrupts
	// the subprocess instead of waiting it out.
	runCtx := ctx
	if deps.Sessions != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		deps.Sessions.BindCancel(mc.SessionID, cancel)
	}

	cfg := input.Config
	cfg.BatchID = executionID
	report, runErr := deps.Runner.Run(runCtx, &agent.RunRequest{
		SessionID:   mc.SessionID,
		ExecutionID: executionID,
		Scripts:     scripts,
		Config:      cfg,
		OnLine:      a.lineSink(ctx, mc),
	})

	var execErr *executor.RunError
	if errors.As(runErr, &execErr) {
		rc := execErr.ReturnCode
		record.ReturnCode = &rc
	}
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
		a.HandleException(ctx, mc, "script execution", runErr)
		return runErr
	}
	return a.SendFinal(ctx, mc, executionSummary(report), report.AsResult())
}

// resolveScripts uses inline scripts when present, otherwise loads the
// referenced IDs through the store.
func (a *Executor) resolveScripts(ctx context.Context, store agent.Store, input *models.ExecutionInput) ([]models.TestScript, error) {
	if len(input.Scripts) > 0 {
		return input.Scripts, nil
	}
	if len(input.ScriptIDs) == 0 {
		return nil, agent.Errorf(agent.ClassInputMalformed, "execution %s carries no scripts", input.ExecutionID)
	}
	if store == nil {
		return nil, agent.ErrNoStore
	}
	scripts, err := store.GetScripts(ctx, input.ScriptIDs)
	if err != nil {
		return nil, err
	}
	if len(scripts) == 0 {
		return nil, agent.Errorf(agent.ClassInputMalformed, "no scripts found for ids %v", input.ScriptIDs)
	}
	return scripts, nil
}

// lineSink turns runner output lines into log records and stream chunks.
func (a *Executor) lineSink(ctx context.Context, mc models.MessageContext) func(stream, line string) {
	return func(stream, line string) {
		level := models.LogLevelInfo
		if stream == "stderr" {
			level = models.LogLevelWarn
		}
		record := &models.LogRecord{
			ExecutionID: mc.ExecutionID,
			Source:      a.Type(),
			Level:       level,
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

func executionSummary(report *models.TestReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Execution finished: %d passed, %d failed", report.Passed, report.Failed)
	if report.Skipped > 0 {
		fmt.Fprintf(&sb, ", %d skipped", report.Skipped)
	}
	if report.Errors > 0 {
		fmt.Fprintf(&sb, ", %d error(s)", report.Errors)
	}
	fmt.Fprintf(&sb, " (%.1f%% success)\n", report.SuccessRate*100)
	return sb.String()
}
