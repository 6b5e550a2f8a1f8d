package agents

import (
	"context"
	"fmt"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/uirunner"
)

const yamlGenSystem = `You write YAML UI test scripts from a page analysis.
The script format is:

name: <script name>
base_url: <page origin>
steps:
  - name: <step name>
    navigate: <url or path>
  - click: <css selector>
  - fill: <css selector>
    value: <text>
  - wait_for: <css selector>
  - assert_text: <expected text>
    selector: <css selector>
  - screenshot: <file name>.png

Each step carries exactly one action. Use only selectors from the analysis.
End with a screenshot step. Respond with the YAML in a fenced code block, no
prose outside the fence.`

// yamlGenRetries bounds regeneration after a validation failure. The second
// attempt carries the validator's complaint.
const yamlGenRetries = 1

// YAMLGenerator turns a vision-model page analysis into a validated YAML UI
// test script and hands it to the UI executor.
type YAMLGenerator struct {
	*agent.BaseAgent
}

// NewYAMLGenerator builds the UI script generation agent.
func NewYAMLGenerator(deps *agent.Deps) *YAMLGenerator {
	return &YAMLGenerator{BaseAgent: agent.NewBase(deps, models.AgentYAMLGenerator)}
}

// Handle implements agent.Agent.
func (a *YAMLGenerator) Handle(ctx context.Context, msg *models.Message) error {
	analysis, ok := msg.Payload.(*models.AnalysisOutput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.generate(ctx, msg.Context, analysis)
}

func (a *YAMLGenerator) generate(ctx context.Context, mc models.MessageContext, analysis *models.AnalysisOutput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "yaml_generation")
	}
	mc.DocumentID = analysis.DocumentID

	if analysis.UI == nil {
		err := agent.Errorf(agent.ClassInputMalformed, "analysis %s carries no page analysis", analysis.DocumentID)
		a.HandleException(ctx, mc, "ui script generation", err)
		return err
	}

	content, script, err := a.generateValidated(ctx, mc, analysis.UI)
	if err != nil {
		a.HandleException(ctx, mc, "ui script generation", err)
		return err
	}

	name := slugify(script.Name) + ".yaml"
	testScript := models.TestScript{
		ScriptID:  newID("script"),
		Name:      name,
		Path:      "e2e/" + name,
		Language:  models.ScriptLanguageYAML,
		Framework: models.FrameworkPlaywright,
		Content:   content,
	}
	output := &models.ScriptGenerationOutput{
		DocumentID: analysis.DocumentID,
		Scripts:    []models.TestScript{testScript},
		Options:    analysis.Options,
	}
	if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
		a.HandleException(ctx, mc, "ui script persistence request", err)
		return err
	}
	if err := a.SendStream(ctx, mc, fmt.Sprintf("Generated UI script %s (%d step(s))\n", testScript.Name, len(script.Steps))); err != nil {
		a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
	}

	if !analysis.Options.AutoExecute {
		return a.SendFinal(ctx, mc, "UI script generated.\n", map[string]any{
			"document_id": analysis.DocumentID,
			"script_id":   testScript.ScriptID,
			"script_name": testScript.Name,
			"steps":       len(script.Steps),
		})
	}

	executionID := newID("exec")
	mc.ExecutionID = executionID
	if deps.Sessions != nil {
		deps.Sessions.AttachIDs(mc.SessionID, "", executionID)
	}
	next := &models.ExecutionInput{
		ExecutionID: executionID,
		Kind:        models.ExecutionKindUI,
		Scripts:     []models.TestScript{testScript},
		Config: models.ExecutionConfig{
			BaseURL:     analysis.Options.BaseURL,
			Environment: analysis.Options.Environment,
		},
	}
	if err := forward(ctx, deps, models.TopicUIExecution, mc, a.Type(), next); err != nil {
		a.HandleException(ctx, mc, "ui execution handoff", err)
		return err
	}
	return nil
}

// generateValidated asks the model for a script and strictly validates it,
// feeding a validation failure back into one retry.
func (a *YAMLGenerator) generateValidated(ctx context.Context, mc models.MessageContext, ui *models.UIAnalysis) (string, *models.UIScript, error) {
	prompt := fmt.Sprintf("Page analysis:\n%s", marshalCompact(ui))

	var lastErr error
	for attempt := 0; attempt <= yamlGenRetries; attempt++ {
		if attempt > 0 {
			prompt = fmt.Sprintf("%s\n\nYour previous script was invalid: %v\nFix it and respond with the corrected YAML.", prompt, lastErr)
		}
		text, _, err := a.RunLLM(ctx, mc, &llm.Request{System: yamlGenSystem, Prompt: prompt})
		if err != nil {
			return "", nil, err
		}
		content := extractCode(text)
		script, err := uirunner.ParseScript(content)
		if err == nil {
			return content, script, nil
		}
		lastErr = err
		a.Logger().Warn("Generated UI script failed validation",
			"session_id", mc.SessionID, "attempt", attempt+1, "error", err)
	}
	return "", nil, agent.NewError(agent.ClassInputMalformed,
		fmt.Errorf("ui script invalid after %d attempt(s): %w", yamlGenRetries+1, lastErr))
}
