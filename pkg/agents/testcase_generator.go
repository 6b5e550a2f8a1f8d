package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
)

const testCaseSystem = `You generate concrete, executable HTTP test cases from
API endpoints and their test points. Respond with a single JSON object:
{"cases": [{"endpoint_id", "name", "type", "method", "path", "headers", "body",
"data": [{"name", "value", "notes"}], "expected_status",
"assertions": [{"kind", "target", "expected", "max_millis"}],
"setup": ["..."], "cleanup": ["..."], "priority", "tags"}]}.
Case type is one of positive, negative, boundary, security, performance.
Assertion kind is one of status_code, body_field, timing; body_field names
the field path in "target", timing sets "max_millis". Every case must name a
real endpoint from the catalog and carry an expected status code. Setup and
cleanup list the steps needed before and after the case. Output JSON only.`

// TestCaseGenerator turns analyzed test points into concrete test cases with
// a coverage summary.
type TestCaseGenerator struct {
	*agent.BaseAgent
}

// NewTestCaseGenerator builds the case generation agent.
func NewTestCaseGenerator(deps *agent.Deps) *TestCaseGenerator {
	return &TestCaseGenerator{BaseAgent: agent.NewBase(deps, models.AgentTestCaseGenerator)}
}

// Handle implements agent.Agent.
func (a *TestCaseGenerator) Handle(ctx context.Context, msg *models.Message) error {
	input, ok := msg.Payload.(*models.TestCaseGenerationInput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.generate(ctx, msg.Context, input)
}

func (a *TestCaseGenerator) generate(ctx context.Context, mc models.MessageContext, input *models.TestCaseGenerationInput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "test_case_generation")
	}
	mc.DocumentID = input.DocumentID

	// An empty catalog is a successful run with zero cases, and it never
	// costs a model call.
	if len(input.Endpoints) == 0 {
		output := &models.TestCaseGenerationOutput{
			DocumentID: input.DocumentID,
			Cases:      []models.TestCase{},
			Coverage:   models.NewCoverageSummary(0, 0, 0),
			Options:    input.Options,
		}
		if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
			a.HandleException(ctx, mc, "case persistence request", err)
			return err
		}
		return a.SendFinal(ctx, mc, "No endpoints found; nothing to test.\n", map[string]any{
			"document_id": input.DocumentID,
			"total_cases": 0,
			"coverage":    output.Coverage,
		})
	}

	var pb strings.Builder
	fmt.Fprintf(&pb, "Endpoint catalog:\n%s\n\nTest points:\n%s",
		marshalCompact(input.Endpoints), marshalCompact(input.TestPoints))
	if input.Plan != nil {
		fmt.Fprintf(&pb, "\n\nExecution plan:\n%s", marshalCompact(input.Plan))
	}
	if input.Strategy != "" {
		fmt.Fprintf(&pb, "\n\nTest strategy:\n%s", input.Strategy)
	}
	prompt := pb.String()
	text, _, err := a.RunLLM(ctx, mc, &llm.Request{System: testCaseSystem, Prompt: prompt})
	if err != nil {
		a.HandleException(ctx, mc, "test case generation", err)
		return err
	}
	obj, err := agent.ExtractJSON(text, []string{"cases"})
	if err != nil {
		a.HandleException(ctx, mc, "test case generation", err)
		return err
	}
	var parsed struct {
		Cases []models.TestCase `json:"cases"`
	}
	if err := decodeInto(obj, &parsed); err != nil {
		a.HandleException(ctx, mc, "test case generation", err)
		return err
	}

	known := make(map[string]bool, len(input.Endpoints))
	for _, ep := range input.Endpoints {
		known[ep.EndpointID] = true
	}
	covered := make(map[string]bool)
	for i := range parsed.Cases {
		c := &parsed.Cases[i]
		if c.CaseID == "" {
			c.CaseID = newID("case")
		}
		if c.ExpectedStatus == 0 {
			c.ExpectedStatus = 200
		}
		if !models.ValidCaseType(c.Type) {
			c.Type = models.CaseTypePositive
		}
		// Every case checks at least its status code.
		if !hasAssertion(c.Assertions, models.AssertStatusCode) {
			c.Assertions = append([]models.Assertion{{
				Kind:     models.AssertStatusCode,
				Expected: c.ExpectedStatus,
			}}, c.Assertions...)
		}
		if known[c.EndpointID] {
			covered[c.EndpointID] = true
		}
	}

	output := &models.TestCaseGenerationOutput{
		DocumentID: input.DocumentID,
		Cases:      parsed.Cases,
		Coverage:   models.NewCoverageSummary(len(input.Endpoints), len(covered), len(parsed.Cases)),
		Options:    input.Options,
	}
	if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
		a.HandleException(ctx, mc, "case persistence request", err)
		return err
	}
	if err := a.SendStream(ctx, mc, fmt.Sprintf("Generated %d test case(s) covering %d/%d endpoint(s)\n",
		len(parsed.Cases), len(covered), len(input.Endpoints))); err != nil {
		a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
	}

	next := &models.ScriptGenerationInput{
		DocumentID: input.DocumentID,
		Cases:      parsed.Cases,
		Plan:       input.Plan,
		Language:   models.ScriptLanguagePython,
		Options:    input.Options,
	}
	if err := forward(ctx, deps, models.TopicScriptGeneration, mc, a.Type(), next); err != nil {
		a.HandleException(ctx, mc, "script generation handoff", err)
		return err
	}
	return nil
}

func hasAssertion(assertions []models.Assertion, kind models.AssertionKind) bool {
	for _, as := range assertions {
		if as.Kind == kind {
			return true
		}
	}
	return false
}
