package agents

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
)

const scriptGenSystem = `You write pytest test files for HTTP APIs using the
requests library. The base URL comes from the BASE_URL environment variable:
BASE_URL = os.environ.get("BASE_URL", "http://localhost:8000"). Every test
case becomes one test_ function asserting the expected status code and the
listed assertions. Respond with a single complete Python file in a fenced
code block. No prose outside the fence.`

// ScriptGenerator turns test cases into runnable pytest files, one per
// endpoint group, optionally consulting the snippet retriever for reference
// material.
type ScriptGenerator struct {
	*agent.BaseAgent
}

// NewScriptGenerator builds the script generation agent.
func NewScriptGenerator(deps *agent.Deps) *ScriptGenerator {
	return &ScriptGenerator{BaseAgent: agent.NewBase(deps, models.AgentScriptGenerator)}
}

// Handle implements agent.Agent.
func (a *ScriptGenerator) Handle(ctx context.Context, msg *models.Message) error {
	input, ok := msg.Payload.(*models.ScriptGenerationInput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.generate(ctx, msg.Context, input)
}

func (a *ScriptGenerator) generate(ctx context.Context, mc models.MessageContext, input *models.ScriptGenerationInput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "script_generation")
	}
	mc.DocumentID = input.DocumentID

	if len(input.Cases) == 0 {
		return a.SendFinal(ctx, mc, "No test cases; nothing to script.\n", map[string]any{
			"document_id":   input.DocumentID,
			"total_scripts": 0,
		})
	}

	groups := groupCases(input.Cases, input.Plan)
	scripts := make([]models.TestScript, 0, len(groups))
	for _, g := range groups {
		script, err := a.generateFile(ctx, mc, g)
		if err != nil {
			a.HandleException(ctx, mc, "script generation", err)
			return err
		}
		scripts = append(scripts, script)
		if err := a.SendStream(ctx, mc, fmt.Sprintf("Generated %s (%d case(s))\n", script.Name, len(g.cases))); err != nil {
			a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
		}
	}

	output := &models.ScriptGenerationOutput{
		DocumentID:   input.DocumentID,
		Scripts:      scripts,
		Requirements: unionDependencies(scripts),
		Options:      input.Options,
	}
	if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
		a.HandleException(ctx, mc, "script persistence request", err)
		return err
	}

	if !input.Options.AutoExecute {
		scriptIDs := make([]string, len(scripts))
		for i, s := range scripts {
			scriptIDs[i] = s.ScriptID
		}
		return a.SendFinal(ctx, mc, fmt.Sprintf("Generated %d script(s).\n", len(scripts)), map[string]any{
			"document_id":   input.DocumentID,
			"total_scripts": len(scripts),
			"script_ids":    scriptIDs,
		})
	}

	executionID := newID("exec")
	mc.ExecutionID = executionID
	if deps.Sessions != nil {
		deps.Sessions.AttachIDs(mc.SessionID, "", executionID)
	}
	next := &models.ExecutionInput{
		ExecutionID: executionID,
		Kind:        models.ExecutionKindAPI,
		Scripts:     scripts,
		Config: models.ExecutionConfig{
			BaseURL:     input.Options.BaseURL,
			Environment: input.Options.Environment,
		},
	}
	if err := forward(ctx, deps, models.TopicScriptExecution, mc, a.Type(), next); err != nil {
		a.HandleException(ctx, mc, "execution handoff", err)
		return err
	}
	return nil
}

// caseGroup is the unit of script generation: the cases of one endpoint.
type caseGroup struct {
	key   string
	cases []models.TestCase
}

// groupCases buckets cases by endpoint in a deterministic order: execution
// plan order first, then alphabetical for endpoints the plan does not name.
// Cases without an endpoint share a misc bucket.
func groupCases(cases []models.TestCase, plan *models.ExecutionPlan) []caseGroup {
	byKey := make(map[string][]models.TestCase)
	for _, c := range cases {
		key := c.EndpointID
		if key == "" {
			key = "misc"
		}
		byKey[key] = append(byKey[key], c)
	}

	var keys []string
	taken := make(map[string]bool, len(byKey))
	for _, id := range plan.EndpointIDs() {
		if _, ok := byKey[id]; ok && !taken[id] {
			keys = append(keys, id)
			taken[id] = true
		}
	}
	var rest []string
	for k := range byKey {
		if !taken[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	groups := make([]caseGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, caseGroup{key: k, cases: byKey[k]})
	}
	return groups
}

func (a *ScriptGenerator) generateFile(ctx context.Context, mc models.MessageContext, g caseGroup) (models.TestScript, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Test cases:\n%s\n", marshalCompact(g.cases))

	if snippets := a.retrieveSnippets(ctx, g); len(snippets) > 0 {
		sb.WriteString("\nReference snippets:\n")
		for _, s := range snippets {
			sb.WriteString(s)
			sb.WriteString("\n---\n")
		}
	}

	text, _, err := a.RunLLM(ctx, mc, &llm.Request{System: scriptGenSystem, Prompt: sb.String()})
	if err != nil {
		return models.TestScript{}, err
	}
	content := extractCode(text)
	if !strings.Contains(content, "def test_") {
		return models.TestScript{}, agent.Errorf(agent.ClassInputMalformed,
			"generated script for %s contains no test function", g.key)
	}

	caseIDs := make([]string, len(g.cases))
	for i, c := range g.cases {
		caseIDs[i] = c.CaseID
	}
	name := fmt.Sprintf("test_%s.py", slugify(g.key))
	return models.TestScript{
		ScriptID:     newID("script"),
		Name:         name,
		Path:         "tests/" + name,
		Language:     models.ScriptLanguagePython,
		Framework:    models.FrameworkPytest,
		Content:      content,
		Dependencies: pythonDependencies(content),
		CaseIDs:      caseIDs,
	}, nil
}

// pythonStdlib lists the standard-library modules generated scripts commonly
// import. Imports outside this set are declared as runtime dependencies.
var pythonStdlib = map[string]bool{
	"os": true, "sys": true, "json": true, "time": true, "re": true,
	"math": true, "random": true, "uuid": true, "datetime": true,
	"typing": true, "collections": true, "itertools": true,
	"functools": true, "urllib": true, "http": true, "unittest": true,
	"logging": true, "base64": true, "hashlib": true, "pathlib": true,
}

var importLineRe = regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// pythonDependencies scans a script's import lines and returns the sorted
// non-stdlib packages it needs at run time. pytest is always declared: the
// file is a pytest module even when it never imports the name.
func pythonDependencies(content string) []string {
	deps := map[string]bool{"pytest": true}
	for _, m := range importLineRe.FindAllStringSubmatch(content, -1) {
		module := m[1]
		if !pythonStdlib[module] {
			deps[module] = true
		}
	}
	out := make([]string, 0, len(deps))
	for d := range deps {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// unionDependencies deduplicates every script's declared dependencies into
// one sorted requirements list.
func unionDependencies(scripts []models.TestScript) []string {
	set := make(map[string]bool)
	for _, s := range scripts {
		for _, d := range s.Dependencies {
			set[d] = true
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// retrieveSnippets consults the snippet retriever under the retrieval
// budget. The lookup is best-effort: failures and timeouts degrade to no
// snippets.
func (a *ScriptGenerator) retrieveSnippets(ctx context.Context, g caseGroup) []string {
	deps := a.Deps()
	if deps.Retriever == nil {
		return nil
	}
	ragCtx, cancel := context.WithTimeout(ctx, deps.RAGBudget())
	defer cancel()

	query := "pytest requests API test " + g.key
	if len(g.cases) > 0 {
		query = fmt.Sprintf("pytest requests %s %s", g.cases[0].Method, g.cases[0].Path)
	}
	snippets, err := deps.Retriever.Retrieve(ragCtx, query)
	if err != nil {
		a.Logger().Warn("Snippet retrieval failed; continuing without", "error", err)
		return nil
	}
	return snippets
}
