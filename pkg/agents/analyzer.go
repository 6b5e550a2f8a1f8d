package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
)

const analyzerSystem = `You analyze an API endpoint catalog and derive test points.
For every endpoint cover happy path, boundary values, authentication and error
handling where they apply. Relate the endpoints in a dependency graph and order
them into an execution plan. Respond with a single JSON object:
{"summary": "...",
 "test_points": [{"endpoint_id", "category", "description", "priority"}],
 "dependency_graph": {"nodes": ["<endpoint_id>"],
   "edges": [{"from", "to", "kind", "reason"}]},
 "execution_plan": {"phases": [{"name", "parallel_groups": [["<endpoint_id>"]]}]},
 "risks": [{"endpoint_id", "level", "description"}],
 "test_strategy": "..."}
where test point category is one of happy_path, boundary, auth, error_handling,
edge kind is one of sequence, auth, data, business, functional, and priority
and risk level are high, medium or low. Endpoints in the same parallel group
must not depend on each other. Output JSON only.`

// Analyzer derives test points, a dependency graph and an execution plan
// from an endpoint catalog and forwards them to case generation.
type Analyzer struct {
	*agent.BaseAgent
}

// NewAnalyzer builds the analysis agent.
func NewAnalyzer(deps *agent.Deps) *Analyzer {
	return &Analyzer{BaseAgent: agent.NewBase(deps, models.AgentAnalyzer)}
}

// Handle implements agent.Agent.
func (a *Analyzer) Handle(ctx context.Context, msg *models.Message) error {
	input, ok := msg.Payload.(*models.AnalysisInput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.analyze(ctx, msg.Context, input)
}

func (a *Analyzer) analyze(ctx context.Context, mc models.MessageContext, input *models.AnalysisInput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "api_analysis")
	}
	mc.DocumentID = input.DocumentID

	endpoints, err := a.resolveEndpoints(ctx, input)
	if err != nil {
		a.HandleException(ctx, mc, "endpoint catalog load", err)
		return err
	}

	output := &models.AnalysisOutput{
		DocumentID: input.DocumentID,
		Options:    input.Options,
	}

	// An empty catalog produces an empty analysis; the case generator then
	// terminates the pipeline with a zero-coverage success.
	if len(endpoints) > 0 {
		prompt := fmt.Sprintf("Endpoint catalog:\n%s", marshalCompact(endpoints))
		text, _, err := a.RunLLM(ctx, mc, &llm.Request{
			System: analyzerSystem,
			Prompt: prompt,
			Stream: true,
		})
		if err != nil {
			a.HandleException(ctx, mc, "api analysis", err)
			return err
		}
		obj, err := agent.ExtractJSON(text, []string{"summary", "test_points"})
		if err != nil {
			a.HandleException(ctx, mc, "api analysis", err)
			return err
		}
		var parsed struct {
			Summary    string                  `json:"summary"`
			TestPoints []models.TestPoint      `json:"test_points"`
			Graph      *models.DependencyGraph `json:"dependency_graph"`
			Plan       *models.ExecutionPlan   `json:"execution_plan"`
			Risks      []models.RiskItem       `json:"risks"`
			Strategy   string                  `json:"test_strategy"`
		}
		if err := decodeInto(obj, &parsed); err != nil {
			a.HandleException(ctx, mc, "api analysis", err)
			return err
		}
		output.Summary = parsed.Summary
		output.TestPoints = parsed.TestPoints
		output.Graph = normalizeGraph(parsed.Graph, endpoints)
		output.Plan = normalizePlan(parsed.Plan, endpoints)
		output.Risks = parsed.Risks
		output.Strategy = parsed.Strategy
	}

	if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
		a.HandleException(ctx, mc, "analysis persistence request", err)
		return err
	}

	next := &models.TestCaseGenerationInput{
		DocumentID: input.DocumentID,
		Endpoints:  endpoints,
		TestPoints: output.TestPoints,
		Plan:       output.Plan,
		Strategy:   output.Strategy,
		Options:    input.Options,
	}
	if err := forward(ctx, deps, models.TopicTestCaseGeneration, mc, a.Type(), next); err != nil {
		a.HandleException(ctx, mc, "case generation handoff", err)
		return err
	}
	return nil
}

// normalizeGraph fills a missing graph with an edgeless one over the
// catalog, defaults the node list, drops edges naming unknown endpoints and
// coerces unknown edge kinds to functional.
func normalizeGraph(graph *models.DependencyGraph, endpoints []models.APIEndpoint) *models.DependencyGraph {
	known := make(map[string]bool, len(endpoints))
	ids := make([]string, len(endpoints))
	for i, ep := range endpoints {
		known[ep.EndpointID] = true
		ids[i] = ep.EndpointID
	}
	if graph == nil {
		return &models.DependencyGraph{Nodes: ids}
	}
	if len(graph.Nodes) == 0 {
		graph.Nodes = ids
	}
	edges := graph.Edges[:0]
	for _, e := range graph.Edges {
		if !known[e.From] || !known[e.To] {
			continue
		}
		if !models.ValidEdgeKind(e.Kind) {
			e.Kind = models.EdgeFunctional
		}
		edges = append(edges, e)
	}
	graph.Edges = edges
	return graph
}

// normalizePlan keeps the model's phase ordering but guarantees that every
// catalog endpoint is planned exactly once: unknown IDs are dropped,
// duplicates keep their first placement, and endpoints the model skipped
// join a trailing phase. A missing or empty plan degrades to a single phase.
func normalizePlan(plan *models.ExecutionPlan, endpoints []models.APIEndpoint) *models.ExecutionPlan {
	if plan == nil || len(plan.Phases) == 0 {
		return models.SinglePhasePlan(endpoints)
	}
	known := make(map[string]bool, len(endpoints))
	for _, ep := range endpoints {
		known[ep.EndpointID] = true
	}
	seen := make(map[string]bool, len(endpoints))
	phases := plan.Phases[:0]
	for _, phase := range plan.Phases {
		groups := phase.ParallelGroups[:0]
		for _, group := range phase.ParallelGroups {
			kept := make([]string, 0, len(group))
			for _, id := range group {
				if !known[id] || seen[id] {
					continue
				}
				seen[id] = true
				kept = append(kept, id)
			}
			if len(kept) > 0 {
				groups = append(groups, kept)
			}
		}
		phase.ParallelGroups = groups
		if len(groups) > 0 {
			phases = append(phases, phase)
		}
	}
	var missing []string
	for _, ep := range endpoints {
		if !seen[ep.EndpointID] {
			missing = append(missing, ep.EndpointID)
		}
	}
	if len(missing) > 0 {
		phases = append(phases, models.ExecutionPhase{
			Name:           "remaining",
			ParallelGroups: [][]string{missing},
		})
	}
	plan.Phases = phases
	if len(plan.Phases) == 0 {
		return models.SinglePhasePlan(endpoints)
	}
	return plan
}

// resolveEndpoints uses the inline catalog when present, otherwise loads it
// through the store.
func (a *Analyzer) resolveEndpoints(ctx context.Context, input *models.AnalysisInput) ([]models.APIEndpoint, error) {
	if len(input.Endpoints) > 0 {
		return input.Endpoints, nil
	}
	store, err := a.EnsureStore(ctx)
	if errors.Is(err, agent.ErrNoStore) {
		// No store and no inline catalog: the document genuinely yielded
		// nothing.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return store.GetEndpoints(ctx, input.DocumentID)
}
