package models

// EdgeKind classifies a dependency between two endpoints.
type EdgeKind string

const (
	EdgeSequence   EdgeKind = "sequence"
	EdgeAuth       EdgeKind = "auth"
	EdgeData       EdgeKind = "data"
	EdgeBusiness   EdgeKind = "business"
	EdgeFunctional EdgeKind = "functional"
)

// ValidEdgeKind reports whether k is one of the edge kind constants.
func ValidEdgeKind(k EdgeKind) bool {
	switch k {
	case EdgeSequence, EdgeAuth, EdgeData, EdgeBusiness, EdgeFunctional:
		return true
	}
	return false
}

// DependencyEdge is one typed edge in the endpoint dependency graph.
// From and To are endpoint IDs; the edge reads "To depends on From".
type DependencyEdge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Kind   EdgeKind `json:"kind"`
	Reason string   `json:"reason,omitempty"`
}

// DependencyGraph relates the endpoints of one document. Nodes are endpoint
// IDs from the catalog.
type DependencyGraph struct {
	Nodes []string         `json:"nodes"`
	Edges []DependencyEdge `json:"edges,omitempty"`
}

// ExecutionPhase is one ordered step of an execution plan. Endpoints inside
// the same parallel group have no dependencies on each other and may run
// concurrently; groups within a phase run after the previous phase finished.
type ExecutionPhase struct {
	Name           string     `json:"name,omitempty"`
	ParallelGroups [][]string `json:"parallel_groups"`
}

// ExecutionPlan orders endpoint testing so that dependencies run before
// their dependents.
type ExecutionPlan struct {
	Phases []ExecutionPhase `json:"phases"`
}

// EndpointIDs flattens the plan into catalog order.
func (p *ExecutionPlan) EndpointIDs() []string {
	if p == nil {
		return nil
	}
	var ids []string
	for _, phase := range p.Phases {
		for _, group := range phase.ParallelGroups {
			ids = append(ids, group...)
		}
	}
	return ids
}

// SinglePhasePlan puts every endpoint into one phase with one parallel
// group. The fallback when the model returns no usable plan.
func SinglePhasePlan(endpoints []APIEndpoint) *ExecutionPlan {
	ids := make([]string, len(endpoints))
	for i, ep := range endpoints {
		ids[i] = ep.EndpointID
	}
	return &ExecutionPlan{Phases: []ExecutionPhase{{
		Name:           "all",
		ParallelGroups: [][]string{ids},
	}}}
}

// RiskItem flags an endpoint or flow that needs extra test attention.
type RiskItem struct {
	EndpointID  string `json:"endpoint_id,omitempty"`
	Level       string `json:"level"` // high, medium, low
	Description string `json:"description"`
}
