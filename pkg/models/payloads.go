package models

import "fmt"

// PayloadType discriminates the sealed payload variants on the wire.
type PayloadType string

const (
	PayloadParseInput               PayloadType = "parse_input"
	PayloadParseOutput              PayloadType = "parse_output"
	PayloadAnalysisInput            PayloadType = "analysis_input"
	PayloadAnalysisOutput           PayloadType = "analysis_output"
	PayloadTestCaseGenerationInput  PayloadType = "test_case_generation_input"
	PayloadTestCaseGenerationOutput PayloadType = "test_case_generation_output"
	PayloadScriptGenerationInput    PayloadType = "script_generation_input"
	PayloadScriptGenerationOutput   PayloadType = "script_generation_output"
	PayloadExecutionInput           PayloadType = "execution_input"
	PayloadExecutionOutput          PayloadType = "execution_output"
	PayloadLogRecord                PayloadType = "log_record"
	PayloadStreamResponse           PayloadType = "stream_response"
)

// Payload is the closed set of message bodies that travel on the bus. The
// unexported marker keeps the set sealed: new variants live in this package.
type Payload interface {
	payloadType() PayloadType
}

// PayloadTypeOf exposes a payload's type tag without opening the seal.
func PayloadTypeOf(p Payload) PayloadType { return p.payloadType() }

// ParseInput starts the API pipeline: a document to turn into an endpoint
// catalog. Exactly one of Content or URL is expected; Format may be empty
// for auto-detection.
type ParseInput struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title,omitempty"`
	Content    string          `json:"content,omitempty"`
	URL        string          `json:"url,omitempty"`
	Format     string          `json:"format,omitempty"`
	Options    PipelineOptions `json:"options"`
}

// PipelineOptions carries caller choices that ride the whole pipeline.
type PipelineOptions struct {
	AutoExecute bool              `json:"auto_execute,omitempty"`
	BaseURL     string            `json:"base_url,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
}

// ParseOutput is the endpoint catalog extracted from one document.
// Confidence grades the extraction in [0, 1]: the share of chunks that
// yielded a parseable result. Errors preserves each failed chunk's error as
// a human-readable string.
type ParseOutput struct {
	DocumentID string          `json:"document_id"`
	Title      string          `json:"title,omitempty"`
	Endpoints  []APIEndpoint   `json:"endpoints"`
	ChunkCount int             `json:"chunk_count"`
	Confidence float64         `json:"confidence_score"`
	Errors     []string        `json:"errors,omitempty"`
	Options    PipelineOptions `json:"options"`
}

// AnalysisInput asks the analyzer to derive test points for a document's
// endpoints. Endpoints may be carried inline to spare a store round-trip.
type AnalysisInput struct {
	DocumentID string          `json:"document_id"`
	Endpoints  []APIEndpoint   `json:"endpoints,omitempty"`
	Options    PipelineOptions `json:"options"`
}

// AnalysisOutput is the analyzer's result for the API pipeline, and doubles
// as the page-analysis response that starts the UI pipeline. Graph, Plan,
// Risks and Strategy ride only the API path.
type AnalysisOutput struct {
	DocumentID string           `json:"document_id"`
	Summary    string           `json:"summary,omitempty"`
	TestPoints []TestPoint      `json:"test_points,omitempty"`
	Graph      *DependencyGraph `json:"dependency_graph,omitempty"`
	Plan       *ExecutionPlan   `json:"execution_plan,omitempty"`
	Risks      []RiskItem       `json:"risks,omitempty"`
	Strategy   string           `json:"test_strategy,omitempty"`
	UI         *UIAnalysis      `json:"ui,omitempty"`
	Options    PipelineOptions  `json:"options"`
}

// TestCaseGenerationInput asks for concrete cases from analyzed test points.
type TestCaseGenerationInput struct {
	DocumentID string          `json:"document_id"`
	Endpoints  []APIEndpoint   `json:"endpoints,omitempty"`
	TestPoints []TestPoint     `json:"test_points,omitempty"`
	Plan       *ExecutionPlan  `json:"execution_plan,omitempty"`
	Strategy   string          `json:"test_strategy,omitempty"`
	Options    PipelineOptions `json:"options"`
}

// TestCaseGenerationOutput carries the generated cases and their coverage.
type TestCaseGenerationOutput struct {
	DocumentID string          `json:"document_id"`
	Cases      []TestCase      `json:"cases"`
	Coverage   CoverageSummary `json:"coverage"`
	Options    PipelineOptions `json:"options"`
}

// ScriptGenerationInput asks for executable scripts from test cases.
type ScriptGenerationInput struct {
	DocumentID string          `json:"document_id"`
	Cases      []TestCase      `json:"cases"`
	Plan       *ExecutionPlan  `json:"execution_plan,omitempty"`
	Language   string          `json:"language,omitempty"`
	Options    PipelineOptions `json:"options"`
}

// ScriptGenerationOutput carries generated scripts (API pytest files or a UI
// YAML script). Requirements is the deduplicated union of every script's
// declared runtime dependencies, ready to render as a requirements file.
type ScriptGenerationOutput struct {
	DocumentID   string          `json:"document_id"`
	Scripts      []TestScript    `json:"scripts"`
	Requirements []string        `json:"requirements,omitempty"`
	Options      PipelineOptions `json:"options"`
}

// ExecutionKind selects the execution backend.
type ExecutionKind string

const (
	ExecutionKindAPI ExecutionKind = "api"
	ExecutionKindUI  ExecutionKind = "ui"
)

// ExecutionInput requests a script run. Scripts may be inline or referenced
// by ID for lookup through the store.
type ExecutionInput struct {
	ExecutionID string          `json:"execution_id"`
	Kind        ExecutionKind   `json:"kind"`
	Scripts     []TestScript    `json:"scripts,omitempty"`
	ScriptIDs   []string        `json:"script_ids,omitempty"`
	Config      ExecutionConfig `json:"config"`
}

// ExecutionOutput reports a finished run.
type ExecutionOutput struct {
	ExecutionID string          `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	Report      *TestReport     `json:"report,omitempty"`
	ReportPath  string          `json:"report_path,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// LogLevel grades log records captured during execution.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogRecord is one captured line of execution output or agent diagnostics.
type LogRecord struct {
	ExecutionID string    `json:"execution_id,omitempty"`
	Source      AgentType `json:"source"`
	Level       LogLevel  `json:"level"`
	Line        string    `json:"line"`
	Stream      string    `json:"stream,omitempty"`
}

// StreamResponse is a live output chunk from one source agent. IsFinal marks
// the terminal chunk for its (session, source); Result rides only on finals.
type StreamResponse struct {
	Source  AgentType      `json:"source"`
	Content string         `json:"content,omitempty"`
	IsFinal bool           `json:"is_final"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (*ParseInput) payloadType() PayloadType               { return PayloadParseInput }
func (*ParseOutput) payloadType() PayloadType              { return PayloadParseOutput }
func (*AnalysisInput) payloadType() PayloadType            { return PayloadAnalysisInput }
func (*AnalysisOutput) payloadType() PayloadType           { return PayloadAnalysisOutput }
func (*TestCaseGenerationInput) payloadType() PayloadType  { return PayloadTestCaseGenerationInput }
func (*TestCaseGenerationOutput) payloadType() PayloadType { return PayloadTestCaseGenerationOutput }
func (*ScriptGenerationInput) payloadType() PayloadType    { return PayloadScriptGenerationInput }
func (*ScriptGenerationOutput) payloadType() PayloadType   { return PayloadScriptGenerationOutput }
func (*ExecutionInput) payloadType() PayloadType           { return PayloadExecutionInput }
func (*ExecutionOutput) payloadType() PayloadType          { return PayloadExecutionOutput }
func (*LogRecord) payloadType() PayloadType                { return PayloadLogRecord }
func (*StreamResponse) payloadType() PayloadType           { return PayloadStreamResponse }

// newPayload returns a zero value of the variant for a type tag.
func newPayload(t PayloadType) (Payload, error) {
	switch t {
	case PayloadParseInput:
		return &ParseInput{}, nil
	case PayloadParseOutput:
		return &ParseOutput{}, nil
	case PayloadAnalysisInput:
		return &AnalysisInput{}, nil
	case PayloadAnalysisOutput:
		return &AnalysisOutput{}, nil
	case PayloadTestCaseGenerationInput:
		return &TestCaseGenerationInput{}, nil
	case PayloadTestCaseGenerationOutput:
		return &TestCaseGenerationOutput{}, nil
	case PayloadScriptGenerationInput:
		return &ScriptGenerationInput{}, nil
	case PayloadScriptGenerationOutput:
		return &ScriptGenerationOutput{}, nil
	case PayloadExecutionInput:
		return &ExecutionInput{}, nil
	case PayloadExecutionOutput:
		return &ExecutionOutput{}, nil
	case PayloadLogRecord:
		return &LogRecord{}, nil
	case PayloadStreamResponse:
		return &StreamResponse{}, nil
	default:
		return nil, fmt.Errorf("unknown payload type %q", t)
	}
}
