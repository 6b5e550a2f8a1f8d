package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
)

// maxChunkChars bounds one extraction call's document slice. Oversized
// documents are split on blank lines near the boundary.
const maxChunkChars = 12_000

const docParserSystem = `You extract API endpoint definitions from API documentation.
Respond with a single JSON object: {"endpoints": [{"method", "path", "summary",
"parameters": [{"name", "in", "type", "required", "example"}], "request_body",
"responses", "auth", "tags"}]}.
Include every endpoint the document describes. If the text describes no API
endpoints, respond {"endpoints": []}. Output JSON only, no prose.`

// DocParser turns a submitted API document into an endpoint catalog and
// starts the API pipeline. Documents arrive inline or as a fetchable URL;
// large documents are split and extracted chunk by chunk.
type DocParser struct {
	*agent.BaseAgent
}

// NewDocParser builds the document parsing agent.
func NewDocParser(deps *agent.Deps) *DocParser {
	return &DocParser{BaseAgent: agent.NewBase(deps, models.AgentDocParser)}
}

// Handle implements agent.Agent.
func (a *DocParser) Handle(ctx context.Context, msg *models.Message) error {
	input, ok := msg.Payload.(*models.ParseInput)
	if !ok {
		return a.IgnoreUnexpected(msg)
	}
	return a.parse(ctx, msg.Context, input)
}

func (a *DocParser) parse(ctx context.Context, mc models.MessageContext, input *models.ParseInput) error {
	deps := a.Deps()
	if deps.Sessions != nil {
		deps.Sessions.UpdateStage(mc.SessionID, "document_parsing")
	}

	documentID := input.DocumentID
	if documentID == "" {
		documentID = newID("doc")
	}
	mc.DocumentID = documentID
	if deps.Sessions != nil {
		deps.Sessions.AttachIDs(mc.SessionID, documentID, "")
	}

	content, err := a.resolveContent(ctx, input)
	if err != nil {
		a.HandleException(ctx, mc, "document parsing", err)
		return err
	}

	format := input.Format
	if format == "" {
		format = detectFormat(content)
	}
	chunks := splitDocument(content, maxChunkChars)
	if err := a.SendStream(ctx, mc, fmt.Sprintf("Parsing document %s (%s, %d chunk(s))\n", documentID, format, len(chunks))); err != nil {
		a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
	}

	// A chunk that fails extraction degrades the result instead of failing
	// the document: the catalog is whatever the readable chunks yielded,
	// each failure is preserved as an error string, and confidence is the
	// share of chunks that parsed.
	var (
		endpoints   []models.APIEndpoint
		parseErrors []string
	)
	for i, chunk := range chunks {
		extracted, err := a.extractChunk(ctx, mc, format, chunk)
		if err != nil {
			parseErrors = append(parseErrors, fmt.Sprintf("chunk %d/%d: %v", i+1, len(chunks), err))
			a.Logger().Warn("Chunk extraction failed",
				"session_id", mc.SessionID,
				"document_id", documentID,
				"chunk", i+1,
				"error", err)
			continue
		}
		endpoints = append(endpoints, extracted...)
	}

	confidence := 0.0
	if len(chunks) > 0 {
		confidence = float64(len(chunks)-len(parseErrors)) / float64(len(chunks))
	}

	// When no chunk parsed, the document is malformed: report the failure
	// as a low-confidence result with its errors and end the session here.
	// Nothing is forwarded down the pipeline.
	if len(parseErrors) == len(chunks) && len(chunks) > 0 {
		return a.SendFinal(ctx, mc, "Document could not be parsed.\n", map[string]any{
			"document_id":      documentID,
			"confidence_score": confidence,
			"errors":           parseErrors,
			"total_endpoints":  0,
		})
	}
	if len(parseErrors) > 0 {
		if err := a.SendStream(ctx, mc, fmt.Sprintf("%d of %d chunk(s) failed extraction; continuing with a partial catalog\n",
			len(parseErrors), len(chunks))); err != nil {
			a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
		}
	}

	for i := range endpoints {
		if endpoints[i].EndpointID == "" {
			endpoints[i].EndpointID = fmt.Sprintf("%s-ep-%d", documentID, i+1)
		}
	}

	output := &models.ParseOutput{
		DocumentID: documentID,
		Title:      input.Title,
		Endpoints:  endpoints,
		ChunkCount: len(chunks),
		Confidence: confidence,
		Errors:     parseErrors,
		Options:    input.Options,
	}
	if err := forward(ctx, deps, models.TopicPersistence, mc, a.Type(), output); err != nil {
		a.HandleException(ctx, mc, "endpoint catalog persistence request", err)
		return err
	}

	if err := a.SendStream(ctx, mc, fmt.Sprintf("Extracted %d endpoint(s) from %d chunk(s)\n", len(endpoints), len(chunks))); err != nil {
		a.Logger().Warn("Progress publish failed", "session_id", mc.SessionID, "error", err)
	}

	next := &models.AnalysisInput{
		DocumentID: documentID,
		Endpoints:  endpoints,
		Options:    input.Options,
	}
	if err := forward(ctx, deps, models.TopicAPIAnalysis, mc, a.Type(), next); err != nil {
		a.HandleException(ctx, mc, "analysis handoff", err)
		return err
	}
	return nil
}

// resolveContent returns the document text: inline content wins, then the
// fetcher resolves a URL.
func (a *DocParser) resolveContent(ctx context.Context, input *models.ParseInput) (string, error) {
	if input.Content != "" {
		return input.Content, nil
	}
	if input.URL == "" {
		return "", agent.Errorf(agent.ClassInputMalformed, "document %s has neither content nor URL", input.DocumentID)
	}
	if a.Deps().Fetcher == nil {
		return "", agent.Errorf(agent.ClassConfiguration, "document URL given but no fetcher is configured")
	}
	content, err := a.Deps().Fetcher.Fetch(ctx, input.URL)
	if err != nil {
		return "", fmt.Errorf("fetch document: %w", err)
	}
	return content, nil
}

func (a *DocParser) extractChunk(ctx context.Context, mc models.MessageContext, format, chunk string) ([]models.APIEndpoint, error) {
	prompt := fmt.Sprintf("Document format: %s\n\nDocument:\n%s", format, chunk)
	text, _, err := a.RunLLM(ctx, mc, &llm.Request{System: docParserSystem, Prompt: prompt})
	if err != nil {
		return nil, err
	}
	obj, err := agent.ExtractJSON(text, []string{"endpoints"})
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Endpoints []models.APIEndpoint `json:"endpoints"`
	}
	if err := decodeInto(obj, &parsed); err != nil {
		return nil, err
	}
	return parsed.Endpoints, nil
}

// detectFormat sniffs the document type for the extraction prompt.
func detectFormat(content string) string {
	head := strings.TrimSpace(content)
	if len(head) > 512 {
		head = head[:512]
	}
	switch {
	case strings.Contains(head, "openapi:") || strings.Contains(head, `"openapi"`) ||
		strings.Contains(head, "swagger:") || strings.Contains(head, `"swagger"`):
		return "openapi"
	case strings.HasPrefix(head, "{") || strings.HasPrefix(head, "["):
		return "json"
	case strings.HasPrefix(head, "#") || strings.Contains(head, "\n#"):
		return "markdown"
	default:
		return "text"
	}
}

// splitDocument slices content into chunks of at most maxChars, preferring
// blank-line boundaries in the tail third of each chunk.
func splitDocument(content string, maxChars int) []string {
	if len(content) <= maxChars {
		return []string{content}
	}
	var chunks []string
	for len(content) > maxChars {
		cut := maxChars
		if i := strings.LastIndex(content[maxChars*2/3:maxChars], "\n\n"); i >= 0 {
			cut = maxChars*2/3 + i
		}
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if strings.TrimSpace(content) != "" {
		chunks = append(chunks, content)
	}
	return chunks
}
