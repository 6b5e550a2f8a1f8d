// Package agent provides the agent substrate: the Agent contract, the
// runtime that owns agent lifecycles, the factory that builds the known
// agent set, and the BaseAgent helpers domain agents embed.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/session"
)

// Agent is one message consumer. Every agent consumes exactly one topic,
// derived from its type; the runtime serializes Handle calls per agent.
type Agent interface {
	Type() models.AgentType
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Handle(ctx context.Context, msg *models.Message) error
}

// Constructor builds one agent from the shared dependency bundle.
type Constructor func(deps *Deps) (Agent, error)

// Store is the slice of persistence the agents need. The concrete
// implementation lives in pkg/services; tests substitute in-memory fakes.
type Store interface {
	SaveEndpoints(ctx context.Context, sessionID, documentID string, endpoints []models.APIEndpoint) error
	SaveAnalysis(ctx context.Context, sessionID, documentID string, analysis *models.AnalysisOutput) error
	SaveTestCases(ctx context.Context, sessionID, documentID string, cases []models.TestCase) error
	SaveScripts(ctx context.Context, sessionID, documentID string, scripts []models.TestScript) error
	GetEndpoints(ctx context.Context, documentID string) ([]models.APIEndpoint, error)
	GetScripts(ctx context.Context, scriptIDs []string) ([]models.TestScript, error)
	CreateExecution(ctx context.Context, record *models.ExecutionRecord) error
	MarkExecutionRunning(ctx context.Context, executionID string) error
	CompleteExecution(ctx context.Context, record *models.ExecutionRecord) error
	SaveReport(ctx context.Context, report *models.TestReport) error
	AppendExecutionLog(ctx context.Context, executionID string, record *models.LogRecord) error
}

// StoreOpener lazily opens the persistence layer. Agents that never persist
// never trigger the open.
type StoreOpener func(ctx context.Context) (Store, error)

// DocumentFetcher resolves a document URL to its content.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// SnippetRetriever looks up reference snippets for script generation. A nil
// retriever disables the lookup; failures are best-effort.
type SnippetRetriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// ScriptRunner executes materialized scripts and reports results. The
// concrete implementation is pkg/executor.
type ScriptRunner interface {
	Run(ctx context.Context, run *RunRequest) (*models.TestReport, error)
}

// RunRequest is what the executor agent hands to the script runner.
type RunRequest struct {
	SessionID   string
	ExecutionID string
	Scripts     []models.TestScript
	Config      models.ExecutionConfig
	// OnLine receives each output line as it is read. Optional.
	OnLine func(stream, line string)
}

// BrowserRunner executes a UI script in a sandboxed browser. The concrete
// implementation composes pkg/sandbox and pkg/uirunner.
type BrowserRunner interface {
	Run(ctx context.Context, run *BrowserRunRequest) (*models.TestReport, error)
}

// BrowserRunRequest is what the Playwright executor agent hands over.
type BrowserRunRequest struct {
	SessionID   string
	ExecutionID string
	Script      models.UIScript
	Config      models.ExecutionConfig
	OnLine      func(stream, line string)
}

// Default call budgets. Callers derive per-call contexts from these.
const (
	DefaultLLMTimeout = 60 * time.Second
	DefaultRAGTimeout = 10 * time.Second
)

// Deps is the shared dependency bundle every agent is built from. One bundle
// per process; the factory owns it.
type Deps struct {
	Bus      *bus.Bus
	Models   *llm.Registry
	Sessions *session.Tracker

	// OpenStore lazily opens persistence; EnsureStore guards it.
	OpenStore StoreOpener
	storeOnce sync.Once
	store     Store
	storeErr  error

	Fetcher   DocumentFetcher  // nil: URL documents are rejected
	Retriever SnippetRetriever // nil: snippet lookup disabled
	Runner    ScriptRunner
	Browser   BrowserRunner

	// ProviderByAgent maps an agent type to its model provider name; empty
	// entries use the registry default.
	ProviderByAgent map[models.AgentType]string

	LLMTimeout time.Duration
	RAGTimeout time.Duration
}

// EnsureStore opens the store on first use and caches the result, including
// a failed open. Safe for concurrent use.
func (d *Deps) EnsureStore(ctx context.Context) (Store, error) {
	d.storeOnce.Do(func() {
		if d.OpenStore == nil {
			d.storeErr = ErrNoStore
			return
		}
		d.store, d.storeErr = d.OpenStore(ctx)
	})
	return d.store, d.storeErr
}

// LLMBudget returns the configured LLM timeout, defaulted.
func (d *Deps) LLMBudget() time.Duration {
	if d.LLMTimeout > 0 {
		return d.LLMTimeout
	}
	return DefaultLLMTimeout
}

// RAGBudget returns the configured retrieval timeout, defaulted.
func (d *Deps) RAGBudget() time.Duration {
	if d.RAGTimeout > 0 {
		return d.RAGTimeout
	}
	return DefaultRAGTimeout
}

// ProviderFor returns the configured provider name for an agent type.
func (d *Deps) ProviderFor(at models.AgentType) string {
	if d.ProviderByAgent == nil {
		return ""
	}
	return d.ProviderByAgent[at]
}
