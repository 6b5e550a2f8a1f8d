// Package e2e runs full-pipeline scenarios on the real agent set over an
// in-memory bus, with a scripted model, an in-memory store and fake script
// and browser runners.
package e2e

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/agents"
	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/services"
	"github.com/testrig-ai/testrig/pkg/session"
)

// Canned model outputs, routed to their stage by a fragment of that stage's
// system prompt.
const (
	endpointsResponse = `{"endpoints": [
  {"method": "GET", "path": "/users", "summary": "List users"},
  {"method": "POST", "path": "/users", "summary": "Create user"}
]}`

	analysisResponse = `{"summary": "Two user endpoints.",
"test_points": [
  {"endpoint_id": "ep-1", "category": "happy_path", "description": "list users", "priority": "high"}
]}`

	casesResponse = `{"cases": [
  {"endpoint_id": "ep-1", "name": "list users ok", "type": "positive",
   "method": "GET", "path": "/users", "expected_status": 200,
   "assertions": [{"kind": "status_code", "expected": 200},
                  {"kind": "timing", "max_millis": 2000}]},
  {"endpoint_id": "ep-2", "name": "create user", "type": "negative",
   "method": "POST", "path": "/users", "expected_status": 201}
]}`

	pytestResponse = "```python\nimport os\nimport requests\n\nBASE_URL = os.environ.get(\"BASE_URL\", \"http://localhost:8000\")\n\n\ndef test_list_users_ok():\n    resp = requests.get(f\"{BASE_URL}/users\")\n    assert resp.status_code == 200\n```"

	uiScriptResponse = "```yaml\nname: login-flow\nbase_url: https://app.example.com\nsteps:\n  - name: open page\n    navigate: /login\n  - fill: \"#user\"\n    value: admin\n  - click: \"#submit\"\n  - assert_text: Welcome\n    selector: h1\n  - screenshot: done.png\n```"
)

// memStore is an in-memory agent.Store double shared by every agent in the
// stack.
type memStore struct {
	mu         sync.Mutex
	endpoints  map[string][]models.APIEndpoint
	analyses   map[string]*models.AnalysisOutput
	cases      map[string][]models.TestCase
	scripts    map[string]models.TestScript
	executions map[string]*models.ExecutionRecord
	reports    map[string]*models.TestReport
	logs       map[string][]models.LogRecord
}

func newMemStore() *memStore {
	return &memStore{
		endpoints:  make(map[string][]models.APIEndpoint),
		analyses:   make(map[string]*models.AnalysisOutput),
		cases:      make(map[string][]models.TestCase),
		scripts:    make(map[string]models.TestScript),
		executions: make(map[string]*models.ExecutionRecord),
		reports:    make(map[string]*models.TestReport),
		logs:       make(map[string][]models.LogRecord),
	}
}

func (s *memStore) SaveEndpoints(_ context.Context, _, documentID string, endpoints []models.APIEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoints[documentID] = endpoints
	return nil
}

func (s *memStore) SaveAnalysis(_ context.Context, _, documentID string, analysis *models.AnalysisOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses[documentID] = analysis
	return nil
}

func (s *memStore) SaveTestCases(_ context.Context, _, documentID string, cases []models.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[documentID] = cases
	return nil
}

func (s *memStore) SaveScripts(_ context.Context, _, _ string, scripts []models.TestScript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, script := range scripts {
		s.scripts[script.ScriptID] = script
	}
	return nil
}

func (s *memStore) GetEndpoints(_ context.Context, documentID string) ([]models.APIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoints[documentID], nil
}

func (s *memStore) GetScripts(_ context.Context, scriptIDs []string) ([]models.TestScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TestScript
	for _, id := range scriptIDs {
		if script, ok := s.scripts[id]; ok {
			out = append(out, script)
		}
	}
	return out, nil
}

func (s *memStore) CreateExecution(_ context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.executions[record.ExecutionID] = &cp
	return nil
}

func (s *memStore) MarkExecutionRunning(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	rec.Status = models.ExecutionStatusRunning
	return nil
}

func (s *memStore) CompleteExecution(_ context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.executions[record.ExecutionID]; ok && existing.Status.IsTerminal() {
		return fmt.Errorf("execution %s already terminal", record.ExecutionID)
	}
	cp := *record
	s.executions[record.ExecutionID] = &cp
	return nil
}

func (s *memStore) SaveReport(_ context.Context, report *models.TestReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ExecutionID] = report
	return nil
}

func (s *memStore) AppendExecutionLog(_ context.Context, executionID string, record *models.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[executionID] = append(s.logs[executionID], *record)
	return nil
}

func (s *memStore) execution(executionID string) *models.ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.executions[executionID]; ok {
		cp := *rec
		return &cp
	}
	return nil
}

func (s *memStore) report(executionID string) *models.TestReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[executionID]
}

func (s *memStore) scriptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scripts)
}

// fakeRunner is a scriptable agent.ScriptRunner. blockUntilCancel makes the
// run hang until its context is cancelled, for cancellation scenarios.
type fakeRunner struct {
	mu               sync.Mutex
	requests         []*agent.RunRequest
	report           *models.TestReport
	err              error
	blockUntilCancel bool
}

func (r *fakeRunner) Run(ctx context.Context, req *agent.RunRequest) (*models.TestReport, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	block := r.blockUntilCancel
	report, err := r.report, r.err
	r.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if req.OnLine != nil {
		req.OnLine("stdout", "collected "+fmt.Sprint(len(req.Scripts))+" item(s)")
		req.OnLine("stdout", "all tests passed")
	}
	if err != nil {
		return nil, err
	}
	if report == nil {
		report = &models.TestReport{
			ExecutionID: req.ExecutionID,
			SessionID:   req.SessionID,
			Total:       2, Passed: 2, SuccessRate: 1,
			ParsedFrom:  "json",
			GeneratedAt: time.Now().UTC(),
		}
	}
	cp := *report
	cp.ExecutionID = req.ExecutionID
	cp.SessionID = req.SessionID
	return &cp, nil
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// fakeBrowser is an agent.BrowserRunner double.
type fakeBrowser struct {
	mu       sync.Mutex
	requests []*agent.BrowserRunRequest
	err      error
}

func (b *fakeBrowser) Run(_ context.Context, req *agent.BrowserRunRequest) (*models.TestReport, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	err := b.err
	b.mu.Unlock()

	if req.OnLine != nil {
		req.OnLine("stdout", "PASS "+req.Script.Name)
	}
	if err != nil {
		return nil, err
	}
	return &models.TestReport{
		ExecutionID: req.ExecutionID,
		SessionID:   req.SessionID,
		Total:       len(req.Script.Steps), Passed: len(req.Script.Steps),
		SuccessRate: 1,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func (b *fakeBrowser) runCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

// stack is the full pipeline under test.
type stack struct {
	t         *testing.T
	bus       *bus.Bus
	mock      *llm.MockClient
	store     *memStore
	tracker   *session.Tracker
	runner    *fakeRunner
	browser   *fakeBrowser
	pipeline  *services.PipelineService
	responses chan *models.StreamResponse
}

func newStack(t *testing.T) *stack {
	t.Helper()

	s := &stack{
		t:         t,
		bus:       bus.New(),
		mock:      llm.NewMockClient(),
		store:     newMemStore(),
		tracker:   session.NewTracker(),
		runner:    &fakeRunner{},
		browser:   &fakeBrowser{},
		responses: make(chan *models.StreamResponse, 256),
	}
	t.Cleanup(s.bus.Close)

	store := s.store
	deps := &agent.Deps{
		Bus:      s.bus,
		Models:   llm.NewMockRegistry(s.mock),
		Sessions: s.tracker,
		OpenStore: func(context.Context) (agent.Store, error) {
			return store, nil
		},
		Runner:     s.runner,
		Browser:    s.browser,
		LLMTimeout: 5 * time.Second,
		RAGTimeout: time.Second,
	}

	factory := agent.NewFactory(deps, agents.Constructors(),
		agent.WithFlushInterval(20*time.Millisecond),
		agent.WithStopTimeout(2*time.Second))
	require.NoError(t, factory.RegisterAll())
	require.NoError(t, factory.RegisterStreamCollector())
	require.NoError(t, factory.Start(context.Background()))
	t.Cleanup(func() { factory.Stop(5 * time.Second) })

	err := s.bus.Subscribe(models.TopicStreamResponse, "e2e-recorder",
		func(_ context.Context, msg *models.Message) error {
			if resp, ok := msg.Payload.(*models.StreamResponse); ok {
				s.responses <- resp
			}
			return nil
		})
	require.NoError(t, err)

	s.pipeline = services.NewPipelineService(s.bus, s.tracker, nil)
	return s
}

// scriptAllStages routes every stage prompt to its canned output.
func (s *stack) scriptAllStages() {
	s.mock.
		Script("extract API endpoint definitions", endpointsResponse).
		Script("derive test points", analysisResponse).
		Script("executable HTTP test cases", casesResponse).
		Script("pytest test files", pytestResponse).
		Script("YAML UI test scripts", uiScriptResponse)
}

// waitFinal drains stream responses until the terminal one.
func (s *stack) waitFinal() *models.StreamResponse {
	s.t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case resp := <-s.responses:
			if resp.IsFinal {
				return resp
			}
		case <-deadline:
			s.t.Fatal("no terminal stream response")
			return nil
		}
	}
}

// terminalSession polls the tracker until the session goes terminal.
func (s *stack) terminalSession(sessionID string) models.PipelineSession {
	s.t.Helper()
	var sess models.PipelineSession
	require.Eventually(s.t, func() bool {
		got, ok := s.tracker.Get(sessionID)
		if !ok {
			return false
		}
		sess = got
		return sess.Status.IsTerminal()
	}, 10*time.Second, 20*time.Millisecond)
	return sess
}
