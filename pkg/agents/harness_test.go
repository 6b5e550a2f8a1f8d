package agents

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/agent"
	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/session"
)

// memStore is an in-memory agent.Store double. failOn makes the named
// method fail, for error-path tests.
type memStore struct {
	mu         sync.Mutex
	endpoints  map[string][]models.APIEndpoint
	analyses   map[string]*models.AnalysisOutput
	cases      map[string][]models.TestCase
	scripts    map[string]models.TestScript
	executions map[string]*models.ExecutionRecord
	reports    map[string]*models.TestReport
	logs       map[string][]models.LogRecord
	failOn     string
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

func (s *memStore) fail(method string) error {
	if s.failOn == method {
		return fmt.Errorf("forced %s failure", method)
	}
	return nil
}

func (s *memStore) SaveEndpoints(ctx context.Context, sessionID, documentID string, endpoints []models.APIEndpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveEndpoints"); err != nil {
		return err
	}
	s.endpoints[documentID] = endpoints
	return nil
}

func (s *memStore) SaveAnalysis(ctx context.Context, sessionID, documentID string, analysis *models.AnalysisOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveAnalysis"); err != nil {
		return err
	}
	s.analyses[documentID] = analysis
	return nil
}

func (s *memStore) SaveTestCases(ctx context.Context, sessionID, documentID string, cases []models.TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveTestCases"); err != nil {
		return err
	}
	s.cases[documentID] = cases
	return nil
}

func (s *memStore) SaveScripts(ctx context.Context, sessionID, documentID string, scripts []models.TestScript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveScripts"); err != nil {
		return err
	}
	for _, script := range scripts {
		s.scripts[script.ScriptID] = script
	}
	return nil
}

func (s *memStore) GetEndpoints(ctx context.Context, documentID string) ([]models.APIEndpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetEndpoints"); err != nil {
		return nil, err
	}
	return s.endpoints[documentID], nil
}

func (s *memStore) GetScripts(ctx context.Context, scriptIDs []string) ([]models.TestScript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetScripts"); err != nil {
		return nil, err
	}
	var out []models.TestScript
	for _, id := range scriptIDs {
		if script, ok := s.scripts[id]; ok {
			out = append(out, script)
		}
	}
	return out, nil
}

func (s *memStore) CreateExecution(ctx context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateExecution"); err != nil {
		return err
	}
	cp := *record
	s.executions[record.ExecutionID] = &cp
	return nil
}

func (s *memStore) MarkExecutionRunning(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("MarkExecutionRunning"); err != nil {
		return err
	}
	rec, ok := s.executions[executionID]
	if !ok {
		return fmt.Errorf("execution %s not found", executionID)
	}
	rec.Status = models.ExecutionStatusRunning
	return nil
}

func (s *memStore) CompleteExecution(ctx context.Context, record *models.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CompleteExecution"); err != nil {
		return err
	}
	if existing, ok := s.executions[record.ExecutionID]; ok && existing.Status.IsTerminal() {
		return fmt.Errorf("execution %s already terminal", record.ExecutionID)
	}
	cp := *record
	s.executions[record.ExecutionID] = &cp
	return nil
}

func (s *memStore) SaveReport(ctx context.Context, report *models.TestReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SaveReport"); err != nil {
		return err
	}
	s.reports[report.ExecutionID] = report
	return nil
}

func (s *memStore) AppendExecutionLog(ctx context.Context, executionID string, record *models.LogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AppendExecutionLog"); err != nil {
		return err
	}
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

// rig wires an agent test bed: bus, scripted model, tracker, memory store,
// and recorders on the topics agents publish to.
type rig struct {
	t        *testing.T
	bus      *bus.Bus
	mock     *llm.MockClient
	store    *memStore
	tracker  *session.Tracker
	deps     *agent.Deps
	captured map[models.TopicType]chan *models.Message
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		t:        t,
		bus:      bus.New(),
		mock:     llm.NewMockClient(),
		store:    newMemStore(),
		tracker:  session.NewTracker(),
		captured: make(map[models.TopicType]chan *models.Message),
	}
	t.Cleanup(r.bus.Close)

	store := r.store
	r.deps = &agent.Deps{
		Bus:      r.bus,
		Models:   llm.NewMockRegistry(r.mock),
		Sessions: r.tracker,
		OpenStore: func(ctx context.Context) (agent.Store, error) {
			return store, nil
		},
		LLMTimeout: 5 * time.Second,
		RAGTimeout: time.Second,
	}
	return r
}

// capture subscribes a recorder on a topic. Must be called before the agent
// publishes.
func (r *rig) capture(topics ...models.TopicType) {
	r.t.Helper()
	for _, topic := range topics {
		ch := make(chan *models.Message, 64)
		r.captured[topic] = ch
		err := r.bus.Subscribe(topic, "recorder-"+string(topic), func(ctx context.Context, msg *models.Message) error {
			ch <- msg
			return nil
		})
		require.NoError(r.t, err)
	}
}

// waitMsg blocks for the next message on a captured topic.
func (r *rig) waitMsg(topic models.TopicType) *models.Message {
	r.t.Helper()
	ch, ok := r.captured[topic]
	require.True(r.t, ok, "topic %s not captured", topic)
	select {
	case msg := <-ch:
		return msg
	case <-time.After(3 * time.Second):
		r.t.Fatalf("no message on topic %s", topic)
		return nil
	}
}

// waitFinal drains stream responses until the terminal one arrives.
func (r *rig) waitFinal() *models.StreamResponse {
	r.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		ch, ok := r.captured[models.TopicStreamCollection]
		require.True(r.t, ok, "stream collection not captured")
		select {
		case msg := <-ch:
			resp, ok := msg.Payload.(*models.StreamResponse)
			require.True(r.t, ok)
			if resp.IsFinal {
				return resp
			}
		case <-deadline:
			r.t.Fatal("no terminal stream response")
			return nil
		}
	}
}

// mc builds a message context with a tracked session.
func (r *rig) mc() models.MessageContext {
	s := r.tracker.Begin(models.PipelineAPI, "")
	return models.MessageContext{SessionID: s.SessionID}
}

func msgFor(topic models.TopicType, mc models.MessageContext, payload models.Payload) *models.Message {
	return models.NewMessage(topic, mc, payload)
}
