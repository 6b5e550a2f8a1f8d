package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/llm"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/session"
)

func newTestDeps(t *testing.T, client llm.Client) (*Deps, *bus.Bus) {
	t.Helper()
	b := bus.New()
	t.Cleanup(b.Close)
	deps := &Deps{
		Bus:      b,
		Sessions: session.NewTracker(),
	}
	if client != nil {
		deps.Models = llm.NewMockRegistry(client)
	}
	return deps, b
}

// captureStream subscribes a raw handler on the collector topic and returns
// the channel StreamResponse payloads arrive on.
func captureStream(t *testing.T, b *bus.Bus) <-chan *models.StreamResponse {
	t.Helper()
	got := make(chan *models.StreamResponse, 64)
	err := b.Subscribe(models.TopicStreamCollection, "capture", func(ctx context.Context, msg *models.Message) error {
		if sr, ok := msg.Payload.(*models.StreamResponse); ok {
			got <- sr
		}
		return nil
	})
	require.NoError(t, err)
	return got
}

func TestRunLLMNonStreaming(t *testing.T) {
	mock := llm.NewMockClient().Script("analyze", `{"summary": "fine"}`)
	deps, b := newTestDeps(t, mock)
	got := captureStream(t, b)

	base := NewBase(deps, models.AgentAnalyzer)
	mc := models.MessageContext{SessionID: "s1"}

	text, usage, err := base.RunLLM(context.Background(), mc, &llm.Request{Prompt: "please analyze this"})
	require.NoError(t, err)
	assert.Equal(t, `{"summary": "fine"}`, text)
	require.NotNil(t, usage)
	assert.Greater(t, usage.CompletionTokens, 0)

	// Non-streaming calls publish nothing.
	select {
	case sr := <-got:
		t.Fatalf("unexpected stream response: %+v", sr)
	case <-time.After(100 * time.Millisecond):
	}

	m := base.Metrics()
	assert.Equal(t, int64(1), m.LLMCalls)
	assert.Equal(t, int64(0), m.LLMFailures)
}

func TestRunLLMStreamingForwardsChunks(t *testing.T) {
	full := "a response long enough to be split across several mock chunks"
	mock := llm.NewMockClient().Script("generate", full)
	deps, b := newTestDeps(t, mock)
	got := captureStream(t, b)

	base := NewBase(deps, models.AgentScriptGenerator)
	mc := models.MessageContext{SessionID: "s1"}

	text, _, err := base.RunLLM(context.Background(), mc, &llm.Request{Prompt: "generate scripts", Stream: true})
	require.NoError(t, err)
	assert.Equal(t, full, text)

	var sb strings.Builder
	chunks := 0
	deadline := time.After(2 * time.Second)
	for sb.Len() < len(full) {
		select {
		case sr := <-got:
			require.False(t, sr.IsFinal)
			assert.Equal(t, models.AgentScriptGenerator, sr.Source)
			sb.WriteString(sr.Content)
			chunks++
		case <-deadline:
			t.Fatalf("timed out collecting chunks, have %q", sb.String())
		}
	}
	assert.Equal(t, full, sb.String())
	assert.Greater(t, chunks, 1, "mock should split the response")
}

// slowClient never produces output; its stream closes when the context does.
type slowClient struct{}

func (s *slowClient) Generate(ctx context.Context, req *llm.Request) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return ch, nil
}

func (s *slowClient) Close() error { return nil }

func TestRunLLMTimeoutIsTransient(t *testing.T) {
	deps, _ := newTestDeps(t, &slowClient{})
	deps.LLMTimeout = 30 * time.Millisecond

	base := NewBase(deps, models.AgentAnalyzer)
	_, _, err := base.RunLLM(context.Background(), models.MessageContext{SessionID: "s1"}, &llm.Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassTransient))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, int64(1), base.Metrics().LLMFailures)
}

func TestRunLLMWithoutRegistryIsConfigurationError(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	base := NewBase(deps, models.AgentAnalyzer)

	_, _, err := base.RunLLM(context.Background(), models.MessageContext{SessionID: "s1"}, &llm.Request{Prompt: "x"})
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassConfiguration))
}

func TestSendFinalOncePerSession(t *testing.T) {
	deps, b := newTestDeps(t, nil)
	got := captureStream(t, b)

	s := deps.Sessions.Begin(models.PipelineAPI, "")
	mc := models.MessageContext{SessionID: s.SessionID}
	base := NewBase(deps, models.AgentExecutor)

	require.NoError(t, base.SendFinal(context.Background(), mc, "all done", map[string]any{"passed": 3}))
	require.NoError(t, base.SendFinal(context.Background(), mc, "again", nil))

	select {
	case sr := <-got:
		assert.True(t, sr.IsFinal)
		assert.Equal(t, "all done", sr.Content)
		assert.Equal(t, models.AgentExecutor, sr.Source)
	case <-time.After(time.Second):
		t.Fatal("terminal response not delivered")
	}
	select {
	case sr := <-got:
		t.Fatalf("duplicate terminal delivered: %+v", sr)
	case <-time.After(100 * time.Millisecond):
	}

	tracked, ok := deps.Sessions.Get(s.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusCompleted, tracked.Status)
}

func TestHandleExceptionEmitsTerminalOnce(t *testing.T) {
	deps, b := newTestDeps(t, nil)
	got := captureStream(t, b)

	s := deps.Sessions.Begin(models.PipelineAPI, "")
	mc := models.MessageContext{SessionID: s.SessionID}
	base := NewBase(deps, models.AgentDocParser)

	base.HandleException(context.Background(), mc, "document parsing", Errorf(ClassInputMalformed, "no endpoints found"))

	select {
	case sr := <-got:
		assert.True(t, sr.IsFinal)
		assert.Contains(t, sr.Content, "document parsing failed")
		assert.Contains(t, sr.Error, "no endpoints found")
	case <-time.After(time.Second):
		t.Fatal("terminal response not delivered")
	}

	// The session already has its terminal; a later success final is dropped.
	require.NoError(t, base.SendFinal(context.Background(), mc, "late", nil))
	select {
	case sr := <-got:
		t.Fatalf("second terminal delivered: %+v", sr)
	case <-time.After(100 * time.Millisecond):
	}

	tracked, ok := deps.Sessions.Get(s.SessionID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStatusFailed, tracked.Status)
	assert.Contains(t, tracked.Error, "no endpoints found")
	assert.Equal(t, int64(1), base.Metrics().Exceptions)
}

func TestSendStreamSkipsEmptyContent(t *testing.T) {
	deps, b := newTestDeps(t, nil)
	got := captureStream(t, b)
	base := NewBase(deps, models.AgentAnalyzer)
	mc := models.MessageContext{SessionID: "s1"}

	require.NoError(t, base.SendStream(context.Background(), mc, ""))
	require.NoError(t, base.SendStream(context.Background(), mc, "progress"))

	select {
	case sr := <-got:
		assert.Equal(t, "progress", sr.Content)
	case <-time.After(time.Second):
		t.Fatal("chunk not delivered")
	}
	assert.Equal(t, int64(1), base.Metrics().StreamsSent)
}

func TestIgnoreUnexpectedIsNotAnError(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	base := NewBase(deps, models.AgentPersistence)

	msg := models.NewMessage(models.TopicPersistence, models.MessageContext{SessionID: "s1"}, &models.LogRecord{Line: "x"})
	assert.NoError(t, base.IgnoreUnexpected(msg))
}

func TestEnsureStoreWithoutOpener(t *testing.T) {
	deps, _ := newTestDeps(t, nil)
	base := NewBase(deps, models.AgentPersistence)

	_, err := base.EnsureStore(context.Background())
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassConfiguration))
}
