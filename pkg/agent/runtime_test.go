package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
)

// fakeAgent is a minimal Agent for runtime and factory tests.
type fakeAgent struct {
	atype   models.AgentType
	started atomic.Bool
	stopped atomic.Bool
	handle  func(ctx context.Context, msg *models.Message) error
	seen    chan *models.Message
}

func newFakeAgent(atype models.AgentType) *fakeAgent {
	return &fakeAgent{atype: atype, seen: make(chan *models.Message, 16)}
}

func (f *fakeAgent) Type() models.AgentType          { return f.atype }
func (f *fakeAgent) Start(ctx context.Context) error { f.started.Store(true); return nil }
func (f *fakeAgent) Stop(ctx context.Context) error  { f.stopped.Store(true); return nil }

func (f *fakeAgent) Handle(ctx context.Context, msg *models.Message) error {
	f.seen <- msg
	if f.handle != nil {
		return f.handle(ctx, msg)
	}
	return nil
}

func analysisMessage(sessionID string) *models.Message {
	return models.NewMessage(models.TopicAPIAnalysis,
		models.MessageContext{SessionID: sessionID},
		&models.AnalysisInput{DocumentID: "doc-1"})
}

func TestRuntimeDeliversToAgent(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	fake := newFakeAgent(models.AgentAnalyzer)
	require.NoError(t, rt.Register(fake))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Stop(time.Second) })

	require.NoError(t, b.Publish(context.Background(), analysisMessage("s1")))

	select {
	case msg := <-fake.seen:
		assert.Equal(t, "s1", msg.Context.SessionID)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	assert.True(t, fake.started.Load())

	health := rt.Health()[models.AgentAnalyzer]
	assert.True(t, health.Running)
	assert.Equal(t, int64(1), health.Processed)
}

func TestRuntimeCountsHandlerErrorsWithoutRetry(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	fake := newFakeAgent(models.AgentAnalyzer)
	fake.handle = func(ctx context.Context, msg *models.Message) error {
		return errors.New("analysis broke")
	}
	require.NoError(t, rt.Register(fake))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Stop(time.Second) })

	require.NoError(t, b.Publish(context.Background(), analysisMessage("s1")))
	<-fake.seen

	require.Eventually(t, func() bool {
		return rt.Health()[models.AgentAnalyzer].Failed == 1
	}, time.Second, 10*time.Millisecond)

	health := rt.Health()[models.AgentAnalyzer]
	assert.Equal(t, int64(1), health.Processed, "failed handler runs once, never retried")
	assert.Contains(t, health.LastError, "analysis broke")
}

func TestRuntimeIsolatesHandlerPanics(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	var calls atomic.Int64
	fake := newFakeAgent(models.AgentAnalyzer)
	fake.handle = func(ctx context.Context, msg *models.Message) error {
		if calls.Add(1) == 1 {
			panic("first message explodes")
		}
		return nil
	}
	require.NoError(t, rt.Register(fake))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Stop(time.Second) })

	require.NoError(t, b.Publish(context.Background(), analysisMessage("s1")))
	require.NoError(t, b.Publish(context.Background(), analysisMessage("s2")))

	for i := 0; i < 2; i++ {
		select {
		case <-fake.seen:
		case <-time.After(time.Second):
			t.Fatal("agent stopped consuming after panic")
		}
	}

	require.Eventually(t, func() bool {
		h := rt.Health()[models.AgentAnalyzer]
		return h.Processed == 2 && h.Panics == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStopAgentHaltsDelivery(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	fake := newFakeAgent(models.AgentAnalyzer)
	require.NoError(t, rt.Register(fake))
	require.NoError(t, rt.Start(context.Background()))

	require.NoError(t, rt.StopAgent(models.AgentAnalyzer, time.Second))
	assert.True(t, fake.stopped.Load())
	assert.False(t, rt.Health()[models.AgentAnalyzer].Running)

	require.NoError(t, b.Publish(context.Background(), analysisMessage("s1")))
	select {
	case <-fake.seen:
		t.Fatal("stopped agent still receiving")
	case <-time.After(100 * time.Millisecond):
	}

	// Stopping again is a no-op.
	require.NoError(t, rt.StopAgent(models.AgentAnalyzer, time.Second))
	rt.Stop(time.Second)
}

func TestRegisterRejectsDuplicatesAndUnknownTypes(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	require.NoError(t, rt.Register(newFakeAgent(models.AgentAnalyzer)))
	err := rt.Register(newFakeAgent(models.AgentAnalyzer))
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassConfiguration))

	err = rt.Register(newFakeAgent(models.AgentType("bogus")))
	require.Error(t, err)
	assert.True(t, IsClass(err, ClassConfiguration))
}

func TestReplaceRequiresStoppedAgent(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	old := newFakeAgent(models.AgentAnalyzer)
	require.NoError(t, rt.Register(old))
	require.NoError(t, rt.Start(context.Background()))
	t.Cleanup(func() { rt.Stop(time.Second) })

	fresh := newFakeAgent(models.AgentAnalyzer)
	require.Error(t, rt.Replace(fresh), "replace must fail while running")

	require.NoError(t, rt.StopAgent(models.AgentAnalyzer, time.Second))
	require.NoError(t, rt.Replace(fresh))
	require.NoError(t, rt.StartAgent(context.Background(), models.AgentAnalyzer))

	require.NoError(t, b.Publish(context.Background(), analysisMessage("s1")))
	select {
	case <-fresh.seen:
	case <-time.After(time.Second):
		t.Fatal("replacement agent not receiving")
	}
}

func TestRuntimeStopIsIdempotent(t *testing.T) {
	b := bus.New()
	t.Cleanup(b.Close)
	rt := NewRuntime(b)

	require.NoError(t, rt.Register(newFakeAgent(models.AgentAnalyzer)))
	require.NoError(t, rt.Start(context.Background()))

	rt.Stop(time.Second)
	rt.Stop(time.Second)
}
