package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
)

// AgentHealth is a point-in-time view of one agent.
type AgentHealth struct {
	Running    bool      `json:"running"`
	Processed  int64     `json:"processed"`
	Failed     int64     `json:"failed"`
	Panics     int64     `json:"panics"`
	LastError  string    `json:"last_error,omitempty"`
	LastActive time.Time `json:"last_active,omitempty"`
}

type agentEntry struct {
	agent   Agent
	topic   models.TopicType
	running atomic.Bool

	processed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64

	mu         sync.Mutex
	lastError  string
	lastActive time.Time
}

func (e *agentEntry) noteActivity() {
	e.mu.Lock()
	e.lastActive = time.Now()
	e.mu.Unlock()
}

func (e *agentEntry) noteError(err error) {
	e.failed.Add(1)
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

// Runtime owns agent lifecycles: it subscribes each registered agent to its
// topic, serializes and instruments message handling, and stops everything
// with a bounded wait. Agents are never restarted automatically; restart is
// an explicit factory operation.
type Runtime struct {
	bus    *bus.Bus
	logger *slog.Logger

	mu      sync.Mutex
	agents  map[models.AgentType]*agentEntry
	order   []models.AgentType
	started bool
}

// NewRuntime creates a runtime bound to the bus.
func NewRuntime(b *bus.Bus) *Runtime {
	return &Runtime{
		bus:    b,
		logger: slog.Default().With("component", "agent-runtime"),
		agents: make(map[models.AgentType]*agentEntry),
	}
}

// Register adds an agent before or after Start. Duplicate types are
// rejected.
func (r *Runtime) Register(a Agent) error {
	topic, ok := models.TopicFor(a.Type())
	if !ok {
		return Errorf(ClassConfiguration, "agent %s has no topic", a.Type())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Type()]; exists {
		return Errorf(ClassConfiguration, "agent %s already registered", a.Type())
	}
	r.agents[a.Type()] = &agentEntry{agent: a, topic: topic}
	r.order = append(r.order, a.Type())
	return nil
}

// Start subscribes and starts every registered agent, in registration
// order. Idempotent; agents registered after Start are picked up by
// StartAgent.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	order := make([]models.AgentType, len(r.order))
	copy(order, r.order)
	r.mu.Unlock()

	for _, at := range order {
		if err := r.StartAgent(ctx, at); err != nil {
			return fmt.Errorf("start agent %s: %w", at, err)
		}
	}
	r.logger.Info("Agent runtime started", "agents", len(order))
	return nil
}

// StartAgent subscribes and starts one agent. Starting a running agent is a
// no-op.
func (r *Runtime) StartAgent(ctx context.Context, at models.AgentType) error {
	r.mu.Lock()
	entry, ok := r.agents[at]
	r.mu.Unlock()
	if !ok {
		return Errorf(ClassConfiguration, "agent %s not registered", at)
	}
	if !entry.running.CompareAndSwap(false, true) {
		return nil
	}

	if err := r.bus.Subscribe(entry.topic, string(at), r.instrument(entry)); err != nil {
		entry.running.Store(false)
		return err
	}
	if err := entry.agent.Start(ctx); err != nil {
		r.bus.Unsubscribe(entry.topic, string(at))
		entry.running.Store(false)
		return err
	}
	r.logger.Info("Agent started", "agent", at, "topic", entry.topic)
	return nil
}

// instrument wraps an agent's Handle with accounting and panic isolation. A
// panicking handler is logged with its stack and counted; the agent keeps
// consuming subsequent messages.
func (r *Runtime) instrument(entry *agentEntry) bus.Handler {
	return func(ctx context.Context, msg *models.Message) error {
		defer func() {
			if rec := recover(); rec != nil {
				entry.panics.Add(1)
				entry.noteError(fmt.Errorf("panic: %v", rec))
				r.logger.Error("Agent handler panic recovered",
					"agent", entry.agent.Type(),
					"message_id", msg.ID,
					"session_id", msg.Context.SessionID,
					"panic", rec,
					"stack", string(debug.Stack()))
			}
		}()

		entry.processed.Add(1)
		entry.noteActivity()
		if err := entry.agent.Handle(ctx, msg); err != nil {
			entry.noteError(err)
			r.logger.Warn("Agent handler failed",
				"agent", entry.agent.Type(),
				"message_id", msg.ID,
				"session_id", msg.Context.SessionID,
				"class", ClassOf(err),
				"error", err)
		}
		// Errors are accounted here; the bus never retries regardless.
		return nil
	}
}

// StopAgent unsubscribes and stops one agent within the timeout.
func (r *Runtime) StopAgent(at models.AgentType, timeout time.Duration) error {
	r.mu.Lock()
	entry, ok := r.agents[at]
	r.mu.Unlock()
	if !ok {
		return Errorf(ClassConfiguration, "agent %s not registered", at)
	}
	if !entry.running.CompareAndSwap(true, false) {
		return nil
	}

	r.bus.Unsubscribe(entry.topic, string(at))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := entry.agent.Stop(ctx); err != nil {
		r.logger.Warn("Agent stop reported error", "agent", at, "error", err)
		return err
	}
	return nil
}

// Replace swaps in a freshly constructed agent of the same type. The old
// agent must be stopped first.
func (r *Runtime) Replace(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.agents[a.Type()]
	if !ok {
		return Errorf(ClassConfiguration, "agent %s not registered", a.Type())
	}
	if entry.running.Load() {
		return Errorf(ClassConfiguration, "agent %s still running", a.Type())
	}
	r.agents[a.Type()] = &agentEntry{agent: a, topic: entry.topic}
	return nil
}

// Stop halts all agents, waiting up to timeout for each group to finish.
// Agents still busy at the deadline are logged and abandoned. Idempotent.
func (r *Runtime) Stop(timeout time.Duration) {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	order := make([]models.AgentType, len(r.order))
	copy(order, r.order)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, at := range order {
		wg.Add(1)
		go func(at models.AgentType) {
			defer wg.Done()
			if err := r.StopAgent(at, timeout); err != nil {
				r.logger.Warn("Agent did not stop cleanly", "agent", at, "error", err)
			}
		}(at)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Agent runtime stopped", "agents", len(order))
	case <-time.After(timeout + time.Second):
		r.logger.Warn("Agent runtime stop timed out; continuing shutdown")
	}
}

// Health returns a per-agent snapshot.
func (r *Runtime) Health() map[models.AgentType]AgentHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[models.AgentType]AgentHealth, len(r.agents))
	for at, entry := range r.agents {
		entry.mu.Lock()
		out[at] = AgentHealth{
			Running:    entry.running.Load(),
			Processed:  entry.processed.Load(),
			Failed:     entry.failed.Load(),
			Panics:     entry.panics.Load(),
			LastError:  entry.lastError,
			LastActive: entry.lastActive,
		}
		entry.mu.Unlock()
	}
	return out
}
