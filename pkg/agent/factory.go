package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/testrig-ai/testrig/pkg/bus"
	"github.com/testrig-ai/testrig/pkg/models"
	"github.com/testrig-ai/testrig/pkg/stream"
)

// DefaultStopTimeout bounds how long a single agent may take to stop.
const DefaultStopTimeout = 10 * time.Second

// Factory builds and owns the agent set. One factory per process: it holds
// the shared dependency bundle, the runtime, and the stream collector.
type Factory struct {
	deps         *Deps
	runtime      *Runtime
	constructors map[models.AgentType]Constructor
	collector    *stream.Collector
	logger       *slog.Logger

	stopTimeout   time.Duration
	flushInterval time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithStopTimeout overrides the per-agent stop budget.
func WithStopTimeout(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.stopTimeout = d
		}
	}
}

// WithFlushInterval overrides the stream collector flush interval.
func WithFlushInterval(d time.Duration) FactoryOption {
	return func(f *Factory) {
		if d > 0 {
			f.flushInterval = d
		}
	}
}

// NewFactory creates a factory over a static constructor registry. The
// registry is fixed at build time; there is no plugin discovery.
func NewFactory(deps *Deps, constructors map[models.AgentType]Constructor, opts ...FactoryOption) *Factory {
	f := &Factory{
		deps:          deps,
		runtime:       NewRuntime(deps.Bus),
		constructors:  constructors,
		logger:        slog.Default().With("component", "agent-factory"),
		stopTimeout:   DefaultStopTimeout,
		flushInterval: stream.DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create constructs one agent without registering it.
func (f *Factory) Create(at models.AgentType) (Agent, error) {
	c, ok := f.constructors[at]
	if !ok {
		return nil, Errorf(ClassConfiguration, "no constructor for agent %s", at)
	}
	return c(f.deps)
}

// RegisterAll creates and registers every domain agent the registry knows.
func (f *Factory) RegisterAll() error {
	for _, at := range models.DomainAgentTypes {
		if _, ok := f.constructors[at]; !ok {
			f.logger.Warn("No constructor registered for agent", "agent", at)
			continue
		}
		a, err := f.Create(at)
		if err != nil {
			return err
		}
		if err := f.runtime.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// RegisterStreamCollector creates and registers the stream collector. Kept
// separate from RegisterAll: the collector is infrastructure, not a domain
// agent.
func (f *Factory) RegisterStreamCollector() error {
	f.collector = stream.NewCollector(f.deps.Bus, stream.WithFlushInterval(f.flushInterval))
	return f.runtime.Register(f.collector)
}

// Start starts every registered agent.
func (f *Factory) Start(ctx context.Context) error {
	return f.runtime.Start(ctx)
}

// Stop stops every registered agent within the given total budget.
func (f *Factory) Stop(timeout time.Duration) {
	f.runtime.Stop(timeout)
}

// Restart stops, recreates and starts a single agent. This is the only
// restart path: nothing restarts agents automatically.
func (f *Factory) Restart(ctx context.Context, at models.AgentType) error {
	if err := f.runtime.StopAgent(at, f.stopTimeout); err != nil {
		return err
	}

	var fresh Agent
	var err error
	if at == models.AgentStreamCollector {
		f.collector = stream.NewCollector(f.deps.Bus, stream.WithFlushInterval(f.flushInterval))
		fresh = f.collector
	} else {
		fresh, err = f.Create(at)
		if err != nil {
			return err
		}
	}
	if err := f.runtime.Replace(fresh); err != nil {
		return err
	}
	if err := f.runtime.StartAgent(ctx, at); err != nil {
		return err
	}
	f.logger.Info("Agent restarted", "agent", at)
	return nil
}

// Health reports per-agent health.
func (f *Factory) Health() map[models.AgentType]AgentHealth {
	return f.runtime.Health()
}

// Metrics aggregates bus, agent and collector counters.
type Metrics struct {
	Bus       bus.Stats                        `json:"bus"`
	Agents    map[models.AgentType]AgentHealth `json:"agents"`
	Collector stream.Stats                     `json:"collector"`
}

// Metrics returns the aggregate snapshot.
func (f *Factory) Metrics() Metrics {
	m := Metrics{
		Bus:    f.deps.Bus.Stats(),
		Agents: f.runtime.Health(),
	}
	if f.collector != nil {
		m.Collector = f.collector.Stats()
	}
	return m
}

// Runtime exposes the runtime for wiring (tests, API handlers).
func (f *Factory) Runtime() *Runtime { return f.runtime }

// Deps exposes the shared bundle.
func (f *Factory) Deps() *Deps { return f.deps }
