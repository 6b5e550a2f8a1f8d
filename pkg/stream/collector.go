// Package stream aggregates token-level output chunks from all agents into
// merged chunks for downstream consumers (WebSocket hub, SSE hub, log
// recorder).
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/testrig-ai/testrig/pkg/models"
)

// DefaultFlushInterval is how often buffered chunks are merged and forwarded
// when no final chunk forces an immediate flush.
const DefaultFlushInterval = 300 * time.Millisecond

// Publisher is the slice of the bus the collector needs.
type Publisher interface {
	Publish(ctx context.Context, msg *models.Message) error
}

type bufferKey struct {
	sessionID string
	source    models.AgentType
}

type buffer struct {
	mc    models.MessageContext
	parts []string
}

// Collector buffers StreamResponse chunks per (session, source) and forwards
// merged chunks on the stream-response topic. Chunks from one source are
// never reordered: appends happen on the collector's single consumer
// goroutine and every forward holds the buffer lock.
type Collector struct {
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	buffers map[bufferKey]*buffer

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool

	flushes   atomic.Int64
	forwarded atomic.Int64
}

// Option configures a Collector.
type Option func(*Collector)

// WithFlushInterval overrides the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewCollector creates a stream collector publishing through the given bus.
func NewCollector(publisher Publisher, opts ...Option) *Collector {
	c := &Collector{
		publisher: publisher,
		interval:  DefaultFlushInterval,
		logger:    slog.Default().With("component", "stream-collector"),
		buffers:   make(map[bufferKey]*buffer),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Type implements the agent contract.
func (c *Collector) Type() models.AgentType { return models.AgentStreamCollector }

// Start launches the periodic flush loop. Idempotent.
func (c *Collector) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	go c.run()
	c.logger.Info("Stream collector started", "flush_interval", c.interval)
	return nil
}

// Stop flushes everything still buffered and halts the flush loop.
// Idempotent.
func (c *Collector) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		if c.started.Load() {
			<-c.done
		}
		c.FlushAll(ctx)
		c.logger.Info("Stream collector stopped",
			"flushes", c.flushes.Load(),
			"forwarded", c.forwarded.Load())
	})
	return nil
}

// Handle consumes one chunk. Non-final content is buffered; a final chunk
// flushes its buffer immediately, with the final's own text appended last
// (the final text is authoritative) and its result attached.
func (c *Collector) Handle(ctx context.Context, msg *models.Message) error {
	chunk, ok := msg.Payload.(*models.StreamResponse)
	if !ok {
		c.logger.Warn("Unexpected payload on stream-collection topic",
			"payload_type", models.PayloadTypeOf(msg.Payload),
			"message_id", msg.ID)
		return nil
	}

	key := bufferKey{sessionID: msg.Context.SessionID, source: chunk.Source}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !chunk.IsFinal {
		if chunk.Content == "" {
			return nil
		}
		buf, ok := c.buffers[key]
		if !ok {
			buf = &buffer{mc: msg.Context}
			c.buffers[key] = buf
		}
		buf.parts = append(buf.parts, chunk.Content)
		return nil
	}

	var parts []string
	mc := msg.Context
	if buf, ok := c.buffers[key]; ok {
		parts = buf.parts
		delete(c.buffers, key)
	}
	if chunk.Content != "" {
		parts = append(parts, chunk.Content)
	}

	merged := &models.StreamResponse{
		Source:  chunk.Source,
		Content: strings.Join(parts, ""),
		IsFinal: true,
		Result:  chunk.Result,
		Error:   chunk.Error,
	}
	return c.forward(ctx, mc, merged)
}

// FlushAll forwards every non-empty buffer as a non-final merged chunk.
// Idempotent: a second call with nothing buffered does nothing.
func (c *Collector) FlushAll(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(ctx)
}

func (c *Collector) flushLocked(ctx context.Context) {
	if len(c.buffers) == 0 {
		return
	}
	c.flushes.Add(1)
	for key, buf := range c.buffers {
		if len(buf.parts) == 0 {
			delete(c.buffers, key)
			continue
		}
		merged := &models.StreamResponse{
			Source:  key.source,
			Content: strings.Join(buf.parts, ""),
		}
		delete(c.buffers, key)
		if err := c.forward(ctx, buf.mc, merged); err != nil {
			c.logger.Warn("Flush forward failed",
				"session_id", key.sessionID,
				"source", key.source,
				"error", err)
		}
	}
}

// forward publishes a merged chunk. Callers hold c.mu, which is what keeps
// per-source forwards ordered with respect to final-chunk forwards.
func (c *Collector) forward(ctx context.Context, mc models.MessageContext, chunk *models.StreamResponse) error {
	out := models.NewMessage(models.TopicStreamResponse, mc.WithSender(models.AgentStreamCollector), chunk)
	if err := c.publisher.Publish(ctx, out); err != nil {
		return err
	}
	c.forwarded.Add(1)
	return nil
}

func (c *Collector) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.FlushAll(context.Background())
		case <-c.stopCh:
			return
		}
	}
}

// Stats reports collector activity for health endpoints.
type Stats struct {
	BufferedSources int   `json:"buffered_sources"`
	Flushes         int64 `json:"flushes"`
	Forwarded       int64 `json:"forwarded"`
}

// Stats returns a snapshot.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	buffered := len(c.buffers)
	c.mu.Unlock()
	return Stats{
		BufferedSources: buffered,
		Flushes:         c.flushes.Load(),
		Forwarded:       c.forwarded.Load(),
	}
}
