// Package bus implements the in-process typed pub/sub transport the agents
// communicate over.
//
// Delivery contract:
//   - At-most-once per subscriber. Handler errors are logged and counted,
//     never retried.
//   - Per publisher→subscriber ordering: messages published from one
//     goroutine arrive at each subscriber in publish order.
//   - Each subscriber owns a single mailbox consumer goroutine, so handler
//     invocations for one subscriber never overlap.
//   - Mailboxes are bounded. A full mailbox blocks the publisher; nothing is
//     ever dropped while the subscriber is alive. The block is interruptible
//     by the publish context and by bus shutdown.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/testrig-ai/testrig/pkg/models"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus: closed")

// DefaultMailboxSize bounds each subscriber mailbox unless configured.
const DefaultMailboxSize = 256

// Handler consumes one message. The context is the bus run context and is
// cancelled on shutdown.
type Handler func(ctx context.Context, msg *models.Message) error

type subscription struct {
	id      string
	topic   models.TopicType
	handler Handler
	mailbox chan *models.Message
	quit    chan struct{} // closed on unsubscribe / bus close

	delivered atomic.Int64
	errors    atomic.Int64
	panics    atomic.Int64
}

// Bus routes typed messages between agents.
type Bus struct {
	mu     sync.RWMutex
	topics map[models.TopicType][]*subscription

	mailboxSize int
	logger      *slog.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
	closeCh   chan struct{}
	closed    atomic.Bool
	wg        sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	errorsN   atomic.Int64
	panicsN   atomic.Int64
}

// Option configures a Bus.
type Option func(*Bus)

// WithMailboxSize overrides the per-subscriber mailbox bound.
func WithMailboxSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.mailboxSize = n
		}
	}
}

// New creates a bus ready for subscriptions.
func New(opts ...Option) *Bus {
	runCtx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		topics:      make(map[models.TopicType][]*subscription),
		mailboxSize: DefaultMailboxSize,
		logger:      slog.Default().With("component", "bus"),
		runCtx:      runCtx,
		runCancel:   cancel,
		closeCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler under subscriberID on the topic and starts
// its mailbox consumer. Subscribing the same ID to the same topic twice is a
// no-op.
func (b *Bus) Subscribe(topic models.TopicType, subscriberID string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("bus: nil handler for subscriber %q", subscriberID)
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.topics[topic] {
		if sub.id == subscriberID {
			b.logger.Debug("Duplicate subscribe ignored", "topic", topic, "subscriber", subscriberID)
			return nil
		}
	}

	sub := &subscription{
		id:      subscriberID,
		topic:   topic,
		handler: handler,
		mailbox: make(chan *models.Message, b.mailboxSize),
		quit:    make(chan struct{}),
	}
	b.topics[topic] = append(b.topics[topic], sub)

	b.wg.Add(1)
	go b.consume(sub)

	b.logger.Debug("Subscribed", "topic", topic, "subscriber", subscriberID)
	return nil
}

// Unsubscribe removes the subscriber from the topic. Idempotent. The mailbox
// consumer drains what is already queued, then exits.
func (b *Bus) Unsubscribe(topic models.TopicType, subscriberID string) {
	b.mu.Lock()
	subs := b.topics[topic]
	for i, sub := range subs {
		if sub.id != subscriberID {
			continue
		}
		b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
		if len(b.topics[topic]) == 0 {
			delete(b.topics, topic)
		}
		b.mu.Unlock()

		close(sub.quit)
		b.logger.Debug("Unsubscribed", "topic", topic, "subscriber", subscriberID)
		return
	}
	b.mu.Unlock()
}

// Publish delivers the message to every current subscriber of its topic.
// When a mailbox is full the send blocks until space frees, the context is
// done, or the bus closes.
func (b *Bus) Publish(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("bus: nil message")
	}
	if b.closed.Load() {
		return ErrClosed
	}
	b.published.Add(1)

	b.mu.RLock()
	subs := make([]*subscription, len(b.topics[msg.Topic]))
	copy(subs, b.topics[msg.Topic])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("No subscribers for topic", "topic", msg.Topic, "message_id", msg.ID)
		return nil
	}

	for _, sub := range subs {
		select {
		case sub.mailbox <- msg:
			sub.delivered.Add(1)
			b.delivered.Add(1)
		case <-sub.quit:
			// Subscriber went away between snapshot and send.
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return ErrClosed
		}
	}
	return nil
}

// consume is the single goroutine serializing one subscriber's handler.
func (b *Bus) consume(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case msg := <-sub.mailbox:
			b.dispatch(sub, msg)
		case <-sub.quit:
			b.drain(sub)
			return
		case <-b.closeCh:
			b.drain(sub)
			return
		}
	}
}

// drain processes whatever was already enqueued before the quit signal.
func (b *Bus) drain(sub *subscription) {
	for {
		select {
		case msg := <-sub.mailbox:
			b.dispatch(sub, msg)
		default:
			return
		}
	}
}

// dispatch runs the handler with panic isolation. A panicking handler must
// not take down the consumer goroutine or the process.
func (b *Bus) dispatch(sub *subscription, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			sub.panics.Add(1)
			b.panicsN.Add(1)
			b.logger.Error("Handler panic recovered",
				"topic", sub.topic,
				"subscriber", sub.id,
				"message_id", msg.ID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	if err := sub.handler(b.runCtx, msg); err != nil {
		sub.errors.Add(1)
		b.errorsN.Add(1)
		b.logger.Warn("Handler failed",
			"topic", sub.topic,
			"subscriber", sub.id,
			"message_id", msg.ID,
			"error", err)
	}
}

// Close stops all mailbox consumers and rejects further publishes.
// Idempotent.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.closeCh)
	b.wg.Wait()
	b.runCancel()

	b.mu.Lock()
	b.topics = make(map[models.TopicType][]*subscription)
	b.mu.Unlock()

	b.logger.Info("Bus closed",
		"published", b.published.Load(),
		"delivered", b.delivered.Load(),
		"handler_errors", b.errorsN.Load(),
		"handler_panics", b.panicsN.Load())
}

// TopicStats is a per-topic snapshot.
type TopicStats struct {
	Subscribers int   `json:"subscribers"`
	Delivered   int64 `json:"delivered"`
	Errors      int64 `json:"errors"`
	Panics      int64 `json:"panics"`
}

// Stats is a point-in-time view of bus activity.
type Stats struct {
	Published     int64                           `json:"published"`
	Delivered     int64                           `json:"delivered"`
	HandlerErrors int64                           `json:"handler_errors"`
	HandlerPanics int64                           `json:"handler_panics"`
	Topics        map[models.TopicType]TopicStats `json:"topics"`
}

// Stats returns a snapshot of counters and per-topic subscriber state.
func (b *Bus) Stats() Stats {
	s := Stats{
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.errorsN.Load(),
		HandlerPanics: b.panicsN.Load(),
		Topics:        make(map[models.TopicType]TopicStats),
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for topic, subs := range b.topics {
		ts := TopicStats{Subscribers: len(subs)}
		for _, sub := range subs {
			ts.Delivered += sub.delivered.Load()
			ts.Errors += sub.errors.Load()
			ts.Panics += sub.panics.Load()
		}
		s.Topics[topic] = ts
	}
	return s
}
