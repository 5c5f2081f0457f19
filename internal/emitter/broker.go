package emitter

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 256

// Emitter is the push side used by the command path.
type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

// Metrics receives delivery counts from the broker.
type Metrics interface {
	EventDelivered(name string)
	EventDropped(name string)
	SetSubscribers(n int)
}

// Subscription receives the events of one model, or of every model when
// ModelID is empty. C is closed by Unsubscribe or Broker.Close.
type Subscription struct {
	ID      string
	ModelID string
	C       <-chan Event

	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns how many events were lost because C was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Broker fans events out to subscriptions keyed by model id.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	closed bool

	buffer  int
	log     logging.Logger
	metrics Metrics
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBuffer sets the queue length of new subscriptions.
func WithBuffer(n int) BrokerOption {
	return func(b *Broker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// WithBrokerLogger logs dropped events.
func WithBrokerLogger(log logging.Logger) BrokerOption {
	return func(b *Broker) {
		if log != nil {
			b.log = log
		}
	}
}

// WithBrokerMetrics reports deliveries, drops and subscription counts.
func WithBrokerMetrics(m Metrics) BrokerOption {
	return func(b *Broker) {
		b.metrics = m
	}
}

// NewBroker creates an empty broker.
func NewBroker(opts ...BrokerOption) *Broker {
	b := &Broker{
		subs:   make(map[string]map[string]*Subscription),
		buffer: DefaultBuffer,
		log:    logging.Noop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a new subscription for modelID ("" for all).
func (b *Broker) Subscribe(modelID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{
		ID:      uuid.NewString(),
		ModelID: modelID,
		C:       ch,
		ch:      ch,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		sub.close()
		return sub
	}
	if b.subs[modelID] == nil {
		b.subs[modelID] = make(map[string]*Subscription)
	}
	b.subs[modelID][sub.ID] = sub
	b.reportLocked()
	return sub
}

// Unsubscribe removes sub and closes its channel. Safe to call twice.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if set := b.subs[sub.ModelID]; set != nil {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(b.subs, sub.ModelID)
		}
	}
	b.reportLocked()
	b.mu.Unlock()
	sub.close()
}

// Subscribers returns the number of subscriptions for modelID, not
// counting the catch-all ones.
func (b *Broker) Subscribers(modelID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[modelID])
}

// Emit delivers events without blocking. Events for a full subscription
// are dropped and logged.
func (b *Broker) Emit(ctx context.Context, events ...Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, ev := range events {
		for _, key := range []string{ev.ModelID, ""} {
			for _, sub := range b.subs[key] {
				select {
				case sub.ch <- ev:
					if b.metrics != nil {
						b.metrics.EventDelivered(ev.Name)
					}
				default:
					sub.dropped.Add(1)
					if b.metrics != nil {
						b.metrics.EventDropped(ev.Name)
					}
					b.log.Warn(ctx, "subscriber queue full, dropping event",
						logging.String("subscription_id", sub.ID),
						logging.ModelID(ev.ModelID),
						logging.String("event", ev.Name),
					)
				}
			}
			if ev.ModelID == "" {
				break
			}
		}
	}
}

// Close ends every subscription. Emit becomes a no-op.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.subs {
		for _, sub := range set {
			sub.close()
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
	b.reportLocked()
}

// NOTE: caller must hold b.mu (write lock).
func (b *Broker) reportLocked() {
	if b.metrics == nil {
		return
	}
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	b.metrics.SetSubscribers(n)
}
