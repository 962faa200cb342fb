package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes one event. It runs on the bus dispatch goroutine; errors
// and panics are logged and the handler stays subscribed.
type Handler func(ctx context.Context, ev Event) error

type subscriber struct {
	id      uint64
	name    string
	handler Handler
}

// DefaultQueueSize bounds the number of undispatched events.
const DefaultQueueSize = 1024

// Bus delivers events from any goroutine to subscribers on a single
// dispatch goroutine, in publish order.
type Bus struct {
	mu       sync.Mutex
	queue    []Event
	maxQueue int
	notify   chan struct{}

	subMu  sync.RWMutex
	subs   []*subscriber
	nextID uint64

	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewBus creates a bus. Events published before Run are queued.
func NewBus(maxQueue int, logger *slog.Logger, metrics *Metrics) *Bus {
	if maxQueue <= 0 {
		maxQueue = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		maxQueue: maxQueue,
		notify:   make(chan struct{}, 1),
		logger:   logger.With("component", "bus"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Subscribe registers h and returns a func that removes it. Calling the
// returned func more than once is a no-op.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func()) {
	b.subMu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, &subscriber{id: id, name: name, handler: h})
	b.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.subMu.Lock()
			defer b.subMu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// SubscribeChan returns a buffered channel receiving every event. Events
// are dropped for this subscriber when its buffer is full so that a slow
// stream client cannot stall dispatch.
func (b *Bus) SubscribeChan(name string, buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	unsubscribe := b.Subscribe(name, func(_ context.Context, ev Event) error {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("stream subscriber buffer full, dropping event", "subscriber", name, "kind", ev.Kind)
		}
		return nil
	})
	return ch, unsubscribe
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	return len(b.subs)
}

// Publish enqueues ev. It never blocks; when the queue is full the oldest
// event is dropped.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if len(b.queue) >= b.maxQueue {
		dropped := b.queue[0]
		b.queue = b.queue[1:]
		b.metrics.dropped()
		b.logger.Warn("event queue full, dropping oldest event", "kind", dropped.Kind)
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	b.metrics.published(ev.Kind)

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// PublishPayload stamps p with the current time and publishes it.
func (b *Bus) PublishPayload(p Payload) {
	b.Publish(NewEvent(b.now(), p))
}

// Run dispatches queued events until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	for {
		for {
			batch := b.take()
			if len(batch) == 0 {
				break
			}
			for _, ev := range batch {
				b.dispatch(ctx, ev)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-b.notify:
		}
	}
}

func (b *Bus) take() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.queue
	b.queue = nil
	return batch
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.subMu.RLock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.subMu.RUnlock()

	for _, s := range subs {
		if err := b.invoke(ctx, s, ev); err != nil {
			b.metrics.subscriberFault(s.name)
			b.logger.Warn("subscriber failed", "subscriber", s.name, "kind", ev.Kind, "error", err)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, s *subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.handler(ctx, ev)
}
