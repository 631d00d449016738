package tidslinje

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrBusClosed is returned when subscribing to a closed bus.
	ErrBusClosed = errors.New("event bus closed")

	// ErrSubscriberExists is returned when a subscriber id is already registered.
	ErrSubscriberExists = errors.New("subscriber already exists")

	// ErrSubscriberNotFound is returned when unsubscribing an unknown id.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrNilSubscriber is returned for a nil channel or callback.
	ErrNilSubscriber = errors.New("nil subscriber")
)

const defaultBusQueueSize = 256

// DropPolicy decides which event is lost when a channel subscriber is full.
type DropPolicy int

const (
	// DropNew discards the incoming event.
	DropNew DropPolicy = iota
	// DropOld discards the oldest queued event to make room for the incoming one.
	DropOld
)

// SubscriberStats counts deliveries for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// BusStats is a point-in-time view of the bus counters.
type BusStats struct {
	Published   uint64
	QueueDrops  uint64 // events lost because the callback queue was full
	Subscribers map[string]SubscriberStats
}

type subscriber struct {
	id      string
	policy  DropPolicy
	ch      chan Event
	fn      func(Event)
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus fans timeline events out to channel and callback subscribers.
//
// Channel subscribers are fed without blocking according to their DropPolicy.
// Callback subscribers run on the bus dispatch goroutine, so a callback may
// call back into the timeline that emitted the event.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	queue chan Event
	wg    sync.WaitGroup

	logger     *slog.Logger
	queueSize  int
	published  atomic.Uint64
	queueDrops atomic.Uint64
}

var _ Notifier = (*Bus)(nil)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusQueueSize sets how many events may wait for callback subscribers.
func WithBusQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithBusLogger sets the bus logger.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBus creates a bus and starts its dispatch goroutine. Call Close to stop it.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscriber),
		logger:      slog.Default(),
		queueSize:   defaultBusQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan Event, b.queueSize)

	b.wg.Add(1)
	go b.dispatchLoop()
	return b
}

// Subscribe registers a channel subscriber.
func (b *Bus) Subscribe(id string, ch chan Event, policy DropPolicy) error {
	if ch == nil {
		return ErrNilSubscriber
	}
	return b.add(&subscriber{id: id, policy: policy, ch: ch})
}

// SubscribeFunc registers a callback subscriber.
func (b *Bus) SubscribeFunc(id string, fn func(Event)) error {
	if fn == nil {
		return ErrNilSubscriber
	}
	return b.add(&subscriber{id: id, fn: fn})
}

func (b *Bus) add(s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[s.id]; exists {
		return ErrSubscriberExists
	}
	b.subscribers[s.id] = s
	return nil
}

// Unsubscribe removes a subscriber. Channels are not closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}
	delete(b.subscribers, id)
	return nil
}

// Notify publishes ev. It never blocks.
func (b *Bus) Notify(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	hasFuncs := false
	for _, s := range b.subscribers {
		if s.fn != nil {
			hasFuncs = true
			continue
		}
		s.deliver(ev)
	}

	if !hasFuncs {
		return
	}
	select {
	case b.queue <- ev:
	default:
		b.queueDrops.Add(1)
		b.logger.Warn("bus: callback queue full, event dropped",
			"kind", ev.Kind.String(), "timestamp", ev.Timestamp)
	}
}

func (s *subscriber) deliver(ev Event) {
	select {
	case s.ch <- ev:
		s.sent.Add(1)
		return
	default:
	}

	if s.policy == DropNew {
		s.dropped.Add(1)
		return
	}

	// make room by discarding the oldest queued event
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
		s.sent.Add(1)
	default:
		s.dropped.Add(1)
	}
}

// dispatchLoop runs callback subscribers in publication order.
func (b *Bus) dispatchLoop() {
	defer b.wg.Done()

	for ev := range b.queue {
		b.mu.RLock()
		fns := make([]*subscriber, 0, len(b.subscribers))
		for _, s := range b.subscribers {
			if s.fn != nil {
				fns = append(fns, s)
			}
		}
		b.mu.RUnlock()

		for _, s := range fns {
			b.call(s, ev)
		}
	}
}

func (b *Bus) call(s *subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.dropped.Add(1)
			b.logger.Error("bus: subscriber panicked", "subscriber", s.id, "panic", r)
		}
	}()
	s.fn(ev)
	s.sent.Add(1)
}

// Stats returns the current bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		Published:   b.published.Load(),
		QueueDrops:  b.queueDrops.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		stats.Subscribers[id] = SubscriberStats{
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
	}
	return stats
}

// Close stops the dispatch goroutine after queued callbacks have run.
// It is safe to call more than once.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
