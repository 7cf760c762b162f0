// Package bus implements the in-process fan-out pub/sub used to
// distribute decoded ticks from the single TCP receive loop to every
// subscribed consumer, with drop-oldest backpressure so no subscriber
// can ever stall the producer.
package bus

import (
	"sync"

	"github.com/tanayshah11/mercury-stream/internal/ticker"
)

// DropHook is invoked once per dropped event, after the drop counter has
// already been incremented, so telemetry wiring stays out of the bus
// itself.
type DropHook func(subName string)

// Subscription is a bounded FIFO fed by Bus.publish and drained by the
// owning consumer via Receive.
type Subscription struct {
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []*ticker.Ticker
	head   int
	count  int
	cap    int
	closed bool

	drops uint64
}

// Name returns the subscriber's identifier.
func (s *Subscription) Name() string { return s.name }

// Drops returns the number of events dropped for this subscription due
// to backpressure.
func (s *Subscription) Drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drops
}

// Depth returns the number of events currently queued.
func (s *Subscription) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func newSubscription(name string, capacity int) *Subscription {
	s := &Subscription{name: name, buf: make([]*ticker.Ticker, capacity), cap: capacity}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// pushLocked enqueues e, evicting the oldest element first if the queue
// is already full. Caller holds s.mu.
func (s *Subscription) pushLocked(e *ticker.Ticker, onDrop DropHook) {
	if s.count == s.cap {
		s.head = (s.head + 1) % s.cap
		s.count--
		s.drops++
		if onDrop != nil {
			onDrop(s.name)
		}
	}
	idx := (s.head + s.count) % s.cap
	s.buf[idx] = e
	s.count++
	s.cond.Signal()
}

// Receive blocks until an event is available or the subscription is
// closed, in which case it returns (nil, false).
func (s *Subscription) Receive() (*ticker.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.count == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.count == 0 && s.closed {
		return nil, false
	}
	e := s.buf[s.head]
	s.buf[s.head] = nil
	s.head = (s.head + 1) % s.cap
	s.count--
	return e, true
}

func (s *Subscription) closeLocked() {
	s.closed = true
	s.cond.Broadcast()
}

// Bus fans out published events to every active subscription.
type Bus struct {
	mu        sync.Mutex
	subs      []*Subscription
	capacity  int
	dropsTotal uint64
	onDrop    DropHook
}

// New builds a Bus whose subscriptions default to the given per-
// subscriber queue capacity.
func New(capacity int) *Bus {
	return &Bus{capacity: capacity}
}

// OnDrop registers a callback invoked for every dropped event, used to
// wire telemetry without the bus importing the telemetry package.
func (b *Bus) OnDrop(hook DropHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = hook
}

// Subscribe registers a new receiver with a fresh bounded queue of the
// bus's default capacity.
func (b *Bus) Subscribe(name string) *Subscription {
	return b.SubscribeWithCapacity(name, b.capacity)
}

// SubscribeWithCapacity registers a new receiver with a queue of the
// given capacity, overriding the bus default (used by Forensics, which
// wants a deeper queue than the reference consumers).
func (b *Bus) SubscribeWithCapacity(name string, capacity int) *Subscription {
	s := newSubscription(name, capacity)
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Unsubscribe removes sub from the fan-out set; any events still queued
// for it are discarded and blocked Receive calls return false.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	sub.mu.Lock()
	for i := range sub.buf {
		sub.buf[i] = nil
	}
	sub.head, sub.count = 0, 0
	sub.closeLocked()
	sub.mu.Unlock()
}

// Publish delivers e to every current subscription. It never blocks on
// a slow subscriber: a full queue has its oldest element dropped before
// the new one is enqueued. Publish is O(N) in the number of active
// subscriptions.
func (b *Bus) Publish(e *ticker.Ticker) {
	b.mu.Lock()
	subs := b.subs // snapshot under lock; subs themselves are independently locked
	onDrop := b.onDrop
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		before := s.drops
		s.pushLocked(e, onDrop)
		if s.drops != before {
			b.mu.Lock()
			b.dropsTotal++
			b.mu.Unlock()
		}
		s.mu.Unlock()
	}
}

// DropsTotal returns the process-wide count of dropped events across
// all subscriptions.
func (b *Bus) DropsTotal() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropsTotal
}

// QueueDepths returns a name->depth snapshot for every active
// subscription, used by the Health consumer and by the periodic
// metrics flush task.
func (b *Bus) QueueDepths() map[string]int {
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.subs...)
	b.mu.Unlock()

	depths := make(map[string]int, len(subs))
	for _, s := range subs {
		depths[s.Name()] = s.Depth()
	}
	return depths
}

// SubscriberCount returns the number of currently active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Shutdown closes every active subscription so blocked consumers
// observe end-of-stream instead of hanging past process shutdown.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
	}
}
