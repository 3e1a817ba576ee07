// Package bus implements the broadcast event bus that connects the watcher's
// components. The bus is the only resource shared across concurrently
// scheduled units: the scheduler publishes analysis results, the gateway
// publishes user queries, and each consumer reads through its own bounded
// backlog.
//
// Delivery is at-most-once and lossy per subscriber: a publisher never
// blocks, and when a subscriber's backlog is full its oldest unread events
// are dropped to admit the newest. A subscriber that is not listening when
// an event is published simply misses it; nothing is replayed.
package bus

import (
	"sync"
	"sync/atomic"
)

// DefaultBacklog is the per-subscriber backlog used by Subscribe. It matches
// the fanout depth the watcher needs to ride out one slow model call without
// losing interleaved progress events.
const DefaultBacklog = 100

// Bus is an internally synchronized broadcast hub. The zero value is not
// usable; construct with New.
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a new independent consumer positioned at "now" with
// the default backlog. The consumer never receives events published before
// this call returns.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBacklog(DefaultBacklog)
}

// SubscribeBacklog is Subscribe with an explicit backlog capacity.
func (b *Bus) SubscribeBacklog(n int) *Subscription {
	if n < 1 {
		n = 1
	}

	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, n),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub
	}

	b.subs[sub] = struct{}{}

	return sub
}

// Publish delivers the event to every currently registered subscriber. It
// never blocks: a subscriber whose backlog is full loses its oldest unread
// entry instead. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for sub := range b.subs {
		sub.offer(ev)
	}
}

// Close cancels every subscription. Subsequent publishes are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

// Subscription is one consumer's bounded view of the bus. It is safe for a
// single goroutine to receive from while other goroutines publish.
type Subscription struct {
	bus     *Bus
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the channel of delivered events. The channel is closed when
// the subscription is cancelled or the bus shuts down.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because this subscriber's
// backlog was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Cancel removes the subscription from the bus and closes its channel.
// Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		if _, ok := s.bus.subs[s]; ok {
			delete(s.bus.subs, s)
			close(s.ch)
		}
	})
}

// offer appends the event to the backlog, evicting the oldest unread entry
// if the backlog is full. Called with the bus mutex held, so publishes are
// serialized; the consumer may drain concurrently, which only makes room.
func (s *Subscription) offer(ev Event) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}

		// Backlog full: evict the oldest entry and retry. The eviction
		// can race with the consumer draining the same entry, in which
		// case the retry simply succeeds.
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}
