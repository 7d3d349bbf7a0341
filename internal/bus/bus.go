package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrClosed is returned by Publish once the bus has been closed.
var ErrClosed = errors.New("bus: closed")

// Bus is the publish/subscribe contract. MemoryBus and the Redis-backed
// implementation in redis.go both satisfy it with identical topic and
// session-filter semantics.
type Bus interface {
	// Publish dispatches env to every subscription whose type and
	// session filter match. Non-blocking with respect to slow readers.
	Publish(ctx context.Context, env Envelope) error
	// Subscribe returns a live subscription for the given event type,
	// optionally restricted to a single session_id (sessionFilter ==
	// "" means no restriction). maxQueue bounds the subscriber's
	// backlog; when full, the oldest undelivered envelope is dropped.
	Subscribe(eventType EventType, sessionFilter string, maxQueue int) (*Subscription, error)
	// Close rejects further Publish calls and delivers a Closed
	// sentinel to every still-open subscription.
	Close() error
}

// Subscription is a bounded, lazy stream of envelopes matching one
// subscribe call. Exactly one goroutine should read C.
type Subscription struct {
	// C is the channel of delivered envelopes, including the terminal
	// Closed sentinel if the bus is closed while this subscription is
	// still open.
	C <-chan Envelope

	unsubscribe func()
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// subscriber is the bus's internal view of a Subscription: the
// send-side of its channel plus the filter it was created with.
type subscriber struct {
	eventType     EventType
	sessionFilter string
	mu            sync.Mutex // serializes enqueue against concurrent publishers
	ch            chan Envelope
}

func (s *subscriber) matches(env Envelope) bool {
	if env.Type != s.eventType {
		return false
	}
	if s.sessionFilter == "" {
		return true
	}
	return env.SessionID == s.sessionFilter || env.SessionID == BroadcastSession
}

// enqueue delivers env without blocking. When the channel is full, the
// oldest buffered envelope is dropped to make room — freshness over
// history, per the bus's backpressure policy.
func (s *subscriber) enqueue(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- env:
		return
	default:
	}

	// Full: drop the oldest envelope, then enqueue the new one. A
	// concurrent reader may have drained a slot between the failed
	// send above and this one; either way the channel has room now.
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- env:
	default:
	}
}

// MemoryBus is the in-process Bus implementation: a topic/filter
// pub-sub fabric with bounded per-subscriber queues, guarded by a
// single mutex. Publish snapshots the matching subscriber set under
// the lock, then delivers to each without holding it.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewMemory creates an in-process Bus ready for use.
func NewMemory() *MemoryBus {
	return &MemoryBus{
		subs: make(map[*subscriber]struct{}),
	}
}

// Subscribe implements Bus.
func (b *MemoryBus) Subscribe(eventType EventType, sessionFilter string, maxQueue int) (*Subscription, error) {
	if maxQueue <= 0 {
		maxQueue = 10
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		eventType:     eventType,
		sessionFilter: sessionFilter,
		ch:            make(chan Envelope, maxQueue),
	}

	if b.closed {
		// Per §4.3/§7: a subscribe against a closed bus still hands
		// back a stream, but it immediately yields the sentinel.
		sub.ch <- Envelope{ID: uuid.NewString(), Payload: Closed{BusClosed: true}}
		return &Subscription{C: sub.ch, unsubscribe: func() {}}, nil
	}

	b.subs[sub] = struct{}{}
	return &Subscription{
		C: sub.ch,
		unsubscribe: func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		},
	}, nil
}

// Publish implements Bus.
func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	if env.ID == "" {
		env.ID = uuid.NewString()
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	matching := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		if sub.matches(env) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		sub.enqueue(env)
	}
	return nil
}

// Close implements Bus.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*subscriber]struct{})
	b.mu.Unlock()

	sentinel := Envelope{ID: uuid.NewString(), Payload: Closed{BusClosed: true}}
	for _, sub := range subs {
		sub.enqueue(sentinel)
	}
	return nil
}
