// Package publish implements the bounded, non-blocking event publisher
// described in spec.md §4.1: single-producer/multi-consumer fan-out, one
// independent queue per subscriber, drop-oldest on overflow. It never
// blocks the caller and never returns an error — overflow is a counter,
// not a failure (spec.md §7).
package publish

import (
	"sync"
	"sync/atomic"

	"marketfeed/internal/event"
)

// DefaultCapacity is the per-subscriber queue depth used when a caller
// does not override it (spec.md §6, publisherQueueCapacity).
const DefaultCapacity = 50000

// Subscriber is one consumer's independent bounded queue. Construct one via
// Publisher.Subscribe; never directly.
type Subscriber struct {
	id       string
	ch       chan event.MarketEvent
	dropped  atomic.Int64
	capacity int
}

// ID returns the subscriber's name, as passed to Subscribe.
func (s *Subscriber) ID() string { return s.id }

// Events returns the channel to range over for delivered events. It is
// closed when the subscriber is removed via Publisher.Unsubscribe.
func (s *Subscriber) Events() <-chan event.MarketEvent { return s.ch }

// Dropped returns the running count of events evicted from this
// subscriber's queue due to overflow.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Capacity returns the subscriber's fixed queue depth.
func (s *Subscriber) Capacity() int { return s.capacity }

// enqueue performs the hot-path, non-blocking insert with drop-oldest
// semantics. It never blocks: a full queue yields its oldest entry to make
// room, so a slow subscriber never backs up the publisher.
func (s *Subscriber) enqueue(evt event.MarketEvent) bool {
	select {
	case s.ch <- evt:
		return true
	default:
	}

	// Queue is full: evict one oldest entry, then retry the send. A
	// concurrent consumer may have drained concurrently, which is fine —
	// either way the head slot is now free.
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}

	select {
	case s.ch <- evt:
	default:
		// Raced with another producer on the same subscriber (shouldn't
		// happen under the single-producer model, but never block).
		s.dropped.Add(1)
	}
	return false
}

// Publisher fans a stream of MarketEvents out to every subscribed consumer.
// Safe for concurrent Subscribe/Unsubscribe/TryPublish calls.
type Publisher struct {
	mu              sync.RWMutex
	subs            map[string]*Subscriber
	defaultCapacity int
}

// New creates a Publisher whose subscribers default to capacity (or
// DefaultCapacity if capacity <= 0).
func New(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{
		subs:            make(map[string]*Subscriber),
		defaultCapacity: capacity,
	}
}

// Subscribe registers a new consumer under id, replacing (and closing) any
// previous subscriber with the same id. capacity overrides the publisher's
// default when > 0.
func (p *Publisher) Subscribe(id string, capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = p.defaultCapacity
	}
	sub := &Subscriber{
		id:       id,
		ch:       make(chan event.MarketEvent, capacity),
		capacity: capacity,
	}

	p.mu.Lock()
	if old, ok := p.subs[id]; ok {
		close(old.ch)
	}
	p.subs[id] = sub
	p.mu.Unlock()

	return sub
}

// Unsubscribe removes and closes the named subscriber's queue. Safe to call
// for an id that is not currently subscribed.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subs[id]; ok {
		close(sub.ch)
		delete(p.subs, id)
	}
}

// TryPublish fans evt out to every current subscriber without blocking.
// It returns false if any subscriber's queue was full and had to drop its
// oldest entry to make room — true only if every subscriber accepted evt
// without an eviction.
func (p *Publisher) TryPublish(evt event.MarketEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ok := true
	for _, sub := range p.subs {
		if !sub.enqueue(evt) {
			ok = false
		}
	}
	return ok
}

// SubscriberCount returns the number of currently registered subscribers.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Close unsubscribes and closes every subscriber's queue.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sub := range p.subs {
		close(sub.ch)
		delete(p.subs, id)
	}
}
