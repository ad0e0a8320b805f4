// Package subscription implements the provider-scoped subscription ID
// allocator of spec.md §4.4: dense, globally-parseable IDs per provider,
// idempotent Subscribe, symbol/kind lookup.
//
// Grounded on the teacher's connection.go SubscriptionSet, which tracks a
// client's subscribed channels behind an RWMutex; generalized here to also
// own ID allocation and reverse lookup by kind.
package subscription

import (
	"sort"
	"sync"
)

// Kind is the class of market data a subscription carries.
type Kind string

const (
	KindTrades Kind = "trades"
	KindQuotes Kind = "quotes"
	KindDepth  Kind = "depth"
)

// Config carries provider-specific subscription parameters (depth level,
// aggregation window, …); providers interpret their own shape.
type Config map[string]any

// Subscription is one active (symbol, kind) registration.
type Subscription struct {
	ID     int64
	Symbol string
	Kind   Kind
	Config Config
}

type key struct {
	symbol string
	kind   Kind
}

// Manager allocates dense, provider-scoped subscription IDs starting from
// a well-known offset, so IDs remain parseable in logs across providers
// (spec.md §4.4). Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	offset int64
	next   int64
	byID   map[int64]*Subscription
	byKey  map[key]int64
}

// New creates a Manager whose IDs start at offset (offset itself is the
// first ID handed out).
func New(offset int64) *Manager {
	return &Manager{
		offset: offset,
		next:   offset,
		byID:   make(map[int64]*Subscription),
		byKey:  make(map[key]int64),
	}
}

// Subscribe returns the subscription id for (symbol, kind), allocating a
// new one if this is the first request for that pair, or returning the
// existing id if already subscribed (idempotent, per spec.md §4.4).
func (m *Manager) Subscribe(symbol string, kind Kind, cfg Config) int64 {
	k := key{symbol: symbol, kind: kind}

	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byKey[k]; ok {
		return id
	}

	id := m.next
	m.next++
	m.byKey[k] = id
	m.byID[id] = &Subscription{ID: id, Symbol: symbol, Kind: kind, Config: cfg}
	return id
}

// Unsubscribe detaches subscription id, returning the (symbol, kind) it
// carried, or ok=false if id was not active.
func (m *Manager) Unsubscribe(id int64) (symbol string, kind Kind, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, found := m.byID[id]
	if !found {
		return "", "", false
	}
	delete(m.byID, id)
	delete(m.byKey, key{symbol: sub.Symbol, kind: sub.Kind})
	return sub.Symbol, sub.Kind, true
}

// Get returns the active subscription for id, if any.
func (m *Manager) Get(id int64) (Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.byID[id]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// GetSymbolsByKind returns every currently subscribed symbol of the given
// kind, in no particular order.
func (m *Manager) GetSymbolsByKind(kind Kind) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbols := make([]string, 0, len(m.byID))
	for _, sub := range m.byID {
		if sub.Kind == kind {
			symbols = append(symbols, sub.Symbol)
		}
	}
	return symbols
}

// All returns a snapshot of every active subscription, ordered by ID —
// used by the streaming client base to rebuild its aggregate subscribe
// message deterministically after a reconnect (spec.md §4.7/§4.8).
func (m *Manager) All() []Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Subscription, 0, len(m.byID))
	for _, sub := range m.byID {
		out = append(out, *sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of active subscriptions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
