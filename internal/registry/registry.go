// Package registry implements the explicit provider registry called for by
// spec.md §9's design note: replace reflection-based plugin discovery with
// a registry seeded at program init, where dynamic loading (if any) appends
// to the same registry rather than introducing a parallel discovery path.
//
// Grounded on the teacher's main.go, which drives either a monolithic or a
// sharded server from one ServerConfig-shaped input — generalized here so
// that "legacy" (hand-wired at construction) and "new" (Register-ed later)
// providers are indistinguishable to the composite/router sitting above
// the registry (SPEC_FULL.md §4.12).
package registry

import (
	"fmt"

	"marketfeed/internal/provider"
)

// Registry holds every provider this process knows about, historical and
// streaming, keyed by descriptor ID. It has no discovery logic of its own:
// callers call Register* explicitly, whether from a hand-wired "legacy"
// construction path or a config-driven "new" one.
type Registry struct {
	historical     []provider.Historical
	streaming      []provider.Streaming
	historicalByID map[string]int
	streamingByID  map[string]int
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{
		historicalByID: make(map[string]int),
		streamingByID:  make(map[string]int),
	}
}

// RegisterHistorical adds a historical provider under its Descriptor().ID.
// It errors if that ID is already registered — ambiguous ownership is
// refused, not silently overwritten.
func (r *Registry) RegisterHistorical(p provider.Historical) error {
	id := p.Descriptor().ID
	if _, exists := r.historicalByID[id]; exists {
		return fmt.Errorf("registry: historical provider %q already registered", id)
	}
	r.historicalByID[id] = len(r.historical)
	r.historical = append(r.historical, p)
	return nil
}

// RegisterStreaming adds a streaming provider under its Descriptor().ID,
// with the same already-registered rule as RegisterHistorical.
func (r *Registry) RegisterStreaming(p provider.Streaming) error {
	id := p.Descriptor().ID
	if _, exists := r.streamingByID[id]; exists {
		return fmt.Errorf("registry: streaming provider %q already registered", id)
	}
	r.streamingByID[id] = len(r.streaming)
	r.streaming = append(r.streaming, p)
	return nil
}

// Historical returns every registered historical provider in registration
// order — the order the composite historical provider (C7) will see them
// in when built from this registry.
func (r *Registry) Historical() []provider.Historical {
	out := make([]provider.Historical, len(r.historical))
	copy(out, r.historical)
	return out
}

// Streaming returns every registered streaming provider in registration
// order — the order the failover router (C9) treats as primary-first.
func (r *Registry) Streaming() []provider.Streaming {
	out := make([]provider.Streaming, len(r.streaming))
	copy(out, r.streaming)
	return out
}

// GetHistorical looks up a single historical provider by descriptor ID.
func (r *Registry) GetHistorical(id string) (provider.Historical, bool) {
	idx, ok := r.historicalByID[id]
	if !ok {
		return nil, false
	}
	return r.historical[idx], true
}

// GetStreaming looks up a single streaming provider by descriptor ID.
func (r *Registry) GetStreaming(id string) (provider.Streaming, bool) {
	idx, ok := r.streamingByID[id]
	if !ok {
		return nil, false
	}
	return r.streaming[idx], true
}
