// Package failover implements the failover router of spec.md §4.8: an
// ordered set of streaming providers behind one interface, exactly one
// active at a time, with rule-driven automatic switchover and
// state-preserving re-subscription.
//
// Grounded on the teacher's sharded/router.go MessageRouter, whose
// mutex-protected routing-table swap is the direct model for this
// package's active-pointer swap under a single serializing mutex.
package failover

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/ingerr"
	"marketfeed/internal/provider"
	"marketfeed/internal/subscription"
)

// Rule fires a switch away from the active provider when one of its
// thresholds is crossed (spec.md §4.8). A zero threshold disables that
// half of the rule.
type Rule struct {
	ID                  string
	ConsecutiveFailures int
	RateLimitedFor      time.Duration
}

// TriggerHandler observes a completed switch.
type TriggerHandler func(ruleID, from, to string)

// Option configures a Router at construction.
type Option func(*Router)

// WithOnTriggered sets the callback invoked after a rule-driven switch.
func WithOnTriggered(h TriggerHandler) Option { return func(r *Router) { r.onTriggered = h } }

// WithOnRecovered sets the callback invoked after a switch back to a
// recovered provider.
func WithOnRecovered(h TriggerHandler) Option { return func(r *Router) { r.onRecovered = h } }

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) Option { return func(r *Router) { r.log = log } }

// Router wraps an ordered list of streaming providers (index 0 is the
// preferred primary) and exposes the same Streaming-shaped surface,
// transparently swapping the active provider when a Rule fires.
type Router struct {
	mu        sync.Mutex
	providers []provider.Streaming
	activeIdx int

	subs        *subscription.Manager
	physicalIDs map[int64]int64 // logical subscription id -> active provider's physical id

	rules               []Rule
	consecutiveFailures map[string]int
	rateLimitedSince    map[string]time.Time

	onTriggered TriggerHandler
	onRecovered TriggerHandler
	log         zerolog.Logger
}

// New builds a Router. providers must be non-empty; providers[0] is the
// preferred primary.
func New(providers []provider.Streaming, rules []Rule, idOffset int64, opts ...Option) *Router {
	r := &Router{
		providers:           providers,
		subs:                subscription.New(idOffset),
		physicalIDs:         make(map[int64]int64),
		rules:               rules,
		consecutiveFailures: make(map[string]int),
		rateLimitedSince:    make(map[string]time.Time),
		log:                 zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect attempts the primary; on failure it iterates the backup list in
// order and activates the first one that connects (spec.md §4.8).
func (r *Router) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for i, p := range r.providers {
		if err := p.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		r.activeIdx = i
		return nil
	}
	return fmt.Errorf("failover: no provider could connect: %w", lastErr)
}

// ActiveProviderID returns the currently active provider's descriptor id.
func (r *Router) ActiveProviderID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.providers[r.activeIdx].Descriptor().ID
}

func (r *Router) active() provider.Streaming {
	return r.providers[r.activeIdx]
}

// subscribe allocates (or reuses) a stable logical id, issues the physical
// subscribe against the currently active provider, and reports the
// outcome to the rule engine.
func (r *Router) subscribe(ctx context.Context, symbol string, kind subscription.Kind, params subscription.Config) (int64, error) {
	logical := r.subs.Subscribe(symbol, kind, params)

	r.mu.Lock()
	activeID := r.providers[r.activeIdx].Descriptor().ID
	target := r.active()
	r.mu.Unlock()

	cfg := provider.StreamConfig{Symbol: symbol, Params: params}
	var physical int64
	var err error
	switch kind {
	case subscription.KindTrades:
		physical, err = target.SubscribeTrades(ctx, cfg)
	case subscription.KindQuotes:
		physical, err = target.SubscribeQuotes(ctx, cfg)
	case subscription.KindDepth:
		physical, err = target.SubscribeDepth(ctx, cfg)
	}

	r.reportOutcome(activeID, err)
	if err != nil {
		return logical, err
	}

	r.mu.Lock()
	r.physicalIDs[logical] = physical
	r.mu.Unlock()
	return logical, nil
}

// SubscribeTrades subscribes to trades for symbol via the active provider.
func (r *Router) SubscribeTrades(ctx context.Context, symbol string, params subscription.Config) (int64, error) {
	return r.subscribe(ctx, symbol, subscription.KindTrades, params)
}

// SubscribeQuotes subscribes to quotes for symbol via the active provider.
func (r *Router) SubscribeQuotes(ctx context.Context, symbol string, params subscription.Config) (int64, error) {
	return r.subscribe(ctx, symbol, subscription.KindQuotes, params)
}

// SubscribeDepth subscribes to depth for symbol via the active provider.
func (r *Router) SubscribeDepth(ctx context.Context, symbol string, params subscription.Config) (int64, error) {
	return r.subscribe(ctx, symbol, subscription.KindDepth, params)
}

// Unsubscribe detaches the logical id from whichever provider is currently
// active. The caller's logical id remains stable even across a switch that
// happens concurrently; Unsubscribe is simply a no-op if the id was never
// mapped to a physical subscription on the current active provider.
func (r *Router) Unsubscribe(id int64) error {
	r.subs.Unsubscribe(id)

	r.mu.Lock()
	physical, ok := r.physicalIDs[id]
	target := r.active()
	delete(r.physicalIDs, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return target.Unsubscribe(physical)
}

// reportOutcome feeds a call's success/failure into the rule engine for
// the provider that handled it. Only outcomes against the currently active
// provider drive failover decisions.
func (r *Router) reportOutcome(providerID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		r.consecutiveFailures[providerID] = 0
		delete(r.rateLimitedSince, providerID)
		return
	}

	if ingerr.IsCancellation(err) {
		return
	}

	r.consecutiveFailures[providerID]++
	if ie, ok := ingerr.As(err); ok && ie.Kind == ingerr.KindRateLimited {
		if _, already := r.rateLimitedSince[providerID]; !already {
			r.rateLimitedSince[providerID] = time.Now()
		}
	} else {
		delete(r.rateLimitedSince, providerID)
	}

	triggerRule := ""
	for _, rule := range r.rules {
		if rule.ConsecutiveFailures > 0 && r.consecutiveFailures[providerID] >= rule.ConsecutiveFailures {
			triggerRule = rule.ID
			break
		}
		if since, ok := r.rateLimitedSince[providerID]; ok && rule.RateLimitedFor > 0 && time.Since(since) >= rule.RateLimitedFor {
			triggerRule = rule.ID
			break
		}
	}
	if triggerRule == "" || providerID != r.providers[r.activeIdx].Descriptor().ID {
		return
	}

	fromIdx := r.activeIdx
	targetIdx := r.nextCandidateIdx(fromIdx)
	r.mu.Unlock()
	if targetIdx >= 0 {
		r.switchTo(context.Background(), triggerRule, fromIdx, targetIdx, r.onTriggered)
	}
	r.mu.Lock() // restore the lock reportOutcome's own defer expects to release
}

// nextCandidateIdx returns the index of the first provider other than
// from, in list order, or -1 if none exists.
func (r *Router) nextCandidateIdx(from int) int {
	for i := range r.providers {
		if i != from {
			return i
		}
	}
	return -1
}

// switchTo performs the provider swap: connect the target, re-issue every
// active subscription deterministically by symbol, swap the active
// pointer, then best-effort disconnect the previous provider. Called with
// no lock held; it takes r.mu only for the short bookkeeping sections
// around the blocking provider calls, so a concurrent subscribe against an
// unrelated provider isn't serialized behind the whole switch.
func (r *Router) switchTo(ctx context.Context, ruleID string, fromIdx, targetIdx int, notify TriggerHandler) bool {
	r.mu.Lock()
	from := r.providers[fromIdx].Descriptor().ID
	target := r.providers[targetIdx]
	subsSnapshot := r.subs.All()
	r.mu.Unlock()

	if err := target.Connect(ctx); err != nil {
		r.log.Error().Str("rule", ruleID).Str("target", target.Descriptor().ID).Err(err).Msg("failover target failed to connect")
		return false
	}

	sort.Slice(subsSnapshot, func(i, j int) bool { return subsSnapshot[i].Symbol < subsSnapshot[j].Symbol })

	newPhysical := make(map[int64]int64, len(subsSnapshot))
	for _, sub := range subsSnapshot {
		cfg := provider.StreamConfig{Symbol: sub.Symbol, Params: sub.Config}
		var physical int64
		var err error
		switch sub.Kind {
		case subscription.KindTrades:
			physical, err = target.SubscribeTrades(ctx, cfg)
		case subscription.KindQuotes:
			physical, err = target.SubscribeQuotes(ctx, cfg)
		case subscription.KindDepth:
			physical, err = target.SubscribeDepth(ctx, cfg)
		}
		if err != nil {
			r.log.Warn().Str("symbol", sub.Symbol).Err(err).Msg("failed to re-subscribe symbol during failover, will retry on next operation")
			continue
		}
		newPhysical[sub.ID] = physical
	}

	r.mu.Lock()
	for id, phys := range newPhysical {
		r.physicalIDs[id] = phys
	}
	r.activeIdx = targetIdx
	r.consecutiveFailures[from] = 0
	delete(r.rateLimitedSince, from)
	r.mu.Unlock()

	_ = r.providers[fromIdx].Disconnect() // best-effort

	to := target.Descriptor().ID
	if notify != nil {
		notify(ruleID, from, to)
	}
	return true
}

// CheckPrimaryRecovery is invoked periodically by the caller (spec.md
// §4.8's recovery path is event-driven in spirit, but is exposed here as
// an explicit poll so it can run on whatever schedule the operational
// scheduler permits, rather than an internal timer this package would own
// unconditionally). If the primary is not currently active and can now
// connect, it switches back using the same algorithm in reverse.
func (r *Router) CheckPrimaryRecovery(ctx context.Context) bool {
	r.mu.Lock()
	if r.activeIdx == 0 {
		r.mu.Unlock()
		return false
	}
	fromIdx := r.activeIdx
	r.mu.Unlock()

	return r.switchTo(ctx, "primary-recovery", fromIdx, 0, r.onRecovered)
}
