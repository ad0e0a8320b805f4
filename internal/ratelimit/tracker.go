// Package ratelimit implements the per-provider sliding-window usage
// tracker described in spec.md §4.2: each provider gets a single
// (windowStart, count) pair, rolled forward when the window elapses, plus
// explicit rate-limit-hit state derived from a Retry-After signal.
//
// Grounded on the teacher's resource_guard.go, which leans on
// golang.org/x/time/rate for its own admission control; this package keeps
// that dependency, using a per-provider rate.Limiter to smooth requests to
// the provider's configured MinDelay (Wait), layered under the
// provider-scoped bookkeeping spec.md actually asks for (usage ratio,
// approaching-limit, reset time) on top of a plain counter rather than the
// token-bucket semantics rate.Limiter provides for admission, since the
// spec's window/count model and a token bucket answer different questions.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateLimitedFor is used when RecordRateLimitHit is called without
// an explicit Retry-After duration (spec.md §4.2).
const DefaultRateLimitedFor = 60 * time.Second

// DefaultApproachingThreshold is the usage ratio above which a provider is
// considered "approaching limit" (spec.md §6).
const DefaultApproachingThreshold = 0.8

type providerState struct {
	mu sync.Mutex

	maxRequests int
	window      time.Duration
	minDelay    time.Duration
	limiter     *rate.Limiter // smooths requests to one per minDelay; unlimited if minDelay <= 0

	windowStart  time.Time
	requestCount int

	limitedUntil time.Time // zero means not currently rate-limited
}

// Tracker holds sliding-window usage state for every registered provider.
// Safe for concurrent use by many provider clients.
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]*providerState
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{providers: make(map[string]*providerState)}
}

// RegisterProvider declares a provider's rate-limit parameters. Calling it
// again for the same id resets that provider's window.
func (t *Tracker) RegisterProvider(id string, maxRequests int, window, minDelay time.Duration) {
	limit := rate.Inf
	if minDelay > 0 {
		limit = rate.Every(minDelay)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[id] = &providerState{
		maxRequests: maxRequests,
		window:      window,
		minDelay:    minDelay,
		limiter:     rate.NewLimiter(limit, 1),
		windowStart: time.Now(),
	}
}

func (t *Tracker) state(id string) *providerState {
	t.mu.RLock()
	s := t.providers[id]
	t.mu.RUnlock()
	return s
}

// rollIfElapsed resets the window/count if the current window has elapsed.
// Caller must hold s.mu.
func (s *providerState) rollIfElapsed(now time.Time) {
	if s.window <= 0 {
		return
	}
	if now.Sub(s.windowStart) >= s.window {
		s.windowStart = now
		s.requestCount = 0
	}
}

// RecordRequest increments the provider's request counter, rolling the
// window first if it has elapsed. A no-op for an unregistered provider.
func (t *Tracker) RecordRequest(id string) {
	s := t.state(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollIfElapsed(time.Now())
	s.requestCount++
}

// RecordRateLimitHit marks the provider limited until now+retryAfter (or
// now+DefaultRateLimitedFor if retryAfter <= 0). A no-op for an
// unregistered provider.
func (t *Tracker) RecordRateLimitHit(id string, retryAfter time.Duration) {
	s := t.state(id)
	if s == nil {
		return
	}
	if retryAfter <= 0 {
		retryAfter = DefaultRateLimitedFor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitedUntil = time.Now().Add(retryAfter)
}

// IsRateLimited reports whether the provider is currently within a
// recorded rate-limit window. An unregistered provider is never limited.
func (t *Tracker) IsRateLimited(id string) bool {
	s := t.state(id)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.limitedUntil.IsZero() && time.Now().Before(s.limitedUntil)
}

// UsageRatio returns the provider's current-window request count divided by
// its configured maximum. An unregistered provider, or one with no
// configured maximum, reports 0.
func (t *Tracker) UsageRatio(id string) float64 {
	s := t.state(id)
	if s == nil || s.maxRequests <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollIfElapsed(time.Now())
	return float64(s.requestCount) / float64(s.maxRequests)
}

// IsApproachingLimit reports whether the provider's usage ratio meets or
// exceeds threshold (DefaultApproachingThreshold if threshold <= 0).
func (t *Tracker) IsApproachingLimit(id string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultApproachingThreshold
	}
	return t.UsageRatio(id) >= threshold
}

// GetTimeUntilReset returns the duration until the provider's rate-limit
// state clears — the remaining limitedUntil window if currently
// rate-limited, otherwise the remaining time in the current usage window.
// ok is false for an unregistered provider.
func (t *Tracker) GetTimeUntilReset(id string) (d time.Duration, ok bool) {
	s := t.state(id)
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.limitedUntil.IsZero() && now.Before(s.limitedUntil) {
		return s.limitedUntil.Sub(now), true
	}
	if s.window <= 0 {
		return 0, true
	}
	remaining := s.window - now.Sub(s.windowStart)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// ClearRateLimitState clears a provider's rate-limited flag, called on the
// first success after a limit (spec.md §4.2). A no-op for an unregistered
// provider.
func (t *Tracker) ClearRateLimitState(id string) {
	s := t.state(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limitedUntil = time.Time{}
}

// MinDelay returns the provider's configured minimum inter-request delay.
func (t *Tracker) MinDelay(id string) time.Duration {
	s := t.state(id)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minDelay
}

// Wait blocks until the provider's configured MinDelay has elapsed since
// the last call that went through Wait, or returns early with ctx's error
// if ctx is done first. A no-op for an unregistered provider or one
// registered with MinDelay <= 0.
func (t *Tracker) Wait(ctx context.Context, id string) error {
	s := t.state(id)
	if s == nil || s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}
