// Package reconnect implements the gated, exponential-backoff-with-jitter
// reconnect loop described in spec.md §4.3. A binary gate (grounded on the
// teacher's GoroutineLimiter in resource_guard.go, which uses a buffered
// channel the same way to cap concurrent work) ensures at most one
// reconnect attempt runs per Helper at a time.
package reconnect

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"marketfeed/internal/ingerr"
)

// Defaults per spec.md §4.3/§6.
const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 60 * time.Second
	jitterMin          = 0.8
	jitterRange        = 0.4 // jitter ∈ [0.8, 1.2]
)

// Event is emitted once a reconnect attempt succeeds; it is the sole
// handoff to the backfill subsystem (spec.md §4.3).
type Event struct {
	ProviderName   string
	DisconnectedAt time.Time
	ReconnectedAt  time.Time
	AttemptsUsed   int
	GapDuration    time.Duration
}

// Handler receives a reconnect Event. Panics inside a Handler are recovered
// and logged; they never propagate back into the Helper (spec.md §4.3).
type Handler func(Event)

// Helper drives the gated reconnect loop for one provider connection.
type Helper struct {
	providerName string
	maxAttempts  int
	baseDelay    time.Duration
	maxDelay     time.Duration
	onReconnect  Handler
	log          zerolog.Logger

	gate chan struct{} // capacity 1: binary semaphore

	mu             sync.Mutex
	disconnectedAt time.Time
}

// Option configures a Helper at construction.
type Option func(*Helper)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option { return func(h *Helper) { h.maxAttempts = n } }

// WithDelays overrides the base/cap backoff bounds.
func WithDelays(base, maxDelay time.Duration) Option {
	return func(h *Helper) { h.baseDelay, h.maxDelay = base, maxDelay }
}

// WithLogger attaches a logger used to report recovered handler panics.
func WithLogger(log zerolog.Logger) Option { return func(h *Helper) { h.log = log } }

// New builds a Helper for providerName. onReconnect may be nil.
func New(providerName string, onReconnect Handler, opts ...Option) *Helper {
	h := &Helper{
		providerName: providerName,
		maxAttempts:  DefaultMaxAttempts,
		baseDelay:    DefaultBaseDelay,
		maxDelay:     DefaultMaxDelay,
		onReconnect:  onReconnect,
		log:          zerolog.Nop(),
		gate:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MarkDisconnected records the moment the connection was actually lost, so
// the eventual gap duration reflects it rather than the later moment
// TryReconnect happens to be invoked. Per spec.md §9's open question on
// disconnectedAt under-reporting the gap; calling this before TryReconnect
// is optional — TryReconnect falls back to capturing "now" on entry if it
// was never called, or if the mark predates the previous reconnect.
func (h *Helper) MarkDisconnected(at time.Time) {
	h.mu.Lock()
	h.disconnectedAt = at
	h.mu.Unlock()
}

// TryReconnect attempts to acquire the binary gate; a concurrent caller
// while an attempt is already in flight returns (false, nil) immediately —
// "already reconnecting" is not an error. The winning caller drives up to
// maxAttempts invocations of action, each preceded by an exponential
// backoff-with-jitter wait, until action succeeds, ctx is canceled, or
// attempts are exhausted.
func (h *Helper) TryReconnect(ctx context.Context, action func(context.Context) error) (bool, error) {
	select {
	case h.gate <- struct{}{}:
	default:
		return false, nil
	}
	defer func() { <-h.gate }()

	h.mu.Lock()
	disconnectedAt := h.disconnectedAt
	if disconnectedAt.IsZero() {
		disconnectedAt = time.Now()
	}
	h.disconnectedAt = time.Time{}
	h.mu.Unlock()

	maxAttempts := h.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	for k := 1; k <= maxAttempts; k++ {
		delay := BackoffDelay(h.baseDelay, h.maxDelay, k)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(delay):
		}

		err := action(ctx)
		if err == nil {
			now := time.Now()
			h.invokeHandler(Event{
				ProviderName:   h.providerName,
				DisconnectedAt: disconnectedAt,
				ReconnectedAt:  now,
				AttemptsUsed:   k,
				GapDuration:    now.Sub(disconnectedAt),
			})
			return true, nil
		}
		if ingerr.IsCancellation(err) {
			return false, err
		}
	}
	return false, nil
}

func (h *Helper) invokeHandler(evt Event) {
	if h.onReconnect == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("provider", h.providerName).
				Interface("panic", r).
				Msg("reconnect handler panicked, recovered")
		}
	}()
	h.onReconnect(evt)
}

// BackoffDelay computes the attempt-k delay per spec.md §4.3:
// min(base·2^(k-1), cap) scaled by a uniform jitter in [0.8, 1.2]. base/cap
// fall back to the package defaults when <= 0.
func BackoffDelay(base, maxDelay time.Duration, k int) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if k < 1 {
		k = 1
	}

	raw := base
	// Shift left (k-1) times, capping early to avoid overflow on large k.
	for i := 1; i < k; i++ {
		if raw >= maxDelay {
			raw = maxDelay
			break
		}
		raw *= 2
	}
	if raw > maxDelay {
		raw = maxDelay
	}

	jitter := jitterMin + rand.Float64()*jitterRange
	return time.Duration(float64(raw) * jitter)
}
