// Package provider defines the capability-reporting Historical and
// Streaming interfaces every data-source adapter implements (spec.md
// §4.5), plus the provider descriptor and health-status types the
// composite and failover layers key their decisions on.
//
// Grounded on stocktopus's internal/provider/builder.go StockProvider
// interface and decorator chain (capability + rate-limit wrapping), and on
// the teacher's connection.go Client for the Streaming side's lifecycle
// shape.
package provider

import (
	"context"
	"time"

	"marketfeed/internal/event"
	"marketfeed/internal/subscription"
)

// RateLimitConfig is a provider's declared rate-limit parameters, fed into
// ratelimit.Tracker.RegisterProvider at registration time.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
	MinDelay    time.Duration
}

// Capabilities advertises what a provider can do, per spec.md §3. The
// composite filters and aggregates candidates using this struct.
type Capabilities struct {
	AdjustedPrices   bool
	Intraday         bool
	Dividends        bool
	Splits           bool
	Quotes           bool
	Trades           bool
	Depth            bool
	SupportedMarkets []string
}

// Union returns the capability set formed by OR-ing a with b, and the
// union (deduplicated) of their supported markets — used by the composite
// to report its own aggregate capabilities across children (spec.md §4.6).
func (a Capabilities) Union(b Capabilities) Capabilities {
	markets := make(map[string]struct{}, len(a.SupportedMarkets)+len(b.SupportedMarkets))
	for _, m := range a.SupportedMarkets {
		markets[m] = struct{}{}
	}
	for _, m := range b.SupportedMarkets {
		markets[m] = struct{}{}
	}
	merged := make([]string, 0, len(markets))
	for m := range markets {
		merged = append(merged, m)
	}

	return Capabilities{
		AdjustedPrices:   a.AdjustedPrices || b.AdjustedPrices,
		Intraday:         a.Intraday || b.Intraday,
		Dividends:        a.Dividends || b.Dividends,
		Splits:           a.Splits || b.Splits,
		Quotes:           a.Quotes || b.Quotes,
		Trades:           a.Trades || b.Trades,
		Depth:            a.Depth || b.Depth,
		SupportedMarkets: merged,
	}
}

// Descriptor identifies a provider and its static properties (spec.md §3).
type Descriptor struct {
	ID           string
	DisplayName  string
	Priority     int // lower = higher priority
	Capabilities Capabilities
	RateLimit    RateLimitConfig
}

// HealthStatus tracks a provider's recent success/failure history —
// supplements spec.md §3's data model with the bookkeeping the composite's
// failure-backoff window (spec.md §4.6) needs to operate on.
type HealthStatus struct {
	LastSuccess         time.Time
	LastFailure         time.Time
	ConsecutiveFailures int
	BackoffUntil        time.Time
}

// InBackoff reports whether the provider should currently be excluded from
// consideration due to a prior non-rate-limit failure.
func (h HealthStatus) InBackoff(now time.Time) bool {
	return !h.BackoffUntil.IsZero() && now.Before(h.BackoffUntil)
}

// Dividend is the payload of an optional DividendProvider result.
type Dividend struct {
	ExDate time.Time
	Amount float64
}

// Split is the payload of an optional SplitProvider result.
type Split struct {
	ExDate time.Time
	Ratio  float64 // e.g. 2.0 for a 2-for-1 split
}

// Historical is the pull-side provider contract (spec.md §4.5).
type Historical interface {
	Descriptor() Descriptor
	IsAvailable(ctx context.Context) bool
	GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]event.Bar, error)
	GetAdjustedDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]event.Bar, error)
}

// IntradayProvider is an optional capability: providers implementing it
// advertise Capabilities.Intraday = true.
type IntradayProvider interface {
	GetIntradayBars(ctx context.Context, symbol string, from, to time.Time, interval time.Duration) ([]event.Bar, error)
}

// DividendProvider is an optional capability: providers implementing it
// advertise Capabilities.Dividends = true.
type DividendProvider interface {
	GetDividends(ctx context.Context, symbol string, from, to time.Time) ([]Dividend, error)
}

// SplitProvider is an optional capability: providers implementing it
// advertise Capabilities.Splits = true.
type SplitProvider interface {
	GetSplits(ctx context.Context, symbol string, from, to time.Time) ([]Split, error)
}

// StreamConfig parameterizes a streaming subscribe call.
type StreamConfig struct {
	Symbol string
	Params subscription.Config
}

// Streaming is the push-side provider contract (spec.md §4.5/§4.7).
type Streaming interface {
	Descriptor() Descriptor
	Connect(ctx context.Context) error
	Disconnect() error
	State() event.ConnectionState
	SubscribeTrades(ctx context.Context, cfg StreamConfig) (int64, error)
	SubscribeQuotes(ctx context.Context, cfg StreamConfig) (int64, error)
	SubscribeDepth(ctx context.Context, cfg StreamConfig) (int64, error)
	Unsubscribe(id int64) error
}
