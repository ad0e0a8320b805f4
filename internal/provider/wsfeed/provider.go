package wsfeed

import (
	"context"

	"marketfeed/internal/event"
	"marketfeed/internal/provider"
	"marketfeed/internal/reconnect"
	"marketfeed/internal/streaming"
)

// Provider adapts an Adapter + streaming.StreamingCore pair into
// provider.Streaming, translating the core's (cfg, symbol) subscribe
// signature into the registry-facing provider.StreamConfig shape.
//
// This is the "legacy vs new" unification point from the registry's point
// of view: whether a Provider is constructed by hand at startup or
// discovered later via config, it is registered the same way, through
// registry.RegisterStreaming.
type Provider struct {
	desc provider.Descriptor
	core *streaming.StreamingCore
}

// NewProvider builds a Provider for desc, dialing url as a JSON/WebSocket
// feed. onEvent receives every decoded MarketEvent — typically
// publish.Publisher.TryPublish. adapterOpts is forwarded to NewAdapter
// (e.g. WithAuthToken); reconnectOpts is forwarded to the underlying
// streaming.StreamingCore's reconnect.Helper.
func NewProvider(desc provider.Descriptor, url string, onEvent func(event.MarketEvent), adapterOpts []Option, reconnectOpts ...reconnect.Option) *Provider {
	adapter := NewAdapter(url, desc.ID, onEvent, adapterOpts...)
	core := streaming.New(desc.ID, adapter, idOffsetFor(desc), func(evt event.MarketEvent) {
		if onEvent != nil {
			onEvent(evt)
		}
	}, reconnectOpts...)
	return &Provider{desc: desc, core: core}
}

func idOffsetFor(desc provider.Descriptor) int64 {
	// Each provider's subscription IDs occupy a disjoint block so logs
	// stay parseable across providers (spec.md §4.4); Priority doubles as
	// a stable small integer to derive that block from.
	return int64(desc.Priority)*1_000_000 + 1
}

// Descriptor satisfies provider.Streaming.
func (p *Provider) Descriptor() provider.Descriptor { return p.desc }

// Connect satisfies provider.Streaming.
func (p *Provider) Connect(ctx context.Context) error { return p.core.Connect(ctx) }

// Disconnect satisfies provider.Streaming.
func (p *Provider) Disconnect() error { return p.core.Disconnect() }

// State satisfies provider.Streaming.
func (p *Provider) State() event.ConnectionState { return p.core.State() }

// SubscribeTrades satisfies provider.Streaming.
func (p *Provider) SubscribeTrades(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return p.core.SubscribeTrades(ctx, cfg.Params, cfg.Symbol)
}

// SubscribeQuotes satisfies provider.Streaming.
func (p *Provider) SubscribeQuotes(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return p.core.SubscribeQuotes(ctx, cfg.Params, cfg.Symbol)
}

// SubscribeDepth satisfies provider.Streaming.
func (p *Provider) SubscribeDepth(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return p.core.SubscribeDepth(ctx, cfg.Params, cfg.Symbol)
}

// Unsubscribe satisfies provider.Streaming.
func (p *Provider) Unsubscribe(id int64) error {
	return p.core.Unsubscribe(context.Background(), id)
}

var _ provider.Streaming = (*Provider)(nil)
