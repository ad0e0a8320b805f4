// Package streaming implements the composable streaming client base of
// spec.md §4.7. Per spec.md §9's design note on inheritance hierarchies of
// base streaming clients, this is composition rather than a base class:
// StreamingCore holds a reconnect.Helper and a subscription.Manager: each
// provider adapter supplies only a Transport implementing decode/encode
// and URI/auth specifics, and otherwise leans entirely on StreamingCore
// for connect/authenticate/subscribe/resubscribe lifecycle.
//
// Grounded on the teacher's connection.go Client/SubscriptionSet for the
// subscription bookkeeping shape, and on the kalshi connection-manager's
// reconnect()+role-based re-subscription for the resume-after-loss flow.
package streaming

import (
	"context"
	"fmt"
	"sync"

	"marketfeed/internal/event"
	"marketfeed/internal/reconnect"
	"marketfeed/internal/subscription"
)

// Transport is implemented by each provider adapter; StreamingCore drives
// it through the state machine in spec.md §4.7.
type Transport interface {
	// Open establishes the raw connection (e.g. dials the WebSocket).
	Open(ctx context.Context) error
	// Authenticate sends credentials over the opened connection.
	Authenticate(ctx context.Context) error
	// SendSubscribe re-issues the full aggregate subscription list. It is
	// called both for incremental subscribe/unsubscribe calls and, after a
	// reconnect, to restore every previously-active subscription.
	SendSubscribe(ctx context.Context, subs []subscription.Subscription) error
	// Close tears the transport down. StreamingCore.Disconnect returns its
	// error to the caller.
	Close() error
}

// StatusHandler receives ConnectionStatus events as StreamingCore
// transitions state.
type StatusHandler func(event.MarketEvent)

// StreamingCore drives one provider's connection lifecycle. Safe for
// concurrent use; Subscribe*/Unsubscribe/State may be called from any
// goroutine.
type StreamingCore struct {
	providerName string
	transport    Transport
	subs         *subscription.Manager
	reconnect    *reconnect.Helper
	onStatus     StatusHandler

	mu    sync.Mutex
	state event.ConnectionState
}

// New builds a StreamingCore. idOffset seeds the subscription manager's
// dense allocator (spec.md §4.4). reconnectOpts is forwarded to the
// underlying reconnect.Helper (e.g. to override backoff bounds in tests).
func New(providerName string, transport Transport, idOffset int64, onStatus StatusHandler, reconnectOpts ...reconnect.Option) *StreamingCore {
	c := &StreamingCore{
		providerName: providerName,
		transport:    transport,
		subs:         subscription.New(idOffset),
		onStatus:     onStatus,
		state:        event.StateDisconnected,
	}
	c.reconnect = reconnect.New(providerName, c.onReconnected, reconnectOpts...)
	return c
}

// State returns the current lifecycle state.
func (c *StreamingCore) State() event.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *StreamingCore) setState(s event.ConnectionState, detail string) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emitStatus(s, false, detail)
}

func (c *StreamingCore) emitStatus(s event.ConnectionState, sequenceReset bool, detail string) {
	if c.onStatus == nil {
		return
	}
	c.onStatus(event.NewConnectionStatus(c.providerName, "", event.ConnectionStatus{
		State:         s,
		SequenceReset: sequenceReset,
		Detail:        detail,
	}))
}

// Connect drives Disconnected → Connecting → Authenticating → Ready. On any
// step's failure the state returns to Disconnected and the error is
// returned; callers decide whether to retry via HandleTransportLoss.
func (c *StreamingCore) Connect(ctx context.Context) error {
	c.setState(event.StateConnecting, "")
	if err := c.transport.Open(ctx); err != nil {
		c.setState(event.StateDisconnected, err.Error())
		return fmt.Errorf("open transport: %w", err)
	}

	c.setState(event.StateAuthenticating, "")
	if err := c.transport.Authenticate(ctx); err != nil {
		c.setState(event.StateDisconnected, err.Error())
		return fmt.Errorf("authenticate: %w", err)
	}

	c.setState(event.StateReady, "")
	return c.flushQueuedSubscriptions(ctx)
}

// Disconnect tears the transport down and returns to Disconnected.
func (c *StreamingCore) Disconnect() error {
	err := c.transport.Close()
	c.setState(event.StateDisconnected, "")
	return err
}

// HandleTransportLoss transitions into Reconnecting and drives the gated
// reconnect loop: repeated Connect attempts until one succeeds, the
// context is canceled, or attempts are exhausted (→ Disconnected). Safe to
// call concurrently — only the first caller drives the attempt, per
// reconnect.Helper's gate; others return (false, nil) immediately.
func (c *StreamingCore) HandleTransportLoss(ctx context.Context) (bool, error) {
	c.setState(event.StateReconnecting, "")

	attempted := false
	ok, err := c.reconnect.TryReconnect(ctx, func(ctx context.Context) error {
		attempted = true
		return c.Connect(ctx)
	})
	if !ok && err == nil && attempted {
		c.setState(event.StateDisconnected, "reconnect attempts exhausted")
	}
	return ok, err
}

func (c *StreamingCore) onReconnected(evt reconnect.Event) {
	c.emitStatus(event.StateReady, true, fmt.Sprintf("reconnected after %d attempt(s), gap %s", evt.AttemptsUsed, evt.GapDuration))
}

// flushQueuedSubscriptions re-sends the full aggregate subscribe message
// for every currently-tracked subscription — used both right after initial
// Connect (queued Subscribe/Unsubscribe calls made while Disconnected) and
// after a reconnect.
func (c *StreamingCore) flushQueuedSubscriptions(ctx context.Context) error {
	all := c.subs.All()
	if len(all) == 0 {
		return nil
	}
	if err := c.transport.SendSubscribe(ctx, all); err != nil {
		return fmt.Errorf("resend subscriptions: %w", err)
	}
	c.setState(event.StateStreaming, "")
	return nil
}

func (c *StreamingCore) subscribe(ctx context.Context, symbol string, kind subscription.Kind, cfg subscription.Config) (int64, error) {
	id := c.subs.Subscribe(symbol, kind, cfg)

	state := c.State()
	if state == event.StateDisconnected || state == event.StateConnecting || state == event.StateAuthenticating {
		// Queued: will be flushed on next transition to Ready.
		return id, nil
	}

	if err := c.transport.SendSubscribe(ctx, c.subs.All()); err != nil {
		return id, fmt.Errorf("subscribe %s/%s: %w", symbol, kind, err)
	}
	c.setState(event.StateStreaming, "")
	return id, nil
}

// SubscribeTrades subscribes to trade events for symbol.
func (c *StreamingCore) SubscribeTrades(ctx context.Context, cfg subscription.Config, symbol string) (int64, error) {
	return c.subscribe(ctx, symbol, subscription.KindTrades, cfg)
}

// SubscribeQuotes subscribes to quote events for symbol.
func (c *StreamingCore) SubscribeQuotes(ctx context.Context, cfg subscription.Config, symbol string) (int64, error) {
	return c.subscribe(ctx, symbol, subscription.KindQuotes, cfg)
}

// SubscribeDepth subscribes to depth events for symbol.
func (c *StreamingCore) SubscribeDepth(ctx context.Context, cfg subscription.Config, symbol string) (int64, error) {
	return c.subscribe(ctx, symbol, subscription.KindDepth, cfg)
}

// Unsubscribe detaches id. If no subscriptions remain, the client drops
// back from Streaming to Ready.
func (c *StreamingCore) Unsubscribe(ctx context.Context, id int64) error {
	if _, _, ok := c.subs.Unsubscribe(id); !ok {
		return fmt.Errorf("subscription %d not active", id)
	}

	state := c.State()
	if state != event.StateStreaming {
		return nil
	}

	remaining := c.subs.All()
	if err := c.transport.SendSubscribe(ctx, remaining); err != nil {
		return fmt.Errorf("resend subscriptions after unsubscribe: %w", err)
	}
	if len(remaining) == 0 {
		c.setState(event.StateReady, "")
	}
	return nil
}

// Subscriptions returns a snapshot of every active subscription, ordered by
// ID.
func (c *StreamingCore) Subscriptions() []subscription.Subscription {
	return c.subs.All()
}
