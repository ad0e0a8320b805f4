package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/event"
	"marketfeed/internal/reconnect"
	"marketfeed/internal/subscription"
)

type fakeTransport struct {
	mu sync.Mutex

	openErr   error
	authErr   error
	sendErr   error
	openCalls int
	lastSubs  []subscription.Subscription
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	return f.openErr
}
func (f *fakeTransport) Authenticate(ctx context.Context) error { return f.authErr }
func (f *fakeTransport) SendSubscribe(ctx context.Context, subs []subscription.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSubs = subs
	return f.sendErr
}
func (f *fakeTransport) Close() error { return nil }

func TestConnectReachesReady(t *testing.T) {
	tr := &fakeTransport{}
	core := New("test", tr, 1, nil)

	require.NoError(t, core.Connect(context.Background()))
	assert.Equal(t, event.StateReady, core.State())
}

func TestConnectFailureReturnsToDisconnected(t *testing.T) {
	tr := &fakeTransport{openErr: errors.New("refused")}
	core := New("test", tr, 1, nil)

	err := core.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, event.StateDisconnected, core.State())
}

func TestSubscribeWhileDisconnectedIsQueuedThenFlushed(t *testing.T) {
	tr := &fakeTransport{}
	core := New("test", tr, 1, nil)

	id, err := core.SubscribeTrades(context.Background(), nil, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)
	assert.Nil(t, tr.lastSubs, "nothing sent while disconnected")

	require.NoError(t, core.Connect(context.Background()))
	assert.Equal(t, event.StateStreaming, core.State())
	require.Len(t, tr.lastSubs, 1)
	assert.Equal(t, "AAPL", tr.lastSubs[0].Symbol)
}

func TestSubscribeWhileReadyTransitionsToStreaming(t *testing.T) {
	tr := &fakeTransport{}
	core := New("test", tr, 1, nil)
	require.NoError(t, core.Connect(context.Background()))

	_, err := core.SubscribeTrades(context.Background(), nil, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, event.StateStreaming, core.State())
}

func TestUnsubscribeAllReturnsToReady(t *testing.T) {
	tr := &fakeTransport{}
	core := New("test", tr, 1, nil)
	require.NoError(t, core.Connect(context.Background()))

	id, err := core.SubscribeTrades(context.Background(), nil, "MSFT")
	require.NoError(t, err)
	require.Equal(t, event.StateStreaming, core.State())

	require.NoError(t, core.Unsubscribe(context.Background(), id))
	assert.Equal(t, event.StateReady, core.State())
}

func TestHandleTransportLossReconnectsAndResubscribes(t *testing.T) {
	tr := &fakeTransport{}
	core := New("test", tr, 1, nil, reconnect.WithDelays(time.Millisecond, time.Millisecond), reconnect.WithMaxAttempts(2))
	require.NoError(t, core.Connect(context.Background()))
	_, err := core.SubscribeTrades(context.Background(), nil, "AAPL")
	require.NoError(t, err)

	tr.openErr = nil // transport recovers immediately on next Open
	ok, err := core.HandleTransportLoss(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, event.StateStreaming, core.State())
	assert.GreaterOrEqual(t, tr.openCalls, 2)
}

func TestStatusHandlerReceivesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []event.ConnectionState
	tr := &fakeTransport{}
	core := New("test", tr, 1, func(evt event.MarketEvent) {
		mu.Lock()
		defer mu.Unlock()
		status := evt.Payload.(event.ConnectionStatus)
		states = append(states, status.State)
	})

	require.NoError(t, core.Connect(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, event.StateConnecting)
	assert.Contains(t, states, event.StateAuthenticating)
	assert.Contains(t, states, event.StateReady)
}
