package failover

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/event"
	"marketfeed/internal/provider"
	"marketfeed/internal/subscription"
)

type fakeStreaming struct {
	mu sync.Mutex

	id          string
	connectErr  error
	subscribeErr error
	connectCalls int
	subscribed  []string
	disconnected bool
}

func (f *fakeStreaming) Descriptor() provider.Descriptor {
	return provider.Descriptor{ID: f.id, DisplayName: f.id}
}
func (f *fakeStreaming) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	return f.connectErr
}
func (f *fakeStreaming) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}
func (f *fakeStreaming) State() event.ConnectionState { return event.StateReady }
func (f *fakeStreaming) SubscribeTrades(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return 0, f.subscribeErr
	}
	f.subscribed = append(f.subscribed, cfg.Symbol)
	return int64(len(f.subscribed)), nil
}
func (f *fakeStreaming) SubscribeQuotes(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return f.SubscribeTrades(ctx, cfg)
}
func (f *fakeStreaming) SubscribeDepth(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return f.SubscribeTrades(ctx, cfg)
}
func (f *fakeStreaming) Unsubscribe(id int64) error { return nil }

func TestConnectActivatesFirstSuccessfulProvider(t *testing.T) {
	primary := &fakeStreaming{id: "primary", connectErr: errors.New("refused")}
	backup := &fakeStreaming{id: "backup"}

	r := New([]provider.Streaming{primary, backup}, nil, 1)
	require.NoError(t, r.Connect(context.Background()))
	assert.Equal(t, "backup", r.ActiveProviderID())
}

func TestConsecutiveFailuresTriggersSwitch(t *testing.T) {
	primary := &fakeStreaming{id: "primary"}
	backup := &fakeStreaming{id: "backup"}

	var triggered []string
	r := New([]provider.Streaming{primary, backup}, []Rule{{ID: "cf3", ConsecutiveFailures: 3}}, 1,
		WithOnTriggered(func(ruleID, from, to string) { triggered = append(triggered, ruleID+":"+from+"->"+to) }))
	require.NoError(t, r.Connect(context.Background()))

	primary.subscribeErr = errors.New("boom")
	for i := 0; i < 3; i++ {
		_, _ = r.SubscribeTrades(context.Background(), "AAPL", nil)
	}

	assert.Equal(t, "backup", r.ActiveProviderID())
	require.Len(t, triggered, 1)
	assert.Equal(t, "cf3:primary->backup", triggered[0])
}

func TestSwitchResubscribesActiveSymbolsOntoBackup(t *testing.T) {
	primary := &fakeStreaming{id: "primary"}
	backup := &fakeStreaming{id: "backup"}

	r := New([]provider.Streaming{primary, backup}, []Rule{{ID: "cf1", ConsecutiveFailures: 1}}, 1)
	require.NoError(t, r.Connect(context.Background()))

	_, err := r.SubscribeTrades(context.Background(), "MSFT", nil)
	require.NoError(t, err)

	primary.subscribeErr = errors.New("boom")
	_, _ = r.SubscribeTrades(context.Background(), "AAPL", nil)

	assert.Equal(t, "backup", r.ActiveProviderID())
	assert.Contains(t, backup.subscribed, "MSFT")
}

func TestLogicalSubscriptionIDStableAcrossSwitch(t *testing.T) {
	primary := &fakeStreaming{id: "primary"}
	backup := &fakeStreaming{id: "backup"}

	r := New([]provider.Streaming{primary, backup}, []Rule{{ID: "cf1", ConsecutiveFailures: 1}}, 100)
	require.NoError(t, r.Connect(context.Background()))

	logicalID, err := r.SubscribeTrades(context.Background(), "MSFT", nil)
	require.NoError(t, err)

	primary.subscribeErr = errors.New("boom")
	_, _ = r.SubscribeTrades(context.Background(), "AAPL", nil)
	assert.Equal(t, "backup", r.ActiveProviderID())

	require.NoError(t, r.Unsubscribe(logicalID))
}

func TestCheckPrimaryRecoverySwitchesBack(t *testing.T) {
	primary := &fakeStreaming{id: "primary"}
	backup := &fakeStreaming{id: "backup"}

	r := New([]provider.Streaming{primary, backup}, []Rule{{ID: "cf1", ConsecutiveFailures: 1}}, 1)
	require.NoError(t, r.Connect(context.Background()))

	primary.subscribeErr = errors.New("boom")
	_, _ = r.SubscribeTrades(context.Background(), "AAPL", nil)
	require.Equal(t, "backup", r.ActiveProviderID())

	primary.subscribeErr = nil
	ok := r.CheckPrimaryRecovery(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "primary", r.ActiveProviderID())
	assert.True(t, backup.disconnected)
}
