package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/event"
	"marketfeed/internal/provider"
)

type fakeHistorical struct {
	id string
}

func (f fakeHistorical) Descriptor() provider.Descriptor { return provider.Descriptor{ID: f.id} }
func (f fakeHistorical) IsAvailable(ctx context.Context) bool { return true }
func (f fakeHistorical) GetDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]event.Bar, error) {
	return nil, nil
}
func (f fakeHistorical) GetAdjustedDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]event.Bar, error) {
	return nil, nil
}

type fakeStreaming struct {
	id string
}

func (f fakeStreaming) Descriptor() provider.Descriptor { return provider.Descriptor{ID: f.id} }
func (f fakeStreaming) Connect(ctx context.Context) error { return nil }
func (f fakeStreaming) Disconnect() error                 { return nil }
func (f fakeStreaming) State() event.ConnectionState       { return event.StateDisconnected }
func (f fakeStreaming) SubscribeTrades(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return 0, nil
}
func (f fakeStreaming) SubscribeQuotes(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return 0, nil
}
func (f fakeStreaming) SubscribeDepth(ctx context.Context, cfg provider.StreamConfig) (int64, error) {
	return 0, nil
}
func (f fakeStreaming) Unsubscribe(id int64) error { return nil }

var _ provider.Historical = fakeHistorical{}
var _ provider.Streaming = fakeStreaming{}

func TestRegisterHistoricalAndRetrieve(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "alpha"}))

	p, ok := r.GetHistorical("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", p.Descriptor().ID)
}

func TestRegisterHistoricalDuplicateIDErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "alpha"}))
	err := r.RegisterHistorical(fakeHistorical{id: "alpha"})
	assert.Error(t, err)
}

func TestHistoricalPreservesRegistrationOrder(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "first"}))
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "second"}))
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "third"}))

	ids := make([]string, 0, 3)
	for _, p := range r.Historical() {
		ids = append(ids, p.Descriptor().ID)
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids)
}

func TestRegisterStreamingAndRetrieve(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterStreaming(fakeStreaming{id: "beta"}))

	p, ok := r.GetStreaming("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", p.Descriptor().ID)
}

func TestRegisterStreamingDuplicateIDErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterStreaming(fakeStreaming{id: "beta"}))
	err := r.RegisterStreaming(fakeStreaming{id: "beta"})
	assert.Error(t, err)
}

func TestGetHistoricalMissingIDReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.GetHistorical("nope")
	assert.False(t, ok)
}

func TestGetStreamingMissingIDReturnsFalse(t *testing.T) {
	r := New()
	_, ok := r.GetStreaming("nope")
	assert.False(t, ok)
}

func TestHistoricalAndStreamingRegistriesAreIndependent(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "same-id"}))
	require.NoError(t, r.RegisterStreaming(fakeStreaming{id: "same-id"}))

	_, histOK := r.GetHistorical("same-id")
	_, streamOK := r.GetStreaming("same-id")
	assert.True(t, histOK)
	assert.True(t, streamOK)
}

func TestHistoricalReturnsDefensiveCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterHistorical(fakeHistorical{id: "alpha"}))

	snapshot := r.Historical()
	snapshot[0] = fakeHistorical{id: "mutated"}

	p, _ := r.GetHistorical("alpha")
	assert.Equal(t, "alpha", p.Descriptor().ID, "mutating a returned slice must not affect the registry")
}
