package wsfeed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketfeed/internal/event"
	"marketfeed/internal/provider"
)

func TestDispatchTradeForwardsDecodedEvent(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "trade", Symbol: "AAPL", Trade: &event.Trade{Price: 100, Size: 5}})

	require.Len(t, got, 1)
	assert.Equal(t, event.TypeTrade, got[0].Type)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, "sim", got[0].Source)
	assert.Equal(t, int64(1), got[0].Sequence)
}

func TestDispatchQuoteForwardsDecodedEvent(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "quote", Symbol: "MSFT", Quote: &event.BboQuote{BidPrice: 1, AskPrice: 2}})

	require.Len(t, got, 1)
	assert.Equal(t, event.TypeBboQuote, got[0].Type)
}

func TestDispatchDepthForwardsDecodedEvent(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "depth", Symbol: "MSFT", Depth: &event.L2Snapshot{}})

	require.Len(t, got, 1)
	assert.Equal(t, event.TypeL2Snapshot, got[0].Type)
}

func TestDispatchBarForwardsDecodedEvent(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "bar", Symbol: "AAPL", Bar: &event.Bar{Open: 1, High: 2, Low: 1, Close: 1.5}})

	require.Len(t, got, 1)
	assert.Equal(t, event.TypeHistoricalBar, got[0].Type)
	assert.Equal(t, int64(0), a.DroppedBars())
}

func TestDispatchDropsInvalidBarFrame(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "bar", Symbol: "AAPL", Bar: &event.Bar{Open: -1, High: 2, Low: 1, Close: 1.5}})

	assert.Empty(t, got)
	assert.Equal(t, int64(1), a.DroppedBars())
}

func TestDispatchIgnoresUnrecognizedFrame(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "heartbeat", Symbol: ""})

	assert.Empty(t, got)
}

func TestSequenceIncrementsPerDecodedEvent(t *testing.T) {
	var got []event.MarketEvent
	a := NewAdapter("wss://example.invalid", "sim", func(e event.MarketEvent) { got = append(got, e) })

	a.dispatch(WireMessage{Type: "trade", Symbol: "AAPL", Trade: &event.Trade{Price: 1, Size: 1}})
	a.dispatch(WireMessage{Type: "trade", Symbol: "AAPL", Trade: &event.Trade{Price: 2, Size: 1}})

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Equal(t, int64(2), got[1].Sequence)
}

func TestWriteBeforeOpenReturnsError(t *testing.T) {
	a := NewAdapter("wss://example.invalid", "sim", nil)
	err := a.write([]byte("{}"))
	assert.Error(t, err)
}

func TestIDOffsetForIsStablePerPriority(t *testing.T) {
	desc := provider.Descriptor{ID: "sim", Priority: 2}
	assert.Equal(t, int64(2_000_001), idOffsetFor(desc))
}
