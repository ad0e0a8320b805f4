// Package event defines MarketEvent, the single normalized record every
// provider adapter produces and every downstream consumer receives
// (spec.md §3). It is the sole contract between the core and the provider
// adapters the core otherwise treats as external collaborators.
package event

import (
	"fmt"
	"time"
)

// Type discriminates the payload carried by a MarketEvent.
type Type string

const (
	TypeTrade            Type = "trade"
	TypeBboQuote         Type = "bbo_quote"
	TypeL2Snapshot       Type = "l2_snapshot"
	TypeHistoricalBar    Type = "historical_bar"
	TypeOrderFlow        Type = "order_flow"
	TypeIntegrity        Type = "integrity"
	TypeHeartbeat        Type = "heartbeat"
	TypeConnectionStatus Type = "connection_status"
)

// Side is the aggressor/posted side of a trade or order-flow entry.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = ""
)

// Trade is the payload for TypeTrade.
type Trade struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
	Side  Side    `json:"side,omitempty"`
	Venue string  `json:"venue,omitempty"`
}

// BboQuote is the payload for TypeBboQuote.
type BboQuote struct {
	BidPrice float64 `json:"bidPrice"`
	BidSize  float64 `json:"bidSize"`
	AskPrice float64 `json:"askPrice"`
	AskSize  float64 `json:"askSize"`
}

// L2Level is a single price level in an L2Snapshot.
type L2Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// L2Snapshot is the payload for TypeL2Snapshot.
type L2Snapshot struct {
	Bids []L2Level `json:"bids"`
	Asks []L2Level `json:"asks"`
}

// Bar is the payload for TypeHistoricalBar — also used as the composite's
// return type for GetDailyBars/GetAdjustedDailyBars.
type Bar struct {
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Adjusted bool      `json:"adjusted"`
}

// OrderFlow is the payload for TypeOrderFlow (aggregated buy/sell pressure).
type OrderFlow struct {
	BuyVolume  float64 `json:"buyVolume"`
	SellVolume float64 `json:"sellVolume"`
}

// IntegrityReason explains why an Integrity event was raised.
type IntegrityReason string

const (
	IntegritySequenceGap   IntegrityReason = "sequence_gap"
	IntegrityDroppedEvents IntegrityReason = "dropped_events"
	IntegrityFlushFailure  IntegrityReason = "flush_failure"
	IntegrityValidation    IntegrityReason = "validation_failure"
)

// Integrity is the payload for TypeIntegrity.
type Integrity struct {
	Reason  IntegrityReason `json:"reason"`
	Detail  string          `json:"detail,omitempty"`
	GapFrom int64           `json:"gapFrom,omitempty"`
	GapTo   int64           `json:"gapTo,omitempty"`
}

// ConnectionState mirrors the streaming client base's externally-observable
// lifecycle state (spec.md §4.7).
type ConnectionState string

const (
	StateDisconnected   ConnectionState = "disconnected"
	StateConnecting     ConnectionState = "connecting"
	StateAuthenticating ConnectionState = "authenticating"
	StateReady          ConnectionState = "ready"
	StateStreaming      ConnectionState = "streaming"
	StateReconnecting   ConnectionState = "reconnecting"
)

// ConnectionStatus is the payload for TypeConnectionStatus. SequenceReset is
// set when the stream's sequence counter restarted, per spec.md §3's
// invariant that resets must be flagged this way.
type ConnectionStatus struct {
	State         ConnectionState `json:"state"`
	SequenceReset bool            `json:"sequenceReset,omitempty"`
	Detail        string          `json:"detail,omitempty"`
}

// Heartbeat is the (empty) payload for TypeHeartbeat; its presence is the
// signal, not its contents.
type Heartbeat struct{}

// MarketEvent is the immutable, uniform record described in spec.md §3.
// Payload holds exactly one of the *Type-named structs above, selected by
// Type; callers type-assert or type-switch on it.
type MarketEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	Type          Type      `json:"type"`
	Payload       any       `json:"payload"`
	Sequence      int64     `json:"sequence"`
	Source        string    `json:"source"`
	SchemaVersion int       `json:"schemaVersion"`
}

// CurrentSchemaVersion is stamped onto events built via the New* helpers.
const CurrentSchemaVersion = 1

func newEvent(typ Type, source, symbol string, seq int64, payload any) MarketEvent {
	return MarketEvent{
		Timestamp:     time.Now().UTC(),
		Symbol:        symbol,
		Type:          typ,
		Payload:       payload,
		Sequence:      seq,
		Source:        source,
		SchemaVersion: CurrentSchemaVersion,
	}
}

// NewTrade builds a TypeTrade event.
func NewTrade(source, symbol string, seq int64, t Trade) MarketEvent {
	return newEvent(TypeTrade, source, symbol, seq, t)
}

// NewBboQuote builds a TypeBboQuote event.
func NewBboQuote(source, symbol string, seq int64, q BboQuote) MarketEvent {
	return newEvent(TypeBboQuote, source, symbol, seq, q)
}

// NewL2Snapshot builds a TypeL2Snapshot event.
func NewL2Snapshot(source, symbol string, seq int64, s L2Snapshot) MarketEvent {
	return newEvent(TypeL2Snapshot, source, symbol, seq, s)
}

// NewHistoricalBar builds a TypeHistoricalBar event.
func NewHistoricalBar(source, symbol string, seq int64, b Bar) MarketEvent {
	return newEvent(TypeHistoricalBar, source, symbol, seq, b)
}

// NewIntegrity builds a TypeIntegrity event. Sequence is 0: integrity
// events are out-of-band and don't consume the stream's sequence space.
func NewIntegrity(source, symbol string, i Integrity) MarketEvent {
	return newEvent(TypeIntegrity, source, symbol, 0, i)
}

// NewConnectionStatus builds a TypeConnectionStatus event.
func NewConnectionStatus(source, symbol string, s ConnectionStatus) MarketEvent {
	return newEvent(TypeConnectionStatus, source, symbol, 0, s)
}

// NewHeartbeat builds a TypeHeartbeat event.
func NewHeartbeat(source, symbol string) MarketEvent {
	return newEvent(TypeHeartbeat, source, symbol, 0, Heartbeat{})
}

// ValidateBar applies the OHLC sanity checks named in spec.md §7's
// Validation error kind: non-positive prices and inverted high/low are
// rejected. A bar that fails this check must be dropped with a counter
// bump, never propagated to callers.
func ValidateBar(b Bar) error {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return fmt.Errorf("non-positive price in bar for %s", b.Date.Format("2006-01-02"))
	}
	if b.High < b.Low {
		return fmt.Errorf("inverted high/low in bar for %s", b.Date.Format("2006-01-02"))
	}
	if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close {
		return fmt.Errorf("high/low outside open/close range in bar for %s", b.Date.Format("2006-01-02"))
	}
	return nil
}
