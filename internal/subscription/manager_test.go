package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeIsIdempotent(t *testing.T) {
	m := New(1000)

	id1 := m.Subscribe("AAPL", KindTrades, nil)
	id2 := m.Subscribe("AAPL", KindTrades, nil)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, m.Count())
}

func TestSubscribeAllocatesDenselyFromOffset(t *testing.T) {
	m := New(5000)

	id1 := m.Subscribe("AAPL", KindTrades, nil)
	id2 := m.Subscribe("MSFT", KindTrades, nil)

	assert.Equal(t, int64(5000), id1)
	assert.Equal(t, int64(5001), id2)
}

func TestUnsubscribeDetaches(t *testing.T) {
	m := New(1)
	id := m.Subscribe("AAPL", KindQuotes, nil)

	symbol, kind, ok := m.Unsubscribe(id)
	require.True(t, ok)
	assert.Equal(t, "AAPL", symbol)
	assert.Equal(t, KindQuotes, kind)
	assert.Equal(t, 0, m.Count())

	_, _, ok = m.Unsubscribe(id)
	assert.False(t, ok)
}

func TestGetSymbolsByKind(t *testing.T) {
	m := New(1)
	m.Subscribe("AAPL", KindTrades, nil)
	m.Subscribe("MSFT", KindTrades, nil)
	m.Subscribe("AAPL", KindDepth, nil)

	trades := m.GetSymbolsByKind(KindTrades)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, trades)
	assert.Len(t, m.GetSymbolsByKind(KindDepth), 1)
}

func TestAllIsOrderedByID(t *testing.T) {
	m := New(1)
	m.Subscribe("C", KindTrades, nil)
	m.Subscribe("A", KindTrades, nil)
	m.Subscribe("B", KindTrades, nil)

	all := m.All()
	require.Len(t, all, 3)
	assert.True(t, all[0].ID < all[1].ID)
	assert.True(t, all[1].ID < all[2].ID)
}
