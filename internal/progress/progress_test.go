package progress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSymbolThenRecordDaysComputesPercent(t *testing.T) {
	tr := New()
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	tr.StartSymbol("AAPL", from, to, 10)

	tr.RecordDays("AAPL", 4)
	p, ok := tr.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, 4, p.CompletedDays)
	assert.InDelta(t, 40.0, p.PercentComplete(), 0.001)
}

func TestRecordDaysClampsAtTotal(t *testing.T) {
	tr := New()
	tr.StartSymbol("AAPL", time.Now(), time.Now(), 5)
	tr.RecordDays("AAPL", 3)
	tr.RecordDays("AAPL", 10)

	p, _ := tr.Get("AAPL")
	assert.Equal(t, 5, p.CompletedDays)
	assert.Equal(t, 100.0, p.PercentComplete())
}

func TestMarkCompletedSetsFullProgress(t *testing.T) {
	tr := New()
	tr.StartSymbol("AAPL", time.Now(), time.Now(), 20)
	tr.RecordDays("AAPL", 5)
	tr.MarkCompleted("AAPL")

	p, _ := tr.Get("AAPL")
	assert.True(t, p.IsCompleted)
	assert.False(t, p.IsFailed)
	assert.Equal(t, 20, p.CompletedDays)
}

func TestMarkFailedRecordsError(t *testing.T) {
	tr := New()
	tr.StartSymbol("AAPL", time.Now(), time.Now(), 20)
	tr.MarkFailed("AAPL", errors.New("provider unavailable"))

	p, _ := tr.Get("AAPL")
	assert.True(t, p.IsFailed)
	assert.False(t, p.IsCompleted)
	assert.Equal(t, "provider unavailable", p.Error)
}

func TestSnapshotAggregatesAcrossSymbols(t *testing.T) {
	tr := New()
	tr.StartSymbol("AAPL", time.Now(), time.Now(), 10)
	tr.RecordDays("AAPL", 10)
	tr.MarkCompleted("AAPL")

	tr.StartSymbol("MSFT", time.Now(), time.Now(), 10)
	tr.MarkFailed("MSFT", errors.New("boom"))

	tr.StartSymbol("GOOG", time.Now(), time.Now(), 10)
	tr.RecordDays("GOOG", 5)

	snap := tr.Snapshot()
	assert.Equal(t, 3, snap.TotalSymbols)
	assert.Equal(t, 1, snap.CompletedSymbols)
	assert.Equal(t, 1, snap.FailedSymbols)
	assert.InDelta(t, (100.0+0.0+50.0)/3.0, snap.OverallPercent, 0.001)
	require.Len(t, snap.Symbols, 3)
	assert.Equal(t, "AAPL", snap.Symbols[0].Symbol, "symbols preserve first-started order")
}

func TestRunIDIsStableAndUnique(t *testing.T) {
	a := New()
	b := New()
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
	assert.Equal(t, a.RunID(), a.RunID())
}

func TestZeroDayRangeReportsBinaryCompletion(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.StartSymbol("AAPL", now, now, 0)

	p, _ := tr.Get("AAPL")
	assert.Equal(t, 0.0, p.PercentComplete())

	tr.MarkCompleted("AAPL")
	p, _ = tr.Get("AAPL")
	assert.Equal(t, 100.0, p.PercentComplete())
}
