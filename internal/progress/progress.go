// Package progress tracks per-symbol and aggregate backfill progress for
// SSE/telemetry consumers (spec.md §3, §8).
//
// Grounded on the teacher's capacity.go measurement-history shape
// (DynamicCapacityManager.measurements, a bounded slice of timestamped
// samples guarded by one mutex) repurposed here for per-symbol backfill
// snapshots instead of resource samples. Libs: google/uuid for run ids,
// adopted from cuemby-warren's use of uuid for entity identifiers.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SymbolProgress is the per-symbol backfill snapshot of spec.md §3.
type SymbolProgress struct {
	Symbol        string
	From          time.Time
	To            time.Time
	TotalDays     int
	CompletedDays int
	IsCompleted   bool
	IsFailed      bool
	Error         string
}

// PercentComplete returns CompletedDays/TotalDays as a 0-100 percentage.
// When TotalDays is zero or less it reports 100 once marked completed, 0
// otherwise, since there is no day count to divide by.
func (p SymbolProgress) PercentComplete() float64 {
	if p.TotalDays <= 0 {
		if p.IsCompleted {
			return 100
		}
		return 0
	}
	pct := float64(p.CompletedDays) / float64(p.TotalDays) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Snapshot is the aggregate view across every symbol in a run (spec.md §3).
type Snapshot struct {
	RunID           string
	TotalSymbols     int
	CompletedSymbols int
	FailedSymbols    int
	OverallPercent   float64
	Timestamp        time.Time
	Symbols          []SymbolProgress
}

// Tracker accumulates per-symbol backfill progress for one run and produces
// aggregate snapshots on demand. Safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	runID  string
	byName map[string]*SymbolProgress
	order  []string // insertion order, for deterministic Snapshot.Symbols
}

// New starts a tracker for a fresh backfill run, generating a run id.
func New() *Tracker {
	return &Tracker{
		runID:  uuid.NewString(),
		byName: make(map[string]*SymbolProgress),
	}
}

// RunID returns the identifier assigned to this tracker at construction.
func (t *Tracker) RunID() string { return t.runID }

// StartSymbol registers symbol as part of the run, spanning [from, to] with
// totalDays calendar days of work. Calling it again for the same symbol
// resets its progress.
func (t *Tracker) StartSymbol(symbol string, from, to time.Time, totalDays int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[symbol]; !exists {
		t.order = append(t.order, symbol)
	}
	t.byName[symbol] = &SymbolProgress{
		Symbol:    symbol,
		From:      from,
		To:        to,
		TotalDays: totalDays,
	}
}

// RecordDays adds completed days to symbol's running total. It is a no-op
// if symbol was never started.
func (t *Tracker) RecordDays(symbol string, days int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byName[symbol]
	if !ok {
		return
	}
	p.CompletedDays += days
	if p.TotalDays > 0 && p.CompletedDays >= p.TotalDays {
		p.CompletedDays = p.TotalDays
	}
}

// MarkCompleted finalizes symbol successfully.
func (t *Tracker) MarkCompleted(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byName[symbol]
	if !ok {
		return
	}
	p.IsCompleted = true
	p.IsFailed = false
	p.Error = ""
	if p.TotalDays > 0 {
		p.CompletedDays = p.TotalDays
	}
}

// MarkFailed finalizes symbol as failed, recording err's message.
func (t *Tracker) MarkFailed(symbol string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byName[symbol]
	if !ok {
		return
	}
	p.IsFailed = true
	p.IsCompleted = false
	if err != nil {
		p.Error = err.Error()
	}
}

// Get returns a copy of symbol's current progress, if tracked.
func (t *Tracker) Get(symbol string) (SymbolProgress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.byName[symbol]
	if !ok {
		return SymbolProgress{}, false
	}
	return *p, true
}

// Snapshot computes the aggregate view across every tracked symbol, in the
// order symbols were first started.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := Snapshot{
		RunID:        t.runID,
		TotalSymbols: len(t.order),
		Timestamp:    time.Now(),
		Symbols:      make([]SymbolProgress, 0, len(t.order)),
	}

	var percentSum float64
	for _, symbol := range t.order {
		p := *t.byName[symbol]
		out.Symbols = append(out.Symbols, p)
		percentSum += p.PercentComplete()
		if p.IsCompleted {
			out.CompletedSymbols++
		}
		if p.IsFailed {
			out.FailedSymbols++
		}
	}
	if out.TotalSymbols > 0 {
		out.OverallPercent = percentSum / float64(out.TotalSymbols)
	}
	return out
}
