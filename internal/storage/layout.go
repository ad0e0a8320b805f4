package storage

import (
	"path/filepath"
	"strings"
	"time"
)

// DatePartition is the granularity at which partition keys bucket events by
// time (spec.md §4.10).
type DatePartition string

const (
	DateNone    DatePartition = "none"
	DateHourly  DatePartition = "hourly"
	DateDaily   DatePartition = "daily"
	DateMonthly DatePartition = "monthly"
)

// Bucket formats t according to the partition granularity. DateNone collapses
// every event into a single "all" bucket.
func (d DatePartition) Bucket(t time.Time) string {
	t = t.UTC()
	switch d {
	case DateHourly:
		return t.Format("2006-01-02T15")
	case DateMonthly:
		return t.Format("2006-01")
	case DateNone:
		return "all"
	default:
		return t.Format("2006-01-02")
	}
}

// Layout selects the directory/filename template a partition file is
// written under (spec.md §4.10).
type Layout string

const (
	LayoutFlat         Layout = "flat"
	LayoutBySymbol     Layout = "bySymbol"
	LayoutByDate       Layout = "byDate"
	LayoutByType       Layout = "byType"
	LayoutBySource     Layout = "bySource"
	LayoutByAssetClass Layout = "byAssetClass"
	LayoutHierarchical Layout = "hierarchical"
	LayoutCanonical    Layout = "canonical"
)

// PathParams names every field a Layout may draw on to build a partition
// file's path.
type PathParams struct {
	Root       string
	Source     string
	Symbol     string
	Type       string
	AssetClass string
	Date       string // already bucketed via DatePartition.Bucket
	Ext        string
}

// Path resolves p to a concrete file path under the selected layout. An
// unrecognized Layout falls back to LayoutFlat.
func (l Layout) Path(p PathParams) string {
	name := func(parts ...string) string {
		return strings.Join(parts, "_") + p.Ext
	}

	switch l {
	case LayoutBySymbol:
		return filepath.Join(p.Root, p.Symbol, name(p.Type, p.Date))
	case LayoutByDate:
		return filepath.Join(p.Root, p.Date, name(p.Symbol, p.Type))
	case LayoutByType:
		return filepath.Join(p.Root, p.Type, name(p.Symbol, p.Date))
	case LayoutBySource:
		return filepath.Join(p.Root, p.Source, name(p.Symbol, p.Type, p.Date))
	case LayoutByAssetClass:
		return filepath.Join(p.Root, p.AssetClass, name(p.Symbol, p.Type, p.Date))
	case LayoutHierarchical:
		return filepath.Join(p.Root, p.Source, p.Symbol, p.Type, p.Date+p.Ext)
	case LayoutCanonical:
		// {root}/YYYY/MM/DD/{source}/{symbol}/{type}{ext} (spec.md §4.10).
		y, m, d := splitISODate(p.Date)
		return filepath.Join(p.Root, y, m, d, p.Source, p.Symbol, p.Type+p.Ext)
	default:
		return filepath.Join(p.Root, name(p.Symbol, p.Type, p.Date))
	}
}

// splitISODate extracts YYYY, MM, DD from a daily-bucketed date string
// ("2006-01-02"). Non-daily buckets degrade gracefully: whatever prefix is
// present is used and missing components become "00".
func splitISODate(date string) (string, string, string) {
	parts := strings.SplitN(date, "-", 3)
	y, m, d := "0000", "00", "00"
	if len(parts) > 0 && parts[0] != "" {
		y = parts[0]
	}
	if len(parts) > 1 {
		m = parts[1]
	}
	if len(parts) > 2 {
		d = parts[2]
	}
	return y, m, d
}
