package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFixed builds a Scheduler whose clock is pinned to t and whose CPU
// sampler returns a fixed value, for deterministic assertions.
func newFixed(t time.Time, cpuPct float64, opts ...Option) *Scheduler {
	base := []Option{
		WithClock(func() time.Time { return t }),
		WithCPUSampler(func() (float64, error) { return cpuPct, nil }),
	}
	return New(time.UTC, 9*time.Hour+30*time.Minute, 16*time.Hour, append(base, opts...)...)
}

func TestAlwaysAllowedOpIsImmediate(t *testing.T) {
	wednesdayNoon := time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)
	s := newFixed(wednesdayNoon, 0)

	d := s.CheckOperation(OpHealthCheck, ProfileLight)
	assert.True(t, d.Allowed)
}

func TestTradingHoursSensitiveDeniedDuringSession(t *testing.T) {
	wednesdayNoon := time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)
	s := newFixed(wednesdayNoon, 0)

	d := s.CheckOperation(OpMaintenance, ProfileLight)
	assert.False(t, d.Allowed)
	assert.Equal(t, 4*time.Hour, d.SuggestedDelay) // session closes at 16:00
}

func TestTradingHoursSensitiveAllowedInMaintenanceWindow(t *testing.T) {
	midnight := time.Date(2024, 6, 12, 2, 0, 0, 0, time.UTC) // before session open
	window := MaintenanceWindow{
		Name:  "nightly",
		Start: time.Date(2024, 6, 12, 1, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 12, 3, 0, 0, 0, time.UTC),
	}
	s := newFixed(midnight, 0, WithMaintenanceWindows(window))

	d := s.CheckOperation(OpIndexRebuild, ProfileLight)
	assert.True(t, d.Allowed)
}

func TestTradingHoursSensitiveDeniedOutsideSessionWithoutWindow(t *testing.T) {
	midnight := time.Date(2024, 6, 12, 2, 0, 0, 0, time.UTC)
	s := newFixed(midnight, 0)

	d := s.CheckOperation(OpIndexRebuild, ProfileLight)
	assert.False(t, d.Allowed, "sensitive op outside session with no registered window must not be allowed implicitly")
}

func TestBackfillAllowedOutsideTradingHours(t *testing.T) {
	midnight := time.Date(2024, 6, 12, 2, 0, 0, 0, time.UTC)
	s := newFixed(midnight, 0)

	d := s.CheckOperation(OpBackfill, ProfileNetwork)
	assert.True(t, d.Allowed)
}

func TestHeavyResourceProfileDeniedDuringSession(t *testing.T) {
	wednesdayNoon := time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)
	s := newFixed(wednesdayNoon, 10)

	d := s.CheckOperation(OpBackfill, ProfileCPUIO)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Minute, d.SuggestedDelay)
}

func TestLightProfileOtherOpAllowedDuringSession(t *testing.T) {
	wednesdayNoon := time.Date(2024, 6, 12, 12, 0, 0, 0, time.UTC)
	s := newFixed(wednesdayNoon, 0)

	d := s.CheckOperation(OpReporting, ProfileLight)
	assert.True(t, d.Allowed)
}

func TestWeekendIsNotATradingDay(t *testing.T) {
	saturdayNoon := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	s := newFixed(saturdayNoon, 0)

	d := s.CheckOperation(OpMaintenance, ProfileLight)
	assert.False(t, d.Allowed, "no maintenance window registered, so still denied, but not via the session-close branch")
	assert.Equal(t, "outside session with no matching maintenance window", d.Reason)
}

func TestFindNextAvailableSlotFindsPostMarketGap(t *testing.T) {
	wednesday17 := time.Date(2024, 6, 12, 17, 0, 0, 0, time.UTC) // after session close
	s := newFixed(wednesday17, 0)

	slot, ok := s.FindNextAvailableSlot(OpBackfill, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "post-market", slot.Kind)
	assert.True(t, !slot.Start.Before(wednesday17))
}

func TestFindNextAvailableSlotFindsNonTradingDay(t *testing.T) {
	friday17 := time.Date(2024, 6, 14, 20, 0, 0, 0, time.UTC) // Friday evening, past post-market
	s := newFixed(friday17, 0)

	slot, ok := s.FindNextAvailableSlot(OpBackfill, 20*time.Hour)
	require.True(t, ok)
	assert.Equal(t, "non-trading-day", slot.Kind)
}

func TestFindNextAvailableSlotFindsPreMarketGap(t *testing.T) {
	wednesday1am := time.Date(2024, 6, 12, 1, 0, 0, 0, time.UTC)
	s := newFixed(wednesday1am, 0)

	slot, ok := s.FindNextAvailableSlot(OpBackfill, time.Hour)
	require.True(t, ok)
	assert.Equal(t, "pre-market", slot.Kind)
}
