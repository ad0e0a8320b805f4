// Package scheduler implements the operational scheduler of spec.md §4.11:
// gating of maintenance-style operations by trading-session state,
// registered maintenance windows, and live resource pressure.
//
// Grounded on the teacher's resource_guard.go CPU-threshold gating
// (ShouldPauseNATS/cpuThresholdReject, sampling gopsutil on a short
// non-blocking window) generalized from "pause NATS consumption" into the
// spec's operation-classification + resource-profile gate.
package scheduler

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// OpType names a schedulable operation kind (spec.md §4.11).
type OpType string

const (
	OpHealthCheck       OpType = "health_check"
	OpCredentialRefresh OpType = "credential_refresh"
	OpMaintenance       OpType = "maintenance"
	OpIntegrityCheck    OpType = "integrity_check"
	OpIndexRebuild      OpType = "index_rebuild"
	OpCacheRefresh      OpType = "cache_refresh"
	OpBackfill          OpType = "backfill"
	OpReporting         OpType = "reporting"
)

// class is the coarse scheduling category an OpType falls into.
type class int

const (
	classOther class = iota
	classAlwaysAllowed
	classTradingHoursSensitive
)

func classify(op OpType) class {
	switch op {
	case OpHealthCheck, OpCredentialRefresh:
		return classAlwaysAllowed
	case OpMaintenance, OpIntegrityCheck, OpIndexRebuild, OpCacheRefresh:
		return classTradingHoursSensitive
	default:
		return classOther
	}
}

// ResourceProfile tags how heavy an operation's resource footprint is.
type ResourceProfile string

const (
	ProfileLight   ResourceProfile = "light"
	ProfileNetwork ResourceProfile = "network"
	ProfileCPUIO   ResourceProfile = "cpu_io"
)

func (p ResourceProfile) heavy() bool { return p == ProfileNetwork || p == ProfileCPUIO }

// MaintenanceWindow is a named, time-bounded exception to the
// trading-hours-sensitive denial rule, optionally restricted to specific
// op types (spec.md §6).
type MaintenanceWindow struct {
	Name      string
	Start     time.Time
	End       time.Time
	AllowList []OpType // empty means every op type is allowed
}

func (w MaintenanceWindow) covers(now time.Time, op OpType) bool {
	if now.Before(w.Start) || now.After(w.End) {
		return false
	}
	if len(w.AllowList) == 0 {
		return true
	}
	for _, allowed := range w.AllowList {
		if allowed == op {
			return true
		}
	}
	return false
}

// Decision is the scheduler's verdict on one CheckOperation call.
type Decision struct {
	Allowed        bool
	SuggestedDelay time.Duration
	Reason         string
}

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithMaintenanceWindows registers named maintenance windows.
func WithMaintenanceWindows(windows ...MaintenanceWindow) Option {
	return func(s *Scheduler) { s.windows = windows }
}

// WithCPUThreshold overrides the default 80% live-CPU threshold. During
// trading hours every heavy (network or cpu_io) operation is denied whatever
// the CPU load; a sample above the threshold only changes the Decision's
// Reason.
func WithCPUThreshold(pct float64) Option {
	return func(s *Scheduler) { s.cpuThreshold = pct }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithCPUSampler overrides how current CPU utilization is sampled, for
// deterministic tests; production code leaves this at the gopsutil default.
func WithCPUSampler(sample func() (float64, error)) Option {
	return func(s *Scheduler) { s.sampleCPU = sample }
}

// Scheduler gates operations against trading-session state, maintenance
// windows, and live resource pressure (spec.md §4.11).
type Scheduler struct {
	location     *time.Location
	sessionStart time.Duration // time-of-day offset from midnight
	sessionEnd   time.Duration

	windows      []MaintenanceWindow
	cpuThreshold float64

	now       func() time.Time
	sampleCPU func() (float64, error)
}

// New builds a Scheduler with a trading session running from sessionStart
// to sessionEnd (both time-of-day offsets from midnight) in loc.
func New(loc *time.Location, sessionStart, sessionEnd time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		location:     loc,
		sessionStart: sessionStart,
		sessionEnd:   sessionEnd,
		cpuThreshold: 80.0,
		now:          time.Now,
		sampleCPU:    sampleLiveCPU,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sampleLiveCPU() (float64, error) {
	// 100ms non-blocking sample: cpu.Percent(0, false) has no baseline on
	// first call, cpu.Percent(1*time.Second, false) blocks too long for a
	// gating check on the request path.
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(pcts) == 0 {
		return 0, err
	}
	return pcts[0], nil
}

func (s *Scheduler) dayStart(t time.Time) time.Time {
	t = t.In(s.location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.location)
}

func (s *Scheduler) isTradingDay(t time.Time) bool {
	switch t.In(s.location).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

func (s *Scheduler) sessionWindow(day time.Time) (start, end time.Time) {
	d := s.dayStart(day)
	return d.Add(s.sessionStart), d.Add(s.sessionEnd)
}

func (s *Scheduler) inTradingHours(t time.Time) bool {
	if !s.isTradingDay(t) {
		return false
	}
	start, end := s.sessionWindow(t)
	return !t.Before(start) && t.Before(end)
}

func (s *Scheduler) timeUntilSessionClose(t time.Time) time.Duration {
	_, end := s.sessionWindow(t)
	return end.Sub(t)
}

func (s *Scheduler) activeMaintenanceWindow(now time.Time, op OpType) (MaintenanceWindow, bool) {
	for _, w := range s.windows {
		if w.covers(now, op) {
			return w, true
		}
	}
	return MaintenanceWindow{}, false
}

func (s *Scheduler) nextMaintenanceWindowDelay(now time.Time, op OpType) time.Duration {
	var best time.Duration = -1
	for _, w := range s.windows {
		if len(w.AllowList) > 0 {
			allowed := false
			for _, a := range w.AllowList {
				if a == op {
					allowed = true
					break
				}
			}
			if !allowed {
				continue
			}
		}
		if w.Start.After(now) {
			d := w.Start.Sub(now)
			if best < 0 || d < best {
				best = d
			}
		}
	}
	if best < 0 {
		return 0
	}
	return best
}

// CheckOperation applies spec.md §4.11's policy to op with the given
// resource profile, evaluated at the scheduler's current time.
func (s *Scheduler) CheckOperation(op OpType, profile ResourceProfile) Decision {
	now := s.now()
	inSession := s.inTradingHours(now)

	if classify(op) == classAlwaysAllowed {
		return Decision{Allowed: true}
	}

	if inSession && profile.heavy() {
		if pct, err := s.sampleCPU(); err == nil && pct > s.cpuThreshold {
			return Decision{Allowed: false, SuggestedDelay: 30 * time.Minute, Reason: "heavy resource profile during trading hours, CPU also over threshold"}
		}
		return Decision{Allowed: false, SuggestedDelay: 30 * time.Minute, Reason: "heavy resource profile during trading hours"}
	}

	switch classify(op) {
	case classTradingHoursSensitive:
		if inSession {
			return Decision{Allowed: false, SuggestedDelay: s.timeUntilSessionClose(now), Reason: "trading-hours-sensitive operation during session"}
		}
		if w, ok := s.activeMaintenanceWindow(now, op); ok {
			return Decision{Allowed: true, Reason: "within maintenance window " + w.Name}
		}
		return Decision{Allowed: false, SuggestedDelay: s.nextMaintenanceWindowDelay(now, op), Reason: "outside session with no matching maintenance window"}
	default:
		// Backfill/Reporting and any other op type: allowed outside
		// trading hours unconditionally (spec.md §4.11); inside trading
		// hours a light profile carries no further restriction once the
		// heavy-profile gate above has been cleared.
		return Decision{Allowed: true}
	}
}

// Slot is a gap of at least the requested duration found by
// FindNextAvailableSlot.
type Slot struct {
	Start time.Time
	End   time.Time
	Kind  string // "pre-market", "post-market", or "non-trading-day"
}

// FindNextAvailableSlot walks forward up to 7 days looking for a pre-market,
// post-market, or non-trading-day gap of at least minDuration (spec.md
// §4.11). opType is accepted for API symmetry with CheckOperation and to
// allow a future maintenance-window allow-list filter; it does not
// currently narrow the search.
func (s *Scheduler) FindNextAvailableSlot(opType OpType, minDuration time.Duration) (Slot, bool) {
	now := s.now()

	for offset := 0; offset <= 7; offset++ {
		day := s.dayStart(now).AddDate(0, 0, offset)

		if !s.isTradingDay(day) {
			start, end := day, day.AddDate(0, 0, 1)
			if offset == 0 {
				start = maxTime(start, now)
			}
			if end.Sub(start) >= minDuration {
				return Slot{Start: start, End: end, Kind: "non-trading-day"}, true
			}
			continue
		}

		sessionStart, sessionEnd := s.sessionWindow(day)

		preStart := day
		if offset == 0 {
			preStart = maxTime(preStart, now)
		}
		if sessionStart.Sub(preStart) >= minDuration && preStart.Before(sessionStart) {
			return Slot{Start: preStart, End: sessionStart, Kind: "pre-market"}, true
		}

		postStart := sessionEnd
		if offset == 0 {
			postStart = maxTime(postStart, now)
		}
		nextDay := day.AddDate(0, 0, 1)
		if nextDay.Sub(postStart) >= minDuration && postStart.Before(nextDay) {
			return Slot{Start: postStart, End: nextDay, Kind: "post-market"}, true
		}
	}

	return Slot{}, false
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
