// Package clock wraps wall/monotonic time in the exchange timezone and the
// trading-day predicate the engine lifecycle and strategy heartbeat rely on.
package clock

import "time"

// Clock exposes the exchange-local time the rest of the engine reasons
// about. A single instance is shared by the engine so tests can inject a
// fixed location without touching global state.
type Clock struct {
	loc          *time.Location
	squareOffHH  int
	squareOffMM  int
}

// New builds a Clock for the given IANA location name, falling back to UTC
// if the location can't be loaded.
func New(locationName string, squareOffHH, squareOffMM int) *Clock {
	loc, err := time.LoadLocation(locationName)
	if err != nil {
		loc = time.UTC
	}
	return &Clock{loc: loc, squareOffHH: squareOffHH, squareOffMM: squareOffMM}
}

// Now returns the current wall time in the exchange timezone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// FloorToMinute truncates t to the start of its minute, in the exchange
// timezone, as CandleAggregator requires.
func (c *Clock) FloorToMinute(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, c.loc)
}

// PastSquareOff reports whether now has crossed the configured square-off
// cutoff (default 15:10 exchange TZ).
func (c *Clock) PastSquareOff(now time.Time) bool {
	now = now.In(c.loc)
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), c.squareOffHH, c.squareOffMM, 0, 0, c.loc)
	return !now.Before(cutoff)
}

// IsTradingDay is a minimal weekday predicate; holiday calendars are an
// instrument-master concern and out of scope (§1).
func (c *Clock) IsTradingDay(t time.Time) bool {
	wd := t.In(c.loc).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// SameDay reports whether a and b fall on the same exchange-local date.
func (c *Clock) SameDay(a, b time.Time) bool {
	a, b = a.In(c.loc), b.In(c.loc)
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
