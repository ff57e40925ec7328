// Package calendar answers whether an instant falls inside the trading window.
package calendar

import (
	"fmt"
	"time"
)

// Calendar evaluates the trading window in the market's civil timezone.
// The host may run in UTC or anything else; all comparisons happen after
// converting the instant into the configured location. Stateless.
type Calendar struct {
	loc          *time.Location
	openMinutes  int // minutes since midnight, inclusive
	closeMinutes int // minutes since midnight, inclusive
	weekdaysOnly bool
}

// New builds a calendar for the given timezone and "HH:MM" open/close times.
// Both boundaries are inclusive.
func New(timezone, open, close string, weekdaysOnly bool) (*Calendar, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", timezone, err)
	}
	openMin, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}
	closeMin, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("invalid close time: %w", err)
	}
	if closeMin < openMin {
		return nil, fmt.Errorf("close time %s precedes open time %s", close, open)
	}
	return &Calendar{
		loc:          loc,
		openMinutes:  openMin,
		closeMinutes: closeMin,
		weekdaysOnly: weekdaysOnly,
	}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// IsOpen reports whether now falls inside the trading window.
func (c *Calendar) IsOpen(now time.Time) bool {
	local := now.In(c.loc)
	if c.weekdaysOnly {
		switch local.Weekday() {
		case time.Saturday, time.Sunday:
			return false
		}
	}
	// Second-resolution comparison so that 09:14:59 is closed and 15:30:00
	// is still open.
	secs := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return secs >= c.openMinutes*60 && secs <= c.closeMinutes*60
}

// Location returns the market timezone, used for expiry-date formatting.
func (c *Calendar) Location() *time.Location {
	return c.loc
}
