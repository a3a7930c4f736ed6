// Package clock centralizes time access so the snapshot date is derived the
// same way at every call site.
package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func NewSystemClock() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)

// ReferenceDate returns the calendar date in loc, truncated to UTC midnight.
// All cohort boundaries and snapshot rows key off this single derivation;
// mixing UTC, server-local and fixed-offset "today" near midnight shifts
// cohorts by a day.
func ReferenceDate(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	now := c.Now().In(loc)
	return Day(now)
}

// Day truncates t to a date key: midnight UTC of t's calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LoadLocation resolves the configured reporting timezone, defaulting to UTC
// when unset.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
