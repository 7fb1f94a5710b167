// Package system provides wall and fixed clocks.
package system

import "time"

// Clock implements catalog.Clock using time.Now in a fixed location.
type Clock struct {
	loc *time.Location
}

// New returns a Clock reporting local time, which names run log files.
func New() *Clock {
	return &Clock{loc: time.Local}
}

// NewUTC returns a Clock reporting UTC.
func NewUTC() *Clock {
	return &Clock{loc: time.UTC}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	if c == nil || c.loc == nil {
		return time.Now()
	}
	return time.Now().In(c.loc)
}

// Fixed always reports the same instant.
type Fixed time.Time

// Now implements catalog.Clock.
func (f Fixed) Now() time.Time {
	return time.Time(f)
}
