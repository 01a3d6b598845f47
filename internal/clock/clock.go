// Package clock provides the crawler.Clock implementations used to stamp rows.
package clock

import "time"

// System implements crawler.Clock using the wall clock, truncated to whole
// seconds in UTC.
type System struct{}

// New creates a new System clock.
func New() System {
	return System{}
}

// Now returns the current time.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Fixed always reports the same instant.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f Fixed) Now() time.Time {
	return f.At
}
