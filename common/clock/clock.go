// Package clock provides a timezone-aware clock value that is threaded
// through every component constructor instead of being read from a
// package-level default. Tests construct a fixed clock; production code
// builds one from the configured vault timezone.
package clock

import (
	"fmt"
	"time"
)

// DefaultTimezone is used when no timezone is configured or the configured
// name does not resolve.
const DefaultTimezone = "Europe/Brussels"

// Clock reports the current time in a fixed location.
type Clock struct {
	loc *time.Location
	// now is overridable for tests; nil means time.Now.
	now func() time.Time
}

// New returns a Clock for the named IANA timezone. An unknown name falls
// back to DefaultTimezone; the returned bool reports whether the name
// resolved.
func New(tzName string) (Clock, bool) {
	loc, err := time.LoadLocation(tzName)
	if err != nil || tzName == "" {
		fallback, ferr := time.LoadLocation(DefaultTimezone)
		if ferr != nil {
			fallback = time.UTC
		}
		return Clock{loc: fallback}, false
	}
	return Clock{loc: loc}, true
}

// Fixed returns a Clock frozen at t, for tests.
func Fixed(t time.Time) Clock {
	return Clock{loc: t.Location(), now: func() time.Time { return t }}
}

// Now returns the current time in the clock's location.
func (c Clock) Now() time.Time {
	if c.now != nil {
		return c.now().In(c.location())
	}
	return time.Now().In(c.location())
}

// Location returns the clock's IANA location.
func (c Clock) Location() *time.Location { return c.location() }

func (c Clock) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// IDStamp returns the date and minute components used in entity IDs:
// "20250301" and "0930" for 2025-03-01T09:30 local time.
func (c Clock) IDStamp() (date, minute string) {
	t := c.Now()
	return t.Format("20060102"), t.Format("1504")
}

// FormatISO renders t as RFC 3339 in the clock's location.
func (c Clock) FormatISO(t time.Time) string {
	return t.In(c.location()).Format(time.RFC3339)
}

// ParseISO parses an ISO-8601 instant. Date-only values ("2025-03-01") are
// interpreted as midnight in the clock's location.
func (c Clock) ParseISO(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, c.location()); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("clock: cannot parse %q as ISO-8601 date or date-time", s)
}
