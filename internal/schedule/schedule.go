// Package schedule holds the dispatch-timing arithmetic shared by the
// lifecycle, A/B engine and scheduler. All deferred work in the system is
// due at a single fixed hour per day.
package schedule

import "time"

// AtDispatchHour snaps an instant to the dispatch hour of its own UTC
// calendar day. The system does not support arbitrary send times, only
// "which calendar day".
func AtDispatchHour(t time.Time, hourUTC int) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), hourUTC, 0, 0, 0, time.UTC)
}

// NextBoundary returns the first dispatch-hour instant at or after t.
func NextBoundary(t time.Time, hourUTC int) time.Time {
	snapped := AtDispatchHour(t, hourUTC)
	if snapped.Before(t.UTC()) {
		return snapped.Add(24 * time.Hour)
	}
	return snapped
}
