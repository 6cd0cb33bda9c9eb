package utils

import "time"

// DaysBetween returns the number of whole calendar days from earlier to
// later, using each time's date in its own location. Negative spans
// clamp to zero.
func DaysBetween(earlier, later time.Time) int {
	e := earlier.Truncate(24 * time.Hour)
	l := later.Truncate(24 * time.Hour)
	days := int(l.Sub(e).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// DaysSince returns whole days from t until now.
func DaysSince(t, now time.Time) int {
	return DaysBetween(t, now)
}
