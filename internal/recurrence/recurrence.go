// Package recurrence computes annual anniversary occurrences.
//
// All arithmetic happens in UTC and occurrences are truncated to midnight, so
// the same anniversary always maps to the same instant regardless of the
// caller's zone.
package recurrence

import "time"

// Next returns the first occurrence of the anniversary's month/day that is not
// before ref. The anniversary's year is ignored. A Feb 29 anniversary resolves
// to Feb 29 of the next leap year, never Mar 1.
func Next(anniversary, ref time.Time) time.Time {
	return find(anniversary, ref, false)
}

// After is like Next but the returned occurrence is strictly after ref.
func After(anniversary, ref time.Time) time.Time {
	return find(anniversary, ref, true)
}

// Valid reports whether month/day exists in year.
func Valid(year int, month time.Month, day int) bool {
	d := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return d.Month() == month && d.Day() == day
}

func find(anniversary, ref time.Time, strict bool) time.Time {
	a := anniversary.UTC()
	ref = ref.UTC()
	month, day := a.Month(), a.Day()

	for year := ref.Year(); ; year++ {
		if !Valid(year, month, day) {
			continue
		}
		c := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
		if c.Before(ref) || (strict && c.Equal(ref)) {
			continue
		}
		return c
	}
}
