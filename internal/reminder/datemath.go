package reminder

import "time"

const day = 24 * time.Hour

// DaysUntil returns the number of days from now until renewal, rounding any
// partial day up. A renewal 6.2 days away yields 7; one 0.5 days in the past
// yields 0.
func DaysUntil(renewal, now time.Time) int {
	d := renewal.Sub(now)
	days := d / day
	if d%day > 0 {
		days++
	}
	return int(days)
}

// IsPast reports whether the renewal instant is strictly before now.
func IsPast(renewal, now time.Time) bool {
	return renewal.Before(now)
}

// Days converts a whole number of days into a duration.
func Days(n int) time.Duration {
	return time.Duration(n) * day
}
