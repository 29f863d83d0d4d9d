package quota

import "time"

// WindowStart floor-aligns a point in time to the enclosing fixed
// window. Every caller inside the same window computes the same start,
// which is what keys the shared counter.
func WindowStart(now time.Time, windowSeconds int) time.Time {
	secs := now.Unix()
	aligned := secs - secs%int64(windowSeconds)
	return time.Unix(aligned, 0).UTC()
}

// DayStart returns midnight UTC of the day containing now
func DayStart(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthStart returns midnight UTC of the first day of the month
// containing now
func MonthStart(now time.Time) time.Time {
	y, m, _ := now.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}
