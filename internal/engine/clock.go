package engine

import "time"

// Clock supplies wall-clock time for audit columns and the approval window.
// Ordering never depends on it: schedules order by date and id, document
// numbers by sequence.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC.
type SystemClock struct{}

// Now returns the current time in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
