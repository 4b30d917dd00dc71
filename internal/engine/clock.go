package engine

import "time"

// Clock supplies wall-clock time for operation timestamps and retry scheduling.
//
// Production code uses SystemClock. Tests inject a manual clock so retry
// deadlines and golden snapshots are reproducible.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
