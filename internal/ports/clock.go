package ports

import "time"

// Clock abstracts the time source so TTL, dedup-window, and backoff logic
// can be tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }
