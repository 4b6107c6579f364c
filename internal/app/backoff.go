package app

import (
	"context"
	"math/rand"
	"time"
)

// Backoff computes retry delays: base * 2^retry, capped at max, with
// ±20% jitter. Waiting is timer-based and cancellable so an offline
// transition or shutdown interrupts a pending retry immediately instead
// of blocking in a sleep.
type Backoff struct {
	base time.Duration
	max  time.Duration
}

// NewBackoff creates a Backoff with the given base and cap.
func NewBackoff(base, max time.Duration) *Backoff {
	return &Backoff{base: base, max: max}
}

// DelayFor returns the jittered delay for the given retry count. Retry 0
// is the first retry after the initial failure.
func (b *Backoff) DelayFor(retry int) time.Duration {
	d := b.base
	for i := 0; i < retry && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

// Wait blocks for the retry's delay or until ctx is done, whichever comes
// first. Returns ctx.Err() when cancelled.
func (b *Backoff) Wait(ctx context.Context, retry int) error {
	timer := time.NewTimer(b.DelayFor(retry))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
