// Package ratelimit paces outbound RPC requests so a public endpoint is not flooded.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limiter releases permits at a fixed rate with a burst of one, so N callers
// arriving together are released one interval apart.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter issuing ratePerSec permits per second. Non-positive
// rates fall back to one per second.
func New(ratePerSec float64) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(limit(ratePerSec), 1)}
}

func limit(ratePerSec float64) rate.Limit {
	if ratePerSec <= 0 {
		return 1
	}
	return rate.Limit(ratePerSec)
}

// Wait blocks until a permit is available or ctx is done. A wait that cannot
// finish before the ctx deadline fails at once without consuming a slot.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// SetRate changes the rate for subsequent permits.
func (l *Limiter) SetRate(ratePerSec float64) {
	l.limiter.SetLimit(limit(ratePerSec))
}

// Rate returns the current rate.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}
