package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter throttles payload requests with a token bucket shared by every
// connection of a server.
//
// A nil *Limiter is valid and never throttles, so callers can hold one
// unconditionally and only construct it when a rate is configured.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter allowing requestsPerSecond sustained with the given
// burst. A non-positive rate returns nil (unlimited). A burst below 1 is
// raised to 1 so a single request can always proceed eventually.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Allow consumes a token if one is available without waiting.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
//
// Returns the context error if ctx ends first, or an error from the
// underlying limiter when the wait could never be satisfied before the
// context deadline.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
