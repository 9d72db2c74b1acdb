package providers

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/scholium/corpus-service/internal/domain"
)

const defaultAcquireWait = 10 * time.Second

// Limiter enforces a per-provider request rate with a bounded, jittered wait.
// One Limiter is shared by every caller hitting the same provider so that
// concurrent searches and expansion fetches draw from a single budget.
type Limiter struct {
	source  domain.SourceType
	bucket  *rate.Limiter
	maxWait time.Duration
}

// NewLimiter creates a limiter for the given source allowing ratePerSecond
// sustained requests with the given burst. maxWait bounds how long Acquire
// blocks before giving up; zero or negative selects the default.
func NewLimiter(source domain.SourceType, ratePerSecond float64, burst int, maxWait time.Duration) *Limiter {
	if burst < 1 {
		burst = 1
	}
	if maxWait <= 0 {
		maxWait = defaultAcquireWait
	}
	return &Limiter{
		source:  source,
		bucket:  rate.NewLimiter(rate.Limit(ratePerSecond), burst),
		maxWait: maxWait,
	}
}

// Acquire blocks until a token is available, the context is done, or the
// bounded wait elapses. It polls with a small jittered sleep rather than
// reserving, so a caller that times out never consumes a token another
// caller could have used. Exceeding the wait returns domain.RateLimitError.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	deadline := start.Add(l.maxWait)
	for {
		if l.bucket.Allow() {
			return nil
		}
		if time.Now().After(deadline) {
			return &domain.RateLimitError{Source: l.source, Waited: time.Since(start)}
		}
		sleep := 50*time.Millisecond + rand.N(100*time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// Source returns the provider this limiter guards.
func (l *Limiter) Source() domain.SourceType {
	return l.source
}
