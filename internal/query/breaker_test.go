package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives a Breaker deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	b := NewBreaker(cfg)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	b.now = clock.now
	return b, clock
}

func TestBreakerStaysClosedBelowMinSamples(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MinSamples: 4, FailureRatio: 0.5, Window: time.Minute, Cooldown: 30 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.True(t, b.Allow())
	assert.True(t, b.OpenUntil().IsZero())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MinSamples: 4, FailureRatio: 0.5, Window: time.Minute, Cooldown: 30 * time.Second})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())
	assert.True(t, b.OpenUntil().After(clock.now()))
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MinSamples: 4, FailureRatio: 0.5, Window: time.Minute, Cooldown: 30 * time.Second})

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	assert.False(t, b.Allow())

	clock.advance(31 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerSuccessesKeepRatioBelowThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MinSamples: 4, FailureRatio: 0.5, Window: time.Minute, Cooldown: 30 * time.Second})

	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordSuccess()
	b.RecordFailure()
	// 1 failure out of 4 samples: below the 0.5 ratio.
	assert.True(t, b.Allow())
}

func TestBreakerWindowSlides(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{MinSamples: 4, FailureRatio: 0.5, Window: time.Minute, Cooldown: 30 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()

	// Old failures fall out of the window, so one more failure is not enough.
	clock.advance(2 * time.Minute)
	b.RecordFailure()
	assert.True(t, b.Allow())
}

func TestBreakerReset(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{MinSamples: 2, FailureRatio: 0.5, Window: time.Minute, Cooldown: time.Hour})

	b.RecordFailure()
	b.RecordFailure()
	assert.False(t, b.Allow())

	b.Reset()
	assert.True(t, b.Allow())
}
