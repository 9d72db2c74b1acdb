package query

import (
	"sync"
	"time"
)

// BreakerConfig holds sliding-window circuit breaker settings for the
// fallback rewrite path.
type BreakerConfig struct {
	// Window is the sliding window over which attempts are counted.
	Window time.Duration
	// MinSamples is the minimum number of attempts in the window before the
	// failure ratio is evaluated.
	MinSamples int
	// FailureRatio opens the breaker when failures/attempts reaches it.
	FailureRatio float64
	// Cooldown is how long the breaker stays open once tripped.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the standard fallback breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:       60 * time.Second,
		MinSamples:   4,
		FailureRatio: 0.5,
		Cooldown:     30 * time.Second,
	}
}

type breakerSample struct {
	at      time.Time
	failure bool
}

// Breaker is a sliding-window circuit breaker. All state is instance state
// guarded by one mutex, so concurrent query-processing calls never
// undercount failures. Construct one per processor; there is no package
// singleton.
type Breaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	samples   []breakerSample
	openUntil time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewBreaker creates a closed breaker with the given configuration.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerConfig().Window
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultBreakerConfig().MinSamples
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = DefaultBreakerConfig().FailureRatio
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Allow reports whether a fallback attempt may proceed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openUntil)
}

// RecordSuccess records a successful fallback attempt.
func (b *Breaker) RecordSuccess() {
	b.record(false)
}

// RecordFailure records a failed fallback attempt and trips the breaker when
// the windowed failure ratio crosses the threshold.
func (b *Breaker) RecordFailure() {
	b.record(true)
}

// OpenUntil returns the time the breaker stays open until; the zero time
// means it has never tripped.
func (b *Breaker) OpenUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openUntil
}

// Reset clears all breaker state. Test hook.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples = nil
	b.openUntil = time.Time{}
}

func (b *Breaker) record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.prune(now)
	b.samples = append(b.samples, breakerSample{at: now, failure: failure})

	if len(b.samples) < b.cfg.MinSamples {
		return
	}
	failures := 0
	for _, s := range b.samples {
		if s.failure {
			failures++
		}
	}
	if float64(failures)/float64(len(b.samples)) >= b.cfg.FailureRatio {
		b.openUntil = now.Add(b.cfg.Cooldown)
		// Start the next window fresh once the cooldown expires.
		b.samples = nil
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	kept := b.samples[:0]
	for _, s := range b.samples {
		if s.at.After(cutoff) {
			kept = append(kept, s)
		}
	}
	b.samples = kept
}
