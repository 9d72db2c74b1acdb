package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholium/corpus-service/internal/domain"
)

// stubRewriter returns a canned rewrite or error and counts invocations.
type stubRewriter struct {
	out   string
	err   error
	calls int
}

func (s *stubRewriter) Rewrite(_ context.Context, _ string) (string, error) {
	s.calls++
	return s.out, s.err
}

func newTestProcessor(t *testing.T, rewriter Rewriter, mutate func(*Config)) *Processor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewProcessor(cfg, rewriter, nil, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestPrepareRejectsEmptyQuery(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	for _, q := range []string{"", "   ", "\t\n"} {
		_, err := p.Prepare(t.Context(), q, Options{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "%q", q)
	}
}

func TestPreparePerSourceInvariant(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	for _, q := range []string{
		"effect of omega-3 on chronic pain in adults",
		"vs",
		"does x help",
	} {
		pq, err := p.Prepare(t.Context(), q, Options{})
		require.NoError(t, err)
		assert.Len(t, pq.PerSourceQuery, 4, q)
		for _, src := range domain.AllSources {
			assert.NotEmpty(t, pq.PerSourceQuery[src], "%s / %s", q, src)
		}
	}
}

func TestPrepareConfidenceClamped(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	pq, err := p.Prepare(t.Context(), "best", Options{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pq.Confidence, 0.05)
	assert.LessOrEqual(t, pq.Confidence, 0.95)
	assert.Contains(t, pq.ReasonCodes, domain.ReasonShortQueryPenalty)
	assert.Contains(t, pq.ReasonCodes, domain.ReasonAmbiguityPenalty)
}

func TestPrepareNegationAndComparatorSurvive(t *testing.T) {
	p := newTestProcessor(t, nil, nil)

	pq, err := p.Prepare(t.Context(), "aspirin vs placebo not effective without statins", Options{})
	require.NoError(t, err)
	for _, tok := range []string{"vs", "not", "without"} {
		assert.Contains(t, pq.QueryTerms, tok)
	}
	assert.Contains(t, pq.ReasonCodes, domain.ReasonNegationPreserved)
	assert.Contains(t, pq.ReasonCodes, domain.ReasonComparatorPreserved)
}

func TestPrepareCacheHit(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	q := "effect of omega-3 on chronic pain in adults"

	first, err := p.Prepare(t.Context(), q, Options{})
	require.NoError(t, err)

	// Same trimmed content hits the same entry.
	second, err := p.Prepare(t.Context(), "  "+q+"  ", Options{})
	require.NoError(t, err)

	assert.Equal(t, first.NormalizedQuery, second.NormalizedQuery)
	assert.Equal(t, first.QueryTerms, second.QueryTerms)
	assert.Equal(t, first.ExpandedTerms, second.ExpandedTerms)
	assert.Equal(t, first.PerSourceQuery, second.PerSourceQuery)
	assert.Equal(t, first.Confidence, second.Confidence)

	assert.Contains(t, second.ReasonCodes, domain.ReasonCacheHit)
	for _, code := range first.ReasonCodes {
		assert.Contains(t, second.ReasonCodes, code)
	}
}

func TestPrepareCacheHitDoesNotMutateEntry(t *testing.T) {
	p := newTestProcessor(t, nil, nil)
	q := "omega-3 for depression"

	_, err := p.Prepare(t.Context(), q, Options{})
	require.NoError(t, err)

	second, err := p.Prepare(t.Context(), q, Options{})
	require.NoError(t, err)
	second.ReasonCodes = append(second.ReasonCodes, "caller_scribble")
	second.PerSourceQuery[domain.SourcePubMed] = "scribbled"

	third, err := p.Prepare(t.Context(), q, Options{})
	require.NoError(t, err)
	assert.NotContains(t, third.ReasonCodes, "caller_scribble")
	assert.NotEqual(t, "scribbled", third.PerSourceQuery[domain.SourcePubMed])
}

func TestPrepareFallbackApplied(t *testing.T) {
	rw := &stubRewriter{out: "omega-3 supplementation for chronic pain in adults vs placebo"}
	p := newTestProcessor(t, rw, func(c *Config) {
		c.FallbackCredential = "sk-test"
		c.ConfidenceThreshold = 0.95
	})

	pq, err := p.Prepare(t.Context(), "best thing", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rw.calls)

	if pq.UsedFallback {
		assert.Contains(t, pq.ReasonCodes, domain.ReasonLLMFallbackApplied)
		assert.Equal(t, "best thing", pq.OriginalQuery)
	}
}

func TestPrepareFallbackFailureDegradesSilently(t *testing.T) {
	rw := &stubRewriter{err: errors.New("boom")}
	p := newTestProcessor(t, rw, func(c *Config) {
		c.FallbackCredential = "sk-test"
		c.ConfidenceThreshold = 0.95
	})

	pq, err := p.Prepare(t.Context(), "worst option", Options{})
	require.NoError(t, err)
	assert.False(t, pq.UsedFallback)
	assert.Contains(t, pq.ReasonCodes, domain.ReasonLLMFallbackFailed)
}

func TestPrepareFallbackSkippedWithoutCredential(t *testing.T) {
	rw := &stubRewriter{out: "anything"}
	p := newTestProcessor(t, rw, func(c *Config) {
		c.ConfidenceThreshold = 0.95
	})

	_, err := p.Prepare(t.Context(), "best thing", Options{})
	require.NoError(t, err)
	assert.Zero(t, rw.calls)
}

func TestPrepareCircuitOpensAndSkipsFallback(t *testing.T) {
	rw := &stubRewriter{err: errors.New("rewrite down")}
	p := newTestProcessor(t, rw, func(c *Config) {
		c.FallbackCredential = "sk-test"
		c.ConfidenceThreshold = 0.95
		c.Breaker = BreakerConfig{Window: time.Minute, MinSamples: 4, FailureRatio: 0.5, Cooldown: 30 * time.Second}
	})

	// Distinct queries so the cache never short-circuits the fallback path.
	queries := []string{"best a", "best b", "best c", "best d"}
	for _, q := range queries {
		_, err := p.Prepare(t.Context(), q, Options{})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, rw.calls)
	assert.True(t, p.Breaker().OpenUntil().After(time.Now()))

	pq, err := p.Prepare(t.Context(), "best e", Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, rw.calls, "open breaker must not call the rewriter")
	assert.Contains(t, pq.ReasonCodes, domain.ReasonFallbackCircuitOpen)
}

func TestPrepareOptionOverrides(t *testing.T) {
	rw := &stubRewriter{err: errors.New("down")}
	p := newTestProcessor(t, rw, nil)

	// Per-call credential and threshold force the fallback attempt.
	high := 0.99
	_, err := p.Prepare(t.Context(), "best thing ever", Options{
		FallbackCredential:  "sk-per-call",
		ConfidenceThreshold: &high,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rw.calls)

	// A zero threshold override pointer disables the attempt.
	zero := 0.0
	_, err = p.Prepare(t.Context(), "another ambiguous thing", Options{
		FallbackCredential:  "sk-per-call",
		ConfidenceThreshold: &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rw.calls)
}
