package query

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/observability"
)

// Rewriter attempts an LLM-assisted rewrite of a low-confidence query.
// Implementations must respect the context deadline.
type Rewriter interface {
	Rewrite(ctx context.Context, query string) (string, error)
}

// Config holds query processor settings.
type Config struct {
	// MaxTerms caps the number of query terms after tokenization.
	MaxTerms int
	// MaxSynonymsPerConcept caps ontology synonyms contributed per concept.
	MaxSynonymsPerConcept int
	// MaxExpandedTerms caps the total number of ontology-expanded terms.
	MaxExpandedTerms int
	// ConfidenceThreshold is the confidence below which the fallback rewrite
	// is attempted.
	ConfidenceThreshold float64
	// FallbackTimeout bounds a single rewrite call.
	FallbackTimeout time.Duration
	// FallbackCredential enables the fallback path when non-empty.
	FallbackCredential string
	// CacheSize is the LRU size of the prepared-query cache.
	CacheSize int
	// Breaker configures the fallback circuit breaker.
	Breaker BreakerConfig
}

// DefaultConfig returns the standard processor settings.
func DefaultConfig() Config {
	return Config{
		MaxTerms:              12,
		MaxSynonymsPerConcept: 3,
		MaxExpandedTerms:      8,
		ConfidenceThreshold:   0.55,
		FallbackTimeout:       4 * time.Second,
		CacheSize:             512,
		Breaker:               DefaultBreakerConfig(),
	}
}

// Options are per-call overrides for Prepare.
type Options struct {
	// Mode controls how many expanded terms compiled queries include.
	Mode Mode
	// FallbackCredential overrides the configured credential.
	FallbackCredential string
	// FallbackTimeout overrides the configured rewrite timeout.
	FallbackTimeout time.Duration
	// ConfidenceThreshold overrides the configured threshold when non-nil.
	ConfidenceThreshold *float64
}

// Processor prepares queries. The cache and breaker are instance state:
// construct one Processor per service and inject it, so tests can build
// isolated instances.
type Processor struct {
	cfg      Config
	rewriter Rewriter
	breaker  *Breaker
	cache    *resultCache
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

// NewProcessor creates a Processor. rewriter may be nil, which disables the
// fallback path entirely. metrics may be nil.
func NewProcessor(cfg Config, rewriter Rewriter, metrics *observability.Metrics, logger zerolog.Logger) (*Processor, error) {
	def := DefaultConfig()
	if cfg.MaxTerms <= 0 {
		cfg.MaxTerms = def.MaxTerms
	}
	if cfg.MaxSynonymsPerConcept <= 0 {
		cfg.MaxSynonymsPerConcept = def.MaxSynonymsPerConcept
	}
	if cfg.MaxExpandedTerms <= 0 {
		cfg.MaxExpandedTerms = def.MaxExpandedTerms
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if cfg.FallbackTimeout <= 0 {
		cfg.FallbackTimeout = def.FallbackTimeout
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}

	cache, err := newResultCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	return &Processor{
		cfg:      cfg,
		rewriter: rewriter,
		breaker:  NewBreaker(cfg.Breaker),
		cache:    cache,
		metrics:  metrics,
		logger:   logger.With().Str("component", "query-processor").Logger(),
	}, nil
}

// Breaker exposes the fallback circuit breaker. Test hook.
func (p *Processor) Breaker() *Breaker {
	return p.breaker
}

// Prepare turns a raw question into a PreparedQuery. It never returns an
// error for degraded conditions (failed fallback, open breaker); only an
// empty query is rejected.
func (p *Processor) Prepare(ctx context.Context, raw string, opts Options) (*domain.PreparedQuery, error) {
	start := time.Now()

	if strings.TrimSpace(raw) == "" {
		return nil, domain.NewValidationError("query", "query must not be empty")
	}
	if opts.Mode == "" {
		opts.Mode = ModeBalanced
	}

	key := cacheKey(raw)
	if cached, ok := p.cache.get(key); ok {
		cached.ReasonCodes = append(cached.ReasonCodes, domain.ReasonCacheHit)
		cached.ReasonCodes = dedupeStrings(cached.ReasonCodes)
		cached.ProcessingTime = time.Since(start)
		p.countOutcome("cache_hit")
		return cached, nil
	}

	result := p.runDeterministic(raw, opts.Mode)

	threshold := p.cfg.ConfidenceThreshold
	if opts.ConfidenceThreshold != nil {
		threshold = *opts.ConfidenceThreshold
	}
	credential := p.cfg.FallbackCredential
	if opts.FallbackCredential != "" {
		credential = opts.FallbackCredential
	}

	if result.Confidence < threshold && credential != "" && p.rewriter != nil {
		result = p.tryFallback(ctx, raw, result, opts)
	}

	result.ProcessingTime = time.Since(start)
	p.cache.put(key, result)

	if p.metrics != nil {
		p.metrics.QueryConfidence.Observe(result.Confidence)
	}
	if result.UsedFallback {
		p.countOutcome("fallback")
	} else {
		p.countOutcome("deterministic")
	}
	return result, nil
}

// runDeterministic executes the full normalization/expansion/compilation
// pipeline. It never fails.
func (p *Processor) runDeterministic(raw string, mode Mode) *domain.PreparedQuery {
	normalized, reasons := normalize(raw)
	terms := tokenize(normalized, p.cfg.MaxTerms)

	expanded, conceptMatches, truncated := expand(normalized, p.cfg.MaxSynonymsPerConcept, p.cfg.MaxExpandedTerms)
	if len(expanded) > 0 {
		reasons = append(reasons, domain.ReasonOntologyExpansionApplied)
	}

	confidence, confReasons := scoreConfidence(normalized, terms, conceptMatches, truncated)
	reasons = append(reasons, confReasons...)

	return &domain.PreparedQuery{
		OriginalQuery:   raw,
		NormalizedQuery: normalized,
		QueryTerms:      terms,
		ExpandedTerms:   expanded,
		PerSourceQuery:  compilePerSource(normalized, terms, expanded, mode),
		Confidence:      confidence,
		ReasonCodes:     dedupeStrings(reasons),
	}
}

// tryFallback attempts one bounded rewrite behind the circuit breaker.
// Failure always degrades silently to the deterministic result.
func (p *Processor) tryFallback(ctx context.Context, raw string, deterministic *domain.PreparedQuery, opts Options) *domain.PreparedQuery {
	if !p.breaker.Allow() {
		deterministic.ReasonCodes = append(deterministic.ReasonCodes, domain.ReasonFallbackCircuitOpen)
		if p.metrics != nil {
			p.metrics.FallbackCircuitOpen.Inc()
		}
		return deterministic
	}

	timeout := p.cfg.FallbackTimeout
	if opts.FallbackTimeout > 0 {
		timeout = opts.FallbackTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if p.metrics != nil {
		p.metrics.FallbackAttempts.Inc()
	}

	rewritten, err := p.rewriter.Rewrite(callCtx, deterministic.NormalizedQuery)
	if err != nil || strings.TrimSpace(rewritten) == "" {
		p.breaker.RecordFailure()
		if p.metrics != nil {
			p.metrics.FallbackFailures.Inc()
		}
		p.logger.Debug().Err(err).Str("query", deterministic.NormalizedQuery).
			Msg("fallback rewrite failed, keeping deterministic result")
		deterministic.ReasonCodes = append(deterministic.ReasonCodes, domain.ReasonLLMFallbackFailed)
		return deterministic
	}
	p.breaker.RecordSuccess()

	reworked := p.runDeterministic(rewritten, opts.Mode)
	if reworked.Confidence <= deterministic.Confidence {
		return deterministic
	}

	reworked.OriginalQuery = raw
	reworked.UsedFallback = true
	reworked.ReasonCodes = dedupeStrings(append(reworked.ReasonCodes, domain.ReasonLLMFallbackApplied))
	return reworked
}

func (p *Processor) countOutcome(outcome string) {
	if p.metrics != nil {
		p.metrics.QueriesPrepared.WithLabelValues(outcome).Inc()
	}
}
