// Package pipeline fans a prepared query out across every enabled provider,
// folds the per-provider outcomes into one candidate pool, and optionally
// widens the pool through citation-graph expansion.
//
// The pipeline degrades instead of failing: a provider error is recorded in
// that provider's outcome and the remaining providers still contribute. Only
// an empty registry or a missing query is an error.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/observability"
	"github.com/scholium/corpus-service/internal/providers"
)

// Merger collapses provider result lists into a deduplicated candidate pool.
type Merger interface {
	Merge(lists ...[]*domain.UnifiedRecord) []*domain.UnifiedRecord
}

// ExpansionConfig bounds citation-graph expansion.
type ExpansionConfig struct {
	// SeedCount is how many top-ranked records contribute reference IDs.
	SeedCount int

	// BatchSize is the number of IDs hydrated per batch call.
	BatchSize int

	// MaxRecords caps the total records expansion may append.
	MaxRecords int

	// MinBudget is the minimum remaining pipeline budget required to start
	// expansion or fetch another batch.
	MinBudget time.Duration
}

// Config tunes the retrieval pipeline.
type Config struct {
	// Budget bounds one full pipeline run including expansion.
	Budget time.Duration

	// CallTimeout bounds each individual provider search.
	CallTimeout time.Duration

	// MaxResultsPerSource is the default page size requested per provider.
	MaxResultsPerSource int

	// MinAbstractLength is forwarded to adapters as the usability floor.
	MinAbstractLength int

	Expansion ExpansionConfig
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		Budget:              25 * time.Second,
		CallTimeout:         12 * time.Second,
		MaxResultsPerSource: 25,
		MinAbstractLength:   200,
		Expansion: ExpansionConfig{
			SeedCount:  3,
			BatchSize:  10,
			MaxRecords: 25,
			MinBudget:  3 * time.Second,
		},
	}
}

// SourceOverride adjusts paging for one provider in one request.
type SourceOverride struct {
	MaxResults int
	Offset     int
}

// Request describes one retrieval run.
type Request struct {
	// Prepared carries the compiled per-source queries (required).
	Prepared *domain.PreparedQuery

	// MaxCandidates is the target pool size; expansion only runs while the
	// pool is smaller. Zero means no target and disables expansion.
	MaxCandidates int

	// PerSource overrides paging for individual providers.
	PerSource map[domain.SourceType]SourceOverride
}

// Coverage summarizes which providers contributed to a run.
type Coverage struct {
	ProvidersQueried int      `json:"providers_queried"`
	ProvidersFailed  int      `json:"providers_failed"`
	FailedProviders  []string `json:"failed_providers,omitempty"`

	// Degraded is true when any provider failed or expansion stopped early
	// on budget.
	Degraded bool `json:"degraded"`
}

// Result is the outcome of one pipeline run.
type Result struct {
	// ProviderRuns holds one outcome per queried provider, in trust order.
	ProviderRuns []domain.ProviderCallOutcome

	// ByProvider maps each provider to the usable records it returned.
	ByProvider map[domain.SourceType][]*domain.UnifiedRecord

	// Candidates is the fuzzy-merged candidate pool, including expansion.
	Candidates []*domain.UnifiedRecord

	// ExpandedCount is how many records citation expansion appended before
	// merging.
	ExpandedCount int

	Coverage Coverage
	Elapsed  time.Duration
}

// Pipeline coordinates provider fan-out, expansion, and merging.
type Pipeline struct {
	registry *providers.Registry
	merger   Merger
	metrics  *observability.Metrics
	logger   zerolog.Logger
	cfg      Config
}

// New creates a pipeline. Zero-valued config fields fall back to defaults.
func New(registry *providers.Registry, merger Merger, metrics *observability.Metrics, logger zerolog.Logger, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.Budget <= 0 {
		cfg.Budget = def.Budget
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxResultsPerSource <= 0 {
		cfg.MaxResultsPerSource = def.MaxResultsPerSource
	}
	if cfg.MinAbstractLength <= 0 {
		cfg.MinAbstractLength = def.MinAbstractLength
	}
	if cfg.Expansion.SeedCount <= 0 {
		cfg.Expansion.SeedCount = def.Expansion.SeedCount
	}
	if cfg.Expansion.BatchSize <= 0 {
		cfg.Expansion.BatchSize = def.Expansion.BatchSize
	}
	if cfg.Expansion.MaxRecords <= 0 {
		cfg.Expansion.MaxRecords = def.Expansion.MaxRecords
	}
	if cfg.Expansion.MinBudget <= 0 {
		cfg.Expansion.MinBudget = def.Expansion.MinBudget
	}
	return &Pipeline{
		registry: registry,
		merger:   merger,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Run executes one retrieval run within the configured budget.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Prepared == nil || len(req.Prepared.PerSourceQuery) == 0 {
		return nil, &domain.ValidationError{Field: "prepared", Message: "prepared query with compiled source queries is required"}
	}
	enabled := p.registry.Enabled()
	if len(enabled) == 0 {
		return nil, domain.ErrServiceUnavailable
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	outcomes := p.fanOut(ctx, enabled, req)

	result := &Result{
		ProviderRuns: outcomes,
		ByProvider:   make(map[domain.SourceType][]*domain.UnifiedRecord, len(outcomes)),
	}

	var pool [][]*domain.UnifiedRecord
	total := 0
	for _, oc := range outcomes {
		result.Coverage.ProvidersQueried++
		result.ByProvider[oc.Provider] = oc.Records
		if oc.Degraded {
			result.Coverage.ProvidersFailed++
			result.Coverage.FailedProviders = append(result.Coverage.FailedProviders, string(oc.Provider))
			result.Coverage.Degraded = true
			continue
		}
		pool = append(pool, oc.Records)
		total += len(oc.Records)
	}

	expanded, aborted := p.expand(ctx, start, req, outcomes, total)
	if len(expanded) > 0 {
		pool = append(pool, expanded)
		result.ExpandedCount = len(expanded)
		p.metrics.ExpansionRecords.Add(float64(len(expanded)))
	}
	if aborted {
		result.Coverage.Degraded = true
	}

	result.Candidates = p.merger.Merge(pool...)
	result.Elapsed = time.Since(start)

	if result.Coverage.Degraded {
		p.metrics.PipelineDegraded.Inc()
	}
	p.logger.Info().
		Int("providers", result.Coverage.ProvidersQueried).
		Int("failed", result.Coverage.ProvidersFailed).
		Int("candidates", len(result.Candidates)).
		Int("expanded", result.ExpandedCount).
		Dur("elapsed", result.Elapsed).
		Bool("degraded", result.Coverage.Degraded).
		Msg("pipeline run completed")

	return result, nil
}

// fanOut queries every enabled provider concurrently and returns outcomes in
// registry (trust) order.
func (p *Pipeline) fanOut(ctx context.Context, enabled []providers.Source, req Request) []domain.ProviderCallOutcome {
	outcomes := make([]domain.ProviderCallOutcome, len(enabled))

	var wg sync.WaitGroup
	for i, src := range enabled {
		wg.Add(1)
		go func(i int, src providers.Source) {
			defer wg.Done()
			outcomes[i] = p.callProvider(ctx, src, req)
		}(i, src)
	}
	wg.Wait()

	return outcomes
}

func (p *Pipeline) callProvider(ctx context.Context, src providers.Source, req Request) domain.ProviderCallOutcome {
	st := src.SourceType()
	outcome := domain.ProviderCallOutcome{Provider: st}

	query := req.Prepared.PerSourceQuery[st]
	if query == "" {
		query = req.Prepared.NormalizedQuery
	}

	params := providers.SearchParams{
		Query:             query,
		MaxResults:        p.cfg.MaxResultsPerSource,
		MinAbstractLength: p.cfg.MinAbstractLength,
	}
	if ov, ok := req.PerSource[st]; ok {
		if ov.MaxResults > 0 {
			params.MaxResults = ov.MaxResults
		}
		params.Offset = ov.Offset
	}

	p.metrics.SearchesStarted.WithLabelValues(string(st)).Inc()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	res, err := src.Search(callCtx, params)
	outcome.Latency = time.Since(start)

	if res != nil {
		outcome.RetryCount = res.Stats.RetryCount
		outcome.StatusCode = res.Stats.StatusCode
		outcome.RetryAfterSeconds = res.Stats.RetryAfterSeconds
	}
	if err != nil {
		outcome.Degraded = true
		outcome.Err = err
		outcome.ErrMessage = err.Error()
		p.metrics.SearchesFailed.WithLabelValues(string(st)).Inc()
		p.logger.Warn().Err(err).Str("source", string(st)).Msg("provider search failed")
		return outcome
	}

	outcome.Records = res.Records
	p.metrics.SearchDuration.WithLabelValues(string(st)).Observe(outcome.Latency.Seconds())
	p.metrics.RecordsRetrieved.WithLabelValues(string(st)).Add(float64(len(res.Records)))
	return outcome
}

// expand widens the pool through the citation graph. The budget is re-checked
// before every batch; running out mid-way is not an error, the loop just stops
// and reports the run as degraded.
func (p *Pipeline) expand(ctx context.Context, start time.Time, req Request, outcomes []domain.ProviderCallOutcome, total int) ([]*domain.UnifiedRecord, bool) {
	if req.MaxCandidates <= 0 || total >= req.MaxCandidates {
		return nil, false
	}

	fetcher, fetcherSource, ok := p.registry.ReferenceFetcher()
	if !ok {
		return nil, false
	}

	var seedRecords []*domain.UnifiedRecord
	for _, oc := range outcomes {
		if oc.Provider == fetcherSource && !oc.Degraded {
			seedRecords = oc.Records
			break
		}
	}

	ids := p.seedIDs(seedRecords)
	if len(ids) == 0 {
		return nil, false
	}
	if p.remaining(start) < p.cfg.Expansion.MinBudget {
		return nil, true
	}

	var expanded []*domain.UnifiedRecord
	for len(ids) > 0 {
		if len(expanded) >= p.cfg.Expansion.MaxRecords || total+len(expanded) >= req.MaxCandidates {
			return expanded, false
		}
		if p.remaining(start) < p.cfg.Expansion.MinBudget || ctx.Err() != nil {
			return expanded, true
		}

		batch := ids
		if len(batch) > p.cfg.Expansion.BatchSize {
			batch = batch[:p.cfg.Expansion.BatchSize]
		}
		ids = ids[len(batch):]

		records, err := fetcher.FetchByIDs(ctx, batch, p.cfg.MinAbstractLength)
		if err != nil {
			p.logger.Warn().Err(err).Msg("citation expansion batch failed")
			return expanded, true
		}
		for _, rec := range records {
			if len(expanded) >= p.cfg.Expansion.MaxRecords {
				break
			}
			expanded = append(expanded, rec)
		}
	}
	return expanded, false
}

// seedIDs collects reference IDs from the top seeds, deduplicated and with
// already-retrieved records excluded.
func (p *Pipeline) seedIDs(seeds []*domain.UnifiedRecord) []string {
	present := make(map[string]struct{}, len(seeds))
	for _, rec := range seeds {
		if rec.SourceRecordID != "" {
			present[rec.SourceRecordID] = struct{}{}
		}
	}

	var ids []string
	seen := make(map[string]struct{})
	taken := 0
	for _, rec := range seeds {
		if taken >= p.cfg.Expansion.SeedCount {
			break
		}
		if len(rec.ReferencedIDs) == 0 {
			continue
		}
		taken++
		for _, id := range rec.ReferencedIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			if _, have := present[id]; have {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *Pipeline) remaining(start time.Time) time.Duration {
	return p.cfg.Budget - time.Since(start)
}
