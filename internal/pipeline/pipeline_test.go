package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/observability"
	"github.com/scholium/corpus-service/internal/providers"
)

type fakeSource struct {
	source domain.SourceType
	search func(ctx context.Context, params providers.SearchParams) (*providers.SearchResult, error)
	fetch  func(ctx context.Context, ids []string, minAbstract int) ([]*domain.UnifiedRecord, error)
}

func (f *fakeSource) Search(ctx context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
	return f.search(ctx, params)
}
func (f *fakeSource) SourceType() domain.SourceType { return f.source }
func (f *fakeSource) Name() string                  { return string(f.source) }
func (f *fakeSource) IsEnabled() bool               { return true }

type fakeFetcherSource struct {
	fakeSource
}

func (f *fakeFetcherSource) FetchByIDs(ctx context.Context, ids []string, minAbstract int) ([]*domain.UnifiedRecord, error) {
	return f.fetch(ctx, ids, minAbstract)
}

// concatMerger appends all lists without deduplication so tests can count
// exactly what reached the merge step.
type concatMerger struct{}

func (concatMerger) Merge(lists ...[]*domain.UnifiedRecord) []*domain.UnifiedRecord {
	var out []*domain.UnifiedRecord
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

func record(source domain.SourceType, id string) *domain.UnifiedRecord {
	return &domain.UnifiedRecord{
		Title:          "record " + id,
		SourceRecordID: id,
		Source:         source,
	}
}

func staticResult(records ...*domain.UnifiedRecord) func(context.Context, providers.SearchParams) (*providers.SearchResult, error) {
	return func(context.Context, providers.SearchParams) (*providers.SearchResult, error) {
		return &providers.SearchResult{Records: records, TotalResults: len(records)}, nil
	}
}

func newTestPipeline(t *testing.T, merger Merger, cfg Config, sources ...providers.Source) *Pipeline {
	t.Helper()
	registry := providers.NewRegistry()
	for _, s := range sources {
		require.NoError(t, registry.Register(s))
	}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	return New(registry, merger, metrics, zerolog.Nop(), cfg)
}

func prepared() *domain.PreparedQuery {
	return &domain.PreparedQuery{
		NormalizedQuery: "omega-3 chronic pain",
		PerSourceQuery: map[domain.SourceType]string{
			domain.SourcePubMed:          "omega-3[tiab] AND pain[tiab]",
			domain.SourceSemanticScholar: "omega-3 chronic pain",
		},
	}
}

func TestRunRequiresPreparedQuery(t *testing.T) {
	p := newTestPipeline(t, concatMerger{}, Config{}, &fakeSource{
		source: domain.SourcePubMed,
		search: staticResult(),
	})

	_, err := p.Run(t.Context(), Request{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRunWithoutProviders(t *testing.T) {
	p := newTestPipeline(t, concatMerger{}, Config{})

	_, err := p.Run(t.Context(), Request{Prepared: prepared()})
	require.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestRunSurvivesFailingProvider(t *testing.T) {
	ok := &fakeSource{
		source: domain.SourcePubMed,
		search: staticResult(record(domain.SourcePubMed, "pm1"), record(domain.SourcePubMed, "pm2")),
	}
	failing := &fakeSource{
		source: domain.SourceScopus,
		search: func(context.Context, providers.SearchParams) (*providers.SearchResult, error) {
			return &providers.SearchResult{Stats: providers.CallStats{StatusCode: 502, RetryCount: 2}},
				&domain.ExternalAPIError{Source: domain.SourceScopus, StatusCode: 502, Message: "bad gateway"}
		},
	}

	p := newTestPipeline(t, concatMerger{}, Config{}, ok, failing)

	result, err := p.Run(t.Context(), Request{Prepared: prepared()})
	require.NoError(t, err)

	assert.Len(t, result.Candidates, 2)
	assert.Equal(t, 2, result.Coverage.ProvidersQueried)
	assert.Equal(t, 1, result.Coverage.ProvidersFailed)
	assert.Equal(t, []string{"scopus"}, result.Coverage.FailedProviders)
	assert.True(t, result.Coverage.Degraded)

	// Outcomes come back in trust order with stats preserved on failure.
	require.Len(t, result.ProviderRuns, 2)
	assert.Equal(t, domain.SourcePubMed, result.ProviderRuns[0].Provider)
	failed := result.ProviderRuns[1]
	assert.Equal(t, domain.SourceScopus, failed.Provider)
	assert.True(t, failed.Degraded)
	assert.Equal(t, 502, failed.StatusCode)
	assert.Equal(t, 2, failed.RetryCount)
	assert.NotEmpty(t, failed.ErrMessage)
}

func TestRunUsesCompiledQueryPerSource(t *testing.T) {
	var got string
	src := &fakeSource{
		source: domain.SourcePubMed,
		search: func(_ context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
			got = params.Query
			return &providers.SearchResult{}, nil
		},
	}
	p := newTestPipeline(t, concatMerger{}, Config{}, src)

	_, err := p.Run(t.Context(), Request{Prepared: prepared()})
	require.NoError(t, err)
	assert.Equal(t, "omega-3[tiab] AND pain[tiab]", got)
}

func TestRunAppliesPerSourceOverrides(t *testing.T) {
	var gotMax, gotOffset int
	src := &fakeSource{
		source: domain.SourcePubMed,
		search: func(_ context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
			gotMax, gotOffset = params.MaxResults, params.Offset
			return &providers.SearchResult{}, nil
		},
	}
	p := newTestPipeline(t, concatMerger{}, Config{}, src)

	_, err := p.Run(t.Context(), Request{
		Prepared: prepared(),
		PerSource: map[domain.SourceType]SourceOverride{
			domain.SourcePubMed: {MaxResults: 5, Offset: 10},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, gotMax)
	assert.Equal(t, 10, gotOffset)
}

func TestExpansionAppendsReferencedRecords(t *testing.T) {
	seed := record(domain.SourceSemanticScholar, "seed1")
	seed.ReferencedIDs = []string{"r1", "r2", "r3", "seed1"}

	var batches [][]string
	fetcher := &fakeFetcherSource{fakeSource{
		source: domain.SourceSemanticScholar,
		search: staticResult(seed),
		fetch: func(_ context.Context, ids []string, _ int) ([]*domain.UnifiedRecord, error) {
			batches = append(batches, ids)
			out := make([]*domain.UnifiedRecord, 0, len(ids))
			for _, id := range ids {
				out = append(out, record(domain.SourceSemanticScholar, id))
			}
			return out, nil
		},
	}}

	cfg := Config{Expansion: ExpansionConfig{SeedCount: 3, BatchSize: 2, MaxRecords: 25, MinBudget: time.Millisecond}}
	p := newTestPipeline(t, concatMerger{}, cfg, fetcher)

	result, err := p.Run(t.Context(), Request{Prepared: prepared(), MaxCandidates: 50})
	require.NoError(t, err)

	// seed1 is already retrieved, so only r1..r3 are hydrated, in two batches.
	assert.Equal(t, [][]string{{"r1", "r2"}, {"r3"}}, batches)
	assert.Equal(t, 3, result.ExpandedCount)
	assert.Len(t, result.Candidates, 4)
	assert.False(t, result.Coverage.Degraded)
}

func TestExpansionSkippedWhenPoolFull(t *testing.T) {
	seed := record(domain.SourceSemanticScholar, "seed1")
	seed.ReferencedIDs = []string{"r1"}

	fetcher := &fakeFetcherSource{fakeSource{
		source: domain.SourceSemanticScholar,
		search: staticResult(seed),
		fetch: func(context.Context, []string, int) ([]*domain.UnifiedRecord, error) {
			return nil, errors.New("must not be called")
		},
	}}
	p := newTestPipeline(t, concatMerger{}, Config{}, fetcher)

	result, err := p.Run(t.Context(), Request{Prepared: prepared(), MaxCandidates: 1})
	require.NoError(t, err)
	assert.Zero(t, result.ExpandedCount)
}

func TestExpansionFailureDegradesRun(t *testing.T) {
	seed := record(domain.SourceSemanticScholar, "seed1")
	seed.ReferencedIDs = []string{"r1", "r2"}

	fetcher := &fakeFetcherSource{fakeSource{
		source: domain.SourceSemanticScholar,
		search: staticResult(seed),
		fetch: func(context.Context, []string, int) ([]*domain.UnifiedRecord, error) {
			return nil, &domain.ExternalAPIError{Source: domain.SourceSemanticScholar, StatusCode: 500}
		},
	}}
	p := newTestPipeline(t, concatMerger{}, Config{}, fetcher)

	result, err := p.Run(t.Context(), Request{Prepared: prepared(), MaxCandidates: 50})
	require.NoError(t, err)
	assert.Zero(t, result.ExpandedCount)
	assert.True(t, result.Coverage.Degraded)
	assert.Len(t, result.Candidates, 1)
}

func TestExpansionCapsRecords(t *testing.T) {
	seed := record(domain.SourceSemanticScholar, "seed1")
	for i := 0; i < 40; i++ {
		seed.ReferencedIDs = append(seed.ReferencedIDs, fmt.Sprintf("r%d", i))
	}

	fetcher := &fakeFetcherSource{fakeSource{
		source: domain.SourceSemanticScholar,
		search: staticResult(seed),
		fetch: func(_ context.Context, ids []string, _ int) ([]*domain.UnifiedRecord, error) {
			out := make([]*domain.UnifiedRecord, 0, len(ids))
			for _, id := range ids {
				out = append(out, record(domain.SourceSemanticScholar, id))
			}
			return out, nil
		},
	}}

	cfg := Config{Expansion: ExpansionConfig{SeedCount: 3, BatchSize: 10, MaxRecords: 25, MinBudget: time.Millisecond}}
	p := newTestPipeline(t, concatMerger{}, cfg, fetcher)

	result, err := p.Run(t.Context(), Request{Prepared: prepared(), MaxCandidates: 500})
	require.NoError(t, err)
	assert.Equal(t, 25, result.ExpandedCount)
}
