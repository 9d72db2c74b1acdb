package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholium/corpus-service/internal/domain"
)

type stubSource struct {
	source  domain.SourceType
	enabled bool
}

func (s *stubSource) Search(context.Context, SearchParams) (*SearchResult, error) {
	return &SearchResult{}, nil
}
func (s *stubSource) SourceType() domain.SourceType { return s.source }
func (s *stubSource) Name() string                  { return string(s.source) }
func (s *stubSource) IsEnabled() bool               { return s.enabled }

type stubFetcherSource struct {
	stubSource
}

func (s *stubFetcherSource) FetchByIDs(context.Context, []string, int) ([]*domain.UnifiedRecord, error) {
	return nil, nil
}

func TestRegistryRejectsDuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubSource{source: domain.SourcePubMed, enabled: true}))

	err := r.Register(&stubSource{source: domain.SourcePubMed, enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryEnabledReturnsTrustOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubSource{source: domain.SourceScopus, enabled: true}))
	require.NoError(t, r.Register(&stubSource{source: domain.SourcePubMed, enabled: true}))
	require.NoError(t, r.Register(&stubSource{source: domain.SourceOpenAlex, enabled: false}))
	require.NoError(t, r.Register(&stubSource{source: domain.SourceSemanticScholar, enabled: true}))

	enabled := r.Enabled()
	require.Len(t, enabled, 3)

	got := make([]domain.SourceType, 0, len(enabled))
	for _, s := range enabled {
		got = append(got, s.SourceType())
	}
	assert.Equal(t, []domain.SourceType{
		domain.SourcePubMed,
		domain.SourceSemanticScholar,
		domain.SourceScopus,
	}, got)
}

func TestRegistryReferenceFetcher(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&stubSource{source: domain.SourcePubMed, enabled: true}))

	_, _, ok := r.ReferenceFetcher()
	assert.False(t, ok)

	require.NoError(t, r.Register(&stubFetcherSource{
		stubSource: stubSource{source: domain.SourceSemanticScholar, enabled: true},
	}))

	f, st, ok := r.ReferenceFetcher()
	require.True(t, ok)
	assert.NotNil(t, f)
	assert.Equal(t, domain.SourceSemanticScholar, st)
}
