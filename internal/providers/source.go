// Package providers defines the adapter abstractions for the external
// literature APIs this service aggregates.
//
// Each provider (Semantic Scholar, OpenAlex, PubMed, Scopus) implements the
// Source interface, letting the retrieval pipeline fan out over all of them
// with a unified record shape. Adapters own their provider's query syntax,
// pagination, and field selection; the pipeline owns concurrency, budgets,
// and degrade-not-fail semantics.
package providers

import (
	"context"
	"time"

	"github.com/scholium/corpus-service/internal/domain"
)

// SearchParams defines the parameters for one provider search call.
type SearchParams struct {
	// Query is the compiled, provider-specific query string (required).
	Query string

	// MaxResults limits the number of records returned. A value of 0 uses
	// the adapter's configured page size.
	MaxResults int

	// Offset specifies the starting position for paginated results.
	Offset int

	// MinAbstractLength drops records whose abstract is shorter, in runes.
	// Records without a title are always dropped.
	MinAbstractLength int
}

// CallStats carries the HTTP-level facts of one adapter invocation; the
// pipeline folds them into the per-provider call outcome.
type CallStats struct {
	Latency           time.Duration
	RetryCount        int
	StatusCode        int
	RetryAfterSeconds int
}

// SearchResult contains the outcome of one provider search call.
type SearchResult struct {
	// Records are the usable records, in source rank order.
	Records []*domain.UnifiedRecord

	// TotalResults is the source-reported total match count, which may be an
	// estimate.
	TotalResults int

	// Stats carries HTTP-level call facts.
	Stats CallStats
}

// Source is the interface every provider adapter implements.
//
// Search executes exactly one outbound query (PubMed's two-step
// esearch/efetch counts as one invocation) and returns at most one page of
// unified records. Implementations must acquire a rate-limit token before
// calling out, respect context cancellation, and wrap failures in
// domain.ExternalAPIError or domain.RateLimitError. On error the returned
// result may still carry CallStats for diagnostics.
type Source interface {
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the provider identifier used for attribution,
	// deduplication, and routing.
	SourceType() domain.SourceType

	// Name returns a human-readable provider name for logging and metrics.
	Name() string

	// IsEnabled reports whether the provider participates in retrieval.
	IsEnabled() bool
}

// ReferenceFetcher is implemented by the provider whose citation graph backs
// the pipeline's secondary expansion.
type ReferenceFetcher interface {
	// FetchByIDs retrieves records by source-local identifier in one batch
	// call, filtered by the same usability rule as Search.
	FetchByIDs(ctx context.Context, ids []string, minAbstractLength int) ([]*domain.UnifiedRecord, error)
}
