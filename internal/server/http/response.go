package httpserver

import (
	"github.com/scholium/corpus-service/internal/canonical"
	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/pipeline"
	"github.com/scholium/corpus-service/internal/repository"
)

// providerRunResponse summarizes one provider call within a search.
type providerRunResponse struct {
	Provider          string `json:"provider"`
	RecordCount       int    `json:"record_count"`
	LatencyMS         int64  `json:"latency_ms"`
	Degraded          bool   `json:"degraded"`
	Error             string `json:"error,omitempty"`
	RetryCount        int    `json:"retry_count"`
	StatusCode        int    `json:"status_code,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

type searchResponse struct {
	PreparedQuery *domain.PreparedQuery   `json:"prepared_query"`
	Providers     []providerRunResponse   `json:"providers"`
	Candidates    []*domain.UnifiedRecord `json:"candidates"`
	ExpandedCount int                     `json:"expanded_count"`
	Coverage      pipeline.Coverage       `json:"coverage"`
	ElapsedMS     int64                   `json:"elapsed_ms"`
}

type listCanonicalResponse struct {
	CanonicalRecords []repository.CanonicalSummary `json:"canonical_records"`
	Count            int                           `json:"count"`
	Limit            int                           `json:"limit"`
	Offset           int                           `json:"offset"`
}

type listDuplicatesResponse struct {
	CanonicalID string                 `json:"canonical_id"`
	Duplicates  []domain.DuplicateLink `json:"duplicates"`
	Count       int                    `json:"count"`
}

type runResponse struct {
	Summary *canonical.RunSummary `json:"summary"`
	Error   string                `json:"error,omitempty"`
}

func searchToResponse(prepared *domain.PreparedQuery, result *pipeline.Result) searchResponse {
	providers := make([]providerRunResponse, len(result.ProviderRuns))
	for i, run := range result.ProviderRuns {
		providers[i] = providerRunResponse{
			Provider:          string(run.Provider),
			RecordCount:       len(run.Records),
			LatencyMS:         run.Latency.Milliseconds(),
			Degraded:          run.Degraded,
			Error:             run.ErrMessage,
			RetryCount:        run.RetryCount,
			StatusCode:        run.StatusCode,
			RetryAfterSeconds: run.RetryAfterSeconds,
		}
	}

	candidates := result.Candidates
	if candidates == nil {
		candidates = []*domain.UnifiedRecord{}
	}

	return searchResponse{
		PreparedQuery: prepared,
		Providers:     providers,
		Candidates:    candidates,
		ExpandedCount: result.ExpandedCount,
		Coverage:      result.Coverage,
		ElapsedMS:     result.Elapsed.Milliseconds(),
	}
}
