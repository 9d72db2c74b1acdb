package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/scholium/corpus-service/internal/canonical"
	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/pipeline"
	"github.com/scholium/corpus-service/internal/query"
)

// Pagination and validation constants.
const (
	defaultPageSize    = 50
	maxPageSize        = 100
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

var validate = validator.New()

// prepareQueryRequest is the JSON request body for preparing a query.
type prepareQueryRequest struct {
	Query               string   `json:"query" validate:"required,min=3,max=10000"`
	Mode                string   `json:"mode,omitempty" validate:"omitempty,oneof=balanced broad"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty" validate:"omitempty,gt=0,lt=1"`
}

// searchRequest is the JSON request body for running a retrieval search.
type searchRequest struct {
	Query            string            `json:"query" validate:"required,min=3,max=10000"`
	MaxCandidates    int               `json:"max_candidates,omitempty" validate:"omitempty,min=1,max=500"`
	Mode             string            `json:"mode,omitempty" validate:"omitempty,oneof=balanced broad"`
	PerSourceQueries map[string]string `json:"per_source_queries,omitempty"`
}

// startRunRequest is the JSON request body for triggering a canonicalization run.
type startRunRequest struct {
	Mode string `json:"mode" validate:"required,oneof=full incremental"`
}

// prepareQuery handles POST /api/v1/queries/prepare.
func (s *Server) prepareQuery(w http.ResponseWriter, r *http.Request) {
	var req prepareQueryRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	prepared, err := s.preparer.Prepare(r.Context(), req.Query, query.Options{
		Mode:                query.Mode(req.Mode),
		ConfidenceThreshold: req.ConfidenceThreshold,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prepared)
}

// runSearch handles POST /api/v1/searches. It prepares the query, runs the
// retrieval pipeline, and returns the merged candidate pool. Provider failures
// surface as diagnostic fields in a 200 response, never as a 5xx.
func (s *Server) runSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// Validate source names before touching the processor.
	overrides := make(map[domain.SourceType]string, len(req.PerSourceQueries))
	for name, compiled := range req.PerSourceQueries {
		st := domain.SourceType(name)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported source: %s", name))
			return
		}
		if strings.TrimSpace(compiled) == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("per_source_queries.%s must not be empty", name))
			return
		}
		overrides[st] = compiled
	}

	prepared, err := s.preparer.Prepare(r.Context(), req.Query, query.Options{
		Mode: query.Mode(req.Mode),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	for st, compiled := range overrides {
		prepared.PerSourceQuery[st] = compiled
	}

	result, err := s.pipeline.Run(r.Context(), pipeline.Request{
		Prepared:      prepared,
		MaxCandidates: req.MaxCandidates,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, searchToResponse(prepared, result))
}

// listCanonical handles GET /api/v1/canonical.
func (s *Server) listCanonical(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePaginationParams(r)

	records, err := s.canonicals.ListActive(r.Context(), limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listCanonicalResponse{
		CanonicalRecords: records,
		Count:            len(records),
		Limit:            limit,
		Offset:           offset,
	})
}

// listDuplicates handles GET /api/v1/canonical/{canonicalID}/duplicates.
func (s *Server) listDuplicates(w http.ResponseWriter, r *http.Request) {
	canonicalID, ok := parseUUID(w, chi.URLParam(r, "canonicalID"), "canonical_id")
	if !ok {
		return
	}

	exists, err := s.canonicals.Exists(r.Context(), canonicalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "canonical record not found")
		return
	}

	links, err := s.canonicals.Duplicates(r.Context(), canonicalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, listDuplicatesResponse{
		CanonicalID: canonicalID.String(),
		Duplicates:  links,
		Count:       len(links),
	})
}

// startCanonicalizationRun handles POST /api/v1/canonicalization/runs.
// A run already holding the advisory lock yields 409. A quality gate failure
// is a completed-but-discarded run and returns 200 with the gate report.
func (s *Server) startCanonicalizationRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	runAt := time.Now().UTC()

	var summary *canonical.RunSummary
	var err error
	if req.Mode == canonical.ModeFull {
		summary, err = s.engine.RunFull(ctx, runAt)
	} else {
		summary, err = s.engine.RunIncremental(ctx, runAt, 0)
	}

	switch {
	case err == nil:
		if s.events != nil {
			s.events.RunCompleted(ctx, *summary)
		}
		writeJSON(w, http.StatusOK, runResponse{Summary: summary})
	case errors.Is(err, domain.ErrQualityGateFailed):
		if s.events != nil {
			s.events.RunFailed(ctx, *summary, err)
		}
		writeJSON(w, http.StatusOK, runResponse{Summary: summary, Error: err.Error()})
	default:
		if s.events != nil && summary != nil {
			s.events.RunFailed(ctx, *summary, err)
		}
		writeDomainError(w, err)
	}
}

// decodeAndValidate reads a bounded JSON body into dst and validates it,
// writing a 400 response on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("%s failed validation on '%s'", strings.ToLower(fe.Field()), fe.Tag()))
		} else {
			writeError(w, http.StatusBadRequest, "invalid request")
		}
		return false
	}
	return true
}

// writeDomainError maps domain errors to HTTP status codes. Internal error
// details are not leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrRunInProgress):
		writeError(w, http.StatusConflict, "canonicalization run already in progress")
	case errors.Is(err, domain.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, domain.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// parseUUID parses a UUID from a string, writing a 400 error response if
// invalid. The parse error details are not echoed back.
func parseUUID(w http.ResponseWriter, s, fieldName string) (uuid.UUID, bool) {
	id, err := uuid.Parse(s)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a valid UUID", fieldName))
		return uuid.Nil, false
	}
	return id, true
}

// parsePaginationParams extracts limit and offset from query parameters with
// default and maximum bounds.
func parsePaginationParams(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsed, err := strconv.Atoi(offsetStr); err == nil && parsed > 0 {
			offset = parsed
		}
	}
	return limit, offset
}
