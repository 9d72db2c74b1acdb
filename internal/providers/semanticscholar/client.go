// Package semanticscholar adapts the Semantic Scholar Graph API. It is the
// only adapter that exposes the citation graph, so it also serves the
// pipeline's reference-expansion fetches.
package semanticscholar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/providers"
)

const (
	defaultBaseURL  = "https://api.semanticscholar.org/graph/v1"
	defaultPageSize = 25
	maxBodyBytes    = 10 << 20

	searchFields = "title,abstract,year,venue,authors,externalIds,citationCount,openAccessPdf,references.paperId,publicationTypes"
	batchFields  = "title,abstract,year,venue,authors,externalIds,citationCount,openAccessPdf,publicationTypes"
)

// Config holds the Semantic Scholar adapter settings.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Enabled  bool
}

// Client implements providers.Source and providers.ReferenceFetcher.
type Client struct {
	cfg     Config
	http    *providers.HTTPClient
	limiter *providers.Limiter
	logger  zerolog.Logger
}

var (
	_ providers.Source           = (*Client)(nil)
	_ providers.ReferenceFetcher = (*Client)(nil)
)

// NewClient creates a Semantic Scholar adapter.
func NewClient(cfg Config, httpClient *providers.HTTPClient, limiter *providers.Limiter, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.With().Str("provider", "semantic_scholar").Logger(),
	}
}

func (c *Client) SourceType() domain.SourceType { return domain.SourceSemanticScholar }
func (c *Client) Name() string                  { return "Semantic Scholar" }
func (c *Client) IsEnabled() bool               { return c.cfg.Enabled }

// Search runs one paper search call against the Graph API.
func (c *Client) Search(ctx context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	limit := params.MaxResults
	if limit <= 0 {
		limit = c.cfg.PageSize
	}

	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(params.Offset))
	q.Set("fields", searchFields)
	reqURL := c.cfg.BaseURL + "/paper/search?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	c.setAuth(req)

	resp, stats, err := c.http.Do(req)
	if err != nil {
		return &providers.SearchResult{Stats: stats}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &providers.SearchResult{Stats: stats}, c.apiError(resp)
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return &providers.SearchResult{Stats: stats}, &domain.ExternalAPIError{
			Source:  domain.SourceSemanticScholar,
			Message: "decoding search response",
			Cause:   err,
		}
	}

	records := make([]*domain.UnifiedRecord, 0, len(body.Data))
	for i, p := range body.Data {
		rec := paperToRecord(p, i)
		if rec.Usable(params.MinAbstractLength) {
			records = append(records, rec)
		}
	}

	c.logger.Debug().
		Int("total", body.Total).
		Int("usable", len(records)).
		Msg("search completed")

	return &providers.SearchResult{
		Records:      records,
		TotalResults: body.Total,
		Stats:        stats,
	}, nil
}

// FetchByIDs retrieves up to 500 papers in one batch call. It is used for
// citation-graph expansion, where the pipeline holds Semantic Scholar paper
// IDs harvested from reference lists.
func (c *Client) FetchByIDs(ctx context.Context, ids []string, minAbstractLength int) ([]*domain.UnifiedRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(batchRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("encoding batch request: %w", err)
	}

	reqURL := c.cfg.BaseURL + "/paper/batch?fields=" + url.QueryEscape(batchFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	c.setAuth(req)

	resp, _, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	// The batch endpoint returns nulls for unresolvable IDs.
	var papers []*paper
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&papers); err != nil {
		return nil, &domain.ExternalAPIError{
			Source:  domain.SourceSemanticScholar,
			Message: "decoding batch response",
			Cause:   err,
		}
	}

	records := make([]*domain.UnifiedRecord, 0, len(papers))
	for i, p := range papers {
		if p == nil {
			continue
		}
		rec := paperToRecord(*p, i)
		if rec.Usable(minAbstractLength) {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("x-api-key", c.cfg.APIKey)
	}
}

func (c *Client) apiError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &domain.ExternalAPIError{
		Source:     domain.SourceSemanticScholar,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(snippet)),
	}
}

func paperToRecord(p paper, position int) *domain.UnifiedRecord {
	authors := make([]domain.Author, 0, len(p.Authors))
	for _, a := range p.Authors {
		if a.Name != "" {
			authors = append(authors, domain.Author{Name: a.Name})
		}
	}

	referenced := make([]string, 0, len(p.References))
	for _, ref := range p.References {
		if ref.PaperID != "" {
			referenced = append(referenced, ref.PaperID)
		}
	}

	rec := &domain.UnifiedRecord{
		Title:          strings.TrimSpace(p.Title),
		Year:           p.Year,
		Abstract:       strings.TrimSpace(p.Abstract),
		Authors:        authors,
		Venue:          p.Venue,
		DOI:            domain.NormalizeDOI(p.ExternalIDs.DOI),
		PubMedID:       p.ExternalIDs.PubMed,
		SourceRecordID: p.PaperID,
		Source:         domain.SourceSemanticScholar,
		CitationCount:  p.CitationCount,
		ReferencedIDs:  referenced,
		IsRetracted:    isRetracted(p.PubTypes),
		RankSignal:     1.0 / float64(position+1),
	}
	if p.OpenAccessPDF != nil {
		rec.PDFURL = p.OpenAccessPDF.URL
	}
	return rec
}

func isRetracted(pubTypes []string) bool {
	for _, t := range pubTypes {
		if strings.EqualFold(t, "Retraction") || strings.EqualFold(t, "Retracted") {
			return true
		}
	}
	return false
}
