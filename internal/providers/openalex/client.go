// Package openalex adapts the OpenAlex works API. OpenAlex ships abstracts
// as an inverted index, so this adapter also owns reconstructing plain text
// from it.
package openalex

import (
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
	defaultBaseURL  = "https://api.openalex.org"
	defaultPageSize = 25
	maxBodyBytes    = 10 << 20
)

// Config holds the OpenAlex adapter settings. Mailto joins the polite pool,
// which gets a higher rate limit.
type Config struct {
	BaseURL  string
	Mailto   string
	PageSize int
	Enabled  bool
}

// Client implements providers.Source for OpenAlex.
type Client struct {
	cfg     Config
	http    *providers.HTTPClient
	limiter *providers.Limiter
	logger  zerolog.Logger
}

var _ providers.Source = (*Client)(nil)

// NewClient creates an OpenAlex adapter.
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
		logger:  logger.With().Str("provider", "openalex").Logger(),
	}
}

func (c *Client) SourceType() domain.SourceType { return domain.SourceOpenAlex }
func (c *Client) Name() string                  { return "OpenAlex" }
func (c *Client) IsEnabled() bool               { return c.cfg.Enabled }

// Search runs one works search. OpenAlex pages are 1-based, so the offset is
// translated to a page number.
func (c *Client) Search(ctx context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	perPage := params.MaxResults
	if perPage <= 0 {
		perPage = c.cfg.PageSize
	}
	page := params.Offset/perPage + 1

	q := url.Values{}
	q.Set("search", params.Query)
	q.Set("per-page", strconv.Itoa(perPage))
	q.Set("page", strconv.Itoa(page))
	if c.cfg.Mailto != "" {
		q.Set("mailto", c.cfg.Mailto)
	}
	reqURL := c.cfg.BaseURL + "/works?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}

	resp, stats, err := c.http.Do(req)
	if err != nil {
		return &providers.SearchResult{Stats: stats}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &providers.SearchResult{Stats: stats}, &domain.ExternalAPIError{
			Source:     domain.SourceOpenAlex,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	var body listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return &providers.SearchResult{Stats: stats}, &domain.ExternalAPIError{
			Source:  domain.SourceOpenAlex,
			Message: "decoding search response",
			Cause:   err,
		}
	}

	records := make([]*domain.UnifiedRecord, 0, len(body.Results))
	for i, w := range body.Results {
		rec := workToRecord(w, i)
		if rec.Usable(params.MinAbstractLength) {
			records = append(records, rec)
		}
	}

	c.logger.Debug().
		Int("total", body.Meta.Count).
		Int("usable", len(records)).
		Msg("search completed")

	return &providers.SearchResult{
		Records:      records,
		TotalResults: body.Meta.Count,
		Stats:        stats,
	}, nil
}

func workToRecord(w work, position int) *domain.UnifiedRecord {
	authors := make([]domain.Author, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, domain.Author{Name: a.Author.DisplayName})
		}
	}

	venue := ""
	if w.PrimaryLocation != nil && w.PrimaryLocation.Source != nil {
		venue = w.PrimaryLocation.Source.DisplayName
	}

	return &domain.UnifiedRecord{
		Title:          strings.TrimSpace(w.Title),
		Year:           w.PublicationYear,
		Abstract:       reconstructAbstract(w.AbstractInvertedIndex),
		Authors:        authors,
		Venue:          venue,
		DOI:            domain.NormalizeDOI(w.DOI),
		PubMedID:       pmidFromURL(w.IDs.PMID),
		SourceRecordID: workIDFromURL(w.ID),
		Source:         domain.SourceOpenAlex,
		CitationCount:  w.CitedByCount,
		PDFURL:         w.OpenAccess.OAURL,
		IsRetracted:    w.IsRetracted,
		RankSignal:     1.0 / float64(position+1),
	}
}

// reconstructAbstract rebuilds the abstract text from OpenAlex's inverted
// index, which maps each word to the positions it occupies.
func reconstructAbstract(index map[string][]int) string {
	if len(index) == 0 {
		return ""
	}
	maxPos := -1
	for _, positions := range index {
		for _, p := range positions {
			if p > maxPos {
				maxPos = p
			}
		}
	}
	if maxPos < 0 {
		return ""
	}
	words := make([]string, maxPos+1)
	for word, positions := range index {
		for _, p := range positions {
			if p >= 0 && p < len(words) {
				words[p] = word
			}
		}
	}
	// Drop gaps left by malformed indices.
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

// workIDFromURL strips the https://openalex.org/ prefix from entity IDs.
func workIDFromURL(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func pmidFromURL(pmid string) string {
	return workIDFromURL(pmid)
}
