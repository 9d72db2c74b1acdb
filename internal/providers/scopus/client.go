// Package scopus adapts the Elsevier Scopus Search API.
package scopus

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
	defaultBaseURL  = "https://api.elsevier.com/content/search/scopus"
	defaultPageSize = 25
	maxBodyBytes    = 10 << 20
)

// Config holds the Scopus adapter settings. An API key is mandatory; without
// one the adapter reports itself disabled regardless of the Enabled flag.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Enabled  bool
}

// Client implements providers.Source for Scopus.
type Client struct {
	cfg     Config
	http    *providers.HTTPClient
	limiter *providers.Limiter
	logger  zerolog.Logger
}

var _ providers.Source = (*Client)(nil)

// NewClient creates a Scopus adapter.
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
		logger:  logger.With().Str("provider", "scopus").Logger(),
	}
}

func (c *Client) SourceType() domain.SourceType { return domain.SourceScopus }
func (c *Client) Name() string                  { return "Scopus" }

func (c *Client) IsEnabled() bool {
	return c.cfg.Enabled && c.cfg.APIKey != ""
}

// Search runs one Scopus search call.
func (c *Client) Search(ctx context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	count := params.MaxResults
	if count <= 0 {
		count = c.cfg.PageSize
	}

	q := url.Values{}
	q.Set("query", params.Query)
	q.Set("count", strconv.Itoa(count))
	q.Set("start", strconv.Itoa(params.Offset))
	reqURL := c.cfg.BaseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("X-ELS-APIKey", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, stats, err := c.http.Do(req)
	if err != nil {
		return &providers.SearchResult{Stats: stats}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &providers.SearchResult{Stats: stats}, &domain.ExternalAPIError{
			Source:     domain.SourceScopus,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	var body searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return &providers.SearchResult{Stats: stats}, &domain.ExternalAPIError{
			Source:  domain.SourceScopus,
			Message: "decoding search response",
			Cause:   err,
		}
	}

	records := make([]*domain.UnifiedRecord, 0, len(body.Results.Entries))
	for i, e := range body.Results.Entries {
		// Scopus signals an empty result set with a sentinel entry.
		if e.Error != "" {
			continue
		}
		rec := entryToRecord(e, i)
		if rec.Usable(params.MinAbstractLength) {
			records = append(records, rec)
		}
	}

	total, _ := strconv.Atoi(body.Results.TotalResults)

	c.logger.Debug().
		Int("total", total).
		Int("usable", len(records)).
		Msg("search completed")

	return &providers.SearchResult{
		Records:      records,
		TotalResults: total,
		Stats:        stats,
	}, nil
}

func entryToRecord(e entry, position int) *domain.UnifiedRecord {
	authors := make([]domain.Author, 0, len(e.Authors))
	for _, a := range e.Authors {
		if a.AuthName != "" {
			authors = append(authors, domain.Author{Name: a.AuthName})
		}
	}
	if len(authors) == 0 && e.Creator != "" {
		authors = append(authors, domain.Author{Name: e.Creator})
	}

	citations, _ := strconv.Atoi(e.CitedByCount)

	return &domain.UnifiedRecord{
		Title:          strings.TrimSpace(e.Title),
		Year:           yearFromCoverDate(e.CoverDate),
		Abstract:       strings.TrimSpace(e.Description),
		Authors:        authors,
		Venue:          e.PublicationName,
		DOI:            domain.NormalizeDOI(e.DOI),
		PubMedID:       e.PubMedID,
		SourceRecordID: strings.TrimPrefix(e.Identifier, "SCOPUS_ID:"),
		Source:         domain.SourceScopus,
		CitationCount:  citations,
		RankSignal:     1.0 / float64(position+1),
	}
}

// yearFromCoverDate extracts the year from a prism:coverDate ("2021-03-15").
func yearFromCoverDate(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}
