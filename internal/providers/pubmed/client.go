// Package pubmed adapts the NCBI E-utilities API. One logical search is two
// HTTP calls: esearch resolves the query to PMIDs and efetch hydrates them
// into full citations, both counted as a single provider invocation against
// the rate budget.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
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
	defaultBaseURL  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultPageSize = 25
	maxBodyBytes    = 10 << 20
)

// Config holds the PubMed adapter settings. An API key raises the NCBI rate
// limit from 3 to 10 requests per second.
type Config struct {
	BaseURL  string
	APIKey   string
	PageSize int
	Enabled  bool
}

// Client implements providers.Source for PubMed.
type Client struct {
	cfg     Config
	http    *providers.HTTPClient
	limiter *providers.Limiter
	logger  zerolog.Logger
}

var _ providers.Source = (*Client)(nil)

// NewClient creates a PubMed adapter.
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
		logger:  logger.With().Str("provider", "pubmed").Logger(),
	}
}

func (c *Client) SourceType() domain.SourceType { return domain.SourcePubMed }
func (c *Client) Name() string                  { return "PubMed" }
func (c *Client) IsEnabled() bool               { return c.cfg.Enabled }

// Search resolves the query via esearch and hydrates the resulting PMIDs via
// efetch.
func (c *Client) Search(ctx context.Context, params providers.SearchParams) (*providers.SearchResult, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	limit := params.MaxResults
	if limit <= 0 {
		limit = c.cfg.PageSize
	}

	ids, total, searchStats, err := c.esearch(ctx, params.Query, limit, params.Offset)
	if err != nil {
		return &providers.SearchResult{Stats: searchStats}, err
	}
	if len(ids) == 0 {
		return &providers.SearchResult{TotalResults: total, Stats: searchStats}, nil
	}

	articles, fetchStats, err := c.efetch(ctx, ids)
	stats := mergeStats(searchStats, fetchStats)
	if err != nil {
		return &providers.SearchResult{Stats: stats}, err
	}

	records := make([]*domain.UnifiedRecord, 0, len(articles))
	for i, a := range articles {
		rec := articleToRecord(a, i)
		if rec.Usable(params.MinAbstractLength) {
			records = append(records, rec)
		}
	}

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

func (c *Client) esearch(ctx context.Context, query string, limit, offset int) ([]string, int, providers.CallStats, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", query)
	q.Set("retmax", strconv.Itoa(limit))
	q.Set("retstart", strconv.Itoa(offset))
	q.Set("retmode", "json")
	c.setKey(q)
	reqURL := c.cfg.BaseURL + "/esearch.fcgi?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, providers.CallStats{}, fmt.Errorf("building esearch request: %w", err)
	}

	resp, stats, err := c.http.Do(req)
	if err != nil {
		return nil, 0, stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, stats, c.apiError(resp)
	}

	var body esearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, 0, stats, &domain.ExternalAPIError{
			Source:  domain.SourcePubMed,
			Message: "decoding esearch response",
			Cause:   err,
		}
	}
	total, _ := strconv.Atoi(body.ESearchResult.Count)
	return body.ESearchResult.IDList, total, stats, nil
}

func (c *Client) efetch(ctx context.Context, ids []string) ([]pubmedArticle, providers.CallStats, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("retmode", "xml")
	c.setKey(q)
	reqURL := c.cfg.BaseURL + "/efetch.fcgi?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, providers.CallStats{}, fmt.Errorf("building efetch request: %w", err)
	}

	resp, stats, err := c.http.Do(req)
	if err != nil {
		return nil, stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, stats, c.apiError(resp)
	}

	var set articleSet
	if err := xml.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&set); err != nil {
		return nil, stats, &domain.ExternalAPIError{
			Source:  domain.SourcePubMed,
			Message: "decoding efetch response",
			Cause:   err,
		}
	}
	return set.Articles, stats, nil
}

func (c *Client) setKey(q url.Values) {
	if c.cfg.APIKey != "" {
		q.Set("api_key", c.cfg.APIKey)
	}
}

func (c *Client) apiError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &domain.ExternalAPIError{
		Source:     domain.SourcePubMed,
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(snippet)),
	}
}

func mergeStats(a, b providers.CallStats) providers.CallStats {
	return providers.CallStats{
		Latency:           a.Latency + b.Latency,
		RetryCount:        a.RetryCount + b.RetryCount,
		StatusCode:        b.StatusCode,
		RetryAfterSeconds: maxInt(a.RetryAfterSeconds, b.RetryAfterSeconds),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func articleToRecord(a pubmedArticle, position int) *domain.UnifiedRecord {
	art := a.MedlineCitation.Article

	authors := make([]domain.Author, 0, len(art.AuthorList.Authors))
	for _, au := range art.AuthorList.Authors {
		if name := au.displayName(); name != "" {
			authors = append(authors, domain.Author{Name: name})
		}
	}

	doi := ""
	for _, id := range a.PubmedData.ArticleIDs {
		if strings.EqualFold(id.IDType, "doi") {
			doi = domain.NormalizeDOI(strings.TrimSpace(id.Value))
			break
		}
	}

	return &domain.UnifiedRecord{
		Title:          strings.TrimSpace(art.Title),
		Year:           parseYear(art.Journal.JournalIssue.PubDate),
		Abstract:       art.Abstract.text(),
		Authors:        authors,
		Venue:          art.Journal.Title,
		DOI:            doi,
		PubMedID:       a.MedlineCitation.PMID,
		SourceRecordID: a.MedlineCitation.PMID,
		Source:         domain.SourcePubMed,
		IsRetracted:    isRetracted(art.PublicationTypes),
		RankSignal:     1.0 / float64(position+1),
	}
}

// parseYear handles both structured PubDate years and freeform MedlineDate
// values such as "2019 Jan-Feb".
func parseYear(pd pubDate) int {
	if y, err := strconv.Atoi(strings.TrimSpace(pd.Year)); err == nil {
		return y
	}
	fields := strings.Fields(pd.MedlineDate)
	if len(fields) > 0 {
		if y, err := strconv.Atoi(fields[0]); err == nil {
			return y
		}
	}
	return 0
}

func isRetracted(pubTypes []string) bool {
	for _, t := range pubTypes {
		if strings.EqualFold(t, "Retracted Publication") {
			return true
		}
	}
	return false
}
