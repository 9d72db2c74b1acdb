package semanticscholar

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/providers"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	httpClient := providers.NewHTTPClient(domain.SourceSemanticScholar, providers.HTTPClientConfig{
		Timeout:        2 * time.Second,
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	})
	limiter := providers.NewLimiter(domain.SourceSemanticScholar, 1000, 10, time.Second)
	client := NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Enabled: true,
	}, httpClient, limiter, zerolog.Nop())
	return client, srv
}

const longAbstract = "Omega-3 fatty acid supplementation was associated with a modest reduction in chronic pain intensity across twelve randomized controlled trials, with heterogeneity driven largely by dose and trial duration. Secondary outcomes included inflammatory markers."

func TestSearchMapsRecords(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/paper/search", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "omega-3 chronic pain", r.URL.Query().Get("query"))

		resp := map[string]any{
			"total": 2,
			"data": []map[string]any{
				{
					"paperId":       "abc123",
					"title":         "Omega-3 and chronic pain",
					"abstract":      longAbstract,
					"year":          2021,
					"venue":         "Pain",
					"citationCount": 42,
					"externalIds":   map[string]string{"DOI": "https://doi.org/10.1000/XYZ.1", "PubMed": "12345"},
					"authors":       []map[string]string{{"name": "Jane Smith"}, {"name": "Wei Chen"}},
					"openAccessPdf": map[string]string{"url": "https://example.org/p.pdf"},
					"references":    []map[string]string{{"paperId": "ref1"}, {"paperId": ""}, {"paperId": "ref2"}},
				},
				{
					"paperId":  "short",
					"title":    "Too short",
					"abstract": "tiny",
					"year":     2020,
				},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))

	result, err := client.Search(t.Context(), providers.SearchParams{
		Query:             "omega-3 chronic pain",
		MinAbstractLength: 100,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalResults)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, "Omega-3 and chronic pain", rec.Title)
	assert.Equal(t, "10.1000/xyz.1", rec.DOI)
	assert.Equal(t, "12345", rec.PubMedID)
	assert.Equal(t, "abc123", rec.SourceRecordID)
	assert.Equal(t, domain.SourceSemanticScholar, rec.Source)
	assert.Equal(t, 42, rec.CitationCount)
	assert.Equal(t, []string{"ref1", "ref2"}, rec.ReferencedIDs)
	assert.Equal(t, "https://example.org/p.pdf", rec.PDFURL)
	assert.InDelta(t, 1.0, rec.RankSignal, 1e-9)
}

func TestSearchAPIError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad query", http.StatusBadRequest)
	}))

	result, err := client.Search(t.Context(), providers.SearchParams{Query: "x"})
	require.Error(t, err)

	var apiErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, http.StatusBadRequest, result.Stats.StatusCode)
}

func TestFetchByIDsSkipsNulls(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/paper/batch", r.URL.Path)

		var req struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"a", "b"}, req.IDs)

		_, err := w.Write([]byte(`[
			{"paperId":"a","title":"Resolved paper","abstract":"` + longAbstract + `","year":2019},
			null
		]`))
		require.NoError(t, err)
	}))

	records, err := client.FetchByIDs(t.Context(), []string{"a", "b"}, 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].SourceRecordID)
}

func TestFetchByIDsEmptyInputIsNoop(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))

	records, err := client.FetchByIDs(t.Context(), nil, 100)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRetractionDetection(t *testing.T) {
	assert.True(t, isRetracted([]string{"JournalArticle", "Retraction"}))
	assert.False(t, isRetracted([]string{"JournalArticle", "Review"}))
}

func TestSearchMalformedBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))

	_, err := client.Search(t.Context(), providers.SearchParams{Query: "x"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "decoding"))
}
