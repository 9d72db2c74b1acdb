package pubmed

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholium/corpus-service/internal/domain"
	"github.com/scholium/corpus-service/internal/providers"
)

const efetchBody = `<?xml version="1.0"?>
<PubmedArticleSet>
  <PubmedArticle>
    <MedlineCitation>
      <PMID>31111111</PMID>
      <Article>
        <ArticleTitle>Omega-3 fatty acids for chronic pain management</ArticleTitle>
        <Abstract>
          <AbstractText Label="BACKGROUND">Chronic pain affects a substantial share of the adult population worldwide.</AbstractText>
          <AbstractText Label="RESULTS">Supplementation reduced reported pain intensity across the pooled trials with moderate certainty of evidence.</AbstractText>
        </Abstract>
        <Journal>
          <Title>The Journal of Pain</Title>
          <JournalIssue><PubDate><Year>2021</Year></PubDate></JournalIssue>
        </Journal>
        <AuthorList>
          <Author><LastName>Smith</LastName><ForeName>Jane</ForeName></Author>
          <Author><CollectiveName>Pain Research Consortium</CollectiveName></Author>
        </AuthorList>
        <PublicationTypeList>
          <PublicationType>Journal Article</PublicationType>
        </PublicationTypeList>
      </Article>
    </MedlineCitation>
    <PubmedData>
      <ArticleIdList>
        <ArticleId IdType="pubmed">31111111</ArticleId>
        <ArticleId IdType="doi">10.1016/J.JPAIN.2021.01.001</ArticleId>
      </ArticleIdList>
    </PubmedData>
  </PubmedArticle>
</PubmedArticleSet>`

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	httpClient := providers.NewHTTPClient(domain.SourcePubMed, providers.HTTPClientConfig{
		Timeout:    2 * time.Second,
		MaxRetries: 0,
	})
	limiter := providers.NewLimiter(domain.SourcePubMed, 1000, 10, time.Second)
	return NewClient(Config{
		BaseURL: srv.URL,
		APIKey:  "ncbi-key",
		Enabled: true,
	}, httpClient, limiter, zerolog.Nop())
}

func TestSearchTwoStepFlow(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pubmed", r.URL.Query().Get("db"))
		assert.Equal(t, "ncbi-key", r.URL.Query().Get("api_key"))
		assert.Equal(t, `omega-3[tiab] AND pain[tiab]`, r.URL.Query().Get("term"))
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"1","idlist":["31111111"]}}`))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "31111111", r.URL.Query().Get("id"))
		_, _ = w.Write([]byte(efetchBody))
	})
	client := newTestClient(t, mux)

	result, err := client.Search(t.Context(), providers.SearchParams{
		Query:             `omega-3[tiab] AND pain[tiab]`,
		MinAbstractLength: 50,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalResults)
	require.Len(t, result.Records, 1)

	rec := result.Records[0]
	assert.Equal(t, "Omega-3 fatty acids for chronic pain management", rec.Title)
	assert.Equal(t, 2021, rec.Year)
	assert.Contains(t, rec.Abstract, "BACKGROUND: Chronic pain")
	assert.Contains(t, rec.Abstract, "RESULTS: Supplementation")
	assert.Equal(t, "10.1016/j.jpain.2021.01.001", rec.DOI)
	assert.Equal(t, "31111111", rec.PubMedID)
	assert.Equal(t, "31111111", rec.SourceRecordID)
	assert.Equal(t, "The Journal of Pain", rec.Venue)
	require.Len(t, rec.Authors, 2)
	assert.Equal(t, "Jane Smith", rec.Authors[0].Name)
	assert.Equal(t, "Pain Research Consortium", rec.Authors[1].Name)
	assert.False(t, rec.IsRetracted)
}

func TestSearchEmptyIDListSkipsEfetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"esearchresult":{"count":"0","idlist":[]}}`))
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		t.Error("efetch must not be called for an empty id list")
	})
	client := newTestClient(t, mux)

	result, err := client.Search(t.Context(), providers.SearchParams{Query: "x"})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
	assert.Equal(t, 0, result.TotalResults)
}

func TestSearchEsearchError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	})
	client := newTestClient(t, mux)

	_, err := client.Search(t.Context(), providers.SearchParams{Query: "x"})
	require.Error(t, err)

	var apiErr *domain.ExternalAPIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, domain.SourcePubMed, apiErr.Source)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestParseYear(t *testing.T) {
	assert.Equal(t, 2021, parseYear(pubDate{Year: "2021"}))
	assert.Equal(t, 2019, parseYear(pubDate{MedlineDate: "2019 Jan-Feb"}))
	assert.Equal(t, 0, parseYear(pubDate{MedlineDate: "Winter 2019"}))
	assert.Equal(t, 0, parseYear(pubDate{}))
}

func TestRetractedPublicationType(t *testing.T) {
	assert.True(t, isRetracted([]string{"Journal Article", "Retracted Publication"}))
	assert.False(t, isRetracted([]string{"Journal Article"}))
}
