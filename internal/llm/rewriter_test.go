package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Rewriter) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	rw := NewRewriter(RewriterConfig{
		APIKey:  "sk-test",
		Model:   "test-model",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	})
	return srv, rw
}

func TestRewriteSuccess(t *testing.T) {
	_, rw := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "user", req.Messages[1].Role)

		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: "  omega-3 vs placebo for chronic pain  "}}},
		})
	})

	out, err := rw.Rewrite(t.Context(), "best supplement")
	require.NoError(t, err)
	assert.Equal(t, "omega-3 vs placebo for chronic pain", out)
}

func TestRewriteAPIError(t *testing.T) {
	_, rw := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(apiErrorResponse{Error: apiErrorDetail{Message: "rate limit", Type: "rate_limit_error"}})
	})

	_, err := rw.Rewrite(t.Context(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limit")
}

func TestRewriteEmptyCompletion(t *testing.T) {
	_, rw := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []chatChoice{{Message: chatMessage{Content: "   "}}},
		})
	})

	_, err := rw.Rewrite(t.Context(), "q")
	assert.Error(t, err)
}

func TestRewriteNoChoices(t *testing.T) {
	_, rw := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponse{})
	})

	_, err := rw.Rewrite(t.Context(), "q")
	assert.Error(t, err)
}

func TestRewriteMalformedBody(t *testing.T) {
	_, rw := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := rw.Rewrite(t.Context(), "q")
	assert.Error(t, err)
}

func TestRewriteRespectsContextDeadline(t *testing.T) {
	_, rw := newChatServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := rw.Rewrite(ctx, "q")
	assert.Error(t, err)
}
