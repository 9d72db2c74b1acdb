// Package llm provides the OpenAI-compatible chat client used for the query
// processor's low-confidence fallback rewrite.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Default values for the rewrite client.
const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxResponseLen = 1 << 20
)

const rewriteSystemPrompt = "You rewrite ambiguous research questions into precise, " +
	"neutral literature search queries. Reply with the rewritten query only, no " +
	"commentary and no quotation marks."

// chatRequest represents the Chat Completions API request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// chatMessage represents a single message in the chat conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse represents the Chat Completions API response body.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// chatChoice represents a single completion choice.
type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// apiErrorResponse represents an error response from the API.
type apiErrorResponse struct {
	Error apiErrorDetail `json:"error"`
}

type apiErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// RewriterConfig holds the parameters for the rewrite client.
type RewriterConfig struct {
	// APIKey authenticates against the endpoint.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL is the API base URL (empty means the OpenAI default).
	BaseURL string
	// Timeout bounds one rewrite call end to end. The query processor also
	// passes a per-call context deadline; the shorter of the two applies.
	Timeout time.Duration
}

// Rewriter rewrites low-confidence queries via the Chat Completions API.
// It implements query.Rewriter.
type Rewriter struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewRewriter creates a rewrite client.
func NewRewriter(cfg RewriterConfig) *Rewriter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Rewriter{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
	}
}

// Rewrite sends one chat completion request and returns the rewritten query.
// Any non-2xx response, malformed body, or empty completion is an error; the
// caller treats every error identically (degrade to the deterministic result).
func (r *Rewriter) Rewrite(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: rewriteSystemPrompt},
			{Role: "user", Content: query},
		},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling rewrite request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating rewrite request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing rewrite request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseLen))
	if err != nil {
		return "", fmt.Errorf("reading rewrite response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("rewrite API status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("rewrite API status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", fmt.Errorf("decoding rewrite response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("rewrite response has no choices")
	}

	rewritten := strings.TrimSpace(chat.Choices[0].Message.Content)
	if rewritten == "" {
		return "", fmt.Errorf("rewrite response is empty")
	}
	return rewritten, nil
}
