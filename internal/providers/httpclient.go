package providers

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/scholium/corpus-service/internal/domain"
)

// HTTPClientConfig tunes the retrying HTTP client shared by adapters.
type HTTPClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	UserAgent      string
}

// DefaultHTTPClientConfig returns the standard adapter client settings.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:        12 * time.Second,
		MaxRetries:     2,
		RetryBaseDelay: 500 * time.Millisecond,
		RetryMaxDelay:  8 * time.Second,
		UserAgent:      "corpus-service/1.0",
	}
}

// HTTPClient wraps http.Client with bounded retries for the failure modes
// literature APIs actually exhibit: 429 and 403 throttling, 5xx flakiness,
// and transport-level errors. Other statuses are returned to the adapter
// unretried so it can produce a provider-specific error.
type HTTPClient struct {
	client *http.Client
	cfg    HTTPClientConfig
	source domain.SourceType
}

// NewHTTPClient creates a retrying client attributed to the given source.
func NewHTTPClient(source domain.SourceType, cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPClientConfig().Timeout
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultHTTPClientConfig().RetryBaseDelay
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = DefaultHTTPClientConfig().RetryMaxDelay
	}
	return &HTTPClient{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		source: source,
	}
}

// Do executes the request with retries and returns the final response along
// with call statistics. The caller owns the response body. A non-2xx final
// status is not an error here; adapters decide how to classify it.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, CallStats, error) {
	stats := CallStats{}
	start := time.Now()
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			stats.RetryCount = attempt
			if err := c.sleep(req.Context(), attempt, stats.RetryAfterSeconds); err != nil {
				stats.Latency = time.Since(start)
				return nil, stats, err
			}
			stats.RetryAfterSeconds = 0
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					stats.Latency = time.Since(start)
					return nil, stats, fmt.Errorf("rewinding request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			if attempt < c.cfg.MaxRetries && req.Context().Err() == nil {
				continue
			}
			stats.Latency = time.Since(start)
			return nil, stats, &domain.ExternalAPIError{
				Source:  c.source,
				Message: "request failed",
				Cause:   lastErr,
			}
		}

		stats.StatusCode = resp.StatusCode
		if retryableStatus(resp.StatusCode) && attempt < c.cfg.MaxRetries {
			stats.RetryAfterSeconds = parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
			continue
		}

		stats.Latency = time.Since(start)
		return resp, stats, nil
	}
}

func (c *HTTPClient) sleep(ctx context.Context, attempt, retryAfterSeconds int) error {
	var delay time.Duration
	if retryAfterSeconds > 0 {
		delay = time.Duration(retryAfterSeconds) * time.Second
	} else {
		delay = c.cfg.RetryBaseDelay << (attempt - 1)
	}
	if delay > c.cfg.RetryMaxDelay {
		delay = c.cfg.RetryMaxDelay
	}
	// Full jitter keeps synchronized retries from re-stampeding the API.
	delay = delay/2 + rand.N(delay/2+1)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusForbidden ||
		code == http.StatusTooManyRequests ||
		code >= 500
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return secs
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}
