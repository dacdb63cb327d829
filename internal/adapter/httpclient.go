package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"golang.org/x/time/rate"
)

// maxErrorBody caps how much of a failed response is read for logging
const maxErrorBody = 512

// jsonClient performs throttled JSON requests against one provider
type jsonClient struct {
	provider string
	baseURL  string
	client   *http.Client
	limiter  *rate.Limiter
	headers  map[string]string
	stats    *providerStats
}

func newJSONClient(provider string, cfg ClientConfig) *jsonClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &jsonClient{
		provider: provider,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(limit, 1),
		headers:  map[string]string{},
		stats:    newProviderStats(provider, baseURL),
	}
}

// get issues a GET against baseURL+path with the given query
func (c *jsonClient) get(ctx context.Context, path string, query url.Values, headers map[string]string, out interface{}) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, headers, out)
}

// post issues a JSON POST against baseURL+path
func (c *jsonClient) post(ctx context.Context, path string, body interface{}, headers map[string]string, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+path, payload, headers, out)
}

func (c *jsonClient) do(ctx context.Context, method, target string, payload []byte, headers map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		netErr := apperrors.NewNetworkError(c.provider, err)
		c.stats.recordFailure(netErr)
		return netErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		httpErr := apperrors.NewTransportError(c.provider, resp.StatusCode)
		c.stats.recordFailure(httpErr)
		return httpErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			malformed := apperrors.NewMalformedError(c.provider, err)
			c.stats.recordFailure(malformed)
			return malformed
		}
	}

	c.stats.recordSuccess(time.Since(start))
	return nil
}

// applicationFailure records a logical failure reported inside a 2xx body
func (c *jsonClient) applicationFailure(code interface{}, message string) error {
	err := apperrors.NewApplicationError(c.provider, code, message)
	c.stats.reclassify(err)
	return err
}

func (c *jsonClient) health() ProviderHealth {
	return c.stats.snapshot()
}
