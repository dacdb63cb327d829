package price

import (
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

const providerName = "CoinGecko"

// CoinGeckoClient calls the CoinGecko simple price endpoint
type CoinGeckoClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewCoinGeckoClient creates a client. requestsPerSecond <= 0 disables throttling.
func NewCoinGeckoClient(baseURL, apiKey string, timeout time.Duration, requestsPerSecond float64) *CoinGeckoClient {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &CoinGeckoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// simplePriceResponse is keyed by coin id, then by field name
// ("usd", "usd_24h_change", "eur", ...)
type simplePriceResponse map[string]map[string]*float64

// SimplePrice fetches prices for ids in one batched request
func (c *CoinGeckoClient) SimplePrice(ctx context.Context, ids []string) (map[string]Quote, error) {
	params := url.Values{}
	params.Set("ids", strings.Join(ids, ","))
	params.Set("vs_currencies", "usd")
	params.Set("include_24hr_change", "true")

	var resp simplePriceResponse
	if err := c.get(ctx, "/simple/price?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	quotes := make(map[string]Quote, len(resp))
	for id, fields := range resp {
		quotes[id] = Quote{
			USD:          valueOrZero(fields["usd"]),
			USD24hChange: valueOrZero(fields["usd_24h_change"]),
		}
	}
	return quotes, nil
}

// FiatRate returns how many units of currency one US dollar buys, using
// the USDC quote as the dollar reference
func (c *CoinGeckoClient) FiatRate(ctx context.Context, currency string) (float64, error) {
	params := url.Values{}
	params.Set("ids", "usd-coin")
	params.Set("vs_currencies", currency)

	var resp simplePriceResponse
	if err := c.get(ctx, "/simple/price?"+params.Encode(), &resp); err != nil {
		return 0, err
	}

	fx := valueOrZero(resp["usd-coin"][currency])
	if fx <= 0 {
		return 0, apperrors.NewMalformedError(providerName, fmt.Errorf("no %s rate in response", currency))
	}
	return fx, nil
}

func (c *CoinGeckoClient) get(ctx context.Context, path string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return apperrors.NewTransportError(providerName, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewMalformedError(providerName, err)
	}
	return nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
