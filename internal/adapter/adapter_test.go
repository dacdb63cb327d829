package adapter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
)

// fakePrices serves fixed quotes keyed by ticker
type fakePrices struct {
	mu     sync.Mutex
	quotes map[string]price.Quote
	err    error
	calls  [][]string
}

func newFakePrices(quotes map[string]price.Quote) *fakePrices {
	return &fakePrices{quotes: quotes}
}

func (f *fakePrices) GetPrices(ctx context.Context, symbols []string) (map[string]price.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, symbols)
	if f.err != nil {
		return nil, f.err
	}

	out := make(map[string]price.Quote)
	for _, s := range symbols {
		id, ok := price.IDForSymbol(s)
		if !ok {
			continue
		}
		if q, ok := f.quotes[s]; ok {
			out[id] = q
		}
	}
	return out, nil
}

func testClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
		Logger:  logging.NewNopLogger(),
	}
}

func TestCredentialsList(t *testing.T) {
	creds := Credentials{KeyAddresses: " 0xabc, 0xdef ;\n0x123,, "}

	assert.Equal(t, []string{"0xabc", "0xdef", "0x123"}, creds.List(KeyAddresses))
	assert.Empty(t, creds.List("missing"))
	assert.Equal(t, "", creds.Get("missing"))
}

func TestAdapterErrorUnwrap(t *testing.T) {
	cause := errors.New("Esplora error: 500")
	err := NewAdapterError(types.PlatformBitcoin, "FetchHoldings", cause, nil)

	assert.Equal(t, "platform adapter error [bitcoin:FetchHoldings]: Esplora error: 500", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestQuotesOrEmptyDegradesOnFailure(t *testing.T) {
	prices := newFakePrices(nil)
	prices.err = errors.New("CoinGecko error: 429")

	quotes := quotesOrEmpty(context.Background(), prices, []string{"ETH"}, logging.NewNopLogger())
	assert.Empty(t, quotes)
}

func TestUsdQuotePinsStablecoins(t *testing.T) {
	assert.Equal(t, 1.0, usdQuote(map[string]price.Quote{}, "USDC").USD)
	assert.Equal(t, 0.0, usdQuote(map[string]price.Quote{}, "ETH").USD)
}

func TestUnixTime(t *testing.T) {
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), unixTime(1700000000))
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), unixTime(1700000000123))
}

func TestProviderStatsHealth(t *testing.T) {
	stats := newProviderStats("Esplora", "http://example")
	for i := 0; i < 5; i++ {
		stats.recordFailure(errors.New("boom"))
	}
	assert.False(t, stats.snapshot().IsHealthy)

	stats.recordSuccess(10 * time.Millisecond)
	h := stats.snapshot()
	assert.True(t, h.IsHealthy)
	assert.Equal(t, int64(6), h.TotalRequests)
	assert.Equal(t, "boom", h.LastError)
}
