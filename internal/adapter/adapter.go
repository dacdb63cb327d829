// Package adapter translates each upstream provider's native responses into
// the unified holding and trade model.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
)

// Credential keys shared across adapters
const (
	KeyAddresses    = "addresses"
	KeyAddress      = "address"
	KeyAPIKey       = "api_key"
	KeyAPISecret    = "api_secret"
	KeyHeliusAPIKey = "helius_api_key"
)

// PlatformAdapter defines the contract every source implements
type PlatformAdapter interface {
	// Platform returns the platform this adapter serves
	Platform() types.Platform

	// RequiredCredentials lists the keys that must be present before the
	// adapter is invoked. The aggregator gates on these; adapters never
	// report "not configured" themselves.
	RequiredCredentials() []string

	// OptionalCredentials lists keys that are passed through when present
	OptionalCredentials() []string

	// FetchHoldings returns current positions
	FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error)

	// FetchTrades returns historical events
	FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error)
}

// NativeValuedAdapter is implemented by sources that price holdings in a
// chain's native coin. Their holdings come back with zeroed USD fields and
// are valued by the aggregator in a second phase.
type NativeValuedAdapter interface {
	PlatformAdapter
	FetchNativeHoldings(ctx context.Context, creds Credentials) ([]types.NativeHolding, error)
}

// Closer is implemented by adapters holding connections beyond plain HTTP
type Closer interface {
	Close()
}

// PriceSource is the slice of the price oracle adapters depend on
type PriceSource interface {
	GetPrices(ctx context.Context, symbolsOrIDs []string) (map[string]price.Quote, error)
}

// Credentials is the resolved, source-specific credential bundle
type Credentials map[string]string

// Get returns the trimmed value for key
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// List splits a comma or whitespace separated value, dropping blanks
func (c Credentials) List(key string) []string {
	fields := strings.FieldsFunc(c[key], func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// AdapterError wraps errors with the platform and operation that failed
type AdapterError struct {
	Platform types.Platform
	Op       string // Operation that failed (e.g., "FetchHoldings", "FetchTrades")
	Err      error
	Details  map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("platform adapter error [%s:%s]: %v (details: %+v)", e.Platform, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("platform adapter error [%s:%s]: %v", e.Platform, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(platform types.Platform, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Platform: platform,
		Op:       op,
		Err:      err,
		Details:  details,
	}
}

// ClientConfig holds the transport settings shared by every adapter
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Logger            *logging.Logger
}

func (c ClientConfig) logger() *logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.GetGlobalLogger()
}

// quotesOrEmpty looks prices up and degrades to an empty map on failure so
// holdings are still reported, unpriced
func quotesOrEmpty(ctx context.Context, prices PriceSource, symbols []string, logger *logging.Logger) map[string]price.Quote {
	if prices == nil || len(symbols) == 0 {
		return map[string]price.Quote{}
	}
	quotes, err := prices.GetPrices(ctx, symbols)
	if err != nil {
		logger.WithError(err).Warn("price lookup failed, holdings left unpriced")
		return map[string]price.Quote{}
	}
	return quotes
}

// usdQuote returns the quote for symbol, pinning stablecoins to one dollar
func usdQuote(quotes map[string]price.Quote, symbol string) price.Quote {
	if price.IsStablecoin(symbol) {
		q := price.Lookup(quotes, symbol)
		if q.USD == 0 {
			q.USD = 1
		}
		return q
	}
	return price.Lookup(quotes, symbol)
}

// pricedHolding fills the USD fields of a holding from a quote
func pricedHolding(platform types.Platform, asset string, amount float64, q price.Quote) types.Holding {
	return types.Holding{
		Asset:            asset,
		Platform:         platform,
		Amount:           amount,
		CurrentPriceUSD:  q.USD,
		CurrentValueUSD:  amount * q.USD,
		Change24hPercent: q.USD24hChange,
	}
}

// symbolTotals accumulates per-asset amounts while keeping first-seen order
type symbolTotals struct {
	order  []string
	amount map[string]float64
}

func newSymbolTotals() *symbolTotals {
	return &symbolTotals{amount: make(map[string]float64)}
}

func (s *symbolTotals) add(symbol string, amount float64) {
	if _, ok := s.amount[symbol]; !ok {
		s.order = append(s.order, symbol)
	}
	s.amount[symbol] += amount
}

func (s *symbolTotals) symbols() []string {
	return append([]string(nil), s.order...)
}

// rawOf captures a provider payload for debugging
func rawOf(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

// unixTime converts a seconds or milliseconds epoch to UTC
func unixTime(ts int64) time.Time {
	if ts > 1e12 {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}
