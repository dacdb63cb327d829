// Package price provides the spot-price oracle shared by every platform adapter.
package price

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTTL is how long a cached price or fiat rate stays fresh
	DefaultTTL = 5 * time.Minute
	// DefaultFiatCurrency is the alternate display currency
	DefaultFiatCurrency = "eur"
)

// fallbackFiatRates is used when the provider is unreachable and nothing is cached
var fallbackFiatRates = map[string]float64{
	"eur": 0.92,
	"gbp": 0.79,
	"chf": 0.88,
	"jpy": 150,
}

// Source is the remote price provider
type Source interface {
	SimplePrice(ctx context.Context, ids []string) (map[string]Quote, error)
	FiatRate(ctx context.Context, currency string) (float64, error)
}

type fiatEntry struct {
	rate      float64
	timestamp time.Time
}

// Oracle serves USD quotes through a time-boxed cache
type Oracle struct {
	source Source
	store  Store
	ttl    time.Duration
	logger *logging.Logger
	now    func() time.Time

	// identical concurrent misses share one remote call; distinct ones
	// run in parallel
	flight singleflight.Group

	// mu guards fiat only; it is never held across a remote call
	mu   sync.Mutex
	fiat map[string]fiatEntry
}

// Option configures an Oracle
type Option func(*Oracle)

// WithStore replaces the default in-memory store
func WithStore(store Store) Option {
	return func(o *Oracle) { o.store = store }
}

// WithTTL sets the cache TTL
func WithTTL(ttl time.Duration) Option {
	return func(o *Oracle) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Oracle) { o.logger = logger }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// NewOracle creates an oracle backed by source
func NewOracle(source Source, opts ...Option) *Oracle {
	o := &Oracle{
		source: source,
		store:  NewMemoryStore(),
		ttl:    DefaultTTL,
		logger: logging.GetGlobalLogger(),
		now:    time.Now,
		fiat:   make(map[string]fiatEntry),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GetPrices returns quotes keyed by canonical coin id for every input that
// maps to a known id. Unknown symbols are dropped.
func (o *Oracle) GetPrices(ctx context.Context, symbolsOrIDs []string) (map[string]Quote, error) {
	ids := resolveIDs(symbolsOrIDs)
	if len(ids) == 0 {
		return map[string]Quote{}, nil
	}

	entry, ok, err := o.store.Snapshot(ctx)
	if err != nil {
		// a broken shared store degrades to a remote lookup
		o.logger.WithError(err).Warn("price store snapshot failed")
		ok = false
	}
	if ok && o.now().Sub(entry.Timestamp) < o.ttl {
		if cached, hit := subset(entry.Prices, ids); hit {
			return cached, nil
		}
	}

	key := strings.Join(ids, ",")
	v, err, _ := o.flight.Do("prices:"+key, func() (interface{}, error) {
		fetched, err := o.source.SimplePrice(ctx, ids)
		if err != nil {
			return nil, err
		}

		result := make(map[string]Quote, len(ids))
		for _, id := range ids {
			result[id] = fetched[id]
		}

		// Merge overwrites only these ids, so racing merges of other sets are safe
		if err := o.store.Merge(ctx, result, o.now()); err != nil {
			o.logger.WithError(err).Warn("price store merge failed")
		}
		o.logger.WithField("ids", key).Debug("fetched prices")
		return result, nil
	})
	if err != nil {
		return nil, err
	}

	// shared callers each get their own map
	shared := v.(map[string]Quote)
	result := make(map[string]Quote, len(shared))
	for id, q := range shared {
		result[id] = q
	}
	return result, nil
}

// GetFiatRate returns the USD to currency conversion rate. It never fails:
// on provider errors it serves the last known rate, or a fixed fallback.
func (o *Oracle) GetFiatRate(ctx context.Context, currency string) float64 {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = DefaultFiatCurrency
	}
	if currency == "usd" {
		return 1
	}

	o.mu.Lock()
	cached, ok := o.fiat[currency]
	o.mu.Unlock()
	if ok && o.now().Sub(cached.timestamp) < o.ttl {
		return cached.rate
	}

	v, err, _ := o.flight.Do("fiat:"+currency, func() (interface{}, error) {
		return o.source.FiatRate(ctx, currency)
	})
	if err != nil {
		if ok {
			o.logger.WithError(err).Warnf("fiat rate refresh failed, serving stale %s rate", currency)
			return cached.rate
		}
		o.logger.WithError(err).Warnf("fiat rate unavailable, using fallback for %s", currency)
		return FallbackFiatRate(currency)
	}

	rate := v.(float64)
	o.mu.Lock()
	o.fiat[currency] = fiatEntry{rate: rate, timestamp: o.now()}
	o.mu.Unlock()
	return rate
}

// FallbackFiatRate returns the hardcoded rate for currency, or 1 when unknown
func FallbackFiatRate(currency string) float64 {
	if r, ok := fallbackFiatRates[strings.ToLower(currency)]; ok {
		return r
	}
	return 1
}

// Reset clears both caches
func (o *Oracle) Reset(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fiat = make(map[string]fiatEntry)
	return o.store.Reset(ctx)
}

// resolveIDs maps inputs to canonical ids, dropping unknowns and duplicates
func resolveIDs(symbolsOrIDs []string) []string {
	seen := make(map[string]bool, len(symbolsOrIDs))
	ids := make([]string, 0, len(symbolsOrIDs))
	for _, s := range symbolsOrIDs {
		id, ok := IDForSymbol(s)
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func subset(prices map[string]Quote, ids []string) (map[string]Quote, bool) {
	out := make(map[string]Quote, len(ids))
	for _, id := range ids {
		q, ok := prices[id]
		if !ok {
			return nil, false
		}
		out[id] = q
	}
	return out, true
}
