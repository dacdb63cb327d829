package aggregator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/portfolio-aggregator/internal/adapter"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"golang.org/x/sync/errgroup"
)

// CredentialProvider resolves one credential field for a platform
type CredentialProvider interface {
	Get(platform types.Platform, key string) (string, bool)
}

// ConnectionStatusSink receives per-platform connection status updates
type ConnectionStatusSink interface {
	Set(platform types.Platform, status types.ConnectionStatus)
}

// Aggregator fans out to every configured platform adapter and merges the
// results into one view
type Aggregator struct {
	adapters    []adapter.PlatformAdapter
	credentials CredentialProvider
	status      ConnectionStatusSink
	prices      adapter.PriceSource
	logger      *logging.Logger
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithStatusSink sets where connection statuses are reported
func WithStatusSink(sink ConnectionStatusSink) Option {
	return func(a *Aggregator) { a.status = sink }
}

// WithPriceSource sets the oracle used to value native-coin holdings
func WithPriceSource(prices adapter.PriceSource) Option {
	return func(a *Aggregator) { a.prices = prices }
}

// WithLogger sets the aggregator logger
func WithLogger(logger *logging.Logger) Option {
	return func(a *Aggregator) { a.logger = logger }
}

// New creates an aggregator over adapters in registration order
func New(adapters []adapter.PlatformAdapter, credentials CredentialProvider, opts ...Option) *Aggregator {
	a := &Aggregator{
		adapters:    adapters,
		credentials: credentials,
		status:      NewMemoryStatusSink(),
		logger:      logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Platforms returns the registered platforms in registration order
func (a *Aggregator) Platforms() []types.Platform {
	platforms := make([]types.Platform, 0, len(a.adapters))
	for _, ad := range a.adapters {
		platforms = append(platforms, ad.Platform())
	}
	return platforms
}

// Health returns upstream provider health for every adapter that tracks it
func (a *Aggregator) Health() map[types.Platform][]adapter.ProviderHealth {
	health := make(map[types.Platform][]adapter.ProviderHealth)
	for _, ad := range a.adapters {
		if hr, ok := ad.(adapter.HealthReporter); ok {
			health[ad.Platform()] = hr.Health()
		}
	}
	return health
}

// job is one configured platform ready for dispatch
type job struct {
	adapter adapter.PlatformAdapter
	creds   adapter.Credentials
}

// outcome is the result slot written by exactly one task
type outcome struct {
	platform types.Platform
	holdings []types.Holding
	trades   []types.TradeRecord
	err      error
}

// FetchAll fetches every configured platform concurrently and merges the
// results. It never fails: platform failures are reported in Errors.
func (a *Aggregator) FetchAll(ctx context.Context) types.AggregatorResult {
	jobs := a.configuredJobs()
	outcomes := make([]outcome, len(jobs))
	natives := newNativePricer(a.prices, a.logger)

	// tasks never return errors, so no sibling is ever cancelled
	var g errgroup.Group
	for i, j := range jobs {
		i, j := i, j
		a.status.Set(j.adapter.Platform(), types.StatusTesting)
		g.Go(func() error {
			outcomes[i] = a.run(ctx, j, natives)
			return nil
		})
	}
	_ = g.Wait()

	result := types.AggregatorResult{
		Holdings: []types.Holding{},
		Trades:   []types.TradeRecord{},
		Errors:   []types.PlatformError{},
	}
	for _, out := range outcomes {
		a.status.Set(out.platform, statusFor(out))
		if out.err != nil {
			result.Errors = append(result.Errors, types.PlatformError{
				Platform: out.platform,
				Error:    out.err.Error(),
			})
			continue
		}
		result.Holdings = append(result.Holdings, out.holdings...)
		result.Trades = append(result.Trades, out.trades...)
	}

	SortTrades(result.Trades)

	a.logger.WithFields(map[string]interface{}{
		"platforms": len(jobs),
		"holdings":  len(result.Holdings),
		"trades":    len(result.Trades),
		"errors":    len(result.Errors),
	}).Info("aggregation complete")

	return result
}

// TestConnection runs one platform once and reports its final status. It
// returns an unconfigured error when required credentials are missing.
func (a *Aggregator) TestConnection(ctx context.Context, platform types.Platform) error {
	var target adapter.PlatformAdapter
	for _, ad := range a.adapters {
		if ad.Platform() == platform {
			target = ad
			break
		}
	}
	if target == nil {
		return apperrors.NewNotFoundError("platform", platform.String())
	}

	creds, missing := a.resolve(target)
	if missing != "" {
		a.status.Set(platform, types.StatusUnconfigured)
		return apperrors.NewUnconfiguredError(platform, missing)
	}

	a.status.Set(platform, types.StatusTesting)
	out := a.run(ctx, job{adapter: target, creds: creds}, newNativePricer(a.prices, a.logger))
	a.status.Set(platform, statusFor(out))
	return out.err
}

// configuredJobs resolves credentials, marking platforms with a missing
// required field as unconfigured
func (a *Aggregator) configuredJobs() []job {
	jobs := make([]job, 0, len(a.adapters))
	for _, ad := range a.adapters {
		creds, missing := a.resolve(ad)
		if missing != "" {
			a.logger.WithPlatform(ad.Platform()).WithField("missing", missing).Debug("platform not configured, skipping")
			a.status.Set(ad.Platform(), types.StatusUnconfigured)
			continue
		}
		jobs = append(jobs, job{adapter: ad, creds: creds})
	}
	return jobs
}

// resolve returns the credentials for an adapter, or the first missing
// required key
func (a *Aggregator) resolve(ad adapter.PlatformAdapter) (adapter.Credentials, string) {
	creds := adapter.Credentials{}
	if a.credentials == nil {
		if keys := ad.RequiredCredentials(); len(keys) > 0 {
			return nil, keys[0]
		}
		return creds, ""
	}

	for _, key := range ad.RequiredCredentials() {
		v, ok := a.credentials.Get(ad.Platform(), key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil, key
		}
		creds[key] = v
	}
	for _, key := range ad.OptionalCredentials() {
		if v, ok := a.credentials.Get(ad.Platform(), key); ok && v != "" {
			creds[key] = v
		}
	}
	return creds, ""
}

// run executes holdings then trades for one platform. The first failure is
// terminal and nothing from the platform is kept.
func (a *Aggregator) run(ctx context.Context, j job, natives *nativePricer) (out outcome) {
	platform := j.adapter.Platform()
	logger := a.logger.WithPlatform(platform)
	out.platform = platform

	defer func() {
		if r := recover(); r != nil {
			logger.WithField("stack", string(debug.Stack())).Errorf("adapter panicked: %v", r)
			out = outcome{platform: platform, err: apperrors.NewInternalError(fmt.Sprintf("%s adapter panic: %v", platform, r), nil)}
		}
	}()

	holdings, err := a.holdings(ctx, j, natives)
	if err != nil {
		logger.WithError(adapter.NewAdapterError(platform, "FetchHoldings", err, nil)).Warn("platform failed")
		return outcome{platform: platform, err: err}
	}

	trades, err := j.adapter.FetchTrades(ctx, j.creds)
	if err != nil {
		logger.WithError(adapter.NewAdapterError(platform, "FetchTrades", err, nil)).Warn("platform failed")
		return outcome{platform: platform, err: err}
	}

	out.holdings = holdings
	out.trades = trades
	return out
}

func (a *Aggregator) holdings(ctx context.Context, j job, natives *nativePricer) ([]types.Holding, error) {
	nv, ok := j.adapter.(adapter.NativeValuedAdapter)
	if !ok {
		return j.adapter.FetchHoldings(ctx, j.creds)
	}

	native, err := nv.FetchNativeHoldings(ctx, j.creds)
	if err != nil {
		return nil, err
	}
	return EnrichNativeHoldings(native, natives.quotes(ctx, native)), nil
}

func statusFor(out outcome) types.ConnectionStatus {
	switch {
	case out.err != nil:
		return types.StatusError
	case len(out.holdings) > 0 || len(out.trades) > 0:
		return types.StatusConnected
	default:
		return types.StatusEmpty
	}
}

// EnrichNativeHoldings fills USD fields from each holding's native value and
// the USD quote of its native coin. Holdings whose coin has no quote keep
// zero USD fields.
func EnrichNativeHoldings(native []types.NativeHolding, coinQuotes map[string]price.Quote) []types.Holding {
	holdings := make([]types.Holding, 0, len(native))
	for _, nh := range native {
		h := nh.Holding
		if q, ok := coinQuotes[strings.ToUpper(nh.NativeCoin)]; ok && q.USD > 0 {
			h.CurrentValueUSD = nh.NativeValue * q.USD
			if h.Amount > 0 {
				h.CurrentPriceUSD = h.CurrentValueUSD / h.Amount
			}
		}
		holdings = append(holdings, h)
	}
	return holdings
}

// SortTrades orders trades newest first, keeping input order for equal dates
func SortTrades(trades []types.TradeRecord) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Date.After(trades[j].Date)
	})
}

// nativePricer fetches each native coin's USD quote at most once per run,
// shared by every native-valued holding
type nativePricer struct {
	prices adapter.PriceSource
	logger *logging.Logger

	mu      sync.Mutex
	fetched map[string]bool
	cache   map[string]price.Quote
}

func newNativePricer(prices adapter.PriceSource, logger *logging.Logger) *nativePricer {
	return &nativePricer{
		prices:  prices,
		logger:  logger,
		fetched: make(map[string]bool),
		cache:   make(map[string]price.Quote),
	}
}

// quotes returns USD quotes keyed by upper-cased coin for every coin the
// holdings reference. A failed lookup is logged and leaves that coin out.
func (p *nativePricer) quotes(ctx context.Context, native []types.NativeHolding) map[string]price.Quote {
	p.mu.Lock()
	defer p.mu.Unlock()

	var missing []string
	for _, nh := range native {
		coin := strings.ToUpper(nh.NativeCoin)
		if coin == "" || p.fetched[coin] {
			continue
		}
		p.fetched[coin] = true
		missing = append(missing, coin)
	}

	if len(missing) > 0 && p.prices != nil {
		quotes, err := p.prices.GetPrices(ctx, missing)
		if err != nil {
			p.logger.WithError(err).WithField("coins", missing).Warn("native coin pricing failed, holdings left at zero value")
		} else {
			for _, coin := range missing {
				if q := price.Lookup(quotes, coin); q.USD > 0 {
					p.cache[coin] = q
				}
			}
		}
	}

	out := make(map[string]price.Quote, len(p.cache))
	for coin, q := range p.cache {
		out[coin] = q
	}
	return out
}
