package adapter

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/types"
)

const hyperliquidProvider = "Hyperliquid"

// HyperliquidPosition is one entry of clearinghouseState.assetPositions
type HyperliquidPosition struct {
	Type     string `json:"type"`
	Position struct {
		Coin          string `json:"coin"`
		Szi           string `json:"szi"`
		EntryPx       string `json:"entryPx"`
		PositionValue string `json:"positionValue"`
		UnrealizedPnl string `json:"unrealizedPnl"`
		LiquidationPx string `json:"liquidationPx"`
	} `json:"position"`
}

// HyperliquidClearinghouse is the clearinghouseState response
type HyperliquidClearinghouse struct {
	AssetPositions []HyperliquidPosition `json:"assetPositions"`
	Withdrawable   string                `json:"withdrawable"`
}

// HyperliquidSpotBalance is one entry of spotClearinghouseState.balances
type HyperliquidSpotBalance struct {
	Coin     string `json:"coin"`
	Total    string `json:"total"`
	Hold     string `json:"hold"`
	EntryNtl string `json:"entryNtl"`
}

// HyperliquidSpotState is the spotClearinghouseState response
type HyperliquidSpotState struct {
	Balances []HyperliquidSpotBalance `json:"balances"`
}

// HyperliquidFill is an item of the userFills response
type HyperliquidFill struct {
	Coin        string          `json:"coin"`
	Px          string          `json:"px"`
	Sz          string          `json:"sz"`
	Side        string          `json:"side"`
	Time        int64           `json:"time"`
	Dir         string          `json:"dir"`
	ClosedPnl   string          `json:"closedPnl"`
	Hash        string          `json:"hash"`
	Oid         int64           `json:"oid"`
	Tid         int64           `json:"tid"`
	Fee         string          `json:"fee"`
	FeeToken    string          `json:"feeToken"`
	Liquidation json.RawMessage `json:"liquidation,omitempty"`
}

// infoRequest is the body of every POST /info call
type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user"`
}

// HyperliquidAdapter reads perpetual positions, spot balances and fills
type HyperliquidAdapter struct {
	http   *jsonClient
	prices PriceSource
	logger *logging.Logger
}

// NewHyperliquidAdapter creates a Hyperliquid adapter
func NewHyperliquidAdapter(cfg ClientConfig, prices PriceSource) *HyperliquidAdapter {
	return &HyperliquidAdapter{
		http:   newJSONClient(hyperliquidProvider, cfg),
		prices: prices,
		logger: cfg.logger().WithPlatform(types.PlatformHyperliquid),
	}
}

func (a *HyperliquidAdapter) Platform() types.Platform { return types.PlatformHyperliquid }

func (a *HyperliquidAdapter) RequiredCredentials() []string { return []string{KeyAddress} }

func (a *HyperliquidAdapter) OptionalCredentials() []string { return nil }

func (a *HyperliquidAdapter) Health() []ProviderHealth {
	return []ProviderHealth{a.http.health()}
}

func (a *HyperliquidAdapter) info(ctx context.Context, kind, user string, out interface{}) error {
	return a.http.post(ctx, "/info", infoRequest{Type: kind, User: user}, nil, out)
}

// FetchHoldings combines open perpetual positions with spot balances
func (a *HyperliquidAdapter) FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error) {
	user := strings.ToLower(creds.Get(KeyAddress))

	var perp HyperliquidClearinghouse
	if err := a.info(ctx, "clearinghouseState", user, &perp); err != nil {
		return nil, err
	}
	var spot HyperliquidSpotState
	if err := a.info(ctx, "spotClearinghouseState", user, &spot); err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(perp.AssetPositions)+len(spot.Balances))
	for _, p := range perp.AssetPositions {
		symbols = append(symbols, p.Position.Coin)
	}
	for _, b := range spot.Balances {
		symbols = append(symbols, b.Coin)
	}
	quotes := quotesOrEmpty(ctx, a.prices, symbols, a.logger)

	var holdings []types.Holding
	for _, p := range perp.AssetPositions {
		size := parseFloat(p.Position.Szi)
		if size == 0 {
			continue
		}
		amount := math.Abs(size)

		value := parseFloat(p.Position.PositionValue)
		if value == 0 {
			value = amount * parseFloat(p.Position.EntryPx)
		}
		pnl := parseFloat(p.Position.UnrealizedPnl)

		holdings = append(holdings, types.Holding{
			Asset:            p.Position.Coin + "-PERP",
			Platform:         types.PlatformHyperliquid,
			Amount:           amount,
			CurrentPriceUSD:  value / amount,
			CurrentValueUSD:  value,
			Change24hPercent: usdQuote(quotes, p.Position.Coin).USD24hChange,
			UnrealizedPnlUSD: &pnl,
		})
	}

	for _, b := range spot.Balances {
		total := parseFloat(b.Total)
		if total <= 0 {
			continue
		}
		holdings = append(holdings, pricedHolding(types.PlatformHyperliquid, b.Coin, total, usdQuote(quotes, b.Coin)))
	}
	return holdings, nil
}

// FetchTrades maps fills to buys, sells and liquidations
func (a *HyperliquidAdapter) FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error) {
	user := strings.ToLower(creds.Get(KeyAddress))

	var fills []HyperliquidFill
	if err := a.info(ctx, "userFills", user, &fills); err != nil {
		return nil, err
	}

	trades := make([]types.TradeRecord, 0, len(fills))
	for _, f := range fills {
		trades = append(trades, convertFill(f))
	}
	return trades, nil
}

func convertFill(f HyperliquidFill) types.TradeRecord {
	px := parseFloat(f.Px)
	sz := parseFloat(f.Sz)

	tradeType := types.TradeSell
	if f.Side == "B" {
		tradeType = types.TradeBuy
	}
	if len(f.Liquidation) > 0 && string(f.Liquidation) != "null" {
		tradeType = types.TradeLiquidation
	}

	// fees are charged in USDC for perps; other fee tokens are left unpriced
	var fees float64
	if f.FeeToken == "" || strings.EqualFold(f.FeeToken, "USDC") {
		fees = parseFloat(f.Fee)
	}

	rec := types.TradeRecord{
		ID:            types.TradeID(types.PlatformHyperliquid, strconv.FormatInt(f.Tid, 10)),
		Date:          unixTime(f.Time),
		Platform:      types.PlatformHyperliquid,
		Type:          tradeType,
		Asset:         f.Coin,
		Amount:        sz,
		PriceUSD:      px,
		TotalValueUSD: px * sz,
		FeesUSD:       fees,
		Source:        types.SourceAPI,
		Raw:           rawOf(f),
	}
	if f.Hash != "" {
		rec.TxHash = types.StringPtr(f.Hash)
	}
	if f.Dir != "" {
		rec.Notes = types.StringPtr(f.Dir)
	}
	return rec
}

// parseFloat parses a provider decimal string, treating garbage as zero
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
