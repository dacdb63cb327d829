package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hlUser = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"

func hyperliquidServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/info", r.URL.Path)

		var req infoRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, hlUser, req.User, "user is lowercased")

		w.Header().Set("Content-Type", "application/json")
		switch req.Type {
		case "clearinghouseState":
			_, _ = w.Write([]byte(`{
				"assetPositions": [
					{"type": "oneWay", "position": {"coin": "BTC", "szi": "-0.5", "entryPx": "60000", "positionValue": "31000", "unrealizedPnl": "-1000"}},
					{"type": "oneWay", "position": {"coin": "ETH", "szi": "2", "entryPx": "3000", "positionValue": "", "unrealizedPnl": "250.5"}},
					{"type": "oneWay", "position": {"coin": "SOL", "szi": "0", "entryPx": "100", "positionValue": "0", "unrealizedPnl": "0"}}
				],
				"withdrawable": "1000"
			}`))
		case "spotClearinghouseState":
			_, _ = w.Write([]byte(`{"balances": [
				{"coin": "USDC", "total": "1500.25", "hold": "0", "entryNtl": "0"},
				{"coin": "HYPE", "total": "10", "hold": "0", "entryNtl": "200"},
				{"coin": "PURR", "total": "0", "hold": "0", "entryNtl": "0"}
			]}`))
		case "userFills":
			_, _ = w.Write([]byte(`[
				{"coin": "BTC", "px": "60000", "sz": "0.1", "side": "B", "time": 1700000000000, "dir": "Open Long", "hash": "0xh1", "tid": 11, "fee": "2.5", "feeToken": "USDC"},
				{"coin": "ETH", "px": "3000", "sz": "1", "side": "A", "time": 1700000100000, "dir": "Close Long", "hash": "0xh2", "tid": 12, "fee": "0.3", "feeToken": "HYPE"},
				{"coin": "ETH", "px": "2900", "sz": "2", "side": "A", "time": 1700000200000, "tid": 13, "fee": "1", "feeToken": "USDC",
				 "liquidation": {"liquidatedUser": "` + hlUser + `", "markPx": "2900", "method": "market"}}
			]`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHyperliquidFetchHoldings(t *testing.T) {
	srv := hyperliquidServer(t)
	prices := newFakePrices(map[string]price.Quote{
		"BTC":  {USD: 62000, USD24hChange: 1.5},
		"ETH":  {USD: 3100, USD24hChange: -0.5},
		"HYPE": {USD: 25},
	})
	a := NewHyperliquidAdapter(testClientConfig(srv.URL), prices)

	holdings, err := a.FetchHoldings(context.Background(), Credentials{KeyAddress: "0xABCDEFabcdefABCDEFabcdefABCDEFabcdefABCD"})
	require.NoError(t, err)
	require.Len(t, holdings, 4, "zero-size positions and empty spot balances are skipped")

	short := holdings[0]
	assert.Equal(t, "BTC-PERP", short.Asset)
	assert.InDelta(t, 0.5, short.Amount, 1e-12)
	assert.InDelta(t, 31000, short.CurrentValueUSD, 1e-9)
	assert.InDelta(t, 62000, short.CurrentPriceUSD, 1e-9)
	assert.Equal(t, 1.5, short.Change24hPercent)
	require.NotNil(t, short.UnrealizedPnlUSD)
	assert.Equal(t, -1000.0, *short.UnrealizedPnlUSD)

	long := holdings[1]
	assert.Equal(t, "ETH-PERP", long.Asset)
	assert.InDelta(t, 6000, long.CurrentValueUSD, 1e-9, "falls back to size times entry")
	assert.Equal(t, 250.5, *long.UnrealizedPnlUSD)

	assert.Equal(t, "USDC", holdings[2].Asset)
	assert.InDelta(t, 1500.25, holdings[2].CurrentValueUSD, 1e-9)
	assert.Equal(t, "HYPE", holdings[3].Asset)
	assert.InDelta(t, 250, holdings[3].CurrentValueUSD, 1e-9)
	assert.Nil(t, holdings[3].UnrealizedPnlUSD)
}

func TestHyperliquidFetchTrades(t *testing.T) {
	srv := hyperliquidServer(t)
	a := NewHyperliquidAdapter(testClientConfig(srv.URL), nil)

	trades, err := a.FetchTrades(context.Background(), Credentials{KeyAddress: hlUser})
	require.NoError(t, err)
	require.Len(t, trades, 3)

	buy := trades[0]
	assert.Equal(t, "hl-11", buy.ID)
	assert.Equal(t, types.TradeBuy, buy.Type)
	assert.InDelta(t, 6000, buy.TotalValueUSD, 1e-9)
	assert.Equal(t, 2.5, buy.FeesUSD)
	assert.Equal(t, "Open Long", *buy.Notes)
	assert.Equal(t, int64(1700000000), buy.Date.Unix())

	sell := trades[1]
	assert.Equal(t, types.TradeSell, sell.Type)
	assert.Equal(t, 0.0, sell.FeesUSD, "non-USDC fees are left unpriced")

	liq := trades[2]
	assert.Equal(t, types.TradeLiquidation, liq.Type)
	assert.Nil(t, liq.TxHash)
	assert.Equal(t, 1.0, liq.FeesUSD)
}

func TestHyperliquidTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()
	a := NewHyperliquidAdapter(testClientConfig(srv.URL), nil)

	_, err := a.FetchHoldings(context.Background(), Credentials{KeyAddress: hlUser})
	require.Error(t, err)
	assert.Equal(t, "Hyperliquid error: 429", err.Error())
}

func TestParseFloat(t *testing.T) {
	assert.Equal(t, 1.25, parseFloat(" 1.25 "))
	assert.Equal(t, 0.0, parseFloat(""))
	assert.Equal(t, 0.0, parseFloat("NaN"))
	assert.Equal(t, -3.0, parseFloat("-3"))
}
