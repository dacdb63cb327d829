package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nftOwner = "0x4444444444444444444444444444444444444444"

func reservoirServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/users/"+nftOwner+"/tokens/v10", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "rk", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")

		if r.URL.Query().Get("continuation") == "" {
			_, _ = w.Write([]byte(`{"tokens": [
				{"token": {"contract": "0xbayc", "tokenId": "1", "collection": {"id": "bayc", "name": "Bored Apes", "floorAskPrice": {"amount": {"native": 10.5}}}}, "ownership": {"tokenCount": "1"}},
				{"token": {"contract": "0xpunk", "tokenId": "7", "collection": {"id": "punks", "name": "Punks"}}, "ownership": {"tokenCount": "1"}}
			], "continuation": "page2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"tokens": [
			{"token": {"contract": "0xbayc", "tokenId": "2", "collection": {"id": "bayc", "name": "Bored Apes", "floorAskPrice": {"amount": {"native": 10.5}}}}, "ownership": {"tokenCount": "2"}}
		], "continuation": null}`))
	})
	mux.HandleFunc("/users/activity/v6", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, nftOwner, q.Get("users"))
		assert.ElementsMatch(t, []string{"sale", "mint", "transfer"}, q["types"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"activities": [
			{"type": "sale", "fromAddress": "0xseller", "toAddress": "` + nftOwner + `", "amount": 1, "timestamp": 1700000300,
			 "txHash": "0xs1", "price": {"amount": {"native": 10, "usd": 30000}}, "token": {"tokenId": "1", "tokenName": "Ape #1"},
			 "collection": {"collectionId": "bayc", "collectionName": "Bored Apes"}},
			{"type": "sale", "fromAddress": "` + nftOwner + `", "toAddress": "0xbuyer", "amount": 1, "timestamp": 1700000200,
			 "txHash": "0xs2", "price": {"amount": {"native": 11, "usd": 33000}}, "token": {"tokenId": "2"},
			 "collection": {"collectionId": "bayc", "collectionName": "Bored Apes"}},
			{"type": "mint", "toAddress": "` + nftOwner + `", "timestamp": 1700000100, "txHash": "0xm1",
			 "token": {"tokenId": "3"}, "collection": {"collectionId": "freebies"}},
			{"type": "transfer", "fromAddress": "0xfriend", "toAddress": "` + nftOwner + `", "timestamp": 1700000000, "txHash": "0xt1",
			 "token": {"tokenId": "4"}, "collection": {"collectionName": "Punks"}},
			{"type": "bid", "timestamp": 1700000000}
		]}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReservoirFetchNativeHoldingsGroupsCollections(t *testing.T) {
	srv := reservoirServer(t)
	a := NewReservoirAdapter(testClientConfig(srv.URL))

	native, err := a.FetchNativeHoldings(context.Background(), Credentials{KeyAddress: nftOwner, KeyAPIKey: "rk"})
	require.NoError(t, err)
	require.Len(t, native, 2)

	apes := native[0]
	assert.Equal(t, "NFT: Bored Apes", apes.Asset)
	assert.Equal(t, 3.0, apes.Amount)
	assert.InDelta(t, 31.5, apes.NativeValue, 1e-9)
	assert.Equal(t, "ETH", apes.NativeCoin)
	assert.Equal(t, 0.0, apes.CurrentValueUSD)
	assert.Equal(t, types.PlatformBlur, apes.Platform)

	punks := native[1]
	assert.Equal(t, "NFT: Punks", punks.Asset)
	assert.Equal(t, 0.0, punks.NativeValue, "no floor means no value")
}

func TestReservoirFetchHoldingsZeroUSD(t *testing.T) {
	srv := reservoirServer(t)
	a := NewReservoirAdapter(testClientConfig(srv.URL))

	holdings, err := a.FetchHoldings(context.Background(), Credentials{KeyAddress: nftOwner, KeyAPIKey: "rk"})
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	for _, h := range holdings {
		assert.Equal(t, 0.0, h.CurrentPriceUSD)
		assert.Equal(t, 0.0, h.CurrentValueUSD)
	}
}

func TestReservoirFetchTradesMapsActivity(t *testing.T) {
	srv := reservoirServer(t)
	a := NewReservoirAdapter(testClientConfig(srv.URL))

	trades, err := a.FetchTrades(context.Background(), Credentials{KeyAddress: nftOwner})
	require.NoError(t, err)
	require.Len(t, trades, 4, "unsupported activity types are dropped")

	assert.Equal(t, "blur-0xs1-1", trades[0].ID)
	assert.Equal(t, types.TradeBuy, trades[0].Type)
	assert.Equal(t, 30000.0, trades[0].TotalValueUSD)
	assert.Equal(t, "Ape #1", *trades[0].Notes)

	assert.Equal(t, types.TradeSell, trades[1].Type)
	assert.Equal(t, types.TradeAirdrop, trades[2].Type)
	assert.Equal(t, "NFT: freebies", trades[2].Asset)
	assert.Equal(t, types.TradeTransfer, trades[3].Type)
}
