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

const (
	ethAddrOK     = "0x1111111111111111111111111111111111111111"
	ethAddrBroken = "0x2222222222222222222222222222222222222222"
	ethOther      = "0x3333333333333333333333333333333333333333"
	usdcContract  = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

func etherscanServer(t *testing.T) *httptest.Server {
	t.Helper()

	ok := func(result interface{}) map[string]interface{} {
		return map[string]interface{}{"status": "1", "message": "OK", "result": result}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("chainid"))

		var body interface{}
		switch {
		case q.Get("address") == ethAddrBroken:
			body = map[string]interface{}{"status": "0", "message": "NOTOK", "result": "Invalid API Key"}
		case q.Get("action") == "balance":
			body = ok("1500000000000000000")
		case q.Get("action") == "txlist":
			body = ok([]EtherscanTransaction{{
				Hash: "0xabc", TimeStamp: "1700000000", From: ethAddrOK, To: ethOther,
				Value: "500000000000000000", GasUsed: "21000", GasPrice: "20000000000", IsError: "0",
			}})
		case q.Get("action") == "tokentx":
			body = ok([]EtherscanTokenTransfer{
				{Hash: "0xdef", TimeStamp: "1700000100", From: ethOther, To: ethAddrOK, Value: "100000000",
					ContractAddress: usdcContract, TokenSymbol: "USDC", TokenDecimal: "6"},
				{Hash: "0xdef", TimeStamp: "1700000100", From: ethAddrOK, To: ethOther, Value: "40000000",
					ContractAddress: usdcContract, TokenSymbol: "USDC", TokenDecimal: "6", GasUsed: "50000", GasPrice: "10000000000"},
				{Hash: "0x999", TimeStamp: "1700000200", From: ethOther, To: ethAddrOK, Value: "1",
					ContractAddress: "0xdust", TokenSymbol: "DUST", TokenDecimal: "18"},
			})
		default:
			body = map[string]interface{}{"status": "0", "message": "No transactions found", "result": []interface{}{}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEtherscanFetchHoldings(t *testing.T) {
	srv := etherscanServer(t)
	prices := newFakePrices(map[string]price.Quote{
		"ETH":  {USD: 3000, USD24hChange: 5},
		"USDC": {USD: 1},
	})
	a := NewEtherscanAdapter(testClientConfig(srv.URL), prices)

	holdings, err := a.FetchHoldings(context.Background(), Credentials{
		KeyAddresses: ethAddrOK + "," + ethAddrBroken + ",not-an-address",
	})
	require.NoError(t, err)
	require.Len(t, holdings, 2, "broken and invalid addresses contribute nothing, dust is dropped")

	assert.Equal(t, "ETH", holdings[0].Asset)
	assert.InDelta(t, 1.5, holdings[0].Amount, 1e-12)
	assert.InDelta(t, 4500, holdings[0].CurrentValueUSD, 1e-9)
	assert.Equal(t, 5.0, holdings[0].Change24hPercent)

	assert.Equal(t, "USDC", holdings[1].Asset)
	assert.InDelta(t, 60, holdings[1].Amount, 1e-12)
	assert.Equal(t, types.PlatformEthereum, holdings[1].Platform)

	// one batched price lookup per call
	assert.Len(t, prices.calls, 1)
}

func TestEtherscanFetchTrades(t *testing.T) {
	srv := etherscanServer(t)
	prices := newFakePrices(map[string]price.Quote{"ETH": {USD: 3000}, "USDC": {USD: 1}})
	a := NewEtherscanAdapter(testClientConfig(srv.URL), prices)

	trades, err := a.FetchTrades(context.Background(), Credentials{KeyAddresses: ethAddrOK})
	require.NoError(t, err)
	require.Len(t, trades, 4)

	native := trades[0]
	assert.Equal(t, "eth-0xabc", native.ID)
	assert.Equal(t, types.TradeTransfer, native.Type)
	assert.InDelta(t, 0.5, native.Amount, 1e-12)
	assert.InDelta(t, 1500, native.TotalValueUSD, 1e-9)
	assert.InDelta(t, 1.26, native.FeesUSD, 1e-9)

	assert.Equal(t, "eth-0xdef-"+usdcContract+"-0", trades[1].ID)
	assert.Equal(t, "eth-0xdef-"+usdcContract+"-1", trades[2].ID)
	assert.Equal(t, 0.0, trades[1].FeesUSD, "incoming transfers carry no fee")
	assert.InDelta(t, 1.5, trades[2].FeesUSD, 1e-9)
}

func TestEtherscanApplicationErrorMessage(t *testing.T) {
	srv := etherscanServer(t)
	a := NewEtherscanAdapter(testClientConfig(srv.URL), nil)

	_, err := a.fetchBalance(context.Background(), ethAddrBroken, "")
	require.Error(t, err)
	assert.Equal(t, "Etherscan error: NOTOK Invalid API Key", err.Error())
}

func TestEtherscanTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	a := NewEtherscanAdapter(testClientConfig(srv.URL), nil)

	_, err := a.fetchBalance(context.Background(), ethAddrOK, "")
	require.Error(t, err)
	assert.Equal(t, "Etherscan error: 502", err.Error())

	holdings, err := a.FetchHoldings(context.Background(), Credentials{KeyAddresses: ethAddrOK})
	require.NoError(t, err, "address failures never fail the platform")
	assert.Empty(t, holdings)
}

func TestNetTokenBalances(t *testing.T) {
	transfers := []EtherscanTokenTransfer{
		{From: ethOther, To: ethAddrOK, Value: "5000000000000000000", ContractAddress: "0xA", TokenSymbol: "uni", TokenDecimal: "18"},
		{From: ethAddrOK, To: ethOther, Value: "5000000000000000000", ContractAddress: "0xa", TokenSymbol: "UNI", TokenDecimal: "18"},
		{From: ethOther, To: ethAddrOK, Value: "2500", ContractAddress: "0xb", TokenSymbol: "LINK", TokenDecimal: "3"},
	}

	got := netTokenBalances(transfers, ethAddrOK)
	require.Len(t, got, 1)
	assert.Equal(t, "LINK", got[0].symbol)
	assert.Equal(t, "2.5", got[0].net.String())
}
