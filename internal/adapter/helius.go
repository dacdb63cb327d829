package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	heliusProvider    = "Helius"
	solanaRPCProvider = "Solana RPC"
	nativeSOL         = "SOL"
	lamportDecimals   = 9
)

// knownMints maps SPL token mints to tickers the price oracle understands
var knownMints = map[string]string{
	"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": "USDC",
	"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": "USDT",
	"So11111111111111111111111111111111111111112":  "SOL",
	"JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN":  "JUP",
	"DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263": "BONK",
	"EKpQGSJtjMFqKZ9KQanSqYXRcF8fBopzLHYxdM65zcjm": "WIF",
	"HZ1JovNiVvGrGNiiYvEozEVgZ58xaU3RKwX8eACQBCt3": "PYTH",
	"jtojtomepa8beP8AuQc6eXt5FriJwfFMwQx2v2f9mCL":  "JTO",
}

// HeliusBalances is the /v0/addresses/:address/balances response
type HeliusBalances struct {
	NativeBalance json.Number `json:"nativeBalance"`
	Tokens        []struct {
		Mint     string      `json:"mint"`
		Amount   json.Number `json:"amount"`
		Decimals int32       `json:"decimals"`
	} `json:"tokens"`
}

// HeliusTransaction is an item of the parsed transaction history
type HeliusTransaction struct {
	Signature       string `json:"signature"`
	Timestamp       int64  `json:"timestamp"`
	Type            string `json:"type"`
	Source          string `json:"source"`
	Description     string `json:"description"`
	Fee             int64  `json:"fee"`
	FeePayer        string `json:"feePayer"`
	NativeTransfers []struct {
		From   string `json:"fromUserAccount"`
		To     string `json:"toUserAccount"`
		Amount int64  `json:"amount"`
	} `json:"nativeTransfers"`
	TokenTransfers []struct {
		From        string  `json:"fromUserAccount"`
		To          string  `json:"toUserAccount"`
		Mint        string  `json:"mint"`
		TokenAmount float64 `json:"tokenAmount"`
	} `json:"tokenTransfers"`
	Events struct {
		NFT *HeliusNFTEvent `json:"nft"`
	} `json:"events"`
}

// HeliusNFTEvent describes an NFT sale or mint inside a transaction
type HeliusNFTEvent struct {
	Amount int64  `json:"amount"`
	Buyer  string `json:"buyer"`
	Seller string `json:"seller"`
}

// rpcBalance is the getBalance JSON-RPC result
type rpcBalance struct {
	Value uint64 `json:"value"`
}

// HeliusAdapter reads Solana balances through the Helius enhanced API, or
// through a public RPC node when no Helius key is configured
type HeliusAdapter struct {
	http    *jsonClient
	rpcURL  string
	rpcHTTP *http.Client
	limiter *rate.Limiter
	stats   *providerStats
	prices  PriceSource
	logger  *logging.Logger

	mu        sync.Mutex
	rpcClient *rpc.Client
}

// NewHeliusAdapter creates a Solana adapter. rpcURL is the public fallback node.
func NewHeliusAdapter(cfg ClientConfig, rpcURL string, prices PriceSource) *HeliusAdapter {
	h := newJSONClient(heliusProvider, cfg)
	return &HeliusAdapter{
		http:    h,
		rpcURL:  rpcURL,
		rpcHTTP: h.client,
		limiter: h.limiter,
		stats:   newProviderStats(solanaRPCProvider, rpcURL),
		prices:  prices,
		logger:  cfg.logger().WithPlatform(types.PlatformSolana),
	}
}

func (a *HeliusAdapter) Platform() types.Platform { return types.PlatformSolana }

func (a *HeliusAdapter) RequiredCredentials() []string { return []string{KeyAddress} }

func (a *HeliusAdapter) OptionalCredentials() []string { return []string{KeyHeliusAPIKey} }

func (a *HeliusAdapter) Health() []ProviderHealth {
	return []ProviderHealth{a.http.health(), a.stats.snapshot()}
}

var _ Closer = (*HeliusAdapter)(nil)

// Close releases the fallback RPC connection
func (a *HeliusAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rpcClient != nil {
		a.rpcClient.Close()
		a.rpcClient = nil
	}
}

// FetchHoldings returns native and token balances
func (a *HeliusAdapter) FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error) {
	address := creds.Get(KeyAddress)
	apiKey := creds.Get(KeyHeliusAPIKey)

	totals := newSymbolTotals()
	if apiKey == "" {
		lamports, err := a.rpcBalance(ctx, address)
		if err != nil {
			return nil, err
		}
		totals.add(nativeSOL, lamportsToSOL(decimal.NewFromInt(int64(lamports))))
	} else {
		var balances HeliusBalances
		if err := a.http.get(ctx, "/v0/addresses/"+address+"/balances", apiKeyQuery(apiKey), nil, &balances); err != nil {
			return nil, err
		}
		totals.add(nativeSOL, lamportsToSOL(parseDecimal(balances.NativeBalance.String())))
		for _, t := range balances.Tokens {
			amount, _ := parseDecimal(t.Amount.String()).Shift(-t.Decimals).Float64()
			if amount <= 0 {
				continue
			}
			totals.add(mintSymbol(t.Mint), amount)
		}
	}

	quotes := quotesOrEmpty(ctx, a.prices, totals.symbols(), a.logger)

	var holdings []types.Holding
	for _, symbol := range totals.symbols() {
		amount := totals.amount[symbol]
		if amount <= 0 {
			continue
		}
		holdings = append(holdings, pricedHolding(types.PlatformSolana, symbol, amount, usdQuote(quotes, symbol)))
	}
	return holdings, nil
}

// FetchTrades returns parsed history. History needs the enhanced API, so
// without a Helius key there are no trades.
func (a *HeliusAdapter) FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error) {
	address := creds.Get(KeyAddress)
	apiKey := creds.Get(KeyHeliusAPIKey)
	if apiKey == "" {
		return nil, nil
	}

	var txs []HeliusTransaction
	if err := a.http.get(ctx, "/v0/addresses/"+address+"/transactions", apiKeyQuery(apiKey), nil, &txs); err != nil {
		return nil, err
	}

	symbols := []string{nativeSOL}
	for _, tx := range txs {
		for _, t := range tx.TokenTransfers {
			symbols = append(symbols, mintSymbol(t.Mint))
		}
	}
	quotes := quotesOrEmpty(ctx, a.prices, symbols, a.logger)
	solUSD := price.Lookup(quotes, nativeSOL).USD

	trades := make([]types.TradeRecord, 0, len(txs))
	for _, tx := range txs {
		trades = append(trades, convertHeliusTx(tx, address, quotes, solUSD))
	}
	return trades, nil
}

func (a *HeliusAdapter) rpcBalance(ctx context.Context, address string) (uint64, error) {
	client, err := a.dialRPC()
	if err != nil {
		return 0, apperrors.NewNetworkError(solanaRPCProvider, err)
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var result rpcBalance
	if err := client.CallContext(ctx, &result, "getBalance", address); err != nil {
		a.stats.recordFailure(err)
		var httpErr rpc.HTTPError
		if errors.As(err, &httpErr) {
			return 0, apperrors.NewTransportError(solanaRPCProvider, httpErr.StatusCode)
		}
		return 0, apperrors.NewNetworkError(solanaRPCProvider, err)
	}
	a.stats.recordSuccess(0)
	return result.Value, nil
}

func (a *HeliusAdapter) dialRPC() (*rpc.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rpcClient != nil {
		return a.rpcClient, nil
	}
	client, err := rpc.DialHTTPWithClient(a.rpcURL, a.rpcHTTP)
	if err != nil {
		return nil, err
	}
	a.rpcClient = client
	return client, nil
}

// classifyHelius maps Helius type tags onto trade types
func classifyHelius(tx HeliusTransaction, address string) types.TradeType {
	switch strings.ToUpper(tx.Type) {
	case "SWAP":
		return types.TradeSwap
	case "TRANSFER":
		return types.TradeTransfer
	case "NFT_SALE":
		if tx.Events.NFT != nil && tx.Events.NFT.Seller == address {
			return types.TradeSell
		}
		return types.TradeBuy
	case "NFT_MINT", "COMPRESSED_NFT_MINT":
		return types.TradeBuy
	default:
		return types.TradeOther
	}
}

func convertHeliusTx(tx HeliusTransaction, address string, quotes map[string]price.Quote, solUSD float64) types.TradeRecord {
	rec := types.TradeRecord{
		ID:       types.TradeID(types.PlatformSolana, tx.Signature),
		Date:     unixTime(tx.Timestamp),
		Platform: types.PlatformSolana,
		Type:     classifyHelius(tx, address),
		Asset:    nativeSOL,
		TxHash:   types.StringPtr(tx.Signature),
		Source:   types.SourceAPI,
		Raw:      rawOf(tx),
	}
	if tx.Description != "" {
		rec.Notes = types.StringPtr(tx.Description)
	}
	if tx.FeePayer == address {
		rec.FeesUSD = lamportsToSOL(decimal.NewFromInt(tx.Fee)) * solUSD
	}

	switch {
	case tx.Events.NFT != nil && tx.Events.NFT.Amount > 0:
		rec.Amount = lamportsToSOL(decimal.NewFromInt(tx.Events.NFT.Amount))
		rec.PriceUSD = solUSD
	case len(tx.TokenTransfers) > 0:
		// prefer the leg that touches this wallet
		leg := tx.TokenTransfers[0]
		for _, t := range tx.TokenTransfers {
			if t.From == address || t.To == address {
				leg = t
				break
			}
		}
		rec.Asset = mintSymbol(leg.Mint)
		rec.Amount = leg.TokenAmount
		rec.PriceUSD = usdQuote(quotes, rec.Asset).USD
	default:
		var lamports int64
		for _, t := range tx.NativeTransfers {
			if t.From == address || t.To == address {
				lamports += t.Amount
			}
		}
		rec.Amount = lamportsToSOL(decimal.NewFromInt(lamports))
		rec.PriceUSD = solUSD
	}
	rec.TotalValueUSD = rec.Amount * rec.PriceUSD
	return rec
}

func mintSymbol(mint string) string {
	if symbol, ok := knownMints[mint]; ok {
		return symbol
	}
	return mint
}

func lamportsToSOL(lamports decimal.Decimal) float64 {
	sol, _ := lamports.Shift(-lamportDecimals).Float64()
	return sol
}

func apiKeyQuery(apiKey string) url.Values {
	q := url.Values{}
	q.Set("api-key", apiKey)
	return q
}
