package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

const (
	etherscanProvider = "Etherscan"
	nativeETH         = "ETH"
	weiDecimals       = 18
)

// dustThreshold filters token balances that only remain from rounding
var dustThreshold = decimal.New(1, -6)

// EtherscanTransaction represents a normal transaction from the txlist action
type EtherscanTransaction struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	FunctionName    string `json:"functionName"`
	ContractAddress string `json:"contractAddress"`
}

// EtherscanTokenTransfer represents an ERC20 token transfer from the tokentx action
type EtherscanTokenTransfer struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
}

// EtherscanResponse is the envelope shared by every account action. Result
// is a string for balance and errors, an array for lists.
type EtherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// EtherscanAdapter reads Ethereum balances and transfers through the
// Etherscan account API
type EtherscanAdapter struct {
	http   *jsonClient
	prices PriceSource
	logger *logging.Logger
}

// NewEtherscanAdapter creates an Etherscan-backed adapter
func NewEtherscanAdapter(cfg ClientConfig, prices PriceSource) *EtherscanAdapter {
	return &EtherscanAdapter{
		http:   newJSONClient(etherscanProvider, cfg),
		prices: prices,
		logger: cfg.logger().WithPlatform(types.PlatformEthereum),
	}
}

func (a *EtherscanAdapter) Platform() types.Platform { return types.PlatformEthereum }

func (a *EtherscanAdapter) RequiredCredentials() []string { return []string{KeyAddresses} }

func (a *EtherscanAdapter) OptionalCredentials() []string { return []string{KeyAPIKey} }

func (a *EtherscanAdapter) Health() []ProviderHealth {
	return []ProviderHealth{a.http.health()}
}

// tokenBalance is a net token position for one contract
type tokenBalance struct {
	symbol string
	net    decimal.Decimal
}

// FetchHoldings sums native and token balances over every configured address.
// Addresses are queried one after another; a failing address contributes nothing.
func (a *EtherscanAdapter) FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error) {
	apiKey := creds.Get(KeyAPIKey)
	totals := newSymbolTotals()

	for _, address := range creds.List(KeyAddresses) {
		log := a.logger.WithField("address", address)

		if !common.IsHexAddress(address) {
			log.Warn("skipping invalid ethereum address")
			continue
		}
		checksummed := common.HexToAddress(address).Hex()

		wei, err := a.fetchBalance(ctx, checksummed, apiKey)
		if err != nil {
			log.WithError(err).Warn("balance lookup failed, address contributes zero")
			continue
		}

		tokens, err := a.fetchTokenBalances(ctx, checksummed, apiKey)
		if err != nil {
			log.WithError(err).Warn("token transfer lookup failed, address contributes zero")
			continue
		}

		eth, _ := wei.Shift(-weiDecimals).Float64()
		totals.add(nativeETH, eth)
		for _, tb := range tokens {
			amount, _ := tb.net.Float64()
			totals.add(tb.symbol, amount)
		}
	}

	quotes := quotesOrEmpty(ctx, a.prices, totals.symbols(), a.logger)

	var holdings []types.Holding
	for _, symbol := range totals.symbols() {
		amount := totals.amount[symbol]
		if amount <= 0 {
			continue
		}
		holdings = append(holdings, pricedHolding(types.PlatformEthereum, symbol, amount, usdQuote(quotes, symbol)))
	}
	return holdings, nil
}

// FetchTrades returns native and token transfers for every configured address
func (a *EtherscanAdapter) FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error) {
	apiKey := creds.Get(KeyAPIKey)

	type addressHistory struct {
		address string
		txs     []EtherscanTransaction
		tokens  []EtherscanTokenTransfer
	}

	var histories []addressHistory
	symbols := []string{nativeETH}
	for _, address := range creds.List(KeyAddresses) {
		log := a.logger.WithField("address", address)

		if !common.IsHexAddress(address) {
			log.Warn("skipping invalid ethereum address")
			continue
		}
		checksummed := common.HexToAddress(address).Hex()

		txs, err := a.fetchTransactionList(ctx, checksummed, apiKey)
		if err != nil {
			log.WithError(err).Warn("txlist lookup failed, address contributes no trades")
			continue
		}
		tokens, err := a.fetchTokenTransfers(ctx, checksummed, apiKey)
		if err != nil {
			log.WithError(err).Warn("tokentx lookup failed, address contributes no trades")
			continue
		}

		for _, t := range tokens {
			symbols = append(symbols, t.TokenSymbol)
		}
		histories = append(histories, addressHistory{address: checksummed, txs: txs, tokens: tokens})
	}

	quotes := quotesOrEmpty(ctx, a.prices, symbols, a.logger)
	ethQuote := price.Lookup(quotes, nativeETH)

	var trades []types.TradeRecord
	for _, h := range histories {
		for _, tx := range h.txs {
			if rec, ok := convertTransaction(tx, h.address, ethQuote.USD); ok {
				trades = append(trades, rec)
			}
		}

		seen := make(map[string]int)
		for _, tx := range h.tokens {
			key := strings.ToLower(tx.Hash + "-" + tx.ContractAddress)
			n := seen[key]
			seen[key]++
			trades = append(trades, convertTokenTransfer(tx, h.address, n, usdQuote(quotes, tx.TokenSymbol).USD, ethQuote.USD))
		}
	}
	return trades, nil
}

func (a *EtherscanAdapter) accountQuery(action, address, apiKey string) url.Values {
	params := url.Values{}
	params.Set("chainid", "1")
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", address)
	if action == "balance" {
		params.Set("tag", "latest")
	} else {
		params.Set("startblock", "0")
		params.Set("endblock", "99999999")
		params.Set("sort", "asc")
	}
	if apiKey != "" {
		params.Set("apikey", apiKey)
	}
	return params
}

// call runs one account action and returns the raw result, mapping the
// "no records" case to an empty result
func (a *EtherscanAdapter) call(ctx context.Context, params url.Values) (json.RawMessage, error) {
	var resp EtherscanResponse
	if err := a.http.get(ctx, "", params, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Status == "1" {
		return resp.Result, nil
	}
	if strings.HasPrefix(resp.Message, "No transactions found") || strings.HasPrefix(resp.Message, "No records found") {
		return json.RawMessage("[]"), nil
	}

	var detail string
	_ = json.Unmarshal(resp.Result, &detail)
	return nil, a.http.applicationFailure(resp.Message, detail)
}

func (a *EtherscanAdapter) fetchBalance(ctx context.Context, address, apiKey string) (decimal.Decimal, error) {
	raw, err := a.call(ctx, a.accountQuery("balance", address, apiKey))
	if err != nil {
		return decimal.Zero, err
	}

	var wei string
	if err := json.Unmarshal(raw, &wei); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance: %w", err)
	}
	return parseDecimal(wei), nil
}

func (a *EtherscanAdapter) fetchTransactionList(ctx context.Context, address, apiKey string) ([]EtherscanTransaction, error) {
	raw, err := a.call(ctx, a.accountQuery("txlist", address, apiKey))
	if err != nil {
		return nil, err
	}

	var txs []EtherscanTransaction
	if err := json.Unmarshal(raw, &txs); err != nil {
		return nil, fmt.Errorf("decode txlist: %w", err)
	}
	return txs, nil
}

func (a *EtherscanAdapter) fetchTokenTransfers(ctx context.Context, address, apiKey string) ([]EtherscanTokenTransfer, error) {
	raw, err := a.call(ctx, a.accountQuery("tokentx", address, apiKey))
	if err != nil {
		return nil, err
	}

	var transfers []EtherscanTokenTransfer
	if err := json.Unmarshal(raw, &transfers); err != nil {
		return nil, fmt.Errorf("decode tokentx: %w", err)
	}
	return transfers, nil
}

// fetchTokenBalances nets every token transfer in and out of address
func (a *EtherscanAdapter) fetchTokenBalances(ctx context.Context, address, apiKey string) ([]tokenBalance, error) {
	transfers, err := a.fetchTokenTransfers(ctx, address, apiKey)
	if err != nil {
		return nil, err
	}
	return netTokenBalances(transfers, address), nil
}

// netTokenBalances returns Σin − Σout per contract, dropping dust and
// negative remainders
func netTokenBalances(transfers []EtherscanTokenTransfer, address string) []tokenBalance {
	var order []string
	byContract := make(map[string]*tokenBalance)

	for _, tx := range transfers {
		contract := strings.ToLower(tx.ContractAddress)
		tb, ok := byContract[contract]
		if !ok {
			tb = &tokenBalance{symbol: strings.ToUpper(tx.TokenSymbol), net: decimal.Zero}
			byContract[contract] = tb
			order = append(order, contract)
		}

		decimals, _ := strconv.Atoi(tx.TokenDecimal)
		amount := parseDecimal(tx.Value).Shift(int32(-decimals))

		if strings.EqualFold(tx.To, address) {
			tb.net = tb.net.Add(amount)
		}
		if strings.EqualFold(tx.From, address) {
			tb.net = tb.net.Sub(amount)
		}
	}

	var out []tokenBalance
	for _, contract := range order {
		tb := byContract[contract]
		if tb.net.LessThan(dustThreshold) {
			continue
		}
		out = append(out, *tb)
	}
	return out
}

// convertTransaction maps a native transfer; failed and zero-value calls are skipped
func convertTransaction(tx EtherscanTransaction, address string, ethUSD float64) (types.TradeRecord, bool) {
	if tx.IsError == "1" {
		return types.TradeRecord{}, false
	}
	amount, _ := parseDecimal(tx.Value).Shift(-weiDecimals).Float64()
	outgoing := strings.EqualFold(tx.From, address)
	if amount == 0 && !outgoing {
		return types.TradeRecord{}, false
	}

	var fees float64
	if outgoing {
		fees = gasCostETH(tx.GasUsed, tx.GasPrice) * ethUSD
	}

	timestamp, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
	return types.TradeRecord{
		ID:            types.TradeID(types.PlatformEthereum, tx.Hash),
		Date:          unixTime(timestamp),
		Platform:      types.PlatformEthereum,
		Type:          types.TradeTransfer,
		Asset:         nativeETH,
		Amount:        amount,
		PriceUSD:      ethUSD,
		TotalValueUSD: amount * ethUSD,
		FeesUSD:       fees,
		TxHash:        types.StringPtr(tx.Hash),
		Source:        types.SourceAPI,
		Notes:         types.StringPtr(directionNote(outgoing, tx.From, tx.To)),
		Raw:           rawOf(tx),
	}, true
}

// convertTokenTransfer maps an ERC20 transfer; n disambiguates repeated
// transfers of one contract inside the same transaction
func convertTokenTransfer(tx EtherscanTokenTransfer, address string, n int, tokenUSD, ethUSD float64) types.TradeRecord {
	decimals, _ := strconv.Atoi(tx.TokenDecimal)
	amount, _ := parseDecimal(tx.Value).Shift(int32(-decimals)).Float64()
	outgoing := strings.EqualFold(tx.From, address)

	var fees float64
	if outgoing {
		fees = gasCostETH(tx.GasUsed, tx.GasPrice) * ethUSD
	}

	timestamp, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
	nativeID := fmt.Sprintf("%s-%s-%d", tx.Hash, strings.ToLower(tx.ContractAddress), n)
	return types.TradeRecord{
		ID:            types.TradeID(types.PlatformEthereum, nativeID),
		Date:          unixTime(timestamp),
		Platform:      types.PlatformEthereum,
		Type:          types.TradeTransfer,
		Asset:         strings.ToUpper(tx.TokenSymbol),
		Amount:        amount,
		PriceUSD:      tokenUSD,
		TotalValueUSD: amount * tokenUSD,
		FeesUSD:       fees,
		TxHash:        types.StringPtr(tx.Hash),
		Source:        types.SourceAPI,
		Notes:         types.StringPtr(directionNote(outgoing, tx.From, tx.To)),
		Raw:           rawOf(tx),
	}
}

func gasCostETH(gasUsed, gasPrice string) float64 {
	cost, _ := parseDecimal(gasUsed).Mul(parseDecimal(gasPrice)).Shift(-weiDecimals).Float64()
	return cost
}

func directionNote(outgoing bool, from, to string) string {
	if outgoing {
		return "sent to " + to
	}
	return "received from " + from
}

// parseDecimal parses an integer or decimal string, treating garbage as zero
func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
