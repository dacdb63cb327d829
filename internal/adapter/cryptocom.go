package adapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
)

const (
	cryptoComProvider = "Crypto.com"

	// nested params deeper than this are rendered with fmt, matching the exchange
	maxParamLevel = 3
)

// flexFloat accepts numbers encoded either as JSON numbers or strings
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || string(data) == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

// flexString accepts ids encoded either as JSON strings or numbers
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = flexString(bytes.Trim(data, `"`))
	return nil
}

// CryptoComRequest is the signed body of a private call
type CryptoComRequest struct {
	ID     int64                  `json:"id"`
	Method string                 `json:"method"`
	APIKey string                 `json:"api_key"`
	Params map[string]interface{} `json:"params"`
	Nonce  int64                  `json:"nonce"`
	Sig    string                 `json:"sig"`
}

// CryptoComResponse is the envelope of every response
type CryptoComResponse struct {
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// CryptoComAccount is one currency of private/get-account-summary
type CryptoComAccount struct {
	Currency  string    `json:"currency"`
	Balance   flexFloat `json:"balance"`
	Available flexFloat `json:"available"`
	Order     flexFloat `json:"order"`
	Stake     flexFloat `json:"stake"`
}

// CryptoComOrder is one entry of private/get-order-history
type CryptoComOrder struct {
	OrderID            flexString `json:"order_id"`
	Status             string     `json:"status"`
	Side               string     `json:"side"`
	InstrumentName     string     `json:"instrument_name"`
	CreateTime         int64      `json:"create_time"`
	UpdateTime         int64      `json:"update_time"`
	CumulativeQuantity flexFloat  `json:"cumulative_quantity"`
	CumulativeValue    flexFloat  `json:"cumulative_value"`
	AvgPrice           flexFloat  `json:"avg_price"`
	FeeCurrency        string     `json:"fee_currency"`
	CumulativeFee      flexFloat  `json:"cumulative_fee"`
}

// CryptoComTransfer is one deposit or withdrawal
type CryptoComTransfer struct {
	ID         flexString `json:"id"`
	Currency   string     `json:"currency"`
	Amount     flexFloat  `json:"amount"`
	Fee        flexFloat  `json:"fee"`
	Address    string     `json:"address"`
	Status     string     `json:"status"`
	TxID       string     `json:"txid"`
	CreateTime int64      `json:"create_time"`
}

// Sign returns the hex HMAC-SHA256 of method, id, api key, the sorted
// parameter string and nonce, keyed by secret
func Sign(secret, method string, id int64, apiKey string, params map[string]interface{}, nonce int64) string {
	payload := method + strconv.FormatInt(id, 10) + apiKey + paramsToString(params, 0) + strconv.FormatInt(nonce, 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// paramsToString concatenates key then value over lexicographically sorted
// keys. Lists are flattened element by element.
func paramsToString(params map[string]interface{}, level int) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		switch v := params[k].(type) {
		case nil:
			b.WriteString("null")
		case []map[string]interface{}:
			for _, sub := range v {
				b.WriteString(nestedParam(sub, level+1))
			}
		case []interface{}:
			for _, sub := range v {
				if m, ok := sub.(map[string]interface{}); ok {
					b.WriteString(nestedParam(m, level+1))
				} else {
					b.WriteString(paramValue(sub))
				}
			}
		default:
			b.WriteString(paramValue(v))
		}
	}
	return b.String()
}

func nestedParam(m map[string]interface{}, level int) string {
	if level >= maxParamLevel {
		return fmt.Sprint(m)
	}
	return paramsToString(m, level)
}

func paramValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// CryptoComAdapter reads balances and history from the signed exchange API
type CryptoComAdapter struct {
	http   *jsonClient
	prices PriceSource
	logger *logging.Logger
	now    func() time.Time
}

// NewCryptoComAdapter creates a Crypto.com exchange adapter
func NewCryptoComAdapter(cfg ClientConfig, prices PriceSource) *CryptoComAdapter {
	return &CryptoComAdapter{
		http:   newJSONClient(cryptoComProvider, cfg),
		prices: prices,
		logger: cfg.logger().WithPlatform(types.PlatformCryptoCom),
		now:    time.Now,
	}
}

func (a *CryptoComAdapter) Platform() types.Platform { return types.PlatformCryptoCom }

func (a *CryptoComAdapter) RequiredCredentials() []string {
	return []string{KeyAPIKey, KeyAPISecret}
}

func (a *CryptoComAdapter) OptionalCredentials() []string { return nil }

func (a *CryptoComAdapter) Health() []ProviderHealth {
	return []ProviderHealth{a.http.health()}
}

// call signs and posts a private method. A non-zero code is an application
// error even when the HTTP status was 2xx.
func (a *CryptoComAdapter) call(ctx context.Context, creds Credentials, method string, params map[string]interface{}, out interface{}) error {
	if params == nil {
		params = map[string]interface{}{}
	}
	nonce := a.now().UnixMilli()
	apiKey := creds.Get(KeyAPIKey)

	req := CryptoComRequest{
		ID:     nonce,
		Method: method,
		APIKey: apiKey,
		Params: params,
		Nonce:  nonce,
	}
	req.Sig = Sign(creds.Get(KeyAPISecret), method, req.ID, apiKey, params, nonce)

	var resp CryptoComResponse
	if err := a.http.post(ctx, "/"+method, req, nil, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return a.http.applicationFailure(resp.Code, resp.Message)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// FetchHoldings sums available, on-order and staked balances per currency
func (a *CryptoComAdapter) FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error) {
	var summary struct {
		Accounts []CryptoComAccount `json:"accounts"`
	}
	if err := a.call(ctx, creds, "private/get-account-summary", nil, &summary); err != nil {
		return nil, err
	}

	totals := newSymbolTotals()
	for _, acct := range summary.Accounts {
		amount := float64(acct.Available + acct.Order + acct.Stake)
		if amount <= 0 {
			continue
		}
		totals.add(strings.ToUpper(acct.Currency), amount)
	}

	quotes := quotesOrEmpty(ctx, a.prices, totals.symbols(), a.logger)

	holdings := make([]types.Holding, 0, len(totals.order))
	for _, symbol := range totals.symbols() {
		holdings = append(holdings, pricedHolding(types.PlatformCryptoCom, symbol, totals.amount[symbol], usdQuote(quotes, symbol)))
	}
	return holdings, nil
}

// FetchTrades merges filled orders with deposits and withdrawals, newest first
func (a *CryptoComAdapter) FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error) {
	var orders struct {
		OrderList []CryptoComOrder `json:"order_list"`
	}
	if err := a.call(ctx, creds, "private/get-order-history", map[string]interface{}{"page_size": 200}, &orders); err != nil {
		return nil, err
	}

	var deposits struct {
		DepositList []CryptoComTransfer `json:"deposit_list"`
	}
	if err := a.call(ctx, creds, "private/get-deposit-history", map[string]interface{}{"page_size": 200}, &deposits); err != nil {
		return nil, err
	}

	var withdrawals struct {
		WithdrawalList []CryptoComTransfer `json:"withdrawal_list"`
	}
	if err := a.call(ctx, creds, "private/get-withdrawal-history", map[string]interface{}{"page_size": 200}, &withdrawals); err != nil {
		return nil, err
	}

	var symbols []string
	for _, o := range orders.OrderList {
		_, quote := splitInstrument(o.InstrumentName)
		symbols = append(symbols, quote, o.FeeCurrency)
	}
	quotes := quotesOrEmpty(ctx, a.prices, symbols, a.logger)

	var trades []types.TradeRecord
	for _, o := range orders.OrderList {
		if o.CumulativeQuantity <= 0 {
			continue
		}
		trades = append(trades, convertOrder(o, quotes))
	}
	for _, d := range deposits.DepositList {
		trades = append(trades, convertTransfer(d, "dep", "deposit"))
	}
	for _, w := range withdrawals.WithdrawalList {
		trades = append(trades, convertTransfer(w, "wd", "withdrawal"))
	}

	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Date.After(trades[j].Date) })
	return trades, nil
}

func convertOrder(o CryptoComOrder, quotes map[string]price.Quote) types.TradeRecord {
	base, quote := splitInstrument(o.InstrumentName)
	quoteUSD := usdQuote(quotes, quote).USD

	tradeType := types.TradeSell
	if strings.EqualFold(o.Side, "BUY") {
		tradeType = types.TradeBuy
	}

	ts := o.UpdateTime
	if ts == 0 {
		ts = o.CreateTime
	}

	return types.TradeRecord{
		ID:            types.TradeID(types.PlatformCryptoCom, string(o.OrderID)),
		Date:          unixTime(ts),
		Platform:      types.PlatformCryptoCom,
		Type:          tradeType,
		Asset:         base,
		Amount:        float64(o.CumulativeQuantity),
		PriceUSD:      float64(o.AvgPrice) * quoteUSD,
		TotalValueUSD: float64(o.CumulativeValue) * quoteUSD,
		FeesUSD:       float64(o.CumulativeFee) * usdQuote(quotes, o.FeeCurrency).USD,
		Source:        types.SourceAPI,
		Notes:         types.StringPtr(o.InstrumentName),
		Raw:           rawOf(o),
	}
}

// convertTransfer maps a deposit or withdrawal; these are never priced
func convertTransfer(t CryptoComTransfer, idPrefix, note string) types.TradeRecord {
	rec := types.TradeRecord{
		ID:       types.TradeID(types.PlatformCryptoCom, idPrefix+"-"+string(t.ID)),
		Date:     unixTime(t.CreateTime),
		Platform: types.PlatformCryptoCom,
		Type:     types.TradeTransfer,
		Asset:    strings.ToUpper(t.Currency),
		Amount:   float64(t.Amount),
		Source:   types.SourceAPI,
		Notes:    types.StringPtr(note),
		Raw:      rawOf(t),
	}
	if t.TxID != "" {
		rec.TxHash = types.StringPtr(t.TxID)
	}
	return rec
}

// splitInstrument turns "BTC_USDT" into ("BTC", "USDT")
func splitInstrument(name string) (string, string) {
	parts := strings.SplitN(strings.ToUpper(name), "_", 2)
	if len(parts) != 2 {
		return parts[0], "USD"
	}
	return parts[0], parts[1]
}
