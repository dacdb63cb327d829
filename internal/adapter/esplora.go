package adapter

import (
	"context"
	"sort"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/price"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/shopspring/decimal"
)

const (
	esploraProvider = "Esplora"
	nativeBTC       = "BTC"
	satDecimals     = 8
)

// EsploraStats holds funded/spent output sums for one address
type EsploraStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
	TxCount      int64 `json:"tx_count"`
}

// EsploraAddress is the /address/:address response
type EsploraAddress struct {
	Address      string       `json:"address"`
	ChainStats   EsploraStats `json:"chain_stats"`
	MempoolStats EsploraStats `json:"mempool_stats"`
}

// EsploraOutput is a transaction output, or a spent one as a prevout
type EsploraOutput struct {
	Address string `json:"scriptpubkey_address"`
	Value   int64  `json:"value"`
}

// EsploraInput is a transaction input with the output it spends
type EsploraInput struct {
	Prevout *EsploraOutput `json:"prevout"`
}

// EsploraTx is an item of the /address/:address/txs response
type EsploraTx struct {
	TxID   string `json:"txid"`
	Fee    int64  `json:"fee"`
	Status struct {
		Confirmed bool  `json:"confirmed"`
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
	Vin  []EsploraInput  `json:"vin"`
	Vout []EsploraOutput `json:"vout"`
}

// EsploraAdapter reads Bitcoin balances from an Esplora-compatible explorer
type EsploraAdapter struct {
	http   *jsonClient
	prices PriceSource
	logger *logging.Logger
}

// NewEsploraAdapter creates an Esplora-backed adapter
func NewEsploraAdapter(cfg ClientConfig, prices PriceSource) *EsploraAdapter {
	return &EsploraAdapter{
		http:   newJSONClient(esploraProvider, cfg),
		prices: prices,
		logger: cfg.logger().WithPlatform(types.PlatformBitcoin),
	}
}

func (a *EsploraAdapter) Platform() types.Platform { return types.PlatformBitcoin }

func (a *EsploraAdapter) RequiredCredentials() []string { return []string{KeyAddresses} }

func (a *EsploraAdapter) OptionalCredentials() []string { return nil }

func (a *EsploraAdapter) Health() []ProviderHealth {
	return []ProviderHealth{a.http.health()}
}

// FetchHoldings returns one BTC holding for the confirmed balance summed over
// all addresses, or nothing when that sum is not positive
func (a *EsploraAdapter) FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error) {
	var sats int64
	for _, address := range creds.List(KeyAddresses) {
		var info EsploraAddress
		if err := a.http.get(ctx, "/address/"+address, nil, nil, &info); err != nil {
			a.logger.WithField("address", address).WithError(err).Warn("address lookup failed, contributes zero")
			continue
		}
		sats += info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum
	}

	if sats <= 0 {
		return nil, nil
	}

	btc := satsToBTC(sats)
	quotes := quotesOrEmpty(ctx, a.prices, []string{nativeBTC}, a.logger)
	return []types.Holding{
		pricedHolding(types.PlatformBitcoin, nativeBTC, btc, price.Lookup(quotes, nativeBTC)),
	}, nil
}

// FetchTrades returns confirmed transactions as transfers. Amounts are netted
// over the whole configured address set so moves between own addresses show
// only the fee.
func (a *EsploraAdapter) FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error) {
	addresses := creds.List(KeyAddresses)
	owned := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		owned[address] = true
	}

	var order []string
	byID := make(map[string]EsploraTx)
	for _, address := range addresses {
		var txs []EsploraTx
		if err := a.http.get(ctx, "/address/"+address+"/txs", nil, nil, &txs); err != nil {
			a.logger.WithField("address", address).WithError(err).Warn("transaction lookup failed, contributes no trades")
			continue
		}
		for _, tx := range txs {
			if _, dup := byID[tx.TxID]; dup {
				continue
			}
			byID[tx.TxID] = tx
			order = append(order, tx.TxID)
		}
	}

	if len(order) == 0 {
		return nil, nil
	}

	quotes := quotesOrEmpty(ctx, a.prices, []string{nativeBTC}, a.logger)
	btcUSD := price.Lookup(quotes, nativeBTC).USD

	var trades []types.TradeRecord
	for _, id := range order {
		if rec, ok := convertEsploraTx(byID[id], owned, btcUSD); ok {
			trades = append(trades, rec)
		}
	}
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].Date.After(trades[j].Date) })
	return trades, nil
}

// convertEsploraTx nets outputs received minus inputs spent by owned addresses
func convertEsploraTx(tx EsploraTx, owned map[string]bool, btcUSD float64) (types.TradeRecord, bool) {
	if !tx.Status.Confirmed {
		return types.TradeRecord{}, false
	}

	var spent, received int64
	for _, in := range tx.Vin {
		if in.Prevout != nil && owned[in.Prevout.Address] {
			spent += in.Prevout.Value
		}
	}
	for _, out := range tx.Vout {
		if owned[out.Address] {
			received += out.Value
		}
	}

	net := received - spent
	outgoing := spent > 0
	if outgoing {
		// the fee is part of what was spent; report it separately
		net += tx.Fee
	}
	if net == 0 && !outgoing {
		return types.TradeRecord{}, false
	}

	amount := satsToBTC(abs64(net))
	var fees float64
	note := "received"
	if outgoing {
		fees = satsToBTC(tx.Fee) * btcUSD
		note = "sent"
	}

	return types.TradeRecord{
		ID:            types.TradeID(types.PlatformBitcoin, tx.TxID),
		Date:          unixTime(tx.Status.BlockTime),
		Platform:      types.PlatformBitcoin,
		Type:          types.TradeTransfer,
		Asset:         nativeBTC,
		Amount:        amount,
		PriceUSD:      btcUSD,
		TotalValueUSD: amount * btcUSD,
		FeesUSD:       fees,
		TxHash:        types.StringPtr(tx.TxID),
		Source:        types.SourceAPI,
		Notes:         types.StringPtr(note),
		Raw:           rawOf(tx),
	}, true
}

func satsToBTC(sats int64) float64 {
	btc, _ := decimal.NewFromInt(sats).Shift(-satDecimals).Float64()
	return btc
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
