package adapter

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/types"
)

const (
	reservoirProvider = "Reservoir"
	nftAssetPrefix    = "NFT: "
	reservoirPageSize = 100
	// caps pagination so one whale wallet cannot stall a run
	reservoirMaxPages = 10
)

// ReservoirAmount carries a price in native coin and USD
type ReservoirAmount struct {
	Native  float64 `json:"native"`
	Decimal float64 `json:"decimal"`
	USD     float64 `json:"usd"`
}

// ReservoirUserToken is one entry of /users/:user/tokens
type ReservoirUserToken struct {
	Token struct {
		Contract   string `json:"contract"`
		TokenID    string `json:"tokenId"`
		Name       string `json:"name"`
		Collection struct {
			ID            string `json:"id"`
			Name          string `json:"name"`
			FloorAskPrice *struct {
				Amount   ReservoirAmount `json:"amount"`
				Currency struct {
					Symbol string `json:"symbol"`
				} `json:"currency"`
			} `json:"floorAskPrice"`
		} `json:"collection"`
	} `json:"token"`
	Ownership struct {
		TokenCount string `json:"tokenCount"`
	} `json:"ownership"`
}

// ReservoirTokensResponse is the /users/:user/tokens response
type ReservoirTokensResponse struct {
	Tokens       []ReservoirUserToken `json:"tokens"`
	Continuation *string              `json:"continuation"`
}

// ReservoirActivity is one entry of /users/activity
type ReservoirActivity struct {
	Type        string `json:"type"`
	FromAddress string `json:"fromAddress"`
	ToAddress   string `json:"toAddress"`
	Amount      int64  `json:"amount"`
	Timestamp   int64  `json:"timestamp"`
	TxHash      string `json:"txHash"`
	LogIndex    int64  `json:"logIndex"`
	Price       *struct {
		Amount ReservoirAmount `json:"amount"`
	} `json:"price"`
	Token struct {
		TokenID   string `json:"tokenId"`
		TokenName string `json:"tokenName"`
	} `json:"token"`
	Collection struct {
		CollectionID   string `json:"collectionId"`
		CollectionName string `json:"collectionName"`
	} `json:"collection"`
}

// ReservoirActivityResponse is the /users/activity response
type ReservoirActivityResponse struct {
	Activities   []ReservoirActivity `json:"activities"`
	Continuation *string             `json:"continuation"`
}

// ReservoirAdapter values NFT holdings at collection floor through the
// Reservoir marketplace aggregator. Floors are in ETH; USD values are filled
// in by the aggregator after one shared ETH price lookup.
type ReservoirAdapter struct {
	http   *jsonClient
	logger *logging.Logger
}

// NewReservoirAdapter creates an NFT aggregator adapter
func NewReservoirAdapter(cfg ClientConfig) *ReservoirAdapter {
	return &ReservoirAdapter{
		http:   newJSONClient(reservoirProvider, cfg),
		logger: cfg.logger().WithPlatform(types.PlatformBlur),
	}
}

func (a *ReservoirAdapter) Platform() types.Platform { return types.PlatformBlur }

func (a *ReservoirAdapter) RequiredCredentials() []string { return []string{KeyAddress} }

func (a *ReservoirAdapter) OptionalCredentials() []string { return []string{KeyAPIKey} }

func (a *ReservoirAdapter) Health() []ProviderHealth {
	return []ProviderHealth{a.http.health()}
}

func (a *ReservoirAdapter) headers(creds Credentials) map[string]string {
	if key := creds.Get(KeyAPIKey); key != "" {
		return map[string]string{"x-api-key": key}
	}
	return nil
}

// FetchNativeHoldings groups owned tokens per collection and values each at
// floor in ETH. USD fields stay zero.
func (a *ReservoirAdapter) FetchNativeHoldings(ctx context.Context, creds Credentials) ([]types.NativeHolding, error) {
	user := strings.ToLower(creds.Get(KeyAddress))
	headers := a.headers(creds)

	type collectionTotal struct {
		name   string
		count  float64
		native float64
	}
	var order []string
	byCollection := make(map[string]*collectionTotal)

	var continuation string
	for page := 0; page < reservoirMaxPages; page++ {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(reservoirPageSize))
		if continuation != "" {
			q.Set("continuation", continuation)
		}

		var resp ReservoirTokensResponse
		if err := a.http.get(ctx, "/users/"+user+"/tokens/v10", q, headers, &resp); err != nil {
			return nil, err
		}

		for _, t := range resp.Tokens {
			coll := t.Token.Collection
			key := coll.ID
			if key == "" {
				key = strings.ToLower(t.Token.Contract)
			}
			total, ok := byCollection[key]
			if !ok {
				name := coll.Name
				if name == "" {
					name = t.Token.Contract
				}
				total = &collectionTotal{name: name}
				byCollection[key] = total
				order = append(order, key)
			}

			count := parseFloat(t.Ownership.TokenCount)
			if count == 0 {
				count = 1
			}
			total.count += count
			if coll.FloorAskPrice != nil {
				total.native += coll.FloorAskPrice.Amount.Native * count
			}
		}

		if resp.Continuation == nil || *resp.Continuation == "" {
			break
		}
		continuation = *resp.Continuation
	}

	holdings := make([]types.NativeHolding, 0, len(order))
	for _, key := range order {
		total := byCollection[key]
		holdings = append(holdings, types.NativeHolding{
			Holding: types.Holding{
				Asset:    nftAssetPrefix + total.name,
				Platform: types.PlatformBlur,
				Amount:   total.count,
			},
			NativeCoin:  nativeETH,
			NativeValue: total.native,
		})
	}
	return holdings, nil
}

// FetchHoldings returns the phase-one holdings with USD fields at zero
func (a *ReservoirAdapter) FetchHoldings(ctx context.Context, creds Credentials) ([]types.Holding, error) {
	native, err := a.FetchNativeHoldings(ctx, creds)
	if err != nil {
		return nil, err
	}
	holdings := make([]types.Holding, 0, len(native))
	for _, nh := range native {
		holdings = append(holdings, nh.Holding)
	}
	return holdings, nil
}

// FetchTrades maps sales, mints and transfers from the activity feed
func (a *ReservoirAdapter) FetchTrades(ctx context.Context, creds Credentials) ([]types.TradeRecord, error) {
	user := strings.ToLower(creds.Get(KeyAddress))

	q := url.Values{}
	q.Set("users", user)
	q.Set("limit", strconv.Itoa(reservoirPageSize))
	q.Add("types", "sale")
	q.Add("types", "mint")
	q.Add("types", "transfer")

	var resp ReservoirActivityResponse
	if err := a.http.get(ctx, "/users/activity/v6", q, a.headers(creds), &resp); err != nil {
		return nil, err
	}

	trades := make([]types.TradeRecord, 0, len(resp.Activities))
	for _, act := range resp.Activities {
		if rec, ok := convertActivity(act, user); ok {
			trades = append(trades, rec)
		}
	}
	return trades, nil
}

func convertActivity(act ReservoirActivity, user string) (types.TradeRecord, bool) {
	var priceUSD, priceNative float64
	if act.Price != nil {
		priceUSD = act.Price.Amount.USD
		priceNative = act.Price.Amount.Native
	}

	var tradeType types.TradeType
	switch act.Type {
	case "sale":
		tradeType = types.TradeSell
		if strings.EqualFold(act.ToAddress, user) {
			tradeType = types.TradeBuy
		}
	case "mint":
		tradeType = types.TradeBuy
		if priceNative == 0 && priceUSD == 0 {
			tradeType = types.TradeAirdrop
		}
	case "transfer":
		tradeType = types.TradeTransfer
	default:
		return types.TradeRecord{}, false
	}

	amount := float64(act.Amount)
	if amount == 0 {
		amount = 1
	}

	name := act.Collection.CollectionName
	if name == "" {
		name = act.Collection.CollectionID
	}

	rec := types.TradeRecord{
		ID:            types.TradeID(types.PlatformBlur, act.TxHash+"-"+act.Token.TokenID),
		Date:          unixTime(act.Timestamp),
		Platform:      types.PlatformBlur,
		Type:          tradeType,
		Asset:         nftAssetPrefix + name,
		Amount:        amount,
		PriceUSD:      priceUSD,
		TotalValueUSD: priceUSD * amount,
		Source:        types.SourceAPI,
		Raw:           rawOf(act),
	}
	if act.TxHash != "" {
		rec.TxHash = types.StringPtr(act.TxHash)
	}
	if act.Token.TokenName != "" {
		rec.Notes = types.StringPtr(act.Token.TokenName)
	}
	return rec, true
}
