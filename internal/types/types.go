// Package types provides common type definitions for the portfolio aggregator.
package types

import (
	"encoding/json"
	"time"
)

// Platform identifies a data source whose positions are aggregated
type Platform string

const (
	// PlatformEthereum represents Ethereum mainnet via a chain explorer
	PlatformEthereum Platform = "ethereum"
	// PlatformBitcoin represents Bitcoin via a UTXO explorer
	PlatformBitcoin Platform = "bitcoin"
	// PlatformSolana represents Solana via an RPC node
	PlatformSolana Platform = "solana"
	// PlatformHyperliquid represents the Hyperliquid perpetual-futures venue
	PlatformHyperliquid Platform = "hyperliquid"
	// PlatformBlur represents NFT holdings priced through a marketplace aggregator
	PlatformBlur Platform = "blur"
	// PlatformCryptoCom represents the Crypto.com exchange
	PlatformCryptoCom Platform = "crypto.com"
	// PlatformOther represents anything else (manual entries)
	PlatformOther Platform = "other"
)

// AllPlatforms lists every known platform in display order
var AllPlatforms = []Platform{
	PlatformEthereum,
	PlatformBitcoin,
	PlatformSolana,
	PlatformHyperliquid,
	PlatformBlur,
	PlatformCryptoCom,
	PlatformOther,
}

func (p Platform) String() string {
	return string(p)
}

// IDPrefix returns the namespace used for trade ids originating from this platform
func (p Platform) IDPrefix() string {
	switch p {
	case PlatformEthereum:
		return "eth"
	case PlatformBitcoin:
		return "btc"
	case PlatformSolana:
		return "sol"
	case PlatformHyperliquid:
		return "hl"
	case PlatformBlur:
		return "blur"
	case PlatformCryptoCom:
		return "cdc"
	default:
		return "other"
	}
}

// IsValid reports whether p is one of the known platforms
func (p Platform) IsValid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// TradeID builds a stable, source-namespaced trade identifier
func TradeID(p Platform, nativeID string) string {
	return p.IDPrefix() + "-" + nativeID
}

// TradeType classifies a historical event
type TradeType string

const (
	TradeBuy         TradeType = "buy"
	TradeSell        TradeType = "sell"
	TradeSwap        TradeType = "swap"
	TradeTransfer    TradeType = "transfer"
	TradeLiquidation TradeType = "liquidation"
	TradeAirdrop     TradeType = "airdrop"
	TradeOther       TradeType = "other"
)

// TradeSource tells whether a record came from a provider or a manual entry
type TradeSource string

const (
	// SourceAPI marks records fetched from a provider
	SourceAPI TradeSource = "api"
	// SourceManual marks records entered by hand
	SourceManual TradeSource = "manual"
)

// ConnectionStatus is the per-platform status reported to the status sink
type ConnectionStatus string

const (
	// StatusConnected means the last fetch succeeded and returned data
	StatusConnected ConnectionStatus = "connected"
	// StatusEmpty means the last fetch succeeded but returned nothing
	StatusEmpty ConnectionStatus = "empty"
	// StatusError means the last fetch failed
	StatusError ConnectionStatus = "error"
	// StatusUnconfigured means required credentials are missing
	StatusUnconfigured ConnectionStatus = "unconfigured"
	// StatusTesting means a fetch is in progress
	StatusTesting ConnectionStatus = "testing"
)

// Holding represents one asset position on one platform
type Holding struct {
	Asset            string   `json:"asset"`
	Platform         Platform `json:"platform"`
	Amount           float64  `json:"amount"`
	CurrentPriceUSD  float64  `json:"currentPriceUsd"`
	CurrentValueUSD  float64  `json:"currentValueUsd"`
	Change24hPercent float64  `json:"change24hPercent"`
	UnrealizedPnlUSD *float64 `json:"unrealizedPnlUsd,omitempty"` // perpetual positions only
}

// NativeHolding is a holding valued in a chain's native coin whose USD fields
// have not been filled in yet
type NativeHolding struct {
	Holding
	NativeCoin  string  `json:"nativeCoin"`
	NativeValue float64 `json:"nativeValue"`
}

// TradeRecord represents one historical event affecting a position
type TradeRecord struct {
	ID            string          `json:"id"`
	Date          time.Time       `json:"date"`
	Platform      Platform        `json:"platform"`
	Type          TradeType       `json:"type"`
	Asset         string          `json:"asset"`
	Amount        float64         `json:"amount"`
	PriceUSD      float64         `json:"priceUsd"`
	TotalValueUSD float64         `json:"totalValueUsd"`
	FeesUSD       float64         `json:"feesUsd"`
	CostBasisUSD  *float64        `json:"costBasisUsd,omitempty"` // manual entries only
	GainLossUSD   *float64        `json:"gainLossUsd,omitempty"`  // manual entries only
	TxHash        *string         `json:"txHash,omitempty"`
	Source        TradeSource     `json:"source"`
	Notes         *string         `json:"notes,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// PlatformError records a platform that failed as a whole
type PlatformError struct {
	Platform Platform `json:"platform"`
	Error    string   `json:"error"`
}

// AggregatorResult is the merged output of one aggregation run
type AggregatorResult struct {
	Holdings []Holding       `json:"holdings"`
	Trades   []TradeRecord   `json:"trades"`
	Errors   []PlatformError `json:"errors"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
