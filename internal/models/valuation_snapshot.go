// Package models holds persisted record types.
package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/portfolio-aggregator/internal/valuation"
)

// ValuationSnapshot is one persisted aggregation run
type ValuationSnapshot struct {
	ID               string                    `json:"id" db:"id"`
	RunID            string                    `json:"runId" db:"run_id"`
	TakenAt          time.Time                 `json:"takenAt" db:"taken_at"`
	TotalValueUSD    float64                   `json:"totalValueUsd" db:"total_value_usd"`
	Change24hUSD     float64                   `json:"change24hUsd" db:"change_24h_usd"`
	Change24hPercent float64                   `json:"change24hPercent" db:"change_24h_percent"`
	FiatCurrency     string                    `json:"fiatCurrency" db:"fiat_currency"`
	FiatRate         float64                   `json:"fiatRate" db:"fiat_rate"`
	ByPlatform       []valuation.PlatformValue `json:"byPlatform" db:"by_platform"`
	Holdings         []types.Holding           `json:"holdings" db:"holdings"`
	Errors           []types.PlatformError     `json:"errors" db:"errors"`
	CreatedAt        time.Time                 `json:"createdAt" db:"created_at"`
}

// TotalValueFiat converts the total into the snapshot's fiat currency
func (s *ValuationSnapshot) TotalValueFiat() float64 {
	return s.TotalValueUSD * s.FiatRate
}
