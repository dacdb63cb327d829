// Package valuation computes portfolio totals and the inferred 24h change.
package valuation

import (
	"math"
	"sort"

	"github.com/portfolio-aggregator/internal/types"
)

// PlatformValue is one platform's share of the portfolio
type PlatformValue struct {
	Platform      types.Platform `json:"platform"`
	ValueUSD      float64        `json:"valueUsd"`
	SharePercent  float64        `json:"sharePercent"`
	HoldingsCount int            `json:"holdingsCount"`
}

// Valuation summarizes a set of holdings
type Valuation struct {
	TotalValueUSD    float64         `json:"totalValueUsd"`
	Change24hUSD     float64         `json:"change24hUsd"`
	Change24hPercent float64         `json:"change24hPercent"`
	ByPlatform       []PlatformValue `json:"byPlatform"`
}

// PriorValue infers a holding's value 24h ago from its current value and the
// unit price change. ok is false when the prior cannot be recovered.
func PriorValue(h types.Holding) (prior float64, ok bool) {
	if h.Change24hPercent <= -100 || math.IsNaN(h.Change24hPercent) || math.IsInf(h.Change24hPercent, 0) {
		return 0, false
	}
	prior = h.CurrentValueUSD / (1 + h.Change24hPercent/100)
	if math.IsNaN(prior) || math.IsInf(prior, 0) {
		return 0, false
	}
	return prior, true
}

// Compute values holdings. Holdings whose prior is unrecoverable count toward
// the total but are left out of both sides of the 24h change.
func Compute(holdings []types.Holding) Valuation {
	v := Valuation{ByPlatform: []PlatformValue{}}

	var priorSum, comparableSum float64
	byPlatform := make(map[types.Platform]*PlatformValue)
	var order []types.Platform

	for _, h := range holdings {
		v.TotalValueUSD += h.CurrentValueUSD

		if prior, ok := PriorValue(h); ok {
			priorSum += prior
			comparableSum += h.CurrentValueUSD
		}

		pv, seen := byPlatform[h.Platform]
		if !seen {
			pv = &PlatformValue{Platform: h.Platform}
			byPlatform[h.Platform] = pv
			order = append(order, h.Platform)
		}
		pv.ValueUSD += h.CurrentValueUSD
		pv.HoldingsCount++
	}

	v.Change24hUSD = comparableSum - priorSum
	if priorSum != 0 {
		v.Change24hPercent = v.Change24hUSD / priorSum * 100
	}

	for _, p := range order {
		pv := *byPlatform[p]
		if v.TotalValueUSD != 0 {
			pv.SharePercent = pv.ValueUSD / v.TotalValueUSD * 100
		}
		v.ByPlatform = append(v.ByPlatform, pv)
	}
	sort.SliceStable(v.ByPlatform, func(i, j int) bool {
		return v.ByPlatform[i].ValueUSD > v.ByPlatform[j].ValueUSD
	})

	return v
}
