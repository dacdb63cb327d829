package valuation

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/portfolio-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEmpty(t *testing.T) {
	v := Compute(nil)
	assert.Equal(t, 0.0, v.TotalValueUSD)
	assert.Equal(t, 0.0, v.Change24hUSD)
	assert.Equal(t, 0.0, v.Change24hPercent)
	assert.Empty(t, v.ByPlatform)
}

func TestComputeSingleHolding(t *testing.T) {
	h := types.Holding{Platform: types.PlatformEthereum, CurrentValueUSD: 1000, Change24hPercent: 25}

	prior, ok := PriorValue(h)
	require.True(t, ok)
	assert.InDelta(t, 800, prior, 1e-9)

	v := Compute([]types.Holding{h})
	assert.InDelta(t, 1000, v.TotalValueUSD, 1e-9)
	assert.InDelta(t, 200, v.Change24hUSD, 1e-9)
	assert.InDelta(t, 25, v.Change24hPercent, 1e-9)
}

func TestComputeGuardsTotalLoss(t *testing.T) {
	tests := []struct {
		name string
		pct  float64
	}{
		{"minus 100", -100},
		{"below minus 100", -150},
		{"nan", math.NaN()},
		{"inf", math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			holdings := []types.Holding{
				{Platform: types.PlatformSolana, CurrentValueUSD: 50, Change24hPercent: tt.pct},
				{Platform: types.PlatformBitcoin, CurrentValueUSD: 1100, Change24hPercent: 10},
			}

			v := Compute(holdings)
			assert.InDelta(t, 1150, v.TotalValueUSD, 1e-9)
			assert.InDelta(t, 100, v.Change24hUSD, 1e-9)
			assert.InDelta(t, 10, v.Change24hPercent, 1e-9)
		})
	}
}

func TestComputeZeroPriorSum(t *testing.T) {
	v := Compute([]types.Holding{{Platform: types.PlatformBlur, CurrentValueUSD: 0}})
	assert.Equal(t, 0.0, v.Change24hPercent)
}

func TestComputeByPlatform(t *testing.T) {
	v := Compute([]types.Holding{
		{Platform: types.PlatformEthereum, Asset: "ETH", CurrentValueUSD: 250},
		{Platform: types.PlatformBitcoin, Asset: "BTC", CurrentValueUSD: 600},
		{Platform: types.PlatformEthereum, Asset: "USDC", CurrentValueUSD: 150},
	})

	require.Len(t, v.ByPlatform, 2)
	assert.Equal(t, types.PlatformBitcoin, v.ByPlatform[0].Platform)
	assert.InDelta(t, 60, v.ByPlatform[0].SharePercent, 1e-9)
	assert.Equal(t, types.PlatformEthereum, v.ByPlatform[1].Platform)
	assert.InDelta(t, 400, v.ByPlatform[1].ValueUSD, 1e-9)
	assert.Equal(t, 2, v.ByPlatform[1].HoldingsCount)
}

func TestComputeProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	genHolding := gopter.CombineGens(
		gen.Float64Range(0, 1e6),
		gen.Float64Range(-200, 500),
	).Map(func(vals []interface{}) types.Holding {
		return types.Holding{
			Platform:         types.PlatformOther,
			CurrentValueUSD:  vals[0].(float64),
			Change24hPercent: vals[1].(float64),
		}
	})

	properties.Property("results are always finite", prop.ForAll(
		func(holdings []types.Holding) bool {
			v := Compute(holdings)
			for _, x := range []float64{v.TotalValueUSD, v.Change24hUSD, v.Change24hPercent} {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genHolding),
	))

	properties.Property("uniform change is reported as that change", prop.ForAll(
		func(values []float64, pct float64) bool {
			holdings := make([]types.Holding, len(values))
			var total float64
			for i, val := range values {
				holdings[i] = types.Holding{CurrentValueUSD: val, Change24hPercent: pct}
				total += val
			}
			v := Compute(holdings)
			if total == 0 {
				return v.Change24hPercent == 0
			}
			return math.Abs(v.Change24hPercent-pct) < 1e-6
		},
		gen.SliceOf(gen.Float64Range(1, 1e5)),
		gen.Float64Range(-99, 300),
	))

	properties.TestingRun(t)
}
