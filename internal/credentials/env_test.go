package credentials

import (
	"testing"

	"github.com/portfolio-aggregator/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestVarName(t *testing.T) {
	tests := []struct {
		platform types.Platform
		key      string
		want     string
	}{
		{types.PlatformEthereum, "addresses", "ETHEREUM_ADDRESSES"},
		{types.PlatformCryptoCom, "api_key", "CRYPTOCOM_API_KEY"},
		{types.PlatformSolana, "helius_api_key", "SOLANA_HELIUS_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, VarName(tt.platform, tt.key))
		})
	}
}

func TestEnvProviderGet(t *testing.T) {
	t.Setenv("BITCOIN_ADDRESSES", " bc1qa,bc1qb ")
	t.Setenv("HYPERLIQUID_ADDRESS", "   ")
	p := NewEnvProvider()

	v, ok := p.Get(types.PlatformBitcoin, "addresses")
	assert.True(t, ok)
	assert.Equal(t, "bc1qa,bc1qb", v)

	_, ok = p.Get(types.PlatformHyperliquid, "address")
	assert.False(t, ok, "blank values count as unset")

	_, ok = p.Get(types.PlatformBlur, "address")
	assert.False(t, ok)
}

func TestMapProvider(t *testing.T) {
	p := NewMapProvider(map[string]string{"CRYPTOCOM_API_SECRET": "s"})

	v, ok := p.Get(types.PlatformCryptoCom, "api_secret")
	assert.True(t, ok)
	assert.Equal(t, "s", v)
}
