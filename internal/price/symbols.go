package price

import "strings"

// symbolIDs maps asset tickers to CoinGecko coin ids
var symbolIDs = map[string]string{
	"ETH":   "ethereum",
	"WETH":  "weth",
	"BTC":   "bitcoin",
	"WBTC":  "wrapped-bitcoin",
	"SOL":   "solana",
	"USDC":  "usd-coin",
	"USDT":  "tether",
	"DAI":   "dai",
	"HYPE":  "hyperliquid",
	"CRO":   "crypto-com-chain",
	"BNB":   "binancecoin",
	"MATIC": "matic-network",
	"POL":   "polygon-ecosystem-token",
	"ARB":   "arbitrum",
	"OP":    "optimism",
	"LINK":  "chainlink",
	"UNI":   "uniswap",
	"AAVE":  "aave",
	"DOGE":  "dogecoin",
	"XRP":   "ripple",
	"ADA":   "cardano",
	"AVAX":  "avalanche-2",
	"DOT":   "polkadot",
	"LTC":   "litecoin",
	"JUP":   "jupiter-exchange-solana",
	"BONK":  "bonk",
	"WIF":   "dogwifcoin",
	"PYTH":  "pyth-network",
	"JTO":   "jito-governance-token",
	"PEPE":  "pepe",
	"SHIB":  "shiba-inu",
	"LDO":   "lido-dao",
	"MKR":   "maker",
	"CRV":   "curve-dao-token",
	"ENS":   "ethereum-name-service",
	"BLUR":  "blur",
	"APE":   "apecoin",
	"SUI":   "sui",
	"TIA":   "celestia",
	"ATOM":  "cosmos",
}

var knownIDs = func() map[string]bool {
	ids := make(map[string]bool, len(symbolIDs))
	for _, id := range symbolIDs {
		ids[id] = true
	}
	return ids
}()

// IDForSymbol resolves a ticker or a canonical id to a CoinGecko id.
// Unknown inputs report false.
func IDForSymbol(symbol string) (string, bool) {
	s := strings.TrimSpace(symbol)
	if id, ok := symbolIDs[strings.ToUpper(s)]; ok {
		return id, true
	}
	if lower := strings.ToLower(s); knownIDs[lower] {
		return lower, true
	}
	return "", false
}

// Lookup returns the quote for a ticker (or id) from a GetPrices result, or
// a zero quote when the asset was not priced
func Lookup(quotes map[string]Quote, symbol string) Quote {
	id, ok := IDForSymbol(symbol)
	if !ok {
		return Quote{}
	}
	return quotes[id]
}

// IsStablecoin reports whether the symbol is a USD-pegged stablecoin
func IsStablecoin(symbol string) bool {
	switch strings.ToUpper(symbol) {
	case "USDC", "USDT", "DAI", "USD":
		return true
	default:
		return false
	}
}
