package adapter

import (
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
)

// NewDefaultAdapters builds one adapter per supported platform in display
// order, all sharing the given price source
func NewDefaultAdapters(cfg config.ProvidersConfig, prices PriceSource, logger *logging.Logger) []PlatformAdapter {
	client := func(baseURL string, rps float64) ClientConfig {
		if rps <= 0 {
			rps = cfg.RequestsPerSecond
		}
		return ClientConfig{
			BaseURL:           baseURL,
			Timeout:           cfg.HTTPTimeout,
			RequestsPerSecond: rps,
			Logger:            logger,
		}
	}

	return []PlatformAdapter{
		NewEtherscanAdapter(client(cfg.EtherscanURL, cfg.EtherscanPerSec), prices),
		NewEsploraAdapter(client(cfg.EsploraURL, 0), prices),
		NewHeliusAdapter(client(cfg.HeliusURL, 0), cfg.SolanaRPCURL, prices),
		NewHyperliquidAdapter(client(cfg.HyperliquidURL, 0), prices),
		NewReservoirAdapter(client(cfg.ReservoirURL, 0)),
		NewCryptoComAdapter(client(cfg.CryptoComURL, 0), prices),
	}
}
