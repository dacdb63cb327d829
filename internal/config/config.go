// Package config provides configuration management for the portfolio aggregator.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Providers ProvidersConfig
	Cache     CacheConfig
	Snapshot  SnapshotConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds optional persistence backends
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig

	// ConnectAttempts bounds startup connection attempts per backend
	ConnectAttempts int
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// URL returns the connection URL used by the migration runner
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
	MigrationsPath string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ProvidersConfig holds upstream endpoints and client tuning
type ProvidersConfig struct {
	HTTPTimeout       time.Duration
	RequestsPerSecond float64

	EtherscanURL    string
	EsploraURL      string
	HeliusURL       string
	SolanaRPCURL    string
	HyperliquidURL  string
	CryptoComURL    string
	ReservoirURL    string
	CoinGeckoURL    string
	CoinGeckoAPIKey string
	EtherscanPerSec float64
	CoinGeckoPerSec float64
}

// CacheConfig holds price cache configuration
type CacheConfig struct {
	PriceTTL     time.Duration
	PriceStore   string // "memory" or "redis"
	FiatCurrency string
}

// SnapshotConfig controls periodic refresh and snapshot retention
type SnapshotConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env file is optional - environment variables can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", false),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "portfolio"),
				User:           getEnv("POSTGRES_USER", "portfolio"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 10),
				MigrationsPath: getEnv("POSTGRES_MIGRATIONS_PATH", "migrations/postgres"),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:        getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:           getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:           getEnv("CLICKHOUSE_PORT", "9000"),
				Database:       getEnv("CLICKHOUSE_DB", "portfolio"),
				User:           getEnv("CLICKHOUSE_USER", "default"),
				Password:       getEnv("CLICKHOUSE_PASSWORD", ""),
				MaxConnections: getEnvAsInt("CLICKHOUSE_MAX_CONNECTIONS", 5),
				MigrationsPath: getEnv("CLICKHOUSE_MIGRATIONS_PATH", "migrations/clickhouse"),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 10),
			},
			ConnectAttempts: getEnvAsInt("DB_CONNECT_ATTEMPTS", 3),
		},
		Providers: ProvidersConfig{
			HTTPTimeout:       getEnvAsDuration("PROVIDER_HTTP_TIMEOUT", 30*time.Second),
			RequestsPerSecond: getEnvAsFloat("PROVIDER_REQUESTS_PER_SECOND", 5),
			EtherscanURL:      getEnv("ETHERSCAN_URL", "https://api.etherscan.io/v2/api"),
			EsploraURL:        getEnv("ESPLORA_URL", "https://blockstream.info/api"),
			HeliusURL:         getEnv("HELIUS_URL", "https://api.helius.xyz"),
			SolanaRPCURL:      getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
			HyperliquidURL:    getEnv("HYPERLIQUID_URL", "https://api.hyperliquid.xyz"),
			CryptoComURL:      getEnv("CRYPTOCOM_URL", "https://api.crypto.com/v2"),
			ReservoirURL:      getEnv("RESERVOIR_URL", "https://api.reservoir.tools"),
			CoinGeckoURL:      getEnv("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
			CoinGeckoAPIKey:   getEnv("COINGECKO_API_KEY", ""),
			// Etherscan free tier: 5 calls/sec per key
			EtherscanPerSec: getEnvAsFloat("ETHERSCAN_REQUESTS_PER_SECOND", 4),
			CoinGeckoPerSec: getEnvAsFloat("COINGECKO_REQUESTS_PER_SECOND", 0.5),
		},
		Cache: CacheConfig{
			PriceTTL:     getEnvAsDuration("PRICE_CACHE_TTL", 5*time.Minute),
			PriceStore:   strings.ToLower(getEnv("PRICE_STORE", "memory")),
			FiatCurrency: strings.ToLower(getEnv("FIAT_CURRENCY", "eur")),
		},
		Snapshot: SnapshotConfig{
			Interval:  getEnvAsDuration("SNAPSHOT_INTERVAL", 15*time.Minute),
			Retention: getEnvAsDuration("SNAPSHOT_RETENTION", 90*24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("API_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 20),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	if c.Cache.PriceTTL <= 0 {
		return fmt.Errorf("PRICE_CACHE_TTL must be positive, got %v", c.Cache.PriceTTL)
	}
	if c.Cache.PriceStore != "memory" && c.Cache.PriceStore != "redis" {
		return fmt.Errorf("PRICE_STORE must be memory or redis, got %q", c.Cache.PriceStore)
	}
	if c.Snapshot.Interval < 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must not be negative, got %v", c.Snapshot.Interval)
	}
	if c.Providers.HTTPTimeout <= 0 {
		return fmt.Errorf("PROVIDER_HTTP_TIMEOUT must be positive, got %v", c.Providers.HTTPTimeout)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a bool with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
