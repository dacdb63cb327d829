package storage

import (
	"testing"

	"github.com/portfolio-aggregator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresPoolConfig(t *testing.T) {
	cfg := &config.PostgresConfig{
		Host:     "db",
		Port:     "5433",
		Database: "portfolio",
		User:     "agg",
		Password: "secret",
	}

	poolConfig, err := postgresPoolConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, int32(defaultPostgresConns), poolConfig.MaxConns)
	assert.Equal(t, int32(1), poolConfig.MinConns)
	assert.Equal(t, "db", poolConfig.ConnConfig.Host)
	assert.Equal(t, uint16(5433), poolConfig.ConnConfig.Port)
	assert.Equal(t, "portfolio", poolConfig.ConnConfig.Database)
	assert.Equal(t, "agg", poolConfig.ConnConfig.User)
	assert.Equal(t, "portfolio-aggregator", poolConfig.ConnConfig.RuntimeParams["application_name"])

	cfg.MaxConnections = 3
	poolConfig, err = postgresPoolConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, int32(3), poolConfig.MaxConns)
}

func TestPostgresPoolConfigRejectsBadPort(t *testing.T) {
	_, err := postgresPoolConfig(&config.PostgresConfig{Host: "db", Port: "not-a-port", Database: "x", User: "u"})
	assert.Error(t, err)
}
