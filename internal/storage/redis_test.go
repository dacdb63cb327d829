package storage

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRedisCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cache, err := NewRedisCache(&config.RedisConfig{
		Host:           mr.Host(),
		Port:           mr.Port(),
		MaxConnections: 4,
	})
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	assert.NoError(t, cache.Ping(testContext(t)))
	assert.NotNil(t, NewRedisPriceStore(cache))
}

func TestNewRedisCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	host, port := mr.Host(), mr.Port()
	mr.Close()

	_, err = NewRedisCache(&config.RedisConfig{Host: host, Port: port, MaxConnections: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestRedisOptions(t *testing.T) {
	tests := []struct {
		name     string
		maxConns int
		wantPool int
		wantIdle int
	}{
		{"default", 0, 10, 2},
		{"small pool keeps one idle", 2, 2, 1},
		{"large pool", 40, 40, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := redisOptions(&config.RedisConfig{Host: "cache", Port: "6380", DB: 3, MaxConnections: tt.maxConns})
			assert.Equal(t, "cache:6380", opts.Addr)
			assert.Equal(t, 3, opts.DB)
			assert.Equal(t, tt.wantPool, opts.PoolSize)
			assert.Equal(t, tt.wantIdle, opts.MinIdleConns)
		})
	}
}
