package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/portfolio-aggregator/internal/price"
	"github.com/redis/go-redis/v9"
)

const defaultPricePrefix = "portfolio:prices"

// RedisPriceStore shares the price cache entry across processes. Quotes live
// in one hash keyed by coin id; the entry timestamp is a separate key written
// in the same transaction.
type RedisPriceStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPriceStore creates a price store under the default key prefix
func NewRedisPriceStore(cache *RedisCache) *RedisPriceStore {
	return NewRedisPriceStoreWithPrefix(cache.Client(), defaultPricePrefix)
}

// NewRedisPriceStoreWithPrefix creates a price store under prefix
func NewRedisPriceStoreWithPrefix(client *redis.Client, prefix string) *RedisPriceStore {
	return &RedisPriceStore{rdb: client, prefix: prefix}
}

func (s *RedisPriceStore) quotesKey() string { return s.prefix + ":quotes" }
func (s *RedisPriceStore) tsKey() string     { return s.prefix + ":ts" }

// Snapshot reads the whole entry. A missing timestamp means nothing is cached.
func (s *RedisPriceStore) Snapshot(ctx context.Context) (price.Entry, bool, error) {
	pipe := s.rdb.Pipeline()
	quotesCmd := pipe.HGetAll(ctx, s.quotesKey())
	tsCmd := pipe.Get(ctx, s.tsKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return price.Entry{}, false, fmt.Errorf("redis: read price entry: %w", err)
	}

	tsStr, err := tsCmd.Result()
	if errors.Is(err, redis.Nil) {
		return price.Entry{}, false, nil
	}
	if err != nil {
		return price.Entry{}, false, fmt.Errorf("redis: read price timestamp: %w", err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return price.Entry{}, false, fmt.Errorf("redis: parse price timestamp: %w", err)
	}

	entry := price.Entry{
		Prices:    make(map[string]price.Quote),
		Timestamp: time.Unix(0, tsNano),
	}
	for id, raw := range quotesCmd.Val() {
		var q price.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			// a corrupt field is treated as a cache miss for that id
			continue
		}
		entry.Prices[id] = q
	}
	return entry, true, nil
}

// Merge overwrites the given ids and moves the timestamp in one MULTI/EXEC
func (s *RedisPriceStore) Merge(ctx context.Context, quotes map[string]price.Quote, at time.Time) error {
	fields := make(map[string]interface{}, len(quotes))
	for id, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("redis: encode quote %s: %w", id, err)
		}
		fields[id] = string(data)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(fields) > 0 {
			pipe.HSet(ctx, s.quotesKey(), fields)
		}
		pipe.Set(ctx, s.tsKey(), strconv.FormatInt(at.UnixNano(), 10), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: merge prices: %w", err)
	}
	return nil
}

// Reset drops the entry
func (s *RedisPriceStore) Reset(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.quotesKey(), s.tsKey()).Err(); err != nil {
		return fmt.Errorf("redis: reset prices: %w", err)
	}
	return nil
}

var _ price.Store = (*RedisPriceStore)(nil)
