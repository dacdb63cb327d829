package price

import (
	"context"
	"sync"
	"time"
)

// Quote is the USD price and 24h percent change for one coin
type Quote struct {
	USD          float64 `json:"usd"`
	USD24hChange float64 `json:"usd_24h_change"`
}

// Entry is the cached price map and the time it was last refreshed
type Entry struct {
	Prices    map[string]Quote
	Timestamp time.Time
}

// Store holds the process-wide price cache entry
type Store interface {
	// Snapshot returns a copy of the current entry; ok is false when nothing has been cached
	Snapshot(ctx context.Context) (entry Entry, ok bool, err error)
	// Merge overwrites only the given ids and sets the entry timestamp to at
	Merge(ctx context.Context, quotes map[string]Quote, at time.Time) error
	// Reset drops the entry
	Reset(ctx context.Context) error
}

// MemoryStore keeps the cache entry in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	entry *Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Snapshot(ctx context.Context) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.entry == nil {
		return Entry{}, false, nil
	}

	prices := make(map[string]Quote, len(s.entry.Prices))
	for id, q := range s.entry.Prices {
		prices[id] = q
	}
	return Entry{Prices: prices, Timestamp: s.entry.Timestamp}, true, nil
}

func (s *MemoryStore) Merge(ctx context.Context, quotes map[string]Quote, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entry == nil {
		s.entry = &Entry{Prices: make(map[string]Quote, len(quotes))}
	}
	for id, q := range quotes {
		s.entry.Prices[id] = q
	}
	s.entry.Timestamp = at
	return nil
}

func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry = nil
	return nil
}

var _ Store = (*MemoryStore)(nil)
