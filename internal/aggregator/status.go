package aggregator

import (
	"sync"

	"github.com/portfolio-aggregator/internal/types"
)

// MemoryStatusSink keeps the latest connection status per platform
type MemoryStatusSink struct {
	mu       sync.RWMutex
	statuses map[types.Platform]types.ConnectionStatus
}

// NewMemoryStatusSink creates an empty status sink
func NewMemoryStatusSink() *MemoryStatusSink {
	return &MemoryStatusSink{statuses: make(map[types.Platform]types.ConnectionStatus)}
}

// Set records the status of a platform
func (s *MemoryStatusSink) Set(platform types.Platform, status types.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[platform] = status
}

// Get returns the last status recorded for a platform
func (s *MemoryStatusSink) Get(platform types.Platform) (types.ConnectionStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[platform]
	return status, ok
}

// Snapshot returns a copy of every recorded status
func (s *MemoryStatusSink) Snapshot() map[types.Platform]types.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[types.Platform]types.ConnectionStatus, len(s.statuses))
	for p, status := range s.statuses {
		out[p] = status
	}
	return out
}
