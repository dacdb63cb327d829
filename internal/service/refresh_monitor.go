package service

import (
	"slices"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/circuitbreaker"
	"github.com/portfolio-aggregator/internal/types"
)

const maxRefreshSamples = 500

// RefreshMonitor tracks refresh durations and platform failures
type RefreshMonitor struct {
	mu             sync.RWMutex
	durations      []time.Duration
	refreshes      int64
	cachedReads    int64
	failures       map[types.Platform]int64
	lastRefresh    time.Time
	lastDuration   time.Duration
	lastErrorCount int
}

// NewRefreshMonitor creates an empty monitor
func NewRefreshMonitor() *RefreshMonitor {
	return &RefreshMonitor{
		durations: make([]time.Duration, 0, maxRefreshSamples),
		failures:  make(map[types.Platform]int64),
	}
}

// RecordRefresh records one completed refresh and the platforms that failed in it
func (m *RefreshMonitor) RecordRefresh(duration time.Duration, errs []types.PlatformError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshes++
	m.lastRefresh = time.Now().UTC()
	m.lastDuration = duration
	m.lastErrorCount = len(errs)
	for _, e := range errs {
		m.failures[e.Platform]++
	}

	m.durations = append(m.durations, duration)
	if len(m.durations) > maxRefreshSamples {
		m.durations = m.durations[len(m.durations)-maxRefreshSamples:]
	}
}

// RecordCachedRead records a read served from the latest view
func (m *RefreshMonitor) RecordCachedRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cachedReads++
}

// RefreshStats summarizes refresh activity
type RefreshStats struct {
	Refreshes        int64                    `json:"refreshes"`
	CachedReads      int64                    `json:"cachedReads"`
	LastRefresh      *time.Time               `json:"lastRefresh,omitempty"`
	LastDurationMs   float64                  `json:"lastDurationMs"`
	LastErrorCount   int                      `json:"lastErrorCount"`
	AvgDurationMs    float64                  `json:"avgDurationMs"`
	P95DurationMs    float64                  `json:"p95DurationMs"`
	PlatformFailures map[types.Platform]int64 `json:"platformFailures"`
	Persistence      []circuitbreaker.Stats   `json:"persistence,omitempty"`
}

// GetStats returns current refresh statistics
func (m *RefreshMonitor) GetStats() *RefreshStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &RefreshStats{
		Refreshes:        m.refreshes,
		CachedReads:      m.cachedReads,
		LastDurationMs:   millis(m.lastDuration),
		LastErrorCount:   m.lastErrorCount,
		PlatformFailures: make(map[types.Platform]int64, len(m.failures)),
	}
	if !m.lastRefresh.IsZero() {
		last := m.lastRefresh
		stats.LastRefresh = &last
	}
	for p, n := range m.failures {
		stats.PlatformFailures[p] = n
	}

	if len(m.durations) > 0 {
		var total time.Duration
		for _, d := range m.durations {
			total += d
		}
		stats.AvgDurationMs = millis(total) / float64(len(m.durations))

		sorted := slices.Clone(m.durations)
		slices.Sort(sorted)
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		stats.P95DurationMs = millis(sorted[idx])
	}

	return stats
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
