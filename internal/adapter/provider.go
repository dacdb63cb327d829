package adapter

import (
	"sync"
	"time"
)

// ProviderHealth represents the observed health of one upstream provider
type ProviderHealth struct {
	Provider         string        `json:"provider"`
	BaseURL          string        `json:"baseUrl"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	LastError        string        `json:"lastError,omitempty"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// HealthReporter is implemented by adapters that track their upstreams
type HealthReporter interface {
	Health() []ProviderHealth
}

// providerStats tracks request outcomes for one provider. Nothing here
// changes request behavior; failures are still terminal for the caller.
type providerStats struct {
	mu sync.RWMutex

	provider string
	baseURL  string

	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	lastError        string
	consecutiveFails int

	maxConsecutiveFails int
	minSuccessRate      float64
}

func newProviderStats(provider, baseURL string) *providerStats {
	return &providerStats{
		provider:            provider,
		baseURL:             baseURL,
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}
}

func (p *providerStats) recordSuccess(duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.successfulReqs++
	p.totalLatency += duration
	p.lastSuccess = time.Now()
	p.consecutiveFails = 0
}

func (p *providerStats) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.totalRequests++
	p.failedReqs++
	p.lastFailure = time.Now()
	p.consecutiveFails++
	if err != nil {
		p.lastError = err.Error()
	}
}

// reclassify turns the last recorded success into a failure, for responses
// that decoded fine but carried an application error
func (p *providerStats) reclassify(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.successfulReqs > 0 {
		p.successfulReqs--
	}
	p.failedReqs++
	p.lastFailure = time.Now()
	p.consecutiveFails++
	if err != nil {
		p.lastError = err.Error()
	}
}

func (p *providerStats) snapshot() ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var successRate float64
	if p.totalRequests > 0 {
		successRate = float64(p.successfulReqs) / float64(p.totalRequests)
	}

	var avgLatency time.Duration
	if p.successfulReqs > 0 {
		avgLatency = p.totalLatency / time.Duration(p.successfulReqs)
	}

	return ProviderHealth{
		Provider:         p.provider,
		BaseURL:          p.baseURL,
		TotalRequests:    p.totalRequests,
		SuccessfulReqs:   p.successfulReqs,
		FailedReqs:       p.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      p.lastSuccess,
		LastFailure:      p.lastFailure,
		LastError:        p.lastError,
		ConsecutiveFails: p.consecutiveFails,
		IsHealthy:        p.isHealthyLocked(),
	}
}

// isHealthyLocked checks health status (must be called with lock held)
func (p *providerStats) isHealthyLocked() bool {
	if p.consecutiveFails >= p.maxConsecutiveFails {
		return false
	}

	// Check success rate (only if we have enough data)
	if p.totalRequests >= 10 {
		successRate := float64(p.successfulReqs) / float64(p.totalRequests)
		if successRate < p.minSuccessRate {
			return false
		}
	}

	return true
}
