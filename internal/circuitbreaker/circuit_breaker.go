// Package circuitbreaker stops calling a failing backend for a cool-off
// period after repeated consecutive failures.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-aggregator/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed means calls are allowed
	StateClosed State = "closed"
	// StateOpen means calls are rejected until the timeout elapses
	StateOpen State = "open"
	// StateHalfOpen means one trial call is allowed through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a circuit breaker
type Config struct {
	Name        string
	MaxFailures int           // Consecutive failures before opening
	Timeout     time.Duration // Time to wait before a half-open trial
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) Config {
	return Config{
		Name:        name,
		MaxFailures: 3,
		Timeout:     time.Minute,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	logger      *logging.Logger
	now         func() time.Time

	mu               sync.Mutex
	state            State
	consecutiveFails int
	totalCalls       int64
	totalFailures    int64
	rejected         int64
	lastStateChange  time.Time
	trialInFlight    bool
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg Config, logger *logging.Logger) *CircuitBreaker {
	if cfg.MaxFailures < 1 {
		cfg.MaxFailures = 1
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &CircuitBreaker{
		name:            cfg.Name,
		maxFailures:     cfg.MaxFailures,
		timeout:         cfg.Timeout,
		logger:          logger.WithField("breaker", cfg.Name),
		now:             time.Now,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn unless the circuit is open
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastStateChange) < cb.timeout {
			cb.rejected++
			return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
		cb.setState(StateHalfOpen)
	case StateHalfOpen:
		if cb.trialInFlight {
			cb.rejected++
			return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
	}

	if cb.state == StateHalfOpen {
		cb.trialInFlight = true
	}
	cb.totalCalls++
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	if err == nil {
		cb.consecutiveFails = 0
		if cb.state != StateClosed {
			cb.setState(StateClosed)
		}
		return
	}

	cb.totalFailures++
	cb.consecutiveFails++
	if cb.state == StateHalfOpen || cb.consecutiveFails >= cb.maxFailures {
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}
	cb.logger.WithFields(map[string]interface{}{
		"from": string(cb.state),
		"to":   string(state),
	}).Warn("circuit breaker state changed")
	cb.state = state
	cb.lastStateChange = cb.now()
}

// State returns the current state
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the circuit and clears failure counts
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.trialInFlight = false
	cb.setState(StateClosed)
}

// Stats summarizes breaker activity
type Stats struct {
	Name             string    `json:"name"`
	State            State     `json:"state"`
	ConsecutiveFails int       `json:"consecutiveFails"`
	TotalCalls       int64     `json:"totalCalls"`
	TotalFailures    int64     `json:"totalFailures"`
	Rejected         int64     `json:"rejected"`
	LastStateChange  time.Time `json:"lastStateChange"`
}

// GetStats returns circuit breaker statistics
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:             cb.name,
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		TotalCalls:       cb.totalCalls,
		TotalFailures:    cb.totalFailures,
		Rejected:         cb.rejected,
		LastStateChange:  cb.lastStateChange,
	}
}

// IsOpen reports whether err came from an open circuit
func IsOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
