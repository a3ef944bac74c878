package routing

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker shields a deployment from traffic after repeated failures.
// The breaker opens once consecutive failures reach the threshold, stays
// open for the cooldown period, then admits a single probe (half-open).
// A successful probe closes it; a failed probe reopens it.
type CircuitBreaker struct {
	deploymentID string
	threshold    int
	cooldown     time.Duration

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a breaker for a deployment
func NewCircuitBreaker(deploymentID string, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		deploymentID: deploymentID,
		threshold:    threshold,
		cooldown:     cooldown,
		state:        BreakerClosed,
	}
}

// Allow reports whether a request may proceed
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.state = BreakerHalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		// One probe at a time
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the breaker
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.state = BreakerClosed
	cb.probeInFlight = false
}

// RecordFailure counts a failure and opens the breaker at the threshold
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.probeInFlight = false

	if cb.state == BreakerHalfOpen || cb.failures >= cb.threshold {
		cb.state = BreakerOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
