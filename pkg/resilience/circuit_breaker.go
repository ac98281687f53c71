package resilience

import (
	"sync"
	"time"
)

// CircuitState mirrors the classic three-state circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards a single backend adapter or coordinator stage from
// hammering a dependency that is already failing. Grounded on the
// teacher's resilience.CircuitBreaker, trimmed to the fields this module
// actually exercises (threshold counting + sleep window).
type CircuitBreaker struct {
	name             string
	failureThreshold int
	sleepWindow      time.Duration

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	lastFailureTime time.Time
	halfOpenProbes  int
	maxHalfOpen     int
}

// NewCircuitBreaker creates a breaker that opens after failureThreshold
// consecutive failures and allows a single probe after sleepWindow.
func NewCircuitBreaker(name string, failureThreshold int, sleepWindow time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		sleepWindow:      sleepWindow,
		state:            StateClosed,
		maxHalfOpen:      1,
	}
}

// CanExecute reports whether a new call may be attempted.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.sleepWindow {
			cb.state = StateHalfOpen
			cb.halfOpenProbes = 1
			return true
		}
		return false
	case StateHalfOpen:
		if cb.halfOpenProbes >= cb.maxHalfOpen {
			return false
		}
		cb.halfOpenProbes++
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit (from half-open) or keeps it closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
}

// RecordFailure increments the failure count and opens the circuit once
// the threshold is reached.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// State returns the current state, for health reporting.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
