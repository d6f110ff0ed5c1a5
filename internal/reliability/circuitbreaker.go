package reliability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rkulkarni/tradecore/internal/domain"
)

// breakerState is the three-state machine from §4.3. Generalized from the
// teacher's consecutive-loss counter (internal/domain/live.go CircuitBreaker)
// into a strict single-probe half-open breaker: the classic "unbounded
// probes in half-open" design amplifies a failure instead of containing it.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker wraps a dependency with failure counting and fast-fail.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            breakerState
	failures         int
	failureThreshold int
	recoveryTimeout  time.Duration
	lastFailureTime  time.Time
	probeInFlight    bool
}

// NewCircuitBreaker builds a CLOSED breaker. failureThreshold is 3 for
// broker write paths, 5 for read paths per §4.3.
func NewCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
	}
}

// Call invokes fn through the breaker's state machine. The breaker treats
// synchronous and asynchronous callables identically — fn is just a closure,
// whether it wraps a ThreadOffload.Submit call or runs inline.
func Call[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	allowed, isProbe := cb.admit()
	if !allowed {
		return zero, fmt.Errorf("circuitbreaker.Call: %w", domain.ErrCircuitOpen)
	}

	val, err := fn(ctx)

	if err != nil {
		cb.recordFailure(isProbe)
		return zero, err
	}
	cb.recordSuccess(isProbe)
	return val, nil
}

// admit decides whether a call may proceed and whether it is the single
// half-open probe.
func (cb *CircuitBreaker) admit() (allowed bool, isProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateClosed:
		return true, false

	case stateOpen:
		if time.Since(cb.lastFailureTime) < cb.recoveryTimeout {
			return false, false
		}
		cb.state = stateHalfOpen
		cb.probeInFlight = true
		return true, true

	case stateHalfOpen:
		if cb.probeInFlight {
			return false, false
		}
		cb.probeInFlight = true
		return true, true

	default:
		return false, false
	}
}

func (cb *CircuitBreaker) recordFailure(wasProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if wasProbe {
		cb.state = stateOpen
		cb.lastFailureTime = time.Now()
		cb.probeInFlight = false
		return
	}

	cb.failures++
	if cb.failures >= cb.failureThreshold {
		cb.state = stateOpen
		cb.lastFailureTime = time.Now()
	}
}

func (cb *CircuitBreaker) recordSuccess(wasProbe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if wasProbe {
		cb.state = stateClosed
		cb.failures = 0
		cb.probeInFlight = false
		return
	}
	cb.failures = 0
}

// State is exposed for health reporting.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case stateOpen:
		return "OPEN"
	case stateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}
