// Package resilience tracks the health of a dependency and short-circuits
// calls to it after repeated failures.
package resilience

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int

	// Timeout is how long the circuit stays open before letting a trial call through
	Timeout time.Duration

	// MaxConcurrentRequests is the max trial calls allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// OnStateChange, when set, is called after every transition. It runs with
	// the breaker locked and must not call back into it.
	OnStateChange func(from, to CircuitBreakerState)
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      1,
	}
}

// CircuitBreaker is a synchronous circuit breaker. Callers ask [CircuitBreaker.Allow]
// before calling the dependency and report the outcome with [CircuitBreaker.Record],
// or let [CircuitBreaker.Execute] do both.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	epoch    uint64
	failures int
	success  int
	inflight int
	openedAt time.Time
}

// Permit is handed out by [CircuitBreaker.Allow] and names the state the call
// was admitted under. Outcomes recorded against an earlier state are dropped.
type Permit struct {
	epoch uint64
	trial bool
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 1
	}
	if config.MaxConcurrentRequests <= 0 {
		config.MaxConcurrentRequests = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Allow reports whether a call may proceed. An open circuit whose timeout has
// elapsed moves to half-open and admits up to MaxConcurrentRequests trial
// calls. The returned permit must be passed to Record.
func (cb *CircuitBreaker) Allow() (Permit, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return Permit{epoch: cb.epoch}, nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return Permit{}, ErrCircuitBreakerOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.inflight >= cb.config.MaxConcurrentRequests {
			return Permit{}, ErrCircuitBreakerOpen
		}
		cb.inflight++
		return Permit{epoch: cb.epoch, trial: true}, nil
	default:
		return Permit{}, ErrCircuitBreakerOpen
	}
}

// Record reports the outcome of a call admitted by Allow. A permit issued
// before the last state change is ignored.
func (cb *CircuitBreaker) Record(p Permit, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if p.epoch != cb.epoch {
		return
	}
	if p.trial && cb.inflight > 0 {
		cb.inflight--
	}
	if ok {
		cb.onSuccess()
	} else {
		cb.onFailure()
	}
}

// Execute runs fn if the circuit allows it and records whether it returned an error.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	p, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.Record(p, err == nil)
	return err
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.success++
		if cb.success >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	cb.state = to
	cb.epoch++
	cb.success = 0
	cb.inflight = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// CircuitBreakerStats is a point-in-time view of the breaker
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
	Requests  int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:     cb.state,
		Failures:  cb.failures,
		Successes: cb.success,
		Requests:  cb.inflight,
	}
}
