package recovery

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed is the normal state; traffic flows.
	BreakerClosed BreakerState = iota
	// BreakerOpen excludes the worker from selection.
	BreakerOpen
	// BreakerHalfOpen allows limited probe traffic after the reset timeout.
	BreakerHalfOpen
)

// String returns the string representation of the state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds the breaker thresholds and timeouts.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// breaker. The transition happens at exactly this count.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`

	// SuccessThreshold is the consecutive probe success count that closes
	// a half-open breaker.
	SuccessThreshold int `json:"success_threshold" yaml:"success_threshold"`

	// ResetTimeout is how long an open breaker blocks traffic before
	// admitting probes.
	ResetTimeout time.Duration `json:"reset_timeout" yaml:"reset_timeout"`
}

// DefaultBreakerConfig returns the baseline breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

// CircuitBreaker is a per-worker fault isolation state machine. It is safe
// for concurrent use.
//
// Transitions: Closed reaches Open at exactly FailureThreshold consecutive
// failures. Open admits traffic again (as HalfOpen probes) once
// ResetTimeout has elapsed since it opened. SuccessThreshold consecutive
// probe successes close it; any half-open failure reopens it and restarts
// the timer.
type CircuitBreaker struct {
	mu        sync.Mutex
	cfg       BreakerConfig
	state     BreakerState
	failures  int
	successes int
	openedAt  time.Time
	lastFail  time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker with the given configuration.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Allow reports whether traffic may be routed to the worker. It performs
// the lazy Open to HalfOpen transition once the reset timeout has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
			b.state = BreakerHalfOpen
			b.successes = 0
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful operation on the worker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure registers a failed operation on the worker.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFail = b.now()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case BreakerHalfOpen:
		b.open()
	}
}

// open flips to Open and restarts the reset timer. Caller holds the lock.
func (b *CircuitBreaker) open() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.successes = 0
}

// State returns the current state without performing lazy transitions.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Failures returns the current consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.failures
}

// LastFailure returns the time of the most recent recorded failure.
func (b *CircuitBreaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastFail
}
