package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/logging"
)

// ErrExhausted is returned when every applicable strategy failed or the
// worker's attempt budget is spent.
var ErrExhausted = errors.New("recovery exhausted")

// ExhaustedHandler is invoked when recovery for a worker is exhausted. The
// pool manager uses it to mark the worker Error and eventually remove it.
type ExhaustedHandler func(failure core.FailureInfo)

// Options configures a recovery Manager.
type Options struct {
	// Breaker is the configuration applied to lazily created breakers.
	Breaker BreakerConfig

	// MaxAttempts is the per-worker recovery attempt budget. A successful
	// recovery resets it.
	MaxAttempts int

	// Strategies is the remediation list. Order does not matter; Priority
	// decides execution order.
	Strategies []Strategy

	// OnExhausted is invoked when the budget is spent or no strategy
	// succeeds. Nil disables escalation.
	OnExhausted ExhaustedHandler

	// Logger is the structured logger. Nil means no logging.
	Logger logging.Logger
}

// Stats aggregates recovery activity counters.
type Stats struct {
	FailuresReported    uint64 `json:"failures_reported"`
	RecoveriesAttempted uint64 `json:"recoveries_attempted"`
	RecoveriesSucceeded uint64 `json:"recoveries_succeeded"`
	RecoveriesFailed    uint64 `json:"recoveries_failed"`
	WorkersExhausted    uint64 `json:"workers_exhausted"`
}

// Manager owns the breaker map and drives the recovery pipeline. It is
// safe for concurrent use.
type Manager struct {
	opts     Options
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	attempts map[string]int
	stats    Stats
}

// NewManager creates a recovery Manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{
		Breaker:     DefaultBreakerConfig(),
		MaxAttempts: 5,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	strategies := make([]Strategy, len(opts.Strategies))
	copy(strategies, opts.Strategies)
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority() > strategies[j].Priority()
	})
	opts.Strategies = strategies

	return &Manager{
		opts:     opts,
		breakers: make(map[string]*CircuitBreaker),
		attempts: make(map[string]int),
	}
}

// breaker returns the worker's breaker, creating it on first use.
func (m *Manager) breaker(id string) *CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[id]
	if !ok {
		b = NewCircuitBreaker(m.opts.Breaker)
		m.breakers[id] = b
	}

	return b
}

// Eligible reports whether the worker's breaker admits traffic. Workers
// without a breaker (never failed) are always eligible. The call performs
// the lazy Open to HalfOpen transition.
func (m *Manager) Eligible(id string) bool {
	m.mu.Lock()
	b, ok := m.breakers[id]
	m.mu.Unlock()

	if !ok {
		return true
	}

	return b.Allow()
}

// BreakerState returns the worker's breaker state. Workers without a
// breaker report Closed.
func (m *Manager) BreakerState(id string) BreakerState {
	m.mu.Lock()
	b, ok := m.breakers[id]
	m.mu.Unlock()

	if !ok {
		return BreakerClosed
	}

	return b.State()
}

// RecordSuccess feeds a successful worker operation into its breaker.
// The scheduler calls it for every successful task result.
func (m *Manager) RecordSuccess(id string) {
	m.mu.Lock()
	b, ok := m.breakers[id]
	m.mu.Unlock()

	if ok {
		b.RecordSuccess()
	}
}

// Forget drops the worker's breaker and attempt counter. The manager calls
// it at unregistration.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.breakers, id)
	delete(m.attempts, id)
}

// HandleFailure records the failure on the worker's breaker and runs the
// applicable strategies in priority order until one succeeds. Strategy
// errors are logged and never escape; the returned error is nil on
// successful recovery and ErrExhausted otherwise.
func (m *Manager) HandleFailure(ctx context.Context, failure core.FailureInfo) error {
	m.breaker(failure.WorkerID).RecordFailure()

	m.mu.Lock()
	m.stats.FailuresReported++
	m.attempts[failure.WorkerID]++
	attempt := m.attempts[failure.WorkerID]
	budget := m.opts.MaxAttempts
	m.mu.Unlock()

	if attempt > budget {
		m.exhaust(failure, fmt.Sprintf("attempt budget %d spent", budget))
		return fmt.Errorf("%w: worker %s", ErrExhausted, failure.WorkerID)
	}

	for _, strategy := range m.opts.Strategies {
		if !strategy.CanHandle(failure.Kind) {
			continue
		}

		m.mu.Lock()
		m.stats.RecoveriesAttempted++
		m.mu.Unlock()

		err := strategy.Recover(ctx, failure)
		m.opts.Logger.Info("Recovery attempt finished",
			"worker_id", failure.WorkerID,
			"strategy", strategy.Name(),
			"failure_kind", string(failure.Kind),
			"success", err == nil,
		)

		if err != nil {
			m.mu.Lock()
			m.stats.RecoveriesFailed++
			m.mu.Unlock()

			m.opts.Logger.Warn("Recovery strategy failed",
				"worker_id", failure.WorkerID,
				"strategy", strategy.Name(),
				"error", err,
			)

			continue
		}

		m.mu.Lock()
		m.stats.RecoveriesSucceeded++
		m.attempts[failure.WorkerID] = 0
		m.mu.Unlock()

		return nil
	}

	m.exhaust(failure, "no applicable strategy succeeded")

	return fmt.Errorf("%w: worker %s", ErrExhausted, failure.WorkerID)
}

// exhaust records exhaustion and escalates through the callback.
func (m *Manager) exhaust(failure core.FailureInfo, reason string) {
	m.mu.Lock()
	m.stats.WorkersExhausted++
	onExhausted := m.opts.OnExhausted
	m.mu.Unlock()

	m.opts.Logger.Error("Recovery exhausted",
		"worker_id", failure.WorkerID,
		"failure_kind", string(failure.Kind),
		"reason", reason,
	)

	if onExhausted != nil {
		onExhausted(failure.WithContext("exhausted", reason))
	}
}

// Stats returns a copy of the recovery counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}
