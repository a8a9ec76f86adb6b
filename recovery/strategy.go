package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentpool/core"
)

// ErrStrategyFailed is returned when a recovery strategy ran but did not
// restore the worker.
var ErrStrategyFailed = errors.New("recovery strategy failed")

// Strategy is a pluggable remediation attempted when a worker failure is
// reported. Strategies are tried in descending Priority order; the first
// one whose Recover returns nil ends the attempt.
type Strategy interface {
	// Name identifies the strategy in logs and statistics.
	Name() string

	// Priority orders strategies; higher runs first.
	Priority() int

	// CanHandle reports whether this strategy applies to the failure kind.
	CanHandle(kind core.FailureKind) bool

	// Recover attempts to remediate the failed worker.
	Recover(ctx context.Context, failure core.FailureInfo) error
}

// WorkerSource resolves a registered worker by id. The manager's registry
// implements it.
type WorkerSource interface {
	Worker(id string) (core.Worker, bool)
}

// RestartStrategy shuts the worker down and re-initializes it in place. It
// succeeds only when re-initialization and a follow-up health check both
// report the worker as non-unhealthy.
type RestartStrategy struct {
	// Workers resolves the failed worker.
	Workers WorkerSource

	// Timeout bounds the shutdown plus initialize sequence.
	Timeout time.Duration
}

// Name identifies the strategy.
func (*RestartStrategy) Name() string { return "restart" }

// Priority orders the strategy; restart runs first.
func (*RestartStrategy) Priority() int { return 90 }

// CanHandle reports which failure kinds a restart can address.
func (*RestartStrategy) CanHandle(kind core.FailureKind) bool {
	switch kind {
	case core.FailureUnexpectedShutdown, core.FailureInitialization, core.FailureHealthCheck:
		return true
	default:
		return false
	}
}

// Recover restarts the worker in place.
func (s *RestartStrategy) Recover(ctx context.Context, failure core.FailureInfo) error {
	w, ok := s.Workers.Worker(failure.WorkerID)
	if !ok {
		return fmt.Errorf("%w: worker %s not registered", ErrStrategyFailed, failure.WorkerID)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	restartCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// A failed shutdown is tolerated; the initialize verdict decides.
	_ = w.Shutdown(restartCtx)

	if err := w.Initialize(restartCtx); err != nil {
		return fmt.Errorf("%w: re-initialize: %s", ErrStrategyFailed, err)
	}

	if health := w.HealthCheck(); health.State == core.HealthUnhealthy {
		return fmt.Errorf("%w: worker still unhealthy after restart: %s", ErrStrategyFailed, health.Reason)
	}

	return nil
}

// FailoverTarget locates an eligible replacement worker whose capability
// set overlaps the failed worker's. The manager implements it.
type FailoverTarget interface {
	FindFailoverCandidate(failedID string) (string, bool)
}

// FailoverStrategy redirects pending and future work to another registered
// worker with overlapping capability. It succeeds only when such an
// eligible worker exists.
type FailoverStrategy struct {
	// Target locates the replacement.
	Target FailoverTarget
}

// Name identifies the strategy.
func (*FailoverStrategy) Name() string { return "failover" }

// Priority orders the strategy; failover runs after restart.
func (*FailoverStrategy) Priority() int { return 80 }

// CanHandle reports which failure kinds a failover can address.
func (*FailoverStrategy) CanHandle(kind core.FailureKind) bool {
	switch kind {
	case core.FailureUnexpectedShutdown, core.FailureCommunication, core.FailureTaskTimeout:
		return true
	default:
		return false
	}
}

// Recover checks for an eligible replacement worker.
func (s *FailoverStrategy) Recover(_ context.Context, failure core.FailureInfo) error {
	if _, ok := s.Target.FindFailoverCandidate(failure.WorkerID); !ok {
		return fmt.Errorf("%w: no eligible failover candidate for %s", ErrStrategyFailed, failure.WorkerID)
	}

	return nil
}

// Degrader reduces a worker's declared capacity without a full restart.
// The manager implements it.
type Degrader interface {
	DegradeWorker(id string) error
}

// DegradeStrategy reduces the worker's capacity in place. It is the
// catch-all strategy and structurally always succeeds when the worker is
// still registered.
type DegradeStrategy struct {
	// Target applies the degradation.
	Target Degrader
}

// Name identifies the strategy.
func (*DegradeStrategy) Name() string { return "degrade" }

// Priority orders the strategy; degrade runs last.
func (*DegradeStrategy) Priority() int { return 60 }

// CanHandle always reports true; degrade is the catch-all.
func (*DegradeStrategy) CanHandle(core.FailureKind) bool { return true }

// Recover degrades the worker.
func (s *DegradeStrategy) Recover(_ context.Context, failure core.FailureInfo) error {
	if err := s.Target.DegradeWorker(failure.WorkerID); err != nil {
		return fmt.Errorf("%w: degrade: %s", ErrStrategyFailed, err)
	}

	return nil
}
