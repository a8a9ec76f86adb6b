package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpool/core"
)

type fakeStrategy struct {
	name     string
	priority int
	handles  map[core.FailureKind]bool
	err      error

	mu    sync.Mutex
	calls int
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Priority() int { return s.priority }

func (s *fakeStrategy) CanHandle(kind core.FailureKind) bool {
	if s.handles == nil {
		return true
	}
	return s.handles[kind]
}

func (s *fakeStrategy) Recover(context.Context, core.FailureInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.err
}

func (s *fakeStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestHandleFailureRunsStrategiesInPriorityOrder(t *testing.T) {
	var order []string
	record := func(name string) *recordingStrategy {
		return &recordingStrategy{name: name, order: &order}
	}

	low := record("low")
	low.priority = 10
	low.err = errors.New("still broken")
	high := record("high")
	high.priority = 90
	high.err = errors.New("still broken")
	mid := record("mid")
	mid.priority = 50

	manager := NewManager(func(o *Options) {
		o.Strategies = []Strategy{low, mid, high}
	})

	err := manager.HandleFailure(context.Background(), core.NewFailure("worker-1", core.FailureHealthCheck, "dead"))
	require.NoError(t, err)
	require.Equal(t, []string{"high", "mid"}, order)
}

type recordingStrategy struct {
	name     string
	priority int
	err      error
	order    *[]string
}

func (s *recordingStrategy) Name() string { return s.name }

func (s *recordingStrategy) Priority() int { return s.priority }

func (s *recordingStrategy) CanHandle(core.FailureKind) bool { return true }

func (s *recordingStrategy) Recover(context.Context, core.FailureInfo) error {
	*s.order = append(*s.order, s.name)
	return s.err
}

func TestHandleFailureSkipsInapplicableStrategies(t *testing.T) {
	timeoutOnly := &fakeStrategy{
		name:     "timeout-only",
		priority: 90,
		handles:  map[core.FailureKind]bool{core.FailureTaskTimeout: true},
	}
	catchAll := &fakeStrategy{name: "catch-all", priority: 10}

	manager := NewManager(func(o *Options) {
		o.Strategies = []Strategy{timeoutOnly, catchAll}
	})

	err := manager.HandleFailure(context.Background(), core.NewFailure("worker-1", core.FailureHealthCheck, "dead"))
	require.NoError(t, err)
	require.Zero(t, timeoutOnly.Calls())
	require.Equal(t, 1, catchAll.Calls())
}

func TestHandleFailureExhaustionWhenNoStrategySucceeds(t *testing.T) {
	var (
		mu        sync.Mutex
		escalated []core.FailureInfo
	)

	failing := &fakeStrategy{name: "failing", priority: 50, err: errors.New("nope")}

	manager := NewManager(func(o *Options) {
		o.Strategies = []Strategy{failing}
		o.OnExhausted = func(f core.FailureInfo) {
			mu.Lock()
			defer mu.Unlock()
			escalated = append(escalated, f)
		}
	})

	err := manager.HandleFailure(context.Background(), core.NewFailure("worker-1", core.FailureHealthCheck, "dead"))
	require.ErrorIs(t, err, ErrExhausted)

	mu.Lock()
	require.Len(t, escalated, 1)
	require.Equal(t, "worker-1", escalated[0].WorkerID)
	mu.Unlock()
}

func TestHandleFailureAttemptBudget(t *testing.T) {
	failing := &fakeStrategy{name: "failing", priority: 50, err: errors.New("nope")}

	manager := NewManager(func(o *Options) {
		o.Strategies = []Strategy{failing}
		o.MaxAttempts = 2
	})

	failure := core.NewFailure("worker-1", core.FailureHealthCheck, "dead")

	require.ErrorIs(t, manager.HandleFailure(context.Background(), failure), ErrExhausted)
	require.ErrorIs(t, manager.HandleFailure(context.Background(), failure), ErrExhausted)

	// Budget spent: the strategy no longer runs.
	require.ErrorIs(t, manager.HandleFailure(context.Background(), failure), ErrExhausted)
	require.Equal(t, 2, failing.Calls())
}

func TestSuccessfulRecoveryResetsAttemptBudget(t *testing.T) {
	strategy := &fakeStrategy{name: "flaky-fix", priority: 50}

	manager := NewManager(func(o *Options) {
		o.Strategies = []Strategy{strategy}
		o.MaxAttempts = 2
	})

	failure := core.NewFailure("worker-1", core.FailureHealthCheck, "dead")

	for i := 0; i < 5; i++ {
		require.NoError(t, manager.HandleFailure(context.Background(), failure))
	}

	require.Equal(t, 5, strategy.Calls())
}

func TestEligibilityTracksBreaker(t *testing.T) {
	manager := NewManager(func(o *Options) {
		o.Breaker = BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, ResetTimeout: time.Hour}
		o.Strategies = []Strategy{&fakeStrategy{name: "noop", priority: 50}}
	})

	// Unknown workers are eligible.
	require.True(t, manager.Eligible("worker-1"))
	require.Equal(t, BreakerClosed, manager.BreakerState("worker-1"))

	failure := core.NewFailure("worker-1", core.FailureHealthCheck, "dead")
	require.NoError(t, manager.HandleFailure(context.Background(), failure))
	require.True(t, manager.Eligible("worker-1"))

	require.NoError(t, manager.HandleFailure(context.Background(), failure))
	require.Equal(t, BreakerOpen, manager.BreakerState("worker-1"))
	require.False(t, manager.Eligible("worker-1"))

	manager.Forget("worker-1")
	require.True(t, manager.Eligible("worker-1"))
}

func TestStatsCounters(t *testing.T) {
	failing := &fakeStrategy{name: "failing", priority: 90, err: errors.New("nope")}
	fixing := &fakeStrategy{name: "fixing", priority: 50}

	manager := NewManager(func(o *Options) {
		o.Strategies = []Strategy{failing, fixing}
	})

	require.NoError(t, manager.HandleFailure(context.Background(), core.NewFailure("worker-1", core.FailureHealthCheck, "dead")))

	stats := manager.Stats()
	require.Equal(t, uint64(1), stats.FailuresReported)
	require.Equal(t, uint64(2), stats.RecoveriesAttempted)
	require.Equal(t, uint64(1), stats.RecoveriesFailed)
	require.Equal(t, uint64(1), stats.RecoveriesSucceeded)
	require.Zero(t, stats.WorkersExhausted)
}
