package manager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/model"
	"github.com/hupe1980/agentpool/recovery"
	"github.com/hupe1980/agentpool/worker"
)

var (
	_ recovery.WorkerSource   = (*Manager)(nil)
	_ recovery.FailoverTarget = (*Manager)(nil)
	_ recovery.Degrader       = (*Manager)(nil)
)

// stubWorker is a minimal core.Worker with scriptable hooks.
type stubWorker struct {
	mu          sync.Mutex
	cfg         core.WorkerConfig
	caps        []core.Capability
	state       core.WorkerState
	healthy     bool
	initErr     error
	shutdownErr error
	inits       int
	shutdowns   int
	executeFn   func(ctx context.Context, task core.Task) (core.TaskResult, error)
}

func newStubWorker(id string, caps ...core.Capability) *stubWorker {
	if len(caps) == 0 {
		caps = []core.Capability{core.CapCodeAnalysis}
	}

	return &stubWorker{cfg: core.DefaultWorkerConfig(id), caps: caps, healthy: true}
}

func (w *stubWorker) ID() string      { return w.cfg.ID }
func (w *stubWorker) Name() string    { return "Stub" }
func (w *stubWorker) Version() string { return "0.0.1" }

func (w *stubWorker) Capabilities() []core.Capability { return w.caps }

func (w *stubWorker) Config() core.WorkerConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

func (w *stubWorker) Status() core.WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return core.WorkerStatus{State: w.state}
}

func (w *stubWorker) Initialize(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.inits++
	if w.initErr != nil {
		return w.initErr
	}

	w.state = core.StateIdle
	w.healthy = true

	return nil
}

func (w *stubWorker) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	if w.executeFn != nil {
		return w.executeFn(ctx, task)
	}

	return core.SuccessResult(task.ID, w.ID(), []byte(`{"ok":true}`), time.Millisecond), nil
}

func (w *stubWorker) Shutdown(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.shutdowns++
	w.state = core.StateShutdown
	w.healthy = false

	return w.shutdownErr
}

func (w *stubWorker) HealthCheck() core.Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.healthy {
		return core.Unhealthy("stub unhealthy")
	}

	return core.Healthy()
}

func (w *stubWorker) setHealthy(healthy bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.healthy = healthy
}

func (w *stubWorker) initCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inits
}

func (w *stubWorker) UpdateConfig(cfg core.WorkerConfig) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cfg = cfg

	return nil
}

func (w *stubWorker) HandleMessage(context.Context, core.Message) error { return nil }

func newTestManager(t *testing.T, optFns ...func(o *Options)) *Manager {
	t.Helper()

	base := func(o *Options) {
		o.TickInterval = 10 * time.Millisecond
		o.HealthInterval = 20 * time.Millisecond
		o.InitTimeout = time.Second
		o.ShutdownTimeout = time.Second
	}

	return New(append([]func(o *Options){base}, optFns...)...)
}

func startManager(t *testing.T, m *Manager) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDispatchAndAwait(t *testing.T) {
	m := newTestManager(t)
	startManager(t, m)

	mock := &model.MockModel{ResponseText: "feat: wire pool"}
	w := worker.NewCommitMessageWorker("commit-1", mock)
	require.NoError(t, m.RegisterWorker(context.Background(), w))

	task := core.NewTask(core.TaskSpec{Kind: core.KindCommitMessage})
	task.Context.Diff = "+hello"

	id, err := m.DispatchTask(task)
	require.NoError(t, err)
	require.Equal(t, task.ID, id)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := m.AwaitTaskResult(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.StatusSuccess, result.Status)
	require.Equal(t, "commit-1", result.WorkerID)

	completion, err := worker.DecodeCompletion(result)
	require.NoError(t, err)
	require.Equal(t, "feat: wire pool", completion.Text)

	done, ok, err := m.GetTaskResult(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.StatusSuccess, done.Status)

	status := m.GetSystemStatus()
	require.Equal(t, 1, status.Workers)
	require.Equal(t, uint64(1), status.Scheduler.Completed)
}

func TestRegisterDuplicate(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w1")))

	err := m.RegisterWorker(context.Background(), newStubWorker("w1"))
	require.ErrorIs(t, err, core.ErrDuplicateWorker)
}

func TestRegisterInitializeFailure(t *testing.T) {
	m := newTestManager(t)

	w := newStubWorker("w1")
	w.initErr = errors.New("no credentials")

	err := m.RegisterWorker(context.Background(), w)
	require.ErrorIs(t, err, core.ErrInitializationFailed)

	_, err = m.GetWorker("w1")
	require.ErrorIs(t, err, core.ErrWorkerNotFound)
	require.False(t, m.Bus().Registered("w1"))
}

func TestUnregisterUnknown(t *testing.T) {
	m := newTestManager(t)

	err := m.UnregisterWorker(context.Background(), "ghost")
	require.ErrorIs(t, err, core.ErrWorkerNotFound)
}

func TestSnapshotsAndCapabilityLookup(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w1", core.CapCodeAnalysis)))
	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w2", core.CapCodeReview)))

	snap, err := m.GetWorker("w1")
	require.NoError(t, err)
	require.Equal(t, "w1", snap.ID)
	require.Equal(t, core.StateIdle, snap.Status.State)

	require.Len(t, m.ListWorkers(), 2)

	require.Equal(t, []string{"w1"}, m.FindByCapability(core.CapCodeAnalysis))
	require.Equal(t, []string{"w2"}, m.FindByCapability(core.CapCodeReview))
	require.Empty(t, m.FindByCapability(core.CapSemanticSearch))
}

func TestUnregisterCancelsRunningTask(t *testing.T) {
	m := newTestManager(t)
	startManager(t, m)

	started := make(chan struct{})

	w := newStubWorker("w1")
	w.executeFn = func(ctx context.Context, task core.Task) (core.TaskResult, error) {
		close(started)
		<-ctx.Done()
		return core.TaskResult{TaskID: task.ID, WorkerID: "w1", Status: core.StatusCancelled}, nil
	}

	require.NoError(t, m.RegisterWorker(context.Background(), w))

	task := core.NewTask(core.TaskSpec{Kind: core.KindCodeAnalysis})
	id, err := m.DispatchTask(task)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("task never started")
	}

	require.NoError(t, m.UnregisterWorker(context.Background(), "w1"))

	result, ok, err := m.GetTaskResult(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.StatusCancelled, result.Status)

	require.Empty(t, m.ListWorkers())
}

func TestCancelQueuedTask(t *testing.T) {
	m := newTestManager(t)
	// No run loop: the task stays queued.

	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w1")))

	task := core.NewTask(core.TaskSpec{Kind: core.KindCodeAnalysis})
	id, err := m.DispatchTask(task)
	require.NoError(t, err)

	// Known but unfinished.
	_, ok, err := m.GetTaskResult(id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.CancelTask(id))

	result, ok, err := m.GetTaskResult(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, core.StatusCancelled, result.Status)

	_, _, err = m.GetTaskResult("missing")
	require.ErrorIs(t, err, core.ErrTaskNotFound)
}

func TestDegradeWorker(t *testing.T) {
	m := newTestManager(t)

	w := newStubWorker("w1")
	w.cfg.MaxConcurrentTasks = 4
	require.NoError(t, m.RegisterWorker(context.Background(), w))

	require.NoError(t, m.DegradeWorker("w1"))
	require.Equal(t, 2, w.Config().MaxConcurrentTasks)

	require.NoError(t, m.DegradeWorker("w1"))
	require.NoError(t, m.DegradeWorker("w1"))
	require.Equal(t, 1, w.Config().MaxConcurrentTasks)

	require.ErrorIs(t, m.DegradeWorker("ghost"), core.ErrWorkerNotFound)
}

func TestFindFailoverCandidate(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w1", core.CapCodeAnalysis)))
	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w2", core.CapCodeAnalysis)))
	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w3", core.CapCodeReview)))

	candidate, ok := m.FindFailoverCandidate("w1")
	require.True(t, ok)
	require.Equal(t, "w2", candidate)

	// No capability overlap anywhere else.
	_, ok = m.FindFailoverCandidate("w3")
	require.False(t, ok)

	_, ok = m.FindFailoverCandidate("ghost")
	require.False(t, ok)
}

func TestRecoveryRestartsWorker(t *testing.T) {
	m := newTestManager(t)

	w := newStubWorker("w1")
	require.NoError(t, m.RegisterWorker(context.Background(), w))
	require.Equal(t, 1, w.initCount())

	w.setHealthy(false)
	m.handleFailure(core.NewFailure("w1", core.FailureHealthCheck, "probe failed"))

	require.Eventually(t, func() bool {
		return w.initCount() == 2 && w.HealthCheck().State == core.HealthHealthy
	}, 5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return m.Recovery().Stats().RecoveriesSucceeded == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExhaustionEvictsWorker(t *testing.T) {
	m := newTestManager(t, func(o *Options) {
		o.ExhaustionLimit = 2
	})

	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("w1")))

	failure := core.NewFailure("w1", core.FailureHealthCheck, "beyond repair")

	m.onExhausted(failure)
	require.Len(t, m.ListWorkers(), 1)

	m.onExhausted(failure)

	require.Eventually(t, func() bool {
		return len(m.ListWorkers()) == 0 && !m.Bus().Registered("w1")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestShutdownAggregatesErrors(t *testing.T) {
	m := newTestManager(t)

	bad := newStubWorker("bad")
	bad.shutdownErr = errors.New("stuck connection")

	require.NoError(t, m.RegisterWorker(context.Background(), bad))
	require.NoError(t, m.RegisterWorker(context.Background(), newStubWorker("good")))

	err := m.Shutdown(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad")
	require.Contains(t, err.Error(), "stuck connection")

	require.Empty(t, m.ListWorkers())
	require.False(t, m.Bus().Registered("good"))
}

func TestHealthSyncFeedsScheduler(t *testing.T) {
	m := newTestManager(t, func(o *Options) {
		o.HealthInterval = 10 * time.Millisecond
	})
	startManager(t, m)

	w := newStubWorker("w1")
	require.NoError(t, m.RegisterWorker(context.Background(), w))

	require.Eventually(t, func() bool {
		for _, av := range m.Scheduler().Availability() {
			if av.WorkerID == "w1" && av.Health.State == core.HealthHealthy {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
