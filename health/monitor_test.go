package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpool/core"
)

type stubWorker struct {
	id string

	mu     sync.Mutex
	health core.Health
}

func newStubWorker(id string) *stubWorker {
	return &stubWorker{id: id, health: core.Healthy()}
}

func (s *stubWorker) setHealth(h core.Health) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = h
}

func (s *stubWorker) ID() string                      { return s.id }
func (s *stubWorker) Name() string                    { return "stub" }
func (s *stubWorker) Version() string                 { return "0.0.0" }
func (s *stubWorker) Capabilities() []core.Capability { return nil }
func (s *stubWorker) Config() core.WorkerConfig       { return core.DefaultWorkerConfig(s.id) }
func (s *stubWorker) Status() core.WorkerStatus       { return core.WorkerStatus{State: core.StateIdle} }

func (s *stubWorker) Initialize(context.Context) error { return nil }

func (s *stubWorker) Execute(context.Context, core.Task) (core.TaskResult, error) {
	return core.TaskResult{}, nil
}

func (s *stubWorker) Shutdown(context.Context) error { return nil }

func (s *stubWorker) HealthCheck() core.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *stubWorker) UpdateConfig(core.WorkerConfig) error { return nil }

func (s *stubWorker) HandleMessage(context.Context, core.Message) error { return nil }

type stubMetrics struct {
	mu      sync.Mutex
	metrics map[string]core.WorkerMetrics
}

func (s *stubMetrics) WorkerMetrics(id string) (core.WorkerMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[id]
	return m, ok
}

func TestMonitorStartStop(t *testing.T) {
	monitor := New()
	worker := newStubWorker("worker-1")

	monitor.StartMonitoring(worker)
	require.Equal(t, []string{"worker-1"}, monitor.Monitored())

	// Re-adding is a no-op.
	monitor.StartMonitoring(worker)
	require.Len(t, monitor.Monitored(), 1)

	monitor.StopMonitoring("worker-1")
	require.Empty(t, monitor.Monitored())
}

func TestPerformHealthCheckNotMonitored(t *testing.T) {
	monitor := New()

	_, err := monitor.PerformHealthCheck(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotMonitored)
}

func TestPerformHealthCheckSelfReport(t *testing.T) {
	monitor := New()
	worker := newStubWorker("worker-1")
	monitor.StartMonitoring(worker)

	verdict, err := monitor.PerformHealthCheck(context.Background(), "worker-1")
	require.NoError(t, err)
	require.Equal(t, core.HealthHealthy, verdict.State)

	last, ok := monitor.LastVerdict("worker-1")
	require.True(t, ok)
	require.Equal(t, verdict, last)
}

func TestHealthCheckIsIdempotentWhileHealthy(t *testing.T) {
	monitor := New()
	worker := newStubWorker("worker-1")
	monitor.StartMonitoring(worker)

	for i := 0; i < 5; i++ {
		verdict, err := monitor.PerformHealthCheck(context.Background(), "worker-1")
		require.NoError(t, err)
		require.Equal(t, core.HealthHealthy, verdict.State)
		require.Zero(t, monitor.FailureCount("worker-1"))
	}
}

func TestFailureCounterAndCallback(t *testing.T) {
	var (
		mu       sync.Mutex
		failures []core.FailureInfo
	)

	monitor := New(func(o *Options) {
		o.OnFailure = func(f core.FailureInfo) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, f)
		}
	})

	worker := newStubWorker("worker-1")
	worker.setHealth(core.Unhealthy("model unreachable"))
	monitor.StartMonitoring(worker)

	for i := 0; i < 3; i++ {
		_, err := monitor.PerformHealthCheck(context.Background(), "worker-1")
		require.NoError(t, err)
	}

	require.Equal(t, 3, monitor.FailureCount("worker-1"))

	mu.Lock()
	require.Len(t, failures, 3)
	require.Equal(t, core.FailureHealthCheck, failures[0].Kind)
	require.Equal(t, "worker-1", failures[0].WorkerID)
	require.Equal(t, "model unreachable", failures[0].Message)
	mu.Unlock()

	// A healthy verdict resets the counter.
	worker.setHealth(core.Healthy())
	_, err := monitor.PerformHealthCheck(context.Background(), "worker-1")
	require.NoError(t, err)
	require.Zero(t, monitor.FailureCount("worker-1"))
}

func TestWorstOfCombination(t *testing.T) {
	metrics := &stubMetrics{metrics: map[string]core.WorkerMetrics{
		"worker-1": {MemoryBytes: 2000},
	}}

	monitor := New(func(o *Options) {
		o.Probes = []Probe{SelfReportProbe{}, MemoryProbe{LimitBytes: 1000}}
		o.Metrics = metrics
	})

	worker := newStubWorker("worker-1")
	monitor.StartMonitoring(worker)

	verdict, err := monitor.PerformHealthCheck(context.Background(), "worker-1")
	require.NoError(t, err)
	require.Equal(t, core.HealthUnhealthy, verdict.State)
}

func TestGetHealthReport(t *testing.T) {
	monitor := New()

	healthy := newStubWorker("healthy-1")
	degraded := newStubWorker("degraded-1")
	degraded.setHealth(core.Degraded("slow model"))
	unhealthy := newStubWorker("unhealthy-1")
	unhealthy.setHealth(core.Unhealthy("dead"))

	monitor.StartMonitoring(healthy)
	monitor.StartMonitoring(degraded)
	monitor.StartMonitoring(unhealthy)

	for _, id := range monitor.Monitored() {
		_, err := monitor.PerformHealthCheck(context.Background(), id)
		require.NoError(t, err)
	}

	report := monitor.GetHealthReport()
	require.Equal(t, 3, report.Total)
	require.Equal(t, []string{"healthy-1"}, report.Healthy)
	require.Equal(t, []string{"degraded-1"}, report.Degraded)
	require.Equal(t, []string{"unhealthy-1"}, report.Unhealthy)
	require.Equal(t, core.HealthUnhealthy, report.System.State)
	require.Equal(t, uint64(3), report.Checks)
}

func TestGetHealthReportEmpty(t *testing.T) {
	report := New().GetHealthReport()
	require.Zero(t, report.Total)
	require.Equal(t, core.HealthUnknown, report.System.State)
}

func TestRunSweeps(t *testing.T) {
	monitor := New(func(o *Options) {
		o.Interval = 10 * time.Millisecond
	})

	worker := newStubWorker("worker-1")
	monitor.StartMonitoring(worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	require.Eventually(t, func() bool {
		last, ok := monitor.LastVerdict("worker-1")
		return ok && last.State == core.HealthHealthy
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
