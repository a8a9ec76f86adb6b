package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/logging"
)

// ErrNotMonitored is returned when a health operation names a worker that
// is not in the monitored set.
var ErrNotMonitored = errors.New("worker not monitored")

// MetricsSource supplies point-in-time execution metrics for a worker.
// The scheduler implements it; probes receive the snapshot via Target.
type MetricsSource interface {
	WorkerMetrics(id string) (core.WorkerMetrics, bool)
}

// FailureHandler receives a FailureInfo whenever a monitored worker is
// judged unhealthy. The recovery manager is the usual handler.
type FailureHandler func(core.FailureInfo)

// Options configures a Monitor instance using the functional options
// pattern.
type Options struct {
	// Interval is the fixed period between monitoring sweeps.
	Interval time.Duration

	// CheckTimeout bounds the whole probe run for one worker.
	CheckTimeout time.Duration

	// MaxConcurrentChecks limits parallelism within one sweep.
	MaxConcurrentChecks int

	// Probes is the ordered probe list. Empty means self-report only.
	Probes []Probe

	// OnFailure is invoked for every unhealthy verdict. Nil disables
	// failure reporting.
	OnFailure FailureHandler

	// Metrics supplies worker execution metrics to probes. Nil leaves
	// Target.Metrics zero.
	Metrics MetricsSource

	// Logger is the structured logger. Nil means no logging.
	Logger logging.Logger
}

// record tracks the monitoring state of one worker.
type record struct {
	worker       core.Worker
	startedAt    time.Time
	lastCheck    time.Time
	lastVerdict  core.Health
	failureCount int
	checks       uint64
}

// Monitor watches registered workers and evaluates their fitness with
// pluggable probes. It is safe for concurrent use.
type Monitor struct {
	opts    Options
	mu      sync.RWMutex
	records map[string]*record
	started time.Time
}

// New creates a Monitor.
func New(optFns ...func(o *Options)) *Monitor {
	opts := Options{
		Interval:            30 * time.Second,
		CheckTimeout:        5 * time.Second,
		MaxConcurrentChecks: 10,
		Probes:              []Probe{SelfReportProbe{}},
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if len(opts.Probes) == 0 {
		opts.Probes = []Probe{SelfReportProbe{}}
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Monitor{
		opts:    opts,
		records: make(map[string]*record),
		started: time.Now().UTC(),
	}
}

// StartMonitoring adds the worker to the monitored set. Re-adding an
// already monitored worker is a no-op that preserves its counters.
func (m *Monitor) StartMonitoring(w core.Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[w.ID()]; ok {
		return
	}

	m.records[w.ID()] = &record{
		worker:      w,
		startedAt:   time.Now().UTC(),
		lastVerdict: core.Health{State: core.HealthUnknown},
	}

	m.opts.Logger.Debug("Started monitoring worker", "worker_id", w.ID())
}

// StopMonitoring removes the worker from the monitored set.
func (m *Monitor) StopMonitoring(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, id)
	m.opts.Logger.Debug("Stopped monitoring worker", "worker_id", id)
}

// Monitored returns the ids of all monitored workers.
func (m *Monitor) Monitored() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}

	return ids
}

// FailureCount returns the worker's consecutive unhealthy verdict count.
func (m *Monitor) FailureCount(id string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rec, ok := m.records[id]; ok {
		return rec.failureCount
	}

	return 0
}

// LastVerdict returns the most recent combined verdict for the worker.
func (m *Monitor) LastVerdict(id string) (core.Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return core.Health{}, false
	}

	return rec.lastVerdict, true
}

// PerformHealthCheck runs every configured probe against the worker and
// combines the verdicts by worst-of precedence. An unhealthy combined
// verdict increments the failure counter and raises a FailureInfo; a
// healthy one resets the counter. Probe panics are not recovered; probes
// must not panic.
func (m *Monitor) PerformHealthCheck(ctx context.Context, id string) (core.Health, error) {
	m.mu.RLock()
	rec, ok := m.records[id]
	m.mu.RUnlock()

	if !ok {
		return core.Health{}, fmt.Errorf("%w: %s", ErrNotMonitored, id)
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.opts.CheckTimeout)
	defer cancel()

	target := Target{Worker: rec.worker}
	if m.opts.Metrics != nil {
		if metrics, ok := m.opts.Metrics.WorkerMetrics(id); ok {
			target.Metrics = metrics
		}
	}

	start := time.Now()
	verdict := core.Health{State: core.HealthUnknown}

	for _, probe := range m.opts.Probes {
		if checkCtx.Err() != nil {
			verdict = core.WorstOf(verdict, core.Unhealthy("health check timed out"))
			break
		}

		verdict = core.WorstOf(verdict, probe.Check(checkCtx, target))
	}

	m.opts.Logger.Debug("Health check completed",
		"worker_id", id,
		"state", verdict.State.String(),
		"reason", verdict.Reason,
		"duration", time.Since(start),
	)

	m.record(id, verdict)

	return verdict, nil
}

// record applies the verdict to the worker's counters and raises a
// FailureInfo on unhealthy.
func (m *Monitor) record(id string, verdict core.Health) {
	m.mu.Lock()

	rec, ok := m.records[id]
	if !ok {
		// Stopped while the check was running.
		m.mu.Unlock()
		return
	}

	rec.lastCheck = time.Now().UTC()
	rec.lastVerdict = verdict
	rec.checks++

	var failure *core.FailureInfo

	switch verdict.State {
	case core.HealthUnhealthy:
		rec.failureCount++
		f := core.NewFailure(id, core.FailureHealthCheck, verdict.Reason).
			WithContext("failure_count", fmt.Sprintf("%d", rec.failureCount))
		failure = &f
	case core.HealthHealthy:
		rec.failureCount = 0
	}

	onFailure := m.opts.OnFailure
	m.mu.Unlock()

	if failure != nil && onFailure != nil {
		onFailure(*failure)
	}
}

// Run executes monitoring sweeps on the configured interval until the
// context is cancelled. Check errors never stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep checks every monitored worker with bounded parallelism.
func (m *Monitor) sweep(ctx context.Context) {
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.MaxConcurrentChecks)

	for _, id := range m.Monitored() {
		g.Go(func() error {
			if _, err := m.PerformHealthCheck(groupCtx, id); err != nil && !errors.Is(err, ErrNotMonitored) {
				m.opts.Logger.Warn("Health check failed", "worker_id", id, "error", err)
			}

			return nil
		})
	}

	_ = g.Wait()
}

// Report partitions monitored workers by their last verdict and derives the
// system-wide health by worst-of precedence.
type Report struct {
	System      core.Health   `json:"system"`
	Total       int           `json:"total"`
	Healthy     []string      `json:"healthy,omitempty"`
	Degraded    []string      `json:"degraded,omitempty"`
	Unhealthy   []string      `json:"unhealthy,omitempty"`
	Unknown     []string      `json:"unknown,omitempty"`
	Checks      uint64        `json:"checks"`
	Uptime      time.Duration `json:"uptime"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// GetHealthReport builds a Report from the monitor's current state.
func (m *Monitor) GetHealthReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := Report{
		System:      core.Health{State: core.HealthUnknown},
		Total:       len(m.records),
		Uptime:      time.Since(m.started),
		GeneratedAt: time.Now().UTC(),
	}

	for id, rec := range m.records {
		report.Checks += rec.checks
		report.System = core.WorstOf(report.System, rec.lastVerdict)

		switch rec.lastVerdict.State {
		case core.HealthHealthy:
			report.Healthy = append(report.Healthy, id)
		case core.HealthDegraded:
			report.Degraded = append(report.Degraded, id)
		case core.HealthUnhealthy:
			report.Unhealthy = append(report.Unhealthy, id)
		default:
			report.Unknown = append(report.Unknown, id)
		}
	}

	return report
}
