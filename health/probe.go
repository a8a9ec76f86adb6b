package health

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentpool/core"
)

// Target bundles everything a probe may inspect about one worker. Metrics
// is a point-in-time copy; probes must not mutate it.
type Target struct {
	Worker  core.Worker
	Metrics core.WorkerMetrics
}

// Probe assesses one dimension of worker fitness. Implementations must be
// fast and must not panic; a probe that cannot produce a verdict should
// return an unhealthy one with the reason.
type Probe interface {
	// Name identifies the probe in logs and reports.
	Name() string

	// Check evaluates the target and returns a verdict. The context
	// carries the per-check deadline.
	Check(ctx context.Context, target Target) core.Health
}

// SelfReportProbe asks the worker itself via its HealthCheck hook. It is
// the default probe when no others are configured.
type SelfReportProbe struct{}

// Name identifies the probe.
func (SelfReportProbe) Name() string { return "self-report" }

// Check returns the worker's own verdict.
func (SelfReportProbe) Check(_ context.Context, target Target) core.Health {
	return target.Worker.HealthCheck()
}

// ResponseTimeProbe degrades a worker whose average response time exceeds
// a ceiling.
type ResponseTimeProbe struct {
	// Ceiling is the maximum acceptable average response time.
	Ceiling time.Duration
}

// Name identifies the probe.
func (ResponseTimeProbe) Name() string { return "response-time" }

// Check compares the worker's average response time against the ceiling.
func (p ResponseTimeProbe) Check(_ context.Context, target Target) core.Health {
	avg := target.Metrics.AvgResponseTime
	if avg > p.Ceiling {
		return core.Degraded(fmt.Sprintf("avg response time %s exceeds ceiling %s", avg, p.Ceiling))
	}

	return core.Healthy()
}

// MemoryProbe flags a worker whose reported memory footprint crosses a
// limit. Crossing 80% of the limit degrades; crossing the limit itself is
// unhealthy.
type MemoryProbe struct {
	// LimitBytes is the hard memory ceiling.
	LimitBytes uint64
}

// Name identifies the probe.
func (MemoryProbe) Name() string { return "memory" }

// Check compares the worker's memory footprint against the limit.
func (p MemoryProbe) Check(_ context.Context, target Target) core.Health {
	used := target.Metrics.MemoryBytes
	if used > p.LimitBytes {
		return core.Unhealthy(fmt.Sprintf("memory %d bytes exceeds limit %d", used, p.LimitBytes))
	}

	if used > p.LimitBytes*80/100 {
		return core.Degraded(fmt.Sprintf("memory %d bytes approaching limit %d", used, p.LimitBytes))
	}

	return core.Healthy()
}

// SuccessRatioProbe flags a worker whose task success ratio falls below a
// minimum. Workers with fewer than MinSamples processed tasks are left
// alone so a single early failure cannot condemn them.
type SuccessRatioProbe struct {
	// MinRatio is the lowest acceptable success fraction in [0, 1].
	MinRatio float64

	// MinSamples is the number of processed tasks required before the
	// ratio is considered meaningful.
	MinSamples uint64
}

// Name identifies the probe.
func (SuccessRatioProbe) Name() string { return "success-ratio" }

// Check compares the worker's success ratio against the minimum.
func (p SuccessRatioProbe) Check(_ context.Context, target Target) core.Health {
	m := target.Metrics
	if m.TasksProcessed < p.MinSamples {
		return core.Healthy()
	}

	ratio := 1 - m.ErrorRate()
	if ratio < p.MinRatio {
		return core.Unhealthy(fmt.Sprintf("success ratio %.2f below minimum %.2f", ratio, p.MinRatio))
	}

	return core.Healthy()
}
