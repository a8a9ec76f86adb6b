package core

import "time"

// HealthState is one dimension of worker fitness. States are ordered by
// severity so that combining results is a max operation.
type HealthState int

const (
	// HealthUnknown means no probe has produced a verdict yet.
	HealthUnknown HealthState = iota
	// HealthHealthy means the worker is fully operational.
	HealthHealthy
	// HealthDegraded means the worker works but under reduced guarantees.
	HealthDegraded
	// HealthUnhealthy means the worker must not receive new tasks.
	HealthUnhealthy
)

// String returns the string representation of the state.
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Health is a probe verdict: a state plus an optional human readable reason.
type Health struct {
	State  HealthState `json:"state"`
	Reason string      `json:"reason,omitempty"`
}

// Healthy is the zero-reason healthy verdict.
func Healthy() Health { return Health{State: HealthHealthy} }

// Degraded builds a degraded verdict with a reason.
func Degraded(reason string) Health { return Health{State: HealthDegraded, Reason: reason} }

// Unhealthy builds an unhealthy verdict with a reason.
func Unhealthy(reason string) Health { return Health{State: HealthUnhealthy, Reason: reason} }

// Operational reports whether the worker may receive tasks in this state.
func (h Health) Operational() bool {
	return h.State == HealthHealthy || h.State == HealthDegraded
}

// WorstOf combines two verdicts by severity precedence
// (Unhealthy > Degraded > Healthy > Unknown). The reason of the more severe
// verdict wins; on equal severity the first reason is kept.
func WorstOf(a, b Health) Health {
	if b.State > a.State {
		return b
	}
	return a
}

// WorkerMetrics aggregates per-worker execution statistics. The scheduler
// maintains them; availability snapshots and health probes read them.
type WorkerMetrics struct {
	TasksProcessed  uint64        `json:"tasks_processed"`
	TasksFailed     uint64        `json:"tasks_failed"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastActivity    time.Time     `json:"last_activity"`
	MemoryBytes     uint64        `json:"memory_bytes"`
}

// ErrorRate returns the failed fraction of processed tasks, 0 when idle.
func (m WorkerMetrics) ErrorRate() float64 {
	if m.TasksProcessed == 0 {
		return 0
	}
	return float64(m.TasksFailed) / float64(m.TasksProcessed)
}
