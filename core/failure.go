package core

import "time"

// FailureKind classifies a detected worker failure for the recovery
// pipeline.
type FailureKind string

const (
	FailureTaskTimeout        FailureKind = "task-timeout"
	FailureHealthCheck        FailureKind = "health-check-failed"
	FailureCommunication      FailureKind = "communication-error"
	FailureResourceExhaustion FailureKind = "resource-exhaustion"
	FailureInitialization     FailureKind = "initialization-failed"
	FailureUnexpectedShutdown FailureKind = "unexpected-shutdown"
)

// FailureInfo records one observed failure of a worker. It is the input to
// the recovery manager, which updates the worker's circuit breaker and runs
// remediation strategies.
type FailureInfo struct {
	WorkerID   string            `json:"worker_id"`
	Kind       FailureKind       `json:"kind"`
	Message    string            `json:"message"`
	OccurredAt time.Time         `json:"occurred_at"`
	Context    map[string]string `json:"context,omitempty"`
}

// NewFailure creates a failure record timestamped now.
func NewFailure(workerID string, kind FailureKind, message string) FailureInfo {
	return FailureInfo{
		WorkerID:   workerID,
		Kind:       kind,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	}
}

// WithContext returns a copy of the record with an added context entry.
func (f FailureInfo) WithContext(key, value string) FailureInfo {
	ctx := make(map[string]string, len(f.Context)+1)
	for k, v := range f.Context {
		ctx[k] = v
	}
	ctx[key] = value
	f.Context = ctx
	return f
}
