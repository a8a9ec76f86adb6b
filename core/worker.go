package core

import (
	"context"
	"time"
)

// WorkerState is the lifecycle state of a worker.
type WorkerState int

const (
	// StateUninitialized is the state before registration.
	StateUninitialized WorkerState = iota
	// StateInitializing covers the initialize hook at registration.
	StateInitializing
	// StateIdle means registered and ready for tasks.
	StateIdle
	// StateProcessing means at least one task is executing.
	StateProcessing
	// StateError means the worker failed and recovery is in progress.
	StateError
	// StateShuttingDown covers the shutdown hook.
	StateShuttingDown
	// StateShutdown is terminal.
	StateShutdown
)

// String returns the string representation of the state.
func (s WorkerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateIdle:
		return "idle"
	case StateProcessing:
		return "processing"
	case StateError:
		return "error"
	case StateShuttingDown:
		return "shutting-down"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// transitions is the worker lifecycle graph. A worker's state only ever
// moves along these edges.
var transitions = map[WorkerState][]WorkerState{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateIdle, StateError, StateShuttingDown},
	StateIdle:          {StateProcessing, StateError, StateShuttingDown},
	StateProcessing:    {StateIdle, StateProcessing, StateError, StateShuttingDown},
	StateError:         {StateIdle, StateShuttingDown},
	StateShuttingDown:  {StateShutdown},
	StateShutdown:      {},
}

// CanTransition reports whether the lifecycle graph permits moving from s
// to next.
func (s WorkerState) CanTransition(next WorkerState) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// WorkerStatus is a tagged snapshot of the lifecycle state. TaskID is set
// while Processing; Err is set while in Error.
type WorkerStatus struct {
	State  WorkerState `json:"state"`
	TaskID string      `json:"task_id,omitempty"`
	Err    string      `json:"error,omitempty"`
}

// WorkerConfig is the per-worker configuration surface consumed at startup
// and through the UpdateConfig hook.
type WorkerConfig struct {
	ID                 string            `json:"id" yaml:"id"`
	Enabled            bool              `json:"enabled" yaml:"enabled"`
	Priority           int               `json:"priority" yaml:"priority"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	Timeout            time.Duration     `json:"timeout" yaml:"timeout"`
	RetryCount         int               `json:"retry_count" yaml:"retry_count"`
	Settings           map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// DefaultWorkerConfig returns a baseline configuration for the given id.
func DefaultWorkerConfig(id string) WorkerConfig {
	return WorkerConfig{
		ID:                 id,
		Enabled:            true,
		Priority:           5,
		MaxConcurrentTasks: 1,
		Timeout:            30 * time.Second,
		RetryCount:         2,
	}
}

// Worker is the contract every pool member implements. The engine never
// distinguishes concrete variants structurally; capability sets do all the
// matching.
//
// Execute may suspend while awaiting external I/O and must observe ctx
// cancellation at its next yield point. HealthCheck must be fast and
// non-blocking. Initialize, Shutdown, UpdateConfig and HandleMessage are
// lifecycle hooks invoked by the manager; implementations embedding
// worker.Base inherit safe defaults.
type Worker interface {
	ID() string
	Name() string
	Version() string
	Capabilities() []Capability
	Config() WorkerConfig
	Status() WorkerStatus

	Initialize(ctx context.Context) error
	Execute(ctx context.Context, task Task) (TaskResult, error)
	Shutdown(ctx context.Context) error

	HealthCheck() Health
	UpdateConfig(cfg WorkerConfig) error
	HandleMessage(ctx context.Context, msg Message) error
}

// CanHandle reports whether the worker advertises the capability the task
// requires.
func CanHandle(w Worker, t Task) bool {
	return HasCapability(w.Capabilities(), t.RequiredCapability())
}
