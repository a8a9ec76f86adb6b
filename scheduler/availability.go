package scheduler

import (
	"time"

	"github.com/hupe1980/agentpool/core"
)

// WorkerAvailability is the scheduling view of one worker. Every selection
// strategy reads these snapshots; only the scheduler writes them.
type WorkerAvailability struct {
	WorkerID     string             `json:"worker_id"`
	Load         int                `json:"load"`
	Capacity     int                `json:"capacity"`
	Priority     int                `json:"priority"`
	Capabilities []core.Capability  `json:"capabilities"`
	Health       core.Health        `json:"health"`
	LastActivity time.Time          `json:"last_activity"`
	Metrics      core.WorkerMetrics `json:"metrics"`
}

// HasSlot reports whether the worker can take another task.
func (a WorkerAvailability) HasSlot() bool {
	return a.Load < a.Capacity
}

// LoadRatio returns load over capacity in [0, 1]; full for zero capacity.
func (a WorkerAvailability) LoadRatio() float64 {
	if a.Capacity <= 0 {
		return 1
	}

	return float64(a.Load) / float64(a.Capacity)
}

// TaskStatus is the lifecycle state of a tracked task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskAssigned  TaskStatus = "assigned"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
	TaskTimeout   TaskStatus = "timeout"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled, TaskTimeout:
		return true
	default:
		return false
	}
}

// TaskRecord is a read-only snapshot of one tracked task.
type TaskRecord struct {
	Task       core.Task        `json:"task"`
	WorkerID   string           `json:"worker_id,omitempty"`
	Status     TaskStatus       `json:"status"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
	StartedAt  time.Time        `json:"started_at"`
	Attempts   int              `json:"attempts"`
	Result     *core.TaskResult `json:"result,omitempty"`
}
