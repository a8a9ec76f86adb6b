package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentpool/core"
)

// Base implements the lifecycle, status and configuration parts of the
// core.Worker contract. Concrete workers embed it and add Execute plus any
// hooks they need. All methods are safe for concurrent use.
type Base struct {
	name    string
	version string
	caps    []core.Capability

	mu     sync.RWMutex
	cfg    core.WorkerConfig
	state  core.WorkerState
	taskID string
	errMsg string
	active int
}

// NewBase creates the embedded lifecycle core for a worker.
func NewBase(name, version string, caps []core.Capability, cfg core.WorkerConfig) *Base {
	return &Base{
		name:    name,
		version: version,
		caps:    caps,
		cfg:     cfg,
		state:   core.StateUninitialized,
	}
}

// ID returns the worker id.
func (b *Base) ID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.cfg.ID
}

// Name returns the display name.
func (b *Base) Name() string { return b.name }

// Version returns the worker version.
func (b *Base) Version() string { return b.version }

// Capabilities returns the advertised capability set.
func (b *Base) Capabilities() []core.Capability {
	b.mu.RLock()
	defer b.mu.RUnlock()

	caps := make([]core.Capability, len(b.caps))
	copy(caps, b.caps)

	return caps
}

// Config returns a copy of the current configuration.
func (b *Base) Config() core.WorkerConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.cfg
}

// Status returns a tagged snapshot of the lifecycle state.
func (b *Base) Status() core.WorkerStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	status := core.WorkerStatus{State: b.state}
	if b.state == core.StateProcessing {
		status.TaskID = b.taskID
	}
	if b.state == core.StateError {
		status.Err = b.errMsg
	}

	return status
}

// transition moves the state along the lifecycle graph, failing on
// disallowed edges.
func (b *Base) transition(next core.WorkerState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.transitionLocked(next)
}

func (b *Base) transitionLocked(next core.WorkerState) error {
	if !b.state.CanTransition(next) {
		return fmt.Errorf("%w: illegal state transition %s -> %s", core.ErrInternal, b.state, next)
	}

	b.state = next

	return nil
}

// Initialize moves the worker to Idle. A worker that was shut down
// re-enters the lifecycle from the top, which is how an in-place restart
// works.
func (b *Base) Initialize(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == core.StateShutdown {
		b.state = core.StateUninitialized
	}

	if b.state == core.StateError {
		b.errMsg = ""
		b.state = core.StateIdle
		return nil
	}

	if err := b.transitionLocked(core.StateInitializing); err != nil {
		return err
	}

	return b.transitionLocked(core.StateIdle)
}

// Shutdown moves the worker to the terminal state.
func (b *Base) Shutdown(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == core.StateShutdown {
		return nil
	}

	if err := b.transitionLocked(core.StateShuttingDown); err != nil {
		return err
	}

	b.active = 0
	b.taskID = ""

	return b.transitionLocked(core.StateShutdown)
}

// BeginTask reserves an execution slot and moves to Processing. It fails
// when the worker is not accepting tasks or is at capacity.
func (b *Base) BeginTask(taskID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != core.StateIdle && b.state != core.StateProcessing {
		return fmt.Errorf("%w: worker %s not accepting tasks in state %s", core.ErrResourceUnavailable, b.cfg.ID, b.state)
	}

	if b.cfg.MaxConcurrentTasks > 0 && b.active >= b.cfg.MaxConcurrentTasks {
		return fmt.Errorf("%w: worker %s at capacity", core.ErrResourceUnavailable, b.cfg.ID)
	}

	if err := b.transitionLocked(core.StateProcessing); err != nil {
		return err
	}

	b.active++
	b.taskID = taskID

	return nil
}

// EndTask releases the slot taken by BeginTask.
func (b *Base) EndTask() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active > 0 {
		b.active--
	}

	if b.state == core.StateProcessing && b.active == 0 {
		b.taskID = ""
		b.state = core.StateIdle
	}
}

// ActiveTasks returns the number of tasks currently executing.
func (b *Base) ActiveTasks() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.active
}

// MarkError moves the worker to Error with the given message.
func (b *Base) MarkError(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state.CanTransition(core.StateError) {
		b.state = core.StateError
		b.errMsg = msg
	}
}

// HealthCheck derives a fast verdict from the lifecycle state.
func (b *Base) HealthCheck() core.Health {
	b.mu.RLock()
	defer b.mu.RUnlock()

	switch b.state {
	case core.StateError:
		return core.Unhealthy(b.errMsg)
	case core.StateShuttingDown, core.StateShutdown:
		return core.Unhealthy("worker shut down")
	case core.StateUninitialized, core.StateInitializing:
		return core.Health{State: core.HealthUnknown}
	default:
		return core.Healthy()
	}
}

// UpdateConfig applies a configuration change. The id is immutable.
func (b *Base) UpdateConfig(cfg core.WorkerConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg.ID != b.cfg.ID {
		return fmt.Errorf("%w: config id %q does not match worker %q", core.ErrConfig, cfg.ID, b.cfg.ID)
	}

	if cfg.MaxConcurrentTasks < 1 {
		return fmt.Errorf("%w: max_concurrent_tasks must be at least 1", core.ErrConfig)
	}

	b.cfg = cfg

	return nil
}

// HandleMessage is a no-op default; workers interested in inter-worker
// messages override it.
func (b *Base) HandleMessage(context.Context, core.Message) error { return nil }
