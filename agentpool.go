// Package agentpool provides a high-level façade over the worker pool
// engine: the manager/registry, task scheduler, message bus, health monitor
// and failure recovery subsystem. Most applications interact with this
// package by:
//  1. Creating an AgentPool via New() (optionally from a config file)
//  2. Registering one or more workers (commit, analysis, review, search,
//     remote, or custom implementations of core.Worker)
//  3. Dispatching tasks asynchronously (Dispatch) or synchronously
//     (DispatchSync)
//
// The façade delegates orchestration to manager.Manager while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a tuned config file
// and a structured logger.
package agentpool

import (
	"context"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/manager"
)

// Options configures the AgentPool instance. The manager options cover
// scheduling, health probing, breaker thresholds and the bus middleware
// pipeline.
type Options struct {
	// ManagerOptions are applied to the underlying manager in order.
	ManagerOptions []func(o *manager.Options)
}

// AgentPool is the high-level façade aggregating the pool components.
type AgentPool struct {
	manager *manager.Manager
}

// New creates a new AgentPool with optional overrides.
func New(optFns ...func(o *Options)) *AgentPool {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &AgentPool{manager: manager.New(opts.ManagerOptions...)}
}

// Manager exposes the underlying manager for advanced use.
func (p *AgentPool) Manager() *manager.Manager { return p.manager }

// Run drives the scheduler and health monitor until the context is
// cancelled. Call it once, typically in its own goroutine.
func (p *AgentPool) Run(ctx context.Context) error { return p.manager.Run(ctx) }

// RegisterWorker initializes and activates a worker in the pool.
func (p *AgentPool) RegisterWorker(ctx context.Context, w core.Worker) error {
	return p.manager.RegisterWorker(ctx, w)
}

// UnregisterWorker shuts a worker down and removes it from the pool.
func (p *AgentPool) UnregisterWorker(ctx context.Context, id string) error {
	return p.manager.UnregisterWorker(ctx, id)
}

// Dispatch submits a task and returns its id immediately. The result is
// retrieved with Result or Await.
func (p *AgentPool) Dispatch(task core.Task) (string, error) {
	return p.manager.DispatchTask(task)
}

// DispatchSync submits a task and blocks until its result is available or
// the context ends.
func (p *AgentPool) DispatchSync(ctx context.Context, task core.Task) (core.TaskResult, error) {
	id, err := p.manager.DispatchTask(task)
	if err != nil {
		return core.TaskResult{}, err
	}

	return p.manager.AwaitTaskResult(ctx, id)
}

// Result returns the result of a completed task; the bool reports
// completion.
func (p *AgentPool) Result(id string) (core.TaskResult, bool, error) {
	return p.manager.GetTaskResult(id)
}

// Await blocks until the task finishes or the context ends.
func (p *AgentPool) Await(ctx context.Context, id string) (core.TaskResult, error) {
	return p.manager.AwaitTaskResult(ctx, id)
}

// Cancel cancels a queued task outright and a running one cooperatively.
func (p *AgentPool) Cancel(id string) error { return p.manager.CancelTask(id) }

// Status returns the aggregate system status.
func (p *AgentPool) Status() manager.SystemStatus { return p.manager.GetSystemStatus() }

// Shutdown tears down every worker, aggregating individual failures.
func (p *AgentPool) Shutdown(ctx context.Context) error { return p.manager.Shutdown(ctx) }
