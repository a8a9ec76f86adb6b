package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentpool/bus"
	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/health"
	"github.com/hupe1980/agentpool/logging"
	"github.com/hupe1980/agentpool/recovery"
	"github.com/hupe1980/agentpool/scheduler"
)

// ManagerID is the manager's sender id on the bus.
const ManagerID = "manager"

// Options configures a Manager. Zero values keep the owned component's own
// default for that setting.
type Options struct {
	// Strategy selects among eligible workers. Nil means load balancing.
	Strategy scheduler.Strategy

	// TickInterval is the scheduling tick period.
	TickInterval time.Duration

	// MaxQueueWait bounds how long a task may stay queued.
	MaxQueueWait time.Duration

	// HealthInterval is the period between health sweeps.
	HealthInterval time.Duration

	// CheckTimeout bounds one worker's probe run.
	CheckTimeout time.Duration

	// Probes is the health probe list. Empty means self-report only.
	Probes []health.Probe

	// Breaker is the circuit breaker configuration.
	Breaker recovery.BreakerConfig

	// MaxRecoveryAttempts is the per-worker recovery budget.
	MaxRecoveryAttempts int

	// InitTimeout bounds a worker's initialize hook at registration.
	InitTimeout time.Duration

	// ShutdownTimeout bounds a worker's shutdown hook.
	ShutdownTimeout time.Duration

	// ExhaustionLimit is how many recovery exhaustions a worker survives
	// before the manager unregisters it.
	ExhaustionLimit int

	// Middleware is the bus middleware pipeline.
	Middleware []bus.Middleware

	// Logger is the structured logger. Nil means no logging.
	Logger logging.Logger
}

// registration is the manager-side state of one pool member.
type registration struct {
	worker core.Worker
	inbox  *bus.Inbox
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// track remembers the cancel function of an executing task so cancel
// commands arriving on the inbox can reach it.
func (r *registration) track(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running[taskID] = cancel
}

func (r *registration) untrack(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.running, taskID)
}

// cancelTask cancels the named task, or every running task when taskID is
// empty.
func (r *registration) cancelTask(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if taskID == "" {
		for _, cancel := range r.running {
			cancel()
		}
		return
	}

	if cancel, ok := r.running[taskID]; ok {
		cancel()
	}
}

// WorkerSnapshot is a read-only view of a registered worker.
type WorkerSnapshot struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Version      string             `json:"version"`
	Capabilities []core.Capability  `json:"capabilities"`
	Status       core.WorkerStatus  `json:"status"`
	Health       core.Health        `json:"health"`
	Config       core.WorkerConfig  `json:"config"`
	Metrics      core.WorkerMetrics `json:"metrics"`
}

// SystemStatus is the aggregate view returned by GetSystemStatus.
type SystemStatus struct {
	Health    core.Health     `json:"health"`
	Workers   int             `json:"workers"`
	Scheduler scheduler.Stats `json:"scheduler"`
	Recovery  recovery.Stats  `json:"recovery"`
	Uptime    time.Duration   `json:"uptime"`
	StartedAt time.Time       `json:"started_at"`
}

// Manager owns the engine components and the worker registry.
type Manager struct {
	opts   Options
	logger logging.Logger

	bus      *bus.Bus
	sched    *scheduler.Scheduler
	monitor  *health.Monitor
	recovery *recovery.Manager

	mu         sync.RWMutex
	workers    map[string]*registration
	exhausted  map[string]int
	recovering map[string]bool
	startedAt  time.Time
}

// New creates a Manager with freshly assembled components.
func New(optFns ...func(o *Options)) *Manager {
	opts := Options{
		InitTimeout:     10 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		ExhaustionLimit: 3,
		Breaker:         recovery.DefaultBreakerConfig(),
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	m := &Manager{
		opts:       opts,
		logger:     opts.Logger,
		workers:    make(map[string]*registration),
		exhausted:  make(map[string]int),
		recovering: make(map[string]bool),
		startedAt:  time.Now().UTC(),
	}

	m.bus = bus.New(func(o *bus.Options) {
		o.Middleware = opts.Middleware
		o.Logger = opts.Logger
	})

	m.recovery = recovery.NewManager(func(o *recovery.Options) {
		o.Breaker = opts.Breaker
		o.Logger = opts.Logger
		o.OnExhausted = m.onExhausted
		o.Strategies = []recovery.Strategy{
			&recovery.RestartStrategy{Workers: m, Timeout: opts.InitTimeout},
			&recovery.FailoverStrategy{Target: m},
			&recovery.DegradeStrategy{Target: m},
		}
		if opts.MaxRecoveryAttempts > 0 {
			o.MaxAttempts = opts.MaxRecoveryAttempts
		}
	})

	m.sched = scheduler.New(m.bus, func(o *scheduler.Options) {
		o.Breaker = m.recovery
		o.OnFailure = m.handleFailure
		o.Logger = opts.Logger
		if opts.Strategy != nil {
			o.Strategy = opts.Strategy
		}
		if opts.TickInterval > 0 {
			o.TickInterval = opts.TickInterval
		}
		if opts.MaxQueueWait > 0 {
			o.MaxQueueWait = opts.MaxQueueWait
		}
	})

	m.monitor = health.New(func(o *health.Options) {
		o.Probes = opts.Probes
		o.OnFailure = m.handleFailure
		o.Metrics = m.sched
		o.Logger = opts.Logger
		if opts.HealthInterval > 0 {
			o.Interval = opts.HealthInterval
		}
		if opts.CheckTimeout > 0 {
			o.CheckTimeout = opts.CheckTimeout
		}
	})

	return m
}

// Bus returns the owned message bus.
func (m *Manager) Bus() *bus.Bus { return m.bus }

// Scheduler returns the owned scheduler.
func (m *Manager) Scheduler() *scheduler.Scheduler { return m.sched }

// Monitor returns the owned health monitor.
func (m *Manager) Monitor() *health.Monitor { return m.monitor }

// Recovery returns the owned recovery manager.
func (m *Manager) Recovery() *recovery.Manager { return m.recovery }

// Run drives the scheduler and the health monitor until the context is
// cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return m.sched.Run(groupCtx)
	})

	g.Go(func() error {
		return m.monitor.Run(groupCtx)
	})

	g.Go(func() error {
		return m.syncHealthLoop(groupCtx)
	})

	return g.Wait()
}

// RegisterWorker initializes the worker under a timeout and activates it
// in every component. A failed initialize leaves the worker unregistered.
func (m *Manager) RegisterWorker(ctx context.Context, w core.Worker) error {
	id := w.ID()

	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrDuplicateWorker, id)
	}
	m.mu.Unlock()

	initCtx, cancel := context.WithTimeout(ctx, m.opts.InitTimeout)
	defer cancel()

	if err := w.Initialize(initCtx); err != nil {
		m.logger.Error("Worker initialization failed", "worker_id", id, "error", err)
		return fmt.Errorf("%w: %s: %v", core.ErrInitializationFailed, id, err)
	}

	pumpCtx, pumpCancel := context.WithCancel(context.Background())

	reg := &registration{
		worker:  w,
		inbox:   m.bus.Register(id),
		cancel:  pumpCancel,
		done:    make(chan struct{}),
		running: make(map[string]context.CancelFunc),
	}

	m.mu.Lock()
	if _, exists := m.workers[id]; exists {
		m.mu.Unlock()
		pumpCancel()
		m.bus.Unregister(id)
		return fmt.Errorf("%w: %s", core.ErrDuplicateWorker, id)
	}
	m.workers[id] = reg
	m.mu.Unlock()

	m.monitor.StartMonitoring(w)
	m.sched.AddWorker(w.Config(), w.Capabilities())

	go m.pump(pumpCtx, reg)

	ev := core.NewBroadcastEvent(ManagerID, core.EventWorkerRegistered)
	ev.Name = id
	m.bus.Broadcast(ev)

	m.logger.Info("Worker registered", "worker_id", id, "name", w.Name(), "capabilities", len(w.Capabilities()))

	return nil
}

// UnregisterWorker cancels the worker's tasks, shuts it down under a
// timeout and removes it from every component.
func (m *Manager) UnregisterWorker(ctx context.Context, id string) error {
	m.mu.Lock()
	reg, ok := m.workers[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrWorkerNotFound, id)
	}
	delete(m.workers, id)
	delete(m.exhausted, id)
	m.mu.Unlock()

	// In-flight tasks resolve Cancelled before the worker goes away.
	m.sched.CancelTasksForWorker(id)
	reg.cancelTask("")

	reg.cancel()
	<-reg.done

	shutdownCtx, cancel := context.WithTimeout(ctx, m.opts.ShutdownTimeout)
	defer cancel()

	if err := reg.worker.Shutdown(shutdownCtx); err != nil {
		m.logger.Warn("Worker shutdown failed", "worker_id", id, "error", err)
	}

	m.sched.RemoveWorker(id)
	m.monitor.StopMonitoring(id)
	m.bus.Unregister(id)
	m.recovery.Forget(id)

	ev := core.NewBroadcastEvent(ManagerID, core.EventWorkerUnregistered)
	ev.Name = id
	m.bus.Broadcast(ev)

	m.logger.Info("Worker unregistered", "worker_id", id)

	return nil
}

// GetWorker returns a snapshot of the registered worker.
func (m *Manager) GetWorker(id string) (WorkerSnapshot, error) {
	m.mu.RLock()
	reg, ok := m.workers[id]
	m.mu.RUnlock()

	if !ok {
		return WorkerSnapshot{}, fmt.Errorf("%w: %s", core.ErrWorkerNotFound, id)
	}

	return m.snapshot(reg), nil
}

// ListWorkers returns a snapshot of every registered worker.
func (m *Manager) ListWorkers() []WorkerSnapshot {
	m.mu.RLock()
	regs := make([]*registration, 0, len(m.workers))
	for _, reg := range m.workers {
		regs = append(regs, reg)
	}
	m.mu.RUnlock()

	out := make([]WorkerSnapshot, 0, len(regs))
	for _, reg := range regs {
		out = append(out, m.snapshot(reg))
	}

	return out
}

func (m *Manager) snapshot(reg *registration) WorkerSnapshot {
	w := reg.worker

	snap := WorkerSnapshot{
		ID:           w.ID(),
		Name:         w.Name(),
		Version:      w.Version(),
		Capabilities: w.Capabilities(),
		Status:       w.Status(),
		Health:       core.Health{State: core.HealthUnknown},
		Config:       w.Config(),
	}

	if verdict, ok := m.monitor.LastVerdict(snap.ID); ok {
		snap.Health = verdict
	}

	if metrics, ok := m.sched.WorkerMetrics(snap.ID); ok {
		snap.Metrics = metrics
	}

	return snap
}

// FindByCapability returns the ids of workers advertising the capability.
func (m *Manager) FindByCapability(cap core.Capability) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id, reg := range m.workers {
		if core.HasCapability(reg.worker.Capabilities(), cap) {
			ids = append(ids, id)
		}
	}

	return ids
}

// DispatchTask submits the task and returns its id immediately. The result
// is retrieved separately with GetTaskResult or AwaitTaskResult.
func (m *Manager) DispatchTask(task core.Task) (string, error) {
	return m.sched.SubmitTask(task)
}

// GetTaskResult returns the result of a completed task. The bool reports
// completion; a known but unfinished task returns (zero, false, nil).
func (m *Manager) GetTaskResult(id string) (core.TaskResult, bool, error) {
	rec, ok := m.sched.Record(id)
	if !ok {
		return core.TaskResult{}, false, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}

	if rec.Status.Terminal() && rec.Result != nil {
		return *rec.Result, true, nil
	}

	return core.TaskResult{}, false, nil
}

// AwaitTaskResult blocks until the task finishes or the context ends.
func (m *Manager) AwaitTaskResult(ctx context.Context, id string) (core.TaskResult, error) {
	return m.sched.AwaitResult(ctx, id)
}

// CancelTask cancels a queued task outright and a running one
// cooperatively.
func (m *Manager) CancelTask(id string) error {
	return m.sched.CancelTask(id)
}

// GetSystemStatus aggregates worker counts, scheduler and recovery
// statistics and the worst-of system health.
func (m *Manager) GetSystemStatus() SystemStatus {
	m.mu.RLock()
	workers := len(m.workers)
	m.mu.RUnlock()

	report := m.monitor.GetHealthReport()

	return SystemStatus{
		Health:    report.System,
		Workers:   workers,
		Scheduler: m.sched.Stats(),
		Recovery:  m.recovery.Stats(),
		Uptime:    time.Since(m.startedAt),
		StartedAt: m.startedAt,
	}
}

// UpdateWorkerConfig applies a configuration change to a registered worker
// and the scheduler's availability table.
func (m *Manager) UpdateWorkerConfig(cfg core.WorkerConfig) error {
	m.mu.RLock()
	reg, ok := m.workers[cfg.ID]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", core.ErrWorkerNotFound, cfg.ID)
	}

	if err := reg.worker.UpdateConfig(cfg); err != nil {
		return err
	}

	m.sched.UpdateWorkerConfig(cfg)

	ev := core.NewBroadcastEvent(ManagerID, core.EventConfigChanged)
	ev.Name = cfg.ID
	m.bus.Broadcast(ev)

	return nil
}

// Shutdown tears down every worker, continuing past individual failures
// and aggregating them.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	regs := make(map[string]*registration, len(m.workers))
	for id, reg := range m.workers {
		regs[id] = reg
	}
	m.workers = make(map[string]*registration)
	m.exhausted = make(map[string]int)
	m.mu.Unlock()

	m.bus.Broadcast(core.NewBroadcastEvent(ManagerID, core.EventShutdown))

	var (
		errMu sync.Mutex
		errs  []error
	)

	var wg sync.WaitGroup

	for id, reg := range regs {
		wg.Add(1)

		go func(id string, reg *registration) {
			defer wg.Done()

			m.sched.CancelTasksForWorker(id)
			reg.cancelTask("")
			reg.cancel()
			<-reg.done

			shutdownCtx, cancel := context.WithTimeout(ctx, m.opts.ShutdownTimeout)
			defer cancel()

			if err := reg.worker.Shutdown(shutdownCtx); err != nil {
				errMu.Lock()
				errs = append(errs, fmt.Errorf("worker %s: %w", id, err))
				errMu.Unlock()
			}

			m.sched.RemoveWorker(id)
			m.monitor.StopMonitoring(id)
			m.bus.Unregister(id)
			m.recovery.Forget(id)
		}(id, reg)
	}

	wg.Wait()

	m.logger.Info("Pool shut down", "workers", len(regs), "errors", len(errs))

	return errors.Join(errs...)
}
