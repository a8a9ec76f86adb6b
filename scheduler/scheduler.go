package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentpool/bus"
	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/logging"
)

// SchedulerID is the scheduler's recipient id on the message bus. Workers
// post task results to it.
const SchedulerID = "scheduler"

// BreakerView is the scheduler's view of the circuit breaker map. The
// recovery manager implements it.
type BreakerView interface {
	// Eligible reports whether traffic may be routed to the worker.
	Eligible(id string) bool

	// RecordSuccess feeds a successful task completion into the breaker.
	RecordSuccess(id string)
}

// noopBreaker admits everything. Used when no breaker view is wired.
type noopBreaker struct{}

func (noopBreaker) Eligible(string) bool { return true }
func (noopBreaker) RecordSuccess(string) {}

// FailureHandler receives failures the scheduler detects (task timeouts,
// delivery errors).
type FailureHandler func(core.FailureInfo)

// Options configures a Scheduler.
type Options struct {
	// Strategy selects among eligible candidates.
	Strategy Strategy

	// TickInterval is the scheduling tick period.
	TickInterval time.Duration

	// MaxQueueWait bounds how long a task may stay queued before it fails
	// with a resource-unavailable result. Zero disables the bound.
	MaxQueueWait time.Duration

	// Breaker filters candidates by breaker eligibility.
	Breaker BreakerView

	// OnFailure receives scheduler-detected worker failures.
	OnFailure FailureHandler

	// Logger is the structured logger. Nil means no logging.
	Logger logging.Logger
}

// Stats aggregates scheduler activity counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Cancelled  uint64 `json:"cancelled"`
	TimedOut   uint64 `json:"timed_out"`
	Retried    uint64 `json:"retried"`
	Expired    uint64 `json:"expired"`
	QueueDepth int    `json:"queue_depth"`
	Running    int    `json:"running"`
}

// workerEntry couples the public availability snapshot with scheduling
// parameters taken from the worker's configuration.
type workerEntry struct {
	av      WorkerAvailability
	timeout time.Duration
	retry   int
}

// taskEntry is the mutable tracking state of one task. epoch increments on
// every assignment so stale timers from a superseded attempt cannot touch
// the record.
type taskEntry struct {
	rec         TaskRecord
	epoch       uint64
	cancel      context.CancelFunc
	attemptDone chan struct{}
	done        chan struct{}
}

// Scheduler owns the backlog, the running-task table and the availability
// table. All mutation goes through its methods; it is safe for concurrent
// use.
type Scheduler struct {
	opts  Options
	bus   *bus.Bus
	inbox *bus.Inbox
	wake  chan struct{}

	mu      sync.Mutex
	backlog *backlog
	tasks   map[string]*taskEntry
	workers map[string]*workerEntry
	stats   Stats
}

// New creates a Scheduler and registers it on the bus under SchedulerID.
func New(b *bus.Bus, optFns ...func(o *Options)) *Scheduler {
	opts := Options{
		Strategy:     LoadBalancingStrategy{},
		TickInterval: 100 * time.Millisecond,
		MaxQueueWait: 5 * time.Minute,
		Breaker:      noopBreaker{},
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Strategy == nil {
		opts.Strategy = LoadBalancingStrategy{}
	}

	if opts.Breaker == nil {
		opts.Breaker = noopBreaker{}
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Scheduler{
		opts:    opts,
		bus:     b,
		inbox:   b.Register(SchedulerID),
		wake:    make(chan struct{}, 1),
		backlog: newBacklog(),
		tasks:   make(map[string]*taskEntry),
		workers: make(map[string]*workerEntry),
	}
}

// notify wakes the dispatch loop without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddWorker inserts the worker into the availability table.
func (s *Scheduler) AddWorker(cfg core.WorkerConfig, caps []core.Capability) {
	s.mu.Lock()

	s.workers[cfg.ID] = &workerEntry{
		av: WorkerAvailability{
			WorkerID:     cfg.ID,
			Capacity:     cfg.MaxConcurrentTasks,
			Priority:     cfg.Priority,
			Capabilities: caps,
			Health:       core.Health{State: core.HealthUnknown},
			LastActivity: time.Now().UTC(),
		},
		timeout: cfg.Timeout,
		retry:   cfg.RetryCount,
	}

	s.mu.Unlock()
	s.notify()
}

// RemoveWorker drops the worker from the availability table. Tasks still
// assigned to it must be cancelled separately via CancelTasksForWorker.
func (s *Scheduler) RemoveWorker(id string) {
	s.mu.Lock()
	delete(s.workers, id)
	s.mu.Unlock()
}

// UpdateWorkerConfig applies capacity, priority, timeout and retry changes.
func (s *Scheduler) UpdateWorkerConfig(cfg core.WorkerConfig) {
	s.mu.Lock()

	if entry, ok := s.workers[cfg.ID]; ok {
		entry.av.Capacity = cfg.MaxConcurrentTasks
		entry.av.Priority = cfg.Priority
		entry.timeout = cfg.Timeout
		entry.retry = cfg.RetryCount
	}

	s.mu.Unlock()
	s.notify()
}

// UpdateHealth applies the monitor's latest verdict to the availability
// snapshot.
func (s *Scheduler) UpdateHealth(id string, h core.Health) {
	s.mu.Lock()

	if entry, ok := s.workers[id]; ok {
		entry.av.Health = h
	}

	s.mu.Unlock()
	s.notify()
}

// WorkerMetrics returns the worker's execution metrics snapshot.
func (s *Scheduler) WorkerMetrics(id string) (core.WorkerMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.workers[id]
	if !ok {
		return core.WorkerMetrics{}, false
	}

	return entry.av.Metrics, true
}

// Availability returns a snapshot of every worker's availability.
func (s *Scheduler) Availability() []WorkerAvailability {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WorkerAvailability, 0, len(s.workers))
	for _, entry := range s.workers {
		out = append(out, entry.av)
	}

	return out
}

// SubmitTask validates and enqueues the task, returning its id. It fails
// with ErrTimeout when the deadline is already expired and with
// ErrUnsupportedCapability when no registered worker advertises the
// required capability.
func (s *Scheduler) SubmitTask(task core.Task) (string, error) {
	now := time.Now().UTC()

	if task.Expired(now) {
		return "", fmt.Errorf("%w: task %s deadline already expired", core.ErrTimeout, task.ID)
	}

	s.mu.Lock()

	if !s.capabilityRegisteredLocked(task.RequiredCapability()) {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %s", core.ErrUnsupportedCapability, task.RequiredCapability())
	}

	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return "", fmt.Errorf("task %s already submitted", task.ID)
	}

	s.tasks[task.ID] = &taskEntry{
		rec:  TaskRecord{Task: task, Status: TaskQueued, EnqueuedAt: now},
		done: make(chan struct{}),
	}
	s.backlog.push(task, now)
	s.stats.Submitted++

	s.mu.Unlock()
	s.notify()

	s.opts.Logger.Debug("Task submitted",
		"task_id", task.ID,
		"kind", string(task.Spec.Kind),
		"priority", task.Priority.String(),
	)

	return task.ID, nil
}

// capabilityRegisteredLocked reports whether any worker advertises cap.
func (s *Scheduler) capabilityRegisteredLocked(cap core.Capability) bool {
	for _, entry := range s.workers {
		if core.HasCapability(entry.av.Capabilities, cap) {
			return true
		}
	}

	return false
}

// Record returns a snapshot of the task's tracking record.
func (s *Scheduler) Record(id string) (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[id]
	if !ok {
		return TaskRecord{}, false
	}

	rec := entry.rec
	if entry.rec.Result != nil {
		result := *entry.rec.Result
		rec.Result = &result
	}

	return rec, true
}

// AwaitResult blocks until the task reaches a terminal status or the
// context ends.
func (s *Scheduler) AwaitResult(ctx context.Context, id string) (core.TaskResult, error) {
	s.mu.Lock()
	entry, ok := s.tasks[id]
	s.mu.Unlock()

	if !ok {
		return core.TaskResult{}, fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}

	select {
	case <-ctx.Done():
		return core.TaskResult{}, ctx.Err()
	case <-entry.done:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return *entry.rec.Result, nil
}

// CancelTask removes a queued task outright and cancels a running one
// cooperatively. Cancelling a finished task is a no-op.
func (s *Scheduler) CancelTask(id string) error {
	s.mu.Lock()

	entry, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrTaskNotFound, id)
	}

	if entry.rec.Status.Terminal() {
		s.mu.Unlock()
		return nil
	}

	if entry.rec.Status == TaskQueued {
		s.backlog.remove(id)
		s.finalizeLocked(entry, TaskCancelled, core.TaskResult{
			TaskID: id,
			Status: core.StatusCancelled,
			Error:  "cancelled while queued",
		})
		s.mu.Unlock()
		return nil
	}

	cancel := entry.cancel
	workerID := entry.rec.WorkerID
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if workerID != "" {
		_ = s.bus.Send(core.NewCancelCommand(SchedulerID, workerID, id))
	}

	return nil
}

// CancelTasksForWorker resolves every in-flight task assigned to the
// worker as cancelled, freeing its slots. The manager calls it during
// unregistration, so the records are terminal before it returns.
func (s *Scheduler) CancelTasksForWorker(workerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.tasks {
		if entry.rec.WorkerID != workerID || !attemptLive(entry.rec.Status) {
			continue
		}

		s.releaseSlotLocked(workerID, entry.rec.StartedAt, false)
		s.finalizeLocked(entry, TaskCancelled, core.TaskResult{
			TaskID:   entry.rec.Task.ID,
			WorkerID: workerID,
			Status:   core.StatusCancelled,
			Error:    "worker unregistered",
			Duration: time.Since(entry.rec.StartedAt),
		})
	}
}

// Stats returns a snapshot of the scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.QueueDepth = s.backlog.len()

	for _, entry := range s.tasks {
		if entry.rec.Status == TaskAssigned || entry.rec.Status == TaskRunning {
			stats.Running++
		}
	}

	return stats
}

// Run drives the scheduling tick and the result correlation loop until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.receiveLoop(groupCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(s.opts.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case <-ticker.C:
			case <-s.wake:
			}

			s.dispatch(groupCtx)
		}
	})

	return g.Wait()
}

// receiveLoop correlates task results arriving on the scheduler inbox.
func (s *Scheduler) receiveLoop(ctx context.Context) error {
	for {
		msg, err := s.inbox.Receive(ctx)
		if err != nil {
			return err
		}

		if msg.Type() != core.PayloadTaskResult {
			continue
		}

		result, err := msg.DecodeTaskResult()
		if err != nil {
			s.opts.Logger.Warn("Dropping undecodable task result", "from", msg.From, "error", err)
			continue
		}

		s.handleResult(result)
	}
}

// dispatch expires overdue queued tasks and assigns whatever the backlog
// and availability permit.
func (s *Scheduler) dispatch(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()

	for _, task := range s.backlog.expired(now, s.opts.MaxQueueWait) {
		if entry, ok := s.tasks[task.ID]; ok && !entry.rec.Status.Terminal() {
			s.stats.Expired++
			s.finalizeLocked(entry, TaskFailed, core.TaskResult{
				TaskID: task.ID,
				Status: core.StatusFailed,
				Error:  fmt.Sprintf("%s: no eligible worker within %s", core.ErrResourceUnavailable, s.opts.MaxQueueWait),
			})
		}
	}

	s.backlog.scan(func(qt *queuedTask) bool {
		entry, ok := s.tasks[qt.task.ID]
		if !ok || entry.rec.Status != TaskQueued {
			// Stale backlog entry; the task was cancelled meanwhile.
			return true
		}

		if qt.task.Expired(now) {
			s.finalizeLocked(entry, TaskTimeout, core.TaskResult{
				TaskID: qt.task.ID,
				Status: core.StatusTimeout,
				Error:  "deadline expired while queued",
			})
			return true
		}

		candidates := s.eligibleLocked(qt.task)

		workerID, ok := s.opts.Strategy.SelectWorker(qt.task, candidates)
		if !ok {
			// Stays queued; retried on the next tick or availability change.
			return false
		}

		s.assignLocked(ctx, entry, qt.task, workerID, now)

		return true
	})

	s.mu.Unlock()
}

// eligibleLocked filters workers by capability, slot, health and breaker.
func (s *Scheduler) eligibleLocked(task core.Task) []WorkerAvailability {
	required := task.RequiredCapability()

	var out []WorkerAvailability
	for id, entry := range s.workers {
		if !core.HasCapability(entry.av.Capabilities, required) {
			continue
		}

		if !entry.av.HasSlot() {
			continue
		}

		if entry.av.Health.State == core.HealthUnhealthy {
			continue
		}

		if !s.opts.Breaker.Eligible(id) {
			continue
		}

		out = append(out, entry.av)
	}

	return out
}

// assignLocked reserves the slot and launches the execution attempt.
func (s *Scheduler) assignLocked(ctx context.Context, entry *taskEntry, task core.Task, workerID string, now time.Time) {
	worker := s.workers[workerID]
	worker.av.Load++

	entry.rec.Status = TaskAssigned
	entry.rec.WorkerID = workerID
	entry.rec.StartedAt = now
	entry.rec.Attempts++
	entry.epoch++

	taskCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel
	entry.attemptDone = make(chan struct{})

	epoch := entry.epoch
	timeout := worker.timeout
	attemptDone := entry.attemptDone

	s.opts.Logger.Debug("Task assigned",
		"task_id", task.ID,
		"worker_id", workerID,
		"attempt", entry.rec.Attempts,
	)

	go s.executeTask(taskCtx, task, workerID, timeout, epoch, attemptDone)
}

// executeTask delivers the task and races completion against the worker
// timeout, the task deadline and cooperative cancellation.
func (s *Scheduler) executeTask(ctx context.Context, task core.Task, workerID string, timeout time.Duration, epoch uint64, attemptDone <-chan struct{}) {
	msg, err := core.NewTaskAssignment(SchedulerID, workerID, task)
	if err == nil {
		err = s.bus.Send(msg)
	}

	if err != nil {
		s.failAttempt(task.ID, workerID, epoch, fmt.Sprintf("task delivery failed: %s", err))
		s.report(core.NewFailure(workerID, core.FailureCommunication, err.Error()).WithContext("task_id", task.ID))
		return
	}

	s.markRunning(task.ID, epoch)

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var deadlineC <-chan time.Time
	if task.Deadline != nil {
		timer := time.NewTimer(time.Until(*task.Deadline))
		defer timer.Stop()
		deadlineC = timer.C
	}

	select {
	case <-attemptDone:
		return
	case <-timeoutC:
		if s.timeoutAttempt(task.ID, workerID, epoch, "worker timeout exceeded") {
			s.report(core.NewFailure(workerID, core.FailureTaskTimeout, "worker timeout exceeded").WithContext("task_id", task.ID))
		}
	case <-deadlineC:
		if s.timeoutAttempt(task.ID, workerID, epoch, "task deadline exceeded") {
			s.report(core.NewFailure(workerID, core.FailureTaskTimeout, "task deadline exceeded").WithContext("task_id", task.ID))
		}
	case <-ctx.Done():
		s.cancelAttempt(task.ID, workerID, epoch)
	}

	// Whatever later arrives from the worker for this attempt is ignored;
	// a best-effort cancel tells it to stop.
	_ = s.bus.Send(core.NewCancelCommand(SchedulerID, workerID, task.ID))
}

// report forwards a failure to the configured handler.
func (s *Scheduler) report(failure core.FailureInfo) {
	if s.opts.OnFailure != nil {
		s.opts.OnFailure(failure)
	}
}

// attemptLive reports whether the status belongs to an in-flight attempt.
// It excludes Queued so a stale timer cannot touch a requeued task.
func attemptLive(status TaskStatus) bool {
	return status == TaskAssigned || status == TaskRunning
}

// markRunning moves the attempt from Assigned to Running.
func (s *Scheduler) markRunning(taskID string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[taskID]
	if ok && entry.epoch == epoch && entry.rec.Status == TaskAssigned {
		entry.rec.Status = TaskRunning
	}
}

// failAttempt finalizes the attempt as failed after a delivery error.
func (s *Scheduler) failAttempt(taskID, workerID string, epoch uint64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[taskID]
	if !ok || entry.epoch != epoch || !attemptLive(entry.rec.Status) {
		return
	}

	s.releaseSlotLocked(workerID, entry.rec.StartedAt, true)
	s.finalizeLocked(entry, TaskFailed, core.TaskResult{
		TaskID:   taskID,
		WorkerID: workerID,
		Status:   core.StatusFailed,
		Error:    reason,
	})
}

// timeoutAttempt finalizes the attempt as timed out, freeing the slot. It
// reports whether it actually performed the transition.
func (s *Scheduler) timeoutAttempt(taskID, workerID string, epoch uint64, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[taskID]
	if !ok || entry.epoch != epoch || !attemptLive(entry.rec.Status) {
		return false
	}

	s.stats.TimedOut++
	s.releaseSlotLocked(workerID, entry.rec.StartedAt, true)
	s.finalizeLocked(entry, TaskTimeout, core.TaskResult{
		TaskID:   taskID,
		WorkerID: workerID,
		Status:   core.StatusTimeout,
		Error:    reason,
		Duration: time.Since(entry.rec.StartedAt),
	})

	return true
}

// cancelAttempt finalizes the attempt as cancelled, freeing the slot.
func (s *Scheduler) cancelAttempt(taskID, workerID string, epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[taskID]
	if !ok || entry.epoch != epoch || !attemptLive(entry.rec.Status) {
		return
	}

	s.releaseSlotLocked(workerID, entry.rec.StartedAt, false)
	s.finalizeLocked(entry, TaskCancelled, core.TaskResult{
		TaskID:   taskID,
		WorkerID: workerID,
		Status:   core.StatusCancelled,
		Error:    "cancelled",
		Duration: time.Since(entry.rec.StartedAt),
	})
}

// handleResult applies a worker-posted result to the task record. Late
// results for superseded or finished attempts are dropped.
func (s *Scheduler) handleResult(result core.TaskResult) {
	s.mu.Lock()

	entry, ok := s.tasks[result.TaskID]
	if !ok || entry.rec.Status.Terminal() || entry.rec.WorkerID != result.WorkerID {
		s.mu.Unlock()
		return
	}

	if entry.rec.Status != TaskAssigned && entry.rec.Status != TaskRunning {
		s.mu.Unlock()
		return
	}

	workerID := entry.rec.WorkerID
	failed := !result.Succeeded()
	s.releaseSlotLocked(workerID, entry.rec.StartedAt, failed)

	retry := 0
	if worker, ok := s.workers[workerID]; ok {
		retry = worker.retry
	}

	// A plain failure is retried while the attempt budget lasts.
	if result.Status == core.StatusFailed && entry.rec.Attempts <= retry {
		s.stats.Retried++
		entry.rec.Status = TaskQueued
		entry.rec.WorkerID = ""
		if entry.cancel != nil {
			entry.cancel()
			entry.cancel = nil
		}
		close(entry.attemptDone)
		entry.attemptDone = nil
		s.backlog.push(entry.rec.Task, time.Now().UTC())

		s.mu.Unlock()
		s.notify()

		s.opts.Logger.Debug("Task requeued after failure",
			"task_id", result.TaskID,
			"worker_id", workerID,
			"attempt", entry.rec.Attempts,
		)

		return
	}

	status := TaskCompleted
	switch result.Status {
	case core.StatusFailed:
		status = TaskFailed
	case core.StatusCancelled:
		status = TaskCancelled
	case core.StatusTimeout:
		status = TaskTimeout
	}

	s.finalizeLocked(entry, status, result)
	s.mu.Unlock()
	s.notify()

	if result.Succeeded() {
		s.opts.Breaker.RecordSuccess(workerID)
	}
}

// releaseSlotLocked frees the worker's slot and folds the attempt into its
// metrics.
func (s *Scheduler) releaseSlotLocked(workerID string, startedAt time.Time, failed bool) {
	worker, ok := s.workers[workerID]
	if !ok {
		return
	}

	if worker.av.Load > 0 {
		worker.av.Load--
	}

	m := &worker.av.Metrics
	m.TasksProcessed++
	if failed {
		m.TasksFailed++
	}

	dur := time.Since(startedAt)
	m.AvgResponseTime += (dur - m.AvgResponseTime) / time.Duration(m.TasksProcessed)
	m.LastActivity = time.Now().UTC()
	worker.av.LastActivity = m.LastActivity
}

// finalizeLocked moves the task to a terminal status and releases waiters.
func (s *Scheduler) finalizeLocked(entry *taskEntry, status TaskStatus, result core.TaskResult) {
	entry.rec.Status = status
	entry.rec.Result = &result

	switch status {
	case TaskCompleted:
		s.stats.Completed++
	case TaskFailed:
		s.stats.Failed++
	case TaskCancelled:
		s.stats.Cancelled++
	}

	if entry.cancel != nil {
		entry.cancel()
		entry.cancel = nil
	}

	if entry.attemptDone != nil {
		close(entry.attemptDone)
		entry.attemptDone = nil
	}

	close(entry.done)
}
