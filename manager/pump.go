package manager

import (
	"context"
	"time"

	"github.com/hupe1980/agentpool/bus"
	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/scheduler"
)

// pump drains the worker's inbox, executing assignments and applying
// cancel commands, until the registration is cancelled.
func (m *Manager) pump(ctx context.Context, reg *registration) {
	defer close(reg.done)

	for {
		msg, err := reg.inbox.Receive(ctx)
		if err != nil {
			return
		}

		switch msg.Type() {
		case core.PayloadTaskAssign:
			task, err := msg.DecodeTask()
			if err != nil {
				m.logger.Warn("Dropping undecodable task assignment", "worker_id", reg.worker.ID(), "error", err)
				continue
			}

			go m.executeTask(ctx, reg, task)

		case core.PayloadTaskCancel:
			reg.cancelTask(msg.CorrelationID)

		default:
			if bus.IsBroadcast(msg) {
				if ev, err := bus.DecodeEvent(msg); err == nil && ev.Source == reg.worker.ID() {
					continue
				}
			}

			if err := reg.worker.HandleMessage(ctx, msg); err != nil {
				m.logger.Warn("Worker message handler failed", "worker_id", reg.worker.ID(), "message_id", msg.ID, "error", err)
			}
		}
	}
}

// executeTask runs one assignment and posts the outcome to the scheduler.
// Worker errors become failed results so the scheduler sees exactly one
// terminal event per attempt.
func (m *Manager) executeTask(ctx context.Context, reg *registration, task core.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg.track(task.ID, cancel)
	defer reg.untrack(task.ID)

	workerID := reg.worker.ID()
	start := time.Now()

	result, err := reg.worker.Execute(taskCtx, task)
	if err != nil {
		result = core.FailureResult(task.ID, workerID, err, time.Since(start))
	}

	if result.TaskID == "" {
		result.TaskID = task.ID
	}
	if result.WorkerID == "" {
		result.WorkerID = workerID
	}

	msg, err := core.NewTaskResultMessage(workerID, scheduler.SchedulerID, result)
	if err != nil {
		m.logger.Error("Encoding task result failed", "worker_id", workerID, "task_id", task.ID, "error", err)
		return
	}

	if err := m.bus.Send(msg); err != nil {
		m.logger.Error("Posting task result failed", "worker_id", workerID, "task_id", task.ID, "error", err)
	}
}
