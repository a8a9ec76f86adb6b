// Package scheduler implements the task scheduler: a priority-ordered
// backlog, a running-task table, an availability snapshot per worker, and
// pluggable selection strategies.
//
// Tasks enter through SubmitTask, wait in one of four priority buckets
// (ties broken strictly by submission order), and are assigned to an
// eligible worker by the configured Strategy. Assignment delivers the task
// over the message bus and races the worker's timeout, the task's deadline
// and completion; results are correlated back through the scheduler's own
// inbox. Failed tasks are retried up to the worker's configured retry
// count; tasks that cannot be placed within the maximum queue wait resolve
// with a resource-unavailable failure.
package scheduler
