package scheduler

import (
	"container/list"
	"time"

	"github.com/hupe1980/agentpool/core"
)

// queuedTask is one backlog entry. seq preserves strict submission order
// within a priority level.
type queuedTask struct {
	task       core.Task
	enqueuedAt time.Time
	seq        uint64
}

// backlog holds queued tasks in one FIFO bucket per priority level.
// Callers serialize access; the scheduler's mutex guards it.
type backlog struct {
	buckets [4]*list.List
	index   map[string]*list.Element
	seq     uint64
}

func newBacklog() *backlog {
	b := &backlog{index: make(map[string]*list.Element)}
	for i := range b.buckets {
		b.buckets[i] = list.New()
	}

	return b
}

func (b *backlog) bucket(p core.TaskPriority) *list.List {
	if p < core.PriorityLow || p > core.PriorityCritical {
		p = core.PriorityNormal
	}

	return b.buckets[p]
}

// push appends the task to its priority bucket.
func (b *backlog) push(task core.Task, now time.Time) {
	b.seq++
	el := b.bucket(task.Priority).PushBack(&queuedTask{task: task, enqueuedAt: now, seq: b.seq})
	b.index[task.ID] = el
}

// remove drops the task from the backlog, reporting whether it was queued.
func (b *backlog) remove(id string) bool {
	el, ok := b.index[id]
	if !ok {
		return false
	}

	delete(b.index, id)
	b.bucket(el.Value.(*queuedTask).task.Priority).Remove(el)

	return true
}

func (b *backlog) len() int {
	return len(b.index)
}

// scan visits queued tasks from highest to lowest priority, submission
// order within a level. The visitor returns true to consume the entry
// (it is removed); false leaves it queued for the next pass.
func (b *backlog) scan(visit func(qt *queuedTask) bool) {
	for p := core.PriorityCritical; p >= core.PriorityLow; p-- {
		bucket := b.buckets[p]
		for el := bucket.Front(); el != nil; {
			next := el.Next()
			qt := el.Value.(*queuedTask)

			if visit(qt) {
				bucket.Remove(el)
				delete(b.index, qt.task.ID)
			}

			el = next
		}
	}
}

// expired returns the tasks queued longer than maxWait, removing them.
func (b *backlog) expired(now time.Time, maxWait time.Duration) []core.Task {
	if maxWait <= 0 {
		return nil
	}

	var out []core.Task

	b.scan(func(qt *queuedTask) bool {
		if now.Sub(qt.enqueuedAt) > maxWait {
			out = append(out, qt.task)
			return true
		}

		return false
	})

	return out
}
