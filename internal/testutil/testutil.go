// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing core model objects (tasks, worker configs).
// These helpers are intentionally minimal and avoid adding third-party
// dependencies. They are not intended for production usage.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/hupe1980/agentpool/core"
)

// TaskBuilder constructs core.Task fixtures fluently.
type TaskBuilder struct {
	task core.Task
}

// NewTask starts a builder for a task of the given kind.
func NewTask(kind core.TaskKind) *TaskBuilder {
	return &TaskBuilder{task: core.NewTask(core.TaskSpec{Kind: kind})}
}

// WithName sets the operation name (used by custom kinds).
func (b *TaskBuilder) WithName(name string) *TaskBuilder {
	b.task.Spec.Name = name
	return b
}

// WithParams marshals v into the task's params payload. Marshal failures
// panic; builders only run in tests.
func (b *TaskBuilder) WithParams(v any) *TaskBuilder {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	b.task.Spec.Params = data
	return b
}

// WithPriority sets the task priority.
func (b *TaskBuilder) WithPriority(p core.TaskPriority) *TaskBuilder {
	b.task.Priority = p
	return b
}

// WithDeadline sets the task deadline.
func (b *TaskBuilder) WithDeadline(d time.Time) *TaskBuilder {
	b.task = b.task.WithDeadline(d)
	return b
}

// WithRepo sets repository path and branch on the task context.
func (b *TaskBuilder) WithRepo(path, branch string) *TaskBuilder {
	b.task.Context.RepoPath = path
	b.task.Context.Branch = branch
	return b
}

// WithStagedFiles sets the staged file list.
func (b *TaskBuilder) WithStagedFiles(files ...string) *TaskBuilder {
	b.task.Context.StagedFiles = files
	return b
}

// WithDiff sets the diff text.
func (b *TaskBuilder) WithDiff(diff string) *TaskBuilder {
	b.task.Context.Diff = diff
	return b
}

// WithPreference adds one preference entry.
func (b *TaskBuilder) WithPreference(key, value string) *TaskBuilder {
	if b.task.Context.Preferences == nil {
		b.task.Context.Preferences = map[string]string{}
	}
	b.task.Context.Preferences[key] = value
	return b
}

// Build returns the assembled task.
func (b *TaskBuilder) Build() core.Task {
	return b.task
}

// WorkerConfig returns a default worker config with overrides applied.
func WorkerConfig(id string, overrides ...func(cfg *core.WorkerConfig)) core.WorkerConfig {
	cfg := core.DefaultWorkerConfig(id)
	for _, fn := range overrides {
		fn(&cfg)
	}
	return cfg
}
