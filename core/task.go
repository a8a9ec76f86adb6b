package core

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskPriority orders tasks in the scheduler backlog. Higher values are
// served first; ties are broken strictly by submission order.
type TaskPriority int

const (
	// PriorityLow is for background work that may wait indefinitely.
	PriorityLow TaskPriority = iota
	// PriorityNormal is the default priority.
	PriorityNormal
	// PriorityHigh is for latency sensitive work.
	PriorityHigh
	// PriorityCritical preempts everything except in-flight tasks.
	PriorityCritical
)

// String returns the string representation of the priority.
func (p TaskPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TaskKind identifies the domain operation a task requests.
type TaskKind string

// Built-in task kinds. KindCustom carries its operation name in
// TaskSpec.Name and matches workers advertising the corresponding custom
// capability.
const (
	KindCommitMessage    TaskKind = "commit-message"
	KindCodeAnalysis     TaskKind = "code-analysis"
	KindCodeReview       TaskKind = "code-review"
	KindSearch           TaskKind = "search"
	KindDocGeneration    TaskKind = "doc-generation"
	KindRefactorSuggest  TaskKind = "refactor-suggest"
	KindTestGeneration   TaskKind = "test-generation"
	KindWorkflowAnalysis TaskKind = "workflow-analysis"
	KindRemoteResource   TaskKind = "remote-resource"
	KindRemoteTool       TaskKind = "remote-tool"
	KindCustom           TaskKind = "custom"
)

var kindCapabilities = map[TaskKind]Capability{
	KindCommitMessage:    CapCommitMessages,
	KindCodeAnalysis:     CapCodeAnalysis,
	KindCodeReview:       CapCodeReview,
	KindSearch:           CapSemanticSearch,
	KindDocGeneration:    CapDocGeneration,
	KindRefactorSuggest:  CapRefactoring,
	KindTestGeneration:   CapTestGeneration,
	KindWorkflowAnalysis: CapWorkflowAnalysis,
	KindRemoteResource:   CapRemoteResources,
	KindRemoteTool:       CapRemoteTools,
}

// TaskSpec describes the requested operation. Params is an open JSON payload
// interpreted by the executing worker (file lists, diffs, queries, ...).
type TaskSpec struct {
	Kind   TaskKind        `json:"kind"`
	Name   string          `json:"name,omitempty"` // operation name for KindCustom
	Params json.RawMessage `json:"params,omitempty"`
}

// TaskContext carries read-only data supplied by external collaborators
// (repository snapshot, user preferences). The engine never interprets it;
// only concrete workers do.
type TaskContext struct {
	RepoPath    string            `json:"repo_path,omitempty"`
	Branch      string            `json:"branch,omitempty"`
	StagedFiles []string          `json:"staged_files,omitempty"`
	Diff        string            `json:"diff,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Task is a unit of submitted work with priority and optional deadline.
// A task is created at submission and destroyed once its result is delivered
// or its deadline expires.
type Task struct {
	ID          string       `json:"id"`
	Spec        TaskSpec     `json:"spec"`
	Priority    TaskPriority `json:"priority"`
	Deadline    *time.Time   `json:"deadline,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	RequesterID string       `json:"requester_id,omitempty"`
	Context     TaskContext  `json:"context"`
}

// NewTask creates a task for the given spec with a fresh id, normal priority
// and no deadline.
func NewTask(spec TaskSpec) Task {
	return Task{
		ID:        NewID(),
		Spec:      spec,
		Priority:  PriorityNormal,
		CreatedAt: time.Now().UTC(),
	}
}

// WithPriority returns a copy of the task with the given priority.
func (t Task) WithPriority(p TaskPriority) Task {
	t.Priority = p
	return t
}

// WithDeadline returns a copy of the task with the given deadline.
func (t Task) WithDeadline(d time.Time) Task {
	u := d.UTC()
	t.Deadline = &u
	return t
}

// WithRequester returns a copy of the task attributed to the given caller.
func (t Task) WithRequester(id string) Task {
	t.RequesterID = id
	return t
}

// RequiredCapability derives the capability a worker must advertise to
// execute this task.
func (t Task) RequiredCapability() Capability {
	if t.Spec.Kind == KindCustom {
		return CustomCapability(t.Spec.Name)
	}
	if cap, ok := kindCapabilities[t.Spec.Kind]; ok {
		return cap
	}
	return CustomCapability(string(t.Spec.Kind))
}

// Expired reports whether the task's deadline has passed.
func (t Task) Expired(now time.Time) bool {
	return t.Deadline != nil && now.After(*t.Deadline)
}

// ResultStatus classifies the outcome of a task execution.
type ResultStatus string

const (
	StatusSuccess        ResultStatus = "success"
	StatusPartialSuccess ResultStatus = "partial_success"
	StatusFailed         ResultStatus = "failed"
	StatusTimeout        ResultStatus = "timeout"
	StatusCancelled      ResultStatus = "cancelled"
)

// TaskResult is the typed outcome of a task. Business failures and
// infrastructure failures both surface here, never as raised errors, so
// callers awaiting a result need a single code path.
type TaskResult struct {
	TaskID   string            `json:"task_id"`
	WorkerID string            `json:"worker_id"`
	Status   ResultStatus      `json:"status"`
	Payload  json.RawMessage   `json:"payload,omitempty"`
	Error    string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Succeeded reports whether the result carries a usable payload.
func (r TaskResult) Succeeded() bool {
	return r.Status == StatusSuccess || r.Status == StatusPartialSuccess
}

// SuccessResult builds a successful result with the given JSON payload.
func SuccessResult(taskID, workerID string, payload json.RawMessage, dur time.Duration) TaskResult {
	return TaskResult{TaskID: taskID, WorkerID: workerID, Status: StatusSuccess, Payload: payload, Duration: dur}
}

// FailureResult builds a failed result carrying the error message.
func FailureResult(taskID, workerID string, err error, dur time.Duration) TaskResult {
	res := TaskResult{TaskID: taskID, WorkerID: workerID, Status: StatusFailed, Duration: dur}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// NewID generates a unique identifier for tasks, messages and events.
func NewID() string { return uuid.NewString() }
