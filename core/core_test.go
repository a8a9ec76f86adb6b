package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRoundTrip(t *testing.T) {
	task := NewTask(TaskSpec{
		Kind:   KindCommitMessage,
		Params: json.RawMessage(`{"style":"conventional"}`),
	}).WithPriority(PriorityHigh).
		WithDeadline(time.Now().UTC().Add(time.Minute)).
		WithRequester("ui")
	task.Context = TaskContext{
		RepoPath:    "/tmp/repo",
		Branch:      "main",
		StagedFiles: []string{"a.go", "b.go"},
		Diff:        "diff --git a/a.go b/a.go",
		Preferences: map[string]string{"language": "en"},
	}

	data, err := json.Marshal(task)
	require.NoError(t, err)

	var decoded Task
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, task, decoded)
}

func TestTaskResultRoundTrip(t *testing.T) {
	res := SuccessResult("t-1", "commit-1", json.RawMessage(`{"message":"feat: add parser"}`), 120*time.Millisecond)
	res.Metadata = map[string]string{"model": "mock"}

	data, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded TaskResult
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, res, decoded)
}

func TestMessageRoundTrip(t *testing.T) {
	task := NewTask(TaskSpec{Kind: KindSearch, Params: json.RawMessage(`{"query":"tls config"}`)})
	msg, err := NewTaskAssignment("scheduler", "search-1", task)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg, decoded)

	got, err := decoded.DecodeTask()
	require.NoError(t, err)
	assert.Equal(t, task, got)
}

func TestBroadcastEventRoundTrip(t *testing.T) {
	ev := NewBroadcastEvent("manager", EventConfigChanged)
	ev.Payload = json.RawMessage(`{"strategy":"priority"}`)

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded BroadcastEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ev, decoded)
}

func TestDecodeTaskRejectsWrongType(t *testing.T) {
	res := FailureResult("t-1", "w-1", ErrTimeout, time.Second)
	msg, err := NewTaskResultMessage("w-1", "scheduler", res)
	require.NoError(t, err)

	_, err = msg.DecodeTask()
	require.ErrorIs(t, err, ErrSerialization)
}

func TestRequiredCapability(t *testing.T) {
	assert.Equal(t, CapCommitMessages, NewTask(TaskSpec{Kind: KindCommitMessage}).RequiredCapability())
	assert.Equal(t, CapRemoteTools, NewTask(TaskSpec{Kind: KindRemoteTool}).RequiredCapability())

	custom := NewTask(TaskSpec{Kind: KindCustom, Name: "spellcheck"})
	assert.Equal(t, CustomCapability("spellcheck"), custom.RequiredCapability())
}

func TestWorkerStateTransitions(t *testing.T) {
	assert.True(t, StateUninitialized.CanTransition(StateInitializing))
	assert.True(t, StateInitializing.CanTransition(StateIdle))
	assert.True(t, StateIdle.CanTransition(StateProcessing))
	assert.True(t, StateProcessing.CanTransition(StateIdle))
	assert.True(t, StateError.CanTransition(StateIdle))
	assert.True(t, StateShuttingDown.CanTransition(StateShutdown))

	assert.False(t, StateUninitialized.CanTransition(StateIdle))
	assert.False(t, StateShutdown.CanTransition(StateIdle))
	assert.False(t, StateIdle.CanTransition(StateShutdown))
}

func TestWorstOf(t *testing.T) {
	assert.Equal(t, Unhealthy("down"), WorstOf(Healthy(), Unhealthy("down")))
	assert.Equal(t, Degraded("slow"), WorstOf(Degraded("slow"), Healthy()))
	assert.Equal(t, Healthy(), WorstOf(Health{State: HealthUnknown}, Healthy()))
	// On equal severity the first verdict wins.
	assert.Equal(t, Degraded("a"), WorstOf(Degraded("a"), Degraded("b")))
}

func TestTaskExpired(t *testing.T) {
	now := time.Now().UTC()
	task := NewTask(TaskSpec{Kind: KindCodeAnalysis})
	assert.False(t, task.Expired(now))

	task = task.WithDeadline(now.Add(-time.Second))
	assert.True(t, task.Expired(now))
}

func TestWorkerMetricsErrorRate(t *testing.T) {
	var m WorkerMetrics
	assert.Zero(t, m.ErrorRate())

	m.TasksProcessed = 4
	m.TasksFailed = 1
	assert.InDelta(t, 0.25, m.ErrorRate(), 1e-9)
}
