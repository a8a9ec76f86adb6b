package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/model"
)

// Options configures a worker constructor.
type Options struct {
	// Config is the worker configuration; the constructor forces its ID.
	Config core.WorkerConfig
}

// Completion is the JSON payload every LLM-backed worker returns in a
// successful TaskResult.
type Completion struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// DecodeCompletion unpacks a Completion from a task result payload.
func DecodeCompletion(result core.TaskResult) (Completion, error) {
	var c Completion
	if err := json.Unmarshal(result.Payload, &c); err != nil {
		return Completion{}, fmt.Errorf("%w: %s", core.ErrSerialization, err)
	}

	return c, nil
}

// runCompletion executes one model call under the worker's slot
// accounting. Model failures and cancellations come back as typed results,
// never as errors.
func runCompletion(ctx context.Context, b *Base, m model.Model, task core.Task, system, prompt string) (core.TaskResult, error) {
	start := time.Now()

	if err := b.BeginTask(task.ID); err != nil {
		return core.TaskResult{}, err
	}
	defer b.EndTask()

	resp, err := m.Complete(ctx, model.Request{System: system, Prompt: prompt})
	dur := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return core.TaskResult{
				TaskID:   task.ID,
				WorkerID: b.ID(),
				Status:   core.StatusCancelled,
				Error:    ctx.Err().Error(),
				Duration: dur,
			}, nil
		}

		return core.FailureResult(task.ID, b.ID(), fmt.Errorf("%w: %s", core.ErrTaskProcessingFailed, err), dur), nil
	}

	payload, err := json.Marshal(Completion{Text: resp.Text, Model: resp.Model})
	if err != nil {
		return core.FailureResult(task.ID, b.ID(), fmt.Errorf("%w: %s", core.ErrSerialization, err), dur), nil
	}

	result := core.SuccessResult(task.ID, b.ID(), payload, dur)
	result.Metadata = map[string]string{"model": resp.Model}
	if resp.Usage != nil {
		result.Metadata["total_tokens"] = strconv.Itoa(resp.Usage.TotalTokens)
	}

	return result, nil
}

// contextSection renders the task's repository context for inclusion in a
// prompt.
func contextSection(task core.Task) string {
	var sb strings.Builder

	if task.Context.RepoPath != "" {
		fmt.Fprintf(&sb, "Repository: %s\n", task.Context.RepoPath)
	}

	if task.Context.Branch != "" {
		fmt.Fprintf(&sb, "Branch: %s\n", task.Context.Branch)
	}

	if len(task.Context.StagedFiles) > 0 {
		fmt.Fprintf(&sb, "Staged files:\n")
		for _, f := range task.Context.StagedFiles {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}

	if task.Context.Diff != "" {
		fmt.Fprintf(&sb, "\nDiff:\n%s\n", task.Context.Diff)
	}

	return sb.String()
}
