package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/model"
)

const commitSystemPrompt = `You are an expert at writing git commit messages.
Produce a single conventional commit message for the supplied staged changes.
The first line is at most 72 characters; add a body only when the change
needs explanation. Answer with the commit message text only.`

// CommitMessageWorker generates commit messages from staged diffs.
type CommitMessageWorker struct {
	*Base
	model model.Model
}

// NewCommitMessageWorker creates a commit message worker backed by the
// given model.
func NewCommitMessageWorker(id string, m model.Model, optFns ...func(o *Options)) *CommitMessageWorker {
	opts := Options{Config: core.DefaultWorkerConfig(id)}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Config.ID = id

	return &CommitMessageWorker{
		Base:  NewBase("Commit Message Generator", "1.0.0", []core.Capability{core.CapCommitMessages}, opts.Config),
		model: m,
	}
}

// Execute generates a commit message for the task's staged changes.
func (w *CommitMessageWorker) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	return runCompletion(ctx, w.Base, w.model, task, commitSystemPrompt, buildCommitPrompt(task))
}

// buildCommitPrompt renders the user prompt from the task context and
// preferences.
func buildCommitPrompt(task core.Task) string {
	var sb strings.Builder

	sb.WriteString("Write a commit message for the following staged changes.\n\n")
	sb.WriteString(contextSection(task))

	if style := task.Context.Preferences["commit_style"]; style != "" {
		fmt.Fprintf(&sb, "\nPreferred style: %s\n", style)
	}

	if lang := task.Context.Preferences["language"]; lang != "" {
		fmt.Fprintf(&sb, "Write the message in %s.\n", lang)
	}

	return sb.String()
}
