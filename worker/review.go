package worker

import (
	"context"
	"strings"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/model"
)

const reviewSystemPrompt = `You are performing a code review. For every
issue state its severity (blocker, major, minor, nit), the location and a
suggested fix. Close with a one-line overall verdict.`

const testGenSystemPrompt = `You write focused unit tests for the code under
review. Cover the happy path, the documented edge cases and at least one
failure mode. Output compilable test code only, followed by a short note on
what is intentionally not covered.`

// ReviewWorker reviews diffs like a human reviewer would and can produce
// unit tests for the code it reviews.
type ReviewWorker struct {
	*Base
	model model.Model
}

// NewReviewWorker creates a review worker backed by the given model.
func NewReviewWorker(id string, m model.Model, optFns ...func(o *Options)) *ReviewWorker {
	opts := Options{Config: core.DefaultWorkerConfig(id)}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Config.ID = id

	caps := []core.Capability{core.CapCodeReview, core.CapTestGeneration}

	return &ReviewWorker{
		Base:  NewBase("Code Reviewer", "1.0.0", caps, opts.Config),
		model: m,
	}
}

// Execute reviews the task's changes or generates tests for them.
func (w *ReviewWorker) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	var sb strings.Builder

	system := reviewSystemPrompt

	switch task.Spec.Kind {
	case core.KindTestGeneration:
		system = testGenSystemPrompt
		sb.WriteString("Write unit tests for the following changes.\n\n")
	default:
		sb.WriteString("Review the following changes.\n\n")
	}

	sb.WriteString(contextSection(task))

	return runCompletion(ctx, w.Base, w.model, task, system, sb.String())
}
