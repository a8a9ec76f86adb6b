package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/model"
)

const searchSystemPrompt = `You answer questions about a codebase. Ground
every statement in the provided context, cite the file you found it in and
say so explicitly when the context does not contain the answer.`

const docGenSystemPrompt = `You write developer documentation. Produce
markdown that explains what the code does and how to use it. Keep examples
minimal and runnable.`

// SearchParams carries the query of a search task in TaskSpec.Params.
type SearchParams struct {
	Query string `json:"query"`

	// MaxResults caps the number of references in the answer.
	MaxResults int `json:"max_results,omitempty"`
}

// SearchWorker answers semantic questions about a repository and generates
// documentation from its contents.
type SearchWorker struct {
	*Base
	model model.Model
}

// NewSearchWorker creates a search worker backed by the given model.
func NewSearchWorker(id string, m model.Model, optFns ...func(o *Options)) *SearchWorker {
	opts := Options{Config: core.DefaultWorkerConfig(id)}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Config.ID = id

	caps := []core.Capability{core.CapSemanticSearch, core.CapDocGeneration}

	return &SearchWorker{
		Base:  NewBase("Semantic Search", "1.0.0", caps, opts.Config),
		model: m,
	}
}

// Execute answers the task's query against the provided repository context.
func (w *SearchWorker) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	system := searchSystemPrompt
	if task.Spec.Kind == core.KindDocGeneration {
		system = docGenSystemPrompt
	}

	return runCompletion(ctx, w.Base, w.model, task, system, buildSearchPrompt(task))
}

func buildSearchPrompt(task core.Task) string {
	var params SearchParams
	if len(task.Spec.Params) > 0 {
		_ = json.Unmarshal(task.Spec.Params, &params)
	}

	var sb strings.Builder

	if task.Spec.Kind == core.KindDocGeneration {
		sb.WriteString("Generate documentation for the following code.\n\n")
	} else if params.Query != "" {
		fmt.Fprintf(&sb, "Question: %s\n\n", params.Query)
	} else {
		sb.WriteString("Summarize the following code.\n\n")
	}

	sb.WriteString(contextSection(task))

	if params.MaxResults > 0 {
		fmt.Fprintf(&sb, "\nCite at most %d locations.\n", params.MaxResults)
	}

	return sb.String()
}
