package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/model"
)

const analysisSystemPrompt = `You are a senior software engineer analyzing
code changes. Be concise and specific: name the affected files and lines,
classify each finding and suggest a concrete followup. Answer in plain
text.`

// AnalysisParams tunes an analysis task. It arrives in TaskSpec.Params.
type AnalysisParams struct {
	// Focus narrows the analysis ("complexity", "security", "style", ...).
	Focus string `json:"focus,omitempty"`

	// MaxFindings caps the number of reported findings.
	MaxFindings int `json:"max_findings,omitempty"`
}

// CodeAnalysisWorker analyzes diffs and answers refactoring and workflow
// questions.
type CodeAnalysisWorker struct {
	*Base
	model model.Model
}

// NewCodeAnalysisWorker creates a code analysis worker backed by the given
// model.
func NewCodeAnalysisWorker(id string, m model.Model, optFns ...func(o *Options)) *CodeAnalysisWorker {
	opts := Options{Config: core.DefaultWorkerConfig(id)}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Config.ID = id

	caps := []core.Capability{core.CapCodeAnalysis, core.CapRefactoring, core.CapWorkflowAnalysis}

	return &CodeAnalysisWorker{
		Base:  NewBase("Code Analyzer", "1.0.0", caps, opts.Config),
		model: m,
	}
}

// Execute runs the analysis prompt matching the task kind.
func (w *CodeAnalysisWorker) Execute(ctx context.Context, task core.Task) (core.TaskResult, error) {
	return runCompletion(ctx, w.Base, w.model, task, analysisSystemPrompt, buildAnalysisPrompt(task))
}

func buildAnalysisPrompt(task core.Task) string {
	var params AnalysisParams
	if len(task.Spec.Params) > 0 {
		// Malformed params degrade to the default analysis.
		_ = json.Unmarshal(task.Spec.Params, &params)
	}

	var sb strings.Builder

	switch task.Spec.Kind {
	case core.KindRefactorSuggest:
		sb.WriteString("Suggest refactorings for the following changes.\n\n")
	case core.KindWorkflowAnalysis:
		sb.WriteString("Analyze the development workflow visible in the following changes.\n\n")
	default:
		sb.WriteString("Analyze the following code changes.\n\n")
	}

	sb.WriteString(contextSection(task))

	if params.Focus != "" {
		fmt.Fprintf(&sb, "\nFocus on: %s\n", params.Focus)
	}

	if params.MaxFindings > 0 {
		fmt.Fprintf(&sb, "Report at most %d findings.\n", params.MaxFindings)
	}

	return sb.String()
}
