package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentpool/core"
	"github.com/hupe1980/agentpool/internal/testutil"
	"github.com/hupe1980/agentpool/model"
)

var (
	_ core.Worker = (*CommitMessageWorker)(nil)
	_ core.Worker = (*CodeAnalysisWorker)(nil)
	_ core.Worker = (*ReviewWorker)(nil)
	_ core.Worker = (*SearchWorker)(nil)
	_ core.Worker = (*RemoteWorker)(nil)
)

func commitTask() core.Task {
	return testutil.NewTask(core.KindCommitMessage).
		WithRepo("/repo", "main").
		WithStagedFiles("cmd/main.go").
		WithDiff("+func main() {}").
		WithPreference("commit_style", "conventional").
		Build()
}

func TestCommitMessageWorkerExecute(t *testing.T) {
	mock := &model.MockModel{ResponseText: "feat: add entry point"}
	w := NewCommitMessageWorker("commit-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	task := commitTask()

	result, err := w.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, core.StatusSuccess, result.Status)
	require.Equal(t, task.ID, result.TaskID)
	require.Equal(t, "commit-1", result.WorkerID)
	require.Equal(t, "mock", result.Metadata["model"])

	completion, err := DecodeCompletion(result)
	require.NoError(t, err)
	require.Equal(t, "feat: add entry point", completion.Text)

	// The prompt carries the staged context and preferences.
	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	require.Contains(t, reqs[0].Prompt, "cmd/main.go")
	require.Contains(t, reqs[0].Prompt, "+func main() {}")
	require.Contains(t, reqs[0].Prompt, "conventional")
	require.NotEmpty(t, reqs[0].System)

	// The slot is released after execution.
	require.Equal(t, core.StateIdle, w.Status().State)
}

func TestCommitMessageWorkerModelFailure(t *testing.T) {
	mock := &model.MockModel{Err: errors.New("rate limited")}
	w := NewCommitMessageWorker("commit-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	result, err := w.Execute(context.Background(), commitTask())
	require.NoError(t, err)
	require.Equal(t, core.StatusFailed, result.Status)
	require.Contains(t, result.Error, "rate limited")
	require.Contains(t, result.Error, core.ErrTaskProcessingFailed.Error())
	require.Equal(t, core.StateIdle, w.Status().State)
}

func TestCommitMessageWorkerCancellation(t *testing.T) {
	mock := &model.MockModel{
		CompleteFn: func(ctx context.Context, _ model.Request) (model.Response, error) {
			<-ctx.Done()
			return model.Response{}, ctx.Err()
		},
	}
	w := NewCommitMessageWorker("commit-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := w.Execute(ctx, commitTask())
	require.NoError(t, err)
	require.Equal(t, core.StatusCancelled, result.Status)
	require.Equal(t, core.StateIdle, w.Status().State)
}

func TestCommitMessageWorkerRejectedWhenNotReady(t *testing.T) {
	w := NewCommitMessageWorker("commit-1", &model.MockModel{})

	_, err := w.Execute(context.Background(), commitTask())
	require.ErrorIs(t, err, core.ErrResourceUnavailable)
}

func TestAnalysisWorkerPromptByKind(t *testing.T) {
	tests := []struct {
		kind core.TaskKind
		want string
	}{
		{core.KindCodeAnalysis, "Analyze the following code changes."},
		{core.KindRefactorSuggest, "Suggest refactorings"},
		{core.KindWorkflowAnalysis, "development workflow"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			mock := &model.MockModel{ResponseText: "ok"}
			w := NewCodeAnalysisWorker("analysis-1", mock)
			require.NoError(t, w.Initialize(context.Background()))

			task := core.NewTask(core.TaskSpec{Kind: tt.kind})
			task.Context.Diff = "+x := 1"

			result, err := w.Execute(context.Background(), task)
			require.NoError(t, err)
			require.Equal(t, core.StatusSuccess, result.Status)

			reqs := mock.Requests()
			require.Len(t, reqs, 1)
			require.Contains(t, reqs[0].Prompt, tt.want)
		})
	}
}

func TestAnalysisWorkerParams(t *testing.T) {
	mock := &model.MockModel{ResponseText: "ok"}
	w := NewCodeAnalysisWorker("analysis-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	task := testutil.NewTask(core.KindCodeAnalysis).
		WithParams(AnalysisParams{Focus: "security", MaxFindings: 3}).
		Build()

	_, err := w.Execute(context.Background(), task)
	require.NoError(t, err)

	prompt := mock.Requests()[0].Prompt
	require.Contains(t, prompt, "security")
	require.Contains(t, prompt, "at most 3 findings")
}

func TestReviewWorkerKinds(t *testing.T) {
	mock := &model.MockModel{ResponseText: "looks good"}
	w := NewReviewWorker("review-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	review := core.NewTask(core.TaskSpec{Kind: core.KindCodeReview})
	_, err := w.Execute(context.Background(), review)
	require.NoError(t, err)

	testGen := core.NewTask(core.TaskSpec{Kind: core.KindTestGeneration})
	_, err = w.Execute(context.Background(), testGen)
	require.NoError(t, err)

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	require.Contains(t, reqs[0].Prompt, "Review the following changes.")
	require.Contains(t, reqs[1].Prompt, "Write unit tests")
	require.NotEqual(t, reqs[0].System, reqs[1].System)
}

func TestSearchWorkerQuery(t *testing.T) {
	mock := &model.MockModel{ResponseText: "in the scheduler"}
	w := NewSearchWorker("search-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	task := testutil.NewTask(core.KindSearch).
		WithParams(SearchParams{Query: "where is retry handled", MaxResults: 5}).
		Build()

	result, err := w.Execute(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, core.StatusSuccess, result.Status)

	prompt := mock.Requests()[0].Prompt
	require.Contains(t, prompt, "where is retry handled")
	require.Contains(t, prompt, "at most 5 locations")
}

func TestSearchWorkerDocGeneration(t *testing.T) {
	mock := &model.MockModel{ResponseText: "# Package docs"}
	w := NewSearchWorker("search-1", mock)
	require.NoError(t, w.Initialize(context.Background()))

	task := core.NewTask(core.TaskSpec{Kind: core.KindDocGeneration})

	_, err := w.Execute(context.Background(), task)
	require.NoError(t, err)

	req := mock.Requests()[0]
	require.Contains(t, req.Prompt, "Generate documentation")
	require.Equal(t, docGenSystemPrompt, req.System)
}

func TestWorkerCapabilities(t *testing.T) {
	mock := &model.MockModel{}

	commit := NewCommitMessageWorker("c", mock)
	require.True(t, core.CanHandle(commit, core.NewTask(core.TaskSpec{Kind: core.KindCommitMessage})))
	require.False(t, core.CanHandle(commit, core.NewTask(core.TaskSpec{Kind: core.KindCodeReview})))

	review := NewReviewWorker("r", mock)
	require.True(t, core.CanHandle(review, core.NewTask(core.TaskSpec{Kind: core.KindTestGeneration})))

	analysis := NewCodeAnalysisWorker("a", mock)
	require.True(t, core.CanHandle(analysis, core.NewTask(core.TaskSpec{Kind: core.KindRefactorSuggest})))
	require.True(t, core.CanHandle(analysis, core.NewTask(core.TaskSpec{Kind: core.KindWorkflowAnalysis})))

	search := NewSearchWorker("s", mock)
	require.True(t, core.CanHandle(search, core.NewTask(core.TaskSpec{Kind: core.KindDocGeneration})))
}
