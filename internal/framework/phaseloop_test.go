package framework

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/llm"
	"github.com/RedClaus/TermAi-sub001/internal/sandbox"
)

func newPhaseLoopForTest(t *testing.T, frameworkID string, client llm.Client) (*phaseLoop, *memStore, *recordingSink) {
	t.Helper()
	store := newMemStore("sess-1", frameworkID)
	sink := &recordingSink{}
	runner := sandbox.NewRunner(config.ExecutionConfig{
		WorkingDirectory: t.TempDir(),
		DefaultTimeout:   "10s",
		MaxOutputBytes:   64 * 1024,
	})
	def, err := NewRegistry().Get(frameworkID)
	require.NoError(t, err)

	base := NewBase(def, "sess-1", store, client, runner, sink, config.DefaultFrameworkConfig())
	return newPhaseLoop(base), store, sink
}

func TestPhaseLoop_RunsEveryPhaseOnce(t *testing.T) {
	llmClient := &mockLLMClient{responses: []string{
		"Restating the problem. [CONFIDENCE:0.8]",
		"Breaking it down. [CONFIDENCE:0.8]",
		"Working through it. [CONFIDENCE:0.9]",
		"Conclusion reached. [CONFIDENCE:0.9] [FRAMEWORK_COMPLETE]",
	}}

	f, store, sink := newPhaseLoopForTest(t, KindChainOfThought, llmClient)
	result, err := f.Execute(context.Background(), "why is the cache slow")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	require.Len(t, result.Steps, 4)
	assert.Equal(t, "understand", result.Steps[0].Phase)
	assert.Equal(t, "conclude", result.Steps[3].Phase)
	assert.InDelta(t, 0.85, result.AvgConfidence, 0.001)

	state, _ := store.State("sess-1")
	assert.Equal(t, StatusComplete, state.Status)

	// Progress notifications are pushed, one per step.
	assert.Len(t, sink.steps, 4)
}

func TestPhaseLoop_StopsAtIterationCap(t *testing.T) {
	// Never emits the completion marker; OODA caps at MaxIterations cycles.
	llmClient := &mockLLMClient{responses: []string{"Still looking. [CONFIDENCE:0.5]"}}

	f, store, _ := newPhaseLoopForTest(t, KindOODA, llmClient)
	result, err := f.Execute(context.Background(), "mystery bug")
	require.NoError(t, err)

	assert.Equal(t, "partial", result.Status)
	def := f.Definition()
	assert.Len(t, result.Steps, def.MaxIterations*len(def.Phases))
	assert.NotEmpty(t, result.Summary)
	assert.NotEmpty(t, result.NextSteps)

	state, _ := store.State("sess-1")
	assert.Equal(t, def.MaxIterations-1, state.LoopCount)
}

func TestPhaseLoop_ExecutesProposedCommand(t *testing.T) {
	llmClient := &mockLLMClient{responses: []string{
		"Checking the directory.\n\n```bash\necho probe\n```\n[CONFIDENCE:0.6] [FRAMEWORK_COMPLETE]",
	}}

	f, store, _ := newPhaseLoopForTest(t, KindOODA, llmClient)
	_, err := f.Execute(context.Background(), "inspect workspace")
	require.NoError(t, err)

	state, _ := store.State("sess-1")
	require.NotEmpty(t, state.Steps)
	step := state.Steps[0]
	assert.Equal(t, "echo probe", step.Action)
	require.NotNil(t, step.Result)
	assert.True(t, step.Result.Success)
	assert.Contains(t, step.Result.Output, "probe")
}

func TestPhaseLoop_LLMFailureFailsRun(t *testing.T) {
	llmClient := &mockLLMClient{err: llm.ErrCallFailed}

	f, store, _ := newPhaseLoopForTest(t, KindChainOfThought, llmClient)
	result, err := f.Execute(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrCallFailed)
	assert.NotEmpty(t, result.Summary)

	state, _ := store.State("sess-1")
	assert.Equal(t, StatusFailed, state.Status)
}

func TestPhaseLoop_StopsWhenStateNoLongerLive(t *testing.T) {
	llmClient := &mockLLMClient{responses: []string{"Looking. [CONFIDENCE:0.5]"}}

	f, store, _ := newPhaseLoopForTest(t, KindOODA, llmClient)
	// Simulate cancellation landing mid-run before execution starts.
	require.NoError(t, store.SetStatus("sess-1", StatusCancelled))

	result, err := f.Execute(context.Background(), "cancelled run")
	require.NoError(t, err)
	assert.Empty(t, result.Steps)
}
