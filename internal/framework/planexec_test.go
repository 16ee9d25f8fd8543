package framework

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/sandbox"
)

func newPlanExecuteForTest(t *testing.T, llm *mockLLMClient, cfg config.FrameworkConfig) (*PlanExecute, *memStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := newMemStore("sess-1", KindPlanExecute)
	runner := sandbox.NewRunner(config.ExecutionConfig{
		WorkingDirectory: dir,
		DefaultTimeout:   "10s",
		MaxOutputBytes:   64 * 1024,
	})
	reg := NewRegistry()
	def, err := reg.Get(KindPlanExecute)
	require.NoError(t, err)

	base := NewBase(def, "sess-1", store, llm, runner, nil, cfg)
	return NewPlanExecute(base), store, dir
}

func TestPlanExecute_AllStepsSucceed(t *testing.T) {
	llm := &mockLLMClient{responses: []string{
		`[
			{"id": 1, "description": "make a file", "command": "touch out.txt",
			 "verification": {"method": "file_exists", "value": "out.txt"}},
			{"id": 2, "description": "write to it", "command": "echo done > out.txt",
			 "depends_on": [1],
			 "verification": {"method": "command", "value": "grep -q done out.txt"}}
		]`,
	}}

	f, store, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	result, err := f.Execute(context.Background(), "create an output file")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	state, _ := store.State("sess-1")
	assert.Equal(t, StatusComplete, state.Status)
	assert.True(t, f.completed[1])
	assert.True(t, f.completed[2])
}

func TestPlanExecute_OptionalStepFailureIsPartial(t *testing.T) {
	// Step 2 is optional and fails pattern verification; the run must end
	// partial with steps 1 and 3 completed and step 2 skipped.
	llm := &mockLLMClient{responses: []string{
		`[
			{"id": 1, "description": "first", "command": "echo one"},
			{"id": 2, "description": "second", "command": "echo two", "optional": true,
			 "verification": {"method": "pattern_match", "value": "NEVER_MATCHES"}},
			{"id": 3, "description": "third", "command": "echo three"}
		]`,
	}}

	f, _, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	result, err := f.Execute(context.Background(), "run three things")
	require.NoError(t, err)

	assert.Equal(t, "partial", result.Status)
	assert.True(t, f.completed[1])
	assert.True(t, f.completed[3])
	assert.False(t, f.completed[2])
	assert.True(t, f.skipped[2])
}

func TestPlanExecute_RetryCapAbortsRun(t *testing.T) {
	llm := &mockLLMClient{responses: []string{
		`[{"id": 1, "description": "always fails", "command": "false"}]`,
		`{"action": "retry", "reason": "transient"}`,
	}}

	cfg := config.DefaultFrameworkConfig()
	cfg.MaxStepRetries = 3
	f, _, _ := newPlanExecuteForTest(t, llm, cfg)

	result, err := f.Execute(context.Background(), "doomed")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, "failed", result.Status)
	// Bounded recovery: exactly MaxStepRetries retry actions for the step.
	assert.Equal(t, 3, f.retries[1])
}

func TestPlanExecute_StepBudget(t *testing.T) {
	llm := &mockLLMClient{responses: []string{
		`[
			{"id": 1, "description": "a", "command": "echo a"},
			{"id": 2, "description": "b", "command": "echo b"},
			{"id": 3, "description": "c", "command": "echo c"}
		]`,
	}}

	cfg := config.DefaultFrameworkConfig()
	cfg.MaxTotalSteps = 2
	f, _, _ := newPlanExecuteForTest(t, llm, cfg)

	result, err := f.Execute(context.Background(), "too many")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStepBudgetExceeded)
	assert.Equal(t, "partial", result.Status)
}

func TestPlanExecute_AddPrerequisite(t *testing.T) {
	// Step 1 needs marker.txt which does not exist; recovery synthesizes
	// a prerequisite that creates it, then step 1 succeeds on retry.
	llm := &mockLLMClient{responses: []string{
		`[{"id": 1, "description": "read marker", "command": "cat marker.txt"}]`,
		`{"action": "add_prerequisite", "reason": "marker missing",
		  "new_step": {"description": "create marker", "command": "echo hi > marker.txt"}}`,
	}}

	f, _, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	result, err := f.Execute(context.Background(), "read the marker")
	require.NoError(t, err)

	assert.Equal(t, "success", result.Status)
	assert.Len(t, f.plan, 2)
	assert.True(t, f.completed[1])
	assert.True(t, f.completed[2]) // synthesized prerequisite got id 2
}

func TestPlanExecute_DependencyNotMetTriggersRecovery(t *testing.T) {
	// Step 2 depends on a step id that is never completed; the failure is
	// treated as an execution failure and recovery classifies it as skip.
	llm := &mockLLMClient{responses: []string{
		`[
			{"id": 1, "description": "ok", "command": "echo ok"},
			{"id": 2, "description": "orphan", "command": "echo orphan", "depends_on": [99]}
		]`,
		`{"action": "skip", "reason": "prerequisite unavailable"}`,
	}}

	f, _, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	result, err := f.Execute(context.Background(), "orphaned dependency")
	require.NoError(t, err)

	assert.Equal(t, "partial", result.Status)
	assert.True(t, f.completed[1])
	assert.True(t, f.skipped[2])
}

func TestPlanExecute_InvalidPlanIsFatal(t *testing.T) {
	llm := &mockLLMClient{responses: []string{"I cannot produce a plan for that."}}

	f, store, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	result, err := f.Execute(context.Background(), "nonsense")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.Equal(t, "failed", result.Status)

	state, _ := store.State("sess-1")
	assert.Equal(t, StatusFailed, state.Status)
}

func TestPlanExecute_EmptyPlanIsFatal(t *testing.T) {
	llm := &mockLLMClient{responses: []string{"```json\n[]\n```"}}

	f, _, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	_, err := f.Execute(context.Background(), "do nothing")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestPlanExecute_RollbackReverseOrder(t *testing.T) {
	llm := &mockLLMClient{responses: []string{
		`[
			{"id": 1, "description": "first", "command": "echo one",
			 "rollback": "echo rollback-1 >> rollback.log"},
			{"id": 2, "description": "second", "command": "echo two",
			 "rollback": "echo rollback-2 >> rollback.log"}
		]`,
	}}

	f, _, dir := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	_, err := f.Execute(context.Background(), "two reversible steps")
	require.NoError(t, err)

	results, err := f.Rollback(context.Background())
	require.NoError(t, err)
	assert.Len(t, results, 2)

	data, err := os.ReadFile(filepath.Join(dir, "rollback.log"))
	require.NoError(t, err)
	// Reverse completion order: step 2's rollback runs before step 1's.
	assert.Equal(t, "rollback-2\nrollback-1\n", string(data))

	// The stack is consumed; a second rollback is a no-op.
	results, err = f.Rollback(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPlanExecute_ResultCarriesSummaryAndNextSteps(t *testing.T) {
	llm := &mockLLMClient{responses: []string{
		`[{"id": 1, "description": "always fails", "command": "false"}]`,
		`{"action": "abort", "reason": "unrecoverable"}`,
	}}

	f, _, _ := newPlanExecuteForTest(t, llm, config.DefaultFrameworkConfig())
	result, err := f.Execute(context.Background(), "hopeless")
	require.Error(t, err)

	assert.Equal(t, "failed", result.Status)
	assert.NotEmpty(t, result.Summary)
	assert.NotEmpty(t, result.NextSteps)
}
