package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/RedClaus/TermAi-sub001/internal/framework"
)

func TestMain(m *testing.M) {
	// go.opencensus.io starts a global stats worker in package init
	// (pulled in transitively via google.golang.org/genai); it is not a
	// goroutine leaked by this package's tests.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore(DefaultHistoryLimit)
	t.Cleanup(s.Close)
	return s
}

func TestStartFramework_AtMostOneLive(t *testing.T) {
	s := newTestStore(t)

	_, err := s.StartFramework("sess-1", framework.KindOODA, "first problem")
	require.NoError(t, err)

	// Starting again cancels and archives the prior run.
	_, err = s.StartFramework("sess-1", framework.KindChainOfThought, "second problem")
	require.NoError(t, err)

	assert.Equal(t, 1, s.LiveCount())
	state, ok := s.State("sess-1")
	require.True(t, ok)
	assert.Equal(t, framework.KindChainOfThought, state.Framework)

	hist := s.History("sess-1")
	require.Len(t, hist, 1)
	assert.Equal(t, framework.KindOODA, hist[0].Framework)
	assert.Equal(t, framework.StatusCancelled, hist[0].Status)
}

func TestPauseResume_Idempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("sess-1", framework.KindOODA, "p")
	require.NoError(t, err)

	require.NoError(t, s.Pause("sess-1"))
	require.NoError(t, s.Pause("sess-1")) // second pause: no error, no change
	state, _ := s.State("sess-1")
	assert.Equal(t, framework.StatusPaused, state.Status)

	require.NoError(t, s.Resume("sess-1"))
	require.NoError(t, s.Resume("sess-1"))
	state, _ = s.State("sess-1")
	assert.Equal(t, framework.StatusActive, state.Status)
}

func TestAddStep_AndLateDrop(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("sess-1", framework.KindOODA, "p")
	require.NoError(t, err)

	require.NoError(t, s.AddStep("sess-1", framework.Step{ID: "a", Phase: "observe", Thought: "x"}))
	require.NoError(t, s.SetStatus("sess-1", framework.StatusCancelled))

	// Late-arriving mutations are dropped, not applied.
	require.NoError(t, s.AddStep("sess-1", framework.Step{ID: "b", Phase: "act"}))
	conf := 0.9
	require.NoError(t, s.UpdateStep("sess-1", "a", framework.StepPatch{Confidence: &conf}))

	state, _ := s.State("sess-1")
	require.Len(t, state.Steps, 1)
	assert.NotEqual(t, 0.9, state.Steps[0].Confidence)
}

func TestUpdateStep_SuccessfulResultNeverOverwritten(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("sess-1", framework.KindOODA, "p")
	require.NoError(t, err)
	require.NoError(t, s.AddStep("sess-1", framework.Step{ID: "a"}))

	ok := &framework.StepResult{Success: true, Output: "good"}
	require.NoError(t, s.UpdateStep("sess-1", "a", framework.StepPatch{Result: ok}))

	bad := &framework.StepResult{Success: false, Output: "late failure"}
	require.NoError(t, s.UpdateStep("sess-1", "a", framework.StepPatch{Result: bad}))

	state, _ := s.State("sess-1")
	require.NotNil(t, state.Steps[0].Result)
	assert.True(t, state.Steps[0].Result.Success)
	assert.Equal(t, "good", state.Steps[0].Result.Output)
}

func TestUpdateStep_UnknownStep(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("sess-1", framework.KindOODA, "p")
	require.NoError(t, err)

	err = s.UpdateStep("sess-1", "nope", framework.StepPatch{})
	assert.ErrorIs(t, err, framework.ErrStepNotFound)
}

func TestComplete_ArchivesAndBoundsHistory(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < DefaultHistoryLimit+3; i++ {
		_, err := s.StartFramework("sess-1", framework.KindOODA, "p")
		require.NoError(t, err)
		require.NoError(t, s.Complete("sess-1", &framework.Result{Framework: framework.KindOODA, Status: "success"}))
	}

	assert.Equal(t, 0, s.LiveCount())
	hist := s.History("sess-1")
	assert.Len(t, hist, DefaultHistoryLimit)
	for _, run := range hist {
		assert.Equal(t, framework.StatusComplete, run.Status)
		assert.NotZero(t, run.CompletedAt)
	}
}

func TestFail_TagsStatusBeforeArchiving(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("sess-1", framework.KindPlanExecute, "p")
	require.NoError(t, err)

	require.NoError(t, s.Fail("sess-1", "plan was empty", nil))

	_, ok := s.State("sess-1")
	assert.False(t, ok)
	hist := s.History("sess-1")
	require.Len(t, hist, 1)
	assert.Equal(t, framework.StatusFailed, hist[0].Status)
	assert.Equal(t, "plan was empty", hist[0].Error)
}

func TestOperationsOnMissingSession(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.Pause("ghost"), framework.ErrSessionNotFound)
	assert.ErrorIs(t, s.Complete("ghost", nil), framework.ErrSessionNotFound)
	assert.ErrorIs(t, s.AddStep("ghost", framework.Step{}), framework.ErrSessionNotFound)
	_, ok := s.State("ghost")
	assert.False(t, ok)
}

func TestEvictIdle(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("stale", framework.KindOODA, "p")
	require.NoError(t, err)
	_, err = s.StartFramework("fresh", framework.KindOODA, "p")
	require.NoError(t, err)

	s.mu.Lock()
	s.states["stale"].UpdatedAt = time.Now().Add(-2 * time.Hour)
	s.mu.Unlock()

	// Only the state idle past the timeout is evicted.
	s.evictIdle(time.Now())
	assert.Equal(t, 1, s.LiveCount())
	_, ok := s.State("fresh")
	assert.True(t, ok)

	hist := s.History("stale")
	require.Len(t, hist, 1)
	assert.Equal(t, framework.StatusCancelled, hist[0].Status)
	assert.Contains(t, hist[0].Error, "idle")
}

func TestClose_Idempotent(t *testing.T) {
	s := NewStore(5)
	s.Close()
	s.Close() // second close must not panic or block
}

func TestStateSnapshotIsolation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.StartFramework("sess-1", framework.KindOODA, "p")
	require.NoError(t, err)
	require.NoError(t, s.AddStep("sess-1", framework.Step{ID: "a", Thought: "original"}))

	snap, _ := s.State("sess-1")
	snap.Steps[0].Thought = "mutated copy"
	snap.Context["rogue"] = true

	state, _ := s.State("sess-1")
	assert.Equal(t, "original", state.Steps[0].Thought)
	assert.NotContains(t, state.Context, "rogue")
}
