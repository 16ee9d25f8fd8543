package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/framework"
)

func newTestStore(t *testing.T, maxRecords int) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "analytics.json")
	return NewStore(config.AnalyticsConfig{SnapshotPath: path, MaxRecords: maxRecords}), path
}

func successResult() *framework.Result {
	return &framework.Result{
		Status:     "success",
		Duration:   2 * time.Second,
		Iterations: 1,
		Steps:      []framework.Step{{ID: "a"}, {ID: "b"}},
	}
}

func failedResult() *framework.Result {
	return &framework.Result{Status: "failed", Duration: time.Second}
}

func TestRecordExecution_UpdatesAggregates(t *testing.T) {
	s, _ := newTestStore(t, 1000)

	require.NoError(t, s.RecordExecution("sess-1", "ooda", "debugging", successResult()))
	require.NoError(t, s.RecordExecution("sess-2", "ooda", "debugging", failedResult()))

	stats := s.Stats()
	ooda := stats["ooda"]
	assert.Equal(t, 2, ooda.Total)
	assert.Equal(t, 1, ooda.Successes)
	assert.Equal(t, 1, ooda.Failures)
	// Totals always equal successes + failures.
	assert.Equal(t, ooda.Total, ooda.Successes+ooda.Failures)

	records := s.Records()
	require.Len(t, records, 2)
	assert.Equal(t, int64(2000), records[0].DurationMs)
	assert.Equal(t, 2, records[0].StepCount)
}

func TestRecordExecution_FIFOCap(t *testing.T) {
	s, _ := newTestStore(t, 1000)

	for i := 0; i < 1001; i++ {
		res := successResult()
		require.NoError(t, s.RecordExecution(fmt.Sprintf("sess-%d", i), "ooda", "debugging", res))
	}

	records := s.Records()
	assert.Len(t, records, 1000)
	// Oldest record (sess-0) was evicted first.
	assert.Equal(t, "sess-1", records[0].SessionID)
	assert.Equal(t, "sess-1000", records[len(records)-1].SessionID)

	// Aggregates keep counting past the log cap.
	assert.Equal(t, 1001, s.Stats()["ooda"].Total)
}

func TestAdjustedWeights_ZeroExecutionsBaseline(t *testing.T) {
	s, _ := newTestStore(t, 1000)

	weights := s.AdjustedWeights("debugging", []string{"ooda", "chain_of_thought"})
	// Unseen frameworks: (0.5 + 0.5) × 1.0 = 1.0, no division by zero.
	assert.Equal(t, 1.0, weights["ooda"])
	assert.Equal(t, 1.0, weights["chain_of_thought"])
}

func TestAdjustedWeights_IntentTermGatedOnSamples(t *testing.T) {
	s, _ := newTestStore(t, 1000)

	// Two debugging samples: below the gate, intent factor stays 1.
	require.NoError(t, s.RecordExecution("s1", "ooda", "debugging", successResult()))
	require.NoError(t, s.RecordExecution("s2", "ooda", "debugging", successResult()))

	w := s.AdjustedWeights("debugging", []string{"ooda"})["ooda"]
	assert.InDelta(t, 1.5, w, 0.001) // (0.5 + 1.0) × 1.0

	// Third sample opens the gate: (0.5 + 1.0) × (0.7 + 0.6·1.0) = 1.95.
	require.NoError(t, s.RecordExecution("s3", "ooda", "debugging", successResult()))
	w = s.AdjustedWeights("debugging", []string{"ooda"})["ooda"]
	assert.InDelta(t, 1.95, w, 0.001)

	// A different intent sees only the overall term.
	w = s.AdjustedWeights("design", []string{"ooda"})["ooda"]
	assert.InDelta(t, 1.5, w, 0.001)
}

func TestAdjustedWeights_MixedOutcomes(t *testing.T) {
	s, _ := newTestStore(t, 1000)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordExecution("s", "plan_execute", "task_execution", successResult()))
	}
	require.NoError(t, s.RecordExecution("s", "plan_execute", "task_execution", failedResult()))

	// Overall 3/4, intent 3/4 with 4 samples:
	// (0.5 + 0.75) × (0.7 + 0.6·0.75) = 1.25 × 1.15 = 1.4375.
	w := s.AdjustedWeights("task_execution", []string{"plan_execute"})["plan_execute"]
	assert.InDelta(t, 1.4375, w, 0.001)
}

func TestSnapshot_PersistAndLazyReload(t *testing.T) {
	s, path := newTestStore(t, 1000)
	require.NoError(t, s.RecordExecution("sess-1", "ooda", "debugging", successResult()))

	// The document on disk has the full shape.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{"executions", "frameworkStats", "intentFrameworkMatrix", "lastUpdated"} {
		assert.Contains(t, doc, key)
	}

	// A fresh store over the same path lazily reloads it.
	reloaded := NewStore(config.AnalyticsConfig{SnapshotPath: path, MaxRecords: 1000})
	assert.Len(t, reloaded.Records(), 1)
	assert.Equal(t, 1, reloaded.Stats()["ooda"].Total)
}

func TestSnapshot_CorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analytics.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	s := NewStore(config.AnalyticsConfig{SnapshotPath: path, MaxRecords: 1000})
	assert.Empty(t, s.Records())
	require.NoError(t, s.RecordExecution("sess-1", "ooda", "debugging", successResult()))
	assert.Len(t, s.Records(), 1)
}

func TestRecordExecution_NilResultCountsAsFailure(t *testing.T) {
	s, _ := newTestStore(t, 1000)
	require.NoError(t, s.RecordExecution("sess-1", "ooda", "debugging", nil))

	stats := s.Stats()["ooda"]
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 0, stats.Successes)
}
