// Package analytics records framework execution outcomes and derives the
// weight multipliers that feed back into framework selection.
package analytics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/framework"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// minIntentSamples gates the intent-specific weight term; below this the
// pair's data is too sparse to trust.
const minIntentSamples = 3

// ExecutionRecord is one logged framework run.
type ExecutionRecord struct {
	SessionID  string    `json:"sessionId"`
	Framework  string    `json:"framework"`
	Intent     string    `json:"intent"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"durationMs"`
	Iterations int       `json:"iterations"`
	StepCount  int       `json:"stepCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// FrameworkStats aggregates outcomes for one framework.
type FrameworkStats struct {
	Total     int                   `json:"total"`
	Successes int                   `json:"successes"`
	Failures  int                   `json:"failures"`
	ByIntent  map[string]*PairStats `json:"byIntent,omitempty"`
}

// PairStats is a {success, total} pair.
type PairStats struct {
	Success int `json:"success"`
	Total   int `json:"total"`
}

// snapshot is the persisted JSON document, rewritten wholesale on every
// recorded execution.
type snapshot struct {
	Executions            []ExecutionRecord                `json:"executions"`
	FrameworkStats        map[string]*FrameworkStats       `json:"frameworkStats"`
	IntentFrameworkMatrix map[string]map[string]*PairStats `json:"intentFrameworkMatrix"`
	LastUpdated           time.Time                        `json:"lastUpdated"`
}

// Store is the analytics log. The snapshot file is loaded lazily on
// first use.
type Store struct {
	mu         sync.Mutex
	path       string
	maxRecords int
	loaded     bool
	data       snapshot
}

// NewStore creates an analytics store over a snapshot path.
func NewStore(cfg config.AnalyticsConfig) *Store {
	maxRecords := cfg.MaxRecords
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &Store{
		path:       cfg.SnapshotPath,
		maxRecords: maxRecords,
	}
}

// RecordExecution appends a record, updates aggregates and the
// intent×framework matrix, truncates the log FIFO to the record cap, and
// persists the snapshot.
func (s *Store) RecordExecution(sessionID, frameworkID, intent string, result *framework.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	success := result != nil && result.Status == "success"
	record := ExecutionRecord{
		SessionID: sessionID,
		Framework: frameworkID,
		Intent:    intent,
		Success:   success,
		Timestamp: time.Now(),
	}
	if result != nil {
		record.DurationMs = result.Duration.Milliseconds()
		record.Iterations = result.Iterations
		record.StepCount = len(result.Steps)
	}

	s.data.Executions = append(s.data.Executions, record)
	if len(s.data.Executions) > s.maxRecords {
		s.data.Executions = s.data.Executions[len(s.data.Executions)-s.maxRecords:]
	}

	stats := s.data.FrameworkStats[frameworkID]
	if stats == nil {
		stats = &FrameworkStats{ByIntent: make(map[string]*PairStats)}
		s.data.FrameworkStats[frameworkID] = stats
	}
	if stats.ByIntent == nil {
		stats.ByIntent = make(map[string]*PairStats)
	}
	stats.Total++
	if success {
		stats.Successes++
	} else {
		stats.Failures++
	}
	bumpPair(stats.ByIntent, intent, success)

	row := s.data.IntentFrameworkMatrix[intent]
	if row == nil {
		row = make(map[string]*PairStats)
		s.data.IntentFrameworkMatrix[intent] = row
	}
	bumpPair(row, frameworkID, success)

	s.data.LastUpdated = time.Now()

	logging.Analytics("recorded %s/%s success=%t (log=%d)",
		frameworkID, intent, success, len(s.data.Executions))

	return s.persistLocked()
}

func bumpPair(m map[string]*PairStats, key string, success bool) {
	p := m[key]
	if p == nil {
		p = &PairStats{}
		m[key] = p
	}
	p.Total++
	if success {
		p.Success++
	}
}

// AdjustedWeights returns per-framework weight multipliers for an
// intent: (0.5 + overallSuccessRate) × (0.7 + 0.6·intentSuccessRate).
// The intent term only applies with at least minIntentSamples recorded
// for the pair. A framework with no executions gets the baseline weight
// 1.0; there is never a division by zero.
func (s *Store) AdjustedWeights(intent string, frameworkIDs []string) map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	weights := make(map[string]float64, len(frameworkIDs))
	for _, id := range frameworkIDs {
		overallRate := 0.5 // neutral prior for unseen frameworks
		if stats := s.data.FrameworkStats[id]; stats != nil && stats.Total > 0 {
			overallRate = float64(stats.Successes) / float64(stats.Total)
		}

		intentFactor := 1.0
		if row := s.data.IntentFrameworkMatrix[intent]; row != nil {
			if pair := row[id]; pair != nil && pair.Total >= minIntentSamples {
				intentRate := float64(pair.Success) / float64(pair.Total)
				intentFactor = 0.7 + 0.6*intentRate
			}
		}

		weights[id] = (0.5 + overallRate) * intentFactor
	}
	return weights
}

// Stats returns a copy of the per-framework aggregates.
func (s *Store) Stats() map[string]FrameworkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()

	out := make(map[string]FrameworkStats, len(s.data.FrameworkStats))
	for id, stats := range s.data.FrameworkStats {
		cp := *stats
		cp.ByIntent = make(map[string]*PairStats, len(stats.ByIntent))
		for intent, pair := range stats.ByIntent {
			p := *pair
			cp.ByIntent[intent] = &p
		}
		out[id] = cp
	}
	return out
}

// Records returns a copy of the execution log, oldest first.
func (s *Store) Records() []ExecutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked()
	return append([]ExecutionRecord(nil), s.data.Executions...)
}

// ensureLoadedLocked lazily reads the snapshot. A missing or unreadable
// file starts an empty log; analytics never blocks the engine.
func (s *Store) ensureLoadedLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.data = snapshot{
		FrameworkStats:        make(map[string]*FrameworkStats),
		IntentFrameworkMatrix: make(map[string]map[string]*PairStats),
	}

	if s.path == "" {
		return
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.AnalyticsError("snapshot read failed: %v", err)
		}
		return
	}

	var loaded snapshot
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logging.AnalyticsError("snapshot corrupt, starting fresh: %v", err)
		return
	}
	if loaded.FrameworkStats == nil {
		loaded.FrameworkStats = make(map[string]*FrameworkStats)
	}
	if loaded.IntentFrameworkMatrix == nil {
		loaded.IntentFrameworkMatrix = make(map[string]map[string]*PairStats)
	}
	s.data = loaded
	logging.Analytics("loaded snapshot: %d executions", len(s.data.Executions))
}

// persistLocked rewrites the whole snapshot file.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create analytics dir: %w", err)
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal analytics snapshot: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0644); err != nil {
		return fmt.Errorf("write analytics snapshot: %w", err)
	}
	return nil
}
