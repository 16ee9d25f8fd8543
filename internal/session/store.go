// Package session maps conversation sessions to their live framework
// execution state and a bounded history of completed runs.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/RedClaus/TermAi-sub001/internal/framework"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

const (
	// DefaultHistoryLimit bounds per-session completed-run history.
	DefaultHistoryLimit = 10

	// Idle states are evicted by the background sweep. Liveness, not
	// correctness: nothing survives a process restart anyway.
	sweepInterval = 30 * time.Minute
	idleTimeout   = time.Hour
)

// CompletedRun is one archived framework run.
type CompletedRun struct {
	SessionID   string
	Framework   string
	Problem     string
	Status      framework.ExecutionStatus
	Result      *framework.Result
	Error       string
	Steps       []framework.Step
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// Store holds the live execution state per session. All mutations are
// keyed by session id; no operation ever iterates another session's
// state.
type Store struct {
	mu           sync.Mutex
	states       map[string]*framework.ExecutionState
	history      map[string][]CompletedRun
	historyLimit int

	stop chan struct{}
	done chan struct{}
}

// NewStore creates a store and starts the background sweep.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	s := &Store{
		states:       make(map[string]*framework.ExecutionState),
		history:      make(map[string][]CompletedRun),
		historyLimit: historyLimit,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the background sweep.
func (s *Store) Close() {
	select {
	case <-s.stop:
		return // already closed
	default:
		close(s.stop)
	}
	<-s.done
}

// StartFramework creates an active ExecutionState for the session. A
// prior live state for the same session is implicitly cancelled and
// archived, preserving the at-most-one-live invariant.
func (s *Store) StartFramework(sessionID, frameworkID, problem string) (*framework.ExecutionState, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.states[sessionID]; ok {
		logging.Session("[%s] cancelling prior %s run for new start", sessionID, prev.Framework)
		s.archiveLocked(prev, framework.StatusCancelled, nil, "superseded by new framework start")
	}

	now := time.Now()
	state := &framework.ExecutionState{
		SessionID: sessionID,
		Framework: frameworkID,
		Problem:   problem,
		Context:   make(map[string]any),
		Status:    framework.StatusActive,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.states[sessionID] = state

	logging.Session("[%s] started %s: %q", sessionID, frameworkID, problem)
	return snapshot(state), nil
}

// State returns a snapshot copy of the session's live state.
func (s *Store) State(sessionID string) (*framework.ExecutionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sessionID]
	if !ok {
		return nil, false
	}
	return snapshot(state), true
}

// AddStep appends a step to the session's live state. Steps arriving
// after the state went terminal are dropped, not applied: late-arriving
// callbacks must not mutate an archived outcome.
func (s *Store) AddStep(sessionID string, step framework.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}
	if state.Status.Terminal() {
		logging.SessionDebug("[%s] dropping late step for %s state", sessionID, state.Status)
		return nil
	}

	state.Steps = append(state.Steps, step)
	state.UpdatedAt = time.Now()
	return nil
}

// UpdateStep merges a patch into an existing step. A successful Result,
// once set, is never overwritten.
func (s *Store) UpdateStep(sessionID, stepID string, patch framework.StepPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}
	if state.Status.Terminal() {
		logging.SessionDebug("[%s] dropping late step update for %s state", sessionID, state.Status)
		return nil
	}

	for i := range state.Steps {
		if state.Steps[i].ID != stepID {
			continue
		}
		step := &state.Steps[i]
		if patch.Thought != nil {
			step.Thought = *patch.Thought
		}
		if patch.Action != nil {
			step.Action = *patch.Action
		}
		if patch.Result != nil && (step.Result == nil || !step.Result.Success) {
			step.Result = patch.Result
		}
		if patch.Confidence != nil {
			c := *patch.Confidence
			if c < 0 {
				c = 0
			} else if c > 1 {
				c = 1
			}
			step.Confidence = c
		}
		state.UpdatedAt = time.Now()
		return nil
	}
	return fmt.Errorf("%w: %s", framework.ErrStepNotFound, stepID)
}

// SetPhase records the session's current phase.
func (s *Store) SetPhase(sessionID, phase string) error {
	return s.mutate(sessionID, func(state *framework.ExecutionState) {
		state.CurrentPhase = phase
	})
}

// IncrementLoop bumps the iteration counter and returns the new value.
func (s *Store) IncrementLoop(sessionID string) (int, error) {
	var count int
	err := s.mutate(sessionID, func(state *framework.ExecutionState) {
		state.LoopCount++
		count = state.LoopCount
	})
	return count, err
}

// SetContextValue stores a framework-specific intermediate artifact.
func (s *Store) SetContextValue(sessionID, key string, value any) error {
	return s.mutate(sessionID, func(state *framework.ExecutionState) {
		state.Context[key] = value
	})
}

// SetStatus sets the live state's status directly. Lifecycle helpers
// (Pause, Resume, Complete, Fail, Cancel) are preferred; this exists for
// the execution contract to flip active→complete/failed mid-run.
func (s *Store) SetStatus(sessionID string, status framework.ExecutionStatus) error {
	return s.mutate(sessionID, func(state *framework.ExecutionState) {
		state.Status = status
	})
}

// Pause moves an active state to paused. Idempotent; no-op on terminal
// states.
func (s *Store) Pause(sessionID string) error {
	return s.mutate(sessionID, func(state *framework.ExecutionState) {
		if state.Status == framework.StatusActive {
			state.Status = framework.StatusPaused
			logging.Session("[%s] paused", sessionID)
		}
	})
}

// Resume moves a paused state back to active. Idempotent; no-op on
// terminal states.
func (s *Store) Resume(sessionID string) error {
	return s.mutate(sessionID, func(state *framework.ExecutionState) {
		if state.Status == framework.StatusPaused {
			state.Status = framework.StatusActive
			logging.Session("[%s] resumed", sessionID)
		}
	})
}

// Complete archives the live state as complete with its enriched result.
func (s *Store) Complete(sessionID string, result *framework.Result) error {
	return s.finish(sessionID, framework.StatusComplete, result, "")
}

// Fail tags the state failed before archiving.
func (s *Store) Fail(sessionID string, errMsg string, result *framework.Result) error {
	return s.finish(sessionID, framework.StatusFailed, result, errMsg)
}

// Cancel archives the live state as cancelled. In-flight work for the
// session is not killed; its late results are dropped by AddStep and
// UpdateStep once the state is gone.
func (s *Store) Cancel(sessionID string) error {
	return s.finish(sessionID, framework.StatusCancelled, nil, "cancelled")
}

// History returns the session's archived runs, most recent last.
func (s *Store) History(sessionID string) []CompletedRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CompletedRun(nil), s.history[sessionID]...)
}

// LiveCount returns the number of live (active or paused) states.
func (s *Store) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func (s *Store) mutate(sessionID string, fn func(*framework.ExecutionState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}
	fn(state)
	state.UpdatedAt = time.Now()
	return nil
}

func (s *Store) finish(sessionID string, status framework.ExecutionStatus, result *framework.Result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}
	s.archiveLocked(state, status, result, errMsg)
	return nil
}

// archiveLocked moves a state into bounded history and deletes the live
// entry. Caller holds s.mu.
func (s *Store) archiveLocked(state *framework.ExecutionState, status framework.ExecutionStatus, result *framework.Result, errMsg string) {
	now := time.Now()
	state.Status = status
	if errMsg != "" {
		state.Error = errMsg
	}

	run := CompletedRun{
		SessionID:   state.SessionID,
		Framework:   state.Framework,
		Problem:     state.Problem,
		Status:      status,
		Result:      result,
		Error:       state.Error,
		Steps:       append([]framework.Step(nil), state.Steps...),
		StartedAt:   state.StartedAt,
		CompletedAt: now,
		Duration:    now.Sub(state.StartedAt),
	}

	hist := append(s.history[state.SessionID], run)
	if len(hist) > s.historyLimit {
		hist = hist[len(hist)-s.historyLimit:] // oldest evicted first
	}
	s.history[state.SessionID] = hist
	delete(s.states, state.SessionID)

	logging.Session("[%s] archived %s run as %s (%d steps, %s)",
		state.SessionID, state.Framework, status, len(run.Steps), run.Duration)
}

func (s *Store) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictIdle(time.Now())
		}
	}
}

// evictIdle archives states whose last update exceeds the idle timeout.
func (s *Store) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.states {
		if now.Sub(state.UpdatedAt) > idleTimeout {
			logging.Session("[%s] evicting idle %s state (last update %s ago)",
				state.SessionID, state.Framework, now.Sub(state.UpdatedAt).Round(time.Second))
			s.archiveLocked(state, framework.StatusCancelled, nil, "evicted after idle timeout")
		}
	}
}

func snapshot(state *framework.ExecutionState) *framework.ExecutionState {
	cp := *state
	cp.Steps = append([]framework.Step(nil), state.Steps...)
	ctx := make(map[string]any, len(state.Context))
	for k, v := range state.Context {
		ctx[k] = v
	}
	cp.Context = ctx
	return &cp
}
