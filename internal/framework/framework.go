// Package framework defines the cognitive framework catalog, the generic
// execution contract shared by every framework implementation, and the
// concrete built-in frameworks.
package framework

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the framework engine.
var (
	ErrUnknownFramework   = errors.New("unknown framework")
	ErrStepNotFound       = errors.New("step not found")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
)

// ExecutionStatus is the lifecycle status of a running framework instance.
type ExecutionStatus string

const (
	StatusActive    ExecutionStatus = "active"
	StatusPaused    ExecutionStatus = "paused"
	StatusComplete  ExecutionStatus = "complete"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// Phase is one named stage in a framework's fixed ordered sequence.
type Phase struct {
	Name        string
	Description string
	Inputs      []string
	Outputs     []string
}

// SelectionContext carries the observable conversation signals the
// selector scores context predicates against.
type SelectionContext struct {
	LastError         bool
	LastCommandFailed bool
	RecentErrorCount  int
	RecentCommands    []string
	WorkingDirectory  string
}

// ContextSignal is a named boolean predicate over the selection context.
type ContextSignal struct {
	Name  string
	Holds func(SelectionContext) bool
}

// Definition is the immutable, registry-owned description of a framework.
type Definition struct {
	ID            string
	Name          string
	Description   string
	Phases        []Phase
	MaxIterations int

	// Selection metadata: keyword and context signals scored by the
	// selector. Data, not code, by design.
	Keywords       []string
	ContextSignals []ContextSignal

	// SystemPrompt is the framework-specific system prompt fragment used
	// for LLM calls and prompt enhancement.
	SystemPrompt string
}

// PhaseIndex returns the position of a phase name in the definition, or -1.
func (d Definition) PhaseIndex(name string) int {
	for i, p := range d.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// StepResult is the outcome attached to a step after async work completes.
type StepResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// Step is one recorded unit of reasoning/action/result within a run.
type Step struct {
	ID         string      `json:"id"`
	Framework  string      `json:"framework"`
	Phase      string      `json:"phase"`
	Thought    string      `json:"thought"`
	Action     string      `json:"action,omitempty"`
	Result     *StepResult `json:"result,omitempty"`
	Confidence float64     `json:"confidence"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// StepPatch merges into an existing step. Nil fields are left untouched.
// A successful Result is never overwritten.
type StepPatch struct {
	Thought    *string
	Action     *string
	Result     *StepResult
	Confidence *float64
}

// Result is the aggregate outcome of one framework run.
type Result struct {
	Framework     string        `json:"framework"`
	Status        string        `json:"status"` // success, partial, failed
	Steps         []Step        `json:"steps"`
	AvgConfidence float64       `json:"avgConfidence"`
	Summary       string        `json:"summary"`
	NextSteps     []string      `json:"nextSteps"`
	Iterations    int           `json:"iterations"`
	Duration      time.Duration `json:"duration"`
}

// ExecutionState is the live state of one session's framework run.
type ExecutionState struct {
	SessionID    string
	Framework    string
	Problem      string
	CurrentPhase string
	Steps        []Step
	LoopCount    int
	Context      map[string]any
	Status       ExecutionStatus
	Error        string
	StartedAt    time.Time
	UpdatedAt    time.Time
}

// StateStore is the slice of the session store the execution contract
// needs. Mirrors session.Store to avoid an import cycle.
type StateStore interface {
	// State returns a snapshot copy of the session's live state.
	State(sessionID string) (*ExecutionState, bool)

	AddStep(sessionID string, step Step) error
	UpdateStep(sessionID, stepID string, patch StepPatch) error
	SetPhase(sessionID, phase string) error
	IncrementLoop(sessionID string) (int, error)
	SetContextValue(sessionID, key string, value any) error
	SetStatus(sessionID string, status ExecutionStatus) error
}

// ProgressSink receives push notifications as steps are recorded.
// A nil sink is a valid no-op state.
type ProgressSink interface {
	StepAdded(sessionID string, step Step)
}

// Framework is the generic execution contract. New frameworks are added
// by implementing these three methods; the infrastructure (step ledger,
// sandbox, LLM wrapper) comes from Base.
type Framework interface {
	Name() string
	Phases() []Phase
	Execute(ctx context.Context, problem string) (*Result, error)
}

// Rollbacker is implemented by frameworks that record rollback commands
// during execution. Rollback is never automatic; callers invoke it as an
// explicit recovery action.
type Rollbacker interface {
	Rollback(ctx context.Context) ([]StepResult, error)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
