package framework

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/llm"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
	"github.com/RedClaus/TermAi-sub001/internal/sandbox"
)

// Base provides the shared services every concrete framework composes
// with: the step ledger, sandboxed command execution, LLM invocation,
// and result shaping. Concrete frameworks embed it and implement Execute.
type Base struct {
	def       Definition
	sessionID string
	store     StateStore
	llm       llm.Client
	runner    *sandbox.Runner
	sink      ProgressSink
	cfg       config.FrameworkConfig
	startedAt time.Time
}

// NewBase wires the shared services for one framework run.
func NewBase(def Definition, sessionID string, store StateStore, client llm.Client, runner *sandbox.Runner, sink ProgressSink, cfg config.FrameworkConfig) *Base {
	return &Base{
		def:       def,
		sessionID: sessionID,
		store:     store,
		llm:       client,
		runner:    runner,
		sink:      sink,
		cfg:       cfg,
		startedAt: time.Now(),
	}
}

// Name returns the framework identifier.
func (b *Base) Name() string { return b.def.ID }

// Phases returns the framework's ordered phase list.
func (b *Base) Phases() []Phase { return b.def.Phases }

// Definition returns the registry definition this run was built from.
func (b *Base) Definition() Definition { return b.def }

// SessionID returns the owning session identifier.
func (b *Base) SessionID() string { return b.sessionID }

// Config returns the engine tunables for this run.
func (b *Base) Config() config.FrameworkConfig { return b.cfg }

// AddStep appends a step, sets it as the session's current phase, and
// synchronously notifies the progress sink.
func (b *Base) AddStep(phase, thought, action string) (*Step, error) {
	step := Step{
		ID:         uuid.NewString(),
		Framework:  b.def.ID,
		Phase:      phase,
		Thought:    thought,
		Action:     action,
		Confidence: b.cfg.DefaultParseConfidence,
		CreatedAt:  time.Now(),
	}

	if err := b.store.AddStep(b.sessionID, step); err != nil {
		return nil, err
	}
	if err := b.store.SetPhase(b.sessionID, phase); err != nil {
		return nil, err
	}

	logging.FrameworkDebug("[%s] step added: phase=%s action=%q", b.sessionID, phase, action)

	if b.sink != nil {
		b.sink.StepAdded(b.sessionID, step)
	}
	return &step, nil
}

// UpdateStep merges a patch into an existing step.
func (b *Base) UpdateStep(stepID string, patch StepPatch) error {
	return b.store.UpdateStep(b.sessionID, stepID, patch)
}

// ExecuteCommand runs a command in the session's working directory under
// the configured timeout and output cap. Timeout and non-zero exit are
// reported as a failed StepResult, never an error, so framework logic
// can branch on failure without exception handling.
func (b *Base) ExecuteCommand(ctx context.Context, command string) *StepResult {
	res, err := b.runner.Run(ctx, command)
	if err != nil {
		return &StepResult{Success: false, Output: err.Error()}
	}
	return &StepResult{Success: !res.Failed(), Output: res.Output}
}

// PromptLLM sends a prompt with the framework's system prompt to the LLM.
// Failures surface as a typed error; there is no local fallback.
func (b *Base) PromptLLM(ctx context.Context, prompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryFramework, fmt.Sprintf("%s llm call", b.def.ID))
	defer timer.StopWithThreshold(30 * time.Second)

	reply, err := b.llm.CompleteWithSystem(ctx, b.def.SystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", llm.ErrCallFailed, err)
	}
	return reply, nil
}

// IncrementLoop bumps the session's iteration counter and returns it.
func (b *Base) IncrementLoop() (int, error) {
	return b.store.IncrementLoop(b.sessionID)
}

// SetContextValue stores a framework-specific intermediate artifact.
func (b *Base) SetContextValue(key string, value any) error {
	return b.store.SetContextValue(b.sessionID, key, value)
}

// MarkComplete flips the live state to complete. Archival into history is
// the orchestrator's job.
func (b *Base) MarkComplete() error {
	return b.store.SetStatus(b.sessionID, StatusComplete)
}

// MarkFailed flips the live state to failed.
func (b *Base) MarkFailed() error {
	return b.store.SetStatus(b.sessionID, StatusFailed)
}

// Result derives the run outcome from accumulated steps: success if the
// live state reached complete, partial otherwise; average confidence is
// the mean of recorded step confidences.
func (b *Base) Result() *Result {
	result := &Result{
		Framework: b.def.ID,
		Status:    "partial",
		Duration:  time.Since(b.startedAt),
	}

	state, ok := b.store.State(b.sessionID)
	if !ok {
		return result
	}

	result.Steps = state.Steps
	result.Iterations = state.LoopCount

	switch state.Status {
	case StatusComplete:
		result.Status = "success"
	case StatusFailed, StatusCancelled:
		if len(state.Steps) == 0 {
			result.Status = "failed"
		}
	}

	if n := len(state.Steps); n > 0 {
		var sum float64
		for _, s := range state.Steps {
			sum += s.Confidence
		}
		result.AvgConfidence = sum / float64(n)
	}

	return result
}
