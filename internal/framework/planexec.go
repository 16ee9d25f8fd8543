package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// Verification methods for plan steps.
const (
	VerifyCommand      = "command"
	VerifyFileExists   = "file_exists"
	VerifyPatternMatch = "pattern_match"
	VerifyNoError      = "no_error"
)

// Recovery actions the model may classify a failure into.
const (
	RecoverRetry           = "retry"
	RecoverSkip            = "skip"
	RecoverAbort           = "abort"
	RecoverAddPrerequisite = "add_prerequisite"
)

// Verification describes how a plan step's outcome is checked.
type Verification struct {
	Method string `json:"method"`
	Value  string `json:"value,omitempty"`
}

// PlanStep is one node in the dependency-ordered plan. Plans are
// generated once per run and mutated in place only by prerequisite
// insertion during recovery.
type PlanStep struct {
	ID           int           `json:"id"`
	Description  string        `json:"description"`
	Command      string        `json:"command"`
	DependsOn    []int         `json:"depends_on,omitempty"`
	Optional     bool          `json:"optional,omitempty"`
	Verification *Verification `json:"verification,omitempty"`
	Rollback     string        `json:"rollback,omitempty"`
}

// recoveryDecision is the model's classification of a step failure.
type recoveryDecision struct {
	Action  string    `json:"action"`
	Reason  string    `json:"reason,omitempty"`
	NewStep *PlanStep `json:"new_step,omitempty"`
}

// PlanExecute is the plan-execute-verify-recover machine. One LLM call
// produces a dependency-ordered plan; each step is executed once its
// prerequisites completed, verified by its declared method, and recovered
// on failure via retry, skip, abort, or prerequisite insertion.
type PlanExecute struct {
	*Base

	plan      []PlanStep
	completed map[int]bool
	skipped   map[int]bool
	retries   map[int]int

	// rollbackStack holds completed steps that declared a rollback
	// command, in completion order. Rollback pops in reverse.
	rollbackStack []PlanStep

	stepsAttempted int
	nextSynthID    int
}

// NewPlanExecute builds the machine on the shared contract.
func NewPlanExecute(base *Base) *PlanExecute {
	return &PlanExecute{
		Base:      base,
		completed: make(map[int]bool),
		skipped:   make(map[int]bool),
		retries:   make(map[int]int),
	}
}

// Execute runs the full plan-execute-verify-recover cycle.
func (f *PlanExecute) Execute(ctx context.Context, problem string) (*Result, error) {
	logging.Framework("[%s] plan_execute starting: %q", f.SessionID(), problem)

	if err := f.generatePlan(ctx, problem); err != nil {
		f.MarkFailed()
		result := f.Result()
		result.Status = "failed"
		result.Summary = fmt.Sprintf("Plan generation failed: %v", err)
		result.NextSteps = []string{"Rephrase the goal with concrete deliverables", "Retry the run"}
		return result, err
	}

	runErr := f.executePlan(ctx)

	if runErr == nil && f.allCompleted() {
		f.MarkComplete()
	} else if len(f.completedIDs()) == 0 {
		f.MarkFailed()
	}

	result := f.Result()
	f.finalize(result, runErr)
	logging.Framework("[%s] plan_execute finished: status=%s completed=%d skipped=%d",
		f.SessionID(), result.Status, len(f.completedIDs()), len(f.skipped))
	return result, runErr
}

// generatePlan asks the model for a plan and validates it. An empty or
// structurally invalid plan is fatal for the run.
func (f *PlanExecute) generatePlan(ctx context.Context, problem string) error {
	prompt := fmt.Sprintf(`Produce an executable plan for this goal:

%s

Reply with a JSON array of steps. Each step:
{
  "id": <int, unique>,
  "description": "<what the step accomplishes>",
  "command": "<shell command>",
  "depends_on": [<ids of prerequisite steps>],
  "optional": <bool>,
  "verification": {"method": "command|file_exists|pattern_match|no_error", "value": "<command, path, or regex>"},
  "rollback": "<shell command to undo this step, or omit>"
}

Order steps so prerequisites come first. Keep the plan minimal.`, problem)

	reply, err := f.PromptLLM(ctx, prompt)
	if err != nil {
		return err
	}

	payload, ok := ExtractJSON(reply)
	if !ok {
		return fmt.Errorf("%w: no JSON plan in reply", ErrInvalidPlan)
	}

	var plan []PlanStep
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlan, err)
	}
	if len(plan) == 0 {
		return fmt.Errorf("%w: plan is empty", ErrInvalidPlan)
	}

	seen := make(map[int]bool, len(plan))
	maxID := 0
	for _, s := range plan {
		if s.Command == "" {
			return fmt.Errorf("%w: step %d has no command", ErrInvalidPlan, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate step id %d", ErrInvalidPlan, s.ID)
		}
		seen[s.ID] = true
		if s.ID > maxID {
			maxID = s.ID
		}
	}

	f.plan = plan
	f.nextSynthID = maxID + 1
	f.SetContextValue("plan", plan)

	if _, err := f.AddStep("plan_generation",
		fmt.Sprintf("Generated plan with %d steps", len(plan)), ""); err != nil {
		return err
	}

	logging.FrameworkDebug("[%s] plan: %d steps, max id %d", f.SessionID(), len(plan), maxID)
	return nil
}

// executePlan walks the plan in order, recovering from failures. The
// index-based loop matters: recovery may insert a prerequisite at the
// current position or retry the same index.
func (f *PlanExecute) executePlan(ctx context.Context) error {
	budget := f.Config().MaxTotalSteps

	for i := 0; i < len(f.plan); {
		if err := ctx.Err(); err != nil {
			return err
		}

		if f.stepsAttempted >= budget {
			logging.FrameworkWarn("[%s] step budget exhausted at %d attempts", f.SessionID(), f.stepsAttempted)
			return fmt.Errorf("%w: %d attempts", ErrStepBudgetExceeded, f.stepsAttempted)
		}

		step := f.plan[i]
		if f.completed[step.ID] || f.skipped[step.ID] {
			i++
			continue
		}

		f.stepsAttempted++
		ok, reason := f.runStep(ctx, step)
		if ok {
			f.completed[step.ID] = true
			if step.Rollback != "" {
				f.rollbackStack = append(f.rollbackStack, step)
			}
			i++
			continue
		}

		advance, err := f.recover(ctx, i, step, reason)
		if err != nil {
			return err
		}
		if advance {
			i++
		}
	}
	return nil
}

// runStep checks prerequisites, executes the command, and verifies the
// outcome. Returns ok plus a failure reason usable by recovery.
func (f *PlanExecute) runStep(ctx context.Context, step PlanStep) (bool, string) {
	// Dependency-not-met is an execution failure that triggers recovery,
	// not a plan-construction bug.
	for _, dep := range step.DependsOn {
		if !f.completed[dep] {
			reason := fmt.Sprintf("prerequisite step %d not completed", dep)
			f.recordStepResult(step, &StepResult{Success: false, Output: reason})
			return false, reason
		}
	}

	res := f.ExecuteCommand(ctx, step.Command)
	if !res.Success {
		f.recordStepResult(step, res)
		return false, fmt.Sprintf("command failed: %s", truncateForPrompt(res.Output))
	}

	ok, reason := f.verify(ctx, step, res.Output)
	if !ok {
		f.recordStepResult(step, &StepResult{Success: false, Output: reason})
		return false, reason
	}

	f.recordStepResult(step, &StepResult{Success: true, Output: res.Output})
	return true, ""
}

func (f *PlanExecute) recordStepResult(step PlanStep, res *StepResult) {
	s, err := f.AddStep("step_execution",
		fmt.Sprintf("Step %d: %s", step.ID, step.Description), step.Command)
	if err != nil {
		return
	}
	f.UpdateStep(s.ID, StepPatch{Result: res})
}

// verify checks a step's outcome by its declared method. Each method
// returns {success, reason}.
func (f *PlanExecute) verify(ctx context.Context, step PlanStep, output string) (bool, string) {
	v := step.Verification
	if v == nil || v.Method == "" || v.Method == VerifyNoError {
		return true, "" // exit-code-only; the command already succeeded
	}

	switch v.Method {
	case VerifyCommand:
		res := f.ExecuteCommand(ctx, v.Value)
		if !res.Success {
			return false, fmt.Sprintf("verification command failed: %s", truncateForPrompt(res.Output))
		}
		return true, ""

	case VerifyFileExists:
		path := v.Value
		if !filepath.IsAbs(path) {
			path = filepath.Join(f.workDir(), path)
		}
		if _, err := os.Stat(path); err != nil {
			return false, fmt.Sprintf("expected file missing: %s", v.Value)
		}
		return true, ""

	case VerifyPatternMatch:
		re, err := regexp.Compile(v.Value)
		if err != nil {
			return false, fmt.Sprintf("invalid verification pattern %q: %v", v.Value, err)
		}
		if !re.MatchString(output) {
			return false, fmt.Sprintf("output did not match pattern %q", v.Value)
		}
		return true, ""

	default:
		return false, fmt.Sprintf("unknown verification method %q", v.Method)
	}
}

// recover decides what to do about a failed step. Returns advance=true
// when the loop should move past the step (skip), false to re-attempt
// the same index (retry, or a freshly inserted prerequisite).
func (f *PlanExecute) recover(ctx context.Context, index int, step PlanStep, reason string) (bool, error) {
	logging.FrameworkWarn("[%s] step %d failed: %s", f.SessionID(), step.ID, reason)

	if step.Optional {
		f.skipped[step.ID] = true
		f.AddStep("recovery", fmt.Sprintf("Skipped optional step %d: %s", step.ID, reason), "")
		return true, nil
	}

	if f.retries[step.ID] >= f.Config().MaxStepRetries {
		f.AddStep("recovery",
			fmt.Sprintf("Step %d exceeded %d retries, aborting run", step.ID, f.Config().MaxStepRetries), "")
		return false, fmt.Errorf("%w: step %d", ErrMaxRetriesExceeded, step.ID)
	}

	decision := f.classifyFailure(ctx, step, reason)
	f.AddStep("recovery",
		fmt.Sprintf("Step %d failure → %s: %s", step.ID, decision.Action, decision.Reason), "")

	switch decision.Action {
	case RecoverSkip:
		f.skipped[step.ID] = true
		return true, nil

	case RecoverAbort:
		return false, fmt.Errorf("run aborted at step %d: %s", step.ID, decision.Reason)

	case RecoverAddPrerequisite:
		if decision.NewStep == nil || decision.NewStep.Command == "" {
			// Unusable synthesis; fall back to a plain retry.
			f.retries[step.ID]++
			return false, nil
		}
		synth := *decision.NewStep
		synth.ID = f.nextSynthID
		f.nextSynthID++
		f.retries[step.ID]++
		f.plan = append(f.plan[:index], append([]PlanStep{synth}, f.plan[index:]...)...)
		logging.FrameworkDebug("[%s] inserted prerequisite step %d before step %d",
			f.SessionID(), synth.ID, step.ID)
		return false, nil

	default: // retry, including the malformed-reply fallback
		f.retries[step.ID]++
		return false, nil
	}
}

// classifyFailure asks the model to pick a recovery action. A malformed
// reply degrades to retry rather than failing the run.
func (f *PlanExecute) classifyFailure(ctx context.Context, step PlanStep, reason string) recoveryDecision {
	prompt := fmt.Sprintf(`A plan step failed.

Step %d: %s
Command: %s
Failure: %s
Retries so far: %d

Classify the recovery action. Reply with JSON only:
{"action": "retry|skip|abort|add_prerequisite", "reason": "<short reason>", "new_step": {...optional PlanStep, required for add_prerequisite}}`,
		step.ID, step.Description, step.Command, reason, f.retries[step.ID])

	fallback := recoveryDecision{Action: RecoverRetry, Reason: "recovery classification unavailable"}

	reply, err := f.PromptLLM(ctx, prompt)
	if err != nil {
		return fallback
	}
	payload, ok := ExtractJSON(reply)
	if !ok {
		return fallback
	}
	var decision recoveryDecision
	if err := json.Unmarshal([]byte(payload), &decision); err != nil {
		return fallback
	}
	switch decision.Action {
	case RecoverRetry, RecoverSkip, RecoverAbort, RecoverAddPrerequisite:
		return decision
	}
	return fallback
}

// Rollback executes recorded rollback commands in reverse completion
// order. It is an explicit recovery action, never run automatically.
func (f *PlanExecute) Rollback(ctx context.Context) ([]StepResult, error) {
	results := make([]StepResult, 0, len(f.rollbackStack))
	for i := len(f.rollbackStack) - 1; i >= 0; i-- {
		step := f.rollbackStack[i]
		logging.Framework("[%s] rolling back step %d: %s", f.SessionID(), step.ID, step.Rollback)
		res := f.ExecuteCommand(ctx, step.Rollback)
		results = append(results, *res)
		if !res.Success {
			return results, fmt.Errorf("rollback of step %d failed: %s", step.ID, truncateForPrompt(res.Output))
		}
	}
	f.rollbackStack = nil
	return results, nil
}

func (f *PlanExecute) allCompleted() bool {
	for _, s := range f.plan {
		if !f.completed[s.ID] && !f.skipped[s.ID] {
			return false
		}
	}
	// Complete requires every non-skipped step to have succeeded and at
	// least one to have run.
	return len(f.completed) > 0 && len(f.skipped) == 0
}

func (f *PlanExecute) completedIDs() []int {
	ids := make([]int, 0, len(f.completed))
	for id := range f.completed {
		ids = append(ids, id)
	}
	return ids
}

func (f *PlanExecute) workDir() string {
	if f.Base.runner != nil {
		return f.Base.runner.WorkDir()
	}
	return ""
}

// finalize shapes the run outcome: complete only when every planned step
// (including synthesized prerequisites) succeeded, partial when a subset
// completed, failed otherwise.
func (f *PlanExecute) finalize(result *Result, runErr error) {
	completed := len(f.completedIDs())
	total := len(f.plan)

	switch {
	case runErr == nil && f.allCompleted():
		result.Status = "success"
		result.Summary = fmt.Sprintf("All %d plan steps completed and verified", total)
		result.NextSteps = []string{"Review step outputs", "Invoke rollback if the changes should be undone"}
	case completed > 0:
		result.Status = "partial"
		result.Summary = fmt.Sprintf("Completed %d of %d plan steps (%d skipped)", completed, total, len(f.skipped))
		result.NextSteps = f.remainingWork()
		if runErr != nil {
			result.Summary += fmt.Sprintf("; stopped: %v", runErr)
		}
	default:
		result.Status = "failed"
		result.Summary = "No plan steps completed"
		if runErr != nil {
			result.Summary = fmt.Sprintf("No plan steps completed: %v", runErr)
		}
		result.NextSteps = []string{"Inspect the first failing step's output", "Retry with an adjusted goal"}
	}
}

func (f *PlanExecute) remainingWork() []string {
	var next []string
	for _, s := range f.plan {
		if !f.completed[s.ID] && !f.skipped[s.ID] {
			next = append(next, fmt.Sprintf("Step %d: %s", s.ID, s.Description))
		}
	}
	if len(next) == 0 {
		next = []string{"Re-run skipped optional steps if needed"}
	}
	return next
}

func truncateForPrompt(s string) string {
	const max = 500
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
