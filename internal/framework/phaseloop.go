package framework

import (
	"context"
	"fmt"
	"strings"

	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// phaseLoop is the generic concrete framework: one LLM call per phase,
// one step per phase, cycling through the phase list up to the
// definition's iteration cap or until the model signals completion.
// Chain-of-thought, OODA, hypothesis testing, and first principles are
// all phase loops; only plan_execute needs its own machine.
type phaseLoop struct {
	*Base
}

func newPhaseLoop(base *Base) *phaseLoop {
	return &phaseLoop{Base: base}
}

// Execute drives the phase cycle for a problem.
func (f *phaseLoop) Execute(ctx context.Context, problem string) (*Result, error) {
	def := f.Definition()
	logging.Framework("[%s] starting %s: %q", f.SessionID(), def.ID, problem)

	complete := false

loop:
	for iter := 0; iter < def.MaxIterations && !complete; iter++ {
		if iter > 0 {
			if _, err := f.IncrementLoop(); err != nil {
				return nil, err
			}
		}

		for _, phase := range def.Phases {
			if err := ctx.Err(); err != nil {
				break loop
			}
			if !f.live() {
				logging.FrameworkDebug("[%s] state no longer live, stopping", f.SessionID())
				break loop
			}

			reply, err := f.PromptLLM(ctx, f.phasePrompt(phase, problem, iter))
			if err != nil {
				f.MarkFailed()
				result := f.Result()
				result.Summary = fmt.Sprintf("%s aborted in phase %s: LLM call failed", def.Name, phase.Name)
				result.NextSteps = []string{"Check LLM provider connectivity and API key", "Retry the framework run"}
				return result, err
			}

			parsed := ParseResponse(reply, f.Config().DefaultParseConfidence)
			step, err := f.AddStep(phase.Name, parsed.Thought, parsed.Command)
			if err != nil {
				return nil, err
			}

			patch := StepPatch{Confidence: &parsed.Confidence}
			if parsed.Command != "" {
				res := f.ExecuteCommand(ctx, parsed.Command)
				patch.Result = res
			}
			if err := f.UpdateStep(step.ID, patch); err != nil {
				return nil, err
			}

			if parsed.Complete {
				complete = true
				break
			}
		}
	}

	if complete {
		f.MarkComplete()
	}

	result := f.Result()
	f.summarize(result, problem, complete)
	logging.Framework("[%s] %s finished: status=%s steps=%d", f.SessionID(), def.ID, result.Status, len(result.Steps))
	return result, nil
}

// live reports whether the session state still accepts this run's updates.
// Late work after cancellation must not mutate the archived state.
func (f *phaseLoop) live() bool {
	state, ok := f.Base.store.State(f.SessionID())
	if !ok {
		return false
	}
	return state.Status == StatusActive || state.Status == StatusPaused
}

func (f *phaseLoop) phasePrompt(phase Phase, problem string, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem: %s\n\n", problem)
	fmt.Fprintf(&b, "Current phase: %s — %s\n", phase.Name, phase.Description)
	if iteration > 0 {
		fmt.Fprintf(&b, "Iteration: %d\n", iteration+1)
	}

	if state, ok := f.Base.store.State(f.SessionID()); ok && len(state.Steps) > 0 {
		b.WriteString("\nProgress so far:\n")
		for _, s := range state.Steps {
			fmt.Fprintf(&b, "- [%s] %s", s.Phase, s.Thought)
			if s.Result != nil {
				fmt.Fprintf(&b, " (ran %q, success=%t)", s.Action, s.Result.Success)
			}
			b.WriteString("\n")
		}
	}

	fmt.Fprintf(&b, "\nCarry out the %s phase now.", phase.Name)
	return b.String()
}

func (f *phaseLoop) summarize(result *Result, problem string, complete bool) {
	def := f.Definition()
	switch {
	case complete:
		result.Summary = fmt.Sprintf("%s completed for: %s (%d steps, avg confidence %.2f)",
			def.Name, problem, len(result.Steps), result.AvgConfidence)
		result.NextSteps = []string{"Review the final step's conclusion"}
	case len(result.Steps) > 0:
		last := result.Steps[len(result.Steps)-1]
		result.Summary = fmt.Sprintf("%s stopped after %d steps in phase %s without a completion signal",
			def.Name, len(result.Steps), last.Phase)
		result.NextSteps = []string{
			fmt.Sprintf("Resume from phase %s", last.Phase),
			"Consider raising the iteration limit or refining the problem statement",
		}
	default:
		result.Summary = fmt.Sprintf("%s produced no steps for: %s", def.Name, problem)
		result.NextSteps = []string{"Retry with a more specific problem statement"}
	}
}
