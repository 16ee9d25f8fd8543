// Package orchestrator coordinates the framework engine: it decides when
// to invoke a framework for a message, drives runs through their
// lifecycle, exposes framework state to the LLM prompt, and feeds
// outcomes back into analytics.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/RedClaus/TermAi-sub001/internal/analytics"
	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/framework"
	"github.com/RedClaus/TermAi-sub001/internal/llm"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
	"github.com/RedClaus/TermAi-sub001/internal/sandbox"
	"github.com/RedClaus/TermAi-sub001/internal/selector"
	"github.com/RedClaus/TermAi-sub001/internal/session"
)

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithRegistry replaces the default built-in registry.
func WithRegistry(r *framework.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithConfig sets the engine tunables.
func WithConfig(cfg config.FrameworkConfig) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithProgressSink attaches a live-progress listener.
func WithProgressSink(sink framework.ProgressSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// Orchestrator is the top-level engine coordinator.
type Orchestrator struct {
	cfg       config.FrameworkConfig
	registry  *framework.Registry
	selector  *selector.Selector
	sessions  *session.Store
	analytics *analytics.Store
	factory   *framework.Factory
	sink      framework.ProgressSink

	mu        sync.Mutex
	instances map[string]framework.Framework // live instance per session
	intents   map[string]string              // classified intent per session
}

// New constructs an orchestrator over explicitly provided services.
func New(sessions *session.Store, analyticsStore *analytics.Store, client llm.Client, runner *sandbox.Runner, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:       config.DefaultFrameworkConfig(),
		sessions:  sessions,
		analytics: analyticsStore,
		instances: make(map[string]framework.Framework),
		intents:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = framework.NewRegistry()
	}
	o.selector = selector.New(o.registry)
	o.factory = framework.NewFactory(o.registry, sessions, client, runner, o.sink, o.cfg)

	logging.Boot("Orchestrator ready: %d frameworks, activation threshold %.2f",
		len(o.registry.List()), o.cfg.ActivationThreshold)
	return o
}

// Registry returns the framework catalog.
func (o *Orchestrator) Registry() *framework.Registry { return o.registry }

// Analysis is the outcome of scoring a message for a session.
type Analysis struct {
	Candidates []selector.Candidate
	Best       selector.Candidate

	// Activate is true when the best candidate clears the activation
	// threshold and no framework is already running for the session.
	Activate bool

	// InProgress names the framework already live for the session, if
	// any. An in-progress framework always wins over new scores.
	InProgress string
}

// AnalyzeMessage scores the registered frameworks for a message,
// reweighted by historical outcomes for the intent.
func (o *Orchestrator) AnalyzeMessage(message, sessionID, intent string, selCtx framework.SelectionContext) Analysis {
	analysis := Analysis{}

	if state, ok := o.sessions.State(sessionID); ok && !state.Status.Terminal() {
		analysis.InProgress = state.Framework
		logging.Orchestrator("[%s] %s already in progress, skipping selection", sessionID, state.Framework)
	}

	candidates := o.selector.Score(message, intent, selCtx)

	// Only registered frameworks are eligible.
	eligible := candidates[:0:0]
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if o.registry.Has(c.Framework) {
			eligible = append(eligible, c)
			ids = append(ids, c.Framework)
		}
	}

	weights := o.analytics.AdjustedWeights(intent, ids)
	analysis.Candidates = selector.ApplyWeights(eligible, weights)

	if len(analysis.Candidates) > 0 {
		analysis.Best = analysis.Candidates[0]
		analysis.Activate = analysis.InProgress == "" &&
			analysis.Best.Confidence >= o.cfg.ActivationThreshold
	}

	logging.Orchestrator("[%s] best=%s conf=%.2f activate=%t",
		sessionID, analysis.Best.Framework, analysis.Best.Confidence, analysis.Activate)
	return analysis
}

// StartFramework instantiates a framework for the session and registers
// its initial state. Any prior live run for the session is torn down.
func (o *Orchestrator) StartFramework(sessionID, frameworkID, problem, intent string) error {
	instance, err := o.factory.New(frameworkID, sessionID)
	if err != nil {
		return err
	}
	if _, err := o.sessions.StartFramework(sessionID, frameworkID, problem); err != nil {
		return err
	}

	o.mu.Lock()
	o.instances[sessionID] = instance
	o.intents[sessionID] = intent
	o.mu.Unlock()

	logging.Orchestrator("[%s] started %s (intent=%s)", sessionID, frameworkID, intent)
	return nil
}

// Execute drives the session's framework run to completion, archives the
// outcome, and records it in analytics.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string) (*framework.Result, error) {
	o.mu.Lock()
	instance := o.instances[sessionID]
	intent := o.intents[sessionID]
	o.mu.Unlock()

	if instance == nil {
		return nil, fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}
	state, ok := o.sessions.State(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}

	result, runErr := instance.Execute(ctx, state.Problem)

	if result != nil {
		if result.Status == "success" {
			o.sessions.Complete(sessionID, result)
		} else {
			errMsg := result.Summary
			if runErr != nil {
				errMsg = runErr.Error()
			}
			o.sessions.Fail(sessionID, errMsg, result)
		}
		if err := o.analytics.RecordExecution(sessionID, instance.Name(), intent, result); err != nil {
			logging.AnalyticsError("[%s] record failed: %v", sessionID, err)
		}
	}

	return result, runErr
}

// Pause suspends the session's run. Idempotent.
func (o *Orchestrator) Pause(sessionID string) error {
	return o.sessions.Pause(sessionID)
}

// Resume reactivates a paused run. Idempotent.
func (o *Orchestrator) Resume(sessionID string) error {
	return o.sessions.Resume(sessionID)
}

// Cancel flips the session's state to cancelled and archives it.
// Cooperative: in-flight LLM calls or subprocesses are not killed; their
// late results are dropped by the session store. The instance is kept
// until the next start so rollback stays available.
func (o *Orchestrator) Cancel(sessionID string) error {
	return o.sessions.Cancel(sessionID)
}

// RollbackSession executes the session's recorded rollback commands in
// reverse completion order. Only frameworks that record rollback
// commands support it.
func (o *Orchestrator) RollbackSession(ctx context.Context, sessionID string) ([]framework.StepResult, error) {
	o.mu.Lock()
	instance := o.instances[sessionID]
	o.mu.Unlock()

	if instance == nil {
		return nil, fmt.Errorf("%w: %s", framework.ErrSessionNotFound, sessionID)
	}
	rb, ok := instance.(framework.Rollbacker)
	if !ok {
		return nil, fmt.Errorf("framework %s does not support rollback", instance.Name())
	}
	logging.Orchestrator("[%s] rollback requested", sessionID)
	return rb.Rollback(ctx)
}

// BuildEnhancedPrompt prepends a framework-context block to the base
// system prompt so the live run's state is visible to the LLM. Without a
// live state the base prompt passes through unchanged.
func (o *Orchestrator) BuildEnhancedPrompt(basePrompt, sessionID string) string {
	state, ok := o.sessions.State(sessionID)
	if !ok || state.Status.Terminal() {
		return basePrompt
	}
	def, err := o.registry.Get(state.Framework)
	if err != nil {
		return basePrompt
	}

	var b strings.Builder
	b.WriteString("## Active Reasoning Framework\n")
	fmt.Fprintf(&b, "Framework: %s\n", def.Name)
	if state.CurrentPhase != "" {
		idx := def.PhaseIndex(state.CurrentPhase)
		fmt.Fprintf(&b, "Phase: %s (%d/%d)\n", state.CurrentPhase, idx+1, len(def.Phases))
	}
	fmt.Fprintf(&b, "Steps so far: %d\n", len(state.Steps))
	fmt.Fprintf(&b, "Iteration: %d\n", state.LoopCount+1)
	if def.SystemPrompt != "" {
		b.WriteString("\n")
		b.WriteString(def.SystemPrompt)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(basePrompt)
	return b.String()
}

// ParseFrameworkResponse extracts structured step data from an LLM reply
// for the session's live run: the step is recorded, a phase marker moves
// the run's phase, and a completion marker finishes the run. Extraction
// is best-effort and never returns an error for missing markers.
func (o *Orchestrator) ParseFrameworkResponse(text, sessionID string) framework.ParsedResponse {
	parsed := framework.ParseResponse(text, o.cfg.DefaultParseConfidence)

	state, ok := o.sessions.State(sessionID)
	if !ok || state.Status.Terminal() {
		return parsed
	}

	phase := parsed.Phase
	if phase == "" {
		phase = state.CurrentPhase
	}
	if phase == "" && len(o.phasesOf(state.Framework)) > 0 {
		phase = o.phasesOf(state.Framework)[0].Name
	}

	o.mu.Lock()
	instance := o.instances[sessionID]
	o.mu.Unlock()

	if base, ok := instance.(interface {
		AddStep(phase, thought, action string) (*framework.Step, error)
	}); ok {
		if step, err := base.AddStep(phase, parsed.Thought, parsed.Command); err == nil {
			o.sessions.UpdateStep(sessionID, step.ID, framework.StepPatch{Confidence: &parsed.Confidence})
		}
	}

	if parsed.Complete {
		o.completeFromChat(sessionID, state.Framework)
	}
	return parsed
}

// completeFromChat finishes a chat-driven run signalled complete by the
// model rather than by Execute.
func (o *Orchestrator) completeFromChat(sessionID, frameworkID string) {
	o.sessions.SetStatus(sessionID, framework.StatusComplete)

	result := &framework.Result{Framework: frameworkID, Status: "success"}
	if state, ok := o.sessions.State(sessionID); ok {
		result.Steps = state.Steps
		result.Iterations = state.LoopCount
		if n := len(state.Steps); n > 0 {
			var sum float64
			for _, s := range state.Steps {
				sum += s.Confidence
			}
			result.AvgConfidence = sum / float64(n)
		}
		result.Summary = fmt.Sprintf("%s completed over %d steps", frameworkID, len(state.Steps))
	}

	o.sessions.Complete(sessionID, result)

	o.mu.Lock()
	intent := o.intents[sessionID]
	o.mu.Unlock()
	if err := o.analytics.RecordExecution(sessionID, frameworkID, intent, result); err != nil {
		logging.AnalyticsError("[%s] record failed: %v", sessionID, err)
	}
	logging.Orchestrator("[%s] %s completed via chat marker", sessionID, frameworkID)
}

func (o *Orchestrator) phasesOf(frameworkID string) []framework.Phase {
	def, err := o.registry.Get(frameworkID)
	if err != nil {
		return nil
	}
	return def.Phases
}
