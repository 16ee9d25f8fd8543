package framework

import (
	"fmt"
	"sync"

	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// Framework identifiers for the built-in catalog.
const (
	KindChainOfThought    = "chain_of_thought"
	KindOODA              = "ooda"
	KindPlanExecute       = "plan_execute"
	KindHypothesisTesting = "hypothesis_testing"
	KindFirstPrinciples   = "first_principles"
)

// Registry is the catalog of framework definitions. Definitions are
// registered at construction time and never mutated afterwards.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry returns a registry pre-populated with the built-in catalog.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, def := range builtinDefinitions() {
		r.Register(def)
	}
	logging.Boot("Framework registry initialized with %d frameworks", len(r.order))
	return r
}

// Register adds or replaces a definition.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; !exists {
		r.order = append(r.order, def.ID)
	}
	r.defs[def.ID] = def
}

// Get returns the definition for an identifier.
func (r *Registry) Get(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownFramework, id)
	}
	return def, nil
}

// Has reports whether an identifier is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[id]
	return ok
}

// List returns all definitions in registration order. The order is stable
// so downstream ranking stays deterministic.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.defs[id])
	}
	return out
}

func builtinDefinitions() []Definition {
	return []Definition{
		{
			ID:          KindChainOfThought,
			Name:        "Chain of Thought",
			Description: "Sequential step-by-step reasoning from problem to conclusion.",
			Phases: []Phase{
				{Name: "understand", Description: "Restate the problem and what a good answer looks like"},
				{Name: "decompose", Description: "Break the problem into ordered sub-questions"},
				{Name: "reason", Description: "Work through each sub-question in sequence"},
				{Name: "conclude", Description: "Synthesize the reasoning into a final answer"},
			},
			MaxIterations: 1,
			Keywords:      []string{"think", "step by step", "reason", "explain", "why does", "how does", "walk me through"},
			SystemPrompt: "You are reasoning step by step. Work through the problem one sub-question " +
				"at a time, stating each intermediate conclusion before moving on. " +
				"End each reply with [CONFIDENCE:n] where n is in [0,1].",
		},
		{
			ID:          KindOODA,
			Name:        "OODA Loop",
			Description: "Observe-orient-decide-act cycle for live debugging and incident response.",
			Phases: []Phase{
				{Name: "observe", Description: "Gather raw evidence: errors, logs, recent changes"},
				{Name: "orient", Description: "Interpret the evidence against known failure modes"},
				{Name: "decide", Description: "Pick the single most informative next action"},
				{Name: "act", Description: "Execute the action and capture its outcome"},
			},
			MaxIterations: 5,
			Keywords:      []string{"failing", "debug", "error", "broken", "crash", "not working"},
			ContextSignals: []ContextSignal{
				{Name: "error present", Holds: func(c SelectionContext) bool { return c.LastError }},
				{Name: "last command failed", Holds: func(c SelectionContext) bool { return c.LastCommandFailed }},
				{Name: "repeated errors", Holds: func(c SelectionContext) bool { return c.RecentErrorCount >= 3 }},
			},
			SystemPrompt: "You are running an OODA loop. In each cycle: observe the evidence, orient " +
				"against likely causes, decide on one action, act on it. Propose at most one command " +
				"per reply inside a fenced code block. Mark the current phase with [PHASE:name] and " +
				"end with [CONFIDENCE:n]. Emit [FRAMEWORK_COMPLETE] when the problem is resolved.",
		},
		{
			ID:          KindPlanExecute,
			Name:        "Plan-Execute-Verify-Recover",
			Description: "Dependency-aware planning with per-step verification and recovery.",
			Phases: []Phase{
				{Name: "plan_generation", Description: "Produce a dependency-ordered plan of concrete steps"},
				{Name: "step_execution", Description: "Execute each step once its prerequisites are met"},
				{Name: "verification", Description: "Verify each step's outcome by its declared method"},
				{Name: "recovery", Description: "Classify failures into retry, skip, abort, or add_prerequisite"},
			},
			MaxIterations: 1,
			Keywords:      []string{"set up", "setup", "install", "deploy", "configure", "build a", "create a", "migrate", "provision"},
			SystemPrompt: "You are executing a verified plan. Respond only with the JSON structure " +
				"requested; do not add commentary outside the JSON.",
		},
		{
			ID:          KindHypothesisTesting,
			Name:        "Hypothesis Testing",
			Description: "Generate competing hypotheses and design discriminating tests.",
			Phases: []Phase{
				{Name: "hypothesize", Description: "List plausible competing explanations"},
				{Name: "design_test", Description: "Design the cheapest test that discriminates between them"},
				{Name: "test", Description: "Run the test and record the observation"},
				{Name: "evaluate", Description: "Update likelihoods and eliminate refuted hypotheses"},
			},
			MaxIterations: 4,
			Keywords:      []string{"why is", "intermittent", "sometimes", "randomly", "inconsistent", "flaky", "occasionally"},
			ContextSignals: []ContextSignal{
				{Name: "repeated errors", Holds: func(c SelectionContext) bool { return c.RecentErrorCount >= 3 }},
			},
			SystemPrompt: "You are testing hypotheses. Maintain an explicit list of candidate " +
				"explanations with likelihoods; each cycle, run the test that best discriminates " +
				"between them. Mark phases with [PHASE:name], end with [CONFIDENCE:n], and emit " +
				"[FRAMEWORK_COMPLETE] when one hypothesis is confirmed.",
		},
		{
			ID:          KindFirstPrinciples,
			Name:        "First Principles",
			Description: "Strip assumptions and rebuild the solution from fundamentals.",
			Phases: []Phase{
				{Name: "assumptions", Description: "Enumerate the assumptions baked into the current approach"},
				{Name: "fundamentals", Description: "Identify the irreducible constraints and requirements"},
				{Name: "rebuild", Description: "Construct a solution from the fundamentals alone"},
			},
			MaxIterations: 1,
			Keywords:      []string{"from scratch", "design", "architecture", "rethink", "fundamentally", "first principles", "redesign"},
			SystemPrompt: "You are reasoning from first principles. Question every assumption before " +
				"accepting it; build the answer only from constraints that survive scrutiny. " +
				"End each reply with [CONFIDENCE:n].",
		},
	}
}
