package framework

import (
	"fmt"

	"github.com/RedClaus/TermAi-sub001/internal/config"
	"github.com/RedClaus/TermAi-sub001/internal/llm"
	"github.com/RedClaus/TermAi-sub001/internal/sandbox"
)

// Factory constructs concrete framework instances from registry
// definitions. The kind→constructor table is closed: adding a framework
// means adding a registry definition and, if it needs more than the
// generic phase loop, a case here.
type Factory struct {
	registry *Registry
	store    StateStore
	llm      llm.Client
	runner   *sandbox.Runner
	sink     ProgressSink
	cfg      config.FrameworkConfig
}

// NewFactory wires the shared services a framework run needs.
func NewFactory(registry *Registry, store StateStore, client llm.Client, runner *sandbox.Runner, sink ProgressSink, cfg config.FrameworkConfig) *Factory {
	return &Factory{
		registry: registry,
		store:    store,
		llm:      client,
		runner:   runner,
		sink:     sink,
		cfg:      cfg,
	}
}

// Registry returns the backing definition catalog.
func (f *Factory) Registry() *Registry { return f.registry }

// New builds a framework instance bound to a session.
func (f *Factory) New(id, sessionID string) (Framework, error) {
	def, err := f.registry.Get(id)
	if err != nil {
		return nil, err
	}

	base := NewBase(def, sessionID, f.store, f.llm, f.runner, f.sink, f.cfg)

	switch def.ID {
	case KindPlanExecute:
		return NewPlanExecute(base), nil
	case KindChainOfThought, KindOODA, KindHypothesisTesting, KindFirstPrinciples:
		return newPhaseLoop(base), nil
	default:
		// Custom registrations get the generic phase loop too.
		if len(def.Phases) == 0 {
			return nil, fmt.Errorf("%w: %q has no phases", ErrUnknownFramework, id)
		}
		return newPhaseLoop(base), nil
	}
}
