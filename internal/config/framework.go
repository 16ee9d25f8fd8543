package config

// FrameworkConfig tunes the framework engine. The defaults are deliberate
// heuristics carried over from production; configuration exists for
// per-deployment tuning, not because the defaults are arbitrary.
type FrameworkConfig struct {
	// MaxStepRetries caps recovery retries for a single plan step.
	MaxStepRetries int `yaml:"max_step_retries"`

	// MaxTotalSteps bounds runaway plans independently of per-step retries.
	MaxTotalSteps int `yaml:"max_total_steps"`

	// ActivationThreshold is the minimum selector confidence for
	// auto-activating a framework.
	ActivationThreshold float64 `yaml:"activation_threshold"`

	// DefaultParseConfidence is assumed when an LLM reply carries no
	// [CONFIDENCE:n] marker.
	DefaultParseConfidence float64 `yaml:"default_parse_confidence"`

	// HistoryLimit bounds per-session completed-run history.
	HistoryLimit int `yaml:"history_limit"`
}

// DefaultFrameworkConfig returns the production heuristics.
func DefaultFrameworkConfig() FrameworkConfig {
	return FrameworkConfig{
		MaxStepRetries:         3,
		MaxTotalSteps:          50,
		ActivationThreshold:    0.5,
		DefaultParseConfidence: 0.7,
		HistoryLimit:           10,
	}
}

func (f *FrameworkConfig) applyDefaults() {
	def := DefaultFrameworkConfig()
	if f.MaxStepRetries <= 0 {
		f.MaxStepRetries = def.MaxStepRetries
	}
	if f.MaxTotalSteps <= 0 {
		f.MaxTotalSteps = def.MaxTotalSteps
	}
	if f.ActivationThreshold <= 0 {
		f.ActivationThreshold = def.ActivationThreshold
	}
	if f.DefaultParseConfidence <= 0 {
		f.DefaultParseConfidence = def.DefaultParseConfidence
	}
	if f.HistoryLimit <= 0 {
		f.HistoryLimit = def.HistoryLimit
	}
}
