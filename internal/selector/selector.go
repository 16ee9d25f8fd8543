// Package selector ranks framework candidates for a user message. Score
// is a pure function over (message, intent, context); historical
// reweighting stays outside it, applied by ApplyWeights.
package selector

import (
	"fmt"
	"sort"
	"strings"

	"github.com/RedClaus/TermAi-sub001/internal/framework"
	"github.com/RedClaus/TermAi-sub001/internal/logging"
)

// Signal weights. Keyword and context are direct observations; intent
// classification gets the largest share.
const (
	keywordWeight = 0.3
	intentWeight  = 0.4
	contextWeight = 0.3

	// Reason thresholds: a signal only contributes to the explanation
	// when it clearly fired.
	keywordReasonThreshold = 0.6
	intentReasonThreshold  = 0.6
	contextReasonThreshold = 0.5
)

// Candidate is one ranked selection result.
type Candidate struct {
	Framework  string
	Confidence float64
	Reason     string
}

// Selector scores frameworks against messages. It holds only immutable
// catalog data; Score never mutates anything.
type Selector struct {
	registry    *framework.Registry
	intentPrefs map[string][]string
}

// New builds a selector over the registry with the default intent
// preference table.
func New(registry *framework.Registry) *Selector {
	return &Selector{
		registry:    registry,
		intentPrefs: defaultIntentPreferences(),
	}
}

// defaultIntentPreferences maps each classified intent to an ordered
// framework preference list. Rank 0 is the strongest preference.
func defaultIntentPreferences() map[string][]string {
	return map[string][]string{
		"debugging":      {framework.KindOODA, framework.KindHypothesisTesting, framework.KindChainOfThought},
		"investigation":  {framework.KindHypothesisTesting, framework.KindOODA},
		"task_execution": {framework.KindPlanExecute, framework.KindChainOfThought},
		"implementation": {framework.KindPlanExecute, framework.KindChainOfThought},
		"explanation":    {framework.KindChainOfThought, framework.KindFirstPrinciples},
		"design":         {framework.KindFirstPrinciples, framework.KindPlanExecute, framework.KindChainOfThought},
	}
}

// Score ranks every registered framework for the message. Confidence is
// 0.3·keyword + 0.4·intent + 0.3·context, each component in [0,1].
func (s *Selector) Score(message, intent string, ctx framework.SelectionContext) []Candidate {
	msg := strings.ToLower(message)
	prefs := s.intentPrefs[intent]

	defs := s.registry.List()
	candidates := make([]Candidate, 0, len(defs))

	for _, def := range defs {
		kw := keywordScore(msg, def.Keywords)
		in := intentScore(def.ID, prefs)
		cx := contextScore(def.ContextSignals, ctx)

		conf := keywordWeight*kw + intentWeight*in + contextWeight*cx
		candidates = append(candidates, Candidate{
			Framework:  def.ID,
			Confidence: conf,
			Reason:     buildReason(def, intent, kw, in, cx),
		})

		logging.SelectorDebug("%s: kw=%.2f intent=%.2f ctx=%.2f -> %.2f",
			def.ID, kw, in, cx, conf)
	}

	// Stable sort keeps registry order as the deterministic tiebreak.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// ApplyWeights multiplies analytics weight multipliers into a ranked
// list and re-ranks. Frameworks without a weight keep their score
// unchanged (multiplier 1). This is the caller-side wrapper that keeps
// Score itself pure.
func ApplyWeights(candidates []Candidate, weights map[string]float64) []Candidate {
	out := make([]Candidate, len(candidates))
	copy(out, candidates)

	for i := range out {
		if w, ok := weights[out[i].Framework]; ok {
			out[i].Confidence *= w
			if out[i].Confidence > 1 {
				out[i].Confidence = 1
			}
			if out[i].Confidence < 0 {
				out[i].Confidence = 0
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// keywordScore is min(matches/3, 1) over the framework's keyword list.
func keywordScore(msg string, keywords []string) float64 {
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			matches++
		}
	}
	score := float64(matches) / 3
	if score > 1 {
		score = 1
	}
	return score
}

// intentScore is max(0.4, 1 − 0.2·rank) when the framework appears in
// the intent's preference list, else 0.
func intentScore(frameworkID string, prefs []string) float64 {
	for rank, id := range prefs {
		if id == frameworkID {
			score := 1 - 0.2*float64(rank)
			if score < 0.4 {
				score = 0.4
			}
			return score
		}
	}
	return 0
}

// contextScore is the fraction of the framework's context signals that
// hold; 0.5 when the framework defines none.
func contextScore(signals []framework.ContextSignal, ctx framework.SelectionContext) float64 {
	if len(signals) == 0 {
		return 0.5
	}
	holding := 0
	for _, sig := range signals {
		if sig.Holds(ctx) {
			holding++
		}
	}
	return float64(holding) / float64(len(signals))
}

// buildReason explains post hoc which signals drove the score.
func buildReason(def framework.Definition, intent string, kw, in, cx float64) string {
	var parts []string
	if kw >= keywordReasonThreshold {
		parts = append(parts, "strong keyword match")
	}
	if in >= intentReasonThreshold {
		parts = append(parts, fmt.Sprintf("preferred for %s intent", intent))
	}
	if len(def.ContextSignals) > 0 && cx >= contextReasonThreshold {
		parts = append(parts, "context signals present")
	}
	if len(parts) == 0 {
		return "no strong signal"
	}
	return strings.Join(parts, "; ")
}
