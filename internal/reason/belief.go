package reason

import (
	"fmt"
	"strings"

	"github.com/payops/autopilot/internal/model"
)

// DefaultTauUncertain is the confidence floor below which the belief state
// is flagged uncertain and explanations must say so.
const DefaultTauUncertain = 0.5

// cacheEntry tracks how many consecutive cycles a root cause has been
// sighted on a dimension. Repeat sightings are supporting evidence, so
// confidence rises while a fault persists.
type cacheEntry struct {
	hypothesis model.Hypothesis
	sightings  int
}

// Beliefs merges each cycle's hypotheses into a belief state. The cache is
// keyed by dimension + root cause; entries for dimensions with no fresh
// hypotheses are dropped (the fault cleared).
type Beliefs struct {
	cache        map[string]*cacheEntry
	tauUncertain float64
}

// NewBeliefs creates an empty belief cache.
func NewBeliefs(tauUncertain float64) *Beliefs {
	if tauUncertain <= 0 {
		tauUncertain = DefaultTauUncertain
	}
	return &Beliefs{cache: make(map[string]*cacheEntry), tauUncertain: tauUncertain}
}

// Update folds the cycle's hypotheses into the cache and returns the
// merged belief state.
func (b *Beliefs) Update(hypotheses []model.Hypothesis, nowMS int64) model.BeliefState {
	fresh := make(map[string]bool, len(hypotheses))
	for _, h := range hypotheses {
		key := beliefKey(h)
		fresh[key] = true
		entry, ok := b.cache[key]
		if !ok {
			b.cache[key] = &cacheEntry{hypothesis: h, sightings: 1}
			continue
		}
		// Persistent fault: accumulate the new evidence and rescore.
		entry.sightings++
		entry.hypothesis.Supporting = append(entry.hypothesis.Supporting, h.Supporting...)
		entry.hypothesis.Contradicting = append(entry.hypothesis.Contradicting, h.Contradicting...)
		entry.hypothesis.Confidence = Score(
			h.Confidence,
			len(entry.hypothesis.Supporting),
			len(entry.hypothesis.Contradicting),
		)
	}
	for key := range b.cache {
		if !fresh[key] {
			delete(b.cache, key)
		}
	}

	state := model.BeliefState{UpdatedAt: nowMS, HealthScore: 1.0}
	for _, entry := range b.cache {
		state.Hypotheses = append(state.Hypotheses, entry.hypothesis)
	}
	if len(state.Hypotheses) > 0 {
		var sum float64
		for _, h := range state.Hypotheses {
			sum += h.Confidence
		}
		avg := sum / float64(len(state.Hypotheses))
		state.HealthScore = 1.0 - avg*0.5

		var variance float64
		for _, h := range state.Hypotheses {
			d := h.Confidence - 0.5
			variance += d * d
		}
		state.Uncertainty = min1(variance / float64(len(state.Hypotheses)) * 2)
		state.Uncertain = state.MaxConfidence() < b.tauUncertain
	}
	return state
}

func beliefKey(h model.Hypothesis) string {
	// Description carries the dimension key suffix; root cause alone would
	// collide across issuers.
	return h.RootCause + "|" + h.Description
}

// UncertainMarker is the string an explanation must contain when the
// belief state is uncertain.
const UncertainMarker = "uncertain"

// Explain renders a one-line explanation of the belief state, carrying
// the uncertain marker when required.
func Explain(state model.BeliefState) string {
	if len(state.Hypotheses) == 0 {
		return "nominal: no active hypotheses"
	}
	var best model.Hypothesis
	for _, h := range state.Hypotheses {
		if h.Confidence > best.Confidence {
			best = h
		}
	}
	var sb strings.Builder
	sb.WriteString("leading hypothesis: ")
	sb.WriteString(best.Description)
	if state.Uncertain {
		fmt.Fprintf(&sb, " [uncertain: max confidence %.0f%% below threshold]", state.MaxConfidence()*100)
	}
	return sb.String()
}

func min1(x float64) float64 {
	if x > 1 {
		return 1
	}
	return x
}
