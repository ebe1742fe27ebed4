package reason

import (
	"github.com/payops/autopilot/internal/model"
)

// Multi-factor confidence weights: sample size, failure-signal
// consistency, baseline deviation.
const (
	weightSample      = 0.3
	weightConsistency = 0.4
	weightBaseline    = 0.3
)

// ConfidenceResult carries the composite score and its components.
type ConfidenceResult struct {
	Confidence  float64
	Sample      float64
	Consistency float64
	Baseline    float64
	Z           float64
}

// Scorer computes multi-factor confidence for a flagged dimension.
type Scorer struct {
	minSample int
}

// NewScorer creates a scorer; minSample is the count at which the sample
// factor saturates (default 50).
func NewScorer(minSample int) *Scorer {
	if minSample <= 0 {
		minSample = 50
	}
	return &Scorer{minSample: minSample}
}

// Score combines sample size, consistency of the failure signal, and the
// Z-score band into one confidence value in [0,1].
func (s *Scorer) Score(txns []model.Transaction, failureRate, baselineMean, baselineStd float64) ConfidenceResult {
	failed := 0
	codes := make(map[string]int)
	for _, txn := range txns {
		if txn.Outcome == model.Success {
			continue
		}
		failed++
		codes[txn.ErrorCode]++
	}

	sample := float64(failed) / float64(s.minSample)
	if sample > 1 {
		sample = 1
	}

	consistency := 0.0
	if failed > 0 {
		top := 0
		for _, n := range codes {
			if n > top {
				top = n
			}
		}
		consistency = float64(top) / float64(failed)
	}

	z := 0.0
	if baselineStd > 0 {
		z = (failureRate - baselineMean) / baselineStd
	}
	baseline := baselineBand(z)

	return ConfidenceResult{
		Confidence:  sample*weightSample + consistency*weightConsistency + baseline*weightBaseline,
		Sample:      sample,
		Consistency: consistency,
		Baseline:    baseline,
		Z:           z,
	}
}

// baselineBand maps a Z-score to [0,1]: nothing below 1 sigma, saturated
// above 3, linear in between.
func baselineBand(z float64) float64 {
	switch {
	case z > 3:
		return 1
	case z < 1:
		return 0
	default:
		return (z - 1) / 2
	}
}
