package model

// ImpactEstimate quantifies the expected effect of a root cause or an
// intervention if left alone / applied.
type ImpactEstimate struct {
	SuccessRateImpact float64 `json:"success_rate_impact"`
	LatencyImpactMS   float64 `json:"latency_impact_ms"`
	CostImpact        float64 `json:"cost_impact"`
	RiskImpact        float64 `json:"risk_impact"`
}

// Hypothesis is one candidate root-cause explanation for a pattern.
// Confidence rises strictly with supporting evidence and falls with
// contradicting evidence; see reason.Score.
type Hypothesis struct {
	ID            string         `json:"id"`
	RootCause     string         `json:"root_cause"`
	Description   string         `json:"description"`
	Confidence    float64        `json:"confidence"`
	Supporting    []Evidence     `json:"supporting_evidence"`
	Contradicting []Evidence     `json:"contradicting_evidence"`
	Impact        ImpactEstimate `json:"expected_impact"`
}

// BeliefState is the merged hypothesis set for the current cycle.
type BeliefState struct {
	Hypotheses  []Hypothesis `json:"hypotheses"`
	HealthScore float64      `json:"health_score"`
	Uncertainty float64      `json:"uncertainty"`
	Uncertain   bool         `json:"uncertain"`
	UpdatedAt   int64        `json:"updated_at"`
}

// MaxConfidence returns the highest hypothesis confidence, or 0 when the
// belief set is empty.
func (b BeliefState) MaxConfidence() float64 {
	max := 0.0
	for _, h := range b.Hypotheses {
		if h.Confidence > max {
			max = h.Confidence
		}
	}
	return max
}
