package reason

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/payops/autopilot/internal/model"
)

// Evidence increments: each supporting item raises confidence, each
// contradicting item lowers it by more. Strict monotonicity in both
// directions is a tested property.
const (
	supportStep   = 0.04
	contradictStep = 0.08
	maxConfidence = 0.99
)

// hypothesisTemplate is one candidate explanation for a pattern family.
type hypothesisTemplate struct {
	rootCause   string
	description string
	base        float64
	impact      model.ImpactEstimate
}

// templates lists the competing explanations per family. Families whose
// failure admits more than one cause carry at least two.
var templates = map[model.PatternType][]hypothesisTemplate{
	model.IssuerDegradation: {
		{"issuer_degradation", "issuer-side processing degradation", 0.55,
			model.ImpactEstimate{SuccessRateImpact: -0.2, LatencyImpactMS: 100, RiskImpact: 0.1}},
		{"gateway_throttling", "gateway-side throttling of the issuer path", 0.40,
			model.ImpactEstimate{SuccessRateImpact: -0.15, LatencyImpactMS: 200, RiskImpact: 0.05}},
	},
	model.IssuerOutage: {
		{"issuer_outage", "issuer endpoint down or rejecting all traffic", 0.65,
			model.ImpactEstimate{SuccessRateImpact: -0.5, LatencyImpactMS: 300, RiskImpact: 0.2}},
		{"network_partition", "network partition between gateway and issuer", 0.40,
			model.ImpactEstimate{SuccessRateImpact: -0.4, LatencyImpactMS: 500, RiskImpact: 0.15}},
	},
	model.RetryStorm: {
		{"retry_amplification", "client retries amplifying load on a struggling path", 0.55,
			model.ImpactEstimate{SuccessRateImpact: -0.1, LatencyImpactMS: 150, CostImpact: 0.2, RiskImpact: 0.15}},
		{"soft_fail_loop", "issuer soft-failing in a way that invites resubmission", 0.40,
			model.ImpactEstimate{SuccessRateImpact: -0.08, LatencyImpactMS: 100, CostImpact: 0.1, RiskImpact: 0.1}},
	},
	model.MethodFatigue: {
		{"method_rail_outage", "payment-method rail experiencing an outage", 0.50,
			model.ImpactEstimate{SuccessRateImpact: -0.25, LatencyImpactMS: 50, RiskImpact: 0.1}},
		{"gateway_validation", "gateway-side validation rejecting the method", 0.35,
			model.ImpactEstimate{SuccessRateImpact: -0.2, RiskImpact: 0.05}},
	},
	model.LatencySpike: {
		{"system_overload", "capacity overload raising queue delay", 0.50,
			model.ImpactEstimate{SuccessRateImpact: -0.05, LatencyImpactMS: 300, CostImpact: 0.1, RiskImpact: 0.2}},
		{"upstream_slowdown", "upstream dependency responding slowly", 0.40,
			model.ImpactEstimate{SuccessRateImpact: -0.02, LatencyImpactMS: 400, RiskImpact: 0.1}},
	},
	model.SystemicFailure: {
		{"gateway_failure", "gateway-wide fault affecting all issuers", 0.60,
			model.ImpactEstimate{SuccessRateImpact: -0.4, LatencyImpactMS: 200, RiskImpact: 0.3}},
		{"shared_dependency", "shared downstream dependency degraded", 0.45,
			model.ImpactEstimate{SuccessRateImpact: -0.3, LatencyImpactMS: 250, RiskImpact: 0.25}},
	},
	model.LocalizedFailure: {
		{"localized_fault", "fault confined to one traffic slice", 0.45,
			model.ImpactEstimate{SuccessRateImpact: -0.1, RiskImpact: 0.05}},
	},
}

// Generator emits competing root-cause hypotheses for detected patterns.
type Generator struct {
	scorer *Scorer
}

// NewGenerator creates a generator holding the given confidence scorer;
// Generate does not call it.
func NewGenerator(scorer *Scorer) *Generator {
	return &Generator{scorer: scorer}
}

// Generate emits the hypothesis set for the cycle's patterns. Evidence
// from the pattern is attached as supporting evidence; the pattern's
// severity scales the template base. The multi-factor scorer is not
// consulted.
func (g *Generator) Generate(patterns []model.DetectedPattern) []model.Hypothesis {
	var out []model.Hypothesis
	for _, p := range patterns {
		for _, tmpl := range templates[p.Type] {
			h := model.Hypothesis{
				ID:          uuid.NewString(),
				RootCause:   tmpl.rootCause,
				Description: fmt.Sprintf("%s (%s)", tmpl.description, p.Dimension.Key()),
				Supporting:  append([]model.Evidence(nil), p.Evidence...),
				Impact:      tmpl.impact,
			}
			h.Confidence = Score(tmpl.base*(0.5+0.5*p.Severity), len(h.Supporting), len(h.Contradicting))
			out = append(out, h)
		}
	}
	return out
}

// Score computes confidence from a base and evidence counts. It rises
// strictly with every supporting item and falls with every contradicting
// item, saturating below 1.
func Score(base float64, supporting, contradicting int) float64 {
	c := base + supportStep*float64(supporting) - contradictStep*float64(contradicting)
	if c < 0 {
		return 0
	}
	if c > maxConfidence {
		// Keep strict monotonicity near the ceiling: approach it
		// asymptotically instead of clipping flat.
		over := c - maxConfidence
		c = maxConfidence + over/(1+over)*(1-maxConfidence)
		if c >= 1 {
			c = 0.999999
		}
	}
	return c
}
