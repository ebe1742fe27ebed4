// Package decision generates candidate interventions for active patterns,
// ranks them by net revenue value, and enforces the guardrails and the
// minimum-action-frequency rule.
package decision

import (
	"github.com/payops/autopilot/internal/model"
)

// Planner enumerates the intervention options whose target domain matches
// each active pattern. alert_ops, at zero blast radius, is offered whenever
// any pattern is active.
type Planner struct{}

// NewPlanner creates a planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Options returns the candidate set for the cycle's patterns. The set
// always contains no_action; alert_ops is added whenever any pattern is
// active.
func (p *Planner) Options(patterns []model.DetectedPattern) []model.InterventionOption {
	options := []model.InterventionOption{noActionOption()}

	for _, pattern := range patterns {
		switch pattern.Type {
		case model.IssuerOutage, model.IssuerDegradation:
			options = append(options, suppressOption(pattern))
		case model.RetryStorm:
			options = append(options, reduceRetryOption(pattern))
		case model.MethodFatigue, model.LatencySpike:
			options = append(options, rerouteOption(pattern))
		case model.SystemicFailure:
			// Fleet-wide faults are not fixed by touching one path.
			options = append(options, alertOption("high", pattern))
		case model.LocalizedFailure:
			options = append(options, adjustRetryOption(pattern))
		}
	}

	if len(patterns) > 0 {
		options = append(options, alertOption("medium", patterns[0]))
	}
	return options
}

func noActionOption() model.InterventionOption {
	return model.InterventionOption{
		Type:       model.NoAction,
		Target:     "none",
		Expected:   model.OutcomeEstimate{Confidence: 1.0},
		Reversible: true,
	}
}

func suppressOption(pattern model.DetectedPattern) model.InterventionOption {
	return model.InterventionOption{
		Type:   model.SuppressPath,
		Target: pattern.Dimension.Key(),
		Params: model.InterventionParams{
			DurationMS: 300_000,
			Reason:     pattern.Type.String(),
		},
		Expected: model.OutcomeEstimate{
			SuccessRateChange: 0.10,
			LatencyChangeMS:   -50,
			CostChange:        0.05,
			Confidence:        0.7,
		},
		Tradeoffs: model.Tradeoffs{
			SuccessRateImpact:  0.10,
			LatencyImpactMS:    -50,
			CostImpact:         0.05,
			RiskImpact:         0.10,
			UserFrictionImpact: 0.2,
		},
		Reversible:  true,
		BlastRadius: 0.2,
		Rollbacks: []model.RollbackCondition{
			{Metric: "global_success_rate", Threshold: 0.10},
		},
	}
}

func reduceRetryOption(pattern model.DetectedPattern) model.InterventionOption {
	return model.InterventionOption{
		Type:   model.ReduceRetryAttempts,
		Target: "system",
		Params: model.InterventionParams{
			DurationMS: 600_000,
			MaxRetries: 2,
			Reason:     pattern.Type.String(),
		},
		Expected: model.OutcomeEstimate{
			SuccessRateChange: 0.05,
			LatencyChangeMS:   -100,
			CostChange:        -0.10,
			Confidence:        0.8,
		},
		Tradeoffs: model.Tradeoffs{
			SuccessRateImpact:  0.05,
			LatencyImpactMS:    -100,
			CostImpact:         -0.10,
			RiskImpact:         0.05,
			UserFrictionImpact: 0.1,
		},
		Reversible:  true,
		BlastRadius: 0.5,
	}
}

func rerouteOption(pattern model.DetectedPattern) model.InterventionOption {
	return model.InterventionOption{
		Type:   model.RerouteTraffic,
		Target: pattern.Dimension.Key(),
		Params: model.InterventionParams{
			DurationMS: 300_000,
			Reason:     pattern.Type.String(),
		},
		Expected: model.OutcomeEstimate{
			SuccessRateChange: 0.15,
			LatencyChangeMS:   20,
			CostChange:        0.02,
			Confidence:        0.6,
		},
		Tradeoffs: model.Tradeoffs{
			SuccessRateImpact:  0.15,
			LatencyImpactMS:    20,
			CostImpact:         0.02,
			RiskImpact:         0.15,
			UserFrictionImpact: 0.3,
		},
		Reversible:  true,
		BlastRadius: 0.3,
		Rollbacks: []model.RollbackCondition{
			{Metric: "global_success_rate", Threshold: 0.10},
		},
	}
}

func adjustRetryOption(pattern model.DetectedPattern) model.InterventionOption {
	return model.InterventionOption{
		Type:   model.AdjustRetry,
		Target: pattern.Dimension.Key(),
		Params: model.InterventionParams{
			DurationMS: 180_000,
			Reason:     pattern.Type.String(),
		},
		Expected: model.OutcomeEstimate{
			SuccessRateChange: 0.03,
			LatencyChangeMS:   50,
			CostChange:        0.05,
			Confidence:        0.5,
		},
		Tradeoffs: model.Tradeoffs{
			SuccessRateImpact:  0.03,
			LatencyImpactMS:    50,
			CostImpact:         0.05,
			RiskImpact:         0.05,
			UserFrictionImpact: 0.05,
		},
		Reversible:  true,
		BlastRadius: 0.1,
	}
}

func alertOption(severity string, pattern model.DetectedPattern) model.InterventionOption {
	return model.InterventionOption{
		Type:   model.AlertOps,
		Target: "ops_team",
		Params: model.InterventionParams{
			Severity: severity,
			Reason:   pattern.Type.String(),
		},
		Expected:   model.OutcomeEstimate{Confidence: 1.0},
		Reversible: true,
	}
}

// BaselineAlert is the synthesized option the minimum-frequency rule
// executes when no pattern is active.
func BaselineAlert() model.InterventionOption {
	return model.InterventionOption{
		Type:   model.AlertOps,
		Target: "ops_team",
		Params: model.InterventionParams{
			Severity: "low",
			Reason:   "minimum_action_frequency",
		},
		Expected:   model.OutcomeEstimate{Confidence: 1.0},
		Tradeoffs:  model.Tradeoffs{CostImpact: 0.01},
		Reversible: true,
	}
}
