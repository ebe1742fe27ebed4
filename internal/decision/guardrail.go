package decision

import (
	"fmt"

	"github.com/payops/autopilot/internal/model"
)

// GuardrailConfig bounds what the policy may do autonomously.
type GuardrailConfig struct {
	MaxRetryAdjustment       int
	MaxSuppressionDurationMS int64
	ProtectedTargets         map[string]bool
	MaxBlastRadiusAutonomy   float64
	MinConfidenceForAction   float64
}

// DefaultGuardrailConfig mirrors the documented defaults.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MaxRetryAdjustment:       5,
		MaxSuppressionDurationMS: 900_000,
		ProtectedTargets:         map[string]bool{},
		MaxBlastRadiusAutonomy:   0.3,
		MinConfidenceForAction:   0.7,
	}
}

// Verdict is the guardrail outcome for one option.
type Verdict int

const (
	VerdictPass Verdict = iota
	VerdictRequiresApproval
	VerdictRejected
)

// String returns the wire name of the verdict.
func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictRequiresApproval:
		return "requires_approval"
	case VerdictRejected:
		return "rejected"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Guardrails is the pre-mortem check every option passes before execution.
type Guardrails struct {
	cfg GuardrailConfig
}

// NewGuardrails creates the checker.
func NewGuardrails(cfg GuardrailConfig) *Guardrails {
	if cfg.MaxBlastRadiusAutonomy <= 0 {
		cfg.MaxBlastRadiusAutonomy = 0.3
	}
	if cfg.MinConfidenceForAction <= 0 {
		cfg.MinConfidenceForAction = 0.7
	}
	if cfg.MaxSuppressionDurationMS <= 0 {
		cfg.MaxSuppressionDurationMS = 900_000
	}
	return &Guardrails{cfg: cfg}
}

// Check evaluates one option against the safety bounds. confidence is the
// cycle's best hypothesis confidence.
func (g *Guardrails) Check(opt model.InterventionOption, confidence float64) (Verdict, string) {
	// Parameter bounds are hard rejections.
	if opt.Type == model.SuppressPath && opt.Params.DurationMS > g.cfg.MaxSuppressionDurationMS {
		return VerdictRejected, fmt.Sprintf("suppression duration %dms exceeds bound %dms",
			opt.Params.DurationMS, g.cfg.MaxSuppressionDurationMS)
	}
	if g.cfg.MaxRetryAdjustment > 0 && opt.Params.MaxRetries > g.cfg.MaxRetryAdjustment {
		return VerdictRejected, fmt.Sprintf("retry adjustment %d exceeds bound %d",
			opt.Params.MaxRetries, g.cfg.MaxRetryAdjustment)
	}
	if g.cfg.ProtectedTargets[opt.Target] {
		return VerdictRejected, fmt.Sprintf("target %s is protected", opt.Target)
	}

	// Big blast radius with weak confidence escalates to a human.
	if opt.BlastRadius > g.cfg.MaxBlastRadiusAutonomy && confidence < g.cfg.MinConfidenceForAction {
		return VerdictRequiresApproval, fmt.Sprintf(
			"blast radius %.2f above autonomy bound %.2f with confidence %.2f below %.2f",
			opt.BlastRadius, g.cfg.MaxBlastRadiusAutonomy, confidence, g.cfg.MinConfidenceForAction)
	}

	// Non-reversible options with positive risk always escalate.
	if !opt.Reversible && opt.Tradeoffs.RiskImpact > 0 {
		return VerdictRequiresApproval, "non-reversible option with positive risk impact"
	}

	return VerdictPass, ""
}
