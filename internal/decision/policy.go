package decision

import (
	"fmt"
	"log/slog"

	"github.com/payops/autopilot/internal/model"
)

// PolicyConfig tunes the decision policy.
type PolicyConfig struct {
	MinActionFrequencyCycles int // force an action every N cycles
	NRV                      NRVConfig
	Guardrails               GuardrailConfig
}

// DefaultPolicyConfig mirrors the documented defaults (N=6).
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinActionFrequencyCycles: 6,
		NRV:                      DefaultNRVConfig(),
		Guardrails:               DefaultGuardrailConfig(),
	}
}

// Policy ranks options by NRV and decides whether to act. The no-action
// streak counter is the only cross-cycle mutable state here; it lives on
// the policy object and nowhere else.
type Policy struct {
	n          int
	calc       *Calculator
	guardrails *Guardrails
	noAction   int // consecutive NO-ACTION decisions
	log        *slog.Logger
}

// NewPolicy creates a policy.
func NewPolicy(cfg PolicyConfig, log *slog.Logger) *Policy {
	n := cfg.MinActionFrequencyCycles
	if n <= 0 {
		n = 6
	}
	return &Policy{
		n:          n,
		calc:       NewCalculator(cfg.NRV),
		guardrails: NewGuardrails(cfg.Guardrails),
		log:        log.With("component", "policy"),
	}
}

// NoActionStreak exposes the counter for snapshot persistence.
func (p *Policy) NoActionStreak() int {
	return p.noAction
}

// RestoreStreak reinstates the counter from a snapshot.
func (p *Policy) RestoreStreak(c int) {
	if c >= 0 {
		p.noAction = c
	}
}

// admissible is one option that passed or escalated through guardrails.
type admissible struct {
	ranked  Ranked
	verdict Verdict
	reason  string
}

// Decide evaluates the cycle's options. windowVolume and beliefs feed the
// NRV terms and the guardrail confidence check.
func (p *Policy) Decide(options []model.InterventionOption, beliefs model.BeliefState, windowVolume int) model.Decision {
	confidence := beliefs.MaxConfidence()

	// Rank everything except no_action; guardrail-rejected options drop out.
	var actionable []model.InterventionOption
	for _, opt := range options {
		if opt.Type != model.NoAction {
			actionable = append(actionable, opt)
		}
	}

	var admissibles []admissible
	var rejections []string
	for _, r := range p.calc.Rank(actionable, windowVolume) {
		verdict, reason := p.guardrails.Check(r.Option, confidence)
		if verdict == VerdictRejected {
			rejections = append(rejections, fmt.Sprintf("%s: %s", r.Option.Type.String(), reason))
			continue
		}
		admissibles = append(admissibles, admissible{ranked: r, verdict: verdict, reason: reason})
	}

	forced := p.noAction >= p.n-1

	if len(admissibles) == 0 {
		if forced {
			// Nothing admissible but the cadence guarantee still holds:
			// synthesize the baseline alert.
			return p.act(admissible{
				ranked: Ranked{Option: BaselineAlert(), NRV: p.calc.Calculate(BaselineAlert(), windowVolume)},
			}, nil, true)
		}
		p.noAction++
		rationale := fmt.Sprintf("no actionable options (cycle %d since last action)", p.noAction)
		outcome := ""
		if len(rejections) > 0 {
			rationale = fmt.Sprintf("guardrail-blocked: %v (cycle %d since last action)", rejections, p.noAction)
			outcome = "guardrail-blocked"
		}
		return model.Decision{Rationale: rationale, GuardrailOutcome: outcome}
	}

	best := admissibles[0]
	if forced {
		// Top-ranked option executes even at non-positive NRV.
		return p.act(best, alternatives(admissibles[1:]), true)
	}

	if best.ranked.NRV.NRV <= 0 {
		p.noAction++
		return model.Decision{
			Rationale: fmt.Sprintf("best option %s has NRV %.2f <= 0, no economic value (cycle %d since last action)",
				best.ranked.Option.Type.String(), best.ranked.NRV.NRV, p.noAction),
			Alternatives: alternatives(admissibles),
			NRV:          best.ranked.NRV,
		}
	}

	return p.act(best, alternatives(admissibles[1:]), false)
}

// act builds an ACTION decision and resets the streak counter. Decisions
// requiring approval still count as actions for the cadence rule; the
// execution layer parks them instead of applying.
func (p *Policy) act(best admissible, alts []model.InterventionOption, minFreq bool) model.Decision {
	p.noAction = 0
	opt := best.ranked.Option

	rationale := fmt.Sprintf("selected %s on %s with NRV %.2f (recovery %.2f, cost %.2f, latency %.2f, risk %.2f)",
		opt.Type.String(), opt.Target,
		best.ranked.NRV.NRV, best.ranked.NRV.RevenueRecovery,
		best.ranked.NRV.Cost, best.ranked.NRV.LatencyPenalty, best.ranked.NRV.RiskPenalty)
	if minFreq {
		rationale = "[minimum-frequency rule] " + rationale
	}
	if best.verdict == VerdictRequiresApproval {
		rationale += "; escalated: " + best.reason
	}

	guardrail := "pass"
	if best.verdict == VerdictRequiresApproval {
		guardrail = "requires_approval"
	}

	p.log.Info("decision",
		"action", opt.Type.String(),
		"target", opt.Target,
		"nrv", best.ranked.NRV.NRV,
		"min_freq", minFreq,
		"guardrail", guardrail)

	return model.Decision{
		ShouldAct:        true,
		Selected:         &opt,
		Rationale:        rationale,
		Alternatives:     alts,
		RequiresApproval: best.verdict == VerdictRequiresApproval,
		NRV:              best.ranked.NRV,
		MinFreqTriggered: minFreq,
		GuardrailOutcome: guardrail,
	}
}

func alternatives(adm []admissible) []model.InterventionOption {
	out := make([]model.InterventionOption, 0, len(adm))
	for _, a := range adm {
		out = append(out, a.ranked.Option)
	}
	return out
}
