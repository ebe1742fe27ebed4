package decision

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/payops/autopilot/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestPolicy() *Policy {
	return NewPolicy(DefaultPolicyConfig(), discardLogger())
}

func degradationPattern(issuer string) model.DetectedPattern {
	return model.DetectedPattern{
		Type:      model.IssuerDegradation,
		Dimension: model.Dimension{Kind: model.DimIssuer, Value: issuer},
		Severity:  0.8,
	}
}

func confidentBeliefs() model.BeliefState {
	return model.BeliefState{Hypotheses: []model.Hypothesis{{Confidence: 0.85}}}
}

// --- Planner tests ---

func TestPlannerMatchesOptionToPattern(t *testing.T) {
	p := NewPlanner()
	tests := []struct {
		pattern model.PatternType
		want    model.InterventionType
	}{
		{model.IssuerOutage, model.SuppressPath},
		{model.IssuerDegradation, model.SuppressPath},
		{model.RetryStorm, model.ReduceRetryAttempts},
		{model.MethodFatigue, model.RerouteTraffic},
		{model.LatencySpike, model.RerouteTraffic},
		{model.LocalizedFailure, model.AdjustRetry},
	}
	for _, tt := range tests {
		patterns := []model.DetectedPattern{{Type: tt.pattern, Dimension: model.Global}}
		found := false
		for _, opt := range p.Options(patterns) {
			if opt.Type == tt.want {
				found = true
			}
		}
		if !found {
			t.Errorf("pattern %s: no %s option generated", tt.pattern, tt.want)
		}
	}
}

func TestPlannerAlwaysOffersAlertWithActivePattern(t *testing.T) {
	p := NewPlanner()
	options := p.Options([]model.DetectedPattern{degradationPattern("ICICI")})
	alert := false
	for _, opt := range options {
		if opt.Type == model.AlertOps {
			alert = true
			if opt.BlastRadius != 0 {
				t.Errorf("alert_ops blast radius = %v, want 0", opt.BlastRadius)
			}
		}
	}
	if !alert {
		t.Error("alert_ops missing from option set")
	}
}

// --- NRV tests ---

func TestNRVBreakdownTerms(t *testing.T) {
	calc := NewCalculator(DefaultNRVConfig())
	opt := model.InterventionOption{
		Type:        model.SuppressPath,
		BlastRadius: 0.2,
		Tradeoffs: model.Tradeoffs{
			SuccessRateImpact: 0.1,
			LatencyImpactMS:   -50,
			CostImpact:        0.05,
			RiskImpact:        0.1,
		},
	}
	b := calc.Calculate(opt, 1000)
	if b.AffectedVolume != 200 {
		t.Errorf("affected volume = %d, want 200", b.AffectedVolume)
	}
	if b.RevenueRecovery != 0.1*200*100 {
		t.Errorf("recovery = %v, want %v", b.RevenueRecovery, 0.1*200*100)
	}
	if b.Cost != 5.05 {
		t.Errorf("cost = %v, want 5.05", b.Cost)
	}
	if b.LatencyPenalty != 0.5 {
		t.Errorf("latency penalty = %v, want 0.5", b.LatencyPenalty)
	}
	if b.RiskPenalty != 5.0 {
		t.Errorf("risk penalty = %v, want 5.0", b.RiskPenalty)
	}
	want := b.RevenueRecovery - b.Cost - b.LatencyPenalty - b.RiskPenalty
	if b.NRV != want {
		t.Errorf("nrv = %v, want %v", b.NRV, want)
	}
}

func TestRankOrdersByNRVThenTieBreaks(t *testing.T) {
	calc := NewCalculator(DefaultNRVConfig())
	big := model.InterventionOption{Type: model.SuppressPath, BlastRadius: 0.5,
		Tradeoffs: model.Tradeoffs{SuccessRateImpact: 0.2}}
	small := model.InterventionOption{Type: model.AdjustRetry, BlastRadius: 0.1,
		Tradeoffs: model.Tradeoffs{SuccessRateImpact: 0.05}}

	ranked := calc.Rank([]model.InterventionOption{small, big}, 1000)
	if ranked[0].Option.Type != model.SuppressPath {
		t.Errorf("highest NRV must rank first, got %s", ranked[0].Option.Type)
	}

	// Equal NRV: reversible wins, then smaller blast radius.
	a := model.InterventionOption{Type: model.RerouteTraffic, Reversible: false, BlastRadius: 0.2}
	b := model.InterventionOption{Type: model.RerouteTraffic, Reversible: true, BlastRadius: 0.2}
	ranked = calc.Rank([]model.InterventionOption{a, b}, 1000)
	if !ranked[0].Option.Reversible {
		t.Error("reversible option must win NRV ties")
	}

	c := model.InterventionOption{Type: model.RerouteTraffic, Reversible: true, BlastRadius: 0.4}
	d := model.InterventionOption{Type: model.RerouteTraffic, Reversible: true, BlastRadius: 0.1}
	ranked = calc.Rank([]model.InterventionOption{c, d}, 1000)
	if ranked[0].Option.BlastRadius != 0.1 {
		t.Error("smaller blast radius must win remaining ties")
	}
}

// --- Guardrail tests ---

func TestGuardrailRejections(t *testing.T) {
	g := NewGuardrails(GuardrailConfig{
		MaxRetryAdjustment:       3,
		MaxSuppressionDurationMS: 600_000,
		ProtectedTargets:         map[string]bool{"issuer:SBI": true},
		MaxBlastRadiusAutonomy:   0.3,
		MinConfidenceForAction:   0.7,
	})

	tests := []struct {
		name string
		opt  model.InterventionOption
		conf float64
		want Verdict
	}{
		{"suppression too long",
			model.InterventionOption{Type: model.SuppressPath, Target: "issuer:HDFC",
				Params: model.InterventionParams{DurationMS: 700_000}}, 0.9, VerdictRejected},
		{"retry bound exceeded",
			model.InterventionOption{Type: model.ReduceRetryAttempts, Target: "system",
				Params: model.InterventionParams{MaxRetries: 8}}, 0.9, VerdictRejected},
		{"protected target",
			model.InterventionOption{Type: model.SuppressPath, Target: "issuer:SBI",
				Params: model.InterventionParams{DurationMS: 60_000}}, 0.9, VerdictRejected},
		{"big blast low confidence escalates",
			model.InterventionOption{Type: model.RerouteTraffic, Target: "issuer:HDFC",
				BlastRadius: 0.5, Reversible: true}, 0.4, VerdictRequiresApproval},
		{"big blast high confidence passes",
			model.InterventionOption{Type: model.RerouteTraffic, Target: "issuer:HDFC",
				BlastRadius: 0.5, Reversible: true}, 0.9, VerdictPass},
		{"small blast passes",
			model.InterventionOption{Type: model.AlertOps, Target: "ops_team", Reversible: true}, 0.1, VerdictPass},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := g.Check(tt.opt, tt.conf)
			if got != tt.want {
				t.Errorf("verdict = %s, want %s", got, tt.want)
			}
		})
	}
}

// --- Policy tests ---

func TestActOnPositiveNRV(t *testing.T) {
	p := newTestPolicy()
	options := NewPlanner().Options([]model.DetectedPattern{degradationPattern("ICICI")})

	d := p.Decide(options, confidentBeliefs(), 1000)
	if !d.ShouldAct {
		t.Fatalf("positive-NRV option must act: %s", d.Rationale)
	}
	if d.Selected.Type != model.SuppressPath {
		t.Errorf("selected %s, want suppress_path", d.Selected.Type)
	}
	if d.NRV.NRV <= 0 {
		t.Errorf("acted with NRV %v", d.NRV.NRV)
	}
	if d.MinFreqTriggered {
		t.Error("normal-path action must not mark min_freq_triggered")
	}
}

func TestSelectedNRVIsMaxOverAdmissible(t *testing.T) {
	p := newTestPolicy()
	patterns := []model.DetectedPattern{
		degradationPattern("ICICI"),
		{Type: model.RetryStorm, Dimension: model.Global, Severity: 0.5},
	}
	options := NewPlanner().Options(patterns)

	d := p.Decide(options, confidentBeliefs(), 1000)
	if !d.ShouldAct || d.MinFreqTriggered {
		t.Fatalf("expected normal-path action: %+v", d)
	}
	calc := NewCalculator(DefaultNRVConfig())
	for _, alt := range d.Alternatives {
		if calc.Calculate(alt, 1000).NRV > d.NRV.NRV {
			t.Errorf("alternative %s outranks selected option", alt.Type)
		}
	}
}

func TestMinimumFrequencyGuaranteesCadence(t *testing.T) {
	p := newTestPolicy()

	// Healthy idle: no patterns, so only no_action is on offer.
	idle := NewPlanner().Options(nil)
	actions := 0
	for cycle := 1; cycle <= 12; cycle++ {
		d := p.Decide(idle, model.BeliefState{}, 1000)
		switch cycle {
		case 6, 12:
			if !d.ShouldAct {
				t.Fatalf("cycle %d must be forced by the minimum-frequency rule", cycle)
			}
			if d.Selected.Type != model.AlertOps {
				t.Errorf("cycle %d forced action = %s, want alert_ops", cycle, d.Selected.Type)
			}
			if !d.MinFreqTriggered {
				t.Errorf("cycle %d decision must record min_freq_triggered", cycle)
			}
			if !strings.Contains(d.Rationale, "minimum-frequency") {
				t.Errorf("cycle %d rationale must mention the rule: %q", cycle, d.Rationale)
			}
			actions++
		default:
			if d.ShouldAct {
				t.Fatalf("cycle %d should be NO-ACTION in healthy idle", cycle)
			}
		}
	}
	if actions != 2 {
		t.Errorf("12 idle cycles at N=6 must force exactly 2 actions, got %d", actions)
	}
}

func TestMinimumFrequencyPicksTopRankedEvenAtNegativeNRV(t *testing.T) {
	p := newTestPolicy()

	// An option whose NRV is negative (no lift, positive risk).
	losing := model.InterventionOption{
		Type:       model.RerouteTraffic,
		Target:     "issuer:AXIS",
		Reversible: true,
		BlastRadius: 0.1,
		Tradeoffs:  model.Tradeoffs{RiskImpact: 0.2},
	}
	options := []model.InterventionOption{losing}

	for cycle := 1; cycle <= 5; cycle++ {
		if d := p.Decide(options, confidentBeliefs(), 1000); d.ShouldAct {
			t.Fatalf("cycle %d: negative NRV must not act on the normal path", cycle)
		}
	}
	d := p.Decide(options, confidentBeliefs(), 1000)
	if !d.ShouldAct || !d.MinFreqTriggered {
		t.Fatalf("6th cycle must force the top-ranked option: %+v", d)
	}
	if d.Selected.Type != model.RerouteTraffic {
		t.Errorf("forced selection = %s, want the only admissible option", d.Selected.Type)
	}
	if d.NRV.NRV > 0 {
		t.Errorf("test premise broken: NRV %v should be negative", d.NRV.NRV)
	}
}

func TestGuardrailBlockedFallsBackToAlert(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Guardrails.ProtectedTargets = map[string]bool{"issuer:ICICI": true, "ops_team": false}
	p := NewPolicy(cfg, discardLogger())

	// Only a protected-target option is available.
	blocked := model.InterventionOption{
		Type:   model.SuppressPath,
		Target: "issuer:ICICI",
		Params: model.InterventionParams{DurationMS: 60_000},
		Tradeoffs: model.Tradeoffs{SuccessRateImpact: 0.1},
		BlastRadius: 0.2,
		Reversible:  true,
	}

	for cycle := 1; cycle <= 5; cycle++ {
		d := p.Decide([]model.InterventionOption{blocked}, confidentBeliefs(), 1000)
		if d.ShouldAct {
			t.Fatalf("cycle %d: guardrail-blocked set must not act", cycle)
		}
		if d.GuardrailOutcome != "guardrail-blocked" {
			t.Errorf("cycle %d guardrail outcome = %q", cycle, d.GuardrailOutcome)
		}
	}

	// Cadence still holds via the synthesized baseline alert.
	d := p.Decide([]model.InterventionOption{blocked}, confidentBeliefs(), 1000)
	if !d.ShouldAct || d.Selected.Type != model.AlertOps || !d.MinFreqTriggered {
		t.Fatalf("blocked 6th cycle must synthesize alert_ops: %+v", d)
	}
}

func TestActionResetsStreak(t *testing.T) {
	p := newTestPolicy()
	idle := NewPlanner().Options(nil)

	for cycle := 1; cycle <= 3; cycle++ {
		p.Decide(idle, model.BeliefState{}, 1000)
	}
	// A real pattern appears and the policy acts.
	d := p.Decide(NewPlanner().Options([]model.DetectedPattern{degradationPattern("HDFC")}), confidentBeliefs(), 1000)
	if !d.ShouldAct {
		t.Fatal("expected action on degradation")
	}
	if p.NoActionStreak() != 0 {
		t.Errorf("streak = %d after action, want 0", p.NoActionStreak())
	}
}

func TestStreakRoundTrip(t *testing.T) {
	p := newTestPolicy()
	idle := NewPlanner().Options(nil)
	p.Decide(idle, model.BeliefState{}, 1000)
	p.Decide(idle, model.BeliefState{}, 1000)

	restored := newTestPolicy()
	restored.RestoreStreak(p.NoActionStreak())
	if restored.NoActionStreak() != 2 {
		t.Errorf("restored streak = %d, want 2", restored.NoActionStreak())
	}
}

func TestEscalationMarksApproval(t *testing.T) {
	p := newTestPolicy()
	big := model.InterventionOption{
		Type:        model.RerouteTraffic,
		Target:      "issuer:HDFC",
		Reversible:  true,
		BlastRadius: 0.6,
		Tradeoffs:   model.Tradeoffs{SuccessRateImpact: 0.2},
	}
	// Low confidence + big blast radius: act, but escalate.
	d := p.Decide([]model.InterventionOption{big}, model.BeliefState{Hypotheses: []model.Hypothesis{{Confidence: 0.3}}}, 1000)
	if !d.ShouldAct {
		t.Fatalf("positive NRV must act: %s", d.Rationale)
	}
	if !d.RequiresApproval {
		t.Error("escalated option must be marked requires_human_approval")
	}
}
