package decision

import (
	"math"

	"github.com/payops/autopilot/internal/model"
)

// NRVConfig weights the terms of the net-revenue-value calculation. No
// single term dominates by construction; the risk weight keeps high-risk
// options from winning on raw revenue.
type NRVConfig struct {
	AvgTicketValue      float64
	LatencyPenaltyPerMS float64
	CostPerIntervention float64
	RiskWeight          float64
}

// DefaultNRVConfig mirrors the documented defaults.
func DefaultNRVConfig() NRVConfig {
	return NRVConfig{
		AvgTicketValue:      100.0,
		LatencyPenaltyPerMS: 0.01,
		CostPerIntervention: 5.0,
		RiskWeight:          50.0,
	}
}

// Calculator computes NRV breakdowns for candidate options.
type Calculator struct {
	cfg NRVConfig
}

// NewCalculator creates a calculator.
func NewCalculator(cfg NRVConfig) *Calculator {
	if cfg.AvgTicketValue <= 0 {
		cfg = DefaultNRVConfig()
	}
	return &Calculator{cfg: cfg}
}

// Calculate derives every NRV term from the option's declared expected
// outcome and tradeoffs:
//
//	NRV = lift · ticket · affected_volume − cost − latency_penalty − risk_penalty
func (c *Calculator) Calculate(opt model.InterventionOption, windowVolume int) model.NRVBreakdown {
	affected := int(float64(windowVolume) * opt.BlastRadius)
	recovery := opt.Tradeoffs.SuccessRateImpact * float64(affected) * c.cfg.AvgTicketValue
	cost := c.cfg.CostPerIntervention + math.Abs(opt.Tradeoffs.CostImpact)
	latency := math.Abs(opt.Tradeoffs.LatencyImpactMS) * c.cfg.LatencyPenaltyPerMS
	risk := opt.Tradeoffs.RiskImpact * c.cfg.RiskWeight

	return model.NRVBreakdown{
		NRV:             recovery - cost - latency - risk,
		RevenueRecovery: recovery,
		Cost:            cost,
		LatencyPenalty:  latency,
		RiskPenalty:     risk,
		AffectedVolume:  affected,
	}
}

// Ranked pairs an option with its NRV breakdown.
type Ranked struct {
	Option model.InterventionOption
	NRV    model.NRVBreakdown
}

// Rank sorts options by descending NRV. Ties prefer reversible options,
// then smaller blast radius. Insertion sort keeps the order stable for
// equal keys.
func (c *Calculator) Rank(options []model.InterventionOption, windowVolume int) []Ranked {
	ranked := make([]Ranked, 0, len(options))
	for _, opt := range options {
		ranked = append(ranked, Ranked{Option: opt, NRV: c.Calculate(opt, windowVolume)})
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && less(ranked[j-1], ranked[j]); j-- {
			ranked[j-1], ranked[j] = ranked[j], ranked[j-1]
		}
	}
	return ranked
}

// less reports whether a should sort after b.
func less(a, b Ranked) bool {
	if a.NRV.NRV != b.NRV.NRV {
		return a.NRV.NRV < b.NRV.NRV
	}
	if a.Option.Reversible != b.Option.Reversible {
		return !a.Option.Reversible
	}
	return a.Option.BlastRadius > b.Option.BlastRadius
}
