package model

import "fmt"

// InterventionType is the closed set of actions the policy may take.
type InterventionType int

const (
	NoAction InterventionType = iota
	AdjustRetry
	SuppressPath
	RerouteTraffic
	ReduceRetryAttempts
	AlertOps
)

// String returns the wire name of the intervention type.
func (t InterventionType) String() string {
	switch t {
	case NoAction:
		return "no_action"
	case AdjustRetry:
		return "adjust_retry"
	case SuppressPath:
		return "suppress_path"
	case RerouteTraffic:
		return "reroute_traffic"
	case ReduceRetryAttempts:
		return "reduce_retry_attempts"
	case AlertOps:
		return "alert_ops"
	default:
		return fmt.Sprintf("intervention(%d)", int(t))
	}
}

// MarshalJSON encodes the intervention type as its wire name.
func (t InterventionType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// UnmarshalJSON decodes an intervention type from its wire name.
func (t *InterventionType) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("intervention type: not a JSON string: %s", data)
	}
	switch string(data[1 : len(data)-1]) {
	case "no_action":
		*t = NoAction
	case "adjust_retry":
		*t = AdjustRetry
	case "suppress_path":
		*t = SuppressPath
	case "reroute_traffic":
		*t = RerouteTraffic
	case "reduce_retry_attempts":
		*t = ReduceRetryAttempts
	case "alert_ops":
		*t = AlertOps
	default:
		return fmt.Errorf("unknown intervention type %s", data)
	}
	return nil
}

// InterventionParams are the tunable knobs of an option. Only the fields
// relevant to the option's type are set.
type InterventionParams struct {
	DurationMS int64  `json:"duration_ms,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// OutcomeEstimate is the option's declared expected effect.
type OutcomeEstimate struct {
	SuccessRateChange float64 `json:"expected_success_rate_change"`
	LatencyChangeMS   float64 `json:"expected_latency_change_ms"`
	CostChange        float64 `json:"expected_cost_change"`
	Confidence        float64 `json:"confidence"`
}

// Tradeoffs are the option's declared side effects, fed into NRV.
type Tradeoffs struct {
	SuccessRateImpact  float64 `json:"success_rate_impact"`
	LatencyImpactMS    float64 `json:"latency_impact_ms"`
	CostImpact         float64 `json:"cost_impact"`
	RiskImpact         float64 `json:"risk_impact"`
	UserFrictionImpact float64 `json:"user_friction_impact"`
}

// RollbackCondition aborts an active intervention early when a metric
// regresses past a threshold.
type RollbackCondition struct {
	Metric    string  `json:"metric"`    // "global_success_rate"
	Threshold float64 `json:"threshold"` // absolute regression vs value at apply time
}

// InterventionOption is one candidate action generated by the planner.
type InterventionOption struct {
	Type       InterventionType    `json:"type"`
	Target     string              `json:"target"` // dimension key, "system", or "ops_team"
	Params     InterventionParams  `json:"parameters"`
	Expected   OutcomeEstimate     `json:"expected_outcome"`
	Tradeoffs  Tradeoffs           `json:"tradeoffs"`
	Reversible bool                `json:"reversible"`
	BlastRadius float64            `json:"blast_radius"`
	Rollbacks  []RollbackCondition `json:"rollback_conditions,omitempty"`
}

// TargetIssuer extracts the issuer from an "issuer:NAME" target, or ""
// when the target is not issuer-scoped.
func (o InterventionOption) TargetIssuer() string {
	d := ParseDimension(o.Target)
	if d.Kind == DimIssuer {
		return d.Value
	}
	return ""
}
