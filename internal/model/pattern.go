package model

import "fmt"

// PatternType is the closed set of failure families the classifier emits.
type PatternType int

const (
	IssuerDegradation PatternType = iota
	IssuerOutage
	RetryStorm
	MethodFatigue
	LatencySpike
	SystemicFailure
	LocalizedFailure
)

// String returns the wire name of the pattern family.
func (p PatternType) String() string {
	switch p {
	case IssuerDegradation:
		return "issuer_degradation"
	case IssuerOutage:
		return "issuer_outage"
	case RetryStorm:
		return "retry_storm"
	case MethodFatigue:
		return "method_fatigue"
	case LatencySpike:
		return "latency_spike"
	case SystemicFailure:
		return "systemic_failure"
	case LocalizedFailure:
		return "localized_failure"
	default:
		return fmt.Sprintf("pattern(%d)", int(p))
	}
}

// MarshalJSON encodes the pattern family as its wire name.
func (p PatternType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Evidence is one observation supporting or contradicting a pattern or
// hypothesis.
type Evidence struct {
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	TimestampMS int64   `json:"timestamp_ms"`
	Source      string  `json:"source"`
}

// DetectedPattern is a classified anomaly over one dimension.
type DetectedPattern struct {
	Type       PatternType `json:"type"`
	Dimension  Dimension   `json:"-"`
	Severity   float64     `json:"severity"`
	Evidence   []Evidence  `json:"evidence"`
	DetectedAt int64       `json:"detected_at"`
}
