package model

// Bounds for issuer health parameters. Drift clips to these after every
// step; the generator and reasoning layers may assume they hold.
const (
	MinLatencyMS = 50.0
	MaxLatencyMS = 2000.0
	MaxRetryProb = 0.5
)

// IssuerState is the latent health of one issuer. Owned and mutated
// exclusively by the drift engine; everyone else reads copies.
type IssuerState struct {
	Issuer      string  `json:"issuer"`
	SuccessRate float64 `json:"success_rate"`
	LatencyMS   float64 `json:"latency_ms"`
	RetryProb   float64 `json:"retry_prob"`
	LastUpdated int64   `json:"last_updated"`
}

// Clip forces all parameters back into their valid ranges.
func (s *IssuerState) Clip() {
	s.SuccessRate = clamp(s.SuccessRate, 0, 1)
	s.LatencyMS = clamp(s.LatencyMS, MinLatencyMS, MaxLatencyMS)
	s.RetryProb = clamp(s.RetryProb, 0, MaxRetryProb)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
