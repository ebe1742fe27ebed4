package telemetry

import "github.com/payops/autopilot/internal/history"

// InterventionEvent is one row of the dashboard's intervention table.
type InterventionEvent struct {
	Action string `json:"action"`
	Target string `json:"target"`
	Reason string `json:"reason"`
	TS     string `json:"ts"`
	Result string `json:"result"`
	Rate   string `json:"rate"`
}

// Frame is the JSON object broadcast once per cycle. Reconnecting clients
// receive the next frame; there is no replay.
type Frame struct {
	Timestamp           int64                 `json:"timestamp"`
	ThinkingLog         []string              `json:"thinking_log"`
	TotalVolume         int64                 `json:"total_volume"`
	FailRate            float64               `json:"fail_rate"`
	ActiveGateway       string                `json:"active_gateway"`
	SuccessSeries       []float64             `json:"success_series"`
	LatencySeries       []float64             `json:"latency_series"`
	NRV                 float64               `json:"nrv"`
	Confidence          float64               `json:"confidence"`
	InterventionHistory []InterventionEvent   `json:"intervention_history"`
	SafetyMetrics       history.SafetyMetrics `json:"safety_metrics"`
}
