package audit

import "github.com/payops/autopilot/internal/model"

// Entry is one line in the hash-chained JSONL audit log. All fields are
// structs (no map[string]any) to guarantee deterministic json.Marshal
// field order for reproducible hashing.
type Entry struct {
	Timestamp        string                    `json:"ts"`
	CycleID          int64                     `json:"cycle_id"`
	Decision         string                    `json:"decision"` // "action" | "no_action"
	Option           *model.InterventionOption `json:"option,omitempty"`
	Rationale        string                    `json:"rationale"`
	GuardrailOutcome string                    `json:"guardrail_outcome,omitempty"`
	NRV              float64                   `json:"nrv"`
	MinFreqTriggered bool                      `json:"min_freq_triggered"`
	Severity         string                    `json:"severity,omitempty"` // set on rollback escalations
	PrevHash         string                    `json:"prev_hash"`
}
