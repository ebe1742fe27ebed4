package ingest

import (
	"fmt"

	"github.com/payops/autopilot/internal/model"
)

// Validate rejects malformed externally sourced transactions. Invalid
// records are dropped and counted; the stream continues.
func Validate(txn model.Transaction) error {
	if txn.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if txn.TimestampMS <= 0 {
		return fmt.Errorf("timestamp must be positive, got %d", txn.TimestampMS)
	}
	if txn.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	if txn.LatencyMS < 0 {
		return fmt.Errorf("latency must be >= 0, got %d", txn.LatencyMS)
	}
	if txn.RetryCount < 0 {
		return fmt.Errorf("retry count must be >= 0, got %d", txn.RetryCount)
	}
	switch txn.Outcome {
	case model.Success, model.SoftFail, model.HardFail:
	default:
		return fmt.Errorf("unknown outcome %d", txn.Outcome)
	}
	return nil
}
