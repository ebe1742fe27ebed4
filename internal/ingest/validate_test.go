package ingest

import (
	"testing"

	"github.com/payops/autopilot/internal/model"
)

func validTxn() model.Transaction {
	return model.Transaction{
		ID:          "txn-1",
		TimestampMS: 1_700_000_000_000,
		Issuer:      "HDFC",
		Method:      model.MethodUPI,
		Outcome:     model.Success,
		LatencyMS:   180,
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	if err := Validate(validTxn()); err != nil {
		t.Errorf("valid transaction rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.Transaction)
	}{
		{"missing id", func(txn *model.Transaction) { txn.ID = "" }},
		{"zero timestamp", func(txn *model.Transaction) { txn.TimestampMS = 0 }},
		{"missing issuer", func(txn *model.Transaction) { txn.Issuer = "" }},
		{"negative latency", func(txn *model.Transaction) { txn.LatencyMS = -1 }},
		{"negative retries", func(txn *model.Transaction) { txn.RetryCount = -2 }},
		{"unknown outcome", func(txn *model.Transaction) { txn.Outcome = model.Outcome(9) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txn := validTxn()
			tt.mutate(&txn)
			if err := Validate(txn); err == nil {
				t.Error("expected rejection")
			}
		})
	}
}
