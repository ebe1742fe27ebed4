package audit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/payops/autopilot/internal/model"
)

func tempLog(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "audit.jsonl")
}

func actionEntry(cycle int64) Entry {
	opt := model.InterventionOption{Type: model.SuppressPath, Target: "issuer:ICICI"}
	return Entry{
		CycleID:   cycle,
		Decision:  "action",
		Option:    &opt,
		Rationale: "selected suppress_path",
		NRV:       1200.5,
	}
}

func TestChainVerifies(t *testing.T) {
	path := tempLog(t)
	log, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := int64(1); i <= 5; i++ {
		if err := log.Record(actionEntry(i)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	log.Close()

	result, err := Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Intact() || result.Entries != 5 {
		t.Errorf("verify = %+v, want 5 intact entries", result)
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	path := tempLog(t)
	log, _ := Open(path)
	log.Record(actionEntry(1))
	log.Close()

	// Reopening must recover the chain tail, not restart from genesis.
	log, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	log.Record(actionEntry(2))
	log.Close()

	result, err := Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Intact() || result.Entries != 2 {
		t.Errorf("verify after reopen = %+v", result)
	}
}

func TestTamperDetected(t *testing.T) {
	path := tempLog(t)
	log, _ := Open(path)
	log.Record(actionEntry(1))
	log.Record(actionEntry(2))
	log.Record(actionEntry(3))
	log.Close()

	data, _ := os.ReadFile(path)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	// Rewrite the middle entry's NRV; the third line's prev_hash no longer
	// matches.
	lines[1] = strings.Replace(lines[1], "1200.5", "9999.9", 1)
	os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)

	result, err := Verify(path)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Intact() {
		t.Error("tampered log must not verify")
	}
}

func TestSummarize(t *testing.T) {
	entries := []Entry{
		actionEntry(1),
		{CycleID: 2, Decision: "no_action", Rationale: "nrv <= 0"},
		{CycleID: 3, Decision: "no_action"},
		func() Entry {
			e := actionEntry(4)
			e.MinFreqTriggered = true
			e.GuardrailOutcome = "requires_approval"
			return e
		}(),
	}
	s := Summarize(entries)
	if s.Actions != 2 || s.NoActions != 2 || s.MinFreq != 1 || s.Escalations != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.ByActionType["suppress_path"] != 2 {
		t.Errorf("by-type = %+v", s.ByActionType)
	}
}
