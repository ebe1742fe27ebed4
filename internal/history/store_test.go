package history

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := openTestStore(t)
	for i, r := range []Record{
		{ID: "a", Action: "suppress_path", Target: "issuer:ICICI", Reason: "issuer_outage", TS: "10:00:01", Result: "active"},
		{ID: "b", Action: "alert_ops", Target: "ops_team", Reason: "minimum_action_frequency", TS: "10:02:00", Result: "active"},
	} {
		if err := s.Record(r); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	recent, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("len = %d, want 2", len(recent))
	}
}

func TestLifecycleTransition(t *testing.T) {
	s := openTestStore(t)
	s.Record(Record{ID: "a", Action: "suppress_path", Target: "issuer:ICICI", Reason: "issuer_outage", TS: "10:00:01", Result: "active"})

	if err := s.UpdateResult("a", "expired", "+4.1%"); err != nil {
		t.Fatalf("UpdateResult: %v", err)
	}
	recent, _ := s.Recent(1)
	if recent[0].Result != "expired" || recent[0].Rate != "+4.1%" {
		t.Errorf("transition lost: %+v", recent[0])
	}
}

func TestMetrics(t *testing.T) {
	s := openTestStore(t)
	s.Record(Record{ID: "a", Action: "suppress_path", Target: "issuer:ICICI", Reason: "r", TS: "t", Result: "expired"})
	s.Record(Record{ID: "b", Action: "reroute_traffic", Target: "issuer:AXIS", Reason: "r", TS: "t", Result: "rolled_back"})
	s.Record(Record{ID: "c", Action: "suppress_path", Target: "issuer:HDFC", Reason: "r", TS: "t", Result: "escalated"})
	s.RecordResponse(1_000, 3_000)
	s.RecordResponse(2_000, 6_000)

	m, err := s.Metrics()
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.RollbackRate < 0.33 || m.RollbackRate > 0.34 {
		t.Errorf("rollback rate = %v, want 1/3", m.RollbackRate)
	}
	if m.HumanEscalations != 1 {
		t.Errorf("escalations = %d, want 1", m.HumanEscalations)
	}
	if m.AvgResponseTimeS != 3.0 {
		t.Errorf("avg response = %v, want 3.0", m.AvgResponseTimeS)
	}
}

func TestMetricsEmptyStore(t *testing.T) {
	s := openTestStore(t)
	m, err := s.Metrics()
	if err != nil {
		t.Fatalf("Metrics on empty store: %v", err)
	}
	if m.RollbackRate != 0 || m.HumanEscalations != 0 || m.AvgResponseTimeS != 0 {
		t.Errorf("empty metrics = %+v, want zeros", m)
	}
}
