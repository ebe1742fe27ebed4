package approval

import (
	"testing"

	"github.com/payops/autopilot/internal/model"
)

func testRequest(id string, cycle int64) Request {
	return Request{
		ID:      id,
		CycleID: cycle,
		Option: model.InterventionOption{
			Type:        model.RerouteTraffic,
			Target:      "issuer:HDFC",
			BlastRadius: 0.5,
		},
		Rationale: "escalated: blast radius above autonomy bound",
		Reason:    "blast radius 0.50 above autonomy bound 0.30 with confidence 0.40 below 0.70",
	}
}

func TestParkAndList(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := s.Park(testRequest("req-1", 5)); err != nil {
		t.Fatalf("Park: %v", err)
	}
	if err := s.Park(testRequest("req-2", 6)); err != nil {
		t.Fatalf("Park: %v", err)
	}

	all, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	for _, req := range all {
		if req.Status != StatusPending {
			t.Errorf("parked request status = %s, want pending", req.Status)
		}
		if req.CreatedAt == "" {
			t.Error("created_at must be stamped")
		}
	}
}

func TestResolveRemovesFromPending(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	s.Park(testRequest("req-1", 5))
	s.Park(testRequest("req-2", 6))

	if err := s.Resolve("req-1", StatusApproved); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	pending, err := s.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "req-2" {
		t.Errorf("pending = %+v, want only req-2", pending)
	}
}

func TestResolveUnknownID(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	if err := s.Resolve("absent", StatusDenied); err == nil {
		t.Error("resolving an unknown id must error")
	}
}
