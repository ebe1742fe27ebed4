package feedback

import (
	"log/slog"
	"math"
	"testing"

	"github.com/payops/autopilot/internal/model"
)

func newTestController() *Controller {
	return New(45_000, slog.New(slog.DiscardHandler))
}

func suppressOption(issuer string, durationMS int64) model.InterventionOption {
	return model.InterventionOption{
		Type:       model.SuppressPath,
		Target:     "issuer:" + issuer,
		Params:     model.InterventionParams{DurationMS: durationMS},
		Reversible: true,
	}
}

func TestApplyDefaultsDuration(t *testing.T) {
	c := newTestController()
	a := c.Apply(model.InterventionOption{Type: model.AlertOps, Target: "ops_team"}, 1000, 0.95)
	if a.EndMS != 1000+DefaultDurationMS {
		t.Errorf("end_ms = %d, want %d", a.EndMS, 1000+DefaultDurationMS)
	}
	if a.EndMS <= a.StartMS {
		t.Error("end_ms must be after start_ms")
	}
}

func TestSuppressMultipliers(t *testing.T) {
	c := newTestController()
	c.Apply(suppressOption("ICICI", 60_000), 0, 0.95)

	if got := c.SuccessMultiplier("ICICI", 1000); got != 0.1 {
		t.Errorf("success multiplier = %v, want 0.1", got)
	}
	if got := c.VolumeMultiplier("ICICI", 1000); got != 0.1 {
		t.Errorf("volume multiplier = %v, want 0.1", got)
	}
	if got := c.SuccessMultiplier("HDFC", 1000); got != 1.0 {
		t.Errorf("untargeted issuer multiplier = %v, want 1.0", got)
	}
}

func TestOverlappingInterventionsCompose(t *testing.T) {
	c := newTestController()
	c.Apply(suppressOption("ICICI", 60_000), 0, 0.95)
	c.Apply(model.InterventionOption{
		Type:   model.RerouteTraffic,
		Target: "issuer:ICICI",
		Params: model.InterventionParams{DurationMS: 60_000},
	}, 0, 0.95)

	want := 0.1 * 0.3
	if got := c.VolumeMultiplier("ICICI", 1000); math.Abs(got-want) > 1e-12 {
		t.Errorf("composed volume multiplier = %v, want %v", got, want)
	}
}

func TestRetryMultiplier(t *testing.T) {
	c := newTestController()
	c.Apply(model.InterventionOption{
		Type:   model.ReduceRetryAttempts,
		Target: "system",
		Params: model.InterventionParams{DurationMS: 60_000},
	}, 0, 0.95)

	if got := c.RetryMultiplier(1000); got != 0.5 {
		t.Errorf("retry multiplier = %v, want 0.5", got)
	}
}

func TestTickExpiresAndRampsBack(t *testing.T) {
	c := newTestController()
	c.Apply(suppressOption("ICICI", 10_000), 0, 0.95)

	expired := c.Tick(5_000)
	if len(expired) != 0 {
		t.Fatalf("nothing should expire at t=5s, got %d", len(expired))
	}

	expired = c.Tick(10_000)
	if len(expired) != 1 {
		t.Fatalf("expected 1 expiry at deadline, got %d", len(expired))
	}
	if len(c.Active()) != 0 {
		t.Fatal("expired intervention still active")
	}

	// Mid-ramp: multiplier strictly between the base and 1.0.
	mid := c.SuccessMultiplier("ICICI", 10_000+22_500)
	if mid <= 0.1 || mid >= 1.0 {
		t.Errorf("mid-ramp multiplier = %v, want in (0.1, 1.0)", mid)
	}

	// After the ramp window the multiplier is exactly 1.0 again.
	c.Tick(10_000 + 45_000)
	if got := c.SuccessMultiplier("ICICI", 10_000+45_000+1); got != 1.0 {
		t.Errorf("post-ramp multiplier = %v, want 1.0", got)
	}
}

func TestRampIsMonotonic(t *testing.T) {
	c := newTestController()
	c.Apply(suppressOption("ICICI", 10_000), 0, 0.95)
	c.Tick(10_000)

	prev := 0.0
	for _, offset := range []int64{0, 5_000, 15_000, 30_000, 44_999} {
		m := c.VolumeMultiplier("ICICI", 10_000+offset)
		if m < prev {
			t.Fatalf("ramp not monotonic: %v after %v", m, prev)
		}
		prev = m
	}
}

func TestRollbackOnSuccessRegression(t *testing.T) {
	c := newTestController()
	opt := suppressOption("ICICI", 300_000)
	opt.Rollbacks = []model.RollbackCondition{{Metric: "global_success_rate", Threshold: 0.10}}
	c.Apply(opt, 0, 0.95)

	if rb := c.CheckRollbacks(0.90); len(rb) != 0 {
		t.Fatalf("5%% regression should not fire a 10%% condition, got %d", len(rb))
	}
	rb := c.CheckRollbacks(0.80)
	if len(rb) != 1 {
		t.Fatalf("expected rollback on 15%% regression, got %d", len(rb))
	}
	if len(c.Active()) != 0 {
		t.Error("rolled-back intervention still active")
	}
	// Rollback ends the effect immediately, no ramp.
	if got := c.SuccessMultiplier("ICICI", 1); got != 1.0 {
		t.Errorf("post-rollback multiplier = %v, want 1.0", got)
	}
}

func TestRestoreKeepsDeadlines(t *testing.T) {
	c := newTestController()
	c.Apply(suppressOption("ICICI", 120_000), 0, 0.95)
	saved := c.Active()

	restored := newTestController()
	restored.Restore(saved)
	got := restored.Active()
	if len(got) != 1 || got[0].EndMS != 120_000 {
		t.Fatalf("restore lost deadline: %+v", got)
	}
}
