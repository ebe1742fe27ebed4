package scenario

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/payops/autopilot/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// quietConfig is a fleet with process noise turned down far enough that
// only injected faults can raise patterns.
func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Drift.Sigma = 0.005
	cfg.Drift.SigmaLatency = 1
	cfg.Drift.SigmaRetry = 0.002
	cfg.Drift.RetrySpikeProb = 0
	cfg.Generator.TransactionRate = 100
	cfg.Telemetry.Enabled = false
	cfg.Paths = config.PathsConfig{}
	return cfg
}

func floatPtr(f float64) *float64 { return &f }

func TestHealthyIdleForcesAlertEverySixthCycle(t *testing.T) {
	s := &Scenario{
		Name:   "healthy-idle",
		Cycles: 12,
		Seed:   11,
	}
	result, err := Run(s, quietConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, rec := range result.Cycles {
		switch rec.Cycle {
		case 6, 12:
			if !rec.Acted || rec.Action != "alert_ops" {
				t.Errorf("cycle %d: want forced alert_ops, got %+v", rec.Cycle, rec)
			}
			if !rec.MinFreq {
				t.Errorf("cycle %d: min_freq not recorded", rec.Cycle)
			}
			if rec.NRV > 0 {
				t.Errorf("cycle %d: forced alert should have NRV <= 0, got %v", rec.Cycle, rec.NRV)
			}
		default:
			if rec.Acted {
				t.Errorf("cycle %d: healthy idle must be NO-ACTION, got %+v", rec.Cycle, rec)
			}
			if len(rec.Patterns) != 0 {
				t.Errorf("cycle %d: healthy idle raised patterns %v", rec.Cycle, rec.Patterns)
			}
		}
	}
}

func TestSingleIssuerOutage(t *testing.T) {
	s := &Scenario{
		Name:   "single-issuer-outage",
		Cycles: 5,
		Seed:   7,
		Pins: []Pin{
			{Issuer: "ICICI", SuccessRate: floatPtr(0.3), FromCycle: 1, ToCycle: 5},
		},
		Expect: []Expectation{
			{Pattern: "issuer_outage", ByCycle: 3},
			{Action: "suppress_path", ByCycle: 3},
		},
	}
	result, err := Run(s, quietConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("expectations failed: %+v", result.Results)
	}
	// The suppression decision carries positive economic value.
	for _, rec := range result.Cycles {
		if rec.Action == "suppress_path" && rec.NRV <= 0 {
			t.Errorf("cycle %d: suppress_path selected with NRV %v", rec.Cycle, rec.NRV)
		}
	}
}

func TestRetryStorm(t *testing.T) {
	cfg := quietConfig()
	// Storm confidence builds over cycles; allow autonomous action sooner.
	cfg.Agent.MinConfidenceForAction = 0.3

	s := &Scenario{
		Name:   "retry-storm",
		Cycles: 4,
		Seed:   5,
		Global: []GlobalPin{
			{RetryProb: floatPtr(0.35), FromCycle: 1},
		},
		Expect: []Expectation{
			{Pattern: "retry_storm", ByCycle: 2},
			{Action: "reduce_retry_attempts", ByCycle: 2},
		},
	}
	result, err := Run(s, cfg, discardLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("expectations failed: %+v", result.Results)
	}
}

func TestLatencySpike(t *testing.T) {
	s := &Scenario{
		Name:   "latency-spike",
		Cycles: 4,
		Seed:   9,
		Pins: []Pin{
			// Cycle 1 seeds the baseline; the spike starts at cycle 2.
			{Issuer: "AXIS", LatencyMS: floatPtr(1900), FromCycle: 2},
		},
		Expect: []Expectation{
			{Pattern: "latency_spike", ByCycle: 3},
			{Action: "reroute_traffic", ByCycle: 3},
		},
	}
	result, err := Run(s, quietConfig(), discardLogger())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Failed != 0 {
		t.Errorf("expectations failed: %+v", result.Results)
	}
}

func TestLoadRejectsZeroCycles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	os.WriteFile(path, []byte("name: bad\ncycles: 0\n"), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("zero-cycle scenario must be rejected")
	}
}

func TestLoadParsesScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	os.WriteFile(path, []byte(`
name: outage
cycles: 5
seed: 7
pins:
  - issuer: ICICI
    success_rate: 0.3
    from_cycle: 1
    to_cycle: 5
expect:
  - pattern: issuer_outage
    by_cycle: 3
`), 0o600)

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "outage" || len(s.Pins) != 1 || len(s.Expect) != 1 {
		t.Errorf("parsed scenario = %+v", s)
	}
	if s.Pins[0].SuccessRate == nil || *s.Pins[0].SuccessRate != 0.3 {
		t.Errorf("pin success rate = %v", s.Pins[0].SuccessRate)
	}
}
