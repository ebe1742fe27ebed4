package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`
agent:
  anomaly_threshold: 2.5
  min_action_frequency_cycles: 4
simulation:
  time_scale: 10
  seed: 42
`), 0o600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.AnomalyThreshold != 2.5 {
		t.Errorf("overridden threshold = %v", cfg.Agent.AnomalyThreshold)
	}
	if cfg.Agent.MinActionFrequencyCycles != 4 {
		t.Errorf("overridden N = %d", cfg.Agent.MinActionFrequencyCycles)
	}
	// Untouched keys keep their defaults.
	if cfg.Generator.TransactionRate != 20 {
		t.Errorf("default rate lost: %v", cfg.Generator.TransactionRate)
	}
	if cfg.Simulation.Seed == nil || *cfg.Simulation.Seed != 42 {
		t.Errorf("seed = %v", cfg.Simulation.Seed)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Drift.Theta = 5
	cfg.Agent.AnomalyThreshold = -1
	cfg.Generator.TransactionRate = 0
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid config must not validate")
	}
	for _, want := range []string{"drift.theta", "anomaly_threshold", "transaction_rate", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error must mention %s: %v", want, err)
		}
	}
}

func TestValidateIssuerRanges(t *testing.T) {
	cfg := Default()
	cfg.Issuers["BAD"] = IssuerConfig{InitialSuccess: 1.5, InitialLatency: 10, InitialRetryProb: 0.9}
	if err := cfg.Validate(); err == nil {
		t.Fatal("out-of-range issuer must be rejected")
	}

	cfg = Default()
	cfg.Issuers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty issuer set must be rejected")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing explicit config path must error")
	}
}
