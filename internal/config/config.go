// Package config loads and validates the agent's YAML configuration.
// Loading starts from defaults and overlays only the keys present in the
// file; validation collects every range violation before rejecting the
// run.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/payops/autopilot/internal/alert"
	"github.com/payops/autopilot/internal/ingest"
)

// DriftOverride carries per-issuer drift parameter overrides.
type DriftOverride struct {
	Theta       *float64 `yaml:"theta"`
	Sigma       *float64 `yaml:"sigma"`
	MeanSuccess *float64 `yaml:"mean_success"`
}

// DriftConfig is the stochastic drift section.
type DriftConfig struct {
	Theta       float64 `yaml:"theta"`
	Sigma       float64 `yaml:"sigma"`
	MeanSuccess float64 `yaml:"mean_success"`
	MeanLatency float64 `yaml:"mean_latency"`
	MeanRetry   float64 `yaml:"mean_retry"`

	SigmaLatency        float64 `yaml:"sigma_latency"`
	SigmaRetry          float64 `yaml:"sigma_retry"`
	RetrySpikeProb      float64 `yaml:"retry_spike_prob"`
	RetrySpikeMagnitude float64 `yaml:"retry_spike_magnitude"`
	RetryDecayRate      float64 `yaml:"retry_decay_rate"`

	PerIssuer map[string]DriftOverride `yaml:"per_issuer"`
}

// IssuerConfig is one issuer's initial state.
type IssuerConfig struct {
	InitialSuccess   float64 `yaml:"initial_success"`
	InitialLatency   float64 `yaml:"initial_latency"`
	InitialRetryProb float64 `yaml:"initial_retry_prob"`
}

// GeneratorConfig is the transaction generator section.
type GeneratorConfig struct {
	TransactionRate float64            `yaml:"transaction_rate"`
	RateSchedule    string             `yaml:"rate_schedule"` // constant | sinusoidal | burst
	Amplitude       float64            `yaml:"amplitude"`
	PeriodS         float64            `yaml:"period_seconds"`
	BurstRate       float64            `yaml:"burst_rate"`
	BurstStartS     float64            `yaml:"burst_start_seconds"`
	BurstDurS       float64            `yaml:"burst_duration_seconds"`
	BufferSize      int                `yaml:"buffer_size"`
	PSoft           float64            `yaml:"p_soft"`
	LatencyCV       float64            `yaml:"latency_cv"`
	MaxRetries      int                `yaml:"max_retries"`
	MethodMix       map[string]float64 `yaml:"method_mix"`
	IssuerWeights   map[string]float64 `yaml:"issuer_weights"`
}

// AgentConfig is the reasoning/decision section.
type AgentConfig struct {
	CycleIntervalS           float64  `yaml:"cycle_interval"`
	WindowDurationMS         int64    `yaml:"window_duration_ms"`
	AnomalyThreshold         float64  `yaml:"anomaly_threshold"`
	BaselineAlpha            float64  `yaml:"baseline_alpha"`
	SLAP95MS                 float64  `yaml:"sla_p95_ms"`
	TauUncertain             float64  `yaml:"tau_uncertain"`
	MinActionFrequencyCycles int      `yaml:"min_action_frequency_cycles"`
	MinConfidenceForAction   float64  `yaml:"min_confidence_for_action"`
	MaxBlastRadiusAutonomy   float64  `yaml:"max_blast_radius_for_autonomy"`
	MaxRetryAdjustment       int      `yaml:"max_retry_adjustment"`
	MaxSuppressionDurationMS int64    `yaml:"max_suppression_duration_ms"`
	ProtectedTargets         []string `yaml:"protected_targets"`
	AvgTicketValue           float64  `yaml:"avg_ticket_value"`
}

// SimulationConfig is the run-shape section.
type SimulationConfig struct {
	TimeScale       float64 `yaml:"time_scale"`
	DurationSeconds float64 `yaml:"duration_seconds"`
	Seed            *int64  `yaml:"seed"`
	TickIntervalMS  int64   `yaml:"tick_interval_ms"`
}

// TelemetryConfig is the dashboard socket section.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig selects slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// PathsConfig locates the on-disk stores.
type PathsConfig struct {
	Snapshot    string `yaml:"snapshot"`
	AuditLog    string `yaml:"audit_log"`
	HistoryDB   string `yaml:"history_db"`
	ApprovalDir string `yaml:"approval_dir"`
}

// Config is the full configuration tree.
type Config struct {
	Drift      DriftConfig             `yaml:"drift"`
	Issuers    map[string]IssuerConfig `yaml:"issuers"`
	Generator  GeneratorConfig         `yaml:"generator"`
	Agent      AgentConfig             `yaml:"agent"`
	Simulation SimulationConfig        `yaml:"simulation"`
	Telemetry  TelemetryConfig         `yaml:"telemetry"`
	Broker     ingest.Config           `yaml:"broker"`
	Alerts     alert.Config            `yaml:"alerts"`
	Logging    LoggingConfig           `yaml:"logging"`
	Paths      PathsConfig             `yaml:"paths"`
}

// Default returns the built-in configuration: four issuers, 20 txn/s,
// 12 s cycles, telemetry on :8765.
func Default() *Config {
	return &Config{
		Drift: DriftConfig{
			Theta:               0.1,
			Sigma:               0.05,
			MeanSuccess:         0.95,
			MeanLatency:         200,
			MeanRetry:           0.05,
			SigmaLatency:        10,
			SigmaRetry:          0.02,
			RetrySpikeProb:      0.01,
			RetrySpikeMagnitude: 0.2,
			RetryDecayRate:      0.99,
		},
		Issuers: map[string]IssuerConfig{
			"HDFC":  {InitialSuccess: 0.95, InitialLatency: 180, InitialRetryProb: 0.05},
			"ICICI": {InitialSuccess: 0.94, InitialLatency: 200, InitialRetryProb: 0.05},
			"AXIS":  {InitialSuccess: 0.96, InitialLatency: 170, InitialRetryProb: 0.04},
			"SBI":   {InitialSuccess: 0.93, InitialLatency: 220, InitialRetryProb: 0.06},
		},
		Generator: GeneratorConfig{
			TransactionRate: 20,
			RateSchedule:    "constant",
			BufferSize:      1000,
			PSoft:           0.7,
			LatencyCV:       0.2,
			MaxRetries:      10,
			MethodMix:       map[string]float64{"card": 0.5, "upi": 0.3, "wallet": 0.2},
		},
		Agent: AgentConfig{
			CycleIntervalS:           12,
			WindowDurationMS:         300_000,
			AnomalyThreshold:         2.0,
			BaselineAlpha:            0.1,
			SLAP95MS:                 1500,
			TauUncertain:             0.5,
			MinActionFrequencyCycles: 6,
			MinConfidenceForAction:   0.7,
			MaxBlastRadiusAutonomy:   0.3,
			MaxRetryAdjustment:       5,
			MaxSuppressionDurationMS: 900_000,
			AvgTicketValue:           100,
		},
		Simulation: SimulationConfig{
			TimeScale:      1.0,
			TickIntervalMS: 100,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
			Addr:    ":8765",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Paths: PathsConfig{
			Snapshot:    ".autopilot/state.json",
			AuditLog:    ".autopilot/audit.jsonl",
			HistoryDB:   ".autopilot/history.db",
			ApprovalDir: ".autopilot/approvals",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate collects every range violation. A non-nil error rejects the
// run; there is no partial start.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if c.Drift.Theta < 0 || c.Drift.Theta > 1 {
		add("drift.theta must be in [0,1], got %v", c.Drift.Theta)
	}
	if c.Drift.Sigma < 0 {
		add("drift.sigma must be >= 0, got %v", c.Drift.Sigma)
	}
	if c.Drift.MeanSuccess < 0 || c.Drift.MeanSuccess > 1 {
		add("drift.mean_success must be in [0,1], got %v", c.Drift.MeanSuccess)
	}
	if c.Drift.MeanLatency < 50 || c.Drift.MeanLatency > 2000 {
		add("drift.mean_latency must be in [50,2000], got %v", c.Drift.MeanLatency)
	}
	if c.Drift.MeanRetry < 0 || c.Drift.MeanRetry > 0.5 {
		add("drift.mean_retry must be in [0,0.5], got %v", c.Drift.MeanRetry)
	}
	for name, o := range c.Drift.PerIssuer {
		if o.Theta != nil && (*o.Theta < 0 || *o.Theta > 1) {
			add("drift.per_issuer.%s.theta must be in [0,1], got %v", name, *o.Theta)
		}
		if o.Sigma != nil && *o.Sigma < 0 {
			add("drift.per_issuer.%s.sigma must be >= 0, got %v", name, *o.Sigma)
		}
		if o.MeanSuccess != nil && (*o.MeanSuccess < 0 || *o.MeanSuccess > 1) {
			add("drift.per_issuer.%s.mean_success must be in [0,1], got %v", name, *o.MeanSuccess)
		}
	}

	if len(c.Issuers) == 0 {
		add("at least one issuer must be configured")
	}
	for name, issuer := range c.Issuers {
		if issuer.InitialSuccess < 0 || issuer.InitialSuccess > 1 {
			add("issuers.%s.initial_success must be in [0,1], got %v", name, issuer.InitialSuccess)
		}
		if issuer.InitialLatency < 50 || issuer.InitialLatency > 2000 {
			add("issuers.%s.initial_latency must be in [50,2000], got %v", name, issuer.InitialLatency)
		}
		if issuer.InitialRetryProb < 0 || issuer.InitialRetryProb > 0.5 {
			add("issuers.%s.initial_retry_prob must be in [0,0.5], got %v", name, issuer.InitialRetryProb)
		}
	}

	if c.Generator.TransactionRate <= 0 {
		add("generator.transaction_rate must be > 0, got %v", c.Generator.TransactionRate)
	}
	if c.Generator.BufferSize <= 0 {
		add("generator.buffer_size must be > 0, got %d", c.Generator.BufferSize)
	}
	if c.Generator.PSoft < 0 || c.Generator.PSoft > 1 {
		add("generator.p_soft must be in [0,1], got %v", c.Generator.PSoft)
	}
	if c.Generator.MaxRetries <= 0 {
		add("generator.max_retries must be > 0, got %d", c.Generator.MaxRetries)
	}

	if c.Agent.CycleIntervalS <= 0 {
		add("agent.cycle_interval must be > 0, got %v", c.Agent.CycleIntervalS)
	}
	if c.Agent.WindowDurationMS <= 0 {
		add("agent.window_duration_ms must be > 0, got %d", c.Agent.WindowDurationMS)
	}
	if c.Agent.AnomalyThreshold <= 0 {
		add("agent.anomaly_threshold must be > 0, got %v", c.Agent.AnomalyThreshold)
	}
	if c.Agent.BaselineAlpha <= 0 || c.Agent.BaselineAlpha >= 1 {
		add("agent.baseline_alpha must be in (0,1), got %v", c.Agent.BaselineAlpha)
	}
	if c.Agent.MinActionFrequencyCycles <= 0 {
		add("agent.min_action_frequency_cycles must be > 0, got %d", c.Agent.MinActionFrequencyCycles)
	}
	if c.Agent.MinConfidenceForAction < 0 || c.Agent.MinConfidenceForAction > 1 {
		add("agent.min_confidence_for_action must be in [0,1], got %v", c.Agent.MinConfidenceForAction)
	}
	if c.Agent.MaxBlastRadiusAutonomy < 0 || c.Agent.MaxBlastRadiusAutonomy > 1 {
		add("agent.max_blast_radius_for_autonomy must be in [0,1], got %v", c.Agent.MaxBlastRadiusAutonomy)
	}

	if c.Simulation.TimeScale <= 0 {
		add("simulation.time_scale must be > 0, got %v", c.Simulation.TimeScale)
	}
	if c.Simulation.TickIntervalMS <= 0 {
		add("simulation.tick_interval_ms must be > 0, got %d", c.Simulation.TickIntervalMS)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
