package reason

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/payops/autopilot/internal/model"
	"github.com/payops/autopilot/internal/observe"
)

// Absolute thresholds that classify independently of baselines.
const (
	outageSuccessRate = 0.4 // issuer success below this is an outage
	retryStormRate    = 0.3 // retry rate above this is a storm
	systemicMinFlags  = 3   // issuers flagged for systemic classification

	// Magnitude guards on Z-flagged signals. A Z-score alone rides
	// sampling noise; the deviation must also be material before a
	// pattern is raised.
	degradedSuccessCeiling = 0.9 // success above this is not a degradation
	retryElevationFactor   = 2.0 // retry rate must at least double
	latencyElevationFactor = 1.2 // mean latency must rise 20%
)

// ClassifierConfig tunes the pattern mapping.
type ClassifierConfig struct {
	Threshold float64 // same tau as the anomaly detector
	SLAP95MS  float64 // p95 latency SLA; breach classifies latency_spike
}

// Classifier maps flagged signals and window aggregates onto the closed
// set of pattern families.
type Classifier struct {
	cfg ClassifierConfig
	log *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(cfg ClassifierConfig, log *slog.Logger) *Classifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2.0
	}
	if cfg.SLAP95MS <= 0 {
		cfg.SLAP95MS = 1500
	}
	return &Classifier{cfg: cfg, log: log.With("component", "classifier")}
}

// Classify runs the family rules in order. Outage beats degradation for
// the same issuer; a systemic flag replaces the individual global signal
// with one fleet-wide pattern.
func (c *Classifier) Classify(
	signals []Signal,
	issuerGroups map[model.Dimension]observe.Stats,
	globalStats observe.Stats,
	globalSignal *Signal,
	nowMS int64,
) []model.DetectedPattern {
	tau := c.cfg.Threshold
	var patterns []model.DetectedPattern
	flaggedIssuers := make(map[string]bool)

	// Absolute outage check runs even when the baseline hasn't flagged:
	// a 30% success issuer is an outage regardless of history.
	for dim, stats := range issuerGroups {
		if stats.Total >= observe.MinSample && stats.SuccessRate < outageSuccessRate {
			flaggedIssuers[dim.Value] = true
			patterns = append(patterns, model.DetectedPattern{
				Type:      model.IssuerOutage,
				Dimension: dim,
				Severity:  clamp01(1 - stats.SuccessRate/outageSuccessRate),
				Evidence: []model.Evidence{{
					Kind:        "statistical",
					Description: fmt.Sprintf("success rate %.1f%% below outage floor %.0f%%", stats.SuccessRate*100, outageSuccessRate*100),
					Value:       stats.SuccessRate,
					TimestampMS: nowMS,
					Source:      "classifier",
				}},
				DetectedAt: nowMS,
			})
		}
	}

	globalWeaklyNegative := (globalSignal != nil && globalSignal.Metric == MetricSuccess && globalSignal.Z < 0) ||
		(globalStats.Total >= observe.MinSample && globalStats.SuccessRate < 0.95)

	for _, sig := range signals {
		switch sig.Dimension.Kind {
		case model.DimIssuer:
			issuer := sig.Dimension.Value
			switch sig.Metric {
			case MetricSuccess:
				if sig.Z < -tau && sig.Value < degradedSuccessCeiling &&
					!hasPattern(patterns, model.IssuerOutage, sig.Dimension) {
					flaggedIssuers[issuer] = true
					if globalWeaklyNegative {
						patterns = append(patterns, newPattern(model.IssuerDegradation, sig, nowMS))
					} else {
						patterns = append(patterns, newPattern(model.LocalizedFailure, sig, nowMS))
					}
				}
			case MetricRetry:
				if (sig.Z > tau && sig.Value >= sig.Mean*retryElevationFactor) || sig.Value > retryStormRate {
					flaggedIssuers[issuer] = true
					patterns = append(patterns, newPattern(model.RetryStorm, sig, nowMS))
				}
			case MetricLatency:
				if (sig.Z > tau && sig.Value >= sig.Mean*latencyElevationFactor) ||
					sig.Stats.P95LatencyMS > c.cfg.SLAP95MS {
					patterns = append(patterns, newPattern(model.LatencySpike, sig, nowMS))
				}
			}
		case model.DimMethod:
			if sig.Metric == MetricSuccess && sig.Z < -tau && sig.Value < degradedSuccessCeiling {
				patterns = append(patterns, newPattern(model.MethodFatigue, sig, nowMS))
			}
		}
	}

	// Global retry storm: absolute rate breach without a per-issuer flag.
	if globalStats.Total >= observe.MinSample && globalStats.RetryRate > retryStormRate &&
		!hasAnyPattern(patterns, model.RetryStorm) {
		patterns = append(patterns, model.DetectedPattern{
			Type:      model.RetryStorm,
			Dimension: model.Global,
			Severity:  clamp01(globalStats.RetryRate / (2 * retryStormRate)),
			Evidence: []model.Evidence{{
				Kind:        "statistical",
				Description: fmt.Sprintf("global retry rate %.1f%% above storm threshold %.0f%%", globalStats.RetryRate*100, retryStormRate*100),
				Value:       globalStats.RetryRate,
				TimestampMS: nowMS,
				Source:      "classifier",
			}},
			DetectedAt: nowMS,
		})
	}

	// Fleet-wide classification for a negative global success flag.
	if globalSignal != nil && globalSignal.Metric == MetricSuccess &&
		globalSignal.Z < -tau && globalSignal.Value < degradedSuccessCeiling {
		family := model.LocalizedFailure
		if len(flaggedIssuers) >= systemicMinFlags {
			family = model.SystemicFailure
		}
		patterns = append(patterns, newPattern(family, *globalSignal, nowMS))
	}

	for _, p := range patterns {
		c.log.Info("pattern classified",
			"type", p.Type.String(),
			"dimension", p.Dimension.Key(),
			"severity", p.Severity)
	}
	return patterns
}

func newPattern(family model.PatternType, sig Signal, nowMS int64) model.DetectedPattern {
	return model.DetectedPattern{
		Type:      family,
		Dimension: sig.Dimension,
		Severity:  clamp01(math.Abs(sig.Z) / 4),
		Evidence: []model.Evidence{
			{
				Kind: "statistical",
				Description: fmt.Sprintf("%s z=%.2f (value=%.3f, baseline=%.3f, std=%.4f)",
					sig.Metric.String(), sig.Z, sig.Value, sig.Mean, sig.Std),
				Value:       sig.Z,
				TimestampMS: nowMS,
				Source:      "anomaly_detector",
			},
			{
				Kind:        "statistical",
				Description: fmt.Sprintf("sample size %d", sig.Stats.Total),
				Value:       float64(sig.Stats.Total),
				TimestampMS: nowMS,
				Source:      "window",
			},
		},
		DetectedAt: nowMS,
	}
}

func hasPattern(patterns []model.DetectedPattern, family model.PatternType, dim model.Dimension) bool {
	for _, p := range patterns {
		if p.Type == family && p.Dimension == dim {
			return true
		}
	}
	return false
}

func hasAnyPattern(patterns []model.DetectedPattern, family model.PatternType) bool {
	for _, p := range patterns {
		if p.Type == family {
			return true
		}
	}
	return false
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
