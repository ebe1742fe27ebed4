// Package reason turns window aggregates into flagged anomalies, pattern
// classifications, and competing root-cause hypotheses. It trades precision
// for guaranteed cadence: pure Z-scores against rolling baselines, no model
// fitting.
package reason

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/payops/autopilot/internal/model"
	"github.com/payops/autopilot/internal/observe"
)

// Metric identifies which baseline dimension a signal scored against.
type Metric int

const (
	MetricSuccess Metric = iota
	MetricLatency
	MetricRetry
)

// String returns the wire name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricSuccess:
		return "success_rate"
	case MetricLatency:
		return "latency"
	case MetricRetry:
		return "retry_rate"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Signal is one flagged deviation: a dimension whose metric moved more
// than the threshold from its baseline.
type Signal struct {
	Dimension model.Dimension
	Metric    Metric
	Z         float64
	Value     float64
	Mean      float64
	Std       float64
	Stats     observe.Stats
}

// Detector computes Z-scores for every dimension slice against its
// rolling baseline and flags |z| > threshold.
type Detector struct {
	threshold float64
	log       *slog.Logger
}

// NewDetector creates a detector with the given threshold (default 2.0).
func NewDetector(threshold float64, log *slog.Logger) *Detector {
	if threshold <= 0 {
		threshold = 2.0
	}
	return &Detector{threshold: threshold, log: log.With("component", "anomaly")}
}

// Threshold returns the configured flag threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// SetThreshold updates the flag threshold (live config reload).
func (d *Detector) SetThreshold(t float64) {
	if t > 0 {
		d.threshold = t
	}
}

// Scan flags deviations across the given dimension slices. Under-sampled
// slices and unready baselines are suppressed, never scored: a thin slice
// must not raise a pattern.
func (d *Detector) Scan(groups map[model.Dimension]observe.Stats, baselines *observe.Manager) []Signal {
	dims := make([]model.Dimension, 0, len(groups))
	for dim := range groups {
		dims = append(dims, dim)
	}
	sort.Slice(dims, func(i, j int) bool { return dims[i].Key() < dims[j].Key() })

	var signals []Signal
	for _, dim := range dims {
		stats := groups[dim]
		if stats.Total < observe.MinSample {
			continue
		}
		b := baselines.Get(dim)
		if b == nil || !b.Ready() {
			continue
		}

		checks := []struct {
			metric Metric
			value  float64
			mean   float64
			std    float64
		}{
			{MetricSuccess, stats.SuccessRate, b.SuccessMean, b.SuccessStd()},
			{MetricLatency, stats.AvgLatencyMS, b.LatencyMean, b.LatencyStd()},
			{MetricRetry, stats.RetryRate, b.RetryMean, b.RetryStd()},
		}
		for _, c := range checks {
			z := (c.value - c.mean) / c.std
			if math.Abs(z) <= d.threshold {
				continue
			}
			signals = append(signals, Signal{
				Dimension: dim,
				Metric:    c.metric,
				Z:         z,
				Value:     c.value,
				Mean:      c.mean,
				Std:       c.std,
				Stats:     stats,
			})
			d.log.Debug("anomaly flagged",
				"dimension", dim.Key(),
				"metric", c.metric.String(),
				"z", z,
				"value", c.value,
				"baseline", c.mean)
		}
	}
	return signals
}
