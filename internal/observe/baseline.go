package observe

import (
	"math"
	"sort"

	"github.com/payops/autopilot/internal/model"
)

// minStd floors the EWMA standard deviation so early, low-variance
// baselines do not turn every wobble into an infinite Z-score.
const minStd = 1e-3

// Baseline is the rolling EWMA state for one dimension key. It never
// resets within a run; continuity across cycles is what makes the
// Z-scores meaningful.
type Baseline struct {
	SuccessMean float64 `json:"success_mean"`
	SuccessVar  float64 `json:"success_var"`
	LatencyMean float64 `json:"latency_mean"`
	LatencyVar  float64 `json:"latency_var"`
	RetryMean   float64 `json:"retry_mean"`
	RetryVar    float64 `json:"retry_var"`

	// Samples counts the transactions that have contributed; anomaly
	// emission is gated on it reaching MinSample.
	Samples   int   `json:"samples"`
	UpdatedAt int64 `json:"updated_at"`

	seeded bool
}

func ewma(mean, variance, x, alpha float64) (float64, float64) {
	mean = (1-alpha)*mean + alpha*x
	d := x - mean
	variance = (1-alpha)*variance + alpha*d*d
	return mean, variance
}

func (b *Baseline) observe(s Stats, alpha float64, nowMS int64) {
	if !b.seeded {
		b.SuccessMean = s.SuccessRate
		b.LatencyMean = s.AvgLatencyMS
		b.RetryMean = s.RetryRate
		b.seeded = true
	} else {
		b.SuccessMean, b.SuccessVar = ewma(b.SuccessMean, b.SuccessVar, s.SuccessRate, alpha)
		b.LatencyMean, b.LatencyVar = ewma(b.LatencyMean, b.LatencyVar, s.AvgLatencyMS, alpha)
		b.RetryMean, b.RetryVar = ewma(b.RetryMean, b.RetryVar, s.RetryRate, alpha)
	}
	b.Samples += s.Total
	b.UpdatedAt = nowMS
}

// SuccessStd returns the floored standard deviation of the success rate.
func (b *Baseline) SuccessStd() float64 { return flooredStd(b.SuccessVar) }

// LatencyStd returns the floored standard deviation of the latency mean.
func (b *Baseline) LatencyStd() float64 { return flooredStd(b.LatencyVar) }

// RetryStd returns the floored standard deviation of the retry rate.
func (b *Baseline) RetryStd() float64 { return flooredStd(b.RetryVar) }

func flooredStd(variance float64) float64 {
	std := math.Sqrt(variance)
	if std < minStd {
		return minStd
	}
	return std
}

// Ready reports whether enough samples have accumulated for anomaly
// emission.
func (b *Baseline) Ready() bool {
	return b.Samples >= MinSample
}

// Manager owns the baselines, keyed by dimension key. Created lazily on
// first sighting of a key; never destroyed within a run.
type Manager struct {
	alpha     float64
	baselines map[string]*Baseline
}

// NewManager creates a manager with smoothing factor alpha (default 0.1).
func NewManager(alpha float64) *Manager {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.1
	}
	return &Manager{alpha: alpha, baselines: make(map[string]*Baseline)}
}

// Observe folds one cycle's stats for a dimension into its baseline.
func (m *Manager) Observe(d model.Dimension, s Stats, nowMS int64) {
	if s.Total == 0 {
		return
	}
	key := d.Key()
	b, ok := m.baselines[key]
	if !ok {
		b = &Baseline{}
		m.baselines[key] = b
	}
	b.observe(s, m.alpha, nowMS)
}

// Get returns the baseline for a dimension, or nil if none exists yet.
func (m *Manager) Get(d model.Dimension) *Baseline {
	return m.baselines[d.Key()]
}

// Keys returns all baseline keys in sorted order.
func (m *Manager) Keys() []string {
	keys := make([]string, 0, len(m.baselines))
	for k := range m.baselines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Export returns a copy of all baseline state for snapshot persistence.
func (m *Manager) Export() map[string]Baseline {
	out := make(map[string]Baseline, len(m.baselines))
	for k, b := range m.baselines {
		out[k] = *b
	}
	return out
}

// Import restores baseline state from a snapshot. Imported baselines are
// treated as seeded so the EWMA continues rather than restarts.
func (m *Manager) Import(state map[string]Baseline) {
	for k, b := range state {
		restored := b
		restored.seeded = true
		m.baselines[k] = &restored
	}
}
