// Package observe maintains the sliding transaction window and the rolling
// EWMA baselines the reasoning layer scores against.
package observe

import (
	"sort"

	"github.com/payops/autopilot/internal/model"
)

// MinSample is the gate below which a slice is too thin to score.
const MinSample = 50

// Stats are the aggregates for one dimension slice of the window.
type Stats struct {
	Total        int     `json:"total"`
	SuccessCount int     `json:"success_count"`
	SoftFails    int     `json:"soft_fails"`
	HardFails    int     `json:"hard_fails"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P50LatencyMS float64 `json:"p50_latency_ms"`
	P95LatencyMS float64 `json:"p95_latency_ms"`
	P99LatencyMS float64 `json:"p99_latency_ms"`
	AvgRetry     float64 `json:"avg_retry"`
	RetryRate    float64 `json:"retry_rate"` // share of transactions that retried
}

// Window is the time-bounded view of recent transactions. Owned by the
// control loop; appends come from the generator's batches, refresh runs
// once per agent cycle.
type Window struct {
	durationMS int64
	txns       []model.Transaction
}

// NewWindow creates a window of the given duration (default 5 minutes).
func NewWindow(durationMS int64) *Window {
	if durationMS <= 0 {
		durationMS = 300_000
	}
	return &Window{durationMS: durationMS}
}

// Append adds a batch of transactions.
func (w *Window) Append(batch []model.Transaction) {
	w.txns = append(w.txns, batch...)
}

// Refresh evicts entries older than now - duration. Called once per cycle
// before any read.
func (w *Window) Refresh(nowMS int64) {
	cutoff := nowMS - w.durationMS
	i := 0
	for i < len(w.txns) && w.txns[i].TimestampMS < cutoff {
		i++
	}
	if i > 0 {
		w.txns = append(w.txns[:0], w.txns[i:]...)
	}
}

// Len returns the number of retained transactions.
func (w *Window) Len() int {
	return len(w.txns)
}

// Transactions returns the retained transactions oldest-first. The slice
// is shared; callers must not mutate it.
func (w *Window) Transactions() []model.Transaction {
	return w.txns
}

// Aggregate computes stats over the whole window.
func (w *Window) Aggregate() Stats {
	return aggregate(w.txns)
}

// GroupBy slices the window along one dimension kind and aggregates each
// slice. DimGlobal yields a single entry.
func (w *Window) GroupBy(kind model.DimensionKind) map[model.Dimension]Stats {
	out := make(map[model.Dimension]Stats)
	if kind == model.DimGlobal {
		out[model.Global] = w.Aggregate()
		return out
	}

	groups := make(map[model.Dimension][]model.Transaction)
	for _, txn := range w.txns {
		var d model.Dimension
		switch kind {
		case model.DimIssuer:
			d = model.Dimension{Kind: model.DimIssuer, Value: txn.Issuer}
		case model.DimMethod:
			d = model.Dimension{Kind: model.DimMethod, Value: string(txn.Method)}
		case model.DimGeo:
			d = model.Dimension{Kind: model.DimGeo, Value: txn.Geography}
		default:
			continue
		}
		groups[d] = append(groups[d], txn)
	}
	for d, txns := range groups {
		out[d] = aggregate(txns)
	}
	return out
}

func aggregate(txns []model.Transaction) Stats {
	s := Stats{Total: len(txns)}
	if s.Total == 0 {
		return s
	}

	latencies := make([]int, 0, len(txns))
	var latencySum, retrySum float64
	retried := 0
	for _, txn := range txns {
		switch txn.Outcome {
		case model.Success:
			s.SuccessCount++
		case model.SoftFail:
			s.SoftFails++
		case model.HardFail:
			s.HardFails++
		}
		latencies = append(latencies, txn.LatencyMS)
		latencySum += float64(txn.LatencyMS)
		retrySum += float64(txn.RetryCount)
		if txn.RetryCount > 0 {
			retried++
		}
	}

	sort.Ints(latencies)
	s.SuccessRate = float64(s.SuccessCount) / float64(s.Total)
	s.AvgLatencyMS = latencySum / float64(s.Total)
	s.P50LatencyMS = percentile(latencies, 0.50)
	s.P95LatencyMS = percentile(latencies, 0.95)
	s.P99LatencyMS = percentile(latencies, 0.99)
	s.AvgRetry = retrySum / float64(s.Total)
	s.RetryRate = float64(retried) / float64(s.Total)
	return s
}

func percentile(sorted []int, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx])
}
