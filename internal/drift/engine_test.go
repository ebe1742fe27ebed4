package drift

import (
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/payops/autopilot/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestEngine(seed int64, p Params) *Engine {
	e := New(rand.New(rand.NewSource(seed)), discardLogger())
	e.AddIssuer("HDFC", model.IssuerState{SuccessRate: 0.95, LatencyMS: 200, RetryProb: 0.05}, p)
	e.AddIssuer("ICICI", model.IssuerState{SuccessRate: 0.95, LatencyMS: 200, RetryProb: 0.05}, p)
	return e
}

func TestBoundsHoldUnderExtremeVolatility(t *testing.T) {
	p := DefaultParams()
	p.Sigma = 5.0
	p.SigmaLatency = 500
	p.SigmaRetry = 1.0
	e := newTestEngine(1, p)

	for i := 0; i < 10_000; i++ {
		e.Update(0.1, int64(i*100))
		for _, s := range e.States() {
			if s.SuccessRate < 0 || s.SuccessRate > 1 {
				t.Fatalf("tick %d: success_rate %v out of [0,1]", i, s.SuccessRate)
			}
			if s.LatencyMS < model.MinLatencyMS || s.LatencyMS > model.MaxLatencyMS {
				t.Fatalf("tick %d: latency %v out of [50,2000]", i, s.LatencyMS)
			}
			if s.RetryProb < 0 || s.RetryProb > model.MaxRetryProb {
				t.Fatalf("tick %d: retry_prob %v out of [0,0.5]", i, s.RetryProb)
			}
		}
	}
}

func TestMeanReversionTowardLongRunMean(t *testing.T) {
	p := DefaultParams()
	p.Sigma = 0.02
	p.RetrySpikeProb = 0
	e := newTestEngine(7, p)
	e.Pin("HDFC", func(s *model.IssuerState) { s.SuccessRate = 0.5 })

	// 100/theta seconds of simulated time at 0.1s ticks.
	ticks := int(100 / p.Theta / 0.1)
	var sum float64
	var n int
	for i := 0; i < ticks; i++ {
		e.Update(0.1, int64(i*100))
		if i > ticks/2 {
			s, _ := e.State("HDFC")
			sum += s.SuccessRate
			n++
		}
	}

	avg := sum / float64(n)
	band := 3 * p.Sigma / math.Sqrt(2*p.Theta)
	if math.Abs(avg-p.MeanSuccess) > band {
		t.Errorf("time-average %v not within ±%v of mean %v", avg, band, p.MeanSuccess)
	}
}

func TestSeededUpdateIsReproducible(t *testing.T) {
	run := func() []model.IssuerState {
		e := newTestEngine(42, DefaultParams())
		for i := 0; i < 500; i++ {
			e.Update(0.1, int64(i*100))
		}
		return e.States()
	}

	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("seeded runs diverged: %+v vs %+v", a[i], b[i])
		}
	}
}

func TestPinUnknownIssuer(t *testing.T) {
	e := newTestEngine(1, DefaultParams())
	if e.Pin("SBI", func(s *model.IssuerState) {}) {
		t.Error("expected Pin to report unknown issuer")
	}
}
