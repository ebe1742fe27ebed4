// Package drift evolves per-issuer health parameters with a mean-reverting
// stochastic process, so the simulated fleet degrades and recovers on its
// own rather than on a script.
package drift

import (
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/payops/autopilot/internal/model"
)

// Params are the Ornstein-Uhlenbeck coefficients for one issuer.
type Params struct {
	Theta       float64 // mean reversion strength
	Sigma       float64 // success-rate volatility
	MeanSuccess float64 // long-run success rate

	MeanLatency  float64
	SigmaLatency float64

	MeanRetry          float64
	SigmaRetry         float64
	RetrySpikeProb     float64 // per simulated second
	RetrySpikeMagnitude float64
	RetryDecayRate     float64
}

// DefaultParams mirror the documented defaults: theta=0.1, sigma=0.05,
// mean success 0.95.
func DefaultParams() Params {
	return Params{
		Theta:               0.1,
		Sigma:               0.05,
		MeanSuccess:         0.95,
		MeanLatency:         200,
		SigmaLatency:        10,
		MeanRetry:           0.05,
		SigmaRetry:          0.02,
		RetrySpikeProb:      0.01,
		RetrySpikeMagnitude: 0.2,
		RetryDecayRate:      0.99,
	}
}

type issuerEntry struct {
	state  model.IssuerState
	params Params
}

// Engine owns one IssuerState per issuer and advances them each tick.
// Not safe for concurrent use; the control loop is its only caller.
type Engine struct {
	issuers map[string]*issuerEntry
	order   []string
	rng     *rand.Rand
	log     *slog.Logger
}

// New creates an empty engine drawing randomness from rng.
func New(rng *rand.Rand, log *slog.Logger) *Engine {
	return &Engine{
		issuers: make(map[string]*issuerEntry),
		rng:     rng,
		log:     log.With("component", "drift"),
	}
}

// AddIssuer registers an issuer with its initial state and drift params.
func (e *Engine) AddIssuer(name string, initial model.IssuerState, p Params) {
	initial.Issuer = name
	initial.Clip()
	e.issuers[name] = &issuerEntry{state: initial, params: p}
	e.order = append(e.order, name)
	sort.Strings(e.order)
	e.log.Info("issuer added",
		"issuer", name,
		"success", initial.SuccessRate,
		"latency_ms", initial.LatencyMS,
		"retry_prob", initial.RetryProb)
}

// Update advances every issuer by dt simulated seconds. Iteration is in
// sorted issuer order so a seeded run consumes the RNG identically every
// time.
func (e *Engine) Update(dt float64, nowMS int64) {
	if dt <= 0 {
		return
	}
	sqrtDT := math.Sqrt(dt)

	for _, name := range e.order {
		entry := e.issuers[name]
		s := &entry.state
		p := entry.params

		// Success rate: OU step x += theta*(mu-x)*dt + sigma*sqrt(dt)*N(0,1).
		s.SuccessRate += p.Theta*(p.MeanSuccess-s.SuccessRate)*dt +
			p.Sigma*sqrtDT*e.rng.NormFloat64()

		// Latency: bounded Gaussian random walk.
		s.LatencyMS += p.SigmaLatency * sqrtDT * e.rng.NormFloat64()

		// Retry probability: rare spike, otherwise decay with mean reversion.
		if e.rng.Float64() < p.RetrySpikeProb*dt {
			s.RetryProb += p.RetrySpikeMagnitude
			e.log.Debug("retry spike", "issuer", name, "retry_prob", s.RetryProb)
		} else {
			s.RetryProb += p.Theta*(p.MeanRetry-s.RetryProb)*dt -
				s.RetryProb*(1-p.RetryDecayRate)*dt +
				p.SigmaRetry*sqrtDT*e.rng.NormFloat64()
		}

		s.Clip()
		s.LastUpdated = nowMS
	}
}

// State returns a copy of the named issuer's state.
func (e *Engine) State(name string) (model.IssuerState, bool) {
	entry, ok := e.issuers[name]
	if !ok {
		return model.IssuerState{}, false
	}
	return entry.state, true
}

// States returns copies of all issuer states in sorted issuer order.
func (e *Engine) States() []model.IssuerState {
	out := make([]model.IssuerState, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.issuers[name].state)
	}
	return out
}

// Issuers returns the registered issuer names in sorted order.
func (e *Engine) Issuers() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Pin overrides an issuer's current state. Scenario runs use it to force a
// degradation or outage; the next Update drifts from the pinned values.
func (e *Engine) Pin(name string, mutate func(*model.IssuerState)) bool {
	entry, ok := e.issuers[name]
	if !ok {
		return false
	}
	mutate(&entry.state)
	entry.state.Clip()
	return true
}
