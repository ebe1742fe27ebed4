// Package gen emits the continuous transaction stream. Each batch reads
// issuer health from the drift engine and multipliers from the feedback
// controller, which is what makes the agent's interventions observable in
// its own input.
package gen

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/payops/autopilot/internal/drift"
	"github.com/payops/autopilot/internal/feedback"
	"github.com/payops/autopilot/internal/model"
)

// Config tunes the generator.
type Config struct {
	Schedule   RateSchedule
	BufferSize int
	PSoft      float64 // share of failures that are soft
	LatencyCV  float64 // coefficient of variation for latency sampling
	MaxRetries int
	MethodMix  map[model.Method]float64
	Geos       []string
	IssuerWeights map[string]float64 // base traffic share per issuer
	AmountMin  float64
	AmountMax  float64
}

// DefaultConfig returns generator defaults: 20 txn/s, 1000-entry buffer,
// 70% soft failures, retries capped at 10.
func DefaultConfig() Config {
	return Config{
		Schedule:   RateSchedule{Kind: ScheduleConstant, Rate: 20},
		BufferSize: 1000,
		PSoft:      0.7,
		LatencyCV:  0.2,
		MaxRetries: 10,
		MethodMix: map[model.Method]float64{
			model.MethodCard:   0.5,
			model.MethodUPI:    0.3,
			model.MethodWallet: 0.2,
		},
		Geos:      []string{"IN", "US", "EU"},
		AmountMin: 10,
		AmountMax: 1000,
	}
}

// Generator produces transactions from drift state and feedback
// multipliers. Owned by the control loop.
type Generator struct {
	cfg     Config
	engine  *drift.Engine
	fb      *feedback.Controller
	buffer  *RingBuffer
	rng     *rand.Rand
	log     *slog.Logger

	methods []model.Method // stable sampling order
	counter int64
	lastTS  int64
	frac    float64 // fractional carry so long-run volume matches the rate
	startMS int64
}

// New creates a generator. startMS anchors the rate schedule's clock.
func New(cfg Config, engine *drift.Engine, fb *feedback.Controller, rng *rand.Rand, startMS int64, log *slog.Logger) (*Generator, error) {
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("rate schedule: %w", err)
	}
	if cfg.PSoft < 0 || cfg.PSoft > 1 {
		return nil, fmt.Errorf("p_soft must be in [0,1], got %v", cfg.PSoft)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}

	methods := make([]model.Method, 0, len(cfg.MethodMix))
	for m := range cfg.MethodMix {
		methods = append(methods, m)
	}
	sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

	return &Generator{
		cfg:     cfg,
		engine:  engine,
		fb:      fb,
		buffer:  NewRingBuffer(cfg.BufferSize),
		rng:     rng,
		log:     log.With("component", "generator"),
		methods: methods,
		startMS: startMS,
	}, nil
}

// Buffer exposes the bounded transaction buffer for the observation pass.
func (g *Generator) Buffer() *RingBuffer {
	return g.buffer
}

// Generate emits the batch for a tick of dt simulated seconds ending at
// nowMS. The batch size is ⌊rate·dt⌋ with the remainder carried forward.
func (g *Generator) Generate(dt float64, nowMS int64) []model.Transaction {
	if dt <= 0 {
		return nil
	}
	elapsedS := float64(nowMS-g.startMS) / 1000.0
	g.frac += g.cfg.Schedule.At(elapsedS) * dt
	count := int(g.frac)
	g.frac -= float64(count)
	if count == 0 {
		return nil
	}

	tickStartMS := nowMS - int64(dt*1000)
	batch := make([]model.Transaction, 0, count)
	for i := 0; i < count; i++ {
		issuer, ok := g.sampleIssuer(nowMS)
		if !ok {
			break
		}
		state, _ := g.engine.State(issuer)

		p := state.SuccessRate * g.fb.SuccessMultiplier(issuer, nowMS)
		if p > 1 {
			p = 1
		}
		r := state.RetryProb * g.fb.RetryMultiplier(nowMS)
		if r > model.MaxRetryProb {
			r = model.MaxRetryProb
		}

		outcome := g.sampleOutcome(p)
		txn := model.Transaction{
			ID:          uuid.NewString(),
			TimestampMS: g.sampleTimestamp(tickStartMS, dt),
			Issuer:      issuer,
			Method:      g.sampleMethod(),
			Geography:   g.cfg.Geos[g.rng.Intn(len(g.cfg.Geos))],
			Outcome:     outcome,
			LatencyMS:   g.sampleLatency(state.LatencyMS),
			RetryCount:  g.sampleRetries(r),
			Amount:      g.cfg.AmountMin + g.rng.Float64()*(g.cfg.AmountMax-g.cfg.AmountMin),
		}
		if outcome != model.Success {
			txn.ErrorCode = fmt.Sprintf("ERR_%04d", 1000+g.rng.Intn(9000))
		}
		g.counter++
		g.buffer.Push(txn)
		batch = append(batch, txn)
	}
	return batch
}

// sampleIssuer draws an issuer with weights base_weight x volume
// multiplier. All-zero weights fall back to uniform.
func (g *Generator) sampleIssuer(nowMS int64) (string, bool) {
	issuers := g.engine.Issuers()
	if len(issuers) == 0 {
		return "", false
	}
	weights := make([]float64, len(issuers))
	total := 0.0
	for i, name := range issuers {
		base := g.cfg.IssuerWeights[name]
		if base <= 0 {
			base = 1.0
		}
		weights[i] = base * g.fb.VolumeMultiplier(name, nowMS)
		total += weights[i]
	}
	if total <= 0 {
		return issuers[g.rng.Intn(len(issuers))], true
	}
	u := g.rng.Float64() * total
	for i, w := range weights {
		u -= w
		if u < 0 {
			return issuers[i], true
		}
	}
	return issuers[len(issuers)-1], true
}

func (g *Generator) sampleMethod() model.Method {
	total := 0.0
	for _, m := range g.methods {
		total += g.cfg.MethodMix[m]
	}
	if total <= 0 {
		return model.MethodCard
	}
	u := g.rng.Float64() * total
	for _, m := range g.methods {
		u -= g.cfg.MethodMix[m]
		if u < 0 {
			return m
		}
	}
	return g.methods[len(g.methods)-1]
}

func (g *Generator) sampleOutcome(p float64) model.Outcome {
	if g.rng.Float64() < p {
		return model.Success
	}
	if g.rng.Float64() < g.cfg.PSoft {
		return model.SoftFail
	}
	return model.HardFail
}

// sampleRetries draws a geometric count in r, capped at MaxRetries.
func (g *Generator) sampleRetries(r float64) int {
	count := 0
	for count < g.cfg.MaxRetries && g.rng.Float64() < r {
		count++
	}
	return count
}

// sampleLatency draws lognormal latency centred on the issuer's current
// latency with the configured coefficient of variation.
func (g *Generator) sampleLatency(centerMS float64) int {
	cv := g.cfg.LatencyCV
	if cv <= 0 {
		return int(centerMS)
	}
	sigma2 := math.Log(1 + cv*cv)
	sigma := math.Sqrt(sigma2)
	mu := math.Log(centerMS) - sigma2/2
	l := math.Exp(mu + sigma*g.rng.NormFloat64())
	if l < model.MinLatencyMS {
		l = model.MinLatencyMS
	}
	if l > model.MaxLatencyMS {
		l = model.MaxLatencyMS
	}
	return int(l)
}

// sampleTimestamp spreads transactions across the tick with jitter while
// never moving backwards.
func (g *Generator) sampleTimestamp(tickStartMS int64, dt float64) int64 {
	ts := tickStartMS + int64(g.rng.Float64()*dt*1000)
	if ts < g.lastTS {
		ts = g.lastTS
	}
	g.lastTS = ts
	return ts
}
