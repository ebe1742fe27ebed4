// Package loop drives the closed control cycle: drift advances issuer
// health, the generator emits transactions through feedback multipliers,
// the observation window aggregates, reasoning flags and classifies,
// the policy decides, and the decision lands back in the feedback
// controller before the next batch. Ordering is explicit tick code, not
// task scheduling, so the guarantees are visible in one function.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/payops/autopilot/internal/alert"
	"github.com/payops/autopilot/internal/approval"
	"github.com/payops/autopilot/internal/audit"
	"github.com/payops/autopilot/internal/config"
	"github.com/payops/autopilot/internal/decision"
	"github.com/payops/autopilot/internal/drift"
	"github.com/payops/autopilot/internal/feedback"
	"github.com/payops/autopilot/internal/gen"
	"github.com/payops/autopilot/internal/history"
	"github.com/payops/autopilot/internal/ingest"
	"github.com/payops/autopilot/internal/model"
	"github.com/payops/autopilot/internal/observe"
	"github.com/payops/autopilot/internal/randx"
	"github.com/payops/autopilot/internal/reason"
	"github.com/payops/autopilot/internal/snapshot"
	"github.com/payops/autopilot/internal/telemetry"
)

const seriesLen = 40

// Loop owns the cycle counter and the simulated clock. Everything else is
// owned by the component it belongs to; the loop only sequences calls.
type Loop struct {
	cfg *config.Config
	log *slog.Logger

	engine     *drift.Engine
	fb         *feedback.Controller
	generator  *gen.Generator
	window     *observe.Window
	baselines  *observe.Manager
	detector   *reason.Detector
	classifier *reason.Classifier
	hypotheses *reason.Generator
	beliefs    *reason.Beliefs
	planner    *decision.Planner
	policy     *decision.Policy

	snapshots *snapshot.Store
	auditLog  *audit.Log
	histStore *history.Store
	approvals *approval.Store
	hub       *telemetry.Hub

	seed       int64
	nowMS      int64
	startMS    int64
	cycleCount int64
	sinceCycle float64 // simulated seconds since the last agent cycle
	totalTxns  int64

	// patternFirstSeen feeds the detection-to-action response metric.
	patternFirstSeen int64

	lastDecision model.Decision
	lastPatterns []model.DetectedPattern

	successSeries []float64
	latencySeries []float64

	ingestCh chan model.Transaction
	consumer *ingest.Consumer
}

// New wires the full stack from config, restoring the last snapshot when
// one exists.
func New(cfg *config.Config, log *slog.Logger) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Loop{
		cfg:     cfg,
		log:     log.With("component", "loop"),
		startMS: time.Now().UnixMilli(),
	}
	l.nowMS = l.startMS

	// Snapshot restore happens before RNG construction so the restored
	// seed reproduces the original sub-streams.
	var restored *snapshot.State
	l.snapshots = snapshot.NewStore(cfg.Paths.Snapshot)
	if state, err := l.snapshots.Load(); err != nil {
		l.log.Warn("snapshot load failed, starting from defaults", "error", err)
	} else {
		restored = state
	}

	l.seed = time.Now().UnixNano()
	if cfg.Simulation.Seed != nil {
		l.seed = *cfg.Simulation.Seed
	}
	if restored != nil && restored.Seed != 0 {
		l.seed = restored.Seed
	}
	source := randx.New(l.seed)

	l.engine = drift.New(source.Stream("drift"), log)
	for name, issuer := range cfg.Issuers {
		l.engine.AddIssuer(name, model.IssuerState{
			SuccessRate: issuer.InitialSuccess,
			LatencyMS:   issuer.InitialLatency,
			RetryProb:   issuer.InitialRetryProb,
		}, driftParams(cfg, name))
	}

	l.fb = feedback.New(feedback.DefaultRampMS, log)

	genCfg := generatorConfig(cfg)
	generator, err := gen.New(genCfg, l.engine, l.fb, source.Stream("generation"), l.startMS, log)
	if err != nil {
		return nil, err
	}
	l.generator = generator

	l.window = observe.NewWindow(cfg.Agent.WindowDurationMS)
	l.baselines = observe.NewManager(cfg.Agent.BaselineAlpha)
	l.detector = reason.NewDetector(cfg.Agent.AnomalyThreshold, log)
	l.classifier = reason.NewClassifier(reason.ClassifierConfig{
		Threshold: cfg.Agent.AnomalyThreshold,
		SLAP95MS:  cfg.Agent.SLAP95MS,
	}, log)
	l.hypotheses = reason.NewGenerator(reason.NewScorer(observe.MinSample))
	l.beliefs = reason.NewBeliefs(cfg.Agent.TauUncertain)
	l.planner = decision.NewPlanner()

	protected := make(map[string]bool, len(cfg.Agent.ProtectedTargets))
	for _, t := range cfg.Agent.ProtectedTargets {
		protected[t] = true
	}
	l.policy = decision.NewPolicy(decision.PolicyConfig{
		MinActionFrequencyCycles: cfg.Agent.MinActionFrequencyCycles,
		NRV: decision.NRVConfig{
			AvgTicketValue:      cfg.Agent.AvgTicketValue,
			LatencyPenaltyPerMS: 0.01,
			CostPerIntervention: 5.0,
			RiskWeight:          50.0,
		},
		Guardrails: decision.GuardrailConfig{
			MaxRetryAdjustment:       cfg.Agent.MaxRetryAdjustment,
			MaxSuppressionDurationMS: cfg.Agent.MaxSuppressionDurationMS,
			ProtectedTargets:         protected,
			MaxBlastRadiusAutonomy:   cfg.Agent.MaxBlastRadiusAutonomy,
			MinConfidenceForAction:   cfg.Agent.MinConfidenceForAction,
		},
	}, log)

	if restored != nil {
		l.fb.Restore(restored.ActiveInterventions)
		l.baselines.Import(restored.Baselines)
		l.cycleCount = restored.CycleCounter
		l.policy.RestoreStreak(restored.NoActionStreak)
		l.log.Info("state restored",
			"cycle", l.cycleCount,
			"active_interventions", len(restored.ActiveInterventions),
			"baselines", len(restored.Baselines))
	}

	if cfg.Paths.AuditLog != "" {
		l.auditLog, err = audit.Open(cfg.Paths.AuditLog)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Paths.HistoryDB != "" {
		l.histStore, err = history.Open(cfg.Paths.HistoryDB)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Paths.ApprovalDir != "" {
		l.approvals, err = approval.NewStore(cfg.Paths.ApprovalDir)
		if err != nil {
			return nil, err
		}
	}
	if cfg.Telemetry.Enabled {
		l.hub = telemetry.NewHub(cfg.Telemetry.Addr, log)
	}

	if cfg.Broker.Enabled {
		l.ingestCh = make(chan model.Transaction, 1024)
		l.consumer, err = ingest.NewConsumer(cfg.Broker, log)
		if err != nil {
			return nil, err
		}
	}

	return l, nil
}

func driftParams(cfg *config.Config, issuer string) drift.Params {
	p := drift.DefaultParams()
	p.Theta = cfg.Drift.Theta
	p.Sigma = cfg.Drift.Sigma
	p.MeanSuccess = cfg.Drift.MeanSuccess
	p.MeanLatency = cfg.Drift.MeanLatency
	p.MeanRetry = cfg.Drift.MeanRetry
	p.SigmaLatency = cfg.Drift.SigmaLatency
	p.SigmaRetry = cfg.Drift.SigmaRetry
	p.RetrySpikeProb = cfg.Drift.RetrySpikeProb
	p.RetrySpikeMagnitude = cfg.Drift.RetrySpikeMagnitude
	p.RetryDecayRate = cfg.Drift.RetryDecayRate
	if o, ok := cfg.Drift.PerIssuer[issuer]; ok {
		if o.Theta != nil {
			p.Theta = *o.Theta
		}
		if o.Sigma != nil {
			p.Sigma = *o.Sigma
		}
		if o.MeanSuccess != nil {
			p.MeanSuccess = *o.MeanSuccess
		}
	}
	return p
}

func generatorConfig(cfg *config.Config) gen.Config {
	g := gen.DefaultConfig()
	g.Schedule = gen.RateSchedule{
		Kind:        gen.ScheduleKind(cfg.Generator.RateSchedule),
		Rate:        cfg.Generator.TransactionRate,
		Amplitude:   cfg.Generator.Amplitude,
		PeriodS:     cfg.Generator.PeriodS,
		BurstRate:   cfg.Generator.BurstRate,
		BurstStartS: cfg.Generator.BurstStartS,
		BurstDurS:   cfg.Generator.BurstDurS,
	}
	if g.Schedule.Kind == "" {
		g.Schedule.Kind = gen.ScheduleConstant
	}
	g.BufferSize = cfg.Generator.BufferSize
	g.PSoft = cfg.Generator.PSoft
	g.LatencyCV = cfg.Generator.LatencyCV
	g.MaxRetries = cfg.Generator.MaxRetries
	if len(cfg.Generator.MethodMix) > 0 {
		g.MethodMix = make(map[model.Method]float64, len(cfg.Generator.MethodMix))
		for m, w := range cfg.Generator.MethodMix {
			g.MethodMix[model.Method(m)] = w
		}
	}
	g.IssuerWeights = cfg.Generator.IssuerWeights
	return g
}

// Engine exposes the drift engine for scenario pinning.
func (l *Loop) Engine() *drift.Engine { return l.engine }

// Feedback exposes the controller for inspection in tests and scenarios.
func (l *Loop) Feedback() *feedback.Controller { return l.fb }

// Window exposes the observation window for inspection.
func (l *Loop) Window() *observe.Window { return l.window }

// CycleCount returns the number of completed agent cycles.
func (l *Loop) CycleCount() int64 { return l.cycleCount }

// LastDecision returns the most recent cycle's decision.
func (l *Loop) LastDecision() model.Decision { return l.lastDecision }

// LastPatterns returns the most recent cycle's classified patterns.
func (l *Loop) LastPatterns() []model.DetectedPattern { return l.lastPatterns }

// NowMS returns the simulated clock.
func (l *Loop) NowMS() int64 { return l.nowMS }

// SetThresholds applies a live config reload: only reasoning thresholds
// move, topology stays fixed.
func (l *Loop) SetThresholds(cfg *config.Config) {
	l.detector.SetThreshold(cfg.Agent.AnomalyThreshold)
	l.log.Info("thresholds updated", "anomaly_threshold", cfg.Agent.AnomalyThreshold)
}

// Tick advances the simulation by dt seconds of simulated time. Order is
// fixed: drift, then intervention expiry, then generation — expired
// multipliers never leak into a new batch.
func (l *Loop) Tick(dt float64) {
	l.nowMS += int64(dt * 1000)

	l.engine.Update(dt, l.nowMS)

	for _, expired := range l.fb.Tick(l.nowMS) {
		l.recordExpiry(expired)
	}

	if l.consumer != nil {
		l.drainIngest()
	} else {
		batch := l.generator.Generate(dt, l.nowMS)
		l.totalTxns += int64(len(batch))
		l.window.Append(batch)
	}

	l.sinceCycle += dt
	// The tolerance absorbs float rounding in the summed tick durations.
	if l.sinceCycle >= l.cfg.Agent.CycleIntervalS-1e-9 {
		l.sinceCycle = 0
		l.RunCycle()
	}
}

func (l *Loop) drainIngest() {
	for {
		select {
		case txn := <-l.ingestCh:
			l.totalTxns++
			l.window.Append([]model.Transaction{txn})
		default:
			return
		}
	}
}

// RunCycle executes one observe-reason-decide-act pass. The wall-clock
// budget is cycle_interval/2; overruns warn and continue.
func (l *Loop) RunCycle() model.Decision {
	started := time.Now()
	l.cycleCount++

	// Observe.
	l.window.Refresh(l.nowMS)
	issuerGroups := l.window.GroupBy(model.DimIssuer)
	methodGroups := l.window.GroupBy(model.DimMethod)
	globalStats := l.window.Aggregate()

	// Baselines fold in before the anomaly check, never after.
	for dim, stats := range issuerGroups {
		l.baselines.Observe(dim, stats, l.nowMS)
	}
	for dim, stats := range methodGroups {
		l.baselines.Observe(dim, stats, l.nowMS)
	}
	l.baselines.Observe(model.Global, globalStats, l.nowMS)

	// Reason.
	all := make(map[model.Dimension]observe.Stats, len(issuerGroups)+len(methodGroups)+1)
	for dim, stats := range issuerGroups {
		all[dim] = stats
	}
	for dim, stats := range methodGroups {
		all[dim] = stats
	}
	all[model.Global] = globalStats

	signals := l.detector.Scan(all, l.baselines)
	var globalSignal *reason.Signal
	for i := range signals {
		if signals[i].Dimension == model.Global && signals[i].Metric == reason.MetricSuccess {
			globalSignal = &signals[i]
			break
		}
	}

	patterns := l.classifier.Classify(signals, issuerGroups, globalStats, globalSignal, l.nowMS)
	l.lastPatterns = patterns
	if len(patterns) > 0 && l.patternFirstSeen == 0 {
		l.patternFirstSeen = l.nowMS
	}
	hyps := l.hypotheses.Generate(patterns)
	beliefState := l.beliefs.Update(hyps, l.nowMS)
	explanation := reason.Explain(beliefState)

	// Rollback conditions fire before new decisions so a failing
	// intervention cannot be doubled down on.
	for _, rb := range l.fb.CheckRollbacks(globalStats.SuccessRate) {
		l.recordRollback(rb)
	}

	// Decide.
	options := l.planner.Options(patterns)
	d := l.policy.Decide(options, beliefState, globalStats.Total)
	l.lastDecision = d

	// Act.
	if d.ShouldAct && d.Selected != nil {
		l.execute(d, globalStats)
	}

	l.audit(d)
	l.broadcast(d, beliefState, globalStats, explanation)
	l.persist()

	elapsed := time.Since(started)
	budget := time.Duration(l.cfg.Agent.CycleIntervalS * float64(time.Second))
	if elapsed > budget/2 {
		l.log.Warn("cycle over soft budget",
			"cycle", l.cycleCount,
			"elapsed", elapsed,
			"budget", budget/2)
	}

	l.log.Info("cycle complete",
		"cycle", l.cycleCount,
		"window", globalStats.Total,
		"success_rate", globalStats.SuccessRate,
		"patterns", len(patterns),
		"action", d.ShouldAct)
	return d
}

// execute applies the decision. Escalated decisions are parked for a
// human instead of applied; everything else reaches the feedback
// controller before the next generator batch runs.
func (l *Loop) execute(d model.Decision, globalStats observe.Stats) {
	opt := *d.Selected
	ts := time.UnixMilli(l.nowMS).UTC().Format("15:04:05")

	if d.RequiresApproval {
		req := approval.Request{
			ID:        uuid.NewString(),
			CycleID:   l.cycleCount,
			Option:    opt,
			Rationale: d.Rationale,
			Reason:    d.GuardrailOutcome,
		}
		if l.approvals != nil {
			if err := l.approvals.Park(req); err != nil {
				l.log.Warn("parking approval failed", "error", err)
			}
		}
		l.recordHistory(history.Record{
			ID: req.ID, Action: opt.Type.String(), Target: opt.Target,
			Reason: d.Rationale, TS: ts, Result: "escalated",
		})
		l.log.Info("decision escalated for approval", "id", req.ID, "type", opt.Type.String())
		return
	}

	active := l.fb.Apply(opt, l.nowMS, globalStats.SuccessRate)
	l.recordHistory(history.Record{
		ID: active.ID, Action: opt.Type.String(), Target: opt.Target,
		Reason: d.Rationale, TS: ts, Result: model.PhaseActing.String(),
	})

	if l.histStore != nil && l.patternFirstSeen > 0 {
		if err := l.histStore.RecordResponse(l.patternFirstSeen, l.nowMS); err != nil {
			l.log.Warn("recording response time failed", "error", err)
		}
		l.patternFirstSeen = 0
	}

	if opt.Type == model.AlertOps && l.cfg.Alerts.Enabled() {
		event := alert.Event{
			Severity:  opt.Params.Severity,
			Reason:    opt.Params.Reason,
			Target:    opt.Target,
			Rationale: d.Rationale,
			NRV:       d.NRV.NRV,
			CycleID:   l.cycleCount,
		}
		go func() {
			if err := alert.Send(l.cfg.Alerts, event); err != nil {
				l.log.Warn("ops alert delivery failed", "error", err)
			}
		}()
	}
}

func (l *Loop) recordExpiry(a feedback.Active) {
	delta := l.window.Aggregate().SuccessRate - a.BaselineSuccess
	rate := fmt.Sprintf("%+.1f%%", delta*100)
	if l.histStore != nil {
		if err := l.histStore.UpdateResult(a.ID, model.PhaseExpired.String(), rate); err != nil {
			l.log.Warn("recording expiry failed", "id", a.ID, "error", err)
		}
	}
}

// recordRollback writes the high-severity audit record. A rollback whose
// bookkeeping fails is marked rolled_back_failed; that state asks for
// operator attention.
func (l *Loop) recordRollback(rb feedback.RolledBack) {
	result := model.PhaseRolledBack.String()
	if l.histStore != nil {
		if err := l.histStore.UpdateResult(rb.Intervention.ID, result, ""); err != nil {
			// Operator attention required: the effect is gone but the
			// record disagrees.
			l.log.Error("rollback bookkeeping failed", "id", rb.Intervention.ID, "error", err)
			result = "rolled_back_failed"
		}
	}
	if l.auditLog != nil {
		opt := rb.Intervention.Option
		entry := audit.Entry{
			CycleID:   l.cycleCount,
			Decision:  result,
			Option:    &opt,
			Rationale: rb.Reason,
			Severity:  "high",
		}
		if err := l.auditLog.Record(entry); err != nil {
			l.log.Error("rollback audit record failed", "error", err)
		}
	}
}

func (l *Loop) recordHistory(r history.Record) {
	if l.histStore == nil {
		return
	}
	if err := l.histStore.Record(r); err != nil {
		l.log.Warn("history record failed", "error", err)
	}
}

func (l *Loop) audit(d model.Decision) {
	if l.auditLog == nil {
		return
	}
	entry := audit.Entry{
		CycleID:          l.cycleCount,
		Decision:         "no_action",
		Rationale:        d.Rationale,
		GuardrailOutcome: d.GuardrailOutcome,
		NRV:              d.NRV.NRV,
		MinFreqTriggered: d.MinFreqTriggered,
	}
	if d.ShouldAct {
		entry.Decision = "action"
		entry.Option = d.Selected
	}
	if err := l.auditLog.Record(entry); err != nil {
		l.log.Warn("audit record failed", "error", err)
	}
}

func (l *Loop) broadcast(d model.Decision, beliefs model.BeliefState, globalStats observe.Stats, explanation string) {
	// Series update happens every cycle even when telemetry is off, so a
	// late-connecting dashboard sees history.
	states := l.engine.States()
	var successAvg, latencyAvg float64
	for _, s := range states {
		successAvg += s.SuccessRate
		latencyAvg += s.LatencyMS
	}
	if len(states) > 0 {
		successAvg = successAvg / float64(len(states)) * 100
		latencyAvg /= float64(len(states))
	}
	l.successSeries = appendBounded(l.successSeries, successAvg, seriesLen)
	l.latencySeries = appendBounded(l.latencySeries, latencyAvg, seriesLen)

	if l.hub == nil {
		return
	}

	frame := telemetry.Frame{
		Timestamp:     l.nowMS / 1000,
		ThinkingLog:   []string{explanation, d.Rationale},
		TotalVolume:   l.totalTxns,
		FailRate:      (1 - globalStats.SuccessRate) * 100,
		ActiveGateway: "gateway-primary",
		SuccessSeries: append([]float64(nil), l.successSeries...),
		LatencySeries: append([]float64(nil), l.latencySeries...),
		NRV:           d.NRV.NRV,
		Confidence:    beliefs.MaxConfidence() * 100,
	}

	if l.histStore != nil {
		if recent, err := l.histStore.Recent(10); err == nil {
			for _, r := range recent {
				frame.InterventionHistory = append(frame.InterventionHistory, telemetry.InterventionEvent{
					Action: r.Action, Target: r.Target, Reason: r.Reason,
					TS: r.TS, Result: r.Result, Rate: r.Rate,
				})
			}
		}
		if metrics, err := l.histStore.Metrics(); err == nil {
			frame.SafetyMetrics = metrics
		}
	}

	l.hub.Broadcast(frame)
}

func appendBounded(series []float64, v float64, max int) []float64 {
	series = append(series, v)
	if len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

// persist writes the snapshot. Failure keeps in-memory state and retries
// next cycle.
func (l *Loop) persist() {
	state := snapshot.State{
		ActiveInterventions: l.fb.Active(),
		Baselines:           l.baselines.Export(),
		CycleCounter:        l.cycleCount,
		NoActionStreak:      l.policy.NoActionStreak(),
		Seed:                l.seed,
		SavedAtMS:           l.nowMS,
	}
	if err := l.snapshots.Save(state); err != nil {
		l.log.Warn("snapshot save failed, keeping in-memory state", "error", err)
	}
}

// Run drives wall-clock ticks until ctx is cancelled or the configured
// duration of simulated time elapses. On shutdown the current cycle
// finishes, state persists, and partial interventions stay in the
// snapshot with their original deadlines.
func (l *Loop) Run(ctx context.Context) error {
	if l.hub != nil {
		if err := l.hub.Start(); err != nil {
			return err
		}
		defer l.hub.Shutdown(context.Background())
	}
	if l.consumer != nil {
		go func() {
			err := l.consumer.Run(ctx, func(txn model.Transaction) {
				select {
				case l.ingestCh <- txn:
				default:
					l.log.Warn("ingest channel full, dropping transaction")
				}
			})
			if err != nil {
				l.log.Warn("broker ingest stopped", "error", err)
			}
		}()
		defer l.consumer.Close()
	}

	tick := time.Duration(l.cfg.Simulation.TickIntervalMS) * time.Millisecond
	dt := tick.Seconds() * l.cfg.Simulation.TimeScale
	durationMS := int64(l.cfg.Simulation.DurationSeconds * 1000)

	l.log.Info("control loop starting",
		"tick", tick,
		"time_scale", l.cfg.Simulation.TimeScale,
		"cycle_interval_s", l.cfg.Agent.CycleIntervalS,
		"seed", l.seed)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("shutdown requested, persisting state")
			l.persist()
			return nil
		case <-ticker.C:
			l.Tick(dt)
			if durationMS > 0 && l.nowMS-l.startMS >= durationMS {
				l.log.Info("duration reached", "cycles", l.cycleCount, "transactions", l.totalTxns)
				l.persist()
				return nil
			}
		}
	}
}

// Close releases file-backed resources.
func (l *Loop) Close() error {
	var firstErr error
	if l.auditLog != nil {
		if err := l.auditLog.Close(); err != nil {
			firstErr = err
		}
	}
	if l.histStore != nil {
		if err := l.histStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
