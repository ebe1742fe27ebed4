// Package scenario runs scripted fault injections against a full agent
// stack and checks the agent's observable behaviour against expectations.
package scenario

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/payops/autopilot/internal/config"
	"github.com/payops/autopilot/internal/loop"
	"github.com/payops/autopilot/internal/model"
)

// Load parses a scenario YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	if s.Cycles <= 0 {
		return nil, fmt.Errorf("scenario: %s: cycles must be > 0", path)
	}
	return &s, nil
}

// Run executes the scenario against a fresh stack built from cfg. The
// caller's config supplies topology; the scenario supplies seed, faults,
// and expectations.
func Run(s *Scenario, cfg *config.Config, log *slog.Logger) (*RunResult, error) {
	runCfg := *cfg
	seed := s.Seed
	if seed == 0 {
		seed = 1
	}
	runCfg.Simulation.Seed = &seed
	runCfg.Telemetry.Enabled = false
	runCfg.Broker.Enabled = false
	runCfg.Paths = config.PathsConfig{}

	l, err := loop.New(&runCfg, log)
	if err != nil {
		return nil, fmt.Errorf("scenario: build stack: %w", err)
	}
	defer l.Close()

	result := &RunResult{Name: s.Name}
	tickS := float64(runCfg.Simulation.TickIntervalMS) / 1000.0

	for cycle := 1; cycle <= s.Cycles; cycle++ {
		start := l.CycleCount()
		for l.CycleCount() == start {
			applyPins(l, s, cycle)
			l.Tick(tickS)
		}

		d := l.LastDecision()
		rec := CycleRecord{
			Cycle:   cycle,
			Acted:   d.ShouldAct,
			MinFreq: d.MinFreqTriggered,
			NRV:     d.NRV.NRV,
		}
		if d.Selected != nil {
			rec.Action = d.Selected.Type.String()
		}
		for _, p := range l.LastPatterns() {
			rec.Patterns = append(rec.Patterns, p.Type.String())
		}
		result.Cycles = append(result.Cycles, rec)
	}

	for _, exp := range s.Expect {
		result.Results = append(result.Results, evaluate(exp, result.Cycles))
	}
	for _, r := range result.Results {
		if r.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

func applyPins(l *loop.Loop, s *Scenario, cycle int) {
	inRange := func(from, to int) bool {
		if from > 0 && cycle < from {
			return false
		}
		if to > 0 && cycle > to {
			return false
		}
		return true
	}

	for _, pin := range s.Pins {
		if !inRange(pin.FromCycle, pin.ToCycle) {
			continue
		}
		l.Engine().Pin(pin.Issuer, func(st *model.IssuerState) {
			if pin.SuccessRate != nil {
				st.SuccessRate = *pin.SuccessRate
			}
			if pin.LatencyMS != nil {
				st.LatencyMS = *pin.LatencyMS
			}
			if pin.RetryProb != nil {
				st.RetryProb = *pin.RetryProb
			}
		})
	}
	for _, pin := range s.Global {
		if !inRange(pin.FromCycle, pin.ToCycle) {
			continue
		}
		for _, issuer := range l.Engine().Issuers() {
			l.Engine().Pin(issuer, func(st *model.IssuerState) {
				if pin.SuccessRate != nil {
					st.SuccessRate = *pin.SuccessRate
				}
				if pin.RetryProb != nil {
					st.RetryProb = *pin.RetryProb
				}
			})
		}
	}
}

func evaluate(exp Expectation, cycles []CycleRecord) ExpectationResult {
	result := ExpectationResult{Expectation: exp}
	limit := exp.ByCycle
	if limit <= 0 || limit > len(cycles) {
		limit = len(cycles)
	}
	for _, rec := range cycles[:limit] {
		if exp.Pattern != "" && !contains(rec.Patterns, exp.Pattern) {
			continue
		}
		if exp.Action != "" && (!rec.Acted || rec.Action != exp.Action) {
			continue
		}
		if exp.MinFreq != nil && rec.MinFreq != *exp.MinFreq {
			continue
		}
		result.Passed = true
		result.MetAtCycle = rec.Cycle
		break
	}
	return result
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

// LoadAndRun loads a scenario file and runs it against the given config
// path (empty path uses defaults).
func LoadAndRun(scenarioPath, configPath string, log *slog.Logger) (*RunResult, error) {
	s, err := Load(scenarioPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return Run(s, cfg, log)
}
