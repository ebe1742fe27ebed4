// Package feedback closes the control loop: interventions chosen by the
// decision policy become multipliers on the transaction generator's
// parameters, so cause and effect stay observable in the same stream.
package feedback

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/payops/autopilot/internal/model"
)

// DefaultDurationMS applies when an option declares no duration.
const DefaultDurationMS = 300_000

// DefaultRampMS is how long an expired intervention's multipliers take to
// interpolate back to 1.0. The requirement band is 30-60 s.
const DefaultRampMS = 45_000

// Effect multipliers per intervention type.
const (
	suppressSuccessFactor = 0.1
	suppressVolumeFactor  = 0.1
	rerouteVolumeFactor   = 0.3
	reduceRetryFactor     = 0.5
	adjustRetryFactor     = 1.5
)

// Active is one in-flight intervention.
type Active struct {
	ID        string                    `json:"id"`
	Option    model.InterventionOption  `json:"option"`
	StartMS   int64                     `json:"start_ms"`
	EndMS     int64                     `json:"end_ms"`
	Rollbacks []model.RollbackCondition `json:"rollback_conditions,omitempty"`

	// BaselineSuccess is the global success rate when the intervention was
	// applied; rollback conditions measure regression against it.
	BaselineSuccess float64 `json:"baseline_success"`
}

// ramping is an expired intervention whose multipliers are still
// interpolating back toward 1.0.
type ramping struct {
	active  Active
	rampEnd int64
}

// RolledBack describes an intervention removed before its deadline.
type RolledBack struct {
	Intervention Active
	Reason       string
}

// Controller tracks active interventions and exposes the multipliers the
// generator reads each batch. Owned by the control loop; not safe for
// concurrent mutation.
type Controller struct {
	active []Active
	ramps  []ramping
	rampMS int64
	log    *slog.Logger
}

// New creates a controller with the given ramp-back duration.
func New(rampMS int64, log *slog.Logger) *Controller {
	if rampMS <= 0 {
		rampMS = DefaultRampMS
	}
	return &Controller{rampMS: rampMS, log: log.With("component", "feedback")}
}

// Apply activates an option. baselineSuccess is the current global success
// rate, recorded for rollback-condition checks.
func (c *Controller) Apply(option model.InterventionOption, nowMS int64, baselineSuccess float64) Active {
	duration := option.Params.DurationMS
	if duration <= 0 {
		duration = DefaultDurationMS
	}
	a := Active{
		ID:              uuid.NewString(),
		Option:          option,
		StartMS:         nowMS,
		EndMS:           nowMS + duration,
		Rollbacks:       option.Rollbacks,
		BaselineSuccess: baselineSuccess,
	}
	c.active = append(c.active, a)
	c.log.Info("intervention applied",
		"id", a.ID,
		"type", option.Type.String(),
		"target", option.Target,
		"duration_ms", duration)
	return a
}

// Restore re-installs interventions loaded from a snapshot with their
// original deadlines.
func (c *Controller) Restore(active []Active) {
	c.active = append(c.active[:0], active...)
}

// Active returns a copy of the in-flight intervention list.
func (c *Controller) Active() []Active {
	out := make([]Active, len(c.active))
	copy(out, c.active)
	return out
}

// Tick drops every intervention whose deadline has passed, moving it into
// the ramp-back phase. Returns the expired entries. Must run before each
// generation batch so stale multipliers never reach new transactions.
func (c *Controller) Tick(nowMS int64) []Active {
	var expired []Active
	kept := c.active[:0]
	for _, a := range c.active {
		if a.EndMS <= nowMS {
			expired = append(expired, a)
			c.ramps = append(c.ramps, ramping{active: a, rampEnd: a.EndMS + c.rampMS})
			c.log.Info("intervention expired", "id", a.ID, "type", a.Option.Type.String())
			continue
		}
		kept = append(kept, a)
	}
	c.active = kept

	liveRamps := c.ramps[:0]
	for _, r := range c.ramps {
		if r.rampEnd > nowMS {
			liveRamps = append(liveRamps, r)
		}
	}
	c.ramps = liveRamps
	return expired
}

// CheckRollbacks removes any active intervention whose rollback condition
// fires against the current global success rate. Rolled-back interventions
// do not ramp; their effect ends immediately.
func (c *Controller) CheckRollbacks(globalSuccess float64) []RolledBack {
	var out []RolledBack
	kept := c.active[:0]
	for _, a := range c.active {
		fired := ""
		for _, cond := range a.Rollbacks {
			if cond.Metric == "global_success_rate" &&
				a.BaselineSuccess-globalSuccess >= cond.Threshold {
				fired = "global success regression"
				break
			}
		}
		if fired == "" {
			kept = append(kept, a)
			continue
		}
		c.log.Warn("intervention rolled back",
			"id", a.ID,
			"type", a.Option.Type.String(),
			"reason", fired,
			"baseline_success", a.BaselineSuccess,
			"current_success", globalSuccess)
		out = append(out, RolledBack{Intervention: a, Reason: fired})
	}
	c.active = kept
	return out
}

// rampFactor interpolates a base multiplier toward 1.0 across the ramp
// window: base at ramp start, 1.0 at ramp end.
func (c *Controller) rampFactor(r ramping, base float64, nowMS int64) float64 {
	elapsed := nowMS - r.active.EndMS
	if elapsed <= 0 {
		return base
	}
	if elapsed >= c.rampMS {
		return 1.0
	}
	frac := float64(elapsed) / float64(c.rampMS)
	return base + (1-base)*frac
}

// SuccessMultiplier is the product of success-rate effects targeting the
// issuer. Composition is multiplicative, so overlap order does not matter.
func (c *Controller) SuccessMultiplier(issuer string, nowMS int64) float64 {
	m := 1.0
	for _, a := range c.active {
		if a.Option.Type == model.SuppressPath && a.Option.TargetIssuer() == issuer {
			m *= suppressSuccessFactor
		}
	}
	for _, r := range c.ramps {
		if r.active.Option.Type == model.SuppressPath && r.active.Option.TargetIssuer() == issuer {
			m *= c.rampFactor(r, suppressSuccessFactor, nowMS)
		}
	}
	return m
}

// VolumeMultiplier is the product of traffic-weight effects targeting the
// issuer.
func (c *Controller) VolumeMultiplier(issuer string, nowMS int64) float64 {
	m := 1.0
	for _, a := range c.active {
		switch a.Option.Type {
		case model.SuppressPath:
			if a.Option.TargetIssuer() == issuer {
				m *= suppressVolumeFactor
			}
		case model.RerouteTraffic:
			if a.Option.TargetIssuer() == issuer {
				m *= rerouteVolumeFactor
			}
		}
	}
	for _, r := range c.ramps {
		switch r.active.Option.Type {
		case model.SuppressPath:
			if r.active.Option.TargetIssuer() == issuer {
				m *= c.rampFactor(r, suppressVolumeFactor, nowMS)
			}
		case model.RerouteTraffic:
			if r.active.Option.TargetIssuer() == issuer {
				m *= c.rampFactor(r, rerouteVolumeFactor, nowMS)
			}
		}
	}
	return m
}

// RetryMultiplier is the global retry-probability multiplier.
func (c *Controller) RetryMultiplier(nowMS int64) float64 {
	m := 1.0
	for _, a := range c.active {
		switch a.Option.Type {
		case model.ReduceRetryAttempts:
			m *= reduceRetryFactor
		case model.AdjustRetry:
			m *= adjustRetryFactor
		}
	}
	for _, r := range c.ramps {
		switch r.active.Option.Type {
		case model.ReduceRetryAttempts:
			m *= c.rampFactor(r, reduceRetryFactor, nowMS)
		case model.AdjustRetry:
			m *= c.rampFactor(r, adjustRetryFactor, nowMS)
		}
	}
	return m
}
