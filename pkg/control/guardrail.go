package control

import (
	"fmt"

	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// Limits are the hard operational ceilings no approved action may be
// predicted to cross. Zero-valued ceilings disable the corresponding check
// (a facility without liquid cooling sets no outlet ceiling, for example).
type Limits struct {
	InletMaxC    float64 `json:"inletMaxC"`
	OutletMaxC   float64 `json:"outletMaxC"`
	SLALatencyMs float64 `json:"slaLatencyMs"`
	RackPowerKW  float64 `json:"rackPowerKw"`

	// DeviationGuardFrac is the fraction of tau_persist above which any
	// candidate predicted to push the deviation further up is rejected.
	// Defaults to 0.7.
	DeviationGuardFrac float64 `json:"deviationGuardFrac"`
}

func (l Limits) deviationGuardFrac() float64 {
	if l.DeviationGuardFrac <= 0 || l.DeviationGuardFrac > 1 {
		return 0.7
	}
	return l.DeviationGuardFrac
}

// Observed is the slice of current state the guardrail evaluator projects
// candidate effects onto.
type Observed struct {
	InletC       float64
	OutletC      float64
	LatencyP95Ms float64
	PowerKW      float64

	SmoothedDeviation float64
	TauPersist        float64
}

// ObservedFrom extracts the guardrail inputs from an entity state and the
// active model's persistence threshold.
func ObservedFrom(st EntityState, tauPersist float64) Observed {
	return Observed{
		InletC:            st.Metrics[telemetry.MetricInletC],
		OutletC:           st.Metrics[telemetry.MetricOutletC],
		LatencyP95Ms:      st.Metrics[telemetry.MetricLatencyP95Ms],
		PowerKW:           st.Metrics[telemetry.MetricPDUPowerKW],
		SmoothedDeviation: st.SmoothedDeviation,
		TauPersist:        tauPersist,
	}
}

// Verdict is the result of guardrail evaluation. Reason is always set on a
// rejection and is written verbatim into the action record.
type Verdict struct {
	Allowed bool
	Reason  string
}

func allow() Verdict { return Verdict{Allowed: true, Reason: "within limits"} }

func reject(format string, args ...any) Verdict {
	return Verdict{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate is a pure predicate: it projects the candidate's predicted effect
// onto the observed state and rejects on the first violated limit. There is
// no partial application: one violated limit rejects the whole candidate.
func (l Limits) Evaluate(c actions.Candidate, obs Observed) Verdict {
	if l.InletMaxC > 0 {
		if projected := obs.InletC + c.Effect.InletDeltaC; projected > l.InletMaxC {
			return reject("projected inlet %.2fC exceeds ceiling %.2fC", projected, l.InletMaxC)
		}
	}
	if l.OutletMaxC > 0 {
		if projected := obs.OutletC + c.Effect.InletDeltaC; projected > l.OutletMaxC {
			return reject("projected outlet %.2fC exceeds ceiling %.2fC", projected, l.OutletMaxC)
		}
	}
	if l.SLALatencyMs > 0 {
		if projected := obs.LatencyP95Ms + c.Effect.LatencyDeltaMs; projected > l.SLALatencyMs {
			return reject("projected p95 latency %.1fms exceeds SLA %.1fms", projected, l.SLALatencyMs)
		}
	}
	if l.RackPowerKW > 0 {
		if projected := obs.PowerKW + c.Effect.PowerDeltaKW; projected > l.RackPowerKW {
			return reject("projected power %.2fkW exceeds cap %.2fkW", projected, l.RackPowerKW)
		}
	}
	if obs.TauPersist > 0 && c.Effect.InletDeltaC > 0 {
		// A warming action while the smoothed deviation is already close to
		// tau_persist pushes the entity toward the ceiling, not away from it.
		guard := l.deviationGuardFrac() * obs.TauPersist
		if obs.SmoothedDeviation >= guard {
			return reject("smoothed deviation %.3f >= %.3f, candidate would push toward tau_persist %.3f",
				obs.SmoothedDeviation, guard, obs.TauPersist)
		}
	}
	return allow()
}
