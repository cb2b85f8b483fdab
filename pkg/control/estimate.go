package control

import (
	"fmt"

	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// Estimator enumerates slow-loop action candidates for an entity, each with
// a predicted effect. It is an interface so the shipped static coefficients
// can be replaced by a learned forecaster without touching the loop; how
// predicted magnitudes get calibrated against realized outcomes over time is
// the substitute's concern, not the loop's.
type Estimator interface {
	Candidates(st EntityState, tauFast, tauPersist float64) []actions.Candidate
}

// StaticEstimator generates candidates from fixed heuristic coefficients.
// Every delta is bounded; the step menus are deliberately short.
type StaticEstimator struct {
	Limits Limits
}

// Candidates implements Estimator.
func (e *StaticEstimator) Candidates(st EntityState, tauFast, tauPersist float64) []actions.Candidate {
	var out []actions.Candidate

	inlet := st.Metrics[telemetry.MetricInletC]
	latency := st.Metrics[telemetry.MetricLatencyP95Ms]
	inletMargin := e.Limits.InletMaxC - inlet

	// Longer batching windows trade a little latency for throughput
	// efficiency; only worth proposing with real SLA headroom.
	if e.Limits.SLALatencyMs > 0 && latency < e.Limits.SLALatencyMs*0.85 {
		for _, deltaMs := range []float64{20, 30, 40} {
			out = append(out, actions.Candidate{
				Kind:   actions.KindBatchWindow,
				Entity: st.Entity,
				Params: map[string]float64{"delta_ms": deltaMs},
				Effect: actions.Effect{
					SavingPct:      deltaMs * 0.2,
					LatencyDeltaMs: deltaMs * 0.4,
					InletDeltaC:    0.1,
					SLARisk:        0.2,
				},
				Reason: fmt.Sprintf("increase batch window by %.0fms for throughput efficiency", deltaMs),
			})
		}
	}

	// Fan duty reduction saves energy when thermal margin allows the inlet
	// to creep up a little.
	if inletMargin > 2.0 {
		for _, deltaPct := range []float64{-3, -4, -5} {
			out = append(out, actions.Candidate{
				Kind:   actions.KindFanDuty,
				Entity: st.Entity,
				Params: map[string]float64{"delta_pct": deltaPct},
				Effect: actions.Effect{
					SavingPct:    -deltaPct * 1.2,
					InletDeltaC:  -deltaPct * 0.15,
					PowerDeltaKW: deltaPct * 0.02,
					SLARisk:      0.3,
				},
				Reason: fmt.Sprintf("reduce fan duty by %.0f%% within thermal margin", -deltaPct),
			})
		}
	}

	// Raising supply temperature saves chiller energy; largest thermal
	// impact, so it needs the widest margin.
	if inletMargin > 3.0 {
		for _, deltaC := range []float64{0.5, 1.0} {
			out = append(out, actions.Candidate{
				Kind:   actions.KindSupplyTemp,
				Entity: st.Entity,
				Params: map[string]float64{"delta_c": deltaC},
				Effect: actions.Effect{
					SavingPct:   deltaC * 4.0,
					InletDeltaC: deltaC,
					SLARisk:     0.4,
				},
				Reason: fmt.Sprintf("raise supply temp by %.1fC to save chiller energy", deltaC),
			})
		}
	}

	// Traffic shifting balances thermal load once the deviation is elevated.
	if st.SmoothedDeviation > tauFast*0.5 {
		for _, pct := range []float64{10, 15, 20} {
			out = append(out, actions.Candidate{
				Kind:   actions.KindTrafficShift,
				Entity: st.Entity,
				Params: map[string]float64{"fraction_pct": pct},
				Effect: actions.Effect{
					SavingPct:      pct * 0.15,
					LatencyDeltaMs: 5,
					InletDeltaC:    -0.3,
					SLARisk:        0.25,
				},
				Reason: fmt.Sprintf("shift %.0f%% of traffic to rebalance thermal load", pct),
			})
		}
	}

	// Pump duty increase costs energy but pulls the inlet down when it is
	// closing in on the ceiling.
	if e.Limits.InletMaxC > 0 && inletMargin < 1.0 {
		for _, deltaPct := range []float64{3, 5} {
			out = append(out, actions.Candidate{
				Kind:   actions.KindPumpDuty,
				Entity: st.Entity,
				Params: map[string]float64{"delta_pct": deltaPct},
				Effect: actions.Effect{
					SavingPct:    -deltaPct * 0.5,
					InletDeltaC:  -0.4,
					PowerDeltaKW: deltaPct * 0.03,
					SLARisk:      0.35,
				},
				Reason: fmt.Sprintf("increase pump duty by %.0f%% to improve coolant circulation", deltaPct),
			})
		}
	}

	return out
}
