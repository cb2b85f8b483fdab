// Package actions defines the corrective-action vocabulary shared by the
// control loops, the guardrail evaluator, the dispatch path, and the audit
// record store.
//
// The action set is a closed enum: the loops only ever propose kinds listed
// here, each with a bounded parameter shape, and the executor side dispatches
// on the kind. There is no open-ended plugin registration.
package actions

import (
	"fmt"
	"time"
)

// Kind identifies one corrective action variant.
type Kind string

const (
	// Fast-loop menu: cheap, low-risk, immediately reversible.
	KindTrafficAway       Kind = "traffic_away"       // routing hint away from the entity
	KindAdmissionThrottle Kind = "admission_throttle" // cap new work admission
	KindPrecool           Kind = "precool"            // targeted pre-cool intent

	// Slow-loop menu: bounded-step efficiency adjustments.
	KindBatchWindow  Kind = "batch_window"  // increase batching delay
	KindFanDuty      Kind = "fan_duty"      // adjust fan duty by a bounded step
	KindPumpDuty     Kind = "pump_duty"     // adjust pump duty by a bounded step
	KindSupplyTemp   Kind = "supply_temp"   // adjust supply temperature by a bounded step
	KindTrafficShift Kind = "traffic_shift" // shift a fraction of traffic
)

// Valid reports whether k is a known action kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTrafficAway, KindAdmissionThrottle, KindPrecool,
		KindBatchWindow, KindFanDuty, KindPumpDuty, KindSupplyTemp, KindTrafficShift:
		return true
	}
	return false
}

// Effect is the predicted (or realized) outcome of an action. Signs follow
// the physical direction: positive InletDeltaC means the inlet is expected
// to get warmer, positive SavingPct means energy saved.
type Effect struct {
	SavingPct      float64 `json:"savingPct"`
	LatencyDeltaMs float64 `json:"latencyDeltaMs"`
	InletDeltaC    float64 `json:"inletDeltaC"`
	PowerDeltaKW   float64 `json:"powerDeltaKw"`

	// SLARisk is a 0..1 estimate of service impact, used only for tie
	// breaking between otherwise equal candidates.
	SLARisk float64 `json:"slaRisk"`
}

// Candidate is a proposed action with its predicted effect. Candidates are
// value objects; the dispatch path never mutates them.
type Candidate struct {
	Kind   Kind               `json:"kind"`
	Entity string             `json:"entity"`
	Params map[string]float64 `json:"params"`
	Effect Effect             `json:"effect"`
	Reason string             `json:"reason"`
}

// Reverse returns the compensating candidate that undoes this one's deltas.
// Used by the rollback path; only delta-shaped params are negated.
func (c Candidate) Reverse(reason string) Candidate {
	params := make(map[string]float64, len(c.Params))
	for k, v := range c.Params {
		params[k] = -v
	}
	return Candidate{
		Kind:   c.Kind,
		Entity: c.Entity,
		Params: params,
		Effect: Effect{
			SavingPct:      -c.Effect.SavingPct,
			LatencyDeltaMs: -c.Effect.LatencyDeltaMs,
			InletDeltaC:    -c.Effect.InletDeltaC,
			PowerDeltaKW:   -c.Effect.PowerDeltaKW,
			SLARisk:        c.Effect.SLARisk,
		},
		Reason: reason,
	}
}

// Outcome classifies what happened to a proposed action. Rejections and
// deferrals are normal recorded outcomes, not errors.
type Outcome string

const (
	OutcomeExecuted  Outcome = "executed"  // dispatched and acknowledged by the sink
	OutcomeRejected  Outcome = "rejected"  // guardrail said no
	OutcomeDeferred  Outcome = "deferred"  // rate limiter said not yet
	OutcomeAdvisory  Outcome = "advisory"  // logged only (advisory mode or kill switch)
	OutcomeFailed    Outcome = "failed"    // sink failed after the bounded retry
	OutcomeEscalated Outcome = "escalated" // compensating action could not be applied
)

// Record is one append-only audit entry per decision. It is never mutated
// after creation except to attach the realized outcome and rollback flag.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Loop      string    `json:"loop"`
	Entity    string    `json:"entity"`
	Kind      Kind      `json:"kind"`

	Params    map[string]float64 `json:"params"`
	Reason    string             `json:"reason"`
	Predicted Effect             `json:"predicted"`

	Verdict string  `json:"verdict"` // human-readable guardrail verdict
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`

	// Filled in after the fact by the rollback check.
	Realized   map[string]float64 `json:"realized,omitempty"`
	RolledBack bool               `json:"rolledBack,omitempty"`

	// RollbackOf references the record this one compensates for.
	RollbackOf string `json:"rollbackOf,omitempty"`
}

// NewRecordID builds a unique, sortable record id from a timestamp and a
// per-process sequence number.
func NewRecordID(ts time.Time, seq uint64) string {
	return fmt.Sprintf("act-%d-%06d", ts.UnixNano(), seq)
}
