package control

import (
	"testing"

	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

func kinds(cands []actions.Candidate) map[actions.Kind]int {
	out := make(map[actions.Kind]int)
	for _, c := range cands {
		out[c.Kind]++
	}
	return out
}

func TestStaticEstimator_CoolQuietRack(t *testing.T) {
	e := &StaticEstimator{Limits: testLimits()}
	st := EntityState{
		Entity:            "rack-1",
		SmoothedDeviation: 0.3,
		Metrics: map[string]float64{
			telemetry.MetricInletC:       23,  // margin 5C
			telemetry.MetricLatencyP95Ms: 150, // plenty of SLA headroom
		},
	}

	got := kinds(e.Candidates(st, 2.2, 3.0))

	if got[actions.KindBatchWindow] != 3 {
		t.Errorf("expected 3 batch window steps, got %d", got[actions.KindBatchWindow])
	}
	if got[actions.KindFanDuty] != 3 {
		t.Errorf("expected 3 fan duty steps, got %d", got[actions.KindFanDuty])
	}
	if got[actions.KindSupplyTemp] != 2 {
		t.Errorf("expected 2 supply temp steps, got %d", got[actions.KindSupplyTemp])
	}
	if got[actions.KindTrafficShift] != 0 {
		t.Errorf("traffic shift proposed without elevated deviation: %d", got[actions.KindTrafficShift])
	}
	if got[actions.KindPumpDuty] != 0 {
		t.Errorf("pump duty proposed with wide thermal margin: %d", got[actions.KindPumpDuty])
	}
}

func TestStaticEstimator_TightMargins(t *testing.T) {
	e := &StaticEstimator{Limits: testLimits()}
	st := EntityState{
		Entity:            "rack-1",
		SmoothedDeviation: 1.5, // above half of tau_fast
		Metrics: map[string]float64{
			telemetry.MetricInletC:       27.3, // margin 0.7C
			telemetry.MetricLatencyP95Ms: 240,  // close to SLA
		},
	}

	got := kinds(e.Candidates(st, 2.2, 3.0))

	if got[actions.KindBatchWindow] != 0 {
		t.Errorf("batch window proposed without SLA headroom: %d", got[actions.KindBatchWindow])
	}
	if got[actions.KindFanDuty] != 0 || got[actions.KindSupplyTemp] != 0 {
		t.Errorf("warming candidates proposed inside thermal margin: fan=%d supply=%d",
			got[actions.KindFanDuty], got[actions.KindSupplyTemp])
	}
	if got[actions.KindTrafficShift] != 3 {
		t.Errorf("expected 3 traffic shift steps at elevated deviation, got %d", got[actions.KindTrafficShift])
	}
	if got[actions.KindPumpDuty] != 2 {
		t.Errorf("expected 2 pump duty steps near the ceiling, got %d", got[actions.KindPumpDuty])
	}
}

func TestStaticEstimator_EffectSigns(t *testing.T) {
	e := &StaticEstimator{Limits: testLimits()}
	st := EntityState{
		Entity:            "rack-1",
		SmoothedDeviation: 1.5,
		Metrics: map[string]float64{
			telemetry.MetricInletC:       27.3,
			telemetry.MetricLatencyP95Ms: 150,
		},
	}

	for _, c := range e.Candidates(st, 2.2, 3.0) {
		if c.Entity != "rack-1" {
			t.Errorf("%s: wrong entity %q", c.Kind, c.Entity)
		}
		if c.Reason == "" {
			t.Errorf("%s: candidate without reason", c.Kind)
		}
		if c.Kind == actions.KindPumpDuty {
			if c.Effect.SavingPct >= 0 {
				t.Errorf("pump duty must cost energy, saving %v", c.Effect.SavingPct)
			}
			if c.Effect.InletDeltaC >= 0 {
				t.Errorf("pump duty must cool the inlet, delta %v", c.Effect.InletDeltaC)
			}
		}
		if c.Effect.SLARisk <= 0 || c.Effect.SLARisk >= 1 {
			t.Errorf("%s: SLA risk out of range: %v", c.Kind, c.Effect.SLARisk)
		}
	}
}
