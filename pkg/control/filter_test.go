package control

import (
	"testing"
	"time"

	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

func TestTransition_BelowThresholdIsNominal(t *testing.T) {
	for _, class := range []Classification{ClassNominal, ClassTransient, ClassPersistent} {
		next, count := Transition(class, 5, 2.0, 2.2, 6)
		if next != ClassNominal {
			t.Errorf("from %s: expected nominal below threshold, got %s", class, next)
		}
		if count != 0 {
			t.Errorf("from %s: expected count reset to 0, got %d", class, count)
		}
	}
}

func TestTransition_EntryRequiresConsecutiveExceedances(t *testing.T) {
	// Smoothed deviation trace crossing the threshold at the third tick and
	// staying above. Entry into persistent must happen exactly on the sixth
	// consecutive exceedance, not before.
	trace := []float64{1.0, 1.1, 2.5, 2.6, 2.7, 2.8, 2.9, 3.0}
	tauFast := 2.2
	persistTicks := 6

	expected := []Classification{
		ClassNominal,    // 1.0
		ClassNominal,    // 1.1
		ClassTransient,  // 2.5, exceedance 1
		ClassTransient,  // 2.6, exceedance 2
		ClassTransient,  // 2.7, exceedance 3
		ClassTransient,  // 2.8, exceedance 4
		ClassTransient,  // 2.9, exceedance 5
		ClassPersistent, // 3.0, exceedance 6
	}

	class, count := ClassNominal, 0
	for i, v := range trace {
		class, count = Transition(class, count, v, tauFast, persistTicks)
		if class != expected[i] {
			t.Fatalf("tick %d (smoothed %.1f): expected %s, got %s", i, v, expected[i], class)
		}
	}
	if count != 6 {
		t.Errorf("expected final count 6, got %d", count)
	}
}

func TestTransition_SingleRecoveryResetsCount(t *testing.T) {
	class, count := ClassNominal, 0

	// Five exceedances, one dip, then five more. The dip must reset the
	// counter so persistent is never reached.
	trace := []float64{2.5, 2.5, 2.5, 2.5, 2.5, 1.0, 2.5, 2.5, 2.5, 2.5, 2.5}
	for i, v := range trace {
		class, count = Transition(class, count, v, 2.2, 6)
		if class == ClassPersistent {
			t.Fatalf("tick %d: became persistent despite interrupted run", i)
		}
	}
	if count != 5 {
		t.Errorf("expected count 5 after second run, got %d", count)
	}
}

func TestTransition_ExitIsImmediate(t *testing.T) {
	class, count := ClassPersistent, 20

	class, count = Transition(class, count, 2.1, 2.2, 6)
	if class != ClassNominal {
		t.Errorf("expected immediate exit on first recovery tick, got %s", class)
	}
	if count != 0 {
		t.Errorf("expected count 0 after exit, got %d", count)
	}
}

func TestTransition_StaysPersistentWhileExceeding(t *testing.T) {
	class, count := ClassPersistent, 6
	for i := 0; i < 10; i++ {
		class, count = Transition(class, count, 3.0, 2.2, 6)
		if class != ClassPersistent {
			t.Fatalf("tick %d: left persistent while still exceeding", i)
		}
	}
	if count != 16 {
		t.Errorf("expected count 16, got %d", count)
	}
}

func sampleAt(entity string, ts time.Time, inlet float64) telemetry.Sample {
	return telemetry.Sample{
		Timestamp: ts,
		Entity:    entity,
		Metrics:   map[string]float64{telemetry.MetricInletC: inlet},
	}
}

func TestFilter_ObserveSeedsWithFirstScore(t *testing.T) {
	table := NewTable()
	f := Filter{Alpha: 0.3, PersistTicks: 6}
	ts := time.Now().UTC()

	st := f.Observe(table, sampleAt("rack-1", ts, 22), envelope.Score{
		Entity: "rack-1", Timestamp: ts, Deviation: 1.5, ModelID: "m1",
	}, 2.2)

	if st.SmoothedDeviation != 1.5 {
		t.Errorf("expected EMA seeded with first score 1.5, got %v", st.SmoothedDeviation)
	}
	if st.RawDeviation != 1.5 {
		t.Errorf("expected raw 1.5, got %v", st.RawDeviation)
	}
	if st.Class != ClassNominal {
		t.Errorf("expected nominal, got %s", st.Class)
	}
	if st.ModelID != "m1" {
		t.Errorf("expected model id m1, got %q", st.ModelID)
	}
}

func TestFilter_ObserveAppliesEMA(t *testing.T) {
	table := NewTable()
	f := Filter{Alpha: 0.3, PersistTicks: 6}
	ts := time.Now().UTC()

	f.Observe(table, sampleAt("rack-1", ts, 22), envelope.Score{
		Entity: "rack-1", Timestamp: ts, Deviation: 1.0,
	}, 2.2)
	st := f.Observe(table, sampleAt("rack-1", ts.Add(time.Second), 22), envelope.Score{
		Entity: "rack-1", Timestamp: ts.Add(time.Second), Deviation: 2.0,
	}, 2.2)

	want := 0.3*2.0 + 0.7*1.0
	if diff := st.SmoothedDeviation - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected smoothed %v, got %v", want, st.SmoothedDeviation)
	}
}

func TestFilter_LastGoodOnlyWhileNominal(t *testing.T) {
	table := NewTable()
	f := Filter{Alpha: 1.0, PersistTicks: 2}
	ts := time.Now().UTC()

	f.Observe(table, sampleAt("rack-1", ts, 22), envelope.Score{
		Entity: "rack-1", Timestamp: ts, Deviation: 1.0,
	}, 2.2)
	st := f.Observe(table, sampleAt("rack-1", ts.Add(time.Second), 29), envelope.Score{
		Entity: "rack-1", Timestamp: ts.Add(time.Second), Deviation: 5.0,
	}, 2.2)

	if st.Class != ClassTransient {
		t.Fatalf("expected transient after exceedance with alpha 1, got %s", st.Class)
	}
	if got := st.LastGood[telemetry.MetricInletC]; got != 22 {
		t.Errorf("expected last-good inlet 22 frozen before exceedance, got %v", got)
	}
	if got := st.Metrics[telemetry.MetricInletC]; got != 29 {
		t.Errorf("expected current inlet 29, got %v", got)
	}
}

func TestFilter_EntitiesAreIndependent(t *testing.T) {
	table := NewTable()
	f := Filter{Alpha: 1.0, PersistTicks: 2}
	ts := time.Now().UTC()

	for i := 0; i < 3; i++ {
		f.Observe(table, sampleAt("rack-bad", ts, 28), envelope.Score{
			Entity: "rack-bad", Timestamp: ts, Deviation: 5.0,
		}, 2.2)
	}
	st := f.Observe(table, sampleAt("rack-ok", ts, 22), envelope.Score{
		Entity: "rack-ok", Timestamp: ts, Deviation: 0.5,
	}, 2.2)

	if st.Class != ClassNominal {
		t.Errorf("rack-ok affected by rack-bad: got %s", st.Class)
	}
	bad, _ := table.Get("rack-bad")
	if bad.Class != ClassPersistent {
		t.Errorf("expected rack-bad persistent after 3 exceedances with persistTicks 2, got %s", bad.Class)
	}
}
