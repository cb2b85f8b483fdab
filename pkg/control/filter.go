package control

import (
	"time"

	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// Filter converts the noisy per-tick deviation stream into a stable
// Nominal/Transient/Persistent classification using an EMA and an
// asymmetric hysteresis rule:
//
//   - Entry into Persistent requires PersistTicks consecutive smoothed
//     exceedances of tau_fast; a single sub-threshold tick resets the count.
//   - Exit from Persistent happens on the very first tick whose smoothed
//     value falls below tau_fast, no matter how long the entity was
//     Persistent.
//
// Entry is debounced, exit is not. Keep it that way: a symmetric N-tick
// exit holds actions against an entity that has already recovered.
type Filter struct {
	// Alpha is the EMA smoothing factor. Defaults to 0.3.
	Alpha float64

	// PersistTicks is the consecutive-exceedance count required to enter
	// Persistent. Defaults to 6.
	PersistTicks int
}

func (f Filter) alpha() float64 {
	if f.Alpha <= 0 || f.Alpha > 1 {
		return 0.3
	}
	return f.Alpha
}

func (f Filter) persistTicks() int {
	if f.PersistTicks <= 0 {
		return 6
	}
	return f.PersistTicks
}

// Transition is the single pure state-transition function: given the current
// classification and exceedance count, the new smoothed value and the
// threshold, it returns the next classification and count. It has no other
// inputs and no side effects; every rule about the state machine lives here.
func Transition(class Classification, count int, smoothed, tauFast float64, persistTicks int) (Classification, int) {
	if smoothed <= tauFast {
		// Recovery tick: immediate exit, regardless of previous state.
		return ClassNominal, 0
	}

	count++
	if count >= persistTicks || class == ClassPersistent {
		return ClassPersistent, count
	}
	return ClassTransient, count
}

// Observe folds one deviation score and its source sample into the entity's
// control state. It never blocks and is safe to run inline on the ingestion
// path. Returns a copy of the updated state.
func (f Filter) Observe(table *Table, sample telemetry.Sample, score envelope.Score, tauFast float64) EntityState {
	alpha := f.alpha()
	ticks := f.persistTicks()

	return table.Update(score.Entity, func(st *EntityState) {
		if !st.Seeded {
			st.SmoothedDeviation = score.Deviation
			st.Seeded = true
		} else {
			st.SmoothedDeviation = alpha*score.Deviation + (1-alpha)*st.SmoothedDeviation
		}
		st.RawDeviation = score.Deviation
		st.ModelID = score.ModelID
		st.Metrics = sample.CloneMetrics()

		st.Class, st.ExceedCount = Transition(st.Class, st.ExceedCount, st.SmoothedDeviation, tauFast, ticks)

		if st.Class == ClassNominal {
			st.LastGood = sample.CloneMetrics()
		}

		if ts := score.Timestamp; !ts.IsZero() {
			st.UpdatedAt = ts
		} else {
			st.UpdatedAt = time.Now().UTC()
		}
	})
}
