// Package control implements the persistence filter and the two-speed
// control loop that turn deviation scores into guardrail-checked,
// rate-limited corrective actions.
//
// All per-entity mutable state lives in the Table. Updates for a given entity
// are serialized through a per-entity lock; everything handed out of the
// package is a copy.
package control

import (
	"sort"
	"sync"
	"time"
)

// Classification is the stable operational state derived from noisy
// per-tick deviation.
type Classification string

const (
	ClassNominal    Classification = "nominal"
	ClassTransient  Classification = "transient"
	ClassPersistent Classification = "persistent"
)

// EntityState is the long-lived control state for one entity (rack).
// Owned exclusively by this package; mutated only by the filter and the two
// loops; exported only as copies.
type EntityState struct {
	Entity string `json:"entity"`

	// SmoothedDeviation is the EMA of deviation scores, seeded with the
	// first observation (Seeded tracks that).
	SmoothedDeviation float64 `json:"smoothedDeviation"`
	RawDeviation      float64 `json:"rawDeviation"`
	Seeded            bool    `json:"-"`

	// ExceedCount is the consecutive-tick count of smoothed exceedances of
	// tau_fast since the last sub-threshold tick.
	ExceedCount int `json:"exceedCount"`

	Class Classification `json:"classification"`

	// Metrics is the latest observed raw metric set.
	Metrics map[string]float64 `json:"metrics,omitempty"`

	// LastGood is the most recent metric snapshot taken while Nominal, used
	// by the rollback comparison.
	LastGood map[string]float64 `json:"-"`

	ModelID   string    `json:"modelId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type tableEntry struct {
	mu sync.Mutex
	st EntityState
}

// Table holds the control state for every known entity. The outer map is
// guarded by an RWMutex; each entry carries its own lock so that updates for
// one entity never block reads or updates of another.
type Table struct {
	mu      sync.RWMutex
	entries map[string]*tableEntry
}

// NewTable creates an empty state table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*tableEntry)}
}

func (t *Table) entry(entity string) *tableEntry {
	t.mu.RLock()
	e, ok := t.entries[entity]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.entries[entity]; ok {
		return e
	}
	e = &tableEntry{st: EntityState{Entity: entity, Class: ClassNominal}}
	t.entries[entity] = e
	return e
}

// Update applies fn to the entity's state under its lock and returns a copy
// of the result. fn sees and mutates the live state; this is the single
// writer section per entity.
func (t *Table) Update(entity string, fn func(*EntityState)) EntityState {
	e := t.entry(entity)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.st)
	return copyState(e.st)
}

// Get returns a copy of the entity's state.
func (t *Table) Get(entity string) (EntityState, bool) {
	t.mu.RLock()
	e, ok := t.entries[entity]
	t.mu.RUnlock()
	if !ok {
		return EntityState{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyState(e.st), true
}

// Snapshot returns copies of all entity states, sorted by entity id, for the
// loops and the read-only observability export.
func (t *Table) Snapshot() []EntityState {
	t.mu.RLock()
	entries := make([]*tableEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make([]EntityState, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, copyState(e.st))
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

func copyState(st EntityState) EntityState {
	out := st
	out.Metrics = copyMetrics(st.Metrics)
	out.LastGood = copyMetrics(st.LastGood)
	return out
}

func copyMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
