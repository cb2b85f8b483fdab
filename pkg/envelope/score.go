package envelope

import (
	"sync/atomic"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// Score is the deviation of one sample against one model version.
// Ephemeral: consumed by the persistence filter, never stored.
type Score struct {
	Entity    string
	Timestamp time.Time
	Deviation float64
	ModelID   string
}

// Scorer scores live samples against the active model. The model is held
// behind an atomic pointer: Swap publishes a complete immutable model, and
// concurrent Score calls see either the old or the new version in full.
//
// Score is side-effect free and safe for any number of concurrent callers.
type Scorer struct {
	active atomic.Pointer[Model]
}

// NewScorer returns a scorer with no active model. Score fails with
// ErrNoModel until Swap is called.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Swap atomically publishes a new active model and returns the previous one
// (nil if none). The model must not be mutated after this call.
func (s *Scorer) Swap(m *Model) *Model {
	return s.active.Swap(m)
}

// Active returns the current model, or nil when none is loaded.
func (s *Scorer) Active() *Model {
	return s.active.Load()
}

// Score normalizes the sample with the active model's stored statistics and
// returns the minimum distance to its centroids.
func (s *Scorer) Score(sample telemetry.Sample) (Score, error) {
	m := s.active.Load()
	if m == nil {
		return Score{}, ErrNoModel
	}
	vec, err := m.Normalize(sample)
	if err != nil {
		return Score{}, err
	}
	return Score{
		Entity:    sample.Entity,
		Timestamp: sample.Timestamp,
		Deviation: m.Deviation(vec),
		ModelID:   m.ID,
	}, nil
}
