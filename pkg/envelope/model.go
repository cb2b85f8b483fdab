// Package envelope implements the learned nominal operating envelope:
// training a per-facility model from historical telemetry, and scoring live
// samples by their distance to it.
//
// A Model is an immutable, versioned artifact. It carries the ordered feature
// schema, the normalization statistics fitted at training time, the cluster
// centroids in normalized space, and the two percentile-derived deviation
// thresholds (TauFast, TauPersist). Models are published to the Scorer via an
// atomic swap, so concurrent scoring never observes a half-updated model.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

var (
	// ErrNoModel is returned by the Scorer before a model has been loaded.
	ErrNoModel = errors.New("envelope: no active model")

	// ErrSchemaMismatch is returned when a sample is missing a metric the
	// model's feature schema requires.
	ErrSchemaMismatch = errors.New("envelope: sample does not match feature schema")

	// ErrInsufficientData is returned by training when the nominal subset is
	// too small for clustering to mean anything.
	ErrInsufficientData = errors.New("envelope: insufficient nominal samples")
)

// Model is the trained envelope artifact. Immutable after creation: the
// trainer builds it, Save/Load round-trip it, and nothing mutates it in place.
type Model struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`

	// Features is the ordered metric schema. Means, Stds and every centroid
	// are indexed in this order.
	Features []string `json:"features"`

	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`

	Centroids [][]float64 `json:"centroids"`

	TauFast    float64 `json:"tauFast"`
	TauPersist float64 `json:"tauPersist"`

	// Training metadata, informational only.
	TrainingSamples int       `json:"trainingSamples"`
	TrainedFrom     time.Time `json:"trainedFrom"`
	TrainedTo       time.Time `json:"trainedTo"`
}

// Validate checks internal consistency of an artifact, typically after Load.
func (m *Model) Validate() error {
	n := len(m.Features)
	if n == 0 {
		return fmt.Errorf("envelope: model %s has no features", m.ID)
	}
	if len(m.Means) != n || len(m.Stds) != n {
		return fmt.Errorf("envelope: model %s stats length %d/%d does not match %d features",
			m.ID, len(m.Means), len(m.Stds), n)
	}
	if len(m.Centroids) == 0 {
		return fmt.Errorf("envelope: model %s has no centroids", m.ID)
	}
	for i, c := range m.Centroids {
		if len(c) != n {
			return fmt.Errorf("envelope: model %s centroid %d has %d dims, want %d", m.ID, i, len(c), n)
		}
	}
	for i, s := range m.Stds {
		if s <= 0 {
			return fmt.Errorf("envelope: model %s has non-positive std for %s", m.ID, m.Features[i])
		}
	}
	if m.TauFast <= 0 || m.TauPersist < m.TauFast {
		return fmt.Errorf("envelope: model %s has invalid thresholds tauFast=%v tauPersist=%v",
			m.ID, m.TauFast, m.TauPersist)
	}
	return nil
}

// Normalize maps a sample onto the model's feature order and rescales it with
// the stored statistics. Returns ErrSchemaMismatch if any required metric is
// absent.
func (m *Model) Normalize(sample telemetry.Sample) ([]float64, error) {
	vec := make([]float64, len(m.Features))
	for i, name := range m.Features {
		v, ok := sample.Metrics[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrSchemaMismatch, name)
		}
		vec[i] = (v - m.Means[i]) / m.Stds[i]
	}
	return vec, nil
}

// Deviation returns the minimum Euclidean distance from a normalized vector
// to the model's centroids.
func (m *Model) Deviation(vec []float64) float64 {
	best := math.Inf(1)
	for _, c := range m.Centroids {
		var sum float64
		for i, v := range vec {
			d := v - c[i]
			sum += d * d
		}
		if sum < best {
			best = sum
		}
	}
	return math.Sqrt(best)
}

// Save writes the model as a JSON artifact. The artifact is self-contained
// and loadable by any process, independent of the one that trained it.
func (m *Model) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("envelope: marshal model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("envelope: write model artifact: %w", err)
	}
	return nil
}

// Load reads and validates a model artifact written by Save.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("envelope: read model artifact: %w", err)
	}
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal model artifact: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
