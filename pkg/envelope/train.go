package envelope

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// minStd is substituted for any feature whose training variance collapses to
// zero, so normalization never divides by zero.
const minStd = 1e-6

// Trainer builds envelope models from a window of historical telemetry.
// Training is offline and not latency-critical; it never touches the live
// scorer until the caller swaps the finished model in.
type Trainer struct {
	// Features is the ordered metric schema. Defaults to
	// telemetry.DefaultFeatures when empty.
	Features []string

	// Clusters is the k-means cluster count. Defaults to 8.
	Clusters int

	// MinSamples is the smallest nominal subset training accepts.
	// Defaults to 100.
	MinSamples int

	// TauFastPercentile and TauPersistPercentile derive the thresholds from
	// the training-time deviation distribution. Defaults: 95 and 98.
	TauFastPercentile    float64
	TauPersistPercentile float64

	// Seed makes clustering reproducible. 0 means a fixed default seed.
	Seed int64

	// MaxIterations bounds Lloyd's algorithm. Defaults to 100.
	MaxIterations int

	Logger *slog.Logger
}

// Train fits a new model on the subset of samples accepted by the nominal
// predicate. A nil predicate accepts everything (the caller has pre-filtered).
// Returns ErrInsufficientData when the nominal subset is smaller than
// MinSamples.
func (t *Trainer) Train(modelID string, samples []telemetry.Sample, nominal func(telemetry.Sample) bool) (*Model, error) {
	features := t.Features
	if len(features) == 0 {
		features = telemetry.DefaultFeatures
	}
	clusters := t.Clusters
	if clusters <= 0 {
		clusters = 8
	}
	minSamples := t.MinSamples
	if minSamples <= 0 {
		minSamples = 100
	}
	pFast := t.TauFastPercentile
	if pFast <= 0 {
		pFast = 95
	}
	pPersist := t.TauPersistPercentile
	if pPersist <= 0 {
		pPersist = 98
	}
	seed := t.Seed
	if seed == 0 {
		seed = 42
	}
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	kept := make([]telemetry.Sample, 0, len(samples))
	for _, s := range samples {
		if nominal == nil || nominal(s) {
			kept = append(kept, s)
		}
	}
	logger.Info("filtered nominal training window",
		"total", len(samples),
		"nominal", len(kept),
	)

	if len(kept) < minSamples {
		return nil, fmt.Errorf("%w: %d < %d", ErrInsufficientData, len(kept), minSamples)
	}

	raw, from, to, err := toMatrix(kept, features)
	if err != nil {
		return nil, err
	}

	means, stds := fitStats(raw)

	normalized := make([][]float64, len(raw))
	for i, row := range raw {
		v := make([]float64, len(row))
		for j, x := range row {
			v[j] = (x - means[j]) / stds[j]
		}
		normalized[i] = v
	}

	centroids := kmeans(normalized, clusters, t.MaxIterations, seed)

	model := &Model{
		ID:              modelID,
		CreatedAt:       time.Now().UTC(),
		Features:        append([]string(nil), features...),
		Means:           means,
		Stds:            stds,
		Centroids:       centroids,
		TrainingSamples: len(kept),
		TrainedFrom:     from,
		TrainedTo:       to,
	}

	deviations := make([]float64, len(normalized))
	for i, v := range normalized {
		deviations[i] = model.Deviation(v)
	}
	model.TauFast = percentile(deviations, pFast)
	model.TauPersist = percentile(deviations, pPersist)
	if model.TauPersist < model.TauFast {
		model.TauPersist = model.TauFast
	}

	logger.Info("envelope training complete",
		"model", modelID,
		"samples", len(kept),
		"clusters", len(centroids),
		"tau_fast", model.TauFast,
		"tau_persist", model.TauPersist,
	)

	if err := model.Validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// toMatrix extracts the feature columns in schema order. A sample missing a
// required metric fails the whole training run: the training window is
// supposed to be schema-clean.
func toMatrix(samples []telemetry.Sample, features []string) ([][]float64, time.Time, time.Time, error) {
	rows := make([][]float64, len(samples))
	var from, to time.Time
	for i, s := range samples {
		row := make([]float64, len(features))
		for j, name := range features {
			v, ok := s.Metrics[name]
			if !ok {
				return nil, from, to, fmt.Errorf("%w: training sample %d missing %q", ErrSchemaMismatch, i, name)
			}
			row[j] = v
		}
		rows[i] = row
		if from.IsZero() || s.Timestamp.Before(from) {
			from = s.Timestamp
		}
		if s.Timestamp.After(to) {
			to = s.Timestamp
		}
	}
	return rows, from, to, nil
}

// fitStats computes per-column mean and (population) standard deviation,
// flooring the std at minStd for zero-variance columns.
func fitStats(rows [][]float64) (means, stds []float64) {
	dim := len(rows[0])
	means = make([]float64, dim)
	stds = make([]float64, dim)
	n := float64(len(rows))

	for _, row := range rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}
	for _, row := range rows {
		for j, v := range row {
			d := v - means[j]
			stds[j] += d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] < minStd {
			stds[j] = minStd
		}
	}
	return means, stds
}

// percentile returns the p-th percentile (0-100) by linear interpolation
// between closest ranks.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
