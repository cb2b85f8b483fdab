package envelope

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

var trainFeatures = []string{telemetry.MetricInletC, telemetry.MetricPDUPowerKW, telemetry.MetricLatencyP95Ms}

// nominalSamples generates n samples around two operating points with small
// gaussian-ish noise, deterministic for a seed.
func nominalSamples(n int, seed int64) []telemetry.Sample {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	out := make([]telemetry.Sample, n)
	for i := range out {
		inlet, power, latency := 23.0, 8.0, 170.0
		if i%2 == 1 {
			// Second operating point: higher load, warmer.
			inlet, power, latency = 25.0, 10.5, 195.0
		}
		out[i] = telemetry.Sample{
			Timestamp: base.Add(time.Duration(i) * 10 * time.Second),
			Entity:    "rack-1",
			Metrics: map[string]float64{
				telemetry.MetricInletC:       inlet + rng.NormFloat64()*0.2,
				telemetry.MetricPDUPowerKW:   power + rng.NormFloat64()*0.3,
				telemetry.MetricLatencyP95Ms: latency + rng.NormFloat64()*5,
			},
		}
	}
	return out
}

func TestTrainer_InsufficientData(t *testing.T) {
	tr := &Trainer{Features: trainFeatures, MinSamples: 100}

	_, err := tr.Train("m1", nominalSamples(40, 1), nil)
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestTrainer_NominalPredicateFilters(t *testing.T) {
	samples := nominalSamples(300, 2)
	tr := &Trainer{Features: trainFeatures, Clusters: 4, MinSamples: 100}

	// Exclude the warmer operating point entirely.
	model, err := tr.Train("m1", samples, func(s telemetry.Sample) bool {
		v, _ := s.Metric(telemetry.MetricInletC)
		return v < 24
	})
	if err != nil {
		t.Fatal(err)
	}
	if model.TrainingSamples >= 200 || model.TrainingSamples < 100 {
		t.Errorf("expected roughly half the samples kept, got %d", model.TrainingSamples)
	}
}

func TestTrainer_ThresholdsCoverTrainingDistribution(t *testing.T) {
	samples := nominalSamples(400, 3)
	tr := &Trainer{Features: trainFeatures, Clusters: 4, MinSamples: 100}

	model, err := tr.Train("m1", samples, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := model.Validate(); err != nil {
		t.Fatalf("trained model invalid: %v", err)
	}
	if model.TauPersist < model.TauFast {
		t.Fatalf("tauPersist %v < tauFast %v", model.TauPersist, model.TauFast)
	}

	// TauFast is the 95th percentile of training deviations, so at least 95%
	// of the training window must score at or below it.
	within := 0
	for _, s := range samples {
		vec, err := model.Normalize(s)
		if err != nil {
			t.Fatal(err)
		}
		if model.Deviation(vec) <= model.TauFast {
			within++
		}
	}
	if frac := float64(within) / float64(len(samples)); frac < 0.95 {
		t.Errorf("only %.1f%% of training samples within tauFast", frac*100)
	}
}

func TestTrainer_SeparatesTrainingModes(t *testing.T) {
	samples := nominalSamples(400, 4)
	tr := &Trainer{Features: trainFeatures, Clusters: 2, MinSamples: 100}

	model, err := tr.Train("m1", samples, nil)
	if err != nil {
		t.Fatal(err)
	}

	// An observation far outside both operating points must score well above
	// the fast threshold.
	outlier := telemetry.Sample{
		Timestamp: time.Now(),
		Entity:    "rack-1",
		Metrics: map[string]float64{
			telemetry.MetricInletC:       31,
			telemetry.MetricPDUPowerKW:   14,
			telemetry.MetricLatencyP95Ms: 400,
		},
	}
	vec, err := model.Normalize(outlier)
	if err != nil {
		t.Fatal(err)
	}
	if d := model.Deviation(vec); d <= model.TauPersist {
		t.Errorf("outlier deviation %v not above tauPersist %v", d, model.TauPersist)
	}
}

func TestTrainer_ZeroVarianceFeature(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(5))

	samples := make([]telemetry.Sample, 150)
	for i := range samples {
		samples[i] = telemetry.Sample{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Entity:    "rack-1",
			Metrics: map[string]float64{
				telemetry.MetricInletC:       23 + rng.NormFloat64()*0.2,
				telemetry.MetricPDUPowerKW:   8.0, // constant
				telemetry.MetricLatencyP95Ms: 170 + rng.NormFloat64()*5,
			},
		}
	}

	tr := &Trainer{Features: trainFeatures, Clusters: 2, MinSamples: 100}
	model, err := tr.Train("m1", samples, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i, std := range model.Stds {
		if std <= 0 {
			t.Fatalf("feature %s: non-positive std %v", model.Features[i], std)
		}
	}

	// Scoring a sample with the constant value must stay finite and small on
	// that axis.
	vec, err := model.Normalize(samples[0])
	if err != nil {
		t.Fatal(err)
	}
	d := model.Deviation(vec)
	if d != d || d < 0 { // NaN check
		t.Errorf("deviation not finite: %v", d)
	}
}

func TestTrainer_Reproducible(t *testing.T) {
	samples := nominalSamples(200, 6)
	tr := &Trainer{Features: trainFeatures, Clusters: 3, MinSamples: 100, Seed: 99}

	m1, err := tr.Train("a", samples, nil)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := tr.Train("b", samples, nil)
	if err != nil {
		t.Fatal(err)
	}

	if m1.TauFast != m2.TauFast || m1.TauPersist != m2.TauPersist {
		t.Errorf("same seed produced different thresholds: %v/%v vs %v/%v",
			m1.TauFast, m1.TauPersist, m2.TauFast, m2.TauPersist)
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		p    float64
		want float64
	}{
		{0, 1},
		{50, 5.5},
		{100, 10},
	}
	for _, tt := range tests {
		if got := percentile(append([]float64(nil), vals...), tt.p); got != tt.want {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
