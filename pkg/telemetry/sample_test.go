package telemetry

import (
	"testing"
	"time"
)

func TestSample_Validate(t *testing.T) {
	good := Sample{
		Timestamp: time.Now(),
		Entity:    "rack-1",
		Metrics:   map[string]float64{MetricInletC: 24},
	}
	if err := good.Validate(); err != nil {
		t.Errorf("expected valid, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Sample)
	}{
		{"missing entity", func(s *Sample) { s.Entity = "" }},
		{"zero timestamp", func(s *Sample) { s.Timestamp = time.Time{} }},
		{"no metrics", func(s *Sample) { s.Metrics = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			tt.mutate(&s)
			if err := s.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSample_CloneMetrics(t *testing.T) {
	s := Sample{Metrics: map[string]float64{MetricInletC: 24}}

	clone := s.CloneMetrics()
	clone[MetricInletC] = 99

	if s.Metrics[MetricInletC] != 24 {
		t.Error("clone shares storage with the original")
	}
}

func TestDefaultFeatures_MatchCanonicalNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, f := range DefaultFeatures {
		if f == "" {
			t.Fatal("empty feature name")
		}
		if seen[f] {
			t.Fatalf("duplicate feature %q", f)
		}
		seen[f] = true
	}
	if !seen[MetricInletC] || !seen[MetricPDUPowerKW] || !seen[MetricLatencyP95Ms] {
		t.Error("core metrics missing from the default schema")
	}
}
