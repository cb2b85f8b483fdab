// Package telemetry defines the facility telemetry sample model shared by
// the envelope scorer, the control loops, and the ingest collectors.
//
// A Sample is one observation of one rack at one instant. The metric set is
// open-ended at this layer; the envelope model's feature schema decides which
// metrics are required for scoring.
package telemetry

import (
	"fmt"
	"time"
)

// Canonical metric names emitted by the facility collectors. The envelope
// feature schema is built from these, but nothing in this package enforces
// the set; collectors for other hardware may add their own.
const (
	MetricInletC       = "inlet_c"
	MetricOutletC      = "outlet_c"
	MetricDeltaT       = "delta_t"
	MetricPDUPowerKW   = "pdu_kw"
	MetricGPUPowerKW   = "gpu_power_kw"
	MetricTokensPerSec = "tokens_ps"
	MetricLatencyP95Ms = "latency_p95_ms"
	MetricQueueDepth   = "queue_depth"
	MetricFanDutyPct   = "fan_duty_pct"
	MetricPumpDutyPct  = "pump_duty_pct"
)

// DefaultFeatures is the feature order used by the shipped trainer and the
// static candidate estimator. Order matters: trained models store it and
// scoring reuses it verbatim.
var DefaultFeatures = []string{
	MetricInletC,
	MetricOutletC,
	MetricDeltaT,
	MetricPDUPowerKW,
	MetricGPUPowerKW,
	MetricTokensPerSec,
	MetricLatencyP95Ms,
	MetricQueueDepth,
	MetricFanDutyPct,
	MetricPumpDutyPct,
}

// Sample is one telemetry observation for one entity (rack).
// Callers hand it to the core and must not mutate it afterwards.
type Sample struct {
	Timestamp time.Time          `json:"ts"`
	Entity    string             `json:"entity"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Validate checks the fields every consumer relies on.
func (s Sample) Validate() error {
	if s.Entity == "" {
		return fmt.Errorf("sample: entity required")
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("sample: timestamp required")
	}
	if len(s.Metrics) == 0 {
		return fmt.Errorf("sample: no metrics")
	}
	return nil
}

// Metric returns a named metric value and whether it is present.
func (s Sample) Metric(name string) (float64, bool) {
	v, ok := s.Metrics[name]
	return v, ok
}

// CloneMetrics returns a copy of the metric map, for snapshots that must
// survive the caller reusing the sample.
func (s Sample) CloneMetrics() map[string]float64 {
	out := make(map[string]float64, len(s.Metrics))
	for k, v := range s.Metrics {
		out[k] = v
	}
	return out
}
