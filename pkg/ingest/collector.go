// Package ingest provides telemetry collectors that pull rack samples from
// external systems and shape them into the common telemetry.Sample form.
//
// Collectors are intentionally lightweight: they fetch raw data over a time
// window and leave scoring, filtering, and control entirely to the upper
// layers. Available collectors:
//   - PrometheusCollector — joins per-metric range queries from the
//     Prometheus HTTP API into per-entity samples
//   - JSONCollector       — generic REST endpoint with gjson path extraction
package ingest

import (
	"context"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// Collector fetches telemetry samples for the last windowSeconds.
//
// Collect is synchronous, must respect context cancellation and deadlines,
// and must never panic on malformed upstream data.
type Collector interface {
	Collect(ctx context.Context, windowSeconds int) ([]telemetry.Sample, error)
	Name() string
}

// AlignTimestamp truncates a timestamp to a consistent step boundary so that
// per-metric series can be joined into one sample.
func AlignTimestamp(ts time.Time, stepSec int) time.Time {
	return ts.Truncate(time.Duration(stepSec) * time.Second)
}
