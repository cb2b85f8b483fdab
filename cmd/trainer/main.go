// Command trainer fits a rackguard envelope model from historical telemetry
// and writes the model artifact consumed by the controller.
//
// Telemetry comes either from a CSV export or straight from Prometheus:
//
//	trainer -input=telemetry.csv -output=envelope.json
//
//	trainer -prom-url=http://prometheus:9090 -window=24h -output=envelope.json
//
// CSV input needs a header row with a "timestamp" column (RFC3339), a "rack"
// column, and one column per metric (inlet_c, pdu_kw, latency_p95_ms, ...).
// Columns that do not match a selected feature are ignored.
//
// Samples are filtered to a nominal subset before fitting: rows whose inlet
// temperature or p95 latency exceed the -nominal-* gates are excluded, since
// fitting the envelope on known-bad intervals would teach it that bad is
// normal. Training fails when fewer than -min-samples nominal rows remain.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/ingest"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

func main() {
	var (
		input    = flag.String("input", "", "CSV telemetry export (mutually exclusive with -prom-url)")
		promURL  = flag.String("prom-url", "", "Prometheus server URL (mutually exclusive with -input)")
		promTmpl = flag.String("prom-query-template", "avg by (rack) (dc_{metric})", "PromQL template per metric; {metric} is substituted")
		label    = flag.String("entity-label", "rack", "Series label carrying the rack id")
		window   = flag.Duration("window", 24*time.Hour, "Collection window for the prometheus source")

		output   = flag.String("output", "envelope.json", "Model artifact output path")
		modelID  = flag.String("model-id", "", "Model id (defaults to envelope-<timestamp>)")
		features = flag.String("features", "", "Comma-separated feature metrics (defaults to the standard schema)")

		clusters   = flag.Int("clusters", 8, "k-means cluster count")
		minSamples = flag.Int("min-samples", 100, "Minimum nominal sample count")
		pFast      = flag.Float64("tau-fast-pct", 95, "Percentile of training deviations used for tau_fast")
		pPersist   = flag.Float64("tau-persist-pct", 98, "Percentile of training deviations used for tau_persist")
		seed       = flag.Int64("seed", 42, "Clustering seed")

		nominalInletC    = flag.Float64("nominal-inlet-max-c", 27.0, "Exclude rows with inlet above this (0 disables)")
		nominalLatencyMs = flag.Float64("nominal-latency-max-ms", 200.0, "Exclude rows with p95 latency above this (0 disables)")

		logLevel = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
	)
	flag.Parse()

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	if (*input == "") == (*promURL == "") {
		logger.Error("exactly one of -input or -prom-url is required")
		os.Exit(1)
	}

	schema := telemetry.DefaultFeatures
	if *features != "" {
		schema = splitList(*features)
	}

	samples, err := loadSamples(*input, *promURL, *promTmpl, *label, schema, *window)
	if err != nil {
		logger.Error("failed to load telemetry", "error", err)
		os.Exit(1)
	}
	logger.Info("telemetry loaded", "samples", len(samples))

	id := *modelID
	if id == "" {
		id = fmt.Sprintf("envelope-%d", time.Now().UTC().Unix())
	}

	trainer := &envelope.Trainer{
		Features:             schema,
		Clusters:             *clusters,
		MinSamples:           *minSamples,
		TauFastPercentile:    *pFast,
		TauPersistPercentile: *pPersist,
		Seed:                 *seed,
		Logger:               logger,
	}

	model, err := trainer.Train(id, samples, nominalGate(*nominalInletC, *nominalLatencyMs))
	if err != nil {
		logger.Error("training failed", "error", err)
		os.Exit(1)
	}

	if err := model.Save(*output); err != nil {
		logger.Error("failed to write model artifact", "path", *output, "error", err)
		os.Exit(1)
	}

	logger.Info("model artifact written",
		"path", *output,
		"id", model.ID,
		"training_samples", model.TrainingSamples,
		"tau_fast", model.TauFast,
		"tau_persist", model.TauPersist,
	)
}

// nominalGate builds the predicate excluding rows from known-bad intervals.
func nominalGate(inletMaxC, latencyMaxMs float64) func(telemetry.Sample) bool {
	return func(s telemetry.Sample) bool {
		if inletMaxC > 0 {
			if v, ok := s.Metric(telemetry.MetricInletC); ok && v > inletMaxC {
				return false
			}
		}
		if latencyMaxMs > 0 {
			if v, ok := s.Metric(telemetry.MetricLatencyP95Ms); ok && v > latencyMaxMs {
				return false
			}
		}
		return true
	}
}

func loadSamples(input, promURL, promTmpl, label string, schema []string, window time.Duration) ([]telemetry.Sample, error) {
	if input != "" {
		return readCSV(input, schema)
	}

	queries := make(map[string]string, len(schema))
	for _, metric := range schema {
		queries[metric] = strings.ReplaceAll(promTmpl, "{metric}", metric)
	}
	collector := &ingest.PrometheusCollector{
		ServerURL:   promURL,
		EntityLabel: label,
		Queries:     queries,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return collector.Collect(ctx, int(window.Seconds()))
}

// readCSV parses a telemetry export. The header row maps columns to metric
// names; unknown columns are skipped, missing metrics stay absent from the
// sample and get rejected later by schema validation if the model needs them.
func readCSV(path string, schema []string) ([]telemetry.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	tsCol, rackCol := -1, -1
	metricCols := make(map[int]string)
	wanted := make(map[string]bool, len(schema))
	for _, m := range schema {
		wanted[m] = true
	}
	for i, name := range header {
		switch name = strings.TrimSpace(name); name {
		case "timestamp":
			tsCol = i
		case "rack", "entity":
			rackCol = i
		default:
			if wanted[name] {
				metricCols[i] = name
			}
		}
	}
	if tsCol < 0 || rackCol < 0 {
		return nil, fmt.Errorf("csv needs timestamp and rack columns, got %v", header)
	}

	var samples []telemetry.Sample
	for line := 2; ; line++ {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}

		ts, err := time.Parse(time.RFC3339, row[tsCol])
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad timestamp %q: %w", line, row[tsCol], err)
		}

		metrics := make(map[string]float64, len(metricCols))
		for i, metric := range metricCols {
			cell := strings.TrimSpace(row[i])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d: bad %s value %q: %w", line, metric, cell, err)
			}
			metrics[metric] = v
		}

		samples = append(samples, telemetry.Sample{
			Timestamp: ts,
			Entity:    row[rackCol],
			Metrics:   metrics,
		})
	}
	return samples, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
