package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// JSONCollector pulls telemetry from any REST endpoint returning JSON, using
// gjson path expressions to extract the per-sample fields. Facility DCIM and
// BMS gateways rarely speak a standard protocol; this collector covers them
// without a bespoke adapter each time.
//
// All paths must address parallel arrays of equal length, e.g. with a
// response of {"racks":[{"id":"r1","ts":...,"inlet_c":...}, ...]}:
//
//	collector := &JSONCollector{
//	    URL:           "https://dcim.example.com/v1/racks",
//	    EntityPath:    "racks.#.id",
//	    TimestampPath: "racks.#.ts",
//	    MetricPaths:   map[string]string{"inlet_c": "racks.#.inlet_c"},
//	}
type JSONCollector struct {
	// URL is the endpoint to call (required).
	URL string

	// Headers are custom HTTP headers, e.g. for bearer tokens or API keys.
	Headers map[string]string

	// EntityPath and TimestampPath are gjson paths to the entity id and
	// observation timestamp arrays.
	EntityPath    string
	TimestampPath string

	// MetricPaths maps telemetry metric names to gjson paths.
	MetricPaths map[string]string

	// TimestampFormat specifies how timestamps are parsed:
	//   "rfc3339"    - RFC3339 strings (default)
	//   "unix"       - Unix seconds
	//   "unix_milli" - Unix milliseconds
	TimestampFormat string

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (c *JSONCollector) Name() string { return "json" }

// Collect implements Collector. The windowSeconds argument is advisory for
// this collector: the endpoint decides what it returns, and samples older
// than the window are filtered out here.
func (c *JSONCollector) Collect(ctx context.Context, windowSeconds int) ([]telemetry.Sample, error) {
	if c.URL == "" || c.EntityPath == "" || c.TimestampPath == "" || len(c.MetricPaths) == 0 {
		return nil, errors.New("json collector: URL, EntityPath, TimestampPath and MetricPaths are required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("json collector: build request: %w", err)
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")

	cli := c.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("json collector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("json collector: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("json collector: read body: %w", err)
	}

	entities := gjson.GetBytes(body, c.EntityPath).Array()
	timestamps := gjson.GetBytes(body, c.TimestampPath).Array()
	if len(entities) != len(timestamps) {
		return nil, fmt.Errorf("json collector: entity path returned %d elements, timestamp path %d",
			len(entities), len(timestamps))
	}

	metricValues := make(map[string][]gjson.Result, len(c.MetricPaths))
	for metric, path := range c.MetricPaths {
		vals := gjson.GetBytes(body, path).Array()
		if len(vals) != len(entities) {
			return nil, fmt.Errorf("json collector: metric %s path returned %d elements, want %d",
				metric, len(vals), len(entities))
		}
		metricValues[metric] = vals
	}

	cutoff := time.Now().UTC().Add(-time.Duration(windowSeconds) * time.Second)
	samples := make([]telemetry.Sample, 0, len(entities))
	for i := range entities {
		ts, err := c.parseTimestamp(timestamps[i])
		if err != nil {
			return nil, fmt.Errorf("json collector: element %d: %w", i, err)
		}
		if windowSeconds > 0 && ts.Before(cutoff) {
			continue
		}
		metrics := make(map[string]float64, len(metricValues))
		for metric, vals := range metricValues {
			metrics[metric] = vals[i].Float()
		}
		samples = append(samples, telemetry.Sample{
			Timestamp: ts,
			Entity:    entities[i].String(),
			Metrics:   metrics,
		})
	}
	return samples, nil
}

func (c *JSONCollector) parseTimestamp(v gjson.Result) (time.Time, error) {
	switch c.TimestampFormat {
	case "unix":
		return time.Unix(int64(v.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(v.Float())).UTC(), nil
	case "", "rfc3339":
		ts, err := time.Parse(time.RFC3339, v.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v.String(), err)
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unknown timestamp format %q", c.TimestampFormat)
	}
}
