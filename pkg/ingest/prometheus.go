package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// PrometheusCollector builds telemetry samples from the Prometheus HTTP API.
// It issues one /api/v1/query_range call per configured metric and joins the
// resulting series on (entity label, aligned timestamp), so each sample
// carries every metric observed for that rack at that step.
type PrometheusCollector struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string

	// EntityLabel is the series label carrying the rack id, e.g. "rack".
	EntityLabel string

	// Queries maps telemetry metric names to PromQL expressions. Each
	// expression must keep the entity label on its result series.
	Queries map[string]string

	// StepSeconds controls the resolution (defaults to 60s if <= 0).
	StepSeconds int

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusCollector) Name() string { return "prometheus" }

// Collect implements Collector.
func (p *PrometheusCollector) Collect(ctx context.Context, windowSeconds int) ([]telemetry.Sample, error) {
	if p.ServerURL == "" || len(p.Queries) == 0 || p.EntityLabel == "" {
		return nil, errors.New("prometheus collector: ServerURL, EntityLabel and Queries are required")
	}
	step := p.StepSeconds
	if step <= 0 {
		step = 60
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	type sampleKey struct {
		entity string
		ts     int64
	}
	acc := make(map[sampleKey]map[string]float64)

	for metric, query := range p.Queries {
		series, err := p.queryRange(ctx, query, start, now, step)
		if err != nil {
			return nil, fmt.Errorf("prometheus collector: metric %s: %w", metric, err)
		}
		for _, s := range series {
			entity := s.Metric[p.EntityLabel]
			if entity == "" {
				continue
			}
			for _, pair := range s.Values {
				tsSec, val, err := parsePair(pair)
				if err != nil {
					return nil, fmt.Errorf("prometheus collector: metric %s: %w", metric, err)
				}
				ts := AlignTimestamp(time.Unix(tsSec, 0).UTC(), step).Unix()
				key := sampleKey{entity: entity, ts: ts}
				if acc[key] == nil {
					acc[key] = make(map[string]float64, len(p.Queries))
				}
				acc[key][metric] = val
			}
		}
	}

	samples := make([]telemetry.Sample, 0, len(acc))
	for key, metrics := range acc {
		samples = append(samples, telemetry.Sample{
			Timestamp: time.Unix(key.ts, 0).UTC(),
			Entity:    key.entity,
			Metrics:   metrics,
		})
	}
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Timestamp.Equal(samples[j].Timestamp) {
			return samples[i].Entity < samples[j].Entity
		}
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

func (p *PrometheusCollector) queryRange(ctx context.Context, query string, start, end time.Time, step int) ([]rangeSeries, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = "/api/v1/query_range"

	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("step", strconv.Itoa(step))
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var rr rangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Status != "success" {
		return nil, fmt.Errorf("query status: %s", rr.Status)
	}
	return rr.Data.Result, nil
}

type rangeResponse struct {
	Status string    `json:"status"`
	Data   rangeData `json:"data"`
}

type rangeData struct {
	ResultType string        `json:"resultType"`
	Result     []rangeSeries `json:"result"`
}

type rangeSeries struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

func parsePair(pair []any) (tsSec int64, val float64, err error) {
	if len(pair) != 2 {
		return 0, 0, fmt.Errorf("invalid value pair length: %d", len(pair))
	}
	switch v := pair[0].(type) {
	case float64:
		tsSec = int64(v)
	case json.Number:
		f, _ := v.Float64()
		tsSec = int64(f)
	default:
		return 0, 0, fmt.Errorf("unexpected timestamp type %T", v)
	}
	s, ok := pair[1].(string)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected value type %T", pair[1])
	}
	val, err = strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse value %q: %w", s, err)
	}
	return tsSec, val, nil
}
