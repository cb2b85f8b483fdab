package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/HatiCode/rackguard/pkg/telemetry"
)

func TestJSONCollector_Collect(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	body := `{
		"data": {
			"racks": ["rack-1", "rack-2"],
			"observed": ["` + now.Format(time.RFC3339) + `", "` + now.Format(time.RFC3339) + `"],
			"inlet": [24.5, 26.1],
			"power": [9.2, 11.0]
		}
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Api-Key"); got != "secret" {
			t.Errorf("expected X-Api-Key header, got %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("expected Accept application/json, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := &JSONCollector{
		URL:           server.URL,
		Headers:       map[string]string{"X-Api-Key": "secret"},
		EntityPath:    "data.racks",
		TimestampPath: "data.observed",
		MetricPaths: map[string]string{
			telemetry.MetricInletC:     "data.inlet",
			telemetry.MetricPDUPowerKW: "data.power",
		},
	}

	samples, err := c.Collect(context.Background(), 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}

	byEntity := map[string]telemetry.Sample{}
	for _, s := range samples {
		byEntity[s.Entity] = s
	}
	s1, ok := byEntity["rack-1"]
	if !ok {
		t.Fatal("rack-1 sample missing")
	}
	if s1.Metrics[telemetry.MetricInletC] != 24.5 || s1.Metrics[telemetry.MetricPDUPowerKW] != 9.2 {
		t.Errorf("rack-1 metrics wrong: %v", s1.Metrics)
	}
	if !s1.Timestamp.Equal(now) {
		t.Errorf("rack-1 timestamp %v, want %v", s1.Timestamp, now)
	}
}

func TestJSONCollector_WindowFiltersStaleSamples(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-time.Hour)
	body := `{
		"racks": ["rack-1", "rack-2"],
		"ts": ["` + now.Format(time.RFC3339) + `", "` + stale.Format(time.RFC3339) + `"],
		"inlet": [24.5, 26.1]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := &JSONCollector{
		URL:           server.URL,
		EntityPath:    "racks",
		TimestampPath: "ts",
		MetricPaths:   map[string]string{telemetry.MetricInletC: "inlet"},
	}

	samples, err := c.Collect(context.Background(), 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || samples[0].Entity != "rack-1" {
		t.Fatalf("expected only the fresh rack-1 sample, got %+v", samples)
	}
}

func TestJSONCollector_UnixTimestamps(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	body := `{
		"racks": ["rack-1"],
		"ts": [` + timeUnixStr(now) + `],
		"inlet": [24.5]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer server.Close()

	c := &JSONCollector{
		URL:             server.URL,
		EntityPath:      "racks",
		TimestampPath:   "ts",
		MetricPaths:     map[string]string{telemetry.MetricInletC: "inlet"},
		TimestampFormat: "unix",
	}

	samples, err := c.Collect(context.Background(), 300)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 1 || !samples[0].Timestamp.Equal(now) {
		t.Fatalf("unix timestamp not parsed: %+v", samples)
	}
}

func TestJSONCollector_MismatchedArrayLengths(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"racks": ["rack-1", "rack-2"], "ts": ["2026-03-01T00:00:00Z"], "inlet": [1, 2]}`))
	}))
	defer server.Close()

	c := &JSONCollector{
		URL:           server.URL,
		EntityPath:    "racks",
		TimestampPath: "ts",
		MetricPaths:   map[string]string{telemetry.MetricInletC: "inlet"},
	}

	if _, err := c.Collect(context.Background(), 300); err == nil {
		t.Fatal("expected error on mismatched array lengths")
	}
}

func TestJSONCollector_Non200Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := &JSONCollector{
		URL:           server.URL,
		EntityPath:    "racks",
		TimestampPath: "ts",
		MetricPaths:   map[string]string{telemetry.MetricInletC: "inlet"},
	}

	if _, err := c.Collect(context.Background(), 300); err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestJSONCollector_MissingConfig(t *testing.T) {
	c := &JSONCollector{URL: "http://example.invalid"}
	if _, err := c.Collect(context.Background(), 300); err == nil {
		t.Fatal("expected error for missing paths")
	}
}

func timeUnixStr(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
