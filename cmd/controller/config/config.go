// Package config provides configuration parsing for the controller.
//
// It handles both command-line flags and environment variables, with flags
// taking precedence over environment variables.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/rackguard/pkg/tls"
)

// Config holds all controller runtime configuration.
type Config struct {
	Listen    string
	LogFormat string
	LogLevel  string
	TLS       tls.Config

	// ModelPath is the envelope artifact loaded at startup. Empty means the
	// controller starts without a model and scoring waits for one.
	ModelPath string

	// Mode is the startup mode: advisory or closed_loop.
	Mode string

	// Collector selects the telemetry source: prometheus or json.
	Collector string

	PromURL           string
	PromQueryTemplate string
	EntityLabel       string

	JSONURL         string
	JSONEntityPath  string
	JSONTSPath      string
	JSONMetricPaths map[string]string
	JSONTSFormat    string

	// SinkURL is the action executor endpoint. Empty selects the log-only sink.
	SinkURL     string
	SinkTimeout time.Duration

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	ScoreInterval time.Duration
	FastInterval  time.Duration
	SlowInterval  time.Duration

	EMAAlpha     float64
	PersistTicks int

	RateLimit     time.Duration
	InletMaxC     float64
	OutletMaxC    float64
	SLALatencyMs  float64
	RackPowerKW   float64
	SafetyMarginC float64
}

// ParseFlags parses flags and environment into a validated Config.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("CONTROLLER_LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format (text|json)")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level (debug|info|warn|error)")

	flag.StringVar(&cfg.ModelPath, "model", getEnv("MODEL_PATH", ""), "Envelope model artifact path")
	flag.StringVar(&cfg.Mode, "mode", getEnv("MODE", "advisory"), "Startup mode (advisory|closed_loop)")

	flag.StringVar(&cfg.Collector, "collector", getEnv("COLLECTOR", "prometheus"), "Telemetry collector (prometheus|json)")
	flag.StringVar(&cfg.PromURL, "prom-url", getEnv("PROM_URL", "http://localhost:9090"), "Prometheus server URL")
	flag.StringVar(&cfg.PromQueryTemplate, "prom-query-template",
		getEnv("PROM_QUERY_TEMPLATE", "avg by (rack) (dc_{metric})"),
		"PromQL template per metric; {metric} is substituted")
	flag.StringVar(&cfg.EntityLabel, "entity-label", getEnv("ENTITY_LABEL", "rack"), "Series label carrying the rack id")

	flag.StringVar(&cfg.JSONURL, "json-url", getEnv("JSON_URL", ""), "JSON collector endpoint")
	flag.StringVar(&cfg.JSONEntityPath, "json-entity-path", getEnv("JSON_ENTITY_PATH", ""), "gjson path to entity ids")
	flag.StringVar(&cfg.JSONTSPath, "json-ts-path", getEnv("JSON_TS_PATH", ""), "gjson path to timestamps")
	flag.StringVar(&cfg.JSONTSFormat, "json-ts-format", getEnv("JSON_TS_FORMAT", "rfc3339"), "Timestamp format (rfc3339|unix|unix_milli)")
	jsonMetricPaths := flag.String("json-metric-paths", getEnv("JSON_METRIC_PATHS", ""),
		"Comma-separated metric=gjson-path pairs for the JSON collector")

	flag.StringVar(&cfg.SinkURL, "sink-url", getEnv("SINK_URL", ""), "Action executor endpoint (empty = log-only sink)")
	flag.DurationVar(&cfg.SinkTimeout, "sink-timeout", getEnvDuration("SINK_TIMEOUT", 5*time.Second), "Per-attempt sink call timeout")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Action record store (memory|redis)")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 24*time.Hour), "Redis record TTL")

	flag.DurationVar(&cfg.ScoreInterval, "score-interval", getEnvDuration("SCORE_INTERVAL", 5*time.Second), "Ingestion/scoring tick period")
	flag.DurationVar(&cfg.FastInterval, "fast-interval", getEnvDuration("FAST_INTERVAL", 10*time.Second), "Fast guardrail loop period")
	flag.DurationVar(&cfg.SlowInterval, "slow-interval", getEnvDuration("SLOW_INTERVAL", 2*time.Minute), "Slow optimizer loop period")

	flag.Float64Var(&cfg.EMAAlpha, "ema-alpha", getEnvFloat("EMA_ALPHA", 0.3), "EMA smoothing factor")
	flag.IntVar(&cfg.PersistTicks, "persist-ticks", getEnvInt("PERSIST_TICKS", 6), "Consecutive exceedances required to enter persistent")

	flag.DurationVar(&cfg.RateLimit, "rate-limit", getEnvDuration("RATE_LIMIT", 120*time.Second), "Minimum interval between same-kind actions per rack")
	flag.Float64Var(&cfg.InletMaxC, "inlet-max-c", getEnvFloat("INLET_MAX_C", 28.0), "Inlet temperature ceiling")
	flag.Float64Var(&cfg.OutletMaxC, "outlet-max-c", getEnvFloat("OUTLET_MAX_C", 0), "Outlet temperature ceiling (0 disables)")
	flag.Float64Var(&cfg.SLALatencyMs, "sla-latency-ms", getEnvFloat("SLA_LATENCY_MS", 250.0), "p95 latency SLA ceiling")
	flag.Float64Var(&cfg.RackPowerKW, "rack-kw-cap", getEnvFloat("RACK_KW_CAP", 12.0), "Per-rack power cap")
	flag.Float64Var(&cfg.SafetyMarginC, "safety-margin-c", getEnvFloat("SAFETY_MARGIN_C", 0.5), "Fast-loop hard-limit proximity margin")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the HTTP API")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "TLS CA certificate file for client verification")

	flag.Parse()

	cfg.JSONMetricPaths = parsePathPairs(*jsonMetricPaths)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}
	return cfg
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Mode {
	case "advisory", "closed_loop":
	default:
		return fmt.Errorf("invalid -mode %q", c.Mode)
	}
	switch c.Collector {
	case "prometheus":
		if c.PromURL == "" {
			return fmt.Errorf("-prom-url is required for the prometheus collector")
		}
		if !strings.Contains(c.PromQueryTemplate, "{metric}") {
			return fmt.Errorf("-prom-query-template must contain {metric}")
		}
	case "json":
		if c.JSONURL == "" || c.JSONEntityPath == "" || c.JSONTSPath == "" || len(c.JSONMetricPaths) == 0 {
			return fmt.Errorf("json collector requires -json-url, -json-entity-path, -json-ts-path and -json-metric-paths")
		}
	default:
		return fmt.Errorf("invalid -collector %q", c.Collector)
	}
	switch c.Storage {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid -storage %q", c.Storage)
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("-ema-alpha must be in (0, 1]")
	}
	if c.PersistTicks <= 0 {
		return fmt.Errorf("-persist-ticks must be positive")
	}
	return c.TLS.Validate()
}

func parsePathPairs(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
