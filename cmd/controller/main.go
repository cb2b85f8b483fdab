// Command controller implements the rackguard anomaly scoring and control
// service.
//
// The controller runs three concurrent loops against a shared per-rack state
// table:
//  1. Ingestion loop - collects rack telemetry, scores it against the active
//     envelope model, and classifies each rack nominal/transient/persistent
//  2. Fast loop - short-period guardrail reactions to hard-limit proximity
//     and persistent deviation
//  3. Slow loop - longer-period efficiency optimization with realized-effect
//     checks and automatic rollback
//
// The controller serves an HTTP API on port 8080 (configurable) providing:
//   - GET  /state - Per-rack scored state
//   - GET  /actions - Action audit log
//   - GET  /model/current - Active envelope model metadata
//   - GET/POST /mode - Mode and kill switch control
//   - GET  /healthz - Health check endpoint
//   - GET  /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	controller \
//	  -model=/etc/rackguard/envelope.json \
//	  -mode=advisory \
//	  -prom-url=http://prometheus:9090 \
//	  -sink-url=http://bms-executor:8090/actions \
//	  -inlet-max-c=28 -sla-latency-ms=250 -rack-kw-cap=12
//
// Environment variables mirror every flag: MODEL_PATH, MODE, PROM_URL,
// SINK_URL, STORAGE, REDIS_ADDR, INLET_MAX_C, SLA_LATENCY_MS, RACK_KW_CAP,
// EMA_ALPHA, PERSIST_TICKS, RATE_LIMIT, LOG_LEVEL, LOG_FORMAT, and so on.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HatiCode/rackguard/cmd/controller/config"
	"github.com/HatiCode/rackguard/cmd/controller/logger"
	"github.com/HatiCode/rackguard/cmd/controller/metrics"
	"github.com/HatiCode/rackguard/cmd/controller/router"
	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/control"
	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/httpx"
	"github.com/HatiCode/rackguard/pkg/ingest"
	"github.com/HatiCode/rackguard/pkg/storage"
	"github.com/HatiCode/rackguard/pkg/telemetry"
	rgtls "github.com/HatiCode/rackguard/pkg/tls"
)

// version is set via ldflags at build time
var version = "dev"

const memoryStoreCap = 5000

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting rackguard controller",
		"version", version,
		"mode", cfg.Mode,
		"collector", cfg.Collector,
		"tls_enabled", cfg.TLS.Enabled,
	)

	m := metrics.New()

	scorer := envelope.NewScorer()
	if cfg.ModelPath != "" {
		model, err := envelope.Load(cfg.ModelPath)
		if err != nil {
			logger.Error("failed to load envelope model", "path", cfg.ModelPath, "error", err)
			os.Exit(1)
		}
		scorer.Swap(model)
		logger.Info("envelope model loaded",
			"id", model.ID,
			"features", len(model.Features),
			"clusters", len(model.Centroids),
			"tau_fast", model.TauFast,
			"tau_persist", model.TauPersist,
		)
	} else {
		logger.Warn("no model configured, scoring is idle until a model is loaded")
	}

	collector := newCollector(cfg)

	store := newStore(cfg, logger)
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	sink, err := newSink(cfg, logger)
	if err != nil {
		logger.Error("failed to configure action sink", "error", err)
		os.Exit(1)
	}
	logger.Info("action sink configured", "sink", sink.Name())

	mode, err := control.ParseMode(cfg.Mode)
	if err != nil {
		logger.Error("invalid mode", "error", err)
		os.Exit(1)
	}
	sw := control.NewSwitch(mode)

	limits := control.Limits{
		InletMaxC:    cfg.InletMaxC,
		OutletMaxC:   cfg.OutletMaxC,
		SLALatencyMs: cfg.SLALatencyMs,
		RackPowerKW:  cfg.RackPowerKW,
	}

	dispatcher := &control.Dispatcher{
		Sink:        sink,
		Records:     store,
		Limiter:     control.NewRateLimiter(cfg.RateLimit),
		Switch:      sw,
		Limits:      limits,
		SinkTimeout: cfg.SinkTimeout,
		Logger:      logger,
		OnAction: func(rec actions.Record) {
			m.RecordAction(rec.Loop, string(rec.Outcome))
			if rec.RollbackOf != "" {
				m.RecordRollback()
			}
		},
	}

	table := control.NewTable()
	filter := control.Filter{Alpha: cfg.EMAAlpha, PersistTicks: cfg.PersistTicks}

	ingestor := NewIngestor(collector, scorer, filter, table, 2*cfg.ScoreInterval, logger, m)

	fastLoop := &control.FastLoop{
		Table:         table,
		Scorer:        scorer,
		Dispatcher:    dispatcher,
		SafetyMarginC: cfg.SafetyMarginC,
		Interval:      cfg.FastInterval,
		Logger:        logger,
	}

	slowLoop := &control.SlowLoop{
		Table:         table,
		Scorer:        scorer,
		Dispatcher:    dispatcher,
		Estimator:     &control.StaticEstimator{Limits: limits},
		SafetyMarginC: cfg.SafetyMarginC,
		Interval:      cfg.SlowInterval,
		OnEscalation: func(rec actions.Record) {
			m.RecordEscalation()
		},
		Logger: logger,
	}

	mux := router.SetupRoutes(table, scorer, store, sw, logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	if cfg.TLS.Enabled {
		tlsConfig, err := rgtls.NewServerTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			logger.Error("failed to create TLS configuration", "error", err)
			os.Exit(1)
		}
		httpServer.SetTLSConfig(tlsConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := ingestor.Run(ctx, cfg.ScoreInterval); err != nil && err != context.Canceled {
			logger.Error("ingestion loop failed", "error", err)
		}
	}()
	go func() {
		if err := fastLoop.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("fast loop failed", "error", err)
		}
	}()
	go func() {
		if err := slowLoop.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("slow loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		if cfg.TLS.Enabled {
			serverErr <- httpServer.StartTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErr <- httpServer.Start()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newCollector builds the telemetry collector selected by configuration.
// Config validation has already checked the per-collector required fields.
func newCollector(cfg *config.Config) ingest.Collector {
	switch cfg.Collector {
	case "json":
		return &ingest.JSONCollector{
			URL:             cfg.JSONURL,
			EntityPath:      cfg.JSONEntityPath,
			TimestampPath:   cfg.JSONTSPath,
			MetricPaths:     cfg.JSONMetricPaths,
			TimestampFormat: cfg.JSONTSFormat,
		}
	default:
		queries := make(map[string]string, len(telemetry.DefaultFeatures))
		for _, metric := range telemetry.DefaultFeatures {
			queries[metric] = strings.ReplaceAll(cfg.PromQueryTemplate, "{metric}", metric)
		}
		return &ingest.PrometheusCollector{
			ServerURL:   cfg.PromURL,
			EntityLabel: cfg.EntityLabel,
			Queries:     queries,
			StepSeconds: int(cfg.ScoreInterval.Seconds()),
		}
	}
}

// newSink builds the action sink. An empty sink URL selects the log-only
// sink; an https executor endpoint reuses the controller's mTLS material.
func newSink(cfg *config.Config, logger *slog.Logger) (actions.Sink, error) {
	if cfg.SinkURL == "" {
		return &actions.LogSink{Logger: logger}, nil
	}

	sink := &actions.HTTPSink{URL: cfg.SinkURL}
	if cfg.TLS.Enabled && strings.HasPrefix(cfg.SinkURL, "https://") {
		tlsConfig, err := rgtls.NewClientTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile)
		if err != nil {
			return nil, err
		}
		sink.HTTPClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}
	}
	return sink, nil
}

// newStore builds the action record store selected by configuration.
func newStore(cfg *config.Config, logger *slog.Logger) storage.ActionStore {
	if cfg.Storage == "redis" {
		store, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			logger.Error("failed to create redis store", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			logger.Error("redis unreachable", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("using redis action store", "addr", cfg.RedisAddr, "ttl", cfg.RedisTTL)
		return store
	}
	logger.Info("using in-memory action store", "cap", memoryStoreCap)
	return storage.NewMemoryStore(memoryStoreCap)
}
