// Package main implements the controller's ingestion loop orchestration.
//
// This file contains the Ingestor type which drives the scoring pipeline:
//
//	collect → validate → score → filter → state table
//
// The Ingestor runs continuously via Run(), executing Tick() at regular
// intervals. Each tick pulls fresh telemetry for every rack, scores it
// against the active envelope model, and folds the deviation into the
// per-rack state table that the fast and slow loops read.
//
// Data errors never stop the loop: a sample that fails validation or is
// missing a model feature is rejected, logged, counted, and skipped. Its
// rack keeps its previous classification until a good sample arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/rackguard/cmd/controller/metrics"
	"github.com/HatiCode/rackguard/pkg/control"
	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/ingest"
)

// Ingestor orchestrates the scoring pipeline: collect → score → filter.
type Ingestor struct {
	collector ingest.Collector
	scorer    *envelope.Scorer
	filter    control.Filter
	table     *control.Table
	window    time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewIngestor creates a new Ingestor.
func NewIngestor(
	collector ingest.Collector,
	scorer *envelope.Scorer,
	filter control.Filter,
	table *control.Table,
	window time.Duration,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Ingestor{
		collector: collector,
		scorer:    scorer,
		filter:    filter,
		table:     table,
		window:    window,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes the ingestion loop at regular intervals.
// Blocks until context is canceled.
func (g *Ingestor) Run(ctx context.Context, interval time.Duration) error {
	g.logger.Info("starting ingestion loop",
		"collector", g.collector.Name(),
		"interval", interval,
		"window", g.window,
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := g.Tick(ctx); err != nil {
		g.logger.Error("initial ingestion tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("ingestion loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := g.Tick(ctx); err != nil {
				g.logger.Error("ingestion tick failed", "error", err)
			}
		}
	}
}

// Tick performs one collect-score-filter cycle.
// Exported for testing purposes.
func (g *Ingestor) Tick(ctx context.Context) error {
	start := time.Now()

	collectStart := time.Now()
	samples, err := g.collector.Collect(ctx, int(g.window.Seconds()))
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordError("collector", "collect_failed")
		}
		return fmt.Errorf("collect: %w", err)
	}
	if g.metrics != nil {
		g.metrics.ObserveCollect(time.Since(collectStart).Seconds())
	}

	model := g.scorer.Active()
	if model == nil {
		g.logger.Debug("no active model, skipping scoring", "samples", len(samples))
		return nil
	}

	scored := 0
	for _, sample := range samples {
		if err := sample.Validate(); err != nil {
			g.reject(sample.Entity, "invalid_sample", err)
			continue
		}

		score, err := g.scorer.Score(sample)
		if err != nil {
			switch {
			case errors.Is(err, envelope.ErrNoModel):
				// Model was unloaded mid-tick. Nothing more to score.
				return nil
			case errors.Is(err, envelope.ErrSchemaMismatch):
				g.reject(sample.Entity, "schema_mismatch", err)
			default:
				g.reject(sample.Entity, "score_failed", err)
			}
			continue
		}

		st := g.filter.Observe(g.table, sample, score, model.TauFast)
		scored++

		if g.metrics != nil {
			g.metrics.RecordSample()
			g.metrics.SetEntityState(st.Entity, st.SmoothedDeviation, classificationValue(st.Class))
		}
	}

	if g.metrics != nil {
		g.metrics.ObserveScore(time.Since(start).Seconds())
	}

	g.logger.Debug("ingestion tick complete",
		"samples", len(samples),
		"scored", scored,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (g *Ingestor) reject(entity, reason string, err error) {
	g.logger.Warn("rejecting sample", "rack", entity, "reason", reason, "error", err)
	if g.metrics != nil {
		g.metrics.RecordSampleReject(reason)
	}
}

func classificationValue(c control.Classification) float64 {
	switch c {
	case control.ClassTransient:
		return 1
	case control.ClassPersistent:
		return 2
	default:
		return 0
	}
}
