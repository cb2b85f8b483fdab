// Package metrics provides Prometheus instrumentation for the controller.
//
// Metrics exposed:
//   - rackguard_collect_seconds: Histogram of telemetry collection duration
//   - rackguard_score_seconds: Histogram of scoring+filter duration per tick
//   - rackguard_samples_total: Counter of accepted telemetry samples
//   - rackguard_sample_rejects_total: Counter of rejected samples by reason
//   - rackguard_smoothed_deviation: Gauge of smoothed deviation per rack
//   - rackguard_classification: Gauge per rack (0 nominal, 1 transient, 2 persistent)
//   - rackguard_actions_total: Counter of action records by loop and outcome
//   - rackguard_rollbacks_total: Counter of rollback actions
//   - rackguard_escalations_total: Counter of failed compensations
//   - rackguard_errors_total: Counter of errors by component and reason
//
// All metrics are exposed via the /metrics HTTP endpoint for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the controller.
type Metrics struct {
	CollectSeconds     prometheus.Histogram
	ScoreSeconds       prometheus.Histogram
	SamplesTotal       prometheus.Counter
	SampleRejectsTotal *prometheus.CounterVec
	SmoothedDeviation  *prometheus.GaugeVec
	Classification     *prometheus.GaugeVec
	ActionsTotal       *prometheus.CounterVec
	RollbacksTotal     prometheus.Counter
	EscalationsTotal   prometheus.Counter
	ErrorsTotal        *prometheus.CounterVec
}

// New creates and registers all controller metrics.
func New() *Metrics {
	return &Metrics{
		CollectSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rackguard_collect_seconds",
			Help:    "Time spent collecting telemetry",
			Buckets: prometheus.DefBuckets,
		}),

		ScoreSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rackguard_score_seconds",
			Help:    "Time spent scoring and filtering one ingestion tick",
			Buckets: prometheus.DefBuckets,
		}),

		SamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rackguard_samples_total",
			Help: "Total accepted telemetry samples",
		}),

		SampleRejectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rackguard_sample_rejects_total",
			Help: "Total rejected telemetry samples by reason",
		}, []string{"reason"}),

		SmoothedDeviation: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rackguard_smoothed_deviation",
			Help: "Smoothed deviation per rack",
		}, []string{"rack"}),

		Classification: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rackguard_classification",
			Help: "Classification per rack (0 nominal, 1 transient, 2 persistent)",
		}, []string{"rack"}),

		ActionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rackguard_actions_total",
			Help: "Total action records by loop and outcome",
		}, []string{"loop", "outcome"}),

		RollbacksTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rackguard_rollbacks_total",
			Help: "Total rollback actions issued",
		}),

		EscalationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rackguard_escalations_total",
			Help: "Total compensating actions that could not be applied",
		}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rackguard_errors_total",
			Help: "Total errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// ObserveCollect records telemetry collection duration.
func (m *Metrics) ObserveCollect(seconds float64) {
	m.CollectSeconds.Observe(seconds)
}

// ObserveScore records scoring tick duration.
func (m *Metrics) ObserveScore(seconds float64) {
	m.ScoreSeconds.Observe(seconds)
}

// RecordSample counts one accepted sample.
func (m *Metrics) RecordSample() {
	m.SamplesTotal.Inc()
}

// RecordSampleReject counts one rejected sample.
func (m *Metrics) RecordSampleReject(reason string) {
	m.SampleRejectsTotal.WithLabelValues(reason).Inc()
}

// SetEntityState publishes the per-rack gauges.
func (m *Metrics) SetEntityState(rack string, smoothed float64, class float64) {
	m.SmoothedDeviation.WithLabelValues(rack).Set(smoothed)
	m.Classification.WithLabelValues(rack).Set(class)
}

// RecordAction counts one action record.
func (m *Metrics) RecordAction(loop, outcome string) {
	m.ActionsTotal.WithLabelValues(loop, outcome).Inc()
}

// RecordRollback counts one rollback.
func (m *Metrics) RecordRollback() {
	m.RollbacksTotal.Inc()
}

// RecordEscalation counts one failed compensation.
func (m *Metrics) RecordEscalation() {
	m.EscalationsTotal.Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
