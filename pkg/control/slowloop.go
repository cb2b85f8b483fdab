package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/envelope"
	"github.com/HatiCode/rackguard/pkg/telemetry"
)

// RegressionTolerance bounds how much worse the realized metrics may be than
// the pre-action snapshot before the slow loop rolls the action back.
type RegressionTolerance struct {
	// InletDeltaC is the absolute inlet warming allowed. Defaults to 1.0.
	InletDeltaC float64

	// LatencyPct and PowerPct are relative bounds. Defaults: 10 each.
	LatencyPct float64
	PowerPct   float64
}

func (t RegressionTolerance) withDefaults() RegressionTolerance {
	if t.InletDeltaC <= 0 {
		t.InletDeltaC = 1.0
	}
	if t.LatencyPct <= 0 {
		t.LatencyPct = 10
	}
	if t.PowerPct <= 0 {
		t.PowerPct = 10
	}
	return t
}

// pendingAction is an executed slow-loop action awaiting its realized-effect
// check on the next tick.
type pendingAction struct {
	record     actions.Record
	candidate  actions.Candidate
	preMetrics map[string]float64
}

// SlowLoop is the longer-period optimizer. Each tick it first settles the
// realized outcome of the previous tick's actions (rolling back regressions),
// then enumerates estimator candidates per entity, discards guardrail
// violators, and dispatches the one with the highest predicted efficiency
// gain (ties broken by lowest predicted SLA risk).
type SlowLoop struct {
	Table      *Table
	Scorer     *envelope.Scorer
	Dispatcher *Dispatcher
	Estimator  Estimator

	Tolerance RegressionTolerance

	// SafetyMarginC mirrors the fast loop's hard-limit margin: entities
	// inside it are in a hard-fault condition and are left to the fast loop.
	// Defaults to 0.5.
	SafetyMarginC float64

	// Interval is the loop period. Defaults to 2m.
	Interval time.Duration

	// OnEscalation, if set, is called when a compensating rollback cannot be
	// applied, the one condition the loop cannot self-heal.
	OnEscalation func(rec actions.Record)

	Logger *slog.Logger

	// pending is touched only from the loop goroutine (or Tick in tests).
	pending map[string]pendingAction
}

func (l *SlowLoop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *SlowLoop) safetyMargin() float64 {
	if l.SafetyMarginC <= 0 {
		return 0.5
	}
	return l.SafetyMarginC
}

// Run executes the loop until the context is canceled.
func (l *SlowLoop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	l.logger().Info("starting slow optimizer loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger().Info("slow optimizer loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick performs one optimization cycle. Exported for tests.
func (l *SlowLoop) Tick(ctx context.Context) {
	model := l.Scorer.Active()
	if model == nil {
		return
	}
	if l.pending == nil {
		l.pending = make(map[string]pendingAction)
	}

	l.settlePending(ctx, model)

	for _, st := range l.Table.Snapshot() {
		if _, busy := l.pending[st.Entity]; busy {
			continue
		}
		inlet := st.Metrics[telemetry.MetricInletC]
		if l.Dispatcher.Limits.InletMaxC > 0 && inlet >= l.Dispatcher.Limits.InletMaxC-l.safetyMargin() {
			// Hard-fault territory belongs to the fast loop.
			continue
		}

		cand, ok := l.selectCandidate(st, model)
		if !ok {
			continue
		}

		obs := ObservedFrom(st, model.TauPersist)
		rec := l.Dispatcher.Submit(ctx, "slow", cand, obs, "")
		if rec.Outcome == actions.OutcomeExecuted {
			l.pending[st.Entity] = pendingAction{
				record:     rec,
				candidate:  cand,
				preMetrics: st.Metrics,
			}
		}
	}
}

// selectCandidate enumerates, filters, and ranks the candidate set for one
// entity. Guardrail-violating candidates are discarded before ranking so the
// winner is always predicted-compliant.
func (l *SlowLoop) selectCandidate(st EntityState, model *envelope.Model) (actions.Candidate, bool) {
	cands := l.Estimator.Candidates(st, model.TauFast, model.TauPersist)
	if len(cands) == 0 {
		return actions.Candidate{}, false
	}

	obs := ObservedFrom(st, model.TauPersist)
	var (
		best  actions.Candidate
		found bool
	)
	for _, c := range cands {
		if v := l.Dispatcher.Limits.Evaluate(c, obs); !v.Allowed {
			continue
		}
		if !found ||
			c.Effect.SavingPct > best.Effect.SavingPct ||
			(c.Effect.SavingPct == best.Effect.SavingPct && c.Effect.SLARisk < best.Effect.SLARisk) {
			best = c
			found = true
		}
	}
	return best, found
}

// settlePending compares each pending action's realized metrics against the
// pre-action snapshot. Within tolerance the realized outcome is attached and
// the entry cleared; beyond it, exactly one compensating reverse action is
// dispatched and the original record flagged as rolled back.
func (l *SlowLoop) settlePending(ctx context.Context, model *envelope.Model) {
	tol := l.Tolerance.withDefaults()

	for entity, p := range l.pending {
		st, ok := l.Table.Get(entity)
		if !ok || st.UpdatedAt.Before(p.record.Timestamp) {
			// No fresh observation window yet; check again next tick.
			continue
		}
		delete(l.pending, entity)

		realized := st.Metrics
		if !regressed(p.preMetrics, realized, tol) {
			if err := l.Dispatcher.Records.AttachOutcome(ctx, p.record.ID, realized, false); err != nil {
				l.logger().Error("failed to attach realized outcome", "id", p.record.ID, "error", err)
			}
			continue
		}

		l.logger().Warn("realized metrics regressed beyond tolerance, rolling back",
			"entity", entity, "action", p.record.ID, "kind", p.record.Kind)

		if err := l.Dispatcher.Records.AttachOutcome(ctx, p.record.ID, realized, true); err != nil {
			l.logger().Error("failed to attach realized outcome", "id", p.record.ID, "error", err)
		}

		comp := p.candidate.Reverse(fmt.Sprintf("rollback of %s: realized metrics regressed beyond tolerance", p.record.ID))
		obs := ObservedFrom(st, model.TauPersist)
		rec := l.Dispatcher.Submit(ctx, "slow", comp, obs, p.record.ID)

		switch rec.Outcome {
		case actions.OutcomeExecuted, actions.OutcomeAdvisory:
			// Compensation applied (or recorded in advisory mode).
		default:
			// The loop cannot self-heal from here; operators must step in.
			l.logger().Error("FATAL: compensating rollback could not be applied, operator attention required",
				"entity", entity,
				"original", p.record.ID,
				"rollback", rec.ID,
				"outcome", rec.Outcome,
				"error", rec.Error,
			)
			if l.OnEscalation != nil {
				l.OnEscalation(rec)
			}
		}
	}
}

// regressed reports whether realized metrics are worse than the pre-action
// snapshot by more than the tolerance on any health axis.
func regressed(pre, realized map[string]float64, tol RegressionTolerance) bool {
	if realized[telemetry.MetricInletC] > pre[telemetry.MetricInletC]+tol.InletDeltaC {
		return true
	}
	if preLat := pre[telemetry.MetricLatencyP95Ms]; preLat > 0 &&
		realized[telemetry.MetricLatencyP95Ms] > preLat*(1+tol.LatencyPct/100) {
		return true
	}
	if prePow := pre[telemetry.MetricPDUPowerKW]; prePow > 0 &&
		realized[telemetry.MetricPDUPowerKW] > prePow*(1+tol.PowerPct/100) {
		return true
	}
	return false
}
