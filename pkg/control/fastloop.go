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

// FastLoop is the short-period guardrail reaction. It watches for entities
// that are Persistent, whose raw deviation already exceeds tau_fast, or
// whose inlet temperature is within the safety margin of the ceiling, and
// submits exactly one low-risk action from a fixed menu. It never evaluates
// a full candidate set; that is the slow loop's job.
type FastLoop struct {
	Table      *Table
	Scorer     *envelope.Scorer
	Dispatcher *Dispatcher

	// SafetyMarginC is how close the inlet may get to the ceiling before the
	// loop treats it as hard-limit proximity. Defaults to 0.5.
	SafetyMarginC float64

	// Interval is the loop period. Defaults to 10s.
	Interval time.Duration

	Logger *slog.Logger
}

func (l *FastLoop) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l *FastLoop) safetyMargin() float64 {
	if l.SafetyMarginC <= 0 {
		return 0.5
	}
	return l.SafetyMarginC
}

// Run executes the loop until the context is canceled. Each tick owns its
// own timer and failing one tick never stops the loop.
func (l *FastLoop) Run(ctx context.Context) error {
	interval := l.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	l.logger().Info("starting fast guardrail loop", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger().Info("fast guardrail loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.Tick(ctx)
		}
	}
}

// Tick evaluates every entity once. Exported for tests.
func (l *FastLoop) Tick(ctx context.Context) {
	model := l.Scorer.Active()
	if model == nil {
		return
	}

	for _, st := range l.Table.Snapshot() {
		cand, ok := l.selectAction(st, model)
		if !ok {
			continue
		}
		obs := ObservedFrom(st, model.TauPersist)
		l.Dispatcher.Submit(ctx, "fast", cand, obs, "")
	}
}

// selectAction applies the deterministic priority order: hard-limit
// proximity first, then persistence, then raw exceedance. At most one
// candidate comes out.
func (l *FastLoop) selectAction(st EntityState, model *envelope.Model) (actions.Candidate, bool) {
	inlet := st.Metrics[telemetry.MetricInletC]
	limits := l.Dispatcher.Limits

	if limits.InletMaxC > 0 && inlet >= limits.InletMaxC-l.safetyMargin() {
		return actions.Candidate{
			Kind:   actions.KindPrecool,
			Entity: st.Entity,
			Params: map[string]float64{"duration_s": 300},
			Effect: actions.Effect{
				SavingPct:    -1.0,
				InletDeltaC:  -0.8,
				PowerDeltaKW: 0.1,
				SLARisk:      0.1,
			},
			Reason: fmt.Sprintf("inlet %.2fC within %.1fC of ceiling %.2fC", inlet, l.safetyMargin(), limits.InletMaxC),
		}, true
	}

	if st.Class == ClassPersistent {
		return actions.Candidate{
			Kind:   actions.KindTrafficAway,
			Entity: st.Entity,
			Params: map[string]float64{"fraction_pct": 25},
			Effect: actions.Effect{
				LatencyDeltaMs: 5,
				InletDeltaC:    -0.3,
				SLARisk:        0.15,
			},
			Reason: fmt.Sprintf("deviation persistent (smoothed %.3f > tau_fast %.3f)", st.SmoothedDeviation, model.TauFast),
		}, true
	}

	if st.RawDeviation > model.TauFast {
		return actions.Candidate{
			Kind:   actions.KindAdmissionThrottle,
			Entity: st.Entity,
			Params: map[string]float64{"throttle_pct": 10},
			Effect: actions.Effect{
				LatencyDeltaMs: -5,
				InletDeltaC:    -0.2,
				SLARisk:        0.2,
			},
			Reason: fmt.Sprintf("raw deviation %.3f exceeds tau_fast %.3f", st.RawDeviation, model.TauFast),
		}, true
	}

	return actions.Candidate{}, false
}
