package control

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/HatiCode/rackguard/pkg/actions"
	"github.com/HatiCode/rackguard/pkg/storage"
)

// Dispatcher is the single path every proposed action takes:
//
//	guardrail verdict → rate-limit admission → mode/kill gate → sink call
//
// Every outcome (executed, rejected, deferred, advisory, failed) is
// appended to the record store with a human-readable reason. Nothing is ever
// silently skipped. The sink call is bounded by SinkTimeout and retried
// exactly once on failure; a second failure is recorded as failed execution,
// never treated as success.
type Dispatcher struct {
	Sink    actions.Sink
	Records storage.ActionStore
	Limiter *RateLimiter
	Switch  *Switch
	Limits  Limits

	// SinkTimeout bounds each sink attempt. Defaults to 5s.
	SinkTimeout time.Duration

	Logger *slog.Logger

	// OnAction, if set, is called once per appended record. The controller
	// wires it to Prometheus counters.
	OnAction func(rec actions.Record)

	seq atomic.Uint64
	now func() time.Time
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Submit runs one candidate through the full decision path and returns the
// appended record. rollbackOf references the record this candidate
// compensates for, empty otherwise.
func (d *Dispatcher) Submit(ctx context.Context, loop string, c actions.Candidate, obs Observed, rollbackOf string) actions.Record {
	rec := actions.Record{
		ID:         actions.NewRecordID(d.clock(), d.seq.Add(1)),
		Timestamp:  d.clock(),
		Loop:       loop,
		Entity:     c.Entity,
		Kind:       c.Kind,
		Params:     c.Params,
		Reason:     c.Reason,
		Predicted:  c.Effect,
		RollbackOf: rollbackOf,
	}

	verdict := d.Limits.Evaluate(c, obs)
	rec.Verdict = verdict.Reason
	if !verdict.Allowed {
		rec.Outcome = actions.OutcomeRejected
		d.logger().Warn("action rejected by guardrail",
			"loop", loop, "entity", c.Entity, "kind", c.Kind, "reason", verdict.Reason)
		return d.finish(ctx, rec)
	}

	// Rollbacks bypass the rate limiter: a compensating action must not be
	// held back by the cooldown its original started. They still restart the
	// cooldown so the next regular action of the same kind waits.
	if rollbackOf == "" {
		if ok, wait := d.Limiter.Admit(c.Entity, c.Kind); !ok {
			rec.Outcome = actions.OutcomeDeferred
			rec.Verdict = "rate limited"
			d.logger().Info("action deferred by rate limiter",
				"loop", loop, "entity", c.Entity, "kind", c.Kind, "retry_in", wait)
			return d.finish(ctx, rec)
		}
	} else {
		d.Limiter.Touch(c.Entity, c.Kind)
	}

	// The kill switch is checked immediately before dispatch so an in-flight
	// decision becomes advisory-only the moment it is engaged.
	if !d.Switch.Dispatchable() {
		rec.Outcome = actions.OutcomeAdvisory
		d.logger().Info("action recorded advisory-only",
			"loop", loop, "entity", c.Entity, "kind", c.Kind,
			"mode", d.Switch.Mode(), "kill_switch", d.Switch.KillSwitch())
		return d.finish(ctx, rec)
	}

	if err := d.apply(ctx, c); err != nil {
		rec.Outcome = actions.OutcomeFailed
		rec.Error = err.Error()
		d.logger().Error("action dispatch failed",
			"loop", loop, "entity", c.Entity, "kind", c.Kind, "error", err)
		return d.finish(ctx, rec)
	}

	rec.Outcome = actions.OutcomeExecuted
	d.logger().Info("action dispatched",
		"loop", loop, "entity", c.Entity, "kind", c.Kind,
		"params", c.Params, "reason", c.Reason)
	return d.finish(ctx, rec)
}

// apply issues the sink call with a bounded timeout and one retry. The sink
// contract is idempotent-safe, so the retry cannot double-apply.
func (d *Dispatcher) apply(ctx context.Context, c actions.Candidate) error {
	timeout := d.SinkTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	attempt := func() error {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return d.Sink.Apply(cctx, c)
	}

	err := attempt()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	d.logger().Warn("sink call failed, retrying once",
		"entity", c.Entity, "kind", c.Kind, "error", err)
	return attempt()
}

func (d *Dispatcher) finish(ctx context.Context, rec actions.Record) actions.Record {
	if err := d.Records.Append(ctx, rec); err != nil {
		d.logger().Error("failed to append action record",
			"id", rec.ID, "entity", rec.Entity, "error", err)
	}
	if d.OnAction != nil {
		d.OnAction(rec)
	}
	return rec
}
