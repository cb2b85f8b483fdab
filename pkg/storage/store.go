// Package storage provides the append-only action record store consumed by
// the reporting and dashboard collaborators.
package storage

import (
	"context"

	"github.com/HatiCode/rackguard/pkg/actions"
)

// ActionStore persists action records. Records are append-only: the only
// mutation allowed after Append is AttachOutcome, which fills in the realized
// metrics and rollback flag once the next observation window has been seen.
type ActionStore interface {
	Append(ctx context.Context, rec actions.Record) error

	// List returns the most recent records for an entity, newest first.
	// An empty entity returns records across all entities.
	List(ctx context.Context, entity string, limit int) ([]actions.Record, error)

	// Get returns one record by id.
	Get(ctx context.Context, id string) (actions.Record, bool, error)

	// AttachOutcome records the realized metrics and rollback flag on an
	// already-appended record.
	AttachOutcome(ctx context.Context, id string, realized map[string]float64, rolledBack bool) error
}
