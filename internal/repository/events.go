package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/domain"
	"github.com/sqlc-dev/pqtype"
)

// EventProcessed reports whether a webhook event id has already been applied.
func (s *Store) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	const op = "repository.event_processed"

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`,
		eventID).Scan(&exists)
	if err != nil {
		return false, domain.Internal(err, op, "Failed to check processed event")
	}
	return exists, nil
}

// ApplyEvent applies a webhook event's ledger mutation and records the event
// id in a single transaction. The insert races on the event_id primary key:
// when a concurrent or earlier delivery already claimed the id, the mutation
// is skipped and applied=false is returned. The event record and the grant
// therefore commit together or not at all.
func (s *Store) ApplyEvent(ctx context.Context, ev domain.ProcessedEvent, userID uuid.UUID, fn func(e *domain.Entitlement) error) (applied bool, err error) {
	const op = "repository.apply_event"

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		payload := pqtype.NullRawMessage{RawMessage: ev.Payload, Valid: len(ev.Payload) > 0}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO processed_events (event_id, event_type, payload)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (event_id) DO NOTHING`,
			ev.EventID, ev.EventType, payload)
		if err != nil {
			return err
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			// Redelivery: the first delivery's transaction won the id.
			return nil
		}

		e, err := lockEntitlement(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		if err := updateEntitlement(ctx, tx, e); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return false, err
		}
		return false, domain.Internal(err, op, "Failed to apply webhook event")
	}
	return applied, nil
}
