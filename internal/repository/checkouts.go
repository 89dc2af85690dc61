package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/domain"
)

const checkoutColumns = `id, user_id, price_id, session_id, customer_id, status, created_at, updated_at`

func scanCheckout(row rowScanner) (*domain.PendingCheckout, error) {
	var (
		c      domain.PendingCheckout
		status string
	)
	err := row.Scan(&c.ID, &c.UserID, &c.PriceID, &c.SessionID, &c.CustomerID,
		&status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CheckoutStatus(status)
	return &c, nil
}

// CreatePendingCheckout inserts a new checkout-intent record.
func (s *Store) CreatePendingCheckout(ctx context.Context, c *domain.PendingCheckout) error {
	const op = "repository.create_pending_checkout"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_checkouts (id, user_id, price_id, session_id, customer_id, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		c.ID, c.UserID, c.PriceID, c.SessionID, c.CustomerID, string(c.Status), c.CreatedAt)
	if err != nil {
		return domain.Internal(err, op, "Failed to create pending checkout")
	}
	return nil
}

// GetPendingCheckout returns a checkout by its local id.
func (s *Store) GetPendingCheckout(ctx context.Context, id uuid.UUID) (*domain.PendingCheckout, error) {
	const op = "repository.get_pending_checkout"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkoutColumns+` FROM pending_checkouts WHERE id = $1`, id)
	c, err := scanCheckout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "pending checkout", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load pending checkout")
	}
	return c, nil
}

// GetPendingCheckoutBySession returns a checkout by the provider session id.
func (s *Store) GetPendingCheckoutBySession(ctx context.Context, sessionID string) (*domain.PendingCheckout, error) {
	const op = "repository.get_pending_checkout_by_session"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkoutColumns+` FROM pending_checkouts WHERE session_id = $1`, sessionID)
	c, err := scanCheckout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "pending checkout", sessionID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load pending checkout by session")
	}
	return c, nil
}

// UpdatePendingCheckout writes back the mutable fields of a checkout record.
func (s *Store) UpdatePendingCheckout(ctx context.Context, c *domain.PendingCheckout) error {
	const op = "repository.update_pending_checkout"

	_, err := s.db.ExecContext(ctx,
		`UPDATE pending_checkouts
		 SET session_id = $2, customer_id = $3, status = $4, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.SessionID, c.CustomerID, string(c.Status))
	if err != nil {
		return domain.Internal(err, op, "Failed to update pending checkout")
	}
	return nil
}

// DeleteExpiredCheckouts prunes checkout records older than the cutoff.
// Resolved and unresolved records alike are safe to drop: linkage state lives
// on the entitlement record.
func (s *Store) DeleteExpiredCheckouts(ctx context.Context, olderThan time.Time) (int64, error) {
	const op = "repository.delete_expired_checkouts"

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_checkouts WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to delete expired checkouts")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, domain.Internal(err, op, "Failed to count deleted checkouts")
	}
	return n, nil
}
