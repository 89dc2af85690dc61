package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/domain"
)

const entitlementColumns = `user_id,
	daily_upload_tickets, daily_ai_tickets, last_daily_reset,
	monthly_ai_tickets, monthly_ai_cap, last_monthly_reset,
	subscription_tier, sub_upload_remaining, sub_ai_remaining, sub_renewal_at,
	pack_upload_tickets, pack_ai_tickets,
	billing_customer_id, created_at, updated_at`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntitlement(row rowScanner) (*domain.Entitlement, error) {
	var (
		e          domain.Entitlement
		subUpload  sql.NullInt64
		renewalAt  sql.NullTime
		customerID sql.NullString
		tier       string
	)
	err := row.Scan(
		&e.UserID,
		&e.DailyUpload, &e.DailyAI, &e.LastDailyReset,
		&e.MonthlyAI, &e.MonthlyAICap, &e.LastMonthlyReset,
		&tier, &subUpload, &e.SubAI, &renewalAt,
		&e.PackUpload, &e.PackAI,
		&customerID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Tier = domain.SubscriptionTier(tier)
	if subUpload.Valid {
		e.SubUpload = domain.Finite(subUpload.Int64)
	} else {
		// NULL sub_upload_remaining encodes the unlimited sentinel.
		e.SubUpload = domain.Unlimited()
	}
	if renewalAt.Valid {
		e.RenewalAt = renewalAt.Time
	}
	if customerID.Valid {
		e.BillingCustomerID = customerID.String
	}
	return &e, nil
}

// GetEntitlement returns a user's entitlement record.
// Returns domain.ENOTFOUND if the user has no record yet.
func (s *Store) GetEntitlement(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	const op = "repository.get_entitlement"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM user_entitlements WHERE user_id = $1`,
		userID)
	e, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "entitlement", userID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load entitlement")
	}
	return e, nil
}

// GetEntitlementByCustomer returns the entitlement linked to a billing
// customer id. Returns domain.ENOTFOUND when no account is linked to it.
func (s *Store) GetEntitlementByCustomer(ctx context.Context, customerID string) (*domain.Entitlement, error) {
	const op = "repository.get_entitlement_by_customer"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM user_entitlements WHERE billing_customer_id = $1`,
		customerID)
	e, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "entitlement", customerID)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to load entitlement by customer")
	}
	return e, nil
}

// MutateEntitlement loads the user's record under a row lock, applies fn, and
// persists the result — all in one transaction. A missing record is created
// with default pools first, so accounts materialize lazily on first use. An
// error from fn aborts the transaction with no change.
func (s *Store) MutateEntitlement(ctx context.Context, userID uuid.UUID, fn func(e *domain.Entitlement) error) error {
	const op = "repository.mutate_entitlement"

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		e, err := lockEntitlement(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		return updateEntitlement(ctx, tx, e)
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return err
		}
		return domain.Internal(err, op, "Failed to update entitlement")
	}
	return nil
}

// lockEntitlement selects the user's row FOR UPDATE, inserting the default
// record first if none exists.
func lockEntitlement(ctx context.Context, tx *sql.Tx, userID uuid.UUID) (*domain.Entitlement, error) {
	fresh := domain.NewEntitlement(userID, time.Now().UTC())
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_entitlements (
			user_id, daily_upload_tickets, daily_ai_tickets, last_daily_reset,
			monthly_ai_tickets, monthly_ai_cap, last_monthly_reset,
			subscription_tier, sub_upload_remaining, sub_ai_remaining,
			pack_upload_tickets, pack_ai_tickets, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, 0, 0, $9, $9)
		ON CONFLICT (user_id) DO NOTHING`,
		fresh.UserID, fresh.DailyUpload, fresh.DailyAI, fresh.LastDailyReset,
		fresh.MonthlyAI, fresh.MonthlyAICap, fresh.LastMonthlyReset,
		string(fresh.Tier), fresh.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure entitlement row: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+entitlementColumns+` FROM user_entitlements WHERE user_id = $1 FOR UPDATE`,
		userID)
	return scanEntitlement(row)
}

// updateEntitlement writes every pool column back inside the caller's
// transaction. The debit priority order makes each pool's new value depend on
// the previous pool, so partial per-column increments are not an option here.
func updateEntitlement(ctx context.Context, tx *sql.Tx, e *domain.Entitlement) error {
	var subUpload sql.NullInt64
	if !e.SubUpload.IsUnlimited() {
		subUpload = sql.NullInt64{Int64: e.SubUpload.Count(), Valid: true}
	}
	var renewalAt sql.NullTime
	if !e.RenewalAt.IsZero() {
		renewalAt = sql.NullTime{Time: e.RenewalAt, Valid: true}
	}
	var customerID sql.NullString
	if e.BillingCustomerID != "" {
		customerID = sql.NullString{String: e.BillingCustomerID, Valid: true}
	}

	_, err := tx.ExecContext(ctx,
		`UPDATE user_entitlements SET
			daily_upload_tickets = $2,
			daily_ai_tickets = $3,
			last_daily_reset = $4,
			monthly_ai_tickets = $5,
			monthly_ai_cap = $6,
			last_monthly_reset = $7,
			subscription_tier = $8,
			sub_upload_remaining = $9,
			sub_ai_remaining = $10,
			sub_renewal_at = $11,
			pack_upload_tickets = $12,
			pack_ai_tickets = $13,
			billing_customer_id = $14,
			updated_at = now()
		WHERE user_id = $1`,
		e.UserID,
		e.DailyUpload, e.DailyAI, e.LastDailyReset,
		e.MonthlyAI, e.MonthlyAICap, e.LastMonthlyReset,
		string(e.Tier), subUpload, e.SubAI, renewalAt,
		e.PackUpload, e.PackAI, customerID)
	if err != nil {
		return fmt.Errorf("update entitlement: %w", err)
	}
	return nil
}
