// Package service contains the business logic layer.
//
// This file implements the quota ledger: the sum-and-consume rules over the
// four ticket pools, with scheduled refills applied lazily on read.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
	"github.com/mossholder/ticketd/internal/metrics"
)

// =============================================================================
// Interface Definition
// =============================================================================

// LedgerService defines the ticket ledger operations consumed by feature
// flows (debit, availability) and by the webhook processor (grant).
type LedgerService interface {
	// Available applies any due scheduled refill, then returns the sum of all
	// pools valid for kind. The refill side effect is idempotent.
	Available(ctx context.Context, userID uuid.UUID, kind domain.TicketKind) (domain.Allotment, error)

	// Snapshot applies any due refills and returns the full entitlement,
	// for the per-pool read surface.
	Snapshot(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)

	// Debit consumes amount tickets of kind in fixed pool priority order.
	// All-or-nothing: returns domain.EINSUFFICIENT with no change when the
	// pools cannot cover the amount. Serialized per user.
	Debit(ctx context.Context, userID uuid.UUID, kind domain.TicketKind, amount int64) error

	// Grant applies a catalog effect to the user's entitlement: pack grants
	// increment, subscription activations replace wholesale.
	Grant(ctx context.Context, userID uuid.UUID, effect billing.Effect, renewalAt time.Time) error
}

// =============================================================================
// Implementation
// =============================================================================

type ledgerService struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(store Store, logger *slog.Logger) LedgerService {
	return &ledgerService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Available applies due refills and returns the pool sum for kind.
func (s *ledgerService) Available(ctx context.Context, userID uuid.UUID, kind domain.TicketKind) (domain.Allotment, error) {
	const op = "ledger.available"

	if !kind.Valid() {
		return domain.Finite(0), domain.Invalid(op, "Unknown ticket kind")
	}

	var avail domain.Allotment
	err := s.store.MutateEntitlement(ctx, userID, func(e *domain.Entitlement) error {
		s.applyResets(e)
		avail = e.Available(kind)
		return nil
	})
	if err != nil {
		return domain.Finite(0), err
	}
	return avail, nil
}

// Snapshot applies due refills and returns the entitlement record.
func (s *ledgerService) Snapshot(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	var snap *domain.Entitlement
	err := s.store.MutateEntitlement(ctx, userID, func(e *domain.Entitlement) error {
		s.applyResets(e)
		copied := *e
		snap = &copied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Debit consumes tickets in priority order: daily free, monthly free (ai
// only), subscription allotment, packs. The row lock held by the store for
// the duration of the mutation makes concurrent debits on one account
// serializable; two debits can never subtract from the same balance.
func (s *ledgerService) Debit(ctx context.Context, userID uuid.UUID, kind domain.TicketKind, amount int64) error {
	const op = "ledger.debit"

	err := s.store.MutateEntitlement(ctx, userID, func(e *domain.Entitlement) error {
		s.applyResets(e)
		return e.Debit(kind, amount)
	})
	if err != nil {
		if domain.ErrorCode(err) == domain.EINSUFFICIENT {
			metrics.DebitsTotal.WithLabelValues(string(kind), "insufficient").Inc()
			s.logger.Info("debit refused, insufficient tickets",
				"user_id", userID,
				"kind", kind,
				"amount", amount,
			)
		} else {
			metrics.DebitsTotal.WithLabelValues(string(kind), "error").Inc()
		}
		return err
	}

	metrics.DebitsTotal.WithLabelValues(string(kind), "ok").Inc()
	s.logger.Debug("tickets debited", "user_id", userID, "kind", kind, "amount", amount)
	return nil
}

// Grant applies a catalog effect outside webhook processing (the webhook path
// couples the same mutation with its idempotency record, see WebhookProcessor).
func (s *ledgerService) Grant(ctx context.Context, userID uuid.UUID, effect billing.Effect, renewalAt time.Time) error {
	err := s.store.MutateEntitlement(ctx, userID, func(e *domain.Entitlement) error {
		return ApplyEffect(e, effect, renewalAt)
	})
	if err != nil {
		return err
	}
	s.logger.Info("effect granted", "user_id", userID)
	return nil
}

// applyResets refills due pools and records which schedules fired.
func (s *ledgerService) applyResets(e *domain.Entitlement) {
	now := s.now()
	dailyDue := domain.DailyResetDue(e.LastDailyReset, now)
	monthlyDue := domain.MonthlyResetDue(e.LastMonthlyReset, now)
	if e.ApplyDueResets(now) {
		if dailyDue {
			metrics.ResetsApplied.WithLabelValues("daily").Inc()
		}
		if monthlyDue {
			metrics.ResetsApplied.WithLabelValues("monthly").Inc()
		}
	}
}

// ApplyEffect applies a catalog effect to an entitlement: one-time grants
// increment the pack pool, subscription activations replace the subscription
// pool wholesale.
func ApplyEffect(e *domain.Entitlement, effect billing.Effect, renewalAt time.Time) error {
	const op = "ledger.apply_effect"

	switch v := effect.(type) {
	case billing.OneTimeGrant:
		if err := e.AddPack(v.Kind, v.Amount); err != nil {
			return err
		}
		metrics.GrantsTotal.WithLabelValues(string(domain.PoolPack)).Inc()
		return nil
	case billing.SubscriptionActivation:
		if err := e.ActivateSubscription(v.Tier, renewalAt); err != nil {
			return err
		}
		metrics.GrantsTotal.WithLabelValues(string(domain.PoolSubscription)).Inc()
		return nil
	default:
		return domain.Invalid(op, "Unknown effect type")
	}
}
