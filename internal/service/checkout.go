// Package service contains the business logic layer.
//
// This file implements checkout initiation: writing the local pending
// checkout record and handing the user off to the provider's hosted page.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// CheckoutService starts checkouts and opens the billing portal.
type CheckoutService interface {
	// StartCheckout validates the price, records the checkout intent, creates
	// the provider session, and kicks off customer-id reconciliation in the
	// background. Returns the URL to redirect the user to.
	StartCheckout(ctx context.Context, userID uuid.UUID, priceID string) (string, error)

	// PortalURL opens a billing-portal session for a user with a linked
	// billing customer. Returns domain.EINVALID when nothing is linked yet.
	PortalURL(ctx context.Context, userID uuid.UUID) (string, error)
}

// =============================================================================
// Implementation
// =============================================================================

type checkoutService struct {
	store      Store
	billing    billing.Service
	catalog    *billing.Catalog
	reconciler *Reconciler
	baseURL    string
	logger     *slog.Logger
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(store Store, billingService billing.Service, catalog *billing.Catalog, reconciler *Reconciler, baseURL string, logger *slog.Logger) CheckoutService {
	return &checkoutService{
		store:      store,
		billing:    billingService,
		catalog:    catalog,
		reconciler: reconciler,
		baseURL:    baseURL,
		logger:     logger,
	}
}

func (s *checkoutService) StartCheckout(ctx context.Context, userID uuid.UUID, priceID string) (string, error) {
	const op = "checkout.start"

	if _, known := s.catalog.EffectForPrice(priceID); !known {
		return "", domain.Invalid(op, "Unknown price id")
	}

	// Reuse the linked billing customer when there is one; otherwise the
	// provider creates a customer during checkout and the reconciler links it.
	customerID := ""
	if ent, err := s.store.GetEntitlement(ctx, userID); err == nil {
		customerID = ent.BillingCustomerID
	}

	checkout := &domain.PendingCheckout{
		ID:        uuid.New(),
		UserID:    userID,
		PriceID:   priceID,
		Status:    domain.CheckoutPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePendingCheckout(ctx, checkout); err != nil {
		return "", err
	}

	sess, err := s.billing.CreateCheckoutSession(billing.CheckoutParams{
		CustomerID:       customerID,
		PriceID:          priceID,
		SubscriptionMode: s.catalog.IsSubscriptionPrice(priceID),
		ClientReference:  userID.String(),
		CheckoutID:       checkout.ID.String(),
		SuccessURL:       fmt.Sprintf("%s/billing/success?session_id={CHECKOUT_SESSION_ID}", s.baseURL),
		CancelURL:        fmt.Sprintf("%s/billing", s.baseURL),
	})
	if err != nil {
		return "", domain.Internal(err, op, "Failed to create checkout session")
	}

	checkout.SessionID = sess.ID
	if err := s.store.UpdatePendingCheckout(ctx, checkout); err != nil {
		return "", err
	}

	// Reconciliation runs detached from the request: the session URL must be
	// returned immediately while linkage waits on the provider.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.reconciler.config.Window())
		defer cancel()
		if err := s.reconciler.LinkCheckout(ctx, checkout.ID); err != nil {
			s.logger.Warn("background reconciliation incomplete",
				"checkout_id", checkout.ID, "error", err)
		}
	}()

	s.logger.Info("checkout started",
		"user_id", userID, "checkout_id", checkout.ID, "price_id", priceID)
	return sess.URL, nil
}

func (s *checkoutService) PortalURL(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "checkout.portal"

	ent, err := s.store.GetEntitlement(ctx, userID)
	if err != nil {
		return "", err
	}
	if ent.BillingCustomerID == "" {
		return "", domain.Invalid(op, "No billing customer linked to this account")
	}

	url, err := s.billing.CreatePortalSession(ent.BillingCustomerID, fmt.Sprintf("%s/billing", s.baseURL))
	if err != nil {
		return "", domain.Internal(err, op, "Failed to create portal session")
	}
	return url, nil
}
