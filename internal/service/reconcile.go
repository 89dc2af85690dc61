// Package service contains the business logic layer.
//
// This file implements identity reconciliation: linking the payment
// provider's asynchronously assigned customer id to the local account that
// initiated the checkout.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
	"github.com/mossholder/ticketd/internal/metrics"
	"github.com/sethvargo/go-retry"
)

// Reconciler polling defaults. The provider usually assigns the customer
// within seconds of checkout completion; the webhook is the authoritative
// fallback when it does not.
const (
	DefaultReconcileAttempts = 5
	DefaultReconcileInterval = 3 * time.Second
)

// ReconcilerConfig tunes the bounded polling loop.
type ReconcilerConfig struct {
	// Attempts is the number of polls before giving up.
	Attempts uint64
	// Interval is the constant delay between polls.
	Interval time.Duration
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.Attempts == 0 {
		c.Attempts = DefaultReconcileAttempts
	}
	if c.Interval <= 0 {
		c.Interval = DefaultReconcileInterval
	}
	return c
}

// Window returns an upper bound on how long a full reconciliation run takes,
// for callers that run it under a context timeout.
func (c ReconcilerConfig) Window() time.Duration {
	cfg := c.withDefaults()
	return time.Duration(cfg.Attempts+1) * cfg.Interval * 2
}

// Reconciler links a provider-assigned customer id to the local account, by
// polling the provider for a bounded number of attempts. On exhaustion it
// leaves the checkout in a terminal unresolved state; the webhook path, which
// also carries the customer id, can still complete the same linkage later.
type Reconciler struct {
	store   Store
	billing billing.Service
	config  ReconcilerConfig
	logger  *slog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(store Store, billingService billing.Service, config ReconcilerConfig, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		billing: billingService,
		config:  config.withDefaults(),
		logger:  logger,
	}
}

// errCustomerPending signals that the provider has not assigned the customer
// id yet and the poll should continue.
var errCustomerPending = errors.New("customer id not assigned yet")

// LinkCheckout polls the provider for the customer id behind a pending
// checkout and writes it onto the user's entitlement record, set-once.
// Returns domain.ERECONCILE when the polling window is exhausted.
func (r *Reconciler) LinkCheckout(ctx context.Context, checkoutID uuid.UUID) error {
	const op = "reconciler.link_checkout"

	checkout, err := r.store.GetPendingCheckout(ctx, checkoutID)
	if err != nil {
		return err
	}
	if checkout.Status == domain.CheckoutResolved {
		metrics.ReconciliationsTotal.WithLabelValues("already_resolved").Inc()
		return nil
	}

	var customerID string
	backoff := retry.WithMaxRetries(r.config.Attempts, retry.NewConstant(r.config.Interval))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		sess, err := r.billing.GetCheckoutSession(checkout.SessionID)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("fetch checkout session: %w", err))
		}
		if sess.Customer == nil || sess.Customer.ID == "" {
			return retry.RetryableError(errCustomerPending)
		}
		customerID = sess.Customer.ID
		return nil
	})
	if err != nil {
		r.markUnresolved(ctx, checkout)
		metrics.ReconciliationsTotal.WithLabelValues("timeout").Inc()
		r.logger.Warn("customer linkage polling exhausted, webhook will complete it",
			"checkout_id", checkoutID,
			"session_id", checkout.SessionID,
			"attempts", r.config.Attempts,
			"error", err,
		)
		return domain.ReconcileTimeout(op, checkoutID.String())
	}

	if err := r.link(ctx, checkout, customerID); err != nil {
		metrics.ReconciliationsTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.ReconciliationsTotal.WithLabelValues("linked").Inc()
	r.logger.Info("billing customer linked",
		"user_id", checkout.UserID, "checkout_id", checkoutID, "customer_id", customerID)
	return nil
}

// link writes the customer id onto the entitlement record (set-once, no-op if
// the webhook got there first) and marks the checkout resolved.
func (r *Reconciler) link(ctx context.Context, checkout *domain.PendingCheckout, customerID string) error {
	err := r.store.MutateEntitlement(ctx, checkout.UserID, func(e *domain.Entitlement) error {
		return e.LinkBillingCustomer(customerID)
	})
	if err != nil {
		return err
	}

	checkout.CustomerID = customerID
	checkout.Status = domain.CheckoutResolved
	return r.store.UpdatePendingCheckout(ctx, checkout)
}

// markUnresolved records the terminal unresolved state so the exhaustion is
// observable rather than silent.
func (r *Reconciler) markUnresolved(ctx context.Context, checkout *domain.PendingCheckout) {
	checkout.Status = domain.CheckoutUnresolved
	if err := r.store.UpdatePendingCheckout(ctx, checkout); err != nil {
		r.logger.Error("failed to mark checkout unresolved", "checkout_id", checkout.ID, "error", err)
	}
}
