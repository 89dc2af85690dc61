// Package service contains the business logic layer.
//
// This file implements webhook event processing: classification, identity
// resolution, catalog lookup, and exactly-once application of payment events
// to the ticket ledger.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
	"github.com/mossholder/ticketd/internal/metrics"
	"github.com/stripe/stripe-go/v79"
)

// WebhookOutcome is the terminal state of a processed event.
type WebhookOutcome string

const (
	// OutcomeApplied means the event's entitlement effect was committed.
	OutcomeApplied WebhookOutcome = "applied"

	// OutcomeSkipped means the event was acknowledged without a ledger change:
	// unhandled type, redelivery, unknown product, or unresolvable user.
	OutcomeSkipped WebhookOutcome = "skipped"
)

// =============================================================================
// Interface Definition
// =============================================================================

// WebhookProcessor turns verified payment-provider events into ledger
// mutations, exactly once per logical event.
type WebhookProcessor interface {
	// ProcessEvent handles one verified event. A nil error means the event
	// reached a terminal outcome and the provider must be answered 2xx;
	// a non-nil error is transient and the provider should retry (5xx).
	ProcessEvent(ctx context.Context, event stripe.Event) (WebhookOutcome, error)
}

// =============================================================================
// Implementation
// =============================================================================

type webhookProcessor struct {
	store   Store
	catalog *billing.Catalog
	logger  *slog.Logger
	now     func() time.Time
}

// NewWebhookProcessor creates a new WebhookProcessor.
func NewWebhookProcessor(store Store, catalog *billing.Catalog, logger *slog.Logger) WebhookProcessor {
	return &webhookProcessor{
		store:   store,
		catalog: catalog,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// handledEvents is the allow-list of event types that carry entitlement
// effects. Everything else is acknowledged and dropped so the provider stops
// retrying it.
var handledEvents = map[stripe.EventType]bool{
	"checkout.session.completed":    true,
	"customer.subscription.created": true,
	"customer.subscription.updated": true,
	"customer.subscription.deleted": true,
	"invoice.payment_succeeded":     true,
}

func (p *webhookProcessor) ProcessEvent(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	outcome, err := p.process(ctx, event)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		return outcome, err
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), string(outcome)).Inc()
	return outcome, nil
}

func (p *webhookProcessor) process(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	if !handledEvents[event.Type] {
		p.logger.Debug("unhandled webhook event type", "type", event.Type, "id", event.ID)
		return OutcomeSkipped, nil
	}

	// Redelivery guard. The authoritative check is the event-id uniqueness
	// inside ApplyEvent's transaction; this early read just avoids the work.
	done, err := p.store.EventProcessed(ctx, event.ID)
	if err != nil {
		return OutcomeSkipped, err
	}
	if done {
		p.logger.Info("webhook event already applied", "type", event.Type, "id", event.ID)
		return OutcomeSkipped, nil
	}

	switch event.Type {
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	case "invoice.payment_succeeded":
		return p.handleInvoicePaid(ctx, event)
	}
	return OutcomeSkipped, nil
}

// =============================================================================
// Event handlers
// =============================================================================

// handleCheckoutCompleted links the provider-assigned customer id to the
// account and applies one-time pack purchases. Subscription-mode checkouts
// only perform the linkage here: the subscription events carry the
// authoritative tier change.
func (p *webhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	const op = "webhook.checkout_completed"

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		p.logger.Error("failed to parse checkout session", "error", err, "id", event.ID)
		return OutcomeSkipped, nil
	}

	customerID := ""
	if session.Customer != nil {
		customerID = session.Customer.ID
	}

	userID, checkout, ok := p.resolveCheckoutUser(ctx, &session, customerID)
	if !ok {
		p.reportUnresolved(op, event, customerID)
		return OutcomeSkipped, nil
	}

	priceID := session.Metadata["price_id"]
	if priceID == "" && checkout != nil {
		priceID = checkout.PriceID
	}

	var grant *billing.OneTimeGrant
	if effect, known := p.catalog.EffectForPrice(priceID); known {
		if g, isGrant := effect.(billing.OneTimeGrant); isGrant {
			grant = &g
		}
	} else if session.Mode == stripe.CheckoutSessionModePayment {
		// Config drift: money was taken for a product this catalog does not
		// know. Link the customer anyway, skip the grant, and say so loudly.
		p.logger.Error("unknown product on completed checkout",
			"price_id", priceID, "event_id", event.ID, "customer_id", customerID)
	}

	mutate := func(e *domain.Entitlement) error {
		if customerID != "" {
			if err := e.LinkBillingCustomer(customerID); err != nil {
				return err
			}
		}
		if grant != nil {
			return ApplyEffect(e, *grant, time.Time{})
		}
		return nil
	}

	outcome := OutcomeSkipped
	if grant != nil {
		applied, err := p.store.ApplyEvent(ctx, processedRecord(event, p.now()), userID, mutate)
		if err != nil {
			return OutcomeSkipped, err
		}
		if applied {
			outcome = OutcomeApplied
		}
	} else {
		// Linkage only: leave the event id unclaimed so nothing is recorded
		// for a no-op. Linking is idempotent either way.
		if err := p.store.MutateEntitlement(ctx, userID, mutate); err != nil {
			return OutcomeSkipped, err
		}
	}

	p.resolveCheckoutRecord(ctx, checkout, customerID)

	p.logger.Info("checkout completed processed",
		"user_id", userID, "event_id", event.ID, "outcome", outcome, "customer_id", customerID)
	return outcome, nil
}

// handleSubscriptionChanged activates (or re-activates) the tier mapped to
// the subscription's price, replacing any previous subscription wholesale.
func (p *webhookProcessor) handleSubscriptionChanged(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	const op = "webhook.subscription_changed"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		p.logger.Error("failed to parse subscription event", "error", err, "id", event.ID)
		return OutcomeSkipped, nil
	}
	if sub.Customer == nil {
		p.logger.Warn("subscription event missing customer", "subscription_id", sub.ID)
		return OutcomeSkipped, nil
	}

	ent, err := p.store.GetEntitlementByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			p.reportUnresolved(op, event, sub.Customer.ID)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	priceID := ""
	if len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		priceID = sub.Items.Data[0].Price.ID
	}
	effect, known := p.catalog.EffectForPrice(priceID)
	activation, isActivation := effect.(billing.SubscriptionActivation)
	if !known || !isActivation {
		p.logger.Error("unknown subscription price, no tier applied",
			"price_id", priceID, "event_id", event.ID, "customer_id", sub.Customer.ID)
		return OutcomeSkipped, nil
	}

	renewalAt := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	ended := sub.Status == stripe.SubscriptionStatusCanceled ||
		sub.Status == stripe.SubscriptionStatusUnpaid ||
		sub.Status == stripe.SubscriptionStatusIncompleteExpired

	applied, err := p.store.ApplyEvent(ctx, processedRecord(event, p.now()), ent.UserID, func(e *domain.Entitlement) error {
		if err := e.LinkBillingCustomer(sub.Customer.ID); err != nil {
			return err
		}
		if ended {
			e.ClearSubscription()
			return nil
		}
		return ApplyEffect(e, activation, renewalAt)
	})
	if err != nil {
		return OutcomeSkipped, err
	}
	if !applied {
		return OutcomeSkipped, nil
	}

	p.logger.Info("subscription event processed",
		"user_id", ent.UserID, "event_id", event.ID, "tier", activation.Tier,
		"status", sub.Status, "ended", ended)
	return OutcomeApplied, nil
}

// handleSubscriptionDeleted clears the subscription pool. Packs and free
// pools survive cancellation.
func (p *webhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	const op = "webhook.subscription_deleted"

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		p.logger.Error("failed to parse subscription deleted event", "error", err, "id", event.ID)
		return OutcomeSkipped, nil
	}
	if sub.Customer == nil {
		p.logger.Warn("subscription deleted event missing customer", "subscription_id", sub.ID)
		return OutcomeSkipped, nil
	}

	ent, err := p.store.GetEntitlementByCustomer(ctx, sub.Customer.ID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			p.reportUnresolved(op, event, sub.Customer.ID)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	applied, err := p.store.ApplyEvent(ctx, processedRecord(event, p.now()), ent.UserID, func(e *domain.Entitlement) error {
		e.ClearSubscription()
		return nil
	})
	if err != nil {
		return OutcomeSkipped, err
	}
	if !applied {
		return OutcomeSkipped, nil
	}

	p.logger.Info("subscription deleted", "user_id", ent.UserID, "event_id", event.ID)
	return OutcomeApplied, nil
}

// handleInvoicePaid refills the subscription allotments on a renewal cycle.
// The initial invoice of a new subscription is ignored here: the
// subscription.created event already activated the tier.
func (p *webhookProcessor) handleInvoicePaid(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	const op = "webhook.invoice_paid"

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		p.logger.Error("failed to parse invoice event", "error", err, "id", event.ID)
		return OutcomeSkipped, nil
	}
	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		p.logger.Debug("invoice is not a renewal cycle, skipping",
			"billing_reason", invoice.BillingReason, "event_id", event.ID)
		return OutcomeSkipped, nil
	}
	if invoice.Customer == nil {
		return OutcomeSkipped, nil
	}

	ent, err := p.store.GetEntitlementByCustomer(ctx, invoice.Customer.ID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			p.reportUnresolved(op, event, invoice.Customer.ID)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	priceID := ""
	renewalAt := time.Time{}
	if invoice.Lines != nil && len(invoice.Lines.Data) > 0 {
		line := invoice.Lines.Data[0]
		if line.Price != nil {
			priceID = line.Price.ID
		}
		if line.Period != nil {
			renewalAt = time.Unix(line.Period.End, 0).UTC()
		}
	}
	effect, known := p.catalog.EffectForPrice(priceID)
	activation, isActivation := effect.(billing.SubscriptionActivation)
	if !known || !isActivation {
		p.logger.Error("unknown price on renewal invoice, allotments not refilled",
			"price_id", priceID, "event_id", event.ID, "customer_id", invoice.Customer.ID)
		return OutcomeSkipped, nil
	}

	applied, err := p.store.ApplyEvent(ctx, processedRecord(event, p.now()), ent.UserID, func(e *domain.Entitlement) error {
		return ApplyEffect(e, activation, renewalAt)
	})
	if err != nil {
		return OutcomeSkipped, err
	}
	if !applied {
		return OutcomeSkipped, nil
	}

	p.logger.Info("subscription renewed, allotments refilled",
		"user_id", ent.UserID, "event_id", event.ID, "tier", activation.Tier)
	return OutcomeApplied, nil
}

// =============================================================================
// Resolution helpers
// =============================================================================

// resolveCheckoutUser finds the account a completed checkout belongs to:
// by linked customer id first, then by the client reference id the checkout
// flow passed through, then by the pending-checkout record for the session.
func (p *webhookProcessor) resolveCheckoutUser(ctx context.Context, session *stripe.CheckoutSession, customerID string) (uuid.UUID, *domain.PendingCheckout, bool) {
	var checkout *domain.PendingCheckout
	if id := session.Metadata["checkout_id"]; id != "" {
		if parsed, err := uuid.Parse(id); err == nil {
			checkout, _ = p.store.GetPendingCheckout(ctx, parsed)
		}
	}
	if checkout == nil && session.ID != "" {
		checkout, _ = p.store.GetPendingCheckoutBySession(ctx, session.ID)
	}

	if customerID != "" {
		if ent, err := p.store.GetEntitlementByCustomer(ctx, customerID); err == nil {
			return ent.UserID, checkout, true
		}
	}
	if session.ClientReferenceID != "" {
		if userID, err := uuid.Parse(session.ClientReferenceID); err == nil {
			return userID, checkout, true
		}
	}
	if checkout != nil {
		return checkout.UserID, checkout, true
	}
	return uuid.Nil, nil, false
}

// resolveCheckoutRecord marks the pending checkout resolved once the
// customer id is known. The webhook path and the reconciler both land here;
// whichever runs second finds the work already done.
func (p *webhookProcessor) resolveCheckoutRecord(ctx context.Context, checkout *domain.PendingCheckout, customerID string) {
	if checkout == nil || checkout.Status == domain.CheckoutResolved {
		return
	}
	checkout.CustomerID = customerID
	checkout.Status = domain.CheckoutResolved
	if err := p.store.UpdatePendingCheckout(ctx, checkout); err != nil {
		p.logger.Warn("failed to mark checkout resolved", "checkout_id", checkout.ID, "error", err)
	}
}

// reportUnresolved surfaces a payment event with no matching account. This is
// money collected with no entitlement applied: acknowledged to the provider
// (retrying cannot create the missing user) but alerted for manual
// reconciliation.
func (p *webhookProcessor) reportUnresolved(op string, event stripe.Event, customerID string) {
	metrics.UnresolvedPayments.Inc()
	err := domain.UnresolvedUser(op, customerID)
	p.logger.Error("ALERT: payment event with no matching account",
		"error", err,
		"event_id", event.ID,
		"event_type", event.Type,
		"customer_id", customerID,
	)
}

func processedRecord(event stripe.Event, now time.Time) domain.ProcessedEvent {
	return domain.ProcessedEvent{
		EventID:     event.ID,
		EventType:   string(event.Type),
		Payload:     event.Data.Raw,
		ProcessedAt: now,
	}
}
