// Package domain contains core business types and interfaces.
//
// This file defines the short-lived records surrounding a payment: the
// pending checkout written when a session is requested, and the append-only
// processed-event record that makes webhook application idempotent.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CheckoutStatus tracks the lifecycle of a pending checkout.
type CheckoutStatus string

const (
	// CheckoutPending means the session was created and the provider-assigned
	// customer id is not yet known locally.
	CheckoutPending CheckoutStatus = "pending"

	// CheckoutResolved means the customer id has been linked to the account.
	CheckoutResolved CheckoutStatus = "resolved"

	// CheckoutUnresolved means the reconciler exhausted its polling attempts.
	// Terminal but non-fatal: the webhook path can still complete the linkage.
	CheckoutUnresolved CheckoutStatus = "unresolved"
)

// PendingCheckout bridges a locally initiated checkout and the provider's
// asynchronously assigned identifiers. One row per checkout attempt.
type PendingCheckout struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	PriceID   string
	SessionID string
	// CustomerID is filled in once the provider assigns it, by the reconciler
	// or by the webhook, whichever arrives first.
	CustomerID string
	Status     CheckoutStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProcessedEvent records that a webhook event id has been durably applied.
// Append-only: created the moment an event's effect commits, never mutated.
type ProcessedEvent struct {
	EventID   string
	EventType string
	// Payload keeps the raw provider event for manual reconciliation.
	Payload     []byte
	ProcessedAt time.Time
}
