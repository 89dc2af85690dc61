// Package service contains the business logic layer.
//
// Services orchestrate interactions between the store, the payment provider,
// and domain logic. They are responsible for:
// - Business rule enforcement (consumption order, idempotent application)
// - Transaction coordination
// - Error translation (store errors -> domain errors)
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/domain"
)

// Store is the durable state the engine depends on. The Postgres
// implementation lives in internal/repository; tests use an in-memory fake.
type Store interface {
	// GetEntitlement returns a user's entitlement record.
	// Returns domain.ENOTFOUND if the user has no record yet.
	GetEntitlement(ctx context.Context, userID uuid.UUID) (*domain.Entitlement, error)

	// GetEntitlementByCustomer returns the entitlement linked to a billing
	// customer id. Returns domain.ENOTFOUND when nothing is linked to it.
	GetEntitlementByCustomer(ctx context.Context, customerID string) (*domain.Entitlement, error)

	// MutateEntitlement applies fn to the user's record under per-user
	// serialization: fn observes the committed state and its changes persist
	// atomically. A missing record is created with default pools first. An
	// error from fn aborts with no change.
	MutateEntitlement(ctx context.Context, userID uuid.UUID, fn func(e *domain.Entitlement) error) error

	// EventProcessed reports whether a webhook event id was already applied.
	EventProcessed(ctx context.Context, eventID string) (bool, error)

	// ApplyEvent runs fn against the user's entitlement and records the event
	// id, atomically. Returns applied=false without running fn when the event
	// id was already claimed by an earlier or concurrent delivery.
	ApplyEvent(ctx context.Context, ev domain.ProcessedEvent, userID uuid.UUID, fn func(e *domain.Entitlement) error) (bool, error)

	// Pending checkouts
	CreatePendingCheckout(ctx context.Context, c *domain.PendingCheckout) error
	GetPendingCheckout(ctx context.Context, id uuid.UUID) (*domain.PendingCheckout, error)
	GetPendingCheckoutBySession(ctx context.Context, sessionID string) (*domain.PendingCheckout, error)
	UpdatePendingCheckout(ctx context.Context, c *domain.PendingCheckout) error
	DeleteExpiredCheckouts(ctx context.Context, olderThan time.Time) (int64, error)
}
