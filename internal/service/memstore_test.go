package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/domain"
)

// memStore is an in-memory Store with the same transactional semantics as the
// Postgres implementation: mutations are serialized, all-or-nothing, and
// ApplyEvent claims the event id atomically with the mutation.
type memStore struct {
	mu           sync.Mutex
	entitlements map[uuid.UUID]*domain.Entitlement
	events       map[string]domain.ProcessedEvent
	checkouts    map[uuid.UUID]*domain.PendingCheckout

	// mutateErr, when set, fails every mutation (store-unavailable testing).
	mutateErr error
}

func newMemStore() *memStore {
	return &memStore{
		entitlements: make(map[uuid.UUID]*domain.Entitlement),
		events:       make(map[string]domain.ProcessedEvent),
		checkouts:    make(map[uuid.UUID]*domain.PendingCheckout),
	}
}

func (m *memStore) GetEntitlement(_ context.Context, userID uuid.UUID) (*domain.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entitlements[userID]
	if !ok {
		return nil, domain.NotFound("memstore.get_entitlement", "entitlement", userID.String())
	}
	copied := *e
	return &copied, nil
}

func (m *memStore) GetEntitlementByCustomer(_ context.Context, customerID string) (*domain.Entitlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entitlements {
		if e.BillingCustomerID == customerID {
			copied := *e
			return &copied, nil
		}
	}
	return nil, domain.NotFound("memstore.get_entitlement_by_customer", "entitlement", customerID)
}

func (m *memStore) MutateEntitlement(_ context.Context, userID uuid.UUID, fn func(e *domain.Entitlement) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutateErr != nil {
		return m.mutateErr
	}
	return m.mutateLocked(userID, fn)
}

func (m *memStore) mutateLocked(userID uuid.UUID, fn func(e *domain.Entitlement) error) error {
	e, ok := m.entitlements[userID]
	if !ok {
		e = domain.NewEntitlement(userID, time.Now().UTC())
	}
	work := *e
	if err := fn(&work); err != nil {
		return err
	}
	m.entitlements[userID] = &work
	return nil
}

func (m *memStore) EventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *memStore) ApplyEvent(_ context.Context, ev domain.ProcessedEvent, userID uuid.UUID, fn func(e *domain.Entitlement) error) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mutateErr != nil {
		return false, m.mutateErr
	}
	if _, ok := m.events[ev.EventID]; ok {
		return false, nil
	}
	if err := m.mutateLocked(userID, fn); err != nil {
		return false, err
	}
	m.events[ev.EventID] = ev
	return true, nil
}

func (m *memStore) CreatePendingCheckout(_ context.Context, c *domain.PendingCheckout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.checkouts[c.ID] = &copied
	return nil
}

func (m *memStore) GetPendingCheckout(_ context.Context, id uuid.UUID) (*domain.PendingCheckout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.checkouts[id]
	if !ok {
		return nil, domain.NotFound("memstore.get_pending_checkout", "pending checkout", id.String())
	}
	copied := *c
	return &copied, nil
}

func (m *memStore) GetPendingCheckoutBySession(_ context.Context, sessionID string) (*domain.PendingCheckout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.checkouts {
		if c.SessionID == sessionID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, domain.NotFound("memstore.get_pending_checkout_by_session", "pending checkout", sessionID)
}

func (m *memStore) UpdatePendingCheckout(_ context.Context, c *domain.PendingCheckout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *c
	m.checkouts[c.ID] = &copied
	return nil
}

func (m *memStore) DeleteExpiredCheckouts(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.checkouts {
		if c.CreatedAt.Before(olderThan) {
			delete(m.checkouts, id)
			n++
		}
	}
	return n, nil
}

// seed installs an entitlement directly, bypassing mutation rules.
func (m *memStore) seed(e *domain.Entitlement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.entitlements[e.UserID] = &copied
}

// get returns the stored entitlement without copying rules.
func (m *memStore) get(userID uuid.UUID) *domain.Entitlement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entitlements[userID]
}
