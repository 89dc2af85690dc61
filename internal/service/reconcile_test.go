package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"

	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
)

// fakeBilling is a scriptable billing.Service. GetCheckoutSession pops
// responses from sessions in order, repeating the last one.
type fakeBilling struct {
	mu       sync.Mutex
	sessions []sessionResponse
	calls    int

	checkoutURL string
	portalURL   string
	lastParams  billing.CheckoutParams
}

type sessionResponse struct {
	customerID string
	err        error
}

func (f *fakeBilling) GetCheckoutSession(sessionID string) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.sessions) {
		i = len(f.sessions) - 1
	}
	f.calls++
	if i < 0 {
		return &stripe.CheckoutSession{ID: sessionID}, nil
	}
	r := f.sessions[i]
	if r.err != nil {
		return nil, r.err
	}
	sess := &stripe.CheckoutSession{ID: sessionID}
	if r.customerID != "" {
		sess.Customer = &stripe.Customer{ID: r.customerID}
	}
	return sess, nil
}

func (f *fakeBilling) CreateCustomer(email string) (string, error) {
	return "cus_fake", nil
}

func (f *fakeBilling) CreateCheckoutSession(params billing.CheckoutParams) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastParams = params
	return &stripe.CheckoutSession{ID: "cs_fake", URL: f.checkoutURL}, nil
}

func (f *fakeBilling) CreatePortalSession(customerID, returnURL string) (string, error) {
	return f.portalURL, nil
}

func (f *fakeBilling) CancelSubscription(subscriptionID string) error { return nil }

func (f *fakeBilling) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	return stripe.Event{}, nil
}

func (f *fakeBilling) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{Attempts: 3, Interval: time.Millisecond}
}

func seedPendingCheckout(t *testing.T, store *memStore, userID uuid.UUID) *domain.PendingCheckout {
	t.Helper()
	checkout := &domain.PendingCheckout{
		ID:        uuid.New(),
		UserID:    userID,
		PriceID:   "price_ai_small",
		SessionID: "cs_pending",
		Status:    domain.CheckoutPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreatePendingCheckout(context.Background(), checkout))
	return checkout
}

func TestReconcilerLinksCustomer(t *testing.T) {
	userID := uuid.New()
	store := newMemStore()
	store.seed(domain.NewEntitlement(userID, time.Now().UTC()))
	checkout := seedPendingCheckout(t, store, userID)

	fb := &fakeBilling{sessions: []sessionResponse{
		{customerID: ""},         // provider has not assigned it yet
		{customerID: "cus_slow"}, // second poll succeeds
	}}
	r := NewReconciler(store, fb, fastReconcilerConfig(), testLogger())

	require.NoError(t, r.LinkCheckout(context.Background(), checkout.ID))
	assert.Equal(t, 2, fb.callCount())

	assert.Equal(t, "cus_slow", store.get(userID).BillingCustomerID)

	resolved, err := store.GetPendingCheckout(context.Background(), checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutResolved, resolved.Status)
	assert.Equal(t, "cus_slow", resolved.CustomerID)
}

func TestReconcilerRetriesProviderErrors(t *testing.T) {
	userID := uuid.New()
	store := newMemStore()
	store.seed(domain.NewEntitlement(userID, time.Now().UTC()))
	checkout := seedPendingCheckout(t, store, userID)

	fb := &fakeBilling{sessions: []sessionResponse{
		{err: errors.New("rate limited")},
		{customerID: "cus_eventually"},
	}}
	r := NewReconciler(store, fb, fastReconcilerConfig(), testLogger())

	require.NoError(t, r.LinkCheckout(context.Background(), checkout.ID))
	assert.Equal(t, "cus_eventually", store.get(userID).BillingCustomerID)
}

func TestReconcilerExhaustionIsTerminal(t *testing.T) {
	userID := uuid.New()
	store := newMemStore()
	store.seed(domain.NewEntitlement(userID, time.Now().UTC()))
	checkout := seedPendingCheckout(t, store, userID)

	fb := &fakeBilling{sessions: []sessionResponse{{customerID: ""}}}
	r := NewReconciler(store, fb, fastReconcilerConfig(), testLogger())

	err := r.LinkCheckout(context.Background(), checkout.ID)
	require.Error(t, err)
	assert.Equal(t, domain.ERECONCILE, domain.ErrorCode(err))
	// Attempts retries on top of the initial try.
	assert.Equal(t, 4, fb.callCount())

	// The checkout lands in the terminal unresolved state, nothing is linked.
	after, err := store.GetPendingCheckout(context.Background(), checkout.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckoutUnresolved, after.Status)
	assert.Empty(t, store.get(userID).BillingCustomerID)
}

func TestReconcilerWebhookCompletesAfterExhaustion(t *testing.T) {
	// The terminal unresolved state is not the end of the story: the webhook
	// carries the customer id and performs the same set-once linkage.
	userID := uuid.New()
	now := time.Now().UTC()
	store := newMemStore()
	store.seed(domain.NewEntitlement(userID, now))
	checkout := seedPendingCheckout(t, store, userID)

	fb := &fakeBilling{sessions: []sessionResponse{{customerID: ""}}}
	r := NewReconciler(store, fb, fastReconcilerConfig(), testLogger())
	require.Error(t, r.LinkCheckout(context.Background(), checkout.ID))

	p := newTestProcessor(store, now)
	ev := checkoutCompletedEvent("evt_fallback", "cus_late_webhook", userID.String(), "price_ai_small", "payment")
	outcome, err := p.ProcessEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, "cus_late_webhook", store.get(userID).BillingCustomerID)
}

func TestReconcilerSkipsResolvedCheckout(t *testing.T) {
	userID := uuid.New()
	store := newMemStore()
	ent := domain.NewEntitlement(userID, time.Now().UTC())
	require.NoError(t, ent.LinkBillingCustomer("cus_done"))
	store.seed(ent)

	checkout := seedPendingCheckout(t, store, userID)
	checkout.Status = domain.CheckoutResolved
	checkout.CustomerID = "cus_done"
	require.NoError(t, store.UpdatePendingCheckout(context.Background(), checkout))

	fb := &fakeBilling{}
	r := NewReconciler(store, fb, fastReconcilerConfig(), testLogger())

	require.NoError(t, r.LinkCheckout(context.Background(), checkout.ID))
	assert.Zero(t, fb.callCount(), "no polling once the webhook already resolved it")
}

func TestReconcilerSetOnceConflict(t *testing.T) {
	// A different customer id arriving for an already linked account must not
	// overwrite the linkage.
	userID := uuid.New()
	store := newMemStore()
	ent := domain.NewEntitlement(userID, time.Now().UTC())
	require.NoError(t, ent.LinkBillingCustomer("cus_original"))
	store.seed(ent)
	checkout := seedPendingCheckout(t, store, userID)

	fb := &fakeBilling{sessions: []sessionResponse{{customerID: "cus_imposter"}}}
	r := NewReconciler(store, fb, fastReconcilerConfig(), testLogger())

	err := r.LinkCheckout(context.Background(), checkout.ID)
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, "cus_original", store.get(userID).BillingCustomerID)
}
