package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(store Store, now time.Time) *ledgerService {
	svc := NewLedgerService(store, testLogger()).(*ledgerService)
	svc.now = func() time.Time { return now }
	return svc
}

func TestLedgerAvailable(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	userID := uuid.New()

	tests := []struct {
		name  string
		seed  func(e *domain.Entitlement)
		kind  domain.TicketKind
		want  domain.Allotment
	}{
		{
			name: "fresh account upload",
			seed: func(e *domain.Entitlement) {},
			kind: domain.TicketUpload,
			want: domain.Finite(domain.DailyUploadCap),
		},
		{
			name: "fresh account ai includes monthly pool",
			seed: func(e *domain.Entitlement) {},
			kind: domain.TicketAI,
			want: domain.Finite(domain.DailyAICap + domain.MonthlyAICap),
		},
		{
			name: "packs add to the sum",
			seed: func(e *domain.Entitlement) {
				e.PackUpload = 40
			},
			kind: domain.TicketUpload,
			want: domain.Finite(domain.DailyUploadCap + 40),
		},
		{
			name: "unlimited subscription dominates",
			seed: func(e *domain.Entitlement) {
				e.Tier = domain.TierPro
				e.SubUpload = domain.Unlimited()
				e.PackUpload = 7
			},
			kind: domain.TicketUpload,
			want: domain.Unlimited(),
		},
		{
			name: "monthly pool is not counted for uploads",
			seed: func(e *domain.Entitlement) {
				e.DailyUpload = 0
			},
			kind: domain.TicketUpload,
			want: domain.Finite(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			ent := domain.NewEntitlement(userID, now)
			tt.seed(ent)
			store.seed(ent)

			svc := newTestLedger(store, now)
			got, err := svc.Available(context.Background(), userID, tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLedgerAvailableRejectsUnknownKind(t *testing.T) {
	svc := newTestLedger(newMemStore(), time.Now().UTC())
	_, err := svc.Available(context.Background(), uuid.New(), domain.TicketKind("video"))
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestLedgerAvailableCreatesFreshAccount(t *testing.T) {
	// An account never seen before starts with full free pools.
	store := newMemStore()
	svc := newTestLedger(store, time.Now().UTC())

	got, err := svc.Available(context.Background(), uuid.New(), domain.TicketAI)
	require.NoError(t, err)
	assert.Equal(t, domain.Finite(domain.DailyAICap+domain.MonthlyAICap), got)
}

func TestLedgerDailyResetAppliedLazily(t *testing.T) {
	userID := uuid.New()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := newMemStore()
	ent := domain.NewEntitlement(userID, start)
	ent.DailyUpload = 0
	ent.DailyAI = 0
	store.seed(ent)

	// 23h later: window not elapsed, pools stay empty.
	svc := newTestLedger(store, start.Add(23*time.Hour))
	got, err := svc.Available(context.Background(), userID, domain.TicketUpload)
	require.NoError(t, err)
	assert.Equal(t, domain.Finite(0), got)

	// 24h later: refilled to the caps.
	svc = newTestLedger(store, start.Add(24*time.Hour))
	got, err = svc.Available(context.Background(), userID, domain.TicketUpload)
	require.NoError(t, err)
	assert.Equal(t, domain.Finite(domain.DailyUploadCap), got)

	// Reading again in the same window must not refill twice after a debit.
	require.NoError(t, svc.Debit(context.Background(), userID, domain.TicketUpload, 2))
	got, err = svc.Available(context.Background(), userID, domain.TicketUpload)
	require.NoError(t, err)
	assert.Equal(t, domain.Finite(domain.DailyUploadCap-2), got)
}

func TestLedgerMonthlyResetAppliedLazily(t *testing.T) {
	userID := uuid.New()
	start := time.Date(2026, 3, 28, 12, 0, 0, 0, time.UTC)

	store := newMemStore()
	ent := domain.NewEntitlement(userID, start)
	ent.MonthlyAI = 0
	ent.DailyAI = 0
	store.seed(ent)

	// Later the same day and month: no refill of either free pool.
	svc := newTestLedger(store, start.Add(6*time.Hour))
	got, err := svc.Available(context.Background(), userID, domain.TicketAI)
	require.NoError(t, err)
	assert.Equal(t, domain.Finite(0), got)

	// After the month boundary both windows have elapsed, so the monthly pool
	// comes back alongside the daily one.
	svc = newTestLedger(store, time.Date(2026, 4, 1, 0, 0, 1, 0, time.UTC))
	got, err = svc.Available(context.Background(), userID, domain.TicketAI)
	require.NoError(t, err)
	assert.Equal(t, domain.Finite(domain.DailyAICap+domain.MonthlyAICap), got)
}

func TestLedgerDebitPriorityOrder(t *testing.T) {
	userID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := newMemStore()
	ent := domain.NewEntitlement(userID, now)
	ent.DailyAI = 2
	ent.MonthlyAI = 3
	ent.Tier = domain.TierCreator
	ent.SubAI = 5
	ent.PackAI = 10
	store.seed(ent)

	svc := newTestLedger(store, now)
	require.NoError(t, svc.Debit(context.Background(), userID, domain.TicketAI, 7))

	after := store.get(userID)
	assert.Zero(t, after.DailyAI, "daily pool drains first")
	assert.Zero(t, after.MonthlyAI, "monthly pool drains second")
	assert.EqualValues(t, 3, after.SubAI, "subscription pool covers the remainder")
	assert.EqualValues(t, 10, after.PackAI, "packs untouched")
}

func TestLedgerDebitAllOrNothing(t *testing.T) {
	userID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := newMemStore()
	ent := domain.NewEntitlement(userID, now)
	ent.DailyUpload = 2
	ent.PackUpload = 3
	store.seed(ent)

	svc := newTestLedger(store, now)
	err := svc.Debit(context.Background(), userID, domain.TicketUpload, 6)
	require.Error(t, err)
	assert.Equal(t, domain.EINSUFFICIENT, domain.ErrorCode(err))

	// Nothing was consumed by the failed debit.
	after := store.get(userID)
	assert.EqualValues(t, 2, after.DailyUpload)
	assert.EqualValues(t, 3, after.PackUpload)
}

func TestLedgerDebitConcurrentNoOverspend(t *testing.T) {
	userID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := newMemStore()
	ent := domain.NewEntitlement(userID, now)
	ent.DailyUpload = 0
	ent.PackUpload = 10
	store.seed(ent)

	svc := newTestLedger(store, now)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Debit(context.Background(), userID, domain.TicketUpload, 1); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded, "exactly the available tickets are spent")
	assert.Zero(t, store.get(userID).PackUpload)
}

func TestLedgerGrant(t *testing.T) {
	userID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	renewal := now.AddDate(0, 1, 0)

	store := newMemStore()
	store.seed(domain.NewEntitlement(userID, now))
	svc := newTestLedger(store, now)

	require.NoError(t, svc.Grant(context.Background(), userID, billing.OneTimeGrant{
		Kind:   domain.TicketAI,
		Amount: billing.AIPackSmallAmount,
	}, time.Time{}))
	require.NoError(t, svc.Grant(context.Background(), userID, billing.SubscriptionActivation{
		Tier: domain.TierPro,
	}, renewal))

	after := store.get(userID)
	assert.EqualValues(t, billing.AIPackSmallAmount, after.PackAI)
	assert.Equal(t, domain.TierPro, after.Tier)
	assert.True(t, after.SubUpload.IsUnlimited())
	assert.Equal(t, renewal, after.RenewalAt)
}

func TestLedgerSnapshot(t *testing.T) {
	userID := uuid.New()
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	store := newMemStore()
	ent := domain.NewEntitlement(userID, start)
	ent.DailyUpload = 0
	store.seed(ent)

	// Snapshot a day later sees the refilled pool, and the refill persists.
	svc := newTestLedger(store, start.Add(25*time.Hour))
	snap, err := svc.Snapshot(context.Background(), userID)
	require.NoError(t, err)
	assert.EqualValues(t, domain.DailyUploadCap, snap.DailyUpload)
	assert.EqualValues(t, domain.DailyUploadCap, store.get(userID).DailyUpload)
}
