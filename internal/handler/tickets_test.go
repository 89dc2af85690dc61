package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/domain"
	"github.com/mossholder/ticketd/internal/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeLedger is a scriptable service.LedgerService.
type fakeLedger struct {
	snapshot  *domain.Entitlement
	available domain.Allotment
	debitErr  error

	lastKind   domain.TicketKind
	lastAmount int64
}

func (f *fakeLedger) Available(_ context.Context, _ uuid.UUID, _ domain.TicketKind) (domain.Allotment, error) {
	return f.available, nil
}

func (f *fakeLedger) Snapshot(_ context.Context, _ uuid.UUID) (*domain.Entitlement, error) {
	return f.snapshot, nil
}

func (f *fakeLedger) Debit(_ context.Context, _ uuid.UUID, kind domain.TicketKind, amount int64) error {
	f.lastKind = kind
	f.lastAmount = amount
	return f.debitErr
}

func (f *fakeLedger) Grant(_ context.Context, _ uuid.UUID, _ billing.Effect, _ time.Time) error {
	return nil
}

// newTicketsMux wires the handler behind the identity middleware, the way the
// server composes it.
func newTicketsMux(ledger *fakeLedger) *http.ServeMux {
	logger := testLogger()
	idmw := middleware.NewIdentityMiddleware(logger)
	requireUser := middleware.Stack(idmw.WithUser, idmw.RequireUser)

	mux := http.NewServeMux()
	NewTicketsHandler(ledger, logger).RegisterRoutes(mux, requireUser)
	return mux
}

func authedRequest(method, path, body, userID string) *http.Request {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		r.Header.Set(middleware.UserIDHeader, userID)
	}
	return r
}

func TestShowBalances(t *testing.T) {
	userID := uuid.New()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	ent := domain.NewEntitlement(userID, now)
	ent.Tier = domain.TierPro
	ent.SubUpload = domain.Unlimited()
	ent.SubAI = 150
	ent.PackAI = 25
	ent.RenewalAt = now.AddDate(0, 1, 0)

	mux := newTicketsMux(&fakeLedger{snapshot: ent})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("GET", "/api/tickets", "", userID.String()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	upload := resp["upload"].(map[string]any)
	assert.Equal(t, "unlimited", upload["available"])
	assert.Equal(t, "unlimited", upload["subscription"])
	assert.EqualValues(t, domain.DailyUploadCap, upload["daily"])

	ai := resp["ai"].(map[string]any)
	assert.EqualValues(t, domain.MonthlyAICap, ai["monthly"])
	assert.EqualValues(t, 25, ai["pack"])

	assert.Equal(t, "pro", resp["tier"])
	assert.Contains(t, resp, "renewal_at")
}

func TestShowBalancesRequiresAuth(t *testing.T) {
	mux := newTicketsMux(&fakeLedger{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("GET", "/api/tickets", "", ""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDebit(t *testing.T) {
	ledger := &fakeLedger{available: domain.Finite(4)}
	mux := newTicketsMux(ledger)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/tickets/debit",
		`{"kind":"ai","amount":3}`, uuid.NewString()))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TicketAI, ledger.lastKind)
	assert.EqualValues(t, 3, ledger.lastAmount)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 4, resp["remaining"])
}

func TestDebitInsufficient(t *testing.T) {
	ledger := &fakeLedger{
		debitErr: domain.InsufficientTickets("ledger.debit", domain.TicketUpload, 5, domain.Finite(2)),
	}
	mux := newTicketsMux(ledger)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest("POST", "/api/tickets/debit",
		`{"kind":"upload","amount":5}`, uuid.NewString()))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.EINSUFFICIENT)
}

func TestDebitValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown kind", `{"kind":"video","amount":1}`},
		{"zero amount", `{"kind":"ai","amount":0}`},
		{"negative amount", `{"kind":"ai","amount":-2}`},
		{"malformed body", `{"kind":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newTicketsMux(&fakeLedger{})
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, authedRequest("POST", "/api/tickets/debit", tt.body, uuid.NewString()))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
