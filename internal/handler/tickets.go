// Package handler contains the HTTP handlers for the ticketd API.
//
// This file implements the ticket balance and consumption endpoints.
//
// Routes:
//   - GET  /api/tickets       -> ShowBalances
//   - POST /api/tickets/debit -> Debit
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mossholder/ticketd/internal/domain"
	"github.com/mossholder/ticketd/internal/middleware"
	"github.com/mossholder/ticketd/internal/service"
)

// TicketsHandler handles ticket balance and consumption requests.
type TicketsHandler struct {
	ledger service.LedgerService
	logger *slog.Logger
}

// NewTicketsHandler creates a new TicketsHandler.
func NewTicketsHandler(ledger service.LedgerService, logger *slog.Logger) *TicketsHandler {
	return &TicketsHandler{
		ledger: ledger,
		logger: logger,
	}
}

// RegisterRoutes registers ticket routes on the provided mux. All routes
// require an authenticated user.
func (h *TicketsHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/tickets", requireUser(http.HandlerFunc(h.ShowBalances)))
	mux.Handle("POST /api/tickets/debit", requireUser(http.HandlerFunc(h.Debit)))
}

// =============================================================================
// Response shapes
// =============================================================================

// allotmentValue renders an allotment as a JSON number, or the string
// "unlimited" for uncapped subscription pools.
func allotmentValue(a domain.Allotment) any {
	if a.IsUnlimited() {
		return "unlimited"
	}
	return a.Count()
}

type kindBalance struct {
	Available    any    `json:"available"`
	Daily        int64  `json:"daily"`
	Monthly      *int64 `json:"monthly,omitempty"`
	Subscription any    `json:"subscription"`
	Pack         int64  `json:"pack"`
}

type balancesResponse struct {
	Upload    kindBalance `json:"upload"`
	AI        kindBalance `json:"ai"`
	Tier      string      `json:"tier"`
	RenewalAt *time.Time  `json:"renewal_at,omitempty"`
}

func balancesFromEntitlement(e *domain.Entitlement) balancesResponse {
	monthlyAI := e.MonthlyAI
	resp := balancesResponse{
		Upload: kindBalance{
			Available:    allotmentValue(e.Available(domain.TicketUpload)),
			Daily:        e.DailyUpload,
			Subscription: allotmentValue(e.SubUpload),
			Pack:         e.PackUpload,
		},
		AI: kindBalance{
			Available:    allotmentValue(e.Available(domain.TicketAI)),
			Daily:        e.DailyAI,
			Monthly:      &monthlyAI,
			Subscription: allotmentValue(domain.Finite(e.SubAI)),
			Pack:         e.PackAI,
		},
		Tier: string(e.Tier),
	}
	if !e.RenewalAt.IsZero() {
		renewal := e.RenewalAt
		resp.RenewalAt = &renewal
	}
	return resp
}

// =============================================================================
// Handlers
// =============================================================================

// ShowBalances returns the caller's per-pool ticket balances. Reading applies
// any due free-pool refills first.
func (h *TicketsHandler) ShowBalances(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	ent, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, balancesFromEntitlement(ent))
}

// debitRequest is the body for POST /api/tickets/debit.
type debitRequest struct {
	Kind   domain.TicketKind `json:"kind"`
	Amount int64             `json:"amount"`
}

type debitResponse struct {
	Kind      domain.TicketKind `json:"kind"`
	Debited   int64             `json:"debited"`
	Remaining any               `json:"remaining"`
}

// Debit consumes tickets for the caller. Responds 402 when the pools cannot
// cover the amount; nothing is consumed in that case.
func (h *TicketsHandler) Debit(w http.ResponseWriter, r *http.Request) {
	const op = "handler.tickets_debit"

	userID := requestUserID(r)

	var req debitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Malformed request body"))
		return
	}
	if !req.Kind.Valid() {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Unknown ticket kind"))
		return
	}
	if req.Amount < 1 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Amount must be at least 1"))
		return
	}

	if err := h.ledger.Debit(r.Context(), userID, req.Kind, req.Amount); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	remaining, err := h.ledger.Available(r.Context(), userID, req.Kind)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, debitResponse{
		Kind:      req.Kind,
		Debited:   req.Amount,
		Remaining: allotmentValue(remaining),
	})
}

// requestUserID returns the authenticated user id. Routes registered behind
// RequireUser always have one; uuid.Nil only appears if a route is miswired.
func requestUserID(r *http.Request) uuid.UUID {
	if id, ok := middleware.GetUserID(r.Context()); ok {
		return id
	}
	return uuid.Nil
}
