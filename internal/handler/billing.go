// Package handler contains the HTTP handlers for the ticketd API.
//
// This file implements the purchase endpoints backed by the payment provider.
//
// Routes:
//   - POST /api/billing/checkout -> StartCheckout
//   - POST /api/billing/portal   -> OpenPortal
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mossholder/ticketd/internal/domain"
	"github.com/mossholder/ticketd/internal/service"
)

// BillingHandler handles checkout and billing-portal HTTP requests.
type BillingHandler struct {
	checkout service.CheckoutService
	logger   *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(checkout service.CheckoutService, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		checkout: checkout,
		logger:   logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux. All routes
// require an authenticated user.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/billing/checkout", requireUser(http.HandlerFunc(h.StartCheckout)))
	mux.Handle("POST /api/billing/portal", requireUser(http.HandlerFunc(h.OpenPortal)))
}

// checkoutRequest is the body for POST /api/billing/checkout.
type checkoutRequest struct {
	PriceID string `json:"price_id"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// StartCheckout creates a hosted checkout session for a catalog price and
// returns its URL. Unknown prices are rejected before the provider is called.
func (h *BillingHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.billing_checkout"

	userID := requestUserID(r)

	var req checkoutRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Malformed request body"))
		return
	}
	if req.PriceID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "price_id is required"))
		return
	}

	url, err := h.checkout.StartCheckout(r.Context(), userID, req.PriceID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, redirectResponse{URL: url})
}

// OpenPortal creates a billing-portal session for the caller's linked billing
// customer and returns its URL.
func (h *BillingHandler) OpenPortal(w http.ResponseWriter, r *http.Request) {
	userID := requestUserID(r)

	url, err := h.checkout.PortalURL(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	respondJSON(w, h.logger, http.StatusOK, redirectResponse{URL: url})
}
