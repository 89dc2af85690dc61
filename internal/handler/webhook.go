// Package handler contains the HTTP handlers for the ticketd API.
//
// This file implements the Stripe webhook endpoint.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it directly.
// Authentication is via the Stripe webhook signature verification.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/mossholder/ticketd/internal/billing"
	"github.com/mossholder/ticketd/internal/service"
)

// maxWebhookBody bounds the request body read for signature verification.
const maxWebhookBody = 65536

// WebhookHandler receives webhook events from Stripe and hands them to the
// event processor.
type WebhookHandler struct {
	billing   billing.Service
	processor service.WebhookProcessor
	logger    *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(billingService billing.Service, processor service.WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing:   billingService,
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// These routes are PUBLIC — no auth middleware.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and processes one webhook delivery.
//
// Status codes drive the provider's retry machinery: 2xx acknowledges the
// event (whether applied or deliberately skipped), 400 rejects a delivery
// that can never verify, and 500 asks for a redelivery after a transient
// failure on our side.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Signature first: nothing in an unverified body is trusted.
	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	outcome, err := h.processor.ProcessEvent(r.Context(), event)
	if err != nil {
		h.logger.Error("webhook processing failed, provider will retry",
			"type", event.Type, "id", event.ID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	h.logger.Debug("webhook processed", "type", event.Type, "id", event.ID, "outcome", outcome)
	w.WriteHeader(http.StatusOK)
}
