package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketd"

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

// Ledger metrics
var (
	DebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debits_total",
			Help:      "Total number of ticket debits by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	GrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_total",
			Help:      "Total number of ticket grants by pool",
		},
		[]string{"pool"},
	)

	ResetsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resets_applied_total",
			Help:      "Total number of scheduled free-pool refills applied",
		},
		[]string{"schedule"},
	)
)

// Webhook metrics
var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of webhook events by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// UnresolvedPayments counts payment events with no matching account.
	// Any increase here is money collected without entitlement applied and
	// needs manual reconciliation.
	UnresolvedPayments = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_payments_total",
			Help:      "Payment events that could not be matched to a user account",
		},
	)
)

// Reconciliation metrics
var (
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Customer-id linkage attempts by outcome",
		},
		[]string{"outcome"},
	)
)
