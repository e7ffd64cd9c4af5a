package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingsRequestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookings_requested_total",
		Help: "Total number of booking requests accepted",
	})

	BookingsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_request_refused_total",
		Help: "Booking requests refused before insertion",
	}, []string{"reason"})

	BookingTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_transitions_total",
		Help: "Booking status transitions by target status",
	}, []string{"to"})

	BookingDecisionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "booking_decision_conflicts_total",
		Help: "Decisions that lost a concurrent guarded update",
	})

	AvailabilityCheckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "availability_check_latency_seconds",
		Help:    "Latency of availability lookups",
		Buckets: prometheus.DefBuckets,
	})

	PaymentOrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_orders_created_total",
		Help: "Gateway orders opened by kind",
	}, []string{"kind"})

	GatewayAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_attempts_total",
		Help: "Gateway order creation attempts by outcome",
	}, []string{"outcome"})

	GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_request_latency_seconds",
		Help:    "Latency of a single gateway call",
		Buckets: prometheus.DefBuckets,
	})

	PaymentsCapturedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payments_captured_total",
		Help: "Payments moved to PAID by reconciliation path",
	}, []string{"path"})

	PaymentsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_failed_total",
		Help: "Payments moved to FAILED",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Gateway webhook events by outcome",
	}, []string{"outcome"})

	SignatureFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signature_failures_total",
		Help: "Rejected signatures by path",
	}, []string{"path"})

	SweepExpiredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_bookings_total",
		Help: "Bookings transitioned by the periodic sweep",
	}, []string{"to"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notifications by template and outcome",
	}, []string{"template", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
