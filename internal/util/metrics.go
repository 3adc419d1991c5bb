package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of stall reservations created",
	})

	ReservationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservations_rejected_total",
		Help: "Total number of booking requests refused, by reason",
	}, []string{"reason"})

	ReservationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_transitions_total",
		Help: "Total number of reservation status transitions, by target status",
	}, []string{"status"})

	BookingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reservation_booking_latency_seconds",
		Help:    "Latency of the booking transaction",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of best-effort notifications that failed",
	}, []string{"kind"})

	AvailabilityBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stall_availability_broadcasts_total",
		Help: "Total number of booked-stall broadcasts published",
	})

	RemindersSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_reminders_sent_total",
		Help: "Total number of scheduled reminders sent, by kind",
	}, []string{"kind"})

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
