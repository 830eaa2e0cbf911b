package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// PaymentsCreatedTotal counts payment creation outcomes on the API.
	PaymentsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "payments_created_total",
		Help:      "Count of payment creation outcomes.",
	}, []string{"method", "result"})

	// PaymentsProcessedTotal counts terminal payment processing outcomes.
	PaymentsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "payments_processed_total",
		Help:      "Count of payments reaching a terminal status.",
	}, []string{"method", "status"})

	// RefundsProcessedTotal counts terminal refund processing outcomes.
	RefundsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "refunds_processed_total",
		Help:      "Count of refunds reaching a terminal status.",
	}, []string{"status"})

	// WebhookDeliveriesTotal tracks webhook dispatch outcomes.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "webhook_deliveries_total",
		Help:      "Count of webhook delivery outcomes.",
	}, []string{"result"})

	// WebhookAttemptLatency records delivery attempt latency in milliseconds.
	WebhookAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Name:      "webhook_attempt_duration_ms",
		Help:      "Latency for webhook delivery attempts in milliseconds.",
		Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"result"})

	// WebhookDispatchAttempts counts dispatcher attempts regardless of outcome.
	WebhookDispatchAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "webhook_dispatch_attempts_total",
		Help:      "Count of webhook dispatch attempts regardless of outcome.",
	})

	// ReceiverEventsTotal counts inbound merchant webhook classifications.
	ReceiverEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Name:      "receiver_events_total",
		Help:      "Count of inbound webhook events by classification.",
	}, []string{"kind"})
)

var domainOnce sync.Once

// MustRegisterDomainMetrics registers domain collectors with the provided
// registerer. Safe to call more than once.
func MustRegisterDomainMetrics(reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(
			PaymentsCreatedTotal,
			PaymentsProcessedTotal,
			RefundsProcessedTotal,
			WebhookDeliveriesTotal,
			WebhookAttemptLatency,
			WebhookDispatchAttempts,
			ReceiverEventsTotal,
		)
	})
}
