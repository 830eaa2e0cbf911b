package queue

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "queue_depth",
			Help:      "Approximate number of ready tasks per kind",
		},
		[]string{"kind"},
	)
	QueueProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "queue_processed_total",
			Help:      "Total tasks processed grouped by status",
		},
		[]string{"kind", "status"},
	)
	QueueDLQSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "gateway",
			Name:      "queue_dlq_size",
			Help:      "Number of tasks parked in the dead letter queue",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

// MustRegisterMetrics registers queue collectors with the provided registerer.
// Safe to call more than once.
func MustRegisterMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		reg.MustRegister(QueueDepth, QueueProcessedTotal, QueueDLQSize)
	})
}

func recordProcessed(kind, status string) {
	if QueueProcessedTotal == nil {
		return
	}
	QueueProcessedTotal.WithLabelValues(kind, status).Inc()
}
