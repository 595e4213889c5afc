package jobs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	enqueueTotal   *prometheus.CounterVec
	processedTotal *prometheus.CounterVec
	deadTotal      *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	pending        *prometheus.GaugeVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		enqueueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobs",
			Name:      "enqueue_total",
			Help:      "Enqueue attempts by queue and result.",
		}, []string{"queue", "result"}),
		processedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobs",
			Name:      "processed_total",
			Help:      "Processed jobs by type and result.",
		}, []string{"type", "result"}),
		deadTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jobs",
			Name:      "dead_total",
			Help:      "Jobs moved to the dead list.",
		}, []string{"type"}),
		duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "jobs",
			Name:      "duration_seconds",
			Help:      "Handler latency.",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		}, []string{"type", "result"}),
		pending: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "jobs",
			Name:      "pending",
			Help:      "Jobs waiting in a queue, due or not.",
		}, []string{"queue"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
