package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests    *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		requests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cache",
			Name:      "requests_total",
			Help:      "Requests seen by the validator middleware, by outcome.",
		}, []string{"outcome"}),
		storeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cache",
			Name:      "store_errors_total",
			Help:      "Timestamp store failures, by operation.",
		}, []string{"op"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
