package session

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	bindTotal     *prometheus.CounterVec
	resetFailures prometheus.Counter
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		bindTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "bind_total",
			Help:      "Request session binds by result.",
		}, []string{"result"}),
		resetFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "session",
			Name:      "reset_failures_total",
			Help:      "Connections discarded because the session reset failed.",
		}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
