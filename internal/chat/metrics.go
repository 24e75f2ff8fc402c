package chat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_store_operations_total",
			Help: "Message store operations by kind and result.",
		},
		[]string{"op", "result"},
	)

	storeOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_store_operation_seconds",
			Help:    "Message store operation latency, including queue waits.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(storeOps)
	prometheus.MustRegister(storeOpSeconds)
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
	storeOpSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
