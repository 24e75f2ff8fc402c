package generation

import "github.com/prometheus/client_golang/prometheus"

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_generations_total",
			Help: "Finished generations by outcome.",
		},
		[]string{"outcome"},
	)

	generationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "playground_generation_seconds",
			Help:    "Wall time of a generation from request to final delta.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	generationDeltas = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_generation_deltas_total",
			Help: "Stream deltas received from model providers.",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal)
	prometheus.MustRegister(generationSeconds)
	prometheus.MustRegister(generationDeltas)
}
