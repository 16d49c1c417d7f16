package service

import "github.com/prometheus/client_golang/prometheus"

var (
	llmRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lorad",
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total number of generation requests admitted to the model",
		},
	)

	llmGenerationLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lorad",
			Subsystem: "llm",
			Name:      "generation_latency_seconds",
			Help:      "Time spent generating a response",
			Buckets:   []float64{0.2, 0.5, 1, 2, 3, 5, 8, 13, 21, 34},
		},
	)

	llmGenerationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lorad",
			Subsystem: "llm",
			Name:      "generation_errors_total",
			Help:      "Total number of failed generations",
		},
	)
)

func init() {
	prometheus.MustRegister(llmRequestsTotal, llmGenerationLatency, llmGenerationErrors)
}
