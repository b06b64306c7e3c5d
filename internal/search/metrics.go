package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/constrained-decoding/go-controller/internal/search")

var (
	searchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vapo_search_total",
		Help: "Completed bias searches by terminal phase.",
	}, []string{"phase"})

	searchEvaluations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vapo_search_evaluations",
		Help:    "Candidate evaluations consumed per search.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	oracleCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vapo_oracle_calls_total",
		Help: "Verifier energy calls issued by the search engine.",
	})

	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vapo_search_duration_seconds",
		Help:    "Wall time per bias search.",
		Buckets: prometheus.DefBuckets,
	})
)
