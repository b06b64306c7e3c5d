package codec

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rpcTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vapo_codec_rpc_total",
		Help: "Remote oracle and generator calls by method and status code.",
	}, []string{"method", "code"})

	rpcSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vapo_codec_rpc_duration_seconds",
		Help:    "Remote call latency by method.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	}, []string{"method"})
)
