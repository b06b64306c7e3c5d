package frame

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("github.com/danielpatrickdp/constrained-decoding/go-controller/internal/frame")

var (
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vapo_frames_total",
		Help: "Finished frames by gate action.",
	}, []string{"action"})

	mergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vapo_branch_merges_total",
		Help: "Split merges by outcome.",
	}, []string{"outcome"})
)
