package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vapo_orchestrator_attempts_total",
	Help: "Frame attempts by strategy and failure type.",
}, []string{"strategy", "failure"})
