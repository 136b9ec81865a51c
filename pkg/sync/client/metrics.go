package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairsync",
	Subsystem: "initiator",
	Name:      "runs_total",
	Help:      "Total number of reconciliations, by terminal state",
}, []string{"state"})
