package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes other than the probe outcomes defined by sync.Outcome.
const (
	outcomeAccepted     = "accepted"
	outcomeUnauthorized = "unauthorized"
	outcomeTooLarge     = "too_large"
	outcomeError        = "error"
)

var metricRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pairsync",
	Subsystem: "server",
	Name:      "requests_total",
	Help:      "Total number of sync requests handled, by method and outcome",
}, []string{"method", "outcome"})
