package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEntriesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairsync",
		Subsystem: "transfer",
		Name:      "entries_applied_total",
		Help:      "Total number of received entries persisted to storage",
	})
	metricBytesApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairsync",
		Subsystem: "transfer",
		Name:      "applied_bytes_total",
		Help:      "Total amount of file data persisted to storage",
	})
	metricWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pairsync",
		Subsystem: "transfer",
		Name:      "write_failures_total",
		Help:      "Total number of entries that failed to persist",
	})
)
