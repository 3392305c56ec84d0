// Package metrics holds the Prometheus collectors shared by lockerd
// components. Collectors register with the default registry, which the
// /metrics endpoint serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lockerd"

var (
	// Operations counts orchestrator operations by outcome.
	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Machine operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency of machine operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Machine cache lookups by result (hit, miss).",
	}, []string{"result"})

	// CacheStaleWrites counts puts rejected because a newer version was cached.
	CacheStaleWrites = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "stale_writes_total",
		Help:      "Cache writes rejected because the cached entry was newer.",
	})

	HardwareCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hardware",
		Name:      "start_cycle_total",
		Help:      "StartCycle calls by result (ok, fault).",
	}, []string{"result"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Lifecycle events by publish result (ok, error).",
	}, []string{"result"})
)
