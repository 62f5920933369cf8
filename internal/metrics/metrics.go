// Package metrics exposes Prometheus metrics for task runs, cache tiers and
// remote cache traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskgrid"

// TasksTotal counts finished tasks by final status.
var TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_total",
	Help:      "Total tasks processed, by final status.",
}, []string{"status"})

// TaskDuration tracks wall time spent per task, including cache lookups.
var TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "task_duration_seconds",
	Help:      "Time spent processing a task.",
	Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
}, []string{"status"})

// CacheHits counts results served from a cache tier.
var CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "cache_hits_total",
	Help:      "Cached results used, by tier.",
}, []string{"tier"})

// CacheMisses counts tasks that had to execute with caching enabled.
var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "cache_misses_total",
	Help:      "Cacheable tasks that found no usable result.",
})

// RemoteBytes counts blob bytes moved to or from the remote cache.
var RemoteBytes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "remote_bytes_total",
	Help:      "Blob bytes transferred with the remote cache, by direction.",
}, []string{"direction"})

// RemoteErrors counts failed remote cache operations.
var RemoteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "remote_errors_total",
	Help:      "Failed remote cache operations, by operation.",
}, []string{"operation"})

// PendingUploads tracks background uploads not yet completed.
var PendingUploads = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "pending_uploads",
	Help:      "Background uploads still in flight.",
})
