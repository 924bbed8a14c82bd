// Package metrics exposes the Prometheus instrumentation described in
// spec.md's operational-visibility notes: counters and gauges for
// extraction/restoration throughput, rate-limit backoffs, and storage
// retries, in the same package-level promauto style the teacher uses in
// go/network/metrics.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lookervault_items_processed_total",
	Help: "counter of content items successfully extracted or restored",
}, []string{"operation", "content_type"})

var ItemsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lookervault_items_failed_total",
	Help: "counter of content items that failed terminally and were routed to the dead-letter queue",
}, []string{"operation", "content_type", "error_kind"})

var ItemsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lookervault_items_retried_total",
	Help: "counter of content item operations retried after a transient or rate-limited failure",
}, []string{"operation", "content_type"})

var RateLimitEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lookervault_rate_limit_events_total",
	Help: "counter of 429 responses observed from the Looker API",
}, []string{"content_type"})

var StorageBusyRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lookervault_storage_busy_retries_total",
	Help: "counter of SQLite busy/locked retries performed by the content repository",
}, []string{"operation"})

var SessionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "lookervault_session_duration_seconds",
	Help:    "duration of a completed extraction or restoration session",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34m
}, []string{"operation"})

var ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "lookervault_active_workers",
	Help: "configured worker pool size for the running operation (0 between content types)",
}, []string{"operation"})

var CurrentRateLimit = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "lookervault_current_rate_limit_per_minute",
	Help: "current effective per-minute request ceiling after any adaptive slowdown",
}, []string{"content_type"})
