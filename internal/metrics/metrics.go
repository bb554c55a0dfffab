package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Cache lookups by tier and result (hit, miss, stale)",
		},
		[]string{"tier", "result"},
	)

	CacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Entries removed because they expired or could not be decoded",
		},
		[]string{"tier"},
	)

	CacheWriteFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_write_failures_total",
			Help: "Durable tier writes that failed even after sweeping expired entries",
		},
		[]string{"tier"},
	)

	TrackingPushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_pushes_total",
			Help: "Automatic location pushes by result",
		},
		[]string{"result"},
	)

	TrackingStatusChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_status_changes_total",
			Help: "Order status changes applied, by target status",
		},
		[]string{"status"},
	)

	TrackingReconciledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tracking_reconciled_total",
			Help: "Active tracking records closed by reconciliation",
		},
	)

	BusEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_total",
			Help: "Change events received from the transport, by table",
		},
		[]string{"table"},
	)

	BusReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_reconnects_total",
			Help: "Reconnection attempts of the change-notification bus",
		},
	)

	BusSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_subscriptions",
			Help: "Open logical channels on the change-notification bus",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of incoming HTTP requests",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distributions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheRequestsTotal,
			CacheEvictionsTotal,
			CacheWriteFailuresTotal,
			TrackingPushesTotal,
			TrackingStatusChangesTotal,
			TrackingReconciledTotal,
			BusEventsTotal,
			BusReconnectsTotal,
			BusSubscriptions,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}
