// Package metrics bundles Prometheus collectors for the acquisition service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all collectors on a dedicated registry.
type Metrics struct {
	Registry *prometheus.Registry

	AcquisitionsTotal   *prometheus.CounterVec
	AcquisitionDuration prometheus.Histogram
	CacheOpsTotal       *prometheus.CounterVec
	PoolInUse           prometheus.Gauge
	PoolAvailable       prometheus.Gauge
	PoolCreatedTotal    prometheus.Counter
	PoolReusedTotal     prometheus.Counter
	CoalescedTotal      prometheus.Counter
	ScrapeErrorsTotal   *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	acquisitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricebot_acquisitions_total",
			Help: "Total URL acquisitions by platform and status.",
		},
		[]string{"platform", "status"},
	)
	acquisitionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricebot_acquisition_duration_seconds",
			Help:    "End-to-end latency for a single URL acquisition.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheOps := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricebot_cache_ops_total",
			Help: "Cache operations by namespace and result.",
		},
		[]string{"namespace", "result"},
	)
	poolInUse := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pricebot_pool_sessions_in_use",
		Help: "Browser sessions currently leased.",
	})
	poolAvailable := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pricebot_pool_sessions_available",
		Help: "Browser sessions idle in the pool.",
	})
	poolCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricebot_pool_sessions_created_total",
		Help: "Browser sessions created beyond the pre-warmed set.",
	})
	poolReused := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricebot_pool_sessions_reused_total",
		Help: "Browser sessions served from the warm pool.",
	})
	coalesced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pricebot_coalesced_fetches_total",
		Help: "Fetches that joined an identical in-flight request.",
	})
	scrapeErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricebot_scrape_errors_total",
			Help: "Scrape errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(
		acquisitions, acquisitionDuration, cacheOps,
		poolInUse, poolAvailable, poolCreated, poolReused,
		coalesced, scrapeErrors,
	)

	return &Metrics{
		Registry:            registry,
		AcquisitionsTotal:   acquisitions,
		AcquisitionDuration: acquisitionDuration,
		CacheOpsTotal:       cacheOps,
		PoolInUse:           poolInUse,
		PoolAvailable:       poolAvailable,
		PoolCreatedTotal:    poolCreated,
		PoolReusedTotal:     poolReused,
		CoalescedTotal:      coalesced,
		ScrapeErrorsTotal:   scrapeErrors,
	}
}

// IncAcquisition increments the acquisitions counter.
func (m *Metrics) IncAcquisition(platform, status string) {
	if m == nil {
		return
	}
	m.AcquisitionsTotal.WithLabelValues(platform, status).Inc()
}

// ObserveAcquisition records a per-URL acquisition duration.
func (m *Metrics) ObserveAcquisition(d time.Duration) {
	if m == nil {
		return
	}
	m.AcquisitionDuration.Observe(d.Seconds())
}

// IncCacheOp increments the cache operations counter.
func (m *Metrics) IncCacheOp(namespace, result string) {
	if m == nil {
		return
	}
	m.CacheOpsTotal.WithLabelValues(namespace, result).Inc()
}

// SetPoolGauges records the pool occupancy snapshot.
func (m *Metrics) SetPoolGauges(inUse, available int) {
	if m == nil {
		return
	}
	m.PoolInUse.Set(float64(inUse))
	m.PoolAvailable.Set(float64(available))
}

// IncPoolCreated increments the created-sessions counter.
func (m *Metrics) IncPoolCreated() {
	if m == nil {
		return
	}
	m.PoolCreatedTotal.Inc()
}

// IncPoolReused increments the reused-sessions counter.
func (m *Metrics) IncPoolReused() {
	if m == nil {
		return
	}
	m.PoolReusedTotal.Inc()
}

// IncCoalesced increments the coalesced-fetch counter.
func (m *Metrics) IncCoalesced() {
	if m == nil {
		return
	}
	m.CoalescedTotal.Inc()
}

// IncScrapeError increments the scrape errors counter for a type label.
func (m *Metrics) IncScrapeError(errorType string) {
	if m == nil {
		return
	}
	m.ScrapeErrorsTotal.WithLabelValues(errorType).Inc()
}
