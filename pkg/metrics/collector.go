// Package metrics exposes Prometheus collectors for the pool, the resolver,
// and session lifecycle. A nil *Collector disables recording, so components
// take it as an optional dependency without guarding every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared across counters
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Hint cache label values
const (
	HintHit  = "hit"
	HintMiss = "miss"
)

// Collector bundles every metric the module records
type Collector struct {
	// Pool metrics
	acquireTotal      *prometheus.CounterVec
	acquireWait       prometheus.Histogram
	devices           *prometheus.GaugeVec
	allocationsActive prometheus.Gauge

	// Resolver metrics
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration *prometheus.HistogramVec
	fallbackDepth      prometheus.Histogram
	hintCacheTotal     *prometheus.CounterVec

	// Session metrics
	sessionStartsTotal *prometheus.CounterVec
}

// NewCollector registers all collectors under the given namespace. A nil
// registerer falls back to the Prometheus default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.acquireTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acquire_total",
			Help:      "Total number of device acquisition attempts",
		},
		[]string{"platform", "outcome"},
	)

	c.acquireWait = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a device",
			Buckets:   []float64{0.01, 0.05, 0.25, 1, 5, 15, 30, 60, 120},
		},
	)

	c.devices = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Registered devices by status",
		},
		[]string{"status"},
	)

	c.allocationsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "allocations_active",
			Help:      "Device allocations currently held",
		},
	)

	c.resolutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Total number of per-strategy resolution outcomes",
		},
		[]string{"strategy", "outcome"},
	)

	c.resolutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_seconds",
			Help:      "Element resolution duration by winning strategy",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		},
		[]string{"strategy"},
	)

	c.fallbackDepth = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_depth",
			Help:      "How many strategies were tried before one succeeded",
			Buckets:   []float64{0, 1, 2, 3, 4},
		},
	)

	c.hintCacheTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hint_cache_total",
			Help:      "Hint cache lookups by result",
		},
		[]string{"result"},
	)

	c.sessionStartsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_starts_total",
			Help:      "Total number of session start attempts",
		},
		[]string{"platform", "outcome"},
	)

	return c
}

// RecordAcquire records one acquisition attempt and its wait time
func (c *Collector) RecordAcquire(platform, outcome string, wait time.Duration) {
	if c == nil {
		return
	}
	c.acquireTotal.WithLabelValues(platform, outcome).Inc()
	c.acquireWait.Observe(wait.Seconds())
}

// SetDeviceCount sets the gauge for one device status
func (c *Collector) SetDeviceCount(status string, n int) {
	if c == nil {
		return
	}
	c.devices.WithLabelValues(status).Set(float64(n))
}

// AllocationOpened bumps the active allocation gauge
func (c *Collector) AllocationOpened() {
	if c == nil {
		return
	}
	c.allocationsActive.Inc()
}

// AllocationClosed drops the active allocation gauge
func (c *Collector) AllocationClosed() {
	if c == nil {
		return
	}
	c.allocationsActive.Dec()
}

// RecordResolution records one strategy outcome during element resolution
func (c *Collector) RecordResolution(strategy, outcome string, duration time.Duration) {
	if c == nil {
		return
	}
	c.resolutionsTotal.WithLabelValues(strategy, outcome).Inc()
	if outcome == OutcomeOK {
		c.resolutionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	}
}

// RecordFallbackDepth records how deep the chain walk went before success
func (c *Collector) RecordFallbackDepth(depth int) {
	if c == nil {
		return
	}
	c.fallbackDepth.Observe(float64(depth))
}

// RecordHintLookup records a hint cache hit or miss
func (c *Collector) RecordHintLookup(hit bool) {
	if c == nil {
		return
	}
	result := HintMiss
	if hit {
		result = HintHit
	}
	c.hintCacheTotal.WithLabelValues(result).Inc()
}

// RecordSessionStart records one session start attempt
func (c *Collector) RecordSessionStart(platform, outcome string) {
	if c == nil {
		return
	}
	c.sessionStartsTotal.WithLabelValues(platform, outcome).Inc()
}
