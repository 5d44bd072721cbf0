// Package metrics wraps the Prometheus collectors for RPC traffic,
// transaction submission and the read cache. A nil *Collector is valid and
// records nothing, so components accept one optionally.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector provides client metrics collection.
type Collector struct {
	registry *prometheus.Registry

	rpcRequests *prometheus.CounterVec
	rpcLatency  *prometheus.HistogramVec

	submissions    *prometheus.CounterVec
	confirmLatency *prometheus.HistogramVec

	cacheEvents *prometheus.CounterVec
}

// NewCollector creates a collector registered on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "votesphere"
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.rpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total JSON-RPC requests by method and result",
		},
		[]string{"method", "result"},
	)
	c.rpcLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC round trip time",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"method"},
	)

	c.submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "submissions_total",
			Help:      "Submitted transactions by final outcome",
		},
		[]string{"outcome", "reason"},
	)
	c.confirmLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "confirm_duration_seconds",
			Help:      "Time from submission to a final outcome",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"outcome"},
	)

	c.cacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "events_total",
			Help:      "Read cache hits, stale hits, misses, fetches and invalidations",
		},
		[]string{"event"},
	)

	c.registry.MustRegister(
		c.rpcRequests,
		c.rpcLatency,
		c.submissions,
		c.confirmLatency,
		c.cacheEvents,
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRPC records one JSON-RPC round trip
func (c *Collector) ObserveRPC(method, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.rpcRequests.WithLabelValues(method, result).Inc()
	c.rpcLatency.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveSubmission records the final outcome of a tracked submission
func (c *Collector) ObserveSubmission(outcome, reason string, d time.Duration) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(outcome, reason).Inc()
	c.confirmLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// Cache event labels
const (
	CacheHit        = "hit"
	CacheStale      = "stale"
	CacheMiss       = "miss"
	CacheFetch      = "fetch"
	CacheFetchError = "fetch_error"
	CacheInvalidate = "invalidate"
)

// CacheEvent counts one cache event
func (c *Collector) CacheEvent(event string) {
	if c == nil {
		return
	}
	c.cacheEvents.WithLabelValues(event).Inc()
}
