package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EvictionCollector implements eviction.Metrics, recording per-iteration
// outcomes and cumulative bytes/layers for a disk-pressure eviction loop.
type EvictionCollector struct {
	iterations   *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	bytesEvicted prometheus.Counter
	layersFailed prometheus.Counter
}

// NewEvictionCollector creates and registers an EvictionCollector.
//
// Metrics registered:
//   - {namespace}_eviction_iterations_total       counter   (outcome)
//   - {namespace}_eviction_iteration_duration_seconds histogram (outcome)
//   - {namespace}_eviction_bytes_evicted_total    counter
//   - {namespace}_eviction_layers_failed_total    counter
func NewEvictionCollector(opts ...CollectorOption) *EvictionCollector {
	cfg := &collectorConfig{
		namespace: "ratelimit",
		registry:  prometheus.DefaultRegisterer,
		buckets:   defaultBuckets,
	}
	for _, o := range opts {
		o(cfg)
	}

	iterations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "eviction_iterations_total",
		Help:      "Total eviction iterations partitioned by outcome (no_pressure, cancelled, finished).",
	}, []string{"outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "eviction_iteration_duration_seconds",
		Help:      "Wall-clock duration of a single eviction iteration, by outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"outcome"})

	bytesEvicted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "eviction_bytes_evicted_total",
		Help:      "Cumulative bytes freed across all finished eviction iterations.",
	})

	layersFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "eviction_layers_failed_total",
		Help:      "Cumulative count of layers that could not be evicted (not found or unexpected state).",
	})

	cfg.registry.MustRegister(iterations, duration, bytesEvicted, layersFailed)

	return &EvictionCollector{
		iterations:   iterations,
		duration:     duration,
		bytesEvicted: bytesEvicted,
		layersFailed: layersFailed,
	}
}

// ObserveIteration implements eviction.Metrics.
func (c *EvictionCollector) ObserveIteration(outcome string, d time.Duration) {
	c.iterations.WithLabelValues(outcome).Inc()
	c.duration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveBytesEvicted implements eviction.Metrics.
func (c *EvictionCollector) ObserveBytesEvicted(n uint64) {
	c.bytesEvicted.Add(float64(n))
}

// ObserveLayersFailed implements eviction.Metrics.
func (c *EvictionCollector) ObserveLayersFailed(n uint64) {
	c.layersFailed.Add(float64(n))
}
