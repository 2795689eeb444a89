package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FairGCRACollector implements fairgcra.Metrics, recording acquire latency
// and throttling counts for a single shared-bucket limiter. FairGCRA
// guards one shared resource rather than per-key buckets — there
// is no "algorithm" label to partition by, only an optional "name" label
// distinguishing multiple FairGCRA instances in one process.
type FairGCRACollector struct {
	acquireDuration *prometheus.HistogramVec
	throttled       *prometheus.CounterVec
}

// NewFairGCRACollector creates and registers a FairGCRACollector.
//
// Metrics registered:
//   - {namespace}_fairgcra_acquire_duration_seconds  histogram (name)
//   - {namespace}_fairgcra_throttled_total           counter   (name, throttled)
func NewFairGCRACollector(opts ...CollectorOption) *FairGCRACollector {
	cfg := &collectorConfig{
		namespace: "ratelimit",
		registry:  prometheus.DefaultRegisterer,
		buckets:   defaultBuckets,
	}
	for _, o := range opts {
		o(cfg)
	}

	acquireDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "fairgcra_acquire_duration_seconds",
		Help:      "Latency of FairGCRA.Acquire calls in seconds, including any time spent queued or sleeping.",
		Buckets:   cfg.buckets,
	}, []string{"name"})

	throttled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.namespace,
		Subsystem: cfg.subsystem,
		Name:      "fairgcra_throttled_total",
		Help:      "Total FairGCRA.Acquire calls partitioned by whether the caller had to sleep.",
	}, []string{"name", "throttled"})

	cfg.registry.MustRegister(acquireDuration, throttled)

	return &FairGCRACollector{acquireDuration: acquireDuration, throttled: throttled}
}

// ForName returns a fairgcra.Metrics view scoped to one instance's name
// label, suitable for fairgcra.WithMetrics.
func (c *FairGCRACollector) ForName(name string) *namedFairGCRAMetrics {
	return &namedFairGCRAMetrics{collector: c, name: name}
}

type namedFairGCRAMetrics struct {
	collector *FairGCRACollector
	name      string
}

// ObserveAcquire implements fairgcra.Metrics.
func (m *namedFairGCRAMetrics) ObserveAcquire(d time.Duration, throttled bool) {
	m.collector.acquireDuration.WithLabelValues(m.name).Observe(d.Seconds())
	label := "false"
	if throttled {
		label = "true"
	}
	m.collector.throttled.WithLabelValues(m.name, label).Inc()
}
