package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink exposes merged measurements as Prometheus metrics.
// Counters and histograms are created lazily on first use, keyed by the
// accumulator's metric name.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	histograms map[string]prometheus.Histogram
}

// NewPrometheusSink creates a sink registered against the given registry.
// Pass prometheus.NewRegistry() or the default registerer wrapped as a
// *Registry.
func NewPrometheusSink(registry *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// IncCounter implements Sink.
func (s *PrometheusSink) IncCounter(name string, delta float64) {
	s.mu.Lock()
	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "prompt_forge",
			Name:      name,
		})
		s.registry.MustRegister(c)
		s.counters[name] = c
	}
	s.mu.Unlock()
	c.Add(delta)
}

// ObserveDuration implements Sink.
func (s *PrometheusSink) ObserveDuration(name string, d time.Duration) {
	s.mu.Lock()
	h, ok := s.histograms[name]
	if !ok {
		h = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prompt_forge",
			Name:      name + "_seconds",
			Buckets:   prometheus.DefBuckets,
		})
		s.registry.MustRegister(h)
		s.histograms[name] = h
	}
	s.mu.Unlock()
	h.Observe(d.Seconds())
}

var _ Sink = (*PrometheusSink)(nil)
