package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink is the generic MetricsSink interface used by sync pipeline
// components to record counters, histograms, and gauges without coupling
// them to Prometheus directly.
type Sink interface {
	Counter(name string, labels map[string]string) Counter
	Histogram(name string, labels map[string]string) Histogram
	Gauge(name string, labels map[string]string) Gauge
}

type Counter interface{ Inc(n float64) }
type Histogram interface{ Observe(v float64) }
type Gauge interface{ Set(v float64) }

// PrometheusSink lazily registers a CounterVec/HistogramVec/GaugeVec per
// metric name (keyed on its sorted label names) and returns the child
// metric for the call's label values, mirroring the promauto pattern used
// throughout the rest of this codebase's metrics.
type PrometheusSink struct {
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusSink creates a sink whose metric names are prefixed with
// namespace + "_" (e.g. "syncengine_jobs_processed_total").
func NewPrometheusSink(namespace string) *PrometheusSink {
	return &PrometheusSink{
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, labels map[string]string) []string {
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	return values
}

func (s *PrometheusSink) fullName(name string) string {
	if s.namespace == "" {
		return name
	}
	return s.namespace + "_" + name
}

// counterAdapter bridges prometheus.Counter's Inc()/Add(float64) pair to
// the single Inc(n float64) method Sink callers expect.
type counterAdapter struct{ c prometheus.Counter }

func (a counterAdapter) Inc(n float64) { a.c.Add(n) }

func (s *PrometheusSink) Counter(name string, labels map[string]string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := labelNames(labels)
	vec, ok := s.counters[name]
	if !ok {
		vec = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: s.fullName(name),
			Help: name,
		}, names)
		s.counters[name] = vec
	}
	return counterAdapter{c: vec.WithLabelValues(labelValues(names, labels)...)}
}

func (s *PrometheusSink) Histogram(name string, labels map[string]string) Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := labelNames(labels)
	vec, ok := s.histograms[name]
	if !ok {
		vec = promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    s.fullName(name),
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, names)
		s.histograms[name] = vec
	}
	return vec.WithLabelValues(labelValues(names, labels)...)
}

func (s *PrometheusSink) Gauge(name string, labels map[string]string) Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := labelNames(labels)
	vec, ok := s.gauges[name]
	if !ok {
		vec = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: s.fullName(name),
			Help: name,
		}, names)
		s.gauges[name] = vec
	}
	return vec.WithLabelValues(labelValues(names, labels)...)
}
