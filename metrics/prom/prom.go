// Package prom exports cache, loader and memory-pressure signals as
// Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/gallerycache/cache"
)

// Namespace prefixes every metric.
const Namespace = "gallery"

// CacheAdapter implements cache.Metrics for one named cache. Adapters for
// different caches share collectors, told apart by the "cache" label.
type CacheAdapter struct {
	hits     prometheus.Counter
	misses   prometheus.Counter
	evicts   *prometheus.CounterVec
	sizeEnt  prometheus.Gauge
	sizeCost prometheus.Gauge
}

// CacheMetrics holds the cache collectors. Register once, then call For
// per cache.
type CacheMetrics struct {
	hits     *prometheus.CounterVec
	misses   *prometheus.CounterVec
	evicts   *prometheus.CounterVec
	sizeEnt  *prometheus.GaugeVec
	sizeCost *prometheus.GaugeVec
}

// NewCacheMetrics registers the cache collectors with reg
// (nil => prometheus.DefaultRegisterer).
func NewCacheMetrics(reg prometheus.Registerer) *CacheMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &CacheMetrics{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Cache hits",
		}, []string{"cache"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Cache misses",
		}, []string{"cache"}),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Cache evictions by reason",
		}, []string{"cache", "reason"}),
		sizeEnt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "size_entries",
			Help:      "Number of resident entries",
		}, []string{"cache"}),
		sizeCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "cache",
			Name:      "size_bytes",
			Help:      "Bytes held by resident entries",
		}, []string{"cache"}),
	}
	reg.MustRegister(m.hits, m.misses, m.evicts, m.sizeEnt, m.sizeCost)
	return m
}

// For returns the adapter for the cache called name.
func (m *CacheMetrics) For(name string) cache.Metrics {
	return &CacheAdapter{
		hits:     m.hits.WithLabelValues(name),
		misses:   m.misses.WithLabelValues(name),
		evicts:   m.evicts.MustCurryWith(prometheus.Labels{"cache": name}),
		sizeEnt:  m.sizeEnt.WithLabelValues(name),
		sizeCost: m.sizeCost.WithLabelValues(name),
	}
}

// Hit increments the hit counter.
func (a *CacheAdapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *CacheAdapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *CacheAdapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates gauges for the number of entries and total cost.
func (a *CacheAdapter) Size(entries int, cost int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeCost.Set(float64(cost))
}

var _ cache.Metrics = (*CacheAdapter)(nil)
