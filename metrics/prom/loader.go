package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/gallerycache/loader"
)

// LoaderAdapter implements loader.Metrics.
type LoaderAdapter struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.HistogramVec
	fallbacks prometheus.Counter
	active    prometheus.Gauge
	queued    prometheus.Gauge
}

// NewLoaderMetrics registers the loader collectors with reg
// (nil => prometheus.DefaultRegisterer).
func NewLoaderMetrics(reg prometheus.Registerer) *LoaderAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &LoaderAdapter{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "loader",
			Name:      "submitted_total",
			Help:      "Load requests submitted, by tier",
		}, []string{"tier"}),
		finished: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "loader",
			Name:      "task_seconds",
			Help:      "Task run time by final state",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}, []string{"state"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "loader",
			Name:      "fallbacks_total",
			Help:      "Fallback attempts scheduled",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "loader",
			Name:      "active",
			Help:      "Tasks holding a slot",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "loader",
			Name:      "queued",
			Help:      "Tasks waiting for a slot",
		}),
	}
	reg.MustRegister(a.submitted, a.finished, a.fallbacks, a.active, a.queued)
	return a
}

func (a *LoaderAdapter) Submitted(t loader.Tier) { a.submitted.WithLabelValues(t.String()).Inc() }

func (a *LoaderAdapter) Finished(s loader.State, d time.Duration) {
	a.finished.WithLabelValues(s.String()).Observe(d.Seconds())
}

func (a *LoaderAdapter) Fallback() { a.fallbacks.Inc() }

func (a *LoaderAdapter) Depth(active, queued int) {
	a.active.Set(float64(active))
	a.queued.Set(float64(queued))
}

var _ loader.Metrics = (*LoaderAdapter)(nil)
