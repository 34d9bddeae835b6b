package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/gallerycache/pressure"
)

// PressureAdapter implements pressure.Metrics.
type PressureAdapter struct {
	level   prometheus.Gauge
	ratio   prometheus.Gauge
	actions *prometheus.CounterVec
	items   *prometheus.CounterVec
}

// NewPressureMetrics registers the monitor collectors with reg
// (nil => prometheus.DefaultRegisterer).
func NewPressureMetrics(reg prometheus.Registerer) *PressureAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &PressureAdapter{
		level: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "memory",
			Name:      "pressure_level",
			Help:      "0=ok 1=warning 2=critical 3=emergency",
		}),
		ratio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "memory",
			Name:      "usage_ratio",
			Help:      "Used bytes over budget at the last sample",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "memory",
			Name:      "cleanup_actions_total",
			Help:      "Cleanup actions run",
		}, []string{"action"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "memory",
			Name:      "reclaimed_total",
			Help:      "Entries evicted or handles released by cleanup",
		}, []string{"action"}),
	}
	reg.MustRegister(a.level, a.ratio, a.actions, a.items)
	return a
}

func (a *PressureAdapter) Sampled(l pressure.Level, ratio float64) {
	a.level.Set(float64(l))
	a.ratio.Set(ratio)
}

func (a *PressureAdapter) Acted(act pressure.Action, n int) {
	a.actions.WithLabelValues(string(act)).Inc()
	a.items.WithLabelValues(string(act)).Add(float64(n))
}

var _ pressure.Metrics = (*PressureAdapter)(nil)
