package prom

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/gallerycache/cache"
	"github.com/IvanBrykalov/gallerycache/loader"
	"github.com/IvanBrykalov/gallerycache/pressure"
)

func TestCacheAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCacheMetrics(reg)

	c := cache.New(cache.Options[string, int]{Name: "thumbnails", Capacity: 1, Metrics: m.For("thumbnails")})
	c.Set("a", 1)
	c.Get("a")
	c.Get("b")
	c.Set("b", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("thumbnails")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.misses.WithLabelValues("thumbnails")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evicts.WithLabelValues("thumbnails", "capacity")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sizeEnt.WithLabelValues("thumbnails")))

	// A second cache shares the collectors without a registration clash.
	m.For("full").Hit()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits.WithLabelValues("full")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.hits))
}

func TestLoaderAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewLoaderMetrics(reg)

	a.Submitted(loader.TierCritical)
	a.Submitted(loader.TierCritical)
	a.Fallback()
	a.Depth(3, 7)
	a.Finished(loader.StateSucceeded, 200*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(a.submitted.WithLabelValues("critical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.fallbacks))
	assert.Equal(t, 3.0, testutil.ToFloat64(a.active))
	assert.Equal(t, 7.0, testutil.ToFloat64(a.queued))

	err := testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP gallery_loader_fallbacks_total Fallback attempts scheduled
# TYPE gallery_loader_fallbacks_total counter
gallery_loader_fallbacks_total 1
`), "gallery_loader_fallbacks_total")
	require.NoError(t, err)
}

func TestPressureAdapter(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewPressureMetrics(reg)

	m := pressure.New(pressure.Options{Budget: 100, Metrics: a})
	m.Apply(pressure.Sample{UsedBytes: 85})

	assert.Equal(t, 2.0, testutil.ToFloat64(a.level))
	assert.InDelta(t, 0.85, testutil.ToFloat64(a.ratio), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.actions.WithLabelValues("soft_trim")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.actions.WithLabelValues("release_unreferenced")))
	assert.Equal(t, 0.0, testutil.ToFloat64(a.actions.WithLabelValues("full_clear")))
}
