package pressure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/gallerycache/cache"
	"github.com/IvanBrykalov/gallerycache/resource"
)

type env struct {
	store   *resource.BlobStore
	tracker *resource.Tracker
	thumbs  cache.Cache[string, resource.Value]
	urls    cache.Cache[string, resource.Value]
	mon     *Monitor
	sampler *StaticSampler
}

const budget = 1000

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{store: resource.NewBlobStore(0)}
	e.tracker = resource.NewTracker(e.store, nil)
	e.thumbs = cache.New(cache.Options[string, resource.Value]{
		Name: "thumbs", Capacity: 10, OnEvict: resource.EvictFunc[string](e.tracker),
	})
	e.urls = cache.New(cache.Options[string, resource.Value]{Name: "urls", Capacity: 10})
	e.sampler = NewStaticSampler(0, budget)
	e.mon = New(Options{
		Sampler: e.sampler,
		Targets: []Target{e.thumbs, e.urls},
		Handles: e.tracker,
		Referenced: func(yield func(resource.Handle)) {
			e.thumbs.Range(func(_ string, v resource.Value) bool {
				if v.IsHandle() {
					yield(v.Handle)
				}
				return true
			})
		},
	})
	return e
}

func (e *env) fill(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		h, err := e.store.Alloc([]byte("px"))
		require.NoError(t, err)
		e.tracker.Register(h)
		e.thumbs.Set(fmt.Sprint("t", i), resource.HandleValue(h, "image/jpeg", 2))
		e.urls.Set(fmt.Sprint("u", i), resource.URLValue(fmt.Sprint("https://img/", i)))
	}
}

// orphan registers a handle no cache refers to.
func (e *env) orphan(t *testing.T) resource.Handle {
	t.Helper()
	h, err := e.store.Alloc([]byte("orphan"))
	require.NoError(t, err)
	e.tracker.Register(h)
	return h
}

func sample(used int64) Sample { return Sample{UsedBytes: used, LimitBytes: budget, At: time.Now()} }

func TestClassify(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Level
	}{
		{0, OK}, {0.69, OK}, {0.70, Warning}, {0.79, Warning},
		{0.80, Critical}, {0.89, Critical}, {0.90, Emergency}, {1.5, Emergency},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DefaultThresholds.Classify(tc.ratio), "ratio %v", tc.ratio)
	}
}

func TestActionsAreAdditive(t *testing.T) {
	assert.Empty(t, Actions(OK))
	assert.Equal(t, []Action{ActionSoftTrim}, Actions(Warning))
	assert.Equal(t, []Action{ActionSoftTrim, ActionAggressiveEvict, ActionReleaseUnreferenced}, Actions(Critical))
	assert.Equal(t, []Action{ActionSoftTrim, ActionAggressiveEvict, ActionReleaseUnreferenced, ActionFullClear, ActionReleaseAll}, Actions(Emergency))
}

func TestApplyOK(t *testing.T) {
	e := newEnv(t)
	e.fill(t, 10)
	rep := e.mon.Apply(sample(500))
	assert.Equal(t, OK, rep.Level)
	assert.Empty(t, rep.Actions)
	assert.Equal(t, 10, e.thumbs.Len())
}

func TestApplyWarningSoftTrims(t *testing.T) {
	e := newEnv(t)
	e.fill(t, 10)
	orphan := e.orphan(t)

	rep := e.mon.Apply(sample(700))
	assert.Equal(t, Warning, rep.Level)
	assert.Equal(t, []Action{ActionSoftTrim}, rep.Actions)
	// 10 entries, 5 above half capacity: evict 3.
	assert.Equal(t, map[string]int{"thumbs": 3, "urls": 3}, rep.Evicted)
	assert.Equal(t, 7, e.thumbs.Len())
	assert.Equal(t, 8, e.tracker.Live(), "7 cached + 1 orphan")
	assert.True(t, e.tracker.Contains(orphan))
	assert.Zero(t, rep.Released)
}

func TestApplyCriticalEvictsAndReleasesOrphans(t *testing.T) {
	e := newEnv(t)
	e.fill(t, 10)
	orphan := e.orphan(t)

	rep := e.mon.Apply(sample(800))
	assert.Equal(t, Critical, rep.Level)
	// soft trim 10->7, then 80% of 7 rounded up.
	assert.Equal(t, map[string]int{"thumbs": 3 + 6, "urls": 3 + 6}, rep.Evicted)
	assert.Equal(t, 1, e.thumbs.Len())
	assert.Equal(t, 1, rep.Released)
	assert.False(t, e.tracker.Contains(orphan))
	assert.Equal(t, 1, e.tracker.Live())
	assert.Equal(t, 1, e.store.Len())
}

func TestApplyEmergencyClearsEverything(t *testing.T) {
	e := newEnv(t)
	e.fill(t, 10)
	e.orphan(t)

	rep := e.mon.Apply(sample(950))
	assert.Equal(t, Emergency, rep.Level)
	assert.Len(t, rep.Actions, 5)
	assert.Zero(t, e.thumbs.Len())
	assert.Zero(t, e.urls.Len())
	assert.Zero(t, e.tracker.Live())
	assert.Zero(t, e.store.Len())
	assert.Zero(t, e.store.Bytes())
}

func TestBudgetOverridesSamplerLimit(t *testing.T) {
	m := New(Options{Budget: 100})
	rep := m.Apply(Sample{UsedBytes: 95, LimitBytes: 1 << 40})
	assert.Equal(t, Emergency, rep.Level)
	assert.Equal(t, int64(100), rep.Sample.LimitBytes)
}

func TestSubscribeSeesTransitionsOnly(t *testing.T) {
	e := newEnv(t)
	var got []string
	unsub := e.mon.Subscribe(func(old, new Level) { got = append(got, old.String()+">"+new.String()) })
	e.mon.Subscribe(func(Level, Level) { panic("observer bug") })

	e.mon.Apply(sample(100))
	e.mon.Apply(sample(750))
	e.mon.Apply(sample(760))
	e.mon.Apply(sample(920))
	e.mon.Apply(sample(100))
	assert.Equal(t, []string{"ok>warning", "warning>emergency", "emergency>ok"}, got)

	unsub()
	e.mon.Apply(sample(800))
	assert.Len(t, got, 3)
	assert.Equal(t, Critical, e.mon.Level())
}

func TestCleanupKeepsLevel(t *testing.T) {
	e := newEnv(t)
	e.fill(t, 10)
	rep := e.mon.Cleanup(Critical)
	assert.Equal(t, Critical, rep.Level)
	assert.Equal(t, OK, e.mon.Level())
	assert.Equal(t, 1, e.thumbs.Len())
}

func TestTickUsesSampler(t *testing.T) {
	e := newEnv(t)
	e.sampler.Set(850, budget)
	rep, err := e.mon.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Critical, rep.Level)
	assert.Equal(t, int64(850), e.mon.Last().UsedBytes)

	boom := New(Options{Sampler: SamplerFunc(func(context.Context) (Sample, error) { return Sample{}, errors.New("no proc") })})
	_, err = boom.Tick(context.Background())
	assert.Error(t, err)
}

type countingSampler struct {
	mu sync.Mutex
	n  int
}

func (c *countingSampler) Sample(context.Context) (Sample, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return Sample{UsedBytes: 1, LimitBytes: 100}, nil
}

func (c *countingSampler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRunVisibility(t *testing.T) {
	cs := &countingSampler{}
	m := New(Options{Sampler: cs, Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return cs.count() >= 2 }, time.Second, 2*time.Millisecond)

	m.SetVisible(false)
	time.Sleep(15 * time.Millisecond)
	frozen := cs.count()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, frozen, cs.count(), "hidden monitor must not sample")

	m.SetVisible(true)
	require.Eventually(t, func() bool { return cs.count() > frozen }, time.Second, 2*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFallbackSampler(t *testing.T) {
	bad := SamplerFunc(func(context.Context) (Sample, error) { return Sample{}, errors.New("bad") })
	s, err := Fallback(bad, NewStaticSampler(3, 4)).Sample(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.75, s.Ratio())

	_, err = Fallback(bad, bad).Sample(context.Background())
	assert.Error(t, err)
}

func TestRuntimeSampler(t *testing.T) {
	s, err := RuntimeSampler{Limit: 1 << 40}.Sample(context.Background())
	require.NoError(t, err)
	assert.Positive(t, s.UsedBytes)
	assert.Positive(t, s.LimitBytes)
}

func TestParseLevel(t *testing.T) {
	for _, l := range []Level{OK, Warning, Critical, Emergency} {
		got, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseLevel("dire")
	assert.Error(t, err)
}
