// Package pressure samples memory usage, classifies it into levels and
// reclaims cache entries and blob handles as the level rises.
package pressure

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/resource"
)

// DefaultInterval is the sampling period when Options.Interval is 0.
const DefaultInterval = 30 * time.Second

// Target is a cache the monitor can shrink. cache.Cache satisfies it.
type Target interface {
	Name() string
	Len() int
	Cap() int
	Evict(n int) int
	Clear() int
}

// Handles is the handle tracker. *resource.Tracker satisfies it.
type Handles interface {
	ReleaseUnreferenced(keep func(resource.Handle) bool) int
	ReleaseAll() int
	Live() int
}

// Metrics receives monitor signals. NoopMetrics is the default.
type Metrics interface {
	Sampled(level Level, ratio float64)
	Acted(action Action, n int)
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) Sampled(Level, float64) {}
func (NoopMetrics) Acted(Action, int)      {}

// Options configures a Monitor.
type Options struct {
	Sampler Sampler
	// Budget, when positive, replaces the sampler's limit.
	Budget  int64
	Targets []Target
	Handles Handles
	// Referenced yields every handle still held by a surviving cache entry.
	// Handles it does not yield are released at critical level.
	Referenced func(yield func(resource.Handle))
	Interval   time.Duration
	// Thresholds defaults to DefaultThresholds.
	Thresholds Thresholds
	Metrics    Metrics
	Logger     *slog.Logger
}

// Report describes one classification and the cleanup it caused.
type Report struct {
	Level    Level
	Previous Level
	Sample   Sample
	Actions  []Action
	// Evicted counts entries removed per target name.
	Evicted  map[string]int
	Released int
}

// Sizes is the entry count per target.
type Sizes map[string]int

// Monitor is safe for concurrent use.
type Monitor struct {
	opt Options
	log *slog.Logger

	act sync.Mutex // serializes cleanup passes

	mu      sync.Mutex
	level   Level
	last    Sample
	visible bool
	subs    map[int]func(old, new Level)
	nextSub int

	wake chan struct{}
}

// New returns a Monitor in the OK state, visible.
func New(opt Options) *Monitor {
	if opt.Interval <= 0 {
		opt.Interval = DefaultInterval
	}
	if !opt.Thresholds.valid() {
		opt.Thresholds = DefaultThresholds
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	return &Monitor{
		opt:     opt,
		log:     logging.OrDiscard(opt.Logger),
		visible: true,
		subs:    make(map[int]func(old, new Level)),
		wake:    make(chan struct{}, 1),
	}
}

// Level is the level of the most recent sample.
func (m *Monitor) Level() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Last is the most recent sample.
func (m *Monitor) Last() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Sizes reports the entry count of every target.
func (m *Monitor) Sizes() Sizes {
	out := make(Sizes, len(m.opt.Targets))
	for _, t := range m.opt.Targets {
		out[t.Name()] = t.Len()
	}
	return out
}

// Subscribe registers fn for level changes. fn runs on the sampling
// goroutine after cleanup. The returned func unsubscribes.
func (m *Monitor) Subscribe(fn func(old, new Level)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Apply classifies s, runs the cleanup for its level and notifies
// subscribers if the level changed.
func (m *Monitor) Apply(s Sample) Report {
	if m.opt.Budget > 0 {
		s.LimitBytes = m.opt.Budget
	}
	level := m.opt.Thresholds.Classify(s.Ratio())
	m.opt.Metrics.Sampled(level, s.Ratio())

	rep := m.cleanup(level)
	rep.Sample = s

	m.mu.Lock()
	rep.Previous = m.level
	m.level, m.last = level, s
	var subs []func(old, new Level)
	if rep.Previous != level {
		for _, fn := range m.subs {
			subs = append(subs, fn)
		}
	}
	m.mu.Unlock()

	if rep.Previous != level {
		m.log.Info("memory pressure changed",
			"from", rep.Previous.String(), "to", level.String(),
			"used", s.UsedBytes, "limit", s.LimitBytes, "ratio", math.Round(s.Ratio()*1000)/1000)
		for _, fn := range subs {
			m.notify(fn, rep.Previous, level)
		}
	}
	return rep
}

// Cleanup runs the actions of level without sampling and without changing
// the monitor's level.
func (m *Monitor) Cleanup(level Level) Report {
	rep := m.cleanup(level)
	rep.Previous = m.Level()
	return rep
}

// Tick samples once and applies the result.
func (m *Monitor) Tick(ctx context.Context) (Report, error) {
	s, err := m.opt.Sampler.Sample(ctx)
	if err != nil {
		return Report{}, err
	}
	if s.At.IsZero() {
		s.At = time.Now()
	}
	return m.Apply(s), nil
}

// SetVisible suspends sampling while hidden. Becoming visible again
// samples immediately.
func (m *Monitor) SetVisible(v bool) {
	m.mu.Lock()
	was := m.visible
	m.visible = v
	m.mu.Unlock()
	if v && !was {
		m.Trigger()
	}
}

// Visible reports whether sampling is active.
func (m *Monitor) Visible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// Trigger requests a sample from the Run loop without waiting for it.
func (m *Monitor) Trigger() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run samples every Interval while visible, and whenever triggered, until
// ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.opt.Sampler == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(m.opt.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if m.Visible() {
				m.tick(ctx)
			}
		case <-m.wake:
			if m.Visible() {
				m.tick(ctx)
			}
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if _, err := m.Tick(ctx); err != nil {
		m.log.Warn("memory sample failed", "error", err)
	}
}

func (m *Monitor) cleanup(level Level) Report {
	m.act.Lock()
	defer m.act.Unlock()

	rep := Report{Level: level, Evicted: make(map[string]int)}
	for _, a := range Actions(level) {
		n := m.run(a, rep.Evicted)
		if a == ActionReleaseUnreferenced || a == ActionReleaseAll {
			rep.Released += n
		}
		rep.Actions = append(rep.Actions, a)
		m.opt.Metrics.Acted(a, n)
	}
	if len(rep.Actions) > 0 {
		m.log.Debug("memory cleanup", "level", level.String(), "evicted", rep.Evicted, "released", rep.Released)
	}
	return rep
}

func (m *Monitor) run(a Action, evicted map[string]int) int {
	total := 0
	switch a {
	case ActionSoftTrim:
		for _, t := range m.opt.Targets {
			if excess := t.Len() - t.Cap()/2; excess > 0 {
				n := t.Evict((excess + 1) / 2)
				evicted[t.Name()] += n
				total += n
			}
		}
	case ActionAggressiveEvict:
		for _, t := range m.opt.Targets {
			if l := t.Len(); l > 0 {
				n := t.Evict(int(math.Ceil(float64(l) * 0.8)))
				evicted[t.Name()] += n
				total += n
			}
		}
	case ActionFullClear:
		for _, t := range m.opt.Targets {
			n := t.Clear()
			evicted[t.Name()] += n
			total += n
		}
	case ActionReleaseUnreferenced:
		if m.opt.Handles == nil {
			return 0
		}
		keep := make(map[resource.Handle]struct{})
		if m.opt.Referenced != nil {
			m.opt.Referenced(func(h resource.Handle) { keep[h] = struct{}{} })
		}
		total = m.opt.Handles.ReleaseUnreferenced(func(h resource.Handle) bool {
			_, ok := keep[h]
			return ok
		})
	case ActionReleaseAll:
		if m.opt.Handles != nil {
			total = m.opt.Handles.ReleaseAll()
		}
	}
	return total
}

func (m *Monitor) notify(fn func(old, new Level), old, new Level) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Warn("pressure observer panicked", "panic", r)
		}
	}()
	fn(old, new)
}
