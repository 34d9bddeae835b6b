// Package gallery wires the caches, handle tracker, loader, viewport
// scheduler and memory monitor into one object owned by the host.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"sync"

	"github.com/IvanBrykalov/gallerycache/cache"
	"github.com/IvanBrykalov/gallerycache/config"
	"github.com/IvanBrykalov/gallerycache/decode"
	"github.com/IvanBrykalov/gallerycache/fetch"
	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/internal/singleflight"
	"github.com/IvanBrykalov/gallerycache/loader"
	"github.com/IvanBrykalov/gallerycache/policy"
	"github.com/IvanBrykalov/gallerycache/policy/twoq"
	"github.com/IvanBrykalov/gallerycache/pressure"
	"github.com/IvanBrykalov/gallerycache/resource"
	"github.com/IvanBrykalov/gallerycache/viewport"
)

// Cache names, as they appear in Statistics and metrics.
const (
	CacheThumbnails = "thumbnails"
	CacheColors     = "colors"
	CacheFull       = "full"
)

// ErrClosed is returned by calls on a closed Gallery.
var ErrClosed = errors.New("gallery: closed")

type valueCache = cache.Cache[string, resource.Value]

// RequestOptions qualify RequestImage and Track.
type RequestOptions struct {
	Fallback string
	Tier     loader.Tier
	Variant  loader.Variant
}

// CacheStats describes one cache.
type CacheStats struct {
	Len  int   `json:"len"`
	Cap  int   `json:"cap"`
	Cost int64 `json:"cost_bytes"`
}

// Statistics is a snapshot of the whole engine.
type Statistics struct {
	Caches      map[string]CacheStats `json:"caches"`
	LiveHandles int                   `json:"live_handles"`
	LiveBytes   int64                 `json:"live_bytes"`
	Active      int                   `json:"active"`
	Queued      int                   `json:"queued"`
	MaxActive   int                   `json:"max_active"`
	Paused      bool                  `json:"paused"`
	Level       string                `json:"level"`
	Viewport    viewport.Counts       `json:"viewport"`
}

// Gallery is safe for concurrent use.
type Gallery struct {
	cfg config.Config
	log *slog.Logger

	store   *resource.BlobStore
	tracker *resource.Tracker
	thumbs  valueCache
	colors  valueCache
	full    valueCache

	decoder *decode.Decoder
	loader  *loader.Loader
	sched   *viewport.Scheduler
	monitor *pressure.Monitor

	flights singleflight.Group[string, resource.Value]

	mu     sync.Mutex
	closed bool
}

// New builds a Gallery from cfg.
func New(cfg config.Config, opts ...Option) (*Gallery, error) {
	if err := config.Validate(&cfg); err != nil {
		return nil, err
	}
	var s settings
	for _, o := range opts {
		o(&s)
	}
	log := logging.OrDiscard(s.logger)

	g := &Gallery{cfg: cfg, log: log}
	g.store = resource.NewBlobStore(cfg.Memory.ArenaMax.Int64())
	g.tracker = resource.NewTracker(g.store, log)

	g.thumbs = g.newCache(CacheThumbnails, cfg.Cache.Thumbnails, nil, s.instruments)
	g.colors = g.newCache(CacheColors, cfg.Cache.Colors, nil, s.instruments)
	var fullPolicy policy.Policy[string, resource.Value]
	if strings.EqualFold(cfg.Cache.FullPolicy, "2q") {
		fullPolicy = twoq.New[string, resource.Value](cfg.Cache.Full/4, cfg.Cache.Full)
	}
	g.full = g.newCache(CacheFull, cfg.Cache.Full, fullPolicy, s.instruments)

	g.decoder = decode.New(decode.Options{
		Store:       g.store,
		Tracker:     g.tracker,
		ThumbWidth:  cfg.Decode.ThumbWidth,
		JPEGQuality: cfg.Decode.JPEGQuality,
		Logger:      log,
	})

	fetcher := s.fetcher
	if fetcher == nil {
		fetcher = fetch.New(fetch.Options{
			MaxBytes:   cfg.Fetch.MaxBytes.Int64(),
			RatePerSec: cfg.Fetch.RatePerSec,
			Burst:      cfg.Fetch.Burst,
			Headers:    cfg.Fetch.Headers,
			Logger:     log,
		})
	}
	g.loader = loader.New(loader.Options{
		MaxConcurrent: cfg.Loader.MaxConcurrent,
		Timeout:       cfg.Loader.Timeout,
		Fetcher:       fetcher,
		Decoder:       g.decoder,
		Sink:          g.sink,
		Discard:       g.discard,
		Metrics:       s.instruments.Loader,
		Logger:        log,
	})

	g.sched = viewport.New(g.loader, viewport.Options{
		Margin:        cfg.Viewport.Margin,
		FarFactor:     cfg.Viewport.FarFactor,
		CriticalCount: cfg.Viewport.CriticalCount,
		Debounce:      cfg.Viewport.Debounce,
		Cached:        func(req loader.Request) bool { return g.cacheFor(req.Variant).Has(req.Key) },
		Logger:        log,
	})

	sampler := s.sampler
	if sampler == nil {
		var err error
		if sampler, err = g.defaultSampler(); err != nil {
			return nil, err
		}
	}
	g.monitor = pressure.New(pressure.Options{
		Sampler:    sampler,
		Budget:     cfg.Memory.Budget.Int64(),
		Targets:    []pressure.Target{g.thumbs, g.colors, g.full},
		Handles:    g.tracker,
		Referenced: g.referenced,
		Interval:   cfg.Memory.Interval,
		Thresholds: pressure.Thresholds{
			Warning:   cfg.Memory.Warning,
			Critical:  cfg.Memory.Critical,
			Emergency: cfg.Memory.Emergency,
		},
		Metrics: s.instruments.Pressure,
		Logger:  log,
	})

	log.Info("gallery ready",
		"max_concurrent", cfg.Loader.MaxConcurrent,
		"budget", cfg.Memory.Budget.String(),
		"sampler", cfg.Memory.Sampler,
		"full_policy", cfg.Cache.FullPolicy)
	return g, nil
}

func (g *Gallery) newCache(name string, capacity int, pol policy.Policy[string, resource.Value], ins Instruments) valueCache {
	var m cache.Metrics
	if ins.Cache != nil {
		m = ins.Cache(name)
	}
	return cache.New(cache.Options[string, resource.Value]{
		Name:     name,
		Capacity: capacity,
		Policy:   pol,
		Cost:     resource.ValueCost,
		OnEvict:  resource.EvictFunc[string](g.tracker),
		Same:     resource.SameValue,
		Metrics:  m,
		Logger:   g.log,
	})
}

func (g *Gallery) defaultSampler() (pressure.Sampler, error) {
	switch strings.ToLower(g.cfg.Memory.Sampler) {
	case "proc":
		ps, err := pressure.NewProcSampler()
		if err != nil {
			g.log.Warn("procfs unavailable, sampling the Go heap instead", "error", err)
			return pressure.RuntimeSampler{}, nil
		}
		return pressure.Fallback(ps, pressure.RuntimeSampler{}), nil
	case "runtime":
		return pressure.RuntimeSampler{}, nil
	case "arena":
		return pressure.SamplerFunc(func(context.Context) (pressure.Sample, error) {
			return pressure.Sample{UsedBytes: g.store.Bytes()}, nil
		}), nil
	}
	return nil, fmt.Errorf("gallery: unknown sampler %q", g.cfg.Memory.Sampler)
}

func (g *Gallery) cacheFor(v loader.Variant) valueCache {
	if v == loader.VariantFull {
		return g.full
	}
	return g.thumbs
}

// sink stores every decoded value, including those of cancelled tickets.
// The handle stays pending until the cache holds it.
func (g *Gallery) sink(req loader.Request, v resource.Value) {
	g.cacheFor(req.Variant).Set(req.Key, v)
	g.tracker.Settle(v.Handle)
}

func (g *Gallery) discard(v resource.Value) {
	if err := g.tracker.Release(v.Handle); err != nil {
		g.log.Warn("release of late result failed", "handle", v.Handle.String(), "error", err)
	}
}

// referenced yields every handle a cache entry points at.
func (g *Gallery) referenced(yield func(resource.Handle)) {
	for _, c := range []valueCache{g.thumbs, g.colors, g.full} {
		c.Range(func(_ string, v resource.Value) bool {
			if v.IsHandle() {
				yield(v.Handle)
			}
			return true
		})
	}
}

// lookup is Get that treats an entry whose handle was already released as a miss.
func (g *Gallery) lookup(c valueCache, key string) (resource.Value, bool) {
	v, ok := c.Get(key)
	if !ok {
		return resource.Value{}, false
	}
	if v.IsHandle() && !g.tracker.Contains(v.Handle) {
		c.Delete(key)
		return resource.Value{}, false
	}
	return v, true
}

func (g *Gallery) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// RequestImage returns the cached value for url or loads it. Concurrent
// requests for the same image share one load. A caller whose ctx ends gets
// ctx.Err(); the load itself is cancelled only once every caller waiting
// on it has gone, and a decode already under way still lands in the cache.
func (g *Gallery) RequestImage(ctx context.Context, url string, opt RequestOptions) (resource.Value, error) {
	if g.isClosed() {
		return resource.Value{}, ErrClosed
	}
	c := g.cacheFor(opt.Variant)
	if v, ok := g.lookup(c, url); ok {
		return v, nil
	}

	flight := opt.Variant.String() + "|" + url
	return g.flights.Do(ctx, flight, func(ctx context.Context) (resource.Value, error) {
		// A flight that just finished may have filled the cache.
		if c.Has(url) {
			if v, ok := g.lookup(c, url); ok {
				return v, nil
			}
		}
		tk := g.loader.Submit(loader.Request{
			Key:      url,
			URL:      url,
			Fallback: opt.Fallback,
			Tier:     opt.Tier,
			Variant:  opt.Variant,
		})
		res, err := tk.Wait(ctx)
		if err != nil {
			if ctx.Err() != nil {
				tk.Cancel()
			}
			return resource.Value{}, err
		}
		return res.Value, nil
	})
}

// SolidColor returns a w×h PNG of the colour hex, cached per colour and size.
func (g *Gallery) SolidColor(hex string, w, h int) (resource.Value, error) {
	if g.isClosed() {
		return resource.Value{}, ErrClosed
	}
	c, err := decode.ParseHex(hex)
	if err != nil {
		return resource.Value{}, err
	}
	key := fmt.Sprintf("#%02x%02x%02x%02x@%dx%d", c.R, c.G, c.B, c.A, w, h)
	if v, ok := g.lookup(g.colors, key); ok {
		return v, nil
	}
	v, err := g.decoder.SolidColor(c, w, h)
	if err != nil {
		return resource.Value{}, err
	}
	g.colors.Set(key, v)
	g.tracker.Settle(v.Handle)
	return v, nil
}

// Read returns the bytes behind a handle value.
func (g *Gallery) Read(v resource.Value) ([]byte, error) {
	if !v.IsHandle() {
		return nil, resource.ErrUnknownHandle
	}
	return g.store.Read(v.Handle)
}

// Track registers a gallery element for viewport scheduling.
func (g *Gallery) Track(id string, bounds viewport.BoundsFunc, url string, opt RequestOptions) {
	g.sched.Track(id, bounds, loader.Request{Key: url, URL: url, Fallback: opt.Fallback, Variant: opt.Variant})
}

// Untrack removes an element and withdraws its queued request.
func (g *Gallery) Untrack(id string) { g.sched.Untrack(id) }

// UpdateViewport reports a scroll, resize or layout change. Passes are debounced.
func (g *Gallery) UpdateViewport(vp image.Rectangle) { g.sched.Notify(vp) }

// RecomputeViewport runs a scheduling pass now and returns the number of submissions.
func (g *Gallery) RecomputeViewport(vp image.Rectangle) int { return g.sched.Recompute(vp) }

// CancelAllPending cancels every queued and running load.
func (g *Gallery) CancelAllPending() int {
	n := g.loader.CancelAll()
	g.sched.Reset()
	return n
}

// Stats snapshots caches, handles, loader and pressure state.
func (g *Gallery) Stats() Statistics {
	ls := g.loader.Stats()
	st := Statistics{
		Caches:      make(map[string]CacheStats, 3),
		LiveHandles: g.tracker.Live(),
		LiveBytes:   g.store.Bytes(),
		Active:      ls.Active,
		Queued:      ls.Queued,
		MaxActive:   ls.Max,
		Paused:      ls.Paused,
		Level:       g.monitor.Level().String(),
		Viewport:    g.sched.Counts(),
	}
	for _, c := range []valueCache{g.thumbs, g.colors, g.full} {
		st.Caches[c.Name()] = CacheStats{Len: c.Len(), Cap: c.Cap(), Cost: c.Cost()}
	}
	return st
}

// ForceCleanup runs the warning-level cleanup, or the critical-level one
// when aggressive is set.
func (g *Gallery) ForceCleanup(aggressive bool) pressure.Report {
	level := pressure.Warning
	if aggressive {
		level = pressure.Critical
	}
	return g.monitor.Cleanup(level)
}

// ApplySample classifies an externally measured sample and reacts to it.
func (g *Gallery) ApplySample(s pressure.Sample) pressure.Report { return g.monitor.Apply(s) }

// OnPressureChange registers fn for pressure level changes.
func (g *Gallery) OnPressureChange(fn func(old, new pressure.Level)) func() {
	return g.monitor.Subscribe(fn)
}

// SetVisible pauses loading and sampling while the host is hidden.
func (g *Gallery) SetVisible(visible bool) {
	if visible {
		g.loader.Resume()
	} else {
		g.loader.Pause()
	}
	g.monitor.SetVisible(visible)
}

// Run drives memory sampling until ctx is done.
func (g *Gallery) Run(ctx context.Context) error { return g.monitor.Run(ctx) }

// Close stops scheduling and loading, empties every cache and releases any
// handle still live.
func (g *Gallery) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	g.mu.Unlock()

	g.sched.Close()
	err := g.loader.Close()
	for _, c := range []valueCache{g.thumbs, g.colors, g.full} {
		err = errors.Join(err, c.Close())
	}
	if n := g.tracker.ReleaseAll(); n > 0 {
		g.log.Warn("released handles left outside caches", "count", n)
	}
	return err
}
