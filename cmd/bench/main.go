// Command bench scrolls a synthetic gallery through the loader and caches
// and reports throughput, hit rate and peak concurrency. Optional pprof and
// Prometheus endpoints are served while it runs.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/gallerycache/config"
	"github.com/IvanBrykalov/gallerycache/gallery"
	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/loader"
	pmet "github.com/IvanBrykalov/gallerycache/metrics/prom"
)

const tileHeight = 300

func main() {
	// ---- Flags ----
	var (
		images      = flag.Int("images", 2000, "number of gallery entries")
		columns     = flag.Int("columns", 4, "entries per row")
		maxConc     = flag.Int("concurrency", 10, "loader slot count")
		thumbs      = flag.Int("thumbs", 200, "thumbnail cache capacity")
		policy      = flag.String("policy", "lru", "full-size cache policy: lru | 2q")
		latency     = flag.Duration("latency", 40*time.Millisecond, "mean simulated fetch latency")
		failPct     = flag.Int("fail", 2, "percentage of primary fetches that fail [0..100]")
		speed       = flag.Int("speed", 600, "scroll speed in px per tick")
		tick        = flag.Duration("tick", 16*time.Millisecond, "scroll tick")
		duration    = flag.Duration("duration", 10*time.Second, "benchmark duration")
		seed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr; empty = disabled")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	reg := prometheus.NewRegistry()
	cm := pmet.NewCacheMetrics(reg)
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			log.Printf("metrics: serving at %s", *metricsAddr)
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	// ---- Simulated origin ----
	tile := solidPNG(64, 48)
	o := &origin{tile: tile, latency: *latency, failPct: *failPct, rng: rand.New(rand.NewSource(*seed))}

	cfg := config.Default()
	cfg.Loader.MaxConcurrent = *maxConc
	cfg.Cache.Thumbnails = *thumbs
	cfg.Cache.FullPolicy = *policy
	cfg.Decode.ThumbWidth = 32

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New(level, "text", nil)
	if err != nil {
		log.Fatal(err)
	}
	g, err := gallery.New(cfg,
		gallery.WithFetcher(o),
		gallery.WithLogger(logger),
		gallery.WithInstruments(gallery.Instruments{
			Cache:    cm.For,
			Loader:   pmet.NewLoaderMetrics(reg),
			Pressure: pmet.NewPressureMetrics(reg),
		}),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = g.Close() }()

	// ---- Layout ----
	width := *columns * 250
	for i := 0; i < *images; i++ {
		r := image.Rect((i%*columns)*250, (i / *columns)*tileHeight, (i%*columns)*250+240, (i / *columns)*tileHeight+tileHeight-10)
		u := "https://origin.test/" + strconv.Itoa(i) + ".png"
		g.Track(strconv.Itoa(i), func() image.Rectangle { return r }, u,
			gallery.RequestOptions{Fallback: u + "?full=1"})
	}

	// ---- Scroll ----
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var peak atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			if a := int64(g.Stats().Active); a > peak.Load() {
				peak.Store(a)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	start := time.Now()
	rows := (*images + *columns - 1) / *columns
	bottom := rows*tileHeight - 900
	y, dir := 0, 1
	ticker := time.NewTicker(*tick)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
		y += dir * *speed
		if y >= bottom || y <= 0 {
			dir = -dir
			y = max(0, min(y, bottom))
		}
		g.UpdateViewport(image.Rect(0, y, width, y+900))
	}
	elapsed := time.Since(start)
	wg.Wait()

	// ---- Report ----
	st := g.Stats()
	fetches := o.fetches.Load()
	fmt.Printf("images=%d concurrency=%d thumbs=%d policy=%s dur=%v seed=%d\n",
		*images, *maxConc, *thumbs, *policy, elapsed.Round(time.Millisecond), *seed)
	fmt.Printf("fetches=%d (%.0f/s) failures=%d peak-active=%d (limit %d)\n",
		fetches, float64(fetches)/elapsed.Seconds(), o.failures.Load(), peak.Load(), st.MaxActive)
	fmt.Printf("viewport: loaded=%d requested=%d failed=%d idle=%d\n",
		st.Viewport.Loaded, st.Viewport.Requested, st.Viewport.Failed, st.Viewport.Idle)
	fmt.Printf("cache thumbnails=%d/%d live-handles=%d live-bytes=%d level=%s\n",
		st.Caches[gallery.CacheThumbnails].Len, st.Caches[gallery.CacheThumbnails].Cap,
		st.LiveHandles, st.LiveBytes, st.Level)
}

// origin serves one PNG for every URL after a jittered delay. Primary
// URLs fail failPct percent of the time; fallbacks always succeed.
type origin struct {
	tile    []byte
	latency time.Duration
	failPct int

	mu  sync.Mutex
	rng *rand.Rand

	fetches  atomic.Int64
	failures atomic.Int64
}

func (o *origin) Fetch(ctx context.Context, u string) ([]byte, error) {
	o.fetches.Add(1)
	o.mu.Lock()
	delay := time.Duration(o.rng.Int63n(int64(2*o.latency) + 1))
	fail := o.rng.Intn(100) < o.failPct
	o.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if fail && !strings.Contains(u, "?full=1") {
		o.failures.Add(1)
		return nil, fmt.Errorf("origin: 503 for %s", u)
	}
	return o.tile, nil
}

var _ loader.Fetcher = (*origin)(nil)

func solidPNG(w, h int) []byte {
	img := image.NewUniform(color.RGBA{R: 40, G: 120, B: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, &boundedImage{img, image.Rect(0, 0, w, h)}); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type boundedImage struct {
	*image.Uniform
	r image.Rectangle
}

func (b *boundedImage) Bounds() image.Rectangle { return b.r }
