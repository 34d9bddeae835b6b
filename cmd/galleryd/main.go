// Command galleryd serves the gallery image engine over HTTP: images and
// thumbnails through the bounded loader, cache statistics, manual cleanup,
// visibility control and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/gallerycache/config"
	"github.com/IvanBrykalov/gallerycache/gallery"
	"github.com/IvanBrykalov/gallerycache/internal/logging"
	pmet "github.com/IvanBrykalov/gallerycache/metrics/prom"
	"github.com/IvanBrykalov/gallerycache/pressure"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "galleryd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a TOML config file (defaults apply when empty)")
		addr       = flag.String("addr", "", "listen address, overrides server.address")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	cacheMetrics := pmet.NewCacheMetrics(reg)

	g, err := gallery.New(cfg,
		gallery.WithLogger(log),
		gallery.WithInstruments(gallery.Instruments{
			Cache:    cacheMetrics.For,
			Loader:   pmet.NewLoaderMetrics(reg),
			Pressure: pmet.NewPressureMetrics(reg),
		}),
	)
	if err != nil {
		return err
	}
	defer func() { _ = g.Close() }()

	g.OnPressureChange(func(old, new pressure.Level) {
		if new >= pressure.Critical {
			log.Warn("memory pressure", "from", old.String(), "to", new.String())
		}
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      newRouter(g, reg, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
