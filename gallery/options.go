package gallery

import (
	"log/slog"

	"github.com/IvanBrykalov/gallerycache/cache"
	"github.com/IvanBrykalov/gallerycache/loader"
	"github.com/IvanBrykalov/gallerycache/pressure"
)

// Instruments plugs metrics sinks into every component. Nil fields keep
// the components' no-op defaults.
type Instruments struct {
	Cache    func(name string) cache.Metrics
	Loader   loader.Metrics
	Pressure pressure.Metrics
}

type settings struct {
	fetcher     loader.Fetcher
	sampler     pressure.Sampler
	logger      *slog.Logger
	instruments Instruments
}

// Option customizes New.
type Option func(*settings)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f loader.Fetcher) Option { return func(s *settings) { s.fetcher = f } }

// WithSampler replaces the sampler chosen by memory.sampler.
func WithSampler(sm pressure.Sampler) Option { return func(s *settings) { s.sampler = sm } }

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

// WithInstruments wires metrics sinks.
func WithInstruments(i Instruments) Option { return func(s *settings) { s.instruments = i } }
