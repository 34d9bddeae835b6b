package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
)

// Validate checks cfg after defaults were applied and reports every problem.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if cfg.Loader.MaxConcurrent < 1 {
		add("loader.max_concurrent must be >= 1, got %d", cfg.Loader.MaxConcurrent)
	}
	if cfg.Loader.Timeout < 0 {
		add("loader.timeout must not be negative")
	}

	if cfg.Fetch.MaxBytes < 0 {
		add("fetch.max_bytes must not be negative")
	}
	if cfg.Fetch.RatePerSec < 0 {
		add("fetch.rate_per_sec must not be negative")
	}

	for name, n := range map[string]int{"thumbnails": cfg.Cache.Thumbnails, "colors": cfg.Cache.Colors, "full": cfg.Cache.Full} {
		if n < 1 {
			add("cache.%s must be >= 1, got %d", name, n)
		}
	}
	switch strings.ToLower(cfg.Cache.FullPolicy) {
	case "lru", "2q":
	default:
		add("cache.full_policy must be one of: lru, 2q")
	}

	m := cfg.Memory
	if m.Budget < 0 || m.ArenaMax < 0 {
		add("memory sizes must not be negative")
	}
	if !(0 < m.Warning && m.Warning < m.Critical && m.Critical < m.Emergency && m.Emergency <= 1) {
		add("memory thresholds must satisfy 0 < warning < critical < emergency <= 1, got %.2f/%.2f/%.2f",
			m.Warning, m.Critical, m.Emergency)
	}
	switch strings.ToLower(m.Sampler) {
	case "proc", "runtime", "arena":
	default:
		add("memory.sampler must be one of: proc, runtime, arena")
	}

	if cfg.Viewport.Margin < 0 || cfg.Viewport.FarFactor < 0 || cfg.Viewport.CriticalCount < 0 {
		add("viewport values must not be negative")
	}

	if cfg.Decode.JPEGQuality < 1 || cfg.Decode.JPEGQuality > 100 {
		add("decode.jpeg_quality must be in [1,100], got %d", cfg.Decode.JPEGQuality)
	}
	if cfg.Decode.ThumbWidth < 1 {
		add("decode.thumb_width must be >= 1")
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		add("server.address: %v", err)
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		add("log.format must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
