package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides applies GALLERY_[SECTION]_[KEY] variables to cfg.
func ApplyEnvOverrides(cfg *Config) error {
	e := &envApplier{}

	e.int(&cfg.Loader.MaxConcurrent, "GALLERY_LOADER_MAX_CONCURRENT")
	e.duration(&cfg.Loader.Timeout, "GALLERY_LOADER_TIMEOUT")

	e.bytes(&cfg.Fetch.MaxBytes, "GALLERY_FETCH_MAX_BYTES")
	e.float(&cfg.Fetch.RatePerSec, "GALLERY_FETCH_RATE_PER_SEC")

	e.int(&cfg.Cache.Thumbnails, "GALLERY_CACHE_THUMBNAILS")
	e.int(&cfg.Cache.Colors, "GALLERY_CACHE_COLORS")
	e.int(&cfg.Cache.Full, "GALLERY_CACHE_FULL")
	e.string(&cfg.Cache.FullPolicy, "GALLERY_CACHE_FULL_POLICY")

	e.bytes(&cfg.Memory.Budget, "GALLERY_MEMORY_BUDGET")
	e.bytes(&cfg.Memory.ArenaMax, "GALLERY_MEMORY_ARENA_MAX")
	e.duration(&cfg.Memory.Interval, "GALLERY_MEMORY_INTERVAL")
	e.string(&cfg.Memory.Sampler, "GALLERY_MEMORY_SAMPLER")

	e.string(&cfg.Server.Address, "GALLERY_SERVER_ADDRESS")

	e.string(&cfg.Log.Level, "GALLERY_LOG_LEVEL")
	e.string(&cfg.Log.Format, "GALLERY_LOG_FORMAT")

	return e.err
}

type envApplier struct {
	err error
}

func (e *envApplier) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	return os.LookupEnv(key)
}

func (e *envApplier) fail(key, val string, err error) {
	e.err = fmt.Errorf("config: env %s=%q: %w", key, val, err)
}

func (e *envApplier) string(target *string, key string) {
	if val, ok := e.lookup(key); ok {
		*target = val
	}
}

func (e *envApplier) int(target *int, key string) {
	if val, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*target = n
	}
}

func (e *envApplier) float(target *float64, key string) {
	if val, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*target = f
	}
}

func (e *envApplier) duration(target *time.Duration, key string) {
	if val, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(val)
		if err != nil {
			e.fail(key, val, err)
			return
		}
		*target = d
	}
}

func (e *envApplier) bytes(target *ByteSize, key string) {
	if val, ok := e.lookup(key); ok {
		var b ByteSize
		if err := b.UnmarshalText([]byte(val)); err != nil {
			e.fail(key, val, err)
			return
		}
		*target = b
	}
}
