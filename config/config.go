// Package config loads the gallery configuration from TOML.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Loader   Loader   `toml:"loader"`
	Fetch    Fetch    `toml:"fetch"`
	Cache    Cache    `toml:"cache"`
	Memory   Memory   `toml:"memory"`
	Viewport Viewport `toml:"viewport"`
	Decode   Decode   `toml:"decode"`
	Server   Server   `toml:"server"`
	Log      Log      `toml:"log"`
}

type Loader struct {
	MaxConcurrent int           `toml:"max_concurrent"`
	Timeout       time.Duration `toml:"timeout"`
}

type Fetch struct {
	MaxBytes   ByteSize          `toml:"max_bytes"`
	RatePerSec float64           `toml:"rate_per_sec"`
	Burst      int               `toml:"burst"`
	Headers    map[string]string `toml:"headers"`
}

type Cache struct {
	Thumbnails int `toml:"thumbnails"`
	Colors     int `toml:"colors"`
	Full       int `toml:"full"`
	// FullPolicy is "lru" or "2q".
	FullPolicy string `toml:"full_policy"`
}

type Memory struct {
	Budget    ByteSize      `toml:"budget"`
	ArenaMax  ByteSize      `toml:"arena_max"`
	Interval  time.Duration `toml:"interval"`
	Warning   float64       `toml:"warning"`
	Critical  float64       `toml:"critical"`
	Emergency float64       `toml:"emergency"`
	// Sampler is "proc", "runtime" or "arena".
	Sampler string `toml:"sampler"`
}

type Viewport struct {
	Margin        int           `toml:"margin"`
	FarFactor     float64       `toml:"far_factor"`
	CriticalCount int           `toml:"critical_count"`
	Debounce      time.Duration `toml:"debounce"`
}

type Decode struct {
	ThumbWidth  int `toml:"thumb_width"`
	JPEGQuality int `toml:"jpeg_quality"`
}

type Server struct {
	Address      string        `toml:"address"`
	ReadTimeout  time.Duration `toml:"read_timeout"`
	WriteTimeout time.Duration `toml:"write_timeout"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads path, applies GALLERY_* environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(string(data))
}

// Parse is Load without the file.
func Parse(data string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Loader.MaxConcurrent == 0 {
		cfg.Loader.MaxConcurrent = 10
	}
	if cfg.Loader.Timeout == 0 {
		cfg.Loader.Timeout = 8 * time.Second
	}

	if cfg.Fetch.MaxBytes == 0 {
		cfg.Fetch.MaxBytes = 10 * MB
	}

	if cfg.Cache.Thumbnails == 0 {
		cfg.Cache.Thumbnails = 200
	}
	if cfg.Cache.Colors == 0 {
		cfg.Cache.Colors = 50
	}
	if cfg.Cache.Full == 0 {
		cfg.Cache.Full = 20
	}
	if strings.TrimSpace(cfg.Cache.FullPolicy) == "" {
		cfg.Cache.FullPolicy = "lru"
	}

	if cfg.Memory.Budget == 0 {
		cfg.Memory.Budget = 512 * MB
	}
	if cfg.Memory.Interval == 0 {
		cfg.Memory.Interval = 30 * time.Second
	}
	if cfg.Memory.Warning == 0 {
		cfg.Memory.Warning = 0.70
	}
	if cfg.Memory.Critical == 0 {
		cfg.Memory.Critical = 0.80
	}
	if cfg.Memory.Emergency == 0 {
		cfg.Memory.Emergency = 0.90
	}
	if strings.TrimSpace(cfg.Memory.Sampler) == "" {
		cfg.Memory.Sampler = "arena"
	}

	if cfg.Viewport.Margin == 0 {
		cfg.Viewport.Margin = 1500
	}
	if cfg.Viewport.FarFactor == 0 {
		cfg.Viewport.FarFactor = 2
	}
	if cfg.Viewport.CriticalCount == 0 {
		cfg.Viewport.CriticalCount = 4
	}
	if cfg.Viewport.Debounce == 0 {
		cfg.Viewport.Debounce = 50 * time.Millisecond
	}

	if cfg.Decode.ThumbWidth == 0 {
		cfg.Decode.ThumbWidth = 400
	}
	if cfg.Decode.JPEGQuality == 0 {
		cfg.Decode.JPEGQuality = 80
	}

	if strings.TrimSpace(cfg.Server.Address) == "" {
		cfg.Server.Address = "127.0.0.1:8090"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "text"
	}
}
