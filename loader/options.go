package loader

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/IvanBrykalov/gallerycache/resource"
)

const (
	// DefaultMaxConcurrent is the slot count when Options.MaxConcurrent is 0.
	DefaultMaxConcurrent = 10
	// DefaultTimeout is the per-task deadline when Options.Timeout is 0.
	DefaultTimeout = 8 * time.Second
)

// Fetcher retrieves the raw bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f FetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// Decoder turns fetched bytes into a cacheable value (usually a blob handle).
type Decoder interface {
	Decode(ctx context.Context, req Request, data []byte) (resource.Value, error)
}

// DecodeFunc adapts a function to Decoder.
type DecodeFunc func(ctx context.Context, req Request, data []byte) (resource.Value, error)

func (f DecodeFunc) Decode(ctx context.Context, req Request, data []byte) (resource.Value, error) {
	return f(ctx, req, data)
}

// Metrics receives loader signals. NoopMetrics is the default.
type Metrics interface {
	Submitted(tier Tier)
	Finished(state State, elapsed time.Duration)
	Fallback()
	Depth(active, queued int)
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) Submitted(Tier)               {}
func (NoopMetrics) Finished(State, time.Duration) {}
func (NoopMetrics) Fallback()                    {}
func (NoopMetrics) Depth(int, int)               {}

// Options configures a Loader. Fetcher and Decoder are required.
type Options struct {
	// MaxConcurrent bounds the number of active tasks (default 10).
	MaxConcurrent int
	// Timeout bounds each task from start to decode completion (default 8s).
	Timeout time.Duration

	Fetcher Fetcher
	Decoder Decoder

	// Sink receives every successfully decoded value, including values of
	// tasks cancelled while running. Typically it stores into a cache.
	Sink func(req Request, v resource.Value)
	// Discard receives values nobody will own: results that arrive after
	// their deadline, or decoded values when Sink is nil and the ticket was
	// cancelled. Typically it releases the handle.
	Discard func(v resource.Value)

	Metrics Metrics
	Logger  *slog.Logger
	// Tracer spans each task. nil uses the global OpenTelemetry provider.
	Tracer trace.Tracer
}
