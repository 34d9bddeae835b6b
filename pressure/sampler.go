package pressure

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Sample is one memory reading.
type Sample struct {
	UsedBytes  int64
	LimitBytes int64
	At         time.Time
}

// Ratio is used/limit, or 0 when no limit is known.
func (s Sample) Ratio() float64 {
	if s.LimitBytes <= 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.LimitBytes)
}

// Sampler reads current memory usage.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func(ctx context.Context) (Sample, error)

func (f SamplerFunc) Sample(ctx context.Context) (Sample, error) { return f(ctx) }

// ProcSampler reads the process resident set size from /proc. Its limit is
// the host's MemTotal unless Limit is set.
type ProcSampler struct {
	fs    procfs.FS
	Limit int64
}

// NewProcSampler opens the default /proc mount.
func NewProcSampler() (*ProcSampler, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("pressure: open procfs: %w", err)
	}
	return &ProcSampler{fs: fs}, nil
}

func (p *ProcSampler) Sample(context.Context) (Sample, error) {
	self, err := p.fs.Self()
	if err != nil {
		return Sample{}, fmt.Errorf("pressure: proc self: %w", err)
	}
	st, err := self.Stat()
	if err != nil {
		return Sample{}, fmt.Errorf("pressure: proc stat: %w", err)
	}
	s := Sample{UsedBytes: int64(st.ResidentMemory()), LimitBytes: p.Limit, At: time.Now()}
	if s.LimitBytes <= 0 {
		mi, err := p.fs.Meminfo()
		if err != nil {
			return Sample{}, fmt.Errorf("pressure: meminfo: %w", err)
		}
		if mi.MemTotal != nil {
			s.LimitBytes = int64(*mi.MemTotal) * 1024
		}
	}
	return s, nil
}

const (
	heapObjects = "/memory/classes/heap/objects:bytes"
	memLimit    = "/gc/gomemlimit:bytes"
)

// RuntimeSampler reports live Go heap bytes. Its limit is GOMEMLIMIT when
// one is set, otherwise Limit.
type RuntimeSampler struct {
	Limit int64
}

func (r RuntimeSampler) Sample(context.Context) (Sample, error) {
	ms := []metrics.Sample{{Name: heapObjects}, {Name: memLimit}}
	metrics.Read(ms)
	if ms[0].Value.Kind() != metrics.KindUint64 {
		return Sample{}, errors.New("pressure: runtime heap metric unavailable")
	}
	s := Sample{UsedBytes: int64(ms[0].Value.Uint64()), LimitBytes: r.Limit, At: time.Now()}
	if ms[1].Value.Kind() == metrics.KindUint64 {
		if lim := ms[1].Value.Uint64(); lim < math.MaxInt64 {
			s.LimitBytes = int64(lim)
		}
	}
	return s, nil
}

// Fallback returns a Sampler that tries each sampler in turn and returns
// the first successful reading.
func Fallback(samplers ...Sampler) Sampler {
	return SamplerFunc(func(ctx context.Context) (Sample, error) {
		var errs []error
		for _, s := range samplers {
			out, err := s.Sample(ctx)
			if err == nil {
				return out, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return Sample{}, errors.New("pressure: no sampler")
		}
		return Sample{}, errors.Join(errs...)
	})
}

// StaticSampler returns whatever was last Set. Safe for concurrent use.
type StaticSampler struct {
	mu   sync.Mutex
	used int64
	lim  int64
}

// NewStaticSampler starts at used/limit.
func NewStaticSampler(used, limit int64) *StaticSampler {
	return &StaticSampler{used: used, lim: limit}
}

// Set replaces the reading.
func (s *StaticSampler) Set(used, limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used, s.lim = used, limit
}

func (s *StaticSampler) Sample(context.Context) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Sample{UsedBytes: s.used, LimitBytes: s.lim, At: time.Now()}, nil
}
