package cache

import (
	"log/slog"

	"github.com/IvanBrykalov/gallerycache/policy"
)

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity: the entry was the LRU tail when an insert overflowed Capacity.
	EvictCapacity EvictReason = iota
	// EvictPolicy: the policy nominated it on admission (2Q probation overflow).
	EvictPolicy
	// EvictCost: removed to get back under MaxCost.
	EvictCost
	// EvictForced: removed by Evict(n), typically under memory pressure.
	EvictForced
	// EvictDeleted: removed by Delete.
	EvictDeleted
	// EvictCleared: removed by Clear or Close.
	EvictCleared
	// EvictReplaced: the previous value of a key overwritten by Set.
	EvictReplaced
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictPolicy:
		return "policy"
	case EvictCost:
		return "cost"
	case EvictForced:
		return "forced"
	case EvictDeleted:
		return "deleted"
	case EvictCleared:
		return "cleared"
	case EvictReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Metrics receives cache-level signals. NoopMetrics is the default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
}

// Options configures a cache. Only Capacity is required:
//   - nil Policy  => LRU
//   - nil Metrics => NoopMetrics
//   - nil Logger  => discard
type Options[K comparable, V any] struct {
	// Name identifies the cache in logs, metrics and pressure reports.
	Name string

	// Capacity is the entry limit. New panics with ErrCapacityExhausted if it is not positive.
	Capacity int

	// Policy orders entries for eviction; nil means LRU.
	Policy policy.Policy[K, V]

	// Cost weighs a value (e.g. bytes). With MaxCost > 0 the cache also
	// evicts until the summed cost fits.
	Cost    func(v V) int64
	MaxCost int64

	// OnEvict fires exactly once for every entry that leaves the cache.
	// It runs under the cache lock: it must not call back into the same
	// cache. A panic inside it is recovered and logged.
	OnEvict func(k K, v V, reason EvictReason)

	// Same reports whether an overwrite keeps the stored value. When it
	// returns false (or is nil) the old value is passed to OnEvict with
	// EvictReplaced.
	Same func(a, b V) bool

	Metrics Metrics
	Logger  *slog.Logger
}
