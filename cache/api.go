package cache

// Cache is a fixed-capacity, recency-ordered key/value store.
// All methods are safe for concurrent use; each call runs to completion
// under one lock, so recency order is linearizable across callers.
//
// Get/Set/Has/Delete are O(1). Evict and Clear are O(n) in the number of
// entries they remove.
type Cache[K comparable, V any] interface {
	// Get returns the value for k and promotes it to most recently used.
	Get(k K) (V, bool)

	// Set inserts or overwrites k→v and promotes it. When the insert pushes
	// the cache over capacity the least recently used entry is evicted
	// (OnEvict runs before Set returns).
	Set(k K, v V)

	// Has reports presence without touching recency.
	Has(k K) bool

	// Delete removes k. OnEvict still fires, with EvictDeleted.
	Delete(k K) bool

	// Evict force-removes up to n least recently used entries regardless of
	// capacity and returns how many went.
	Evict(n int) int

	// Clear removes every entry and returns how many went.
	Clear() int

	// Range walks entries from most to least recently used without
	// promoting them. Returning false stops the walk. fn runs under the
	// cache lock and must not call back into the cache.
	Range(fn func(k K, v V) bool)

	// Len is the number of resident entries.
	Len() int

	// Cap is the configured entry capacity.
	Cap() int

	// Cost is the summed Options.Cost of resident entries.
	Cost() int64

	// Name is Options.Name; used as a label in logs and metrics.
	Name() string

	// Close clears the cache. Later writes are rejected and their values go
	// straight to OnEvict with EvictCleared.
	Close() error
}
