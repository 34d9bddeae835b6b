// Package cache provides the fixed-capacity recency cache that holds the
// gallery's working sets: resized thumbnails, synthesized solid-colour
// images and decoded full-resolution images.
//
// Design
//
//   - Storage: a map[K]*node for lookups and an intrusive MRU↔LRU doubly
//     linked list for ordering, both behind a single mutex. A single
//     partition keeps recency order global: the entry evicted on overflow
//     is always the least recently used one in the whole cache.
//
//   - Policies: ordering is delegated to the policy package. LRU is the
//     default; 2Q is available for caches that see long one-shot scans.
//
//   - Eviction: OnEvict(k, v, reason) runs exactly once for every entry that
//     leaves, whatever the cause (capacity, Evict(n), Delete, Clear, an
//     overwrite). It runs under the lock; a panic inside it is logged and
//     does not stop the loop that triggered it.
//
//   - Cost: Options.Cost/MaxCost add an optional byte budget on top of the
//     entry count.
//
// Basic usage
//
//	c := cache.New[string, resource.Value](cache.Options[string, resource.Value]{
//	    Name:     "thumbnails",
//	    Capacity: 500,
//	    OnEvict:  resource.EvictFunc[string](tracker, logger),
//	})
//	c.Set(url, v)
//	if v, ok := c.Get(url); ok {
//	    _ = v
//	}
//	c.Evict(100) // under memory pressure
package cache
