package cache

// node is one resident entry, linked into the cache's MRU↔LRU list.
type node[K comparable, V any] struct {
	key  K
	val  V
	cost int64

	prev *node[K, V] // towards MRU
	next *node[K, V] // towards LRU
}

// Key implements policy.Node.
func (n *node[K, V]) Key() K { return n.key }

// Value implements policy.Node. Only valid while the cache lock is held.
func (n *node[K, V]) Value() *V { return &n.val }
