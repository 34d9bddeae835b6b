// Package policy defines the contract between a cache and its recency policy.
//
// The cache owns the key->node map and an intrusive MRU/LRU list. A policy
// never touches the map; it reorders the list through Hooks and may nominate
// a victim on admission.
package policy

// Node is the view of a cache entry a policy is allowed to see.
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
}

// Hooks are the O(1) list primitives the cache lends to its policy.
// Every call happens with the cache lock held.
type Hooks[K comparable, V any] interface {
	// MoveToFront marks n as most recently used.
	MoveToFront(n Node[K, V])
	// PushFront links a freshly admitted node at the MRU end.
	PushFront(n Node[K, V])
	// Remove unlinks n from the list. The cache drops the map entry itself.
	Remove(n Node[K, V])
	// Back is the least recently used node, or nil when empty.
	Back() Node[K, V]
	// Len is the number of linked nodes.
	Len() int
}

// Instance is a policy bound to one cache's hooks.
//
//   - OnAdd may return a victim; the cache evicts it and then calls OnRemove for it.
//   - OnGet and OnUpdate promote.
//   - OnRemove lets the policy forget n (or remember it as a ghost).
type Instance[K comparable, V any] interface {
	OnAdd(n Node[K, V]) (victim Node[K, V])
	OnGet(n Node[K, V])
	OnUpdate(n Node[K, V])
	OnRemove(n Node[K, V])
}

// Policy builds an Instance for a cache.
type Policy[K comparable, V any] interface {
	Bind(h Hooks[K, V]) Instance[K, V]
}
