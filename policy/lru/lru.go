// Package lru is plain move-to-front recency: the least recently used
// entry is always the list tail.
package lru

import "github.com/IvanBrykalov/gallerycache/policy"

type instance[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type factory[K comparable, V any] struct{}

// New returns the LRU policy. A cache with a nil Policy uses it.
func New[K comparable, V any]() policy.Policy[K, V] { return factory[K, V]{} }

// Bind implements policy.Policy.
func (factory[K, V]) Bind(h policy.Hooks[K, V]) policy.Instance[K, V] {
	return &instance[K, V]{h: h}
}

// OnAdd links n at MRU. Capacity is enforced by the cache, so LRU never
// nominates a victim here.
func (p *instance[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	p.h.PushFront(n)
	return nil
}

func (p *instance[K, V]) OnGet(n policy.Node[K, V]) { p.h.MoveToFront(n) }

// OnUpdate treats an overwrite as a use.
func (p *instance[K, V]) OnUpdate(n policy.Node[K, V]) { p.h.MoveToFront(n) }

func (p *instance[K, V]) OnRemove(policy.Node[K, V]) {}
