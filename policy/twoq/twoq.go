// Package twoq is a 2Q recency policy. First-time entries sit in a small
// probation queue; only entries touched again (or re-admitted shortly after
// leaving probation) reach the main list. A long scroll through images that
// are viewed once therefore cannot flush the images the user keeps returning to.
package twoq

import (
	"container/list"

	"github.com/IvanBrykalov/gallerycache/policy"
)

type instance[K comparable, V any] struct {
	h policy.Hooks[K, V]

	probationCap int
	ghostCap     int

	// probation: front is newest.
	probation *list.List
	inProb    map[policy.Node[K, V]]*list.Element

	// ghosts remember keys that fell out of probation, without values.
	ghosts  *list.List
	ghostAt map[K]*list.Element
}

type factory[K comparable, V any] struct {
	probationCap int
	ghostCap     int
}

// New returns a 2Q policy. probationCap is usually a quarter of the cache
// capacity, ghostCap half to all of it. Values below 1 are raised to 1.
func New[K comparable, V any](probationCap, ghostCap int) policy.Policy[K, V] {
	return factory[K, V]{probationCap: max(probationCap, 1), ghostCap: max(ghostCap, 1)}
}

// Bind implements policy.Policy.
func (f factory[K, V]) Bind(h policy.Hooks[K, V]) policy.Instance[K, V] {
	return &instance[K, V]{
		h:            h,
		probationCap: f.probationCap,
		ghostCap:     f.ghostCap,
		probation:    list.New(),
		inProb:       make(map[policy.Node[K, V]]*list.Element),
		ghosts:       list.New(),
		ghostAt:      make(map[K]*list.Element),
	}
}

// OnAdd admits a remembered ghost straight to the main list; anything else
// goes on probation. When probation overflows its oldest member is nominated.
func (q *instance[K, V]) OnAdd(n policy.Node[K, V]) policy.Node[K, V] {
	k := n.Key()
	if el, ok := q.ghostAt[k]; ok {
		q.ghosts.Remove(el)
		delete(q.ghostAt, k)
		q.h.PushFront(n)
		return nil
	}

	q.h.PushFront(n)
	q.inProb[n] = q.probation.PushFront(n)
	if q.probation.Len() > q.probationCap {
		if oldest := q.probation.Back(); oldest != nil {
			return oldest.Value.(policy.Node[K, V])
		}
	}
	return nil
}

// OnGet graduates n out of probation and promotes it.
func (q *instance[K, V]) OnGet(n policy.Node[K, V]) {
	if el, ok := q.inProb[n]; ok {
		q.probation.Remove(el)
		delete(q.inProb, n)
	}
	q.h.MoveToFront(n)
}

func (q *instance[K, V]) OnUpdate(n policy.Node[K, V]) { q.OnGet(n) }

// OnRemove turns a probation member into a ghost. Main-list removals leave
// no trace.
func (q *instance[K, V]) OnRemove(n policy.Node[K, V]) {
	el, ok := q.inProb[n]
	if !ok {
		return
	}
	q.probation.Remove(el)
	delete(q.inProb, n)

	k := n.Key()
	if old, ok := q.ghostAt[k]; ok {
		q.ghosts.Remove(old)
	}
	q.ghostAt[k] = q.ghosts.PushFront(k)

	for q.ghosts.Len() > q.ghostCap {
		tail := q.ghosts.Back()
		delete(q.ghostAt, tail.Value.(K))
		q.ghosts.Remove(tail)
	}
}
