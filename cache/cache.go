package cache

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/policy"
	"github.com/IvanBrykalov/gallerycache/policy/lru"
)

// ErrCapacityExhausted is the panic value of New when Capacity <= 0.
// A zero-capacity cache is a configuration bug, not a runtime condition.
var ErrCapacityExhausted = errors.New("cache: capacity must be > 0")

// cache keeps a key->node map and an intrusive list (head=MRU, tail=LRU).
type cache[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu     sync.Mutex
	m      map[K]*node[K, V]
	head   *node[K, V]
	tail   *node[K, V]
	len    int
	cost   int64
	closed bool

	pol policy.Instance[K, V]
	opt Options[K, V]
	log *slog.Logger
}

// New builds a cache from opt. It panics with ErrCapacityExhausted when
// opt.Capacity is not positive.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 {
		panic(ErrCapacityExhausted)
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}
	if opt.Logger == nil {
		opt.Logger = logging.Discard()
	}

	c := &cache[K, V]{
		m:   make(map[K]*node[K, V], opt.Capacity),
		opt: opt,
		log: opt.Logger.With("cache", opt.Name),
	}
	c.pol = opt.Policy.Bind(hooks[K, V]{c: c})
	return c
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.m[k]
	if !ok {
		c.opt.Metrics.Miss()
		var zero V
		return zero, false
	}
	c.pol.OnGet(n)
	c.opt.Metrics.Hit()
	return n.val, true
}

func (c *cache[K, V]) Set(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		// The cache never owned v; hand it straight back.
		c.notify(k, v, EvictCleared)
		return
	}
	cost := c.costOf(v)

	if n, ok := c.m[k]; ok {
		old := n.val
		n.val = v
		c.cost += cost - n.cost
		n.cost = cost
		c.pol.OnUpdate(n)
		if c.opt.Same == nil || !c.opt.Same(old, v) {
			c.notify(k, old, EvictReplaced)
		}
		c.enforceLimitsLocked()
		return
	}

	n := &node[K, V]{key: k, val: v, cost: cost}
	c.m[k] = n
	if victim := c.pol.OnAdd(n); victim != nil {
		c.evictNode(victim.(*node[K, V]), EvictPolicy)
	}
	c.enforceLimitsLocked()
}

func (c *cache[K, V]) Has(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[k]
	return ok
}

func (c *cache[K, V]) Delete(k K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.m[k]
	if !ok {
		return false
	}
	c.evictNode(n, EvictDeleted)
	c.opt.Metrics.Size(c.len, c.cost)
	return true
}

func (c *cache[K, V]) Evict(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.evictTailLocked(n, EvictForced)
	c.opt.Metrics.Size(c.len, c.cost)
	return evicted
}

func (c *cache[K, V]) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := c.evictTailLocked(c.len, EvictCleared)
	c.opt.Metrics.Size(c.len, c.cost)
	return evicted
}

func (c *cache[K, V]) Range(fn func(k K, v V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for n := c.head; n != nil; n = n.next {
		if !fn(n.key, n.val) {
			return
		}
	}
}

func (c *cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.len
}

func (c *cache[K, V]) Cap() int { return c.opt.Capacity }

func (c *cache[K, V]) Cost() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cost
}

func (c *cache[K, V]) Name() string { return c.opt.Name }

func (c *cache[K, V]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.evictTailLocked(c.len, EvictCleared)
	c.opt.Metrics.Size(c.len, c.cost)
	return nil
}

// -------------------- internals (mu held) --------------------

func (c *cache[K, V]) costOf(v V) int64 {
	if c.opt.Cost == nil {
		return 0
	}
	return max(c.opt.Cost(v), 0)
}

func (c *cache[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
	c.len++
	c.cost += n.cost
}

func (c *cache[K, V]) moveToFront(n *node[K, V]) {
	if n == c.head {
		return
	}
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *cache[K, V]) unlink(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if c.head == n {
		c.head = n.next
	}
	if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
	c.len--
	c.cost = max(c.cost-n.cost, 0)
}

// evictNode drops n from policy, list and map, then reports it.
func (c *cache[K, V]) evictNode(n *node[K, V], reason EvictReason) {
	c.pol.OnRemove(n)
	c.unlink(n)
	delete(c.m, n.key)
	c.notify(n.key, n.val, reason)
}

func (c *cache[K, V]) evictTailLocked(limit int, reason EvictReason) int {
	evicted := 0
	for evicted < limit && c.tail != nil {
		c.evictNode(c.tail, reason)
		evicted++
	}
	return evicted
}

// notify counts the eviction and runs OnEvict. A panicking callback is
// logged and swallowed so the surrounding loop keeps going.
func (c *cache[K, V]) notify(k K, v V, reason EvictReason) {
	c.opt.Metrics.Evict(reason)
	cb := c.opt.OnEvict
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Warn("evict callback panicked", "key", k, "reason", reason.String(), "panic", r)
		}
	}()
	cb(k, v, reason)
}

// enforceLimitsLocked evicts from the LRU end until count and cost fit.
func (c *cache[K, V]) enforceLimitsLocked() {
	for c.len > c.opt.Capacity && c.tail != nil {
		c.evictNode(c.tail, EvictCapacity)
	}
	if c.opt.MaxCost > 0 {
		for c.cost > c.opt.MaxCost && c.tail != nil {
			c.evictNode(c.tail, EvictCost)
		}
	}
	c.opt.Metrics.Size(c.len, c.cost)
}

// -------------------- policy hooks --------------------

type hooks[K comparable, V any] struct{ c *cache[K, V] }

func (h hooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.c.moveToFront(x.(*node[K, V])) }
func (h hooks[K, V]) PushFront(x policy.Node[K, V])   { h.c.insertFront(x.(*node[K, V])) }
func (h hooks[K, V]) Remove(x policy.Node[K, V])      { h.c.unlink(x.(*node[K, V])) }
func (h hooks[K, V]) Back() policy.Node[K, V] {
	if h.c.tail == nil {
		return nil
	}
	return h.c.tail
}
func (h hooks[K, V]) Len() int { return h.c.len }
