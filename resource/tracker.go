package resource

import (
	"log/slog"
	"sync"

	"github.com/IvanBrykalov/gallerycache/cache"
	"github.com/IvanBrykalov/gallerycache/internal/logging"
)

// Freer performs the underlying free of a blob. *BlobStore implements it.
type Freer interface {
	Free(h Handle) error
}

// Tracker is the live set of blob handles. Every handle the decode
// pipeline mints is registered here once and released here at most once.
// A handle registered as pending is not yet owned by any cache;
// ReleaseUnreferenced leaves it alone until Settle.
// Safe for concurrent use.
type Tracker struct {
	mu   sync.Mutex
	live map[Handle]bool // value: pending

	free Freer
	log  *slog.Logger
}

// NewTracker returns a tracker that frees through f.
func NewTracker(f Freer, logger *slog.Logger) *Tracker {
	return &Tracker{
		live: make(map[Handle]bool),
		free: f,
		log:  logging.OrDiscard(logger),
	}
}

// Register adds h to the live set. Registering twice is a no-op; non-blob
// handles are ignored. It reports whether h was newly added.
func (t *Tracker) Register(h Handle) bool { return t.register(h, false) }

// RegisterPending is Register for a handle still on its way into a cache.
func (t *Tracker) RegisterPending(h Handle) bool { return t.register(h, true) }

func (t *Tracker) register(h Handle, pending bool) bool {
	if !h.IsBlob() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.live[h]; ok {
		return false
	}
	t.live[h] = pending
	return true
}

// Settle clears the pending mark of h. It is a no-op for handles that are
// not live.
func (t *Tracker) Settle(h Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.live[h]; ok {
		t.live[h] = false
	}
}

// Release frees h if it is a tracked blob handle. Untracked or already
// released handles are a no-op. h leaves the live set before the free runs,
// so it is never freed twice even when Release races with itself; a free
// error is returned but the handle stays released.
func (t *Tracker) Release(h Handle) error {
	if !h.IsBlob() {
		return nil
	}
	t.mu.Lock()
	_, ok := t.live[h]
	delete(t.live, h)
	t.mu.Unlock()

	if !ok {
		return nil
	}
	return t.free.Free(h)
}

// ReleaseAll frees every live handle, pending ones included, and empties
// the set. It returns the number of handles released. Free errors are
// logged and skipped.
func (t *Tracker) ReleaseAll() int {
	return t.releaseWhere(func(Handle, bool) bool { return true })
}

// ReleaseUnreferenced frees every settled handle for which keep returns
// false. The memory monitor uses it to drop handles no surviving cache
// entry points at.
func (t *Tracker) ReleaseUnreferenced(keep func(Handle) bool) int {
	return t.releaseWhere(func(h Handle, pending bool) bool { return !pending && !keep(h) })
}

func (t *Tracker) releaseWhere(drop func(h Handle, pending bool) bool) int {
	t.mu.Lock()
	victims := make([]Handle, 0, len(t.live))
	for h, pending := range t.live {
		if drop(h, pending) {
			victims = append(victims, h)
			delete(t.live, h)
		}
	}
	t.mu.Unlock()

	for _, h := range victims {
		if err := t.free.Free(h); err != nil {
			t.log.Warn("release failed", "handle", h.String(), "error", err)
		}
	}
	return len(victims)
}

// Contains reports whether h is live.
func (t *Tracker) Contains(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.live[h]
	return ok
}

// Live is the number of tracked handles.
func (t *Tracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// Pending is the number of live handles not yet settled.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, p := range t.live {
		if p {
			n++
		}
	}
	return n
}

// EvictFunc returns a cache OnEvict that releases handle-kind values through
// t. URL values are skipped. Release errors are logged, never raised, so a
// failing free cannot stop an eviction loop.
func EvictFunc[K comparable](t *Tracker) func(K, Value, cache.EvictReason) {
	return func(k K, v Value, reason cache.EvictReason) {
		if !v.IsHandle() {
			return
		}
		if err := t.Release(v.Handle); err != nil {
			t.log.Warn("release on evict failed",
				"key", k,
				"handle", v.Handle.String(),
				"reason", reason.String(),
				"error", err,
			)
		}
	}
}
