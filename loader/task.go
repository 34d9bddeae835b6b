package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IvanBrykalov/gallerycache/resource"
)

// Tier orders admission. Higher tiers are promoted first.
type Tier int

const (
	TierNormal Tier = iota
	TierHigh
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// ParseTier accepts "critical", "high" or "normal" (empty means normal).
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return TierNormal, nil
	case "high":
		return TierHigh, nil
	case "critical":
		return TierCritical, nil
	default:
		return TierNormal, fmt.Errorf("loader: unknown tier %q", s)
	}
}

// State is a task's position in its lifecycle.
type State int

const (
	StateQueued State = iota
	StateActive
	StateSucceeded
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateActive:
		return "active"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is final.
func (s State) Terminal() bool { return s >= StateSucceeded }

// Variant tells the decoder what to materialize from the fetched bytes.
type Variant uint8

const (
	// VariantThumbnail is decoded, resized and re-encoded.
	VariantThumbnail Variant = iota
	// VariantFull is validated and stored as fetched.
	VariantFull
)

func (v Variant) String() string {
	if v == VariantFull {
		return "full"
	}
	return "thumbnail"
}

// Request describes one image load.
type Request struct {
	// Key is the cache key the result is stored under. Defaults to URL and
	// is kept when the loader switches to Fallback.
	Key string
	URL string
	// Fallback is tried once, at TierHigh, if URL fails.
	Fallback string
	Tier     Tier
	Variant  Variant
}

// Result is a delivered load.
type Result struct {
	Key   string
	URL   string // the URL that was actually served
	Value resource.Value
	// Fallback is set when URL is the request's fallback source.
	Fallback bool
}

// task is owned by the Loader. All mutable fields are guarded by Loader.mu.
type task struct {
	id          string
	req         Request
	seq         uint64
	submittedAt time.Time
	fallback    bool

	state     State
	cancelled bool
	index     int // heap position while queued

	ticket *Ticket
}

// Ticket is the caller's cancellable reference to a submitted request.
// It follows the request across its fallback attempt.
type Ticket struct {
	l    *Loader
	id   string
	cur  *task // guarded by l.mu
	done chan struct{}
	once sync.Once
	res  Result
	err  error
}

// ID identifies the ticket (the first task's id).
func (t *Ticket) ID() string { return t.id }

// Done is closed once the ticket has a result or an error.
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the ticket resolves or ctx is done. Giving up on ctx
// does not cancel the request; call Cancel for that.
func (t *Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, t.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel cancels the request. See Loader.Cancel.
func (t *Ticket) Cancel() { t.l.Cancel(t) }

// State is the state of the task currently backing the ticket.
func (t *Ticket) State() State {
	t.l.mu.Lock()
	defer t.l.mu.Unlock()
	if t.cur == nil {
		return StateFailed
	}
	return t.cur.state
}

func (t *Ticket) resolve(res Result, err error) {
	t.once.Do(func() {
		t.res, t.err = res, err
		close(t.done)
	})
}
