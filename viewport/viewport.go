// Package viewport decides which tracked images to load, and how urgently,
// from their geometry relative to the visible area.
//
// Entries that come within Margin pixels of the viewport are submitted to
// the loader, nearest first. The nearest CriticalCount visible entries are
// submitted at critical tier, the remaining visible ones at high and the
// margin-only ones at normal. When an entry drifts farther than FarFactor
// viewport heights away, its request is withdrawn if it has not started.
package viewport

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/loader"
)

const (
	DefaultMargin        = 1500
	DefaultFarFactor     = 2.0
	DefaultCriticalCount = 4
	DefaultDebounce      = 50 * time.Millisecond
)

// Submitter is the part of *loader.Loader the scheduler drives.
type Submitter interface {
	Submit(req loader.Request) *loader.Ticket
	CancelQueued(t *loader.Ticket) bool
}

// BoundsFunc reports an element's current layout rectangle.
type BoundsFunc func() image.Rectangle

// Options configures a Scheduler.
type Options struct {
	// Margin expands the viewport on every side (default 1500px).
	Margin int
	// FarFactor, in viewport heights, is the distance beyond which queued
	// requests are withdrawn (default 2).
	FarFactor float64
	// CriticalCount visible entries closest to the viewport centre get
	// critical tier (default 4).
	CriticalCount int
	// Debounce coalesces Notify calls (default 50ms).
	Debounce time.Duration
	// Cached, if set, short-circuits entries whose request is already
	// satisfied; they go straight to loaded. Loaded entries in the region
	// that it no longer reports are requested again.
	Cached func(req loader.Request) bool
	// OnLoaded is called once per finished request, outside any lock.
	OnLoaded func(id string, res loader.Result, err error)
	Logger   *slog.Logger
}

// EntryState is the load state of a tracked element.
type EntryState int

const (
	Idle EntryState = iota
	Requested
	Loaded
	Failed
)

func (s EntryState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Requested:
		return "requested"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Counts tallies tracked entries by state.
type Counts struct {
	Idle, Requested, Loaded, Failed int
}

// Total is the number of tracked entries.
func (c Counts) Total() int { return c.Idle + c.Requested + c.Loaded + c.Failed }

type entry struct {
	id       string
	bounds   BoundsFunc
	req      loader.Request
	state    EntryState
	ticket   *loader.Ticket
	inRegion bool
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	sub Submitter
	opt Options
	log *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	pending image.Rectangle
	timer   *time.Timer
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New returns a Scheduler feeding sub.
func New(sub Submitter, opt Options) *Scheduler {
	if opt.Margin <= 0 {
		opt.Margin = DefaultMargin
	}
	if opt.FarFactor <= 0 {
		opt.FarFactor = DefaultFarFactor
	}
	if opt.CriticalCount <= 0 {
		opt.CriticalCount = DefaultCriticalCount
	}
	if opt.Debounce <= 0 {
		opt.Debounce = DefaultDebounce
	}
	return &Scheduler{
		sub:     sub,
		opt:     opt,
		log:     logging.OrDiscard(opt.Logger),
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
}

// Track starts observing id. Tracking an existing id replaces its geometry
// and request but keeps its state.
func (s *Scheduler) Track(id string, bounds BoundsFunc, req loader.Request) {
	if req.Key == "" {
		req.Key = req.URL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.bounds, e.req = bounds, req
		return
	}
	s.entries[id] = &entry{id: id, bounds: bounds, req: req}
}

// Untrack stops observing id and withdraws its request if still queued.
func (s *Scheduler) Untrack(id string) {
	s.mu.Lock()
	var tk *loader.Ticket
	if e, ok := s.entries[id]; ok {
		tk = e.ticket
		e.ticket = nil
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if tk != nil {
		s.sub.CancelQueued(tk)
	}
}

// State reports id's load state.
func (s *Scheduler) State(id string) (EntryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Idle, false
	}
	return e.state, true
}

// Counts tallies the tracked entries by state.
func (s *Scheduler) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	for _, e := range s.entries {
		switch e.state {
		case Idle:
			c.Idle++
		case Requested:
			c.Requested++
		case Loaded:
			c.Loaded++
		case Failed:
			c.Failed++
		}
	}
	return c
}

// Reset forgets outstanding requests so the next pass may resubmit them.
// Call it after the loader's pending work was cancelled wholesale.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.state == Requested {
			e.state, e.ticket = Idle, nil
		}
	}
}

// Notify schedules a Recompute for vp after the debounce window. Bursts of
// calls collapse into one pass using the latest viewport.
func (s *Scheduler) Notify(vp image.Rectangle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = vp
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opt.Debounce, s.flush)
}

func (s *Scheduler) flush() {
	s.mu.Lock()
	vp := s.pending
	s.timer = nil
	closed := s.closed
	s.mu.Unlock()

	if !closed {
		s.Recompute(vp)
	}
}

type candidate struct {
	e       *entry
	dist    float64
	visible bool
}

// Recompute runs one synchronous scheduling pass against vp and returns the
// number of requests submitted.
func (s *Scheduler) Recompute(vp image.Rectangle) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || vp.Empty() {
		return 0
	}

	region := vp.Inset(-s.opt.Margin)
	far := s.opt.FarFactor * float64(vp.Dy())
	centre := midpoint(vp)

	var cands []candidate
	withdrawn := 0
	for _, e := range s.entries {
		b := e.bounds()
		in := b.Overlaps(region)
		if !in {
			// The cache may drop a loaded image while it is off screen.
			if e.state == Failed || e.state == Loaded {
				e.state = Idle
			}
			if e.state == Requested && gap(b, vp) > far && s.sub.CancelQueued(e.ticket) {
				e.state, e.ticket = Idle, nil
				withdrawn++
			}
		}
		e.inRegion = in
		if in && e.state == Loaded && s.opt.Cached != nil && !s.opt.Cached(e.req) {
			e.state = Idle
		}
		if in && e.state == Idle {
			cands = append(cands, candidate{e: e, dist: dist(midpoint(b), centre), visible: b.Overlaps(vp)})
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].e.id < cands[j].e.id
	})

	critical := 0
	for _, c := range cands {
		req := c.e.req
		switch {
		case c.visible && critical < s.opt.CriticalCount:
			req.Tier = loader.TierCritical
			critical++
		case c.visible:
			req.Tier = loader.TierHigh
		default:
			req.Tier = loader.TierNormal
		}
		if s.opt.Cached != nil && s.opt.Cached(req) {
			c.e.state = Loaded
			continue
		}
		tk := s.sub.Submit(req)
		c.e.state, c.e.ticket = Requested, tk
		s.wg.Add(1)
		go s.await(c.e, tk)
	}

	if len(cands) > 0 || withdrawn > 0 {
		s.log.Debug("viewport pass", "submitted", len(cands), "withdrawn", withdrawn, "tracked", len(s.entries))
	}
	return len(cands)
}

// await records the outcome of tk on e.
func (s *Scheduler) await(e *entry, tk *loader.Ticket) {
	defer s.wg.Done()
	select {
	case <-tk.Done():
	case <-s.done:
		return
	}
	res, err := tk.Wait(context.Background())

	s.mu.Lock()
	if e.ticket != tk {
		s.mu.Unlock()
		return
	}
	e.ticket = nil
	switch {
	case err == nil:
		e.state = Loaded
	case errors.Is(err, loader.ErrCancelled), errors.Is(err, loader.ErrClosed):
		e.state = Idle
	default:
		e.state = Failed
	}
	s.mu.Unlock()

	if s.opt.OnLoaded != nil {
		s.opt.OnLoaded(e.id, res, err)
	}
}

// Close stops the debounce timer and the result watchers. Outstanding
// requests are left to the loader.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

func midpoint(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

func dist(a, b image.Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// gap is the shortest distance between r and vp; zero when they overlap.
func gap(r, vp image.Rectangle) float64 {
	dx := max(0, vp.Min.X-r.Max.X, r.Min.X-vp.Max.X)
	dy := max(0, vp.Min.Y-r.Max.Y, r.Min.Y-vp.Max.Y)
	return math.Hypot(float64(dx), float64(dy))
}
