package loader

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/IvanBrykalov/gallerycache/internal/logging"
	"github.com/IvanBrykalov/gallerycache/resource"
)

const tracerName = "github.com/IvanBrykalov/gallerycache/loader"

// Loader runs at most MaxConcurrent load tasks and queues the rest by tier.
// Safe for concurrent use.
type Loader struct {
	opt     Options
	log     *slog.Logger
	tracer  trace.Tracer
	metrics Metrics

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	// ---- guarded by mu ----
	mu      sync.Mutex
	queue   taskQueue
	running map[*task]struct{}
	active  int
	seq     uint64
	paused  bool
	closed  bool
}

// Stats is a point-in-time view of the loader.
type Stats struct {
	Active int
	Queued int
	Max    int
	Paused bool
}

// New returns a Loader. It panics if Fetcher or Decoder is nil.
func New(opt Options) *Loader {
	if opt.Fetcher == nil || opt.Decoder == nil {
		panic("loader: Fetcher and Decoder are required")
	}
	if opt.MaxConcurrent <= 0 {
		opt.MaxConcurrent = DefaultMaxConcurrent
	}
	if opt.Timeout <= 0 {
		opt.Timeout = DefaultTimeout
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Tracer == nil {
		opt.Tracer = otel.Tracer(tracerName)
	}

	ctx, stop := context.WithCancel(context.Background())
	return &Loader{
		opt:     opt,
		log:     logging.OrDiscard(opt.Logger),
		tracer:  opt.Tracer,
		metrics: opt.Metrics,
		ctx:     ctx,
		stop:    stop,
		running: make(map[*task]struct{}),
	}
}

// Submit registers a request and returns its ticket. The task starts now if
// a slot is free and the loader is not paused; otherwise it is queued.
func (l *Loader) Submit(req Request) *Ticket {
	if req.Key == "" {
		req.Key = req.URL
	}
	tk := &Ticket{l: l, done: make(chan struct{})}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		tk.resolve(Result{}, ErrClosed)
		return tk
	}
	t := l.newTaskLocked(req, tk, false)
	tk.id = t.id
	l.metrics.Submitted(req.Tier)

	if !l.paused && l.active < l.opt.MaxConcurrent {
		l.startLocked(t)
	} else {
		heap.Push(&l.queue, t)
	}
	l.metrics.Depth(l.active, l.queue.Len())
	return tk
}

// Cancel cancels the ticket's current task. A queued task is removed and
// never touches the network. A running task is flagged: it completes, its
// value still reaches the Sink, but the ticket resolves with ErrCancelled
// immediately and never sees the value. Cancelling a resolved ticket is a
// no-op.
func (l *Loader) Cancel(tk *Ticket) {
	l.mu.Lock()
	t := tk.cur
	if t == nil || t.state.Terminal() || t.cancelled {
		l.mu.Unlock()
		return
	}
	l.cancelLocked(t)
	l.mu.Unlock()

	tk.resolve(Result{}, &Error{Kind: KindCancelled, URL: t.req.URL})
}

// CancelQueued cancels the ticket only if its task has not started yet.
func (l *Loader) CancelQueued(tk *Ticket) bool {
	l.mu.Lock()
	t := tk.cur
	if t == nil || t.state != StateQueued {
		l.mu.Unlock()
		return false
	}
	l.cancelLocked(t)
	l.mu.Unlock()

	tk.resolve(Result{}, &Error{Kind: KindCancelled, URL: t.req.URL})
	return true
}

// CancelAll cancels every queued and running task.
func (l *Loader) CancelAll() int {
	l.mu.Lock()
	victims := make([]*task, 0, l.queue.Len()+len(l.running))
	for l.queue.Len() > 0 {
		victims = append(victims, l.queue[0])
		l.cancelLocked(l.queue[0])
	}
	for t := range l.running {
		if !t.cancelled {
			victims = append(victims, t)
			l.cancelLocked(t)
		}
	}
	l.mu.Unlock()

	for _, t := range victims {
		t.ticket.resolve(Result{}, &Error{Kind: KindCancelled, URL: t.req.URL})
	}
	if len(victims) > 0 {
		l.log.Debug("cancelled pending loads", "count", len(victims))
	}
	return len(victims)
}

// Pause stops promoting queued tasks. Running tasks continue and new
// submissions queue up.
func (l *Loader) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// Resume re-enables promotion and fills any free slots.
func (l *Loader) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = false
	l.promoteLocked()
}

// Stats reports current slot usage.
func (l *Loader) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{Active: l.active, Queued: l.queue.Len(), Max: l.opt.MaxConcurrent, Paused: l.paused}
}

// Close cancels everything, aborts running fetches and waits for their
// goroutines. Later submissions resolve with ErrClosed.
func (l *Loader) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.CancelAll()
	l.stop()
	l.wg.Wait()
	return nil
}

// -------------------- internals --------------------

func (l *Loader) newTaskLocked(req Request, tk *Ticket, fallback bool) *task {
	l.seq++
	t := &task{
		id:          uuid.NewString(),
		req:         req,
		seq:         l.seq,
		submittedAt: time.Now(),
		fallback:    fallback,
		state:       StateQueued,
		index:       -1,
		ticket:      tk,
	}
	tk.cur = t
	return t
}

func (l *Loader) cancelLocked(t *task) {
	switch t.state {
	case StateQueued:
		heap.Remove(&l.queue, t.index)
		t.state = StateCancelled
		l.metrics.Finished(StateCancelled, 0)
		l.metrics.Depth(l.active, l.queue.Len())
	case StateActive:
		t.cancelled = true
	}
}

func (l *Loader) startLocked(t *task) {
	t.state = StateActive
	l.active++
	l.running[t] = struct{}{}
	l.wg.Add(1)
	go l.run(t)
}

func (l *Loader) promoteLocked() {
	for !l.paused && l.active < l.opt.MaxConcurrent && l.queue.Len() > 0 {
		l.startLocked(heap.Pop(&l.queue).(*task))
	}
	l.metrics.Depth(l.active, l.queue.Len())
}

type outcome struct {
	v   resource.Value
	err error
}

// run executes one task under its deadline. The work runs in its own
// goroutine so a fetcher that ignores ctx still cannot hold the slot past
// the deadline.
func (l *Loader) run(t *task) {
	defer l.wg.Done()

	ctx, cancel := context.WithTimeout(l.ctx, l.opt.Timeout)
	defer cancel()
	ctx, span := l.tracer.Start(ctx, "loader.task", trace.WithAttributes(
		attribute.String("image.url", t.req.URL),
		attribute.String("image.tier", t.req.Tier.String()),
		attribute.String("image.variant", t.req.Variant.String()),
		attribute.Bool("image.fallback", t.fallback),
	))
	defer span.End()

	started := time.Now()
	l.log.Debug("task started", "task", t.id, "url", t.req.URL, "tier", t.req.Tier.String(),
		"queued_for", started.Sub(t.submittedAt))

	out := make(chan outcome, 1)
	go func() {
		v, err := l.work(ctx, t)
		out <- outcome{v, err}
	}()

	var o outcome
	select {
	case o = <-out:
	case <-ctx.Done():
		o.err = l.deadlineErr(t)
		go l.drain(out)
	}

	if o.err != nil {
		span.RecordError(o.err)
		span.SetStatus(codes.Error, o.err.Error())
	}
	l.complete(t, o, time.Since(started))
}

func (l *Loader) work(ctx context.Context, t *task) (resource.Value, error) {
	data, err := l.opt.Fetcher.Fetch(ctx, t.req.URL)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return resource.Value{}, &Error{Kind: KindTimeout, URL: t.req.URL, Err: err}
		}
		return resource.Value{}, &Error{Kind: KindFetch, URL: t.req.URL, Err: err}
	}
	v, err := l.opt.Decoder.Decode(ctx, t.req, data)
	if err != nil {
		return resource.Value{}, &Error{Kind: KindDecode, URL: t.req.URL, Err: err}
	}
	return v, nil
}

func (l *Loader) deadlineErr(t *task) error {
	if l.ctx.Err() != nil {
		return ErrClosed
	}
	return &Error{Kind: KindTimeout, URL: t.req.URL, Err: context.DeadlineExceeded}
}

// drain waits for a timed-out task's work and disposes of anything it produced.
func (l *Loader) drain(out <-chan outcome) {
	if o := <-out; o.err == nil {
		l.discard(o.v)
	}
}

func (l *Loader) discard(v resource.Value) {
	if l.opt.Discard != nil {
		l.opt.Discard(v)
	}
}

// complete retires t, frees its slot, schedules the fallback if one is due,
// promotes the queue head and finally hands the outcome out.
func (l *Loader) complete(t *task, o outcome, elapsed time.Duration) {
	l.mu.Lock()
	delete(l.running, t)
	l.active--

	cancelled := t.cancelled
	switch {
	case cancelled:
		t.state = StateCancelled
	case o.err == nil:
		t.state = StateSucceeded
	default:
		t.state = StateFailed
	}
	l.metrics.Finished(t.state, elapsed)

	retry := t.state == StateFailed && !t.fallback && t.req.Fallback != "" && fallbackEligible(o.err)
	if retry {
		req := t.req
		req.URL, req.Fallback, req.Tier = t.req.Fallback, "", TierHigh
		heap.Push(&l.queue, l.newTaskLocked(req, t.ticket, true))
		l.metrics.Fallback()
	}
	l.promoteLocked()
	l.mu.Unlock()

	if o.err == nil {
		switch {
		case l.opt.Sink != nil:
			l.opt.Sink(t.req, o.v)
		case cancelled:
			l.discard(o.v)
		}
	}

	log := l.log.With("task", t.id, "url", t.req.URL, "state", t.state.String(), "elapsed", elapsed)
	switch {
	case retry:
		log.Debug("load failed, trying fallback", "fallback", t.req.Fallback, "error", o.err)
	case cancelled:
		log.Debug("task finished after cancel")
	case o.err != nil:
		log.Debug("load failed", "error", o.err)
		t.ticket.resolve(Result{}, o.err)
	default:
		log.Debug("load succeeded")
		t.ticket.resolve(Result{Key: t.req.Key, URL: t.req.URL, Value: o.v, Fallback: t.fallback}, nil)
	}
}
