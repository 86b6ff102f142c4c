// Package pool keeps physical connections per route, hands them out as
// leases under global and per-route limits, and queues callers when no
// capacity is left.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/genc-murat/routepool/internal/core/ports"
)

// Pool leases connections keyed by route R. It is safe for concurrent use.
type Pool[R comparable] struct {
	connector ports.Connector[R]
	cfg       Config
	log       *slog.Logger
	observer  Observer
	now       func() time.Time

	mu                 sync.Mutex // protects following fields
	routes             map[R]*routePool[R]
	maxPerRoute        map[R]int
	maxTotal           int
	defaultMaxPerRoute int
	leased             int // entries owned by callers
	idle               int // entries owned by the pool
	probing            int // idle entries taken out for a stale probe
	connecting         int // reservations for connections being opened
	closed             bool

	stopEvictor context.CancelFunc
	evictorDone chan struct{}
}

type routePool[R comparable] struct {
	route      R
	leased     map[*Entry[R]]struct{}
	idle       []*Entry[R] // ordered by release time, most recent last
	probing    int
	connecting int
	waiters    *list.List // of *waiter[R], FIFO
}

func (rp *routePool[R]) allocated() int {
	return len(rp.leased) + len(rp.idle) + rp.probing + rp.connecting
}

func (rp *routePool[R]) empty() bool {
	return rp.allocated() == 0 && rp.waiters.Len() == 0
}

// grant is what a queued caller is woken with: an idle entry, a connect
// reservation (entry == nil), or an error.
type grant[R comparable] struct {
	entry *Entry[R]
	err   error
}

type waiter[R comparable] struct {
	ready chan grant[R] // buffered, receives exactly one grant
	elem  *list.Element // nil once granted or withdrawn; guarded by Pool.mu
}

type closing[R comparable] struct {
	entry  *Entry[R]
	reason CloseReason
}

// New returns a pool that opens connections with connector. The background
// evictor starts when cfg.EvictInterval is positive.
func New[R comparable](connector ports.Connector[R], cfg Config, opts ...Option) (*Pool[R], error) {
	if connector == nil {
		return nil, errors.New("pool: connector is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	p := &Pool[R]{
		connector:          connector,
		cfg:                cfg,
		log:                o.logger.With("component", "pool"),
		observer:           o.observer,
		now:                o.now,
		routes:             make(map[R]*routePool[R]),
		maxPerRoute:        make(map[R]int),
		maxTotal:           cfg.MaxTotal,
		defaultMaxPerRoute: cfg.DefaultMaxPerRoute,
	}
	if cfg.EvictInterval > 0 {
		p.startEvictor(cfg.EvictInterval)
	}
	return p, nil
}

// Lease returns an entry for route, waiting at most Config.LeaseTimeout.
func (p *Pool[R]) Lease(ctx context.Context, route R) (*Entry[R], error) {
	return p.LeaseTimeout(ctx, route, p.cfg.LeaseTimeout)
}

// LeaseTimeout returns an idle entry for route, opens a new one if the limits
// allow it, or waits in the route's FIFO queue. A non-positive timeout waits
// until ctx is done.
func (p *Pool[R]) LeaseTimeout(ctx context.Context, route R, timeout time.Duration) (*Entry[R], error) {
	start := time.Now()
	var deadline time.Time
	if timeout > 0 {
		deadline = start.Add(timeout)
	}

	for {
		e, reused, err := p.acquire(ctx, route, deadline)
		if err != nil {
			p.observer.LeaseFailed(label(route), err)
			return nil, err
		}
		if reused && p.shouldValidate(e) && (!e.conn.IsOpen() || e.conn.IsStale()) {
			p.log.Debug("discarding stale connection", "route", label(route), "id", e.id)
			p.finish(e, false, ReasonStale)
			continue
		}
		p.observer.Leased(label(route), reused, time.Since(start))
		return e, nil
	}
}

// Release gives a leased entry back. A reusable entry whose connection is
// still open goes to the idle set and is offered to the route's first waiter;
// anything else is closed. The caller must not touch e afterwards.
func (p *Pool[R]) Release(e *Entry[R], reusable bool) error {
	if e == nil {
		return fmt.Errorf("%w: nil entry", ErrNotLeased)
	}
	keep := reusable && e.conn.IsOpen() && !e.conn.IsStale()
	if !p.finish(e, keep, ReasonReleased) {
		return p.contractViolation(e)
	}
	p.observer.Released(label(e.route), keep)
	return nil
}

func (p *Pool[R]) contractViolation(e *Entry[R]) error {
	p.log.Error("release of entry not leased from this pool", "id", e.id, "state", e.state.String())
	return fmt.Errorf("%w: %s (%s)", ErrNotLeased, e.id, e.state)
}

// finish moves a leased entry to idle or closes it. It reports false when e
// is not currently leased from this pool.
func (p *Pool[R]) finish(e *Entry[R], keep bool, reason CloseReason) bool {
	var doomed []closing[R]

	p.mu.Lock()
	rp := p.routes[e.route]
	if rp == nil {
		p.mu.Unlock()
		return false
	}
	if _, ok := rp.leased[e]; !ok {
		p.mu.Unlock()
		return false
	}
	delete(rp.leased, e)
	p.leased--

	now := p.now()
	switch {
	case !keep:
	case p.closed:
		keep, reason = false, ReasonShutdown
	case e.expired(now):
		keep, reason = false, ReasonExpired
	case rp.allocated() >= p.maxPerRouteLocked(rp.route),
		p.leased+p.idle+p.probing+p.connecting >= p.maxTotal:
		keep, reason = false, ReasonOverLimit
	}

	if keep {
		e.updated = now
		e.state = stateIdle
		rp.idle = append(rp.idle, e)
		p.idle++
		p.serveWaitersLocked(rp, &doomed)
	} else {
		e.state = stateClosed
		doomed = append(doomed, closing[R]{entry: e, reason: reason})
	}
	p.dispatchLocked(&doomed)
	p.dropIfEmptyLocked(rp)
	p.mu.Unlock()

	p.closeEntries(doomed)
	return true
}

func (p *Pool[R]) acquire(ctx context.Context, route R, deadline time.Time) (*Entry[R], bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var doomed []closing[R]

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	rp := p.routeLocked(route)
	// Newcomers never overtake callers already queued for the route.
	if rp.waiters.Len() == 0 {
		if e := p.takeIdleLocked(rp, &doomed); e != nil {
			p.mu.Unlock()
			p.closeEntries(doomed)
			return e, true, nil
		}
		if p.reserveLocked(rp, &doomed) {
			p.mu.Unlock()
			p.closeEntries(doomed)
			e, err := p.open(ctx, route)
			return e, false, err
		}
	}
	w := &waiter[R]{ready: make(chan grant[R], 1)}
	w.elem = rp.waiters.PushBack(w)
	p.mu.Unlock()
	p.closeEntries(doomed)

	g, err := p.await(ctx, rp, w, deadline)
	switch {
	case err != nil:
		return nil, false, err
	case g.err != nil:
		return nil, false, g.err
	case g.entry != nil:
		return g.entry, true, nil
	}
	e, err := p.open(ctx, route)
	return e, false, err
}

// await blocks until w is granted, ctx is done or the deadline passes. A
// grant that races with cancellation wins, so the caller sees exactly one
// outcome.
func (p *Pool[R]) await(ctx context.Context, rp *routePool[R], w *waiter[R], deadline time.Time) (grant[R], error) {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	var err error
	select {
	case g := <-w.ready:
		return g, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-expired:
		err = ErrPoolTimeout
	}

	p.mu.Lock()
	if w.elem == nil {
		p.mu.Unlock()
		return <-w.ready, nil
	}
	rp.waiters.Remove(w.elem)
	w.elem = nil
	p.dropIfEmptyLocked(rp)
	p.mu.Unlock()

	if errors.Is(err, ErrPoolTimeout) {
		p.log.Debug("lease timed out", "route", label(rp.route))
	}
	return grant[R]{}, err
}

// open runs the connector for a reservation taken under the lock.
func (p *Pool[R]) open(ctx context.Context, route R) (*Entry[R], error) {
	conn, err := p.connector.Open(ctx, route)
	if err == nil && conn == nil {
		err = errors.New("connector returned no connection")
	}

	var doomed []closing[R]
	p.mu.Lock()
	rp := p.routes[route]
	rp.connecting--
	p.connecting--

	if err != nil {
		p.dispatchLocked(&doomed)
		p.dropIfEmptyLocked(rp)
		p.mu.Unlock()
		p.closeEntries(doomed)
		p.log.Warn("connect failed", "route", label(route), "error", err)
		return nil, &ConnectError{Route: label(route), Err: err}
	}
	if p.closed {
		p.dropIfEmptyLocked(rp)
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPoolClosed
	}

	e := newEntry(route, conn, p.now(), p.cfg.TimeToLive)
	rp.leased[e] = struct{}{}
	p.leased++
	p.mu.Unlock()
	return e, nil
}

func (p *Pool[R]) shouldValidate(e *Entry[R]) bool {
	limit := p.cfg.ValidateAfterInactivity
	return limit >= 0 && p.now().Sub(e.updated) > limit
}

func (p *Pool[R]) routeLocked(route R) *routePool[R] {
	rp, ok := p.routes[route]
	if !ok {
		rp = &routePool[R]{
			route:   route,
			leased:  make(map[*Entry[R]]struct{}),
			waiters: list.New(),
		}
		p.routes[route] = rp
	}
	return rp
}

func (p *Pool[R]) dropIfEmptyLocked(rp *routePool[R]) {
	if rp.empty() && p.routes[rp.route] == rp {
		delete(p.routes, rp.route)
	}
}

func (p *Pool[R]) maxPerRouteLocked(route R) int {
	if n, ok := p.maxPerRoute[route]; ok {
		return n
	}
	return p.defaultMaxPerRoute
}

// hasCapacityLocked reports whether one more lease on rp stays within the
// route and total limits.
func (p *Pool[R]) hasCapacityLocked(rp *routePool[R]) bool {
	return len(rp.leased)+rp.connecting < p.maxPerRouteLocked(rp.route) &&
		p.leased+p.connecting < p.maxTotal
}

// takeIdleLocked leases the most recently released idle entry, closing any
// expired ones it meets on the way. It returns nil while the limits leave no
// room for another lease.
func (p *Pool[R]) takeIdleLocked(rp *routePool[R], doomed *[]closing[R]) *Entry[R] {
	if !p.hasCapacityLocked(rp) {
		return nil
	}
	now := p.now()
	for n := len(rp.idle); n > 0; n = len(rp.idle) {
		e := rp.idle[n-1]
		rp.idle[n-1] = nil
		rp.idle = rp.idle[:n-1]
		p.idle--

		if e.expired(now) {
			e.state = stateClosed
			*doomed = append(*doomed, closing[R]{entry: e, reason: ReasonExpired})
			continue
		}
		e.state = stateLeased
		rp.leased[e] = struct{}{}
		p.leased++
		return e
	}
	return nil
}

// reserveLocked claims capacity for one new connection on rp. When only the
// total allocation is exhausted, the least recently used idle entry of
// another route is evicted to make room.
func (p *Pool[R]) reserveLocked(rp *routePool[R], doomed *[]closing[R]) bool {
	if rp.allocated() >= p.maxPerRouteLocked(rp.route) {
		return false
	}
	if p.leased+p.connecting >= p.maxTotal {
		return false
	}
	if p.leased+p.idle+p.probing+p.connecting >= p.maxTotal {
		victim := p.oldestIdleLocked(rp)
		if victim == nil {
			return false
		}
		vp := p.routes[victim.route]
		vp.idle[0] = nil
		vp.idle = vp.idle[1:]
		p.idle--
		victim.state = stateClosed
		*doomed = append(*doomed, closing[R]{entry: victim, reason: ReasonEvicted})
		p.dropIfEmptyLocked(vp)
	}
	rp.connecting++
	p.connecting++
	return true
}

func (p *Pool[R]) oldestIdleLocked(except *routePool[R]) *Entry[R] {
	var oldest *Entry[R]
	for _, rp := range p.routes {
		if rp == except || len(rp.idle) == 0 {
			continue
		}
		if e := rp.idle[0]; oldest == nil || e.updated.Before(oldest.updated) {
			oldest = e
		}
	}
	return oldest
}

// serveWaitersLocked hands idle entries or connect reservations to the
// route's waiters in arrival order until it runs out of either.
func (p *Pool[R]) serveWaitersLocked(rp *routePool[R], doomed *[]closing[R]) {
	for rp.waiters.Len() > 0 {
		front := rp.waiters.Front()
		w := front.Value.(*waiter[R])

		var g grant[R]
		if e := p.takeIdleLocked(rp, doomed); e != nil {
			g.entry = e
		} else if !p.reserveLocked(rp, doomed) {
			return
		}
		rp.waiters.Remove(front)
		w.elem = nil
		w.ready <- g
	}
}

// dispatchLocked serves waiters of every route. Route order is unspecified;
// fairness is only guaranteed within a route.
func (p *Pool[R]) dispatchLocked(doomed *[]closing[R]) {
	for _, rp := range p.routes {
		if rp.waiters.Len() > 0 {
			p.serveWaitersLocked(rp, doomed)
		}
	}
}

func (p *Pool[R]) closeEntries(doomed []closing[R]) error {
	var errs []error
	for _, c := range doomed {
		if err := c.entry.conn.Close(); err != nil {
			p.log.Debug("close connection", "route", label(c.entry.route), "id", c.entry.id, "error", err)
			errs = append(errs, err)
		}
		p.observer.Closed(label(c.entry.route), c.reason)
	}
	return errors.Join(errs...)
}

// Close shuts the pool down. Waiters fail with ErrPoolClosed, idle
// connections are closed now and leased ones when they are released.
func (p *Pool[R]) Close() error {
	var doomed []closing[R]

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, rp := range p.routes {
		for _, e := range rp.idle {
			e.state = stateClosed
			doomed = append(doomed, closing[R]{entry: e, reason: ReasonShutdown})
		}
		p.idle -= len(rp.idle)
		rp.idle = nil
		for el := rp.waiters.Front(); el != nil; el = rp.waiters.Front() {
			w := rp.waiters.Remove(el).(*waiter[R])
			w.elem = nil
			w.ready <- grant[R]{err: ErrPoolClosed}
		}
		p.dropIfEmptyLocked(rp)
	}
	stop, done := p.stopEvictor, p.evictorDone
	p.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	return p.closeEntries(doomed)
}

func label[R comparable](route R) string {
	return fmt.Sprint(route)
}
