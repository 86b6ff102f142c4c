package pool

import (
	"maps"
	"slices"
	"time"

	"github.com/genc-murat/routepool/internal/core/ports"
)

var _ ports.PoolControl[string] = (*Pool[string])(nil)

func (p *Pool[R]) SetMaxTotal(limit int) error {
	if limit < 0 {
		return ErrInvalidLimit
	}
	var doomed []closing[R]
	p.mu.Lock()
	p.maxTotal = limit
	p.dispatchLocked(&doomed)
	p.mu.Unlock()
	p.closeEntries(doomed)
	return nil
}

func (p *Pool[R]) MaxTotal() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxTotal
}

func (p *Pool[R]) SetDefaultMaxPerRoute(limit int) error {
	if limit < 0 {
		return ErrInvalidLimit
	}
	var doomed []closing[R]
	p.mu.Lock()
	p.defaultMaxPerRoute = limit
	p.dispatchLocked(&doomed)
	p.mu.Unlock()
	p.closeEntries(doomed)
	return nil
}

func (p *Pool[R]) DefaultMaxPerRoute() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.defaultMaxPerRoute
}

// SetMaxPerRoute overrides the limit for one route. Lowering a limit never
// closes leased connections; it only stops new ones until the route drains
// below the new value.
func (p *Pool[R]) SetMaxPerRoute(route R, limit int) error {
	if limit < 0 {
		return ErrInvalidLimit
	}
	var doomed []closing[R]
	p.mu.Lock()
	p.maxPerRoute[route] = limit
	if rp, ok := p.routes[route]; ok {
		p.serveWaitersLocked(rp, &doomed)
	}
	p.mu.Unlock()
	p.closeEntries(doomed)
	return nil
}

func (p *Pool[R]) MaxPerRoute(route R) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxPerRouteLocked(route)
}

// Limits returns a copy of the per-route overrides set with SetMaxPerRoute.
func (p *Pool[R]) Limits() map[R]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return maps.Clone(p.maxPerRoute)
}

// CloseIdle closes idle connections released more than idle ago.
func (p *Pool[R]) CloseIdle(idle time.Duration) {
	if idle < 0 {
		idle = 0
	}
	var doomed []closing[R]

	p.mu.Lock()
	cutoff := p.now().Add(-idle)
	for _, rp := range p.routes {
		kept := rp.idle[:0]
		for _, e := range rp.idle {
			if e.updated.Before(cutoff) || idle == 0 {
				e.state = stateClosed
				doomed = append(doomed, closing[R]{entry: e, reason: ReasonIdle})
				p.idle--
				continue
			}
			kept = append(kept, e)
		}
		clear(rp.idle[len(kept):])
		rp.idle = kept
	}
	p.dispatchLocked(&doomed)
	p.dropEmptyLocked()
	p.mu.Unlock()

	p.closeEntries(doomed)
}

// CloseExpired closes idle connections past their expiry, then probes the
// rest and closes those the peer has already shut down. Probing happens
// outside the lock; probed entries count against the limits meanwhile.
func (p *Pool[R]) CloseExpired() {
	var doomed []closing[R]
	probe := make(map[*routePool[R]][]*Entry[R])

	p.mu.Lock()
	now := p.now()
	for _, rp := range p.routes {
		for _, e := range rp.idle {
			if e.expired(now) {
				e.state = stateClosed
				doomed = append(doomed, closing[R]{entry: e, reason: ReasonExpired})
				continue
			}
			probe[rp] = append(probe[rp], e)
		}
		p.idle -= len(rp.idle)
		rp.probing += len(probe[rp])
		p.probing += len(probe[rp])
		rp.idle = nil
	}
	p.dispatchLocked(&doomed)
	p.mu.Unlock()

	stale := make(map[*Entry[R]]bool)
	for _, entries := range probe {
		for _, e := range entries {
			if !e.conn.IsOpen() || e.conn.IsStale() {
				stale[e] = true
			}
		}
	}

	p.mu.Lock()
	for rp, entries := range probe {
		rp.probing -= len(entries)
		p.probing -= len(entries)
		for _, e := range entries {
			if stale[e] || p.closed {
				e.state = stateClosed
				reason := ReasonStale
				if !stale[e] {
					reason = ReasonShutdown
				}
				doomed = append(doomed, closing[R]{entry: e, reason: reason})
				continue
			}
			rp.idle = append(rp.idle, e)
			p.idle++
		}
		slices.SortStableFunc(rp.idle, func(a, b *Entry[R]) int {
			return a.updated.Compare(b.updated)
		})
	}
	p.dispatchLocked(&doomed)
	p.dropEmptyLocked()
	p.mu.Unlock()

	p.closeEntries(doomed)
}

// Routes lists the routes that currently hold leased or idle connections.
func (p *Pool[R]) Routes() []R {
	p.mu.Lock()
	defer p.mu.Unlock()
	routes := make([]R, 0, len(p.routes))
	for route, rp := range p.routes {
		if len(rp.leased)+len(rp.idle) > 0 {
			routes = append(routes, route)
		}
	}
	return routes
}

func (p *Pool[R]) TotalStats() ports.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := 0
	for _, rp := range p.routes {
		pending += rp.waiters.Len()
	}
	return ports.PoolStats{
		Leased:    p.leased,
		Pending:   pending,
		Available: p.idle,
		Max:       p.maxTotal,
	}
}

func (p *Pool[R]) RouteStats(route R) ports.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := ports.PoolStats{Max: p.maxPerRouteLocked(route)}
	if rp, ok := p.routes[route]; ok {
		stats.Leased = len(rp.leased)
		stats.Pending = rp.waiters.Len()
		stats.Available = len(rp.idle)
	}
	return stats
}

func (p *Pool[R]) dropEmptyLocked() {
	for _, rp := range p.routes {
		p.dropIfEmptyLocked(rp)
	}
}
