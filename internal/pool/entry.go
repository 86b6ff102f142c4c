package pool

import (
	"time"

	"github.com/google/uuid"

	"github.com/genc-murat/routepool/internal/core/ports"
)

type entryState int

const (
	stateLeased entryState = iota
	stateIdle
	stateClosed
)

func (s entryState) String() string {
	switch s {
	case stateLeased:
		return "leased"
	case stateIdle:
		return "idle"
	default:
		return "closed"
	}
}

// Entry is one pooled physical connection and its bookkeeping. While leased
// it belongs to the caller; fields other than expiry are only changed by the
// pool under its lock.
type Entry[R comparable] struct {
	id      string
	route   R
	conn    ports.Connection
	created time.Time
	updated time.Time
	// deadline is the absolute end of life from TimeToLive, zero if none.
	deadline time.Time
	// expiry is the earliest of deadline and the keep-alive hint.
	expiry time.Time
	state  entryState
}

func newEntry[R comparable](route R, conn ports.Connection, now time.Time, ttl time.Duration) *Entry[R] {
	e := &Entry[R]{
		id:      uuid.NewString(),
		route:   route,
		conn:    conn,
		created: now,
		updated: now,
		state:   stateLeased,
	}
	if ttl > 0 {
		e.deadline = now.Add(ttl)
		e.expiry = e.deadline
	}
	return e
}

func (e *Entry[R]) ID() string             { return e.id }
func (e *Entry[R]) Route() R               { return e.route }
func (e *Entry[R]) Conn() ports.Connection { return e.conn }
func (e *Entry[R]) Created() time.Time     { return e.created }
func (e *Entry[R]) Updated() time.Time     { return e.updated }
func (e *Entry[R]) Expiry() time.Time      { return e.expiry }

// UpdateExpiry sets how long the connection may stay reusable after it is
// next released, e.g. from a Keep-Alive timeout hint. Non-positive removes
// the hint. The TimeToLive deadline is never extended. Only call this while
// holding the lease.
func (e *Entry[R]) UpdateExpiry(keepAlive time.Duration, now time.Time) {
	e.expiry = e.deadline
	if keepAlive <= 0 {
		return
	}
	hint := now.Add(keepAlive)
	if e.deadline.IsZero() || hint.Before(e.deadline) {
		e.expiry = hint
	}
}

func (e *Entry[R]) expired(now time.Time) bool {
	return !e.expiry.IsZero() && !now.Before(e.expiry)
}
