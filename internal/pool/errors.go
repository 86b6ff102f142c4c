package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolTimeout is returned when a lease could not be satisfied before
	// its timeout. The pool is unchanged and the caller may retry.
	ErrPoolTimeout = errors.New("pool: timeout waiting for connection")

	// ErrPoolClosed is returned by operations on a closed pool.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrNotLeased is returned when releasing an entry this pool does not
	// hold as leased, including double releases.
	ErrNotLeased = errors.New("pool: entry is not leased")

	// ErrInvalidLimit is returned for negative capacity limits.
	ErrInvalidLimit = errors.New("pool: limit must not be negative")
)

// ConnectError reports that the connector failed to open a connection for
// a lease. The reserved capacity has already been returned to the pool.
type ConnectError struct {
	Route string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("pool: connect %s: %v", e.Route, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
