package ports

import (
	"context"
	"fmt"
	"time"
)

// Connection is a physical connection owned by a pool entry.
type Connection interface {
	Close() error
	IsOpen() bool
	// IsStale reports whether the connection can no longer be trusted to
	// carry a new exchange, e.g. the peer closed it or sent unsolicited data.
	IsStale() bool
}

// Connector opens physical connections for a route.
type Connector[R comparable] interface {
	Open(ctx context.Context, route R) (Connection, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc[R comparable] func(ctx context.Context, route R) (Connection, error)

func (f ConnectorFunc[R]) Open(ctx context.Context, route R) (Connection, error) {
	return f(ctx, route)
}

// PoolStats is a snapshot of pool usage, either totals or for one route.
type PoolStats struct {
	Leased    int `json:"leased"`
	Pending   int `json:"pending"`
	Available int `json:"available"`
	Max       int `json:"max"`
}

func (s PoolStats) String() string {
	return fmt.Sprintf("[leased: %d; pending: %d; available: %d; max: %d]", s.Leased, s.Pending, s.Available, s.Max)
}

// PoolControl is the administrative surface of a route-keyed pool.
type PoolControl[R comparable] interface {
	SetMaxTotal(limit int) error
	MaxTotal() int
	SetDefaultMaxPerRoute(limit int) error
	DefaultMaxPerRoute() int
	SetMaxPerRoute(route R, limit int) error
	MaxPerRoute(route R) int
	// Limits returns the explicit per-route overrides.
	Limits() map[R]int
	CloseIdle(idleTime time.Duration)
	CloseExpired()
	Routes() []R

	TotalStats() PoolStats
	RouteStats(route R) PoolStats
}
