package pool

import "time"

const (
	DefaultMaxTotal           = 20
	DefaultMaxPerRouteLimit   = 5
	DefaultValidateInactivity = 2 * time.Second
)

// Config holds the initial limits and timing of a Pool.
type Config struct {
	// MaxTotal caps leased connections across all routes.
	MaxTotal int
	// DefaultMaxPerRoute applies to routes without an explicit override.
	DefaultMaxPerRoute int
	// LeaseTimeout bounds how long Lease waits in the queue. Zero waits until
	// the context is done.
	LeaseTimeout time.Duration
	// TimeToLive is the absolute lifetime of a connection. Zero means unlimited.
	TimeToLive time.Duration
	// ValidateAfterInactivity makes Lease probe idle connections that sat
	// unused for longer than this. Negative disables the probe.
	ValidateAfterInactivity time.Duration
	// EvictInterval runs the background evictor when positive.
	EvictInterval time.Duration
	// MaxIdleTime is passed to CloseIdle by the evictor. Zero keeps idle
	// connections until they expire.
	MaxIdleTime time.Duration
}

// DefaultConfig returns 20 total and 5 per route, with idle probing after 2s.
func DefaultConfig() Config {
	return Config{
		MaxTotal:                DefaultMaxTotal,
		DefaultMaxPerRoute:      DefaultMaxPerRouteLimit,
		ValidateAfterInactivity: DefaultValidateInactivity,
	}
}

func (c Config) validate() error {
	if c.MaxTotal < 0 || c.DefaultMaxPerRoute < 0 {
		return ErrInvalidLimit
	}
	return nil
}
