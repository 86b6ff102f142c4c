package pool

import (
	"log/slog"
	"time"

	"github.com/genc-murat/routepool/internal/logger"
)

// CloseReason says why a pooled connection was closed.
type CloseReason string

const (
	ReasonReleased  CloseReason = "released"
	ReasonExpired   CloseReason = "expired"
	ReasonStale     CloseReason = "stale"
	ReasonIdle      CloseReason = "idle"
	ReasonEvicted   CloseReason = "evicted"
	ReasonOverLimit CloseReason = "over_limit"
	ReasonShutdown  CloseReason = "shutdown"
)

// Observer receives pool events. Calls are made outside the pool lock and
// must not block.
type Observer interface {
	Leased(route string, reused bool, wait time.Duration)
	LeaseFailed(route string, err error)
	Released(route string, reusable bool)
	Closed(route string, reason CloseReason)
}

type nopObserver struct{}

func (nopObserver) Leased(string, bool, time.Duration) {}
func (nopObserver) LeaseFailed(string, error)          {}
func (nopObserver) Released(string, bool)              {}
func (nopObserver) Closed(string, CloseReason)         {}

type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

func defaultOptions() options {
	return options{
		logger:   logger.Get().Logger,
		observer: nopObserver{},
		now:      time.Now,
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithClock replaces the clock used for idle and expiry bookkeeping. Lease
// timeouts always use real timers.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
