// Package metrics exports pool activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/genc-murat/routepool/internal/core/ports"
	"github.com/genc-murat/routepool/internal/pool"
)

const defaultNamespace = "routepool"

// StatsSource is the part of a pool the gauges read from.
type StatsSource interface {
	TotalStats() ports.PoolStats
}

// Metrics implements pool.Observer on top of a private registry.
type Metrics struct {
	namespace string
	registry  *prometheus.Registry
	startTime time.Time

	leases        *prometheus.CounterVec
	leaseFailures *prometheus.CounterVec
	leaseWait     *prometheus.HistogramVec
	releases      *prometheus.CounterVec
	closes        *prometheus.CounterVec
}

var _ pool.Observer = (*Metrics)(nil)

func New(namespace string) *Metrics {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	m := &Metrics{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		leases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leases_total",
			Help:      "Connections handed out, by route and whether an idle connection was reused.",
		}, []string{"route", "reused"}),
		leaseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lease_failures_total",
			Help:      "Leases that returned an error, by route and cause.",
		}, []string{"route", "cause"}),
		leaseWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lease_wait_seconds",
			Help:      "Time from lease request to a usable connection.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"route"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "releases_total",
			Help:      "Connections given back to the pool, by route and reuse decision.",
		}, []string{"route", "reusable"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Pooled connections closed, by route and reason.",
		}, []string{"route", "reason"}),
	}

	m.registry.MustRegister(m.leases, m.leaseFailures, m.leaseWait, m.releases, m.closes)
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the metrics were created.",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	}))
	return m
}

// WithRuntime adds the Go runtime and process collectors.
func (m *Metrics) WithRuntime() *Metrics {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterPool exports the pool's totals as gauges read at scrape time.
func (m *Metrics) RegisterPool(src StatsSource) error {
	gauge := func(name, help string, value func(ports.PoolStats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: "pool",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(value(src.TotalStats()))
		})
	}

	for _, c := range []prometheus.Collector{
		gauge("leased", "Connections currently leased.", func(s ports.PoolStats) int { return s.Leased }),
		gauge("pending", "Callers waiting for a connection.", func(s ports.PoolStats) int { return s.Pending }),
		gauge("available", "Idle connections ready for reuse.", func(s ports.PoolStats) int { return s.Available }),
		gauge("max", "Maximum number of leased connections.", func(s ports.PoolStats) int { return s.Max }),
	} {
		if err := m.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) Leased(route string, reused bool, wait time.Duration) {
	m.leases.WithLabelValues(route, strconv.FormatBool(reused)).Inc()
	m.leaseWait.WithLabelValues(route).Observe(wait.Seconds())
}

func (m *Metrics) LeaseFailed(route string, err error) {
	m.leaseFailures.WithLabelValues(route, failureCause(err)).Inc()
}

func (m *Metrics) Released(route string, reusable bool) {
	m.releases.WithLabelValues(route, strconv.FormatBool(reusable)).Inc()
}

func (m *Metrics) Closed(route string, reason pool.CloseReason) {
	m.closes.WithLabelValues(route, string(reason)).Inc()
}

func failureCause(err error) string {
	var ce *pool.ConnectError
	switch {
	case errors.Is(err, pool.ErrPoolTimeout):
		return "timeout"
	case errors.Is(err, pool.ErrPoolClosed):
		return "closed"
	case errors.As(err, &ce):
		return "connect"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
