// Package app wires configuration, pool, client, metrics and the admin API
// into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/genc-murat/routepool/internal/admin"
	"github.com/genc-murat/routepool/internal/client"
	"github.com/genc-murat/routepool/internal/config"
	"github.com/genc-murat/routepool/internal/core/ports"
	"github.com/genc-murat/routepool/internal/logger"
	"github.com/genc-murat/routepool/internal/metrics"
	"github.com/genc-murat/routepool/internal/pool"
	"github.com/genc-murat/routepool/internal/route"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	pool    *pool.Pool[route.Route]
	client  *client.Client
	metrics *metrics.Metrics
}

// NewServer builds the pool from cfg. connector may be nil to dial with
// the configured transport.
func NewServer(cfg *config.Config, connector ports.Connector[route.Route]) (*Server, error) {
	log := logger.Get().Logger
	if connector == nil {
		connector = cfg.Dialer()
	}

	opts := []pool.Option{pool.WithLogger(log)}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Namespace)
		if cfg.Metrics.Runtime {
			m.WithRuntime()
		}
		opts = append(opts, pool.WithObserver(m))
	}

	p, err := pool.New(connector, cfg.PoolConfig(), opts...)
	if err != nil {
		return nil, err
	}
	limits, err := cfg.RouteLimits()
	if err != nil {
		p.Close()
		return nil, err
	}
	for r, n := range limits {
		if err := p.SetMaxPerRoute(r, n); err != nil {
			p.Close()
			return nil, err
		}
	}
	if m != nil {
		if err := m.RegisterPool(p); err != nil {
			p.Close()
			return nil, err
		}
	}

	var proxy *url.URL
	if cfg.Client.Proxy != "" {
		if proxy, err = url.Parse(cfg.Client.Proxy); err != nil {
			p.Close()
			return nil, fmt.Errorf("client proxy: %w", err)
		}
	}

	return &Server{
		cfg:     cfg,
		log:     log.With("component", "app"),
		pool:    p,
		metrics: m,
		client: client.New(p, client.Options{
			FallbackVersion:  cfg.Client.FallbackVersion,
			KeepAliveDefault: cfg.Client.KeepAliveDefault,
			Proxy:            proxy,
			Logger:           log,
		}),
	}, nil
}

func (s *Server) Pool() *pool.Pool[route.Route] { return s.pool }
func (s *Server) Client() *client.Client        { return s.client }

func (s *Server) Handler() http.Handler {
	opts := admin.Options{Logger: s.log}
	if s.metrics != nil {
		opts.Registry = s.metrics.Registry()
	}
	return admin.New(s.pool, opts)
}

// Serve runs the admin API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("admin api listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Start listens on the configured admin address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Admin.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Close() error {
	return s.pool.Close()
}
