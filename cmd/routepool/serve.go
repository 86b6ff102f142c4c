package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/genc-murat/routepool/internal/app"
	"github.com/genc-murat/routepool/internal/config"
	"github.com/genc-murat/routepool/internal/logger"
)

type serveOptions struct {
	addr     string
	urls     []string
	interval time.Duration
}

func serveCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pool with its admin API until interrupted",
		Long:  "serve keeps a pool open and exposes stats, limits and metrics over HTTP. With --url it also polls the given targets through the pool.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Admin.Addr = opts.addr
				cfg.Admin.Enabled = true
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", "", "admin listen address, overrides admin.addr and enables the admin API")
	cmd.Flags().StringSliceVar(&opts.urls, "url", nil, "URL to poll through the pool, repeatable")
	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "poll interval for --url")
	return cmd
}

// runServe keeps the pool open until ctx is done, serving the admin API when
// it is enabled and polling the configured URLs.
func runServe(ctx context.Context, cfg *config.Config, opts *serveOptions) error {
	s, err := app.NewServer(cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	log := logger.Get().With("component", "serve")
	g, ctx := errgroup.WithContext(ctx)
	if cfg.Admin.Enabled {
		g.Go(func() error {
			return s.Start(ctx)
		})
	} else {
		log.Info("admin api disabled")
	}
	if len(opts.urls) > 0 && opts.interval > 0 {
		g.Go(func() error {
			poll(ctx, s, opts, log.Logger)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	log.Info("routepool started", "env", cfg.Environment, "admin", cfg.Admin.Enabled, "addr", cfg.Admin.Addr)
	err = g.Wait()
	log.Info("routepool stopped")
	return err
}

func poll(ctx context.Context, s *app.Server, opts *serveOptions, log *slog.Logger) {
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	for {
		for _, target := range opts.urls {
			fetch(ctx, s, target, log)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func fetch(ctx context.Context, s *app.Server, target string, log *slog.Logger) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		log.Warn("invalid poll url", "url", target, "error", err)
		return
	}
	start := time.Now()
	resp, err := s.Client().Do(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("poll failed", "url", target, "error", err)
		}
		return
	}
	n, _ := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	log.Info("poll", "url", target, "status", resp.StatusCode, "bytes", n, "took", time.Since(start))
}
