package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/genc-murat/routepool/internal/app"
	"github.com/genc-murat/routepool/internal/route"
)

type benchOptions struct {
	urls        []string
	requests    int
	concurrency int
	method      string
}

type benchResult struct {
	ok       atomic.Int64
	failed   atomic.Int64
	mu       sync.Mutex
	statuses map[int]int
	latency  []time.Duration
}

func (r *benchResult) record(status int, d time.Duration) {
	r.mu.Lock()
	r.statuses[status]++
	r.latency = append(r.latency, d)
	r.mu.Unlock()
}

func benchCommand(root *rootOptions) *cobra.Command {
	opts := &benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Send requests through the pool and report connection reuse",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(opts.urls) == 0 {
				return errors.New("at least one --url is required")
			}
			if opts.requests <= 0 || opts.concurrency <= 0 {
				return errors.New("--requests and --concurrency must be positive")
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			s, err := app.NewServer(cfg, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res := &benchResult{statuses: make(map[int]int)}
			start := time.Now()
			runBench(ctx, s, opts, res)
			elapsed := time.Since(start)

			printBench(cmd.OutOrStdout(), s, res, elapsed)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.urls, "url", nil, "target URL, repeatable; requests rotate over them")
	cmd.Flags().IntVarP(&opts.requests, "requests", "n", 100, "total number of requests")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 10, "requests in flight at once")
	cmd.Flags().StringVar(&opts.method, "method", http.MethodGet, "request method")
	return cmd
}

func runBench(ctx context.Context, s *app.Server, opts *benchOptions, res *benchResult) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)

	c := s.Client()
	for i := 0; i < opts.requests && ctx.Err() == nil; i++ {
		target := opts.urls[i%len(opts.urls)]
		g.Go(func() error {
			req, err := http.NewRequestWithContext(ctx, opts.method, target, nil)
			if err != nil {
				return err
			}
			start := time.Now()
			resp, err := c.Do(ctx, req)
			if err != nil {
				res.failed.Add(1)
				return nil
			}
			_, err = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if err != nil {
				res.failed.Add(1)
				return nil
			}
			res.ok.Add(1)
			res.record(resp.StatusCode, time.Since(start))
			return nil
		})
	}
	// Only a malformed URL fails the group, and it fails every request.
	if err := g.Wait(); err != nil {
		res.failed.Add(1)
	}
}

func printBench(w io.Writer, s *app.Server, res *benchResult, elapsed time.Duration) {
	fmt.Fprintf(w, "requests:    %d ok, %d failed in %s\n", res.ok.Load(), res.failed.Load(), elapsed.Round(time.Millisecond))
	if elapsed > 0 {
		fmt.Fprintf(w, "throughput:  %.1f req/s\n", float64(res.ok.Load())/elapsed.Seconds())
	}

	codes := make([]int, 0, len(res.statuses))
	for code := range res.statuses {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "status %d:  %d\n", code, res.statuses[code])
	}

	if n := len(res.latency); n > 0 {
		slices.Sort(res.latency)
		fmt.Fprintf(w, "latency:     p50 %s  p90 %s  p99 %s  max %s\n",
			res.latency[n*50/100], res.latency[n*90/100], res.latency[n*99/100], res.latency[n-1])
	}

	fmt.Fprintf(w, "pool:        %s\n", s.Pool().TotalStats())
	routes := s.Pool().Routes()
	slices.SortFunc(routes, func(a, b route.Route) int {
		return strings.Compare(a.String(), b.String())
	})
	for _, r := range routes {
		fmt.Fprintf(w, "  %-40s %s\n", r, s.Pool().RouteStats(r))
	}
}
