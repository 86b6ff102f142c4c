// Package client sends HTTP/1.x requests over connections leased from a
// route pool and decides after each response whether the connection may be
// reused.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/genc-murat/routepool/internal/core/ports"
	"github.com/genc-murat/routepool/internal/logger"
	"github.com/genc-murat/routepool/internal/pool"
	"github.com/genc-murat/routepool/internal/route"
	"github.com/genc-murat/routepool/pkg/protocol"
	"github.com/genc-murat/routepool/pkg/reuse"
)

var ErrUnsupportedConn = errors.New("client: pooled connection cannot carry HTTP")

// Leaser is the part of a pool the client needs.
type Leaser interface {
	Lease(ctx context.Context, r route.Route) (*pool.Entry[route.Route], error)
	Release(e *pool.Entry[route.Route], reusable bool) error
}

// StreamConn is what a pooled connection must offer to carry HTTP.
type StreamConn interface {
	ports.Connection
	io.Writer
	Reader() *bufio.Reader
	SetDeadline(t time.Time) error
}

type Options struct {
	Strategy reuse.Strategy
	// FallbackVersion is used when a response carries no version.
	FallbackVersion *protocol.Version
	// KeepAliveDefault bounds reuse when the response has no Keep-Alive
	// timeout. Zero leaves the entry's expiry alone.
	KeepAliveDefault time.Duration
	Proxy            *url.URL
	Logger           *slog.Logger
	Now              func() time.Time
}

type Client struct {
	pool             Leaser
	strategy         reuse.Strategy
	fallback         *protocol.Version
	keepAliveDefault time.Duration
	proxy            *url.URL
	log              *slog.Logger
	now              func() time.Time
}

var _ http.RoundTripper = (*Client)(nil)

func New(p Leaser, opts Options) *Client {
	c := &Client{
		pool:             p,
		strategy:         opts.Strategy,
		fallback:         opts.FallbackVersion,
		keepAliveDefault: opts.KeepAliveDefault,
		proxy:            opts.Proxy,
		log:              opts.Logger,
		now:              opts.Now,
	}
	if c.strategy == nil {
		c.strategy = reuse.Default
	}
	if c.fallback == nil {
		c.fallback = protocol.HTTP11
	}
	if c.log == nil {
		c.log = logger.Get().Logger
	}
	c.log = c.log.With("component", "client")
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	return c.Do(req.Context(), req)
}

// Do sends req and returns the response. The connection goes back to the
// pool once the body has been read to EOF, or is discarded if the body is
// closed before that.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	r, err := route.FromURL(req.URL, c.proxy)
	if err != nil {
		return nil, err
	}
	e, err := c.pool.Lease(ctx, r)
	if err != nil {
		return nil, err
	}
	conn, ok := e.Conn().(StreamConn)
	if !ok {
		c.release(e, false)
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedConn, e.Conn())
	}

	// Cancellation while writing or waiting for headers unblocks the I/O.
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})

	resp, err := c.exchange(conn, r, req)
	if !stop() {
		if err == nil {
			resp.Body.Close()
		}
		err = ctx.Err()
	}
	if err != nil {
		c.release(e, false)
		return nil, err
	}

	keep := c.strategy.KeepAlive(reuse.FromHTTPRequest(req), reuse.FromHTTPResponse(resp), c.fallback)
	if keep {
		e.UpdateExpiry(reuse.KeepAliveDuration(reuse.FromHTTPResponse(resp), c.keepAliveDefault), c.now())
	}
	c.log.Debug("reuse decision", "route", r.String(), "status", resp.StatusCode, "reusable", keep)

	if resp.Body == nil || resp.Body == http.NoBody {
		c.release(e, keep)
		return resp, nil
	}
	resp.Body = &trackedBody{
		rc:      resp.Body,
		release: func(reusable bool) { c.release(e, reusable && keep) },
	}
	return resp, nil
}

func (c *Client) exchange(conn StreamConn, r route.Route, req *http.Request) (*http.Response, error) {
	var err error
	if r.Proxy != "" && !r.Secure() {
		err = req.WriteProxy(conn)
	} else {
		err = req.Write(conn)
	}
	if err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	resp, err := http.ReadResponse(conn.Reader(), req)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}

func (c *Client) release(e *pool.Entry[route.Route], reusable bool) {
	if err := c.pool.Release(e, reusable); err != nil {
		c.log.Error("release failed", "route", e.Route().String(), "error", err)
	}
}

// trackedBody hands the connection back exactly once: reusable at EOF,
// not reusable on a read error or an early Close.
type trackedBody struct {
	rc      io.ReadCloser
	release func(reusable bool)
	once    sync.Once
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	switch {
	case err == io.EOF:
		b.once.Do(func() { b.release(true) })
	case err != nil:
		b.once.Do(func() { b.release(false) })
	}
	return n, err
}

func (b *trackedBody) Close() error {
	early := false
	b.once.Do(func() {
		early = true
		b.release(false)
	})
	err := b.rc.Close()
	if early {
		// the connection is already gone, draining it can only fail
		return nil
	}
	return err
}
