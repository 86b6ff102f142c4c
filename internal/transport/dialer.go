// Package transport opens the physical connections pooled for HTTP routes.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/genc-murat/routepool/internal/core/ports"
	"github.com/genc-murat/routepool/internal/route"
)

const (
	DefaultDialTimeout      = 10 * time.Second
	DefaultKeepAlive        = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
)

// Dialer connects to a route directly or through its proxy. https routes
// behind a proxy are tunnelled with CONNECT before the TLS handshake.
type Dialer struct {
	Timeout          time.Duration
	KeepAlive        time.Duration
	HandshakeTimeout time.Duration
	// TLSConfig is cloned per connection; ServerName defaults to the route host.
	TLSConfig *tls.Config
	// StaleProbe makes Conn.IsStale do a non-blocking read to notice
	// connections the server has closed.
	StaleProbe bool
}

var _ ports.Connector[route.Route] = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{
		Timeout:          DefaultDialTimeout,
		KeepAlive:        DefaultKeepAlive,
		HandshakeTimeout: DefaultHandshakeTimeout,
		StaleProbe:       true,
	}
}

func (d *Dialer) Open(ctx context.Context, r route.Route) (ports.Connection, error) {
	return d.Dial(ctx, r)
}

func (d *Dialer) Dial(ctx context.Context, r route.Route) (*Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	raw, err := nd.DialContext(ctx, "tcp", r.Address())
	if err != nil {
		return nil, err
	}

	conn := raw
	if r.Secure() {
		if r.Proxy != "" {
			if err := d.tunnel(ctx, raw, r); err != nil {
				raw.Close()
				return nil, err
			}
		}
		tc, err := d.handshake(ctx, raw, r)
		if err != nil {
			raw.Close()
			return nil, err
		}
		conn = tc
	}
	return newConn(conn, d.StaleProbe), nil
}

func (d *Dialer) handshake(ctx context.Context, raw net.Conn, r route.Route) (*tls.Conn, error) {
	cfg := &tls.Config{}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = r.Host
	}

	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}
	tc := tls.Client(raw, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tls handshake with %s: %w", r.TargetAddress(), err)
	}
	return tc, nil
}

// tunnel asks the proxy to open a TCP tunnel to the route's target.
func (d *Dialer) tunnel(ctx context.Context, raw net.Conn, r route.Route) error {
	if deadline, ok := ctx.Deadline(); ok {
		raw.SetDeadline(deadline)
		defer raw.SetDeadline(time.Time{})
	}

	target := r.TargetAddress()
	req := &http.Request{
		Method: http.MethodConnect,
		Host:   target,
		Header: make(http.Header),
	}
	if _, err := fmt.Fprintf(raw, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", target, target); err != nil {
		return fmt.Errorf("proxy connect to %s: %w", target, err)
	}

	// Nothing follows the reply until the TLS handshake starts.
	resp, err := http.ReadResponse(bufio.NewReader(raw), req)
	if err != nil {
		return fmt.Errorf("proxy connect to %s: %w", target, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy connect to %s: %s", target, resp.Status)
	}
	return nil
}
