// Package reuse decides whether a connection that just carried an HTTP
// exchange may be kept open and handed to another caller.
package reuse

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/genc-murat/routepool/pkg/protocol"
)

const (
	headerConnection       = "Connection"
	headerProxyConnection  = "Proxy-Connection"
	headerContentLength    = "Content-Length"
	headerTransferEncoding = "Transfer-Encoding"
	headerKeepAlive        = "Keep-Alive"

	tokenClose     = "close"
	tokenKeepAlive = "keep-alive"
	tokenChunked   = "chunked"
)

// Strategy reports whether the connection behind a finished exchange may be
// reused. req may be nil. fallback is used when resp carries no version.
type Strategy interface {
	KeepAlive(req *Request, resp *Response, fallback *protocol.Version) bool
}

// DefaultStrategy follows RFC 7230 persistence rules. It is stateless and
// safe for concurrent use.
type DefaultStrategy struct{}

var Default Strategy = DefaultStrategy{}

// verdict is the outcome of a single rule. undecided lets the next rule run.
type verdict int

const (
	undecided verdict = iota
	reusable
	notReusable
)

func (DefaultStrategy) KeepAlive(req *Request, resp *Response, fallback *protocol.Version) bool {
	if resp == nil {
		return false
	}
	rules := []func() verdict{
		func() verdict { return requestWantsClose(req) },
		func() verdict { return noContentFraming(resp) },
		func() verdict { return bodyFraming(req, resp) },
		func() verdict { return connectionTokens(resp, effectiveVersion(resp, fallback)) },
	}
	for _, rule := range rules {
		switch rule() {
		case reusable:
			return true
		case notReusable:
			return false
		}
	}
	return false
}

func requestWantsClose(req *Request) verdict {
	if req != nil && hasToken(req.Header.Values(headerConnection), tokenClose) {
		return notReusable
	}
	return undecided
}

// noContentFraming rejects 204 responses that still announce a body; a
// misbehaving server that sends one would desynchronize the connection.
func noContentFraming(resp *Response) verdict {
	if resp.StatusCode != http.StatusNoContent {
		return undecided
	}
	if n, ok := contentLength(resp.Header); ok && n > 0 {
		return notReusable
	}
	if len(resp.Header.Values(headerTransferEncoding)) > 0 {
		return notReusable
	}
	return undecided
}

// bodyFraming rejects responses whose end can only be signalled by closing
// the connection.
func bodyFraming(req *Request, resp *Response) verdict {
	if te := resp.Header.Values(headerTransferEncoding); len(te) > 0 {
		if !strings.EqualFold(te[0], tokenChunked) {
			return notReusable
		}
		return undecided
	}
	method := ""
	if req != nil {
		method = req.Method
	}
	if canHaveBody(method, resp.StatusCode) && len(resp.Header.Values(headerContentLength)) != 1 {
		return notReusable
	}
	return undecided
}

func connectionTokens(resp *Response, version *protocol.Version) verdict {
	values := resp.Header.Values(headerConnection)
	if len(values) == 0 {
		values = resp.Header.Values(headerProxyConnection)
	}
	persistentByDefault := version != nil && version.GreaterEquals(protocol.HTTP11)

	if len(values) == 0 {
		if persistentByDefault {
			return reusable
		}
		return notReusable
	}
	if persistentByDefault {
		if hasToken(values, tokenClose) {
			return notReusable
		}
		return reusable
	}
	if hasToken(values, tokenKeepAlive) {
		return reusable
	}
	return notReusable
}

func effectiveVersion(resp *Response, fallback *protocol.Version) *protocol.Version {
	if resp.Version != nil {
		return resp.Version
	}
	return fallback
}

// contentLength returns the first Content-Length value. ok is false when the
// header is missing or does not parse.
func contentLength(h http.Header) (int64, bool) {
	v := h.Get(headerContentLength)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func canHaveBody(method string, status int) bool {
	if strings.EqualFold(method, http.MethodHead) {
		return false
	}
	if strings.EqualFold(method, http.MethodConnect) && status == http.StatusOK {
		return false
	}
	return status >= http.StatusOK &&
		status != http.StatusNoContent &&
		status != http.StatusNotModified
}

// NoReuse closes every connection after a single exchange.
type NoReuse struct{}

func (NoReuse) KeepAlive(*Request, *Response, *protocol.Version) bool { return false }

// KeepAliveDuration returns the "timeout" parameter of the response's
// Keep-Alive header, or def when absent or malformed.
func KeepAliveDuration(resp *Response, def time.Duration) time.Duration {
	if resp == nil {
		return def
	}
	for _, param := range tokens(resp.Header.Values(headerKeepAlive)) {
		name, value, ok := strings.Cut(param, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "timeout") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(strings.TrimSpace(value), `"`))
		if err != nil || secs < 0 {
			return def
		}
		return time.Duration(secs) * time.Second
	}
	return def
}
