package reuse

import (
	"bufio"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genc-murat/routepool/pkg/protocol"
)

func header(kv ...string) http.Header {
	h := make(http.Header)
	for i := 0; i+1 < len(kv); i += 2 {
		h.Add(kv[i], kv[i+1])
	}
	return h
}

func TestDefaultStrategyKeepAlive(t *testing.T) {
	tests := []struct {
		name     string
		req      *Request
		resp     *Response
		fallback *protocol.Version
		want     bool
	}{
		{
			name: "request connection close wins",
			req:  &Request{Method: "GET", Header: header("Connection", "close")},
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "0", "Connection", "keep-alive")},
			want: false,
		},
		{
			name: "request close token among others",
			req:  &Request{Method: "GET", Header: header("Connection", "Upgrade, CLOSE")},
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "0")},
			want: false,
		},
		{
			name: "no content with positive content length",
			resp: &Response{StatusCode: 204, Version: protocol.HTTP11, Header: header("Content-Length", "5")},
			want: false,
		},
		{
			name: "no content with transfer encoding",
			resp: &Response{StatusCode: 204, Version: protocol.HTTP11, Header: header("Transfer-Encoding", "chunked")},
			want: false,
		},
		{
			name: "no content without framing falls through to version default",
			resp: &Response{StatusCode: 204, Version: protocol.HTTP11, Header: header()},
			want: true,
		},
		{
			name: "no content with unparseable length falls through",
			resp: &Response{StatusCode: 204, Version: protocol.HTTP11, Header: header("Content-Length", "abc")},
			want: true,
		},
		{
			name: "no content with zero length",
			resp: &Response{StatusCode: 204, Version: protocol.HTTP11, Header: header("Content-Length", "0")},
			want: true,
		},
		{
			name: "no content on http 1.0 falls through to non persistent default",
			resp: &Response{StatusCode: 204, Version: protocol.HTTP10, Header: header()},
			want: false,
		},
		{
			name: "non chunked transfer encoding",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Transfer-Encoding", "gzip")},
			want: false,
		},
		{
			name: "chunked transfer encoding",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Transfer-Encoding", "Chunked")},
			want: true,
		},
		{
			name: "missing content length on body response",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header()},
			want: false,
		},
		{
			name: "duplicate content length",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "10", "Content-Length", "10")},
			want: false,
		},
		{
			name: "head response needs no content length",
			req:  &Request{Method: "HEAD", Header: header()},
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header()},
			want: true,
		},
		{
			name: "connect 200 needs no content length",
			req:  &Request{Method: "CONNECT", Header: header()},
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header()},
			want: true,
		},
		{
			name: "not modified needs no content length",
			resp: &Response{StatusCode: 304, Version: protocol.HTTP11, Header: header()},
			want: true,
		},
		{
			name: "informational needs no content length",
			resp: &Response{StatusCode: 100, Version: protocol.HTTP11, Header: header()},
			want: true,
		},
		{
			name: "http 1.1 connection close",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "2", "Connection", "close")},
			want: false,
		},
		{
			name: "http 1.1 close in second connection header",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "2", "Connection", "keep-alive", "Connection", "Close")},
			want: false,
		},
		{
			name: "http 1.1 connection keep alive",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "2", "Connection", "keep-alive")},
			want: true,
		},
		{
			name: "http 1.0 default",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP10, Header: header("Content-Length", "2")},
			want: false,
		},
		{
			name: "http 1.0 keep alive",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP10, Header: header("Content-Length", "2", "Connection", "Keep-Alive")},
			want: true,
		},
		{
			name: "http 1.0 unrelated connection token",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP10, Header: header("Content-Length", "2", "Connection", "TE")},
			want: false,
		},
		{
			name: "proxy connection used when connection absent",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP10, Header: header("Content-Length", "2", "Proxy-Connection", "keep-alive")},
			want: true,
		},
		{
			name: "connection takes precedence over proxy connection",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "2", "Connection", "keep-alive", "Proxy-Connection", "close")},
			want: true,
		},
		{
			name:     "fallback version when response has none",
			resp:     &Response{StatusCode: 200, Header: header("Content-Length", "2")},
			fallback: protocol.HTTP10,
			want:     false,
		},
		{
			name:     "fallback http 1.1",
			resp:     &Response{StatusCode: 200, Header: header("Content-Length", "2")},
			fallback: protocol.HTTP11,
			want:     true,
		},
		{
			name:     "response version overrides fallback",
			resp:     &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "2")},
			fallback: protocol.HTTP10,
			want:     true,
		},
		{
			name: "no version at all is not persistent",
			resp: &Response{StatusCode: 200, Header: header("Content-Length", "2")},
			want: false,
		},
		{
			name: "http 2 without connection header",
			resp: &Response{StatusCode: 200, Version: protocol.HTTP2, Header: header("Content-Length", "2")},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Default.KeepAlive(tt.req, tt.resp, tt.fallback))
		})
	}
}

func TestKeepAliveDoesNotMutate(t *testing.T) {
	req := &Request{Method: "GET", Header: header("Connection", "keep-alive")}
	resp := &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "3")}
	before := resp.Header.Clone()

	Default.KeepAlive(req, resp, protocol.HTTP11)

	assert.Equal(t, before, resp.Header)
	assert.Equal(t, "keep-alive", req.Header.Get("Connection"))
}

func TestKeepAliveNilResponse(t *testing.T) {
	assert.False(t, Default.KeepAlive(nil, nil, protocol.HTTP11))
	assert.Nil(t, FromHTTPResponse(nil))
	assert.False(t, Default.KeepAlive(nil, FromHTTPResponse(nil), protocol.HTTP11))
}

func TestNoReuse(t *testing.T) {
	resp := &Response{StatusCode: 200, Version: protocol.HTTP11, Header: header("Content-Length", "0")}
	assert.False(t, NoReuse{}.KeepAlive(nil, resp, protocol.HTTP11))
}

func TestFromHTTPResponseRestoresTransferEncoding(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nabc\r\n0\r\n\r\n"
	httpResp, err := http.ReadResponse(bufio.NewReader(strings.NewReader(raw)), nil)
	require.NoError(t, err)
	defer httpResp.Body.Close()

	resp := FromHTTPResponse(httpResp)
	assert.Equal(t, "chunked", resp.Header.Get("Transfer-Encoding"))
	assert.Same(t, protocol.HTTP11, resp.Version)
	assert.True(t, Default.KeepAlive(nil, resp, nil))
}

func TestFromHTTPRequest(t *testing.T) {
	assert.Nil(t, FromHTTPRequest(nil))

	httpReq, err := http.NewRequest(http.MethodPost, "http://example.com/", nil)
	require.NoError(t, err)
	httpReq.Close = true

	req := FromHTTPRequest(httpReq)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "close", req.Header.Get("Connection"))
	assert.Empty(t, httpReq.Header.Get("Connection"), "adapter must not touch the original request")
}

func TestKeepAliveDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"timeout and max", "timeout=5, max=100", 5 * time.Second},
		{"quoted", `timeout="7"`, 7 * time.Second},
		{"no timeout", "max=100", time.Minute},
		{"malformed", "timeout=soon", time.Minute},
		{"absent", "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := header()
			if tt.value != "" {
				h.Set("Keep-Alive", tt.value)
			}
			resp := &Response{StatusCode: 200, Version: protocol.HTTP11, Header: h}
			assert.Equal(t, tt.want, KeepAliveDuration(resp, time.Minute))
		})
	}
}
