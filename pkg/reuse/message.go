package reuse

import (
	"net/http"
	"strings"

	"github.com/genc-murat/routepool/pkg/protocol"
)

// Request is the part of an HTTP request the reuse decision looks at.
type Request struct {
	Method string
	Header http.Header
}

// Response is the part of an HTTP response the reuse decision looks at.
// A nil Version means the message layer did not record one.
type Response struct {
	StatusCode int
	Version    *protocol.Version
	Header     http.Header
}

// FromHTTPRequest adapts a net/http request. A nil request yields nil.
func FromHTTPRequest(r *http.Request) *Request {
	if r == nil {
		return nil
	}
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	header := r.Header.Clone()
	if r.Close {
		if header == nil {
			header = make(http.Header)
		}
		if !hasToken(header.Values("Connection"), "close") {
			header.Add("Connection", "close")
		}
	}
	return &Request{Method: method, Header: header}
}

// FromHTTPResponse adapts a response read by net/http. ReadResponse moves
// Transfer-Encoding out of the header map, so it is put back here. A nil
// response yields nil.
func FromHTTPResponse(r *http.Response) *Response {
	if r == nil {
		return nil
	}
	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if len(r.TransferEncoding) > 0 && len(header.Values("Transfer-Encoding")) == 0 {
		header.Set("Transfer-Encoding", strings.Join(r.TransferEncoding, ", "))
	}

	var version *protocol.Version
	if r.ProtoMajor > 0 || r.ProtoMinor > 0 {
		if v, err := protocol.HTTP(r.ProtoMajor, r.ProtoMinor); err == nil {
			version = v
		}
	}
	return &Response{StatusCode: r.StatusCode, Version: version, Header: header}
}

// tokens splits comma separated header values into trimmed, non-empty tokens,
// preserving order across values.
func tokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

func hasToken(values []string, want string) bool {
	for _, tok := range tokens(values) {
		if strings.EqualFold(tok, want) {
			return true
		}
	}
	return false
}
