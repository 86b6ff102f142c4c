package route

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

var ErrInvalidRoute = errors.New("invalid route")

// Route identifies the opposite endpoint of a pooled HTTP connection.
// Connections are never shared between distinct routes.
type Route struct {
	Scheme string
	Host   string
	Port   int
	// Proxy is the host:port of the forward proxy, empty for direct routes.
	Proxy string
}

func defaultPort(scheme string) int {
	switch scheme {
	case "https":
		return 443
	case "http":
		return 80
	}
	return 0
}

// FromURL derives the route of a request URL. proxy may be nil.
func FromURL(u *url.URL, proxy *url.URL) (Route, error) {
	if u == nil || u.Host == "" {
		return Route{}, fmt.Errorf("%w: missing host", ErrInvalidRoute)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Route{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRoute, u.Scheme)
	}

	r := Route{Scheme: scheme, Host: strings.ToLower(u.Hostname()), Port: defaultPort(scheme)}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Route{}, fmt.Errorf("%w: bad port %q", ErrInvalidRoute, p)
		}
		r.Port = port
	}

	if proxy != nil && proxy.Host != "" {
		proxyPort := proxy.Port()
		if proxyPort == "" {
			proxyPort = strconv.Itoa(defaultPort(strings.ToLower(proxy.Scheme)))
		}
		r.Proxy = net.JoinHostPort(strings.ToLower(proxy.Hostname()), proxyPort)
	}
	return r, nil
}

// Parse reads the String form: scheme://host:port, optionally followed by
// " via proxyhost:port".
func Parse(s string) (Route, error) {
	target, proxy, _ := strings.Cut(strings.TrimSpace(s), " via ")
	u, err := url.Parse(target)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	var pu *url.URL
	if proxy != "" {
		pu = &url.URL{Scheme: "http", Host: strings.TrimSpace(proxy)}
	}
	return FromURL(u, pu)
}

// Address is the host:port to dial: the proxy when there is one.
func (r Route) Address() string {
	if r.Proxy != "" {
		return r.Proxy
	}
	return r.TargetAddress()
}

func (r Route) TargetAddress() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

func (r Route) Secure() bool { return r.Scheme == "https" }

func (r Route) String() string {
	s := r.Scheme + "://" + r.TargetAddress()
	if r.Proxy != "" {
		s += " via " + r.Proxy
	}
	return s
}
