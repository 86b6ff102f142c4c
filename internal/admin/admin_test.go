package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genc-murat/routepool/internal/core/ports"
	"github.com/genc-murat/routepool/internal/metrics"
	"github.com/genc-murat/routepool/internal/pool"
	"github.com/genc-murat/routepool/internal/route"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopConn struct{ closed bool }

func (c *nopConn) Close() error {
	c.closed = true
	return nil
}

func (c *nopConn) IsOpen() bool  { return !c.closed }
func (c *nopConn) IsStale() bool { return false }

var (
	routeA = route.Route{Scheme: "http", Host: "a.example", Port: 80}
	routeB = route.Route{Scheme: "https", Host: "b.example", Port: 443}
)

func newPool(t *testing.T) *pool.Pool[route.Route] {
	t.Helper()
	connector := ports.ConnectorFunc[route.Route](func(context.Context, route.Route) (ports.Connection, error) {
		return &nopConn{}, nil
	})
	p, err := pool.New[route.Route](connector, pool.Config{
		MaxTotal:                10,
		DefaultMaxPerRoute:      4,
		LeaseTimeout:            time.Second,
		ValidateAfterInactivity: -1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func lease(t *testing.T, p *pool.Pool[route.Route], r route.Route) *pool.Entry[route.Route] {
	t.Helper()
	e, err := p.Lease(context.Background(), r)
	require.NoError(t, err)
	return e
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestStatsAndRoutes(t *testing.T) {
	p := newPool(t)
	lease(t, p, routeA)
	require.NoError(t, p.Release(lease(t, p, routeB), true))
	h := New(p, Options{})

	w := do(t, h, http.MethodGet, "/pool/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[StatsResponse](t, w)
	assert.Equal(t, ports.PoolStats{Leased: 1, Available: 1, Max: 10}, stats.Total)
	assert.Equal(t, ports.PoolStats{Leased: 1, Max: 4}, stats.Routes["http://a.example:80"])
	assert.Equal(t, ports.PoolStats{Available: 1, Max: 4}, stats.Routes["https://b.example:443"])

	w = do(t, h, http.MethodGet, "/pool/routes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"http://a.example:80", "https://b.example:443"}, decode[[]string](t, w))
}

func TestRoutesMatchFilter(t *testing.T) {
	p := newPool(t)
	lease(t, p, routeA)
	lease(t, p, routeB)
	h := New(p, Options{})

	w := do(t, h, http.MethodGet, "/pool/routes?match=https://*", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"https://b.example:443"}, decode[[]string](t, w))

	w = do(t, h, http.MethodGet, "/pool/routes?match=*:80&match=*:443", "")
	assert.Equal(t, []string{"http://a.example:80", "https://b.example:443"}, decode[[]string](t, w))

	w = do(t, h, http.MethodGet, "/pool/stats?match=*.example:80", "")
	stats := decode[StatsResponse](t, w)
	assert.Len(t, stats.Routes, 1)
	assert.Contains(t, stats.Routes, "http://a.example:80")
	assert.Equal(t, 2, stats.Total.Leased)

	w = do(t, h, http.MethodGet, "/pool/routes?match=ftp://*", "")
	assert.Equal(t, []string{}, decode[[]string](t, w))
}

func TestUpdateLimits(t *testing.T) {
	p := newPool(t)
	lease(t, p, routeA)
	h := New(p, Options{})

	w := do(t, h, http.MethodPut, "/pool/limits",
		`{"max_total": 30, "default_max_per_route": 6, "routes": {"http://a.example": 12, "https://c.example:8443": 2}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, 30, p.MaxTotal())
	assert.Equal(t, 6, p.DefaultMaxPerRoute())
	assert.Equal(t, 12, p.MaxPerRoute(routeA))
	assert.Equal(t, 2, p.MaxPerRoute(route.Route{Scheme: "https", Host: "c.example", Port: 8443}))

	limits := decode[LimitsResponse](t, w)
	assert.Equal(t, 30, limits.MaxTotal)
	assert.Equal(t, map[string]int{"http://a.example:80": 12, "https://c.example:8443": 2}, limits.Routes)

	w = do(t, h, http.MethodGet, "/pool/limits", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, limits, decode[LimitsResponse](t, w))
}

func TestLimitsListOverridesWithoutConnections(t *testing.T) {
	p := newPool(t)
	require.NoError(t, p.SetMaxPerRoute(routeB, 7))
	lease(t, p, routeA)
	h := New(p, Options{})

	w := do(t, h, http.MethodGet, "/pool/limits", "")
	require.Equal(t, http.StatusOK, w.Code)
	limits := decode[LimitsResponse](t, w)
	assert.Equal(t, map[string]int{"http://a.example:80": 4, "https://b.example:443": 7}, limits.Routes)
}

func TestUpdateLimitsRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"max_total": `,
		"not an object":   `[1, 2]`,
		"negative":        `{"max_total": -1}`,
		"fraction":        `{"default_max_per_route": 1.5}`,
		"string":          `{"max_total": "10"}`,
		"routes array":    `{"max_total": 50, "routes": [1]}`,
		"bad route":       `{"max_total": 50, "routes": {"ftp://x": 1}}`,
		"bad route limit": `{"max_total": 50, "routes": {"http://x": -3}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			p := newPool(t)
			h := New(p, Options{})

			w := do(t, h, http.MethodPut, "/pool/limits", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, http.StatusBadRequest, decode[ErrorResponse](t, w).Code)
			assert.Equal(t, 10, p.MaxTotal(), "nothing applied")
			assert.Equal(t, 4, p.DefaultMaxPerRoute())
		})
	}
}

func TestCloseIdle(t *testing.T) {
	p := newPool(t)
	require.NoError(t, p.Release(lease(t, p, routeA), true))
	h := New(p, Options{})

	w := do(t, h, http.MethodPost, "/pool/close-idle?idle=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/pool/close-idle?idle=1h", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[StatsResponse](t, w).Total.Available)

	w = do(t, h, http.MethodPost, "/pool/close-idle", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[StatsResponse](t, w).Total.Available)
}

func TestCloseExpired(t *testing.T) {
	p := newPool(t)
	e := lease(t, p, routeA)
	e.UpdateExpiry(50*time.Millisecond, time.Now())
	require.NoError(t, p.Release(e, true))
	h := New(p, Options{})

	time.Sleep(60 * time.Millisecond)
	w := do(t, h, http.MethodPost, "/pool/close-expired", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[StatsResponse](t, w).Total.Available)
	assert.True(t, e.Conn().(*nopConn).closed)
}

func TestMetricsEndpoint(t *testing.T) {
	p := newPool(t)
	m := metrics.New("routepool")
	require.NoError(t, m.RegisterPool(p))

	h := New(p, Options{Registry: m.Registry()})
	w := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "routepool_pool_max 10")

	w = do(t, New(p, Options{}), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
