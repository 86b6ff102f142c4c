// Package admin serves the pool's control surface over HTTP.
package admin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	"github.com/genc-murat/routepool/internal/core/ports"
	"github.com/genc-murat/routepool/internal/logger"
	"github.com/genc-murat/routepool/internal/route"
	"github.com/genc-murat/routepool/pkg/pattern"
)

type Control = ports.PoolControl[route.Route]

type Options struct {
	// Registry is served on /metrics when set.
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

type StatsResponse struct {
	Total  ports.PoolStats            `json:"total"`
	Routes map[string]ports.PoolStats `json:"routes"`
}

type LimitsResponse struct {
	MaxTotal           int            `json:"max_total"`
	DefaultMaxPerRoute int            `json:"default_max_per_route"`
	Routes             map[string]int `json:"routes"`
}

type handler struct {
	ctrl    Control
	log     *slog.Logger
	matcher *pattern.Matcher
}

// New builds the admin router.
func New(ctrl Control, opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Get().Logger
	}
	h := &handler{ctrl: ctrl, log: log.With("component", "admin"), matcher: pattern.NewMatcher()}

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())

	p := r.Group("/pool")
	p.GET("/stats", h.stats)
	p.GET("/routes", h.routes)
	p.GET("/limits", h.limits)
	p.PUT("/limits", h.updateLimits)
	p.POST("/close-idle", h.closeIdle)
	p.POST("/close-expired", h.closeExpired)

	if opts.Registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}
	return r
}

func (h *handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func respondError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error(), Code: code})
}

// sortedRoutes lists the pool's routes, keeping those matching any of
// patterns when patterns is non-empty.
func (h *handler) sortedRoutes(patterns []string) []route.Route {
	routes := h.ctrl.Routes()
	if len(patterns) > 0 {
		routes = slices.DeleteFunc(routes, func(r route.Route) bool {
			return !h.matcher.MatchAny(patterns, r.String())
		})
	}
	slices.SortFunc(routes, func(a, b route.Route) int {
		return strings.Compare(a.String(), b.String())
	})
	return routes
}

func (h *handler) snapshot(patterns []string) StatsResponse {
	resp := StatsResponse{Total: h.ctrl.TotalStats(), Routes: make(map[string]ports.PoolStats)}
	for _, r := range h.sortedRoutes(patterns) {
		resp.Routes[r.String()] = h.ctrl.RouteStats(r)
	}
	return resp
}

func (h *handler) stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot(c.QueryArray("match")))
}

func (h *handler) routes(c *gin.Context) {
	names := make([]string, 0)
	for _, r := range h.sortedRoutes(c.QueryArray("match")) {
		names = append(names, r.String())
	}
	c.JSON(http.StatusOK, names)
}

func (h *handler) currentLimits() LimitsResponse {
	resp := LimitsResponse{
		MaxTotal:           h.ctrl.MaxTotal(),
		DefaultMaxPerRoute: h.ctrl.DefaultMaxPerRoute(),
		Routes:             make(map[string]int),
	}
	for r, n := range h.ctrl.Limits() {
		resp.Routes[r.String()] = n
	}
	for _, r := range h.sortedRoutes(nil) {
		resp.Routes[r.String()] = h.ctrl.MaxPerRoute(r)
	}
	return resp
}

func (h *handler) limits(c *gin.Context) {
	c.JSON(http.StatusOK, h.currentLimits())
}

var errBadPayload = errors.New("invalid limits payload")

func limitValue(field string, v gjson.Result) (int, error) {
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) || v.Num < 0 || v.Num > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer, got %s", errBadPayload, field, v.Raw)
	}
	return int(v.Int()), nil
}

// updateLimits applies {"max_total", "default_max_per_route", "routes"}.
// Every field is optional; nothing is applied unless all of them are valid.
func (h *handler) updateLimits(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		respondError(c, http.StatusBadRequest, fmt.Errorf("%w: expected a JSON object", errBadPayload))
		return
	}

	var (
		apply []func() error
		perr  error
	)
	fields := gjson.GetManyBytes(body, "max_total", "default_max_per_route", "routes")

	if v := fields[0]; v.Exists() {
		n, err := limitValue("max_total", v)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		apply = append(apply, func() error { return h.ctrl.SetMaxTotal(n) })
	}
	if v := fields[1]; v.Exists() {
		n, err := limitValue("default_max_per_route", v)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		apply = append(apply, func() error { return h.ctrl.SetDefaultMaxPerRoute(n) })
	}
	if v := fields[2]; v.Exists() {
		if !v.IsObject() {
			respondError(c, http.StatusBadRequest, fmt.Errorf("%w: routes must be an object", errBadPayload))
			return
		}
		v.ForEach(func(key, value gjson.Result) bool {
			r, err := route.Parse(key.String())
			if err != nil {
				perr = err
				return false
			}
			n, err := limitValue("routes."+key.String(), value)
			if err != nil {
				perr = err
				return false
			}
			apply = append(apply, func() error { return h.ctrl.SetMaxPerRoute(r, n) })
			return true
		})
		if perr != nil {
			respondError(c, http.StatusBadRequest, perr)
			return
		}
	}

	for _, fn := range apply {
		if err := fn(); err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
	}
	h.log.Info("pool limits updated", "changes", len(apply))
	c.JSON(http.StatusOK, h.currentLimits())
}

func (h *handler) closeIdle(c *gin.Context) {
	idle := time.Duration(0)
	if q := c.Query("idle"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		idle = d
	}
	h.ctrl.CloseIdle(idle)
	c.JSON(http.StatusOK, h.snapshot(nil))
}

func (h *handler) closeExpired(c *gin.Context) {
	h.ctrl.CloseExpired()
	c.JSON(http.StatusOK, h.snapshot(nil))
}
