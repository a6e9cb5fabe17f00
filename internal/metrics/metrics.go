// Package metrics exposes operational counters in Prometheus format. The
// endpoint is internal: it answers only private-network callers or requests
// carrying the configured x-metrics-key header.
package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/playdesk/playdesk/internal/common/logger"
)

const statusScrapeTimeout = 5 * time.Second

// Metrics owns the registry and the instruments the rest of the process
// feeds. Gauge sources are wired after construction because the hub and
// scheduler are built later in startup.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	sessionStatus *prometheus.Desc
	statusCounts  func(ctx context.Context) (map[string]int, error)

	logger *logger.Logger
}

// New creates the registry with the process and Go collectors plus the
// application instruments.
func New(log *logger.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playdesk_http_requests_total",
			Help: "HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playdesk_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sessionStatus: prometheus.NewDesc(
			"playdesk_sessions",
			"Sessions by status.",
			[]string{"status"}, nil),
		logger: log.WithFields(zap.String("component", "metrics")),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m,
	)
	return m
}

// SetGauge registers a pull-style gauge backed by fn, for values like queue
// depth and connected clients that live in other components.
func (m *Metrics) SetGauge(name, help string, fn func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 { return float64(fn()) }))
}

// SetStatusCounts wires the session-status breakdown collected on scrape.
func (m *Metrics) SetStatusCounts(fn func(ctx context.Context) (map[string]int, error)) {
	m.statusCounts = fn
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.sessionStatus
}

// Collect implements prometheus.Collector: the session-status breakdown is
// read from storage at scrape time.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	if m.statusCounts == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), statusScrapeTimeout)
	defer cancel()

	counts, err := m.statusCounts(ctx)
	if err != nil {
		m.logger.Warn("failed to collect session status counts", zap.Error(err))
		return
	}
	for status, count := range counts {
		ch <- prometheus.MustNewConstMetric(m.sessionStatus,
			prometheus.GaugeValue, float64(count), status)
	}
}

// HTTPMiddleware records request counts and latency per route. The gin route
// template keeps the cardinality bounded.
func (m *Metrics) HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route,
			strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).
			Observe(time.Since(start).Seconds())
	}
}

// Handler serves the exposition endpoint, restricted to private-network
// callers unless the request carries the configured auth key.
func (m *Metrics) Handler(authKey string) gin.HandlerFunc {
	exposition := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		if !m.authorized(c, authKey) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		exposition.ServeHTTP(c.Writer, c.Request)
	}
}

func (m *Metrics) authorized(c *gin.Context, authKey string) bool {
	if authKey != "" && c.GetHeader("x-metrics-key") == authKey {
		return true
	}
	return isPrivateAddr(c.ClientIP())
}

func isPrivateAddr(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
