package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playdesk/playdesk/internal/common/logger"
)

func newTestRouter(m *Metrics, authKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(m.HTTPMiddleware())
	router.GET("/metrics", m.Handler(authKey))
	router.GET("/api/v1/things/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	return router
}

func scrape(t *testing.T, router *gin.Engine, remoteAddr string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMetricsPrivateCallerAllowed(t *testing.T) {
	m := New(logger.Default())
	router := newTestRouter(m, "")

	w := scrape(t, router, "127.0.0.1:52000", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestMetricsPublicCallerNeedsKey(t *testing.T) {
	m := New(logger.Default())
	router := newTestRouter(m, "s3cret")

	denied := scrape(t, router, "203.0.113.9:52000", nil)
	assert.Equal(t, http.StatusForbidden, denied.Code)

	allowed := scrape(t, router, "203.0.113.9:52000", map[string]string{"x-metrics-key": "s3cret"})
	assert.Equal(t, http.StatusOK, allowed.Code)
}

func TestMetricsRecordsHTTPRequests(t *testing.T) {
	m := New(logger.Default())
	router := newTestRouter(m, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things/42", nil)
	req.RemoteAddr = "10.0.0.5:41000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	body := scrape(t, router, "10.0.0.5:41000", nil).Body.String()
	assert.Contains(t, body, `playdesk_http_requests_total{method="GET",route="/api/v1/things/:id",status="200"} 1`)
	assert.Contains(t, body, "playdesk_http_request_duration_seconds")
}

func TestMetricsSessionStatusBreakdown(t *testing.T) {
	m := New(logger.Default())
	m.SetStatusCounts(func(ctx context.Context) (map[string]int, error) {
		return map[string]int{"QUEUED": 3, "IN_PROGRESS": 1}, nil
	})
	m.SetGauge("playdesk_queue_depth", "Sessions waiting for an agent.", func() int { return 3 })
	router := newTestRouter(m, "")

	body := scrape(t, router, "127.0.0.1:52000", nil).Body.String()
	assert.Contains(t, body, `playdesk_sessions{status="QUEUED"} 3`)
	assert.Contains(t, body, `playdesk_sessions{status="IN_PROGRESS"} 1`)
	assert.Contains(t, body, "playdesk_queue_depth 3")
	assert.True(t, strings.Contains(body, "playdesk_sessions"))
}
