package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/playdesk/playdesk/internal/common/ratelimit"
)

func limitedRouter(general, ai *ratelimit.Keyed) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.POST("/chat", AIRateLimit(ai), ok)
	r.GET("/list", RateLimit(general), ok)
	return r
}

func newKeyed(perMinute, burst int) *ratelimit.Keyed {
	return ratelimit.NewKeyed(ratelimit.Limits{PerMinute: perMinute, Burst: burst},
		time.Second, 10*time.Minute)
}

func TestAIRateLimitKeysByConversationHandle(t *testing.T) {
	r := limitedRouter(newKeyed(60, 10), newKeyed(60, 1))

	send := func(handle string) int {
		req := httptest.NewRequest(http.MethodPost, "/chat", nil)
		if handle != "" {
			req.Header.Set("X-Conversation-Handle", handle)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("conv-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("conv-a"),
		"burst of one is spent for this conversation")
	assert.Equal(t, http.StatusOK, send("conv-b"),
		"another conversation has its own bucket")
}

func TestAIRateLimitDoesNotShareGeneralBucket(t *testing.T) {
	r := limitedRouter(newKeyed(60, 10), newKeyed(60, 1))

	chat := httptest.NewRequest(http.MethodPost, "/chat", nil)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, chat)
		if i == 1 {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
		}
	}

	// The general route keeps serving the same client.
	list := httptest.NewRequest(http.MethodGet, "/list", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, list)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAIRateLimitFallsBackToClientKey(t *testing.T) {
	r := limitedRouter(newKeyed(60, 10), newKeyed(60, 1))

	// No conversation handle: both requests share the client IP bucket.
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
