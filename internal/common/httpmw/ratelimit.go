package httpmw

import (
	"github.com/gin-gonic/gin"

	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/httpapi"
	"github.com/playdesk/playdesk/internal/common/ratelimit"
)

// rateLimitKey picks the bucket key for a request. Precedence: authenticated
// user, session path param, ticket token, client IP.
func rateLimitKey(c *gin.Context) string {
	if p := Principal(c); p.UserID != "" {
		return "user:" + p.UserID
	}
	if sessionID := c.Param("id"); sessionID != "" {
		return "session:" + sessionID
	}
	if token := c.Query("token"); token != "" {
		return "ticket:" + token
	}
	if token := c.Param("token"); token != "" {
		return "ticket:" + token
	}
	return "ip:" + c.ClientIP()
}

// RateLimit enforces a keyed token bucket on HTTP requests.
func RateLimit(limiter *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(rateLimitKey(c)) {
			httpapi.Fail(c, apperr.RateLimited("too many requests"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// AIRateLimit is the stricter bucket for endpoints that call the AI provider.
// When the request carries a conversation handle, the bucket is keyed by it
// so one conversation cannot starve others behind the same IP.
func AIRateLimit(limiter *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rateLimitKey(c)
		if handle := c.GetHeader("X-Conversation-Handle"); handle != "" {
			key = "conv:" + handle
		}
		if !limiter.Allow(key) {
			httpapi.Fail(c, apperr.RateLimited("too many AI requests"))
			c.Abort()
			return
		}
		c.Next()
	}
}
