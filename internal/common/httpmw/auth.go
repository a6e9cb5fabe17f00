package httpmw

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/apperr"
	"github.com/playdesk/playdesk/internal/common/httpapi"
)

const principalKey = "principal"

// Principal returns the authenticated principal set by RequireAuth, or an
// anonymous principal when none is present (public routes).
func Principal(c *gin.Context) auth.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(auth.Principal); ok {
			return p
		}
	}
	return auth.Principal{Role: auth.RoleAnon}
}

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// OptionalAuth attaches the principal when a valid bearer token is present
// but never rejects. Public routes use it so staff callers are recognized.
func OptionalAuth(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := BearerToken(c); token != "" {
			if principal, err := issuer.Verify(token); err == nil {
				c.Set(principalKey, principal)
			}
		}
		c.Next()
	}
}

// RequireAuth verifies the bearer token and attaches the principal.
// Requests without a valid token are rejected with 401.
func RequireAuth(issuer *auth.TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			httpapi.Fail(c, apperr.Unauthorized("missing bearer token"))
			c.Abort()
			return
		}
		principal, err := issuer.Verify(token)
		if err != nil {
			httpapi.Fail(c, err)
			c.Abort()
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireRole rejects authenticated requests whose role is not in the allow
// list. Must run after RequireAuth.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	allowed := make(map[auth.Role]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[Principal(c).Role] {
			httpapi.Fail(c, apperr.Forbidden("insufficient role"))
			c.Abort()
			return
		}
		c.Next()
	}
}
