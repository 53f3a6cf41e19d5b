package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/exoxegroup/eng-ai/internal/auth"
)

// TokenVerifier checks a raw bearer token.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// RequireBearer rejects requests without a valid "Authorization: Bearer"
// token with 401 and the standard error envelope.
func RequireBearer(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(strings.TrimSpace(raw), " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			unauthorized(c, "bearer token required")
			return
		}
		claims, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			unauthorized(c, "invalid or expired token")
			return
		}
		c.Set("userID", claims.Email)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func unauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="researcher"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}
