package httpapi

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meetgrid/backend/internal/v1/apperror"
	"github.com/meetgrid/backend/internal/v1/auth"
)

const claimsKey = "claims"

// SecurityHeaders sets the baseline hardening headers the specification
// requires on every response, regardless of route.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// TokenValidator is the subset of *auth.Validator (or *auth.MockValidator)
// RequireAuth needs, so development mode can swap in the unverified-JWT
// mock without RequireAuth knowing about it.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.CustomClaims, error)
}

// RequireAuth enforces the bearer-token requirement shared by every
// authenticated route, populating the gin context with the validated
// claims under the same "claims" key internal/v1/ratelimit reads.
func RequireAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			fail(c, apperror.Unauthenticated("missing bearer token"))
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			fail(c, apperror.Unauthenticated("invalid or expired token"))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// callerID extracts the authenticated user's ID from a request RequireAuth
// has already run on.
func callerID(c *gin.Context) string {
	claims, ok := c.Get(claimsKey)
	if !ok {
		return ""
	}
	return claims.(*auth.CustomClaims).Subject
}

func callerEmail(c *gin.Context) string {
	claims, ok := c.Get(claimsKey)
	if !ok {
		return ""
	}
	return claims.(*auth.CustomClaims).Email
}
