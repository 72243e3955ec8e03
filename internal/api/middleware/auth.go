package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"lexidraft-realtime/internal/auth"
	"lexidraft-realtime/pkg/response"

	"github.com/gin-gonic/gin"
)

// Context keys set by RequireAuth.
const (
	ContextUserID   = "user_id"
	ContextRole     = "role"
	ContextIdentity = "identity"
)

type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

type AuthMiddleware struct {
	verifier TokenVerifier
}

func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
	}
}

// RequireAuth validates the bearer token and stores the caller's identity
// in the gin context.
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, "authorization header is required")
			return
		}

		identity, err := am.verifier.Verify(authHeader)
		if err != nil {
			details := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				details = "token expired"
			}
			slog.Debug("Rejected bearer token", "path", c.FullPath(), "error", err)
			response.Error(c, http.StatusUnauthorized, response.ErrCodeUnauthorized, details)
			return
		}

		c.Set(ContextUserID, identity.SubjectID)
		c.Set(ContextRole, identity.Role)
		c.Set(ContextIdentity, identity)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func (am *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, c.GetString(ContextRole)) {
			response.Error(c, http.StatusForbidden, response.ErrCodeForbidden, "")
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated subject, or "".
func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}
