package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenAuthenticator validates recruiter tokens.
type TokenAuthenticator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// RequireRecruiterJWT validates a recruiter JWT from the Authorization header
// (or ?token= for EventSource) and rejects revoked tokens.
func RequireRecruiterJWT(authService *service.AuthService) gin.HandlerFunc {
	return requireRecruiter(authService, func(c *gin.Context, claims *service.Claims) error {
		return authService.CheckRevoked(c.Request.Context(), claims)
	})
}

func requireRecruiter(auth TokenAuthenticator, checkRevoked func(*gin.Context, *service.Claims) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := auth.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != service.TokenTypeRecruiter {
			response.AbortFail(c, http.StatusForbidden, response.ErrRecruiterAccessOnly)
			return
		}

		if checkRevoked != nil {
			if err := checkRevoked(c, claims); err != nil {
				if errors.Is(err, service.ErrTokenRevoked) {
					response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRevoked)
					return
				}
				_ = c.Error(fmt.Errorf("revocation check: %w", err))
				response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
				return
			}
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, ok := val.(*service.Claims)
	if !ok {
		return nil
	}
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}

	// Fallback for EventSource (SSE) which cannot send headers
	return c.Query("token")
}
